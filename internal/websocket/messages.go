package websocket

import (
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"riskstream/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы сообщений сервер → клиент
const (
	// MessageTypeInitial - полный снапшот, отправляется один раз при подключении
	MessageTypeInitial MessageType = "initial"

	// MessageTypeUpdate - снапшот очередного тика
	MessageTypeUpdate MessageType = "update"

	// MessageTypeSelection - выбранные стратегии подписчика после toggle
	// Отправляется только подписчику, который переключал
	MessageTypeSelection MessageType = "selection"

	// MessageTypeError - ответ на некорректное сообщение клиента
	MessageTypeError MessageType = "error"
)

// Типы сообщений клиент → сервер
const (
	MessageTypeToggleStrategy MessageType = "toggle_strategy"
	MessageTypeToggle         MessageType = "toggle" // старый формат клиента: {"type":"toggle","data":{"strategyId":N}}
)

// Ошибки разбора входящих сообщений
var (
	ErrMalformedMessage   = errors.New("malformed message")
	ErrUnsupportedMessage = errors.New("unsupported message type")
)

// BaseMessage - базовая структура для всех исходящих сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// SnapshotMessage - сообщение initial/update
//
// Цены и стратегии всегда относятся к одному тику.
type SnapshotMessage struct {
	BaseMessage
	Tick uint64       `json:"tick"`
	Data SnapshotData `json:"data"`
}

// SnapshotData - данные снапшота
type SnapshotData struct {
	Strategies []models.Strategy  `json:"strategies"`
	Prices     map[string]float64 `json:"prices"`
}

// SelectionMessage - текущий набор выбранных стратегий подписчика
type SelectionMessage struct {
	BaseMessage
	Data SelectionData `json:"data"`
}

// SelectionData - данные selection
type SelectionData struct {
	StrategyIDs []int `json:"strategyIds"`
}

// ErrorMessage - уведомление об ошибке в сообщении клиента
type ErrorMessage struct {
	BaseMessage
	Data ErrorData `json:"data"`
}

// ErrorData - данные error
type ErrorData struct {
	Message string `json:"message"`
}

// NewSnapshotMessage создает сообщение initial или update из снапшота
func NewSnapshotMessage(t MessageType, snap *models.Snapshot) *SnapshotMessage {
	return &SnapshotMessage{
		BaseMessage: BaseMessage{Type: t, Timestamp: snap.Timestamp},
		Tick:        snap.Tick,
		Data: SnapshotData{
			Strategies: snap.Strategies,
			Prices:     snap.Prices,
		},
	}
}

// EncodeSnapshot сериализует снапшот в JSON сообщение заданного типа
func EncodeSnapshot(t MessageType, snap *models.Snapshot) ([]byte, error) {
	if snap == nil {
		return nil, errors.New("nil snapshot")
	}
	return json.Marshal(NewSnapshotMessage(t, snap))
}

// EncodeSelection сериализует сообщение selection
func EncodeSelection(ids []int) ([]byte, error) {
	if ids == nil {
		ids = []int{}
	}
	return json.Marshal(&SelectionMessage{
		BaseMessage: BaseMessage{Type: MessageTypeSelection, Timestamp: time.Now().UTC()},
		Data:        SelectionData{StrategyIDs: ids},
	})
}

// EncodeError сериализует сообщение error
func EncodeError(text string) ([]byte, error) {
	return json.Marshal(&ErrorMessage{
		BaseMessage: BaseMessage{Type: MessageTypeError, Timestamp: time.Now().UTC()},
		Data:        ErrorData{Message: text},
	})
}

// Command - разобранная команда клиента
type Command struct {
	Type       MessageType
	StrategyID int
}

// inboundMessage принимает оба формата toggle
type inboundMessage struct {
	Type       MessageType `json:"type"`
	StrategyID *int        `json:"strategyId"`
	Data       *struct {
		StrategyID *int `json:"strategyId"`
	} `json:"data"`
}

// ParseCommand разбирает входящее сообщение клиента
//
// toggle приводится к toggle_strategy.
func ParseCommand(raw []byte) (Command, error) {
	var in inboundMessage
	if err := json.Unmarshal(raw, &in); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch in.Type {
	case MessageTypeToggleStrategy, MessageTypeToggle:
		id := in.StrategyID
		if id == nil && in.Data != nil {
			id = in.Data.StrategyID
		}
		if id == nil {
			return Command{}, fmt.Errorf("%w: %s without strategyId", ErrMalformedMessage, in.Type)
		}
		return Command{Type: MessageTypeToggleStrategy, StrategyID: *id}, nil
	case "":
		return Command{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnsupportedMessage, in.Type)
	}
}
