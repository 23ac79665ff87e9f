package websocket

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"riskstream/internal/models"
	"riskstream/pkg/utils"
)

// DefaultSendTimeout - ограничение ожидания одной отправки подписчику
const DefaultSendTimeout = 2 * time.Second

// maxParallelSends - сколько подписчиков обслуживается одновременно в рассылке
const maxParallelSends = 64

// ErrHubClosed - hub закрыт, регистрация невозможна
var ErrHubClosed = errors.New("hub closed")

// ErrDuplicateSubscriber - подписчик с таким ID уже зарегистрирован
var ErrDuplicateSubscriber = errors.New("subscriber already registered")

// Subscriber - дескриптор одного подписчика
//
// Send должен быть безопасен для конкурентного вызова и уважать ctx.
// Close идемпотентен.
type Subscriber interface {
	ID() string
	Send(ctx context.Context, msg []byte) error
	Close() error
}

// SnapshotSource - источник последнего удачного снапшота (engine.Engine)
type SnapshotSource interface {
	Snapshot() *models.Snapshot
}

// subscription - состояние одного подписчика в реестре
type subscription struct {
	sub      Subscriber
	selected map[int]struct{}
	lastTick uint64 // последний доставленный тик
}

// Hub - реестр подписчиков и рассылка снапшотов
//
// Выбор стратегий хранится отдельно для каждого подписчика и не влияет
// на данные стратегий. Register и рассылка сериализованы publishMu:
// каждый подписчик видит строго возрастающие номера тиков.
type Hub struct {
	publishMu sync.Mutex

	mu     sync.RWMutex
	subs   map[string]*subscription
	closed bool

	source      SnapshotSource
	known       map[int]struct{}
	sendTimeout time.Duration
	log         *utils.Logger
}

// NewHub создает новый Hub
//
// strategyIDs - известные стратегии; toggle неизвестного ID игнорируется.
func NewHub(source SnapshotSource, strategyIDs []int, sendTimeout time.Duration, logger *utils.Logger) *Hub {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	if logger == nil {
		logger = utils.L()
	}
	known := make(map[int]struct{}, len(strategyIDs))
	for _, id := range strategyIDs {
		known[id] = struct{}{}
	}
	return &Hub{
		subs:        make(map[string]*subscription),
		source:      source,
		known:       known,
		sendTimeout: sendTimeout,
		log:         logger.WithComponent("hub"),
	}
}

// send выполняет одну отправку с ограничением по времени
func (h *Hub) send(ctx context.Context, sub Subscriber, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, h.sendTimeout)
	defer cancel()
	return sub.Send(ctx, msg)
}

// Register добавляет подписчика и сразу отправляет ему initial
//
// Если подписчик не зарегистрирован (initial не доставлен, дубль ID,
// hub закрыт), его дескриптор закрывается.
func (h *Hub) Register(ctx context.Context, sub Subscriber) error {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	h.mu.RLock()
	closed := h.closed
	_, dup := h.subs[sub.ID()]
	h.mu.RUnlock()
	if closed {
		sub.Close()
		return ErrHubClosed
	}
	if dup {
		sub.Close()
		return fmt.Errorf("%w: %s", ErrDuplicateSubscriber, sub.ID())
	}

	snap := h.source.Snapshot()
	msg, err := EncodeSnapshot(MessageTypeInitial, snap)
	if err != nil {
		sub.Close()
		return fmt.Errorf("encode initial: %w", err)
	}
	if err := h.send(ctx, sub, msg); err != nil {
		recordSendFailure(MessageTypeInitial)
		sub.Close()
		return fmt.Errorf("send initial: %w", err)
	}

	h.mu.Lock()
	h.subs[sub.ID()] = &subscription{
		sub:      sub,
		selected: make(map[int]struct{}),
		lastTick: snap.Tick,
	}
	count := len(h.subs)
	h.mu.Unlock()

	ActiveSubscribers.Set(float64(count))
	h.log.Info("Subscriber registered",
		utils.SubscriberID(sub.ID()),
		utils.Tick(snap.Tick),
		utils.Subscribers(count),
	)
	return nil
}

// Unregister удаляет подписчика и закрывает его дескриптор
//
// Повторный вызов для отсутствующего подписчика - no-op.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	s, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	count := len(h.subs)
	h.mu.Unlock()

	if !ok {
		return
	}
	s.sub.Close()
	ActiveSubscribers.Set(float64(count))
	h.log.Info("Subscriber unregistered",
		utils.SubscriberID(id),
		utils.Subscribers(count),
	)
}

// Count возвращает количество подписчиков
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Toggle переключает стратегию в наборе выбранных у подписчика
//
// Возвращает новый набор и true, если состояние изменилось.
// Неизвестная стратегия или подписчик - no-op.
func (h *Hub) Toggle(subID string, strategyID int) ([]int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.subs[subID]
	if !ok {
		return nil, false
	}
	if _, known := h.known[strategyID]; !known {
		return selectionOf(s), false
	}
	if _, on := s.selected[strategyID]; on {
		delete(s.selected, strategyID)
	} else {
		s.selected[strategyID] = struct{}{}
	}
	return selectionOf(s), true
}

// Selection возвращает выбранные подписчиком стратегии (по возрастанию ID)
func (h *Hub) Selection(subID string) []int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.subs[subID]
	if !ok {
		return nil
	}
	return selectionOf(s)
}

func selectionOf(s *subscription) []int {
	ids := make([]int, 0, len(s.selected))
	for id := range s.selected {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// BroadcastSnapshot кодирует снапшот один раз и рассылает его как update
//
// Отправки изолированы: ошибка одного подписчика не прерывает рассылку.
// Подписчики с ошибкой удаляются после обхода копии списка.
// Подписчик, уже получивший этот или более поздний тик, пропускается.
func (h *Hub) BroadcastSnapshot(ctx context.Context, snap *models.Snapshot) (delivered, dropped int) {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	msg, err := EncodeSnapshot(MessageTypeUpdate, snap)
	if err != nil {
		h.log.Error("Failed to encode update", zap.Error(err), utils.Tick(snap.Tick))
		return 0, 0
	}

	h.mu.RLock()
	targets := make([]*subscription, 0, len(h.subs))
	for _, s := range h.subs {
		if snap.Tick > s.lastTick {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	var (
		failedMu sync.Mutex
		failed   []string
	)
	var g errgroup.Group
	g.SetLimit(maxParallelSends)
	for _, s := range targets {
		g.Go(func() error {
			if err := h.send(ctx, s.sub, msg); err != nil {
				recordSendFailure(MessageTypeUpdate)
				h.log.Warn("Send failed, dropping subscriber",
					utils.SubscriberID(s.sub.ID()),
					utils.Tick(snap.Tick),
					zap.Error(err),
				)
				failedMu.Lock()
				failed = append(failed, s.sub.ID())
				failedMu.Unlock()
				return nil
			}
			h.mu.Lock()
			s.lastTick = snap.Tick
			h.mu.Unlock()
			return nil
		})
	}
	g.Wait()

	for _, id := range failed {
		h.Unregister(id)
	}
	return len(targets) - len(failed), len(failed)
}

// HandleInbound обрабатывает сообщение клиента
//
// Некорректное сообщение не разрывает соединение: клиенту уходит error.
func (h *Hub) HandleInbound(ctx context.Context, subID string, raw []byte) {
	cmd, err := ParseCommand(raw)
	if err != nil {
		result := "malformed"
		if errors.Is(err, ErrUnsupportedMessage) {
			result = "unsupported"
		}
		InboundMessages.WithLabelValues(result).Inc()
		h.log.Warn("Ignoring client message", utils.SubscriberID(subID), zap.Error(err))
		h.reply(ctx, subID, MessageTypeError, func() ([]byte, error) { return EncodeError(err.Error()) })
		return
	}
	InboundMessages.WithLabelValues("ok").Inc()

	ids, changed := h.Toggle(subID, cmd.StrategyID)
	if !changed {
		h.log.Debug("Toggle ignored", utils.SubscriberID(subID), utils.StrategyID(cmd.StrategyID))
		return
	}
	h.reply(ctx, subID, MessageTypeSelection, func() ([]byte, error) { return EncodeSelection(ids) })
}

// reply отправляет сообщение одному подписчику
func (h *Hub) reply(ctx context.Context, subID string, t MessageType, encode func() ([]byte, error)) {
	h.mu.RLock()
	s, ok := h.subs[subID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	msg, err := encode()
	if err != nil {
		h.log.Error("Failed to encode reply", zap.Error(err), utils.MessageType(string(t)))
		return
	}
	if err := h.send(ctx, s.sub, msg); err != nil {
		recordSendFailure(t)
		h.Unregister(subID)
	}
}

// Close закрывает всех подписчиков и очищает реестр
//
// После Close регистрация возвращает ErrHubClosed.
func (h *Hub) Close() {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	h.mu.Lock()
	h.closed = true
	subs := h.subs
	h.subs = make(map[string]*subscription)
	h.mu.Unlock()

	for _, s := range subs {
		s.sub.Close()
	}
	ActiveSubscribers.Set(0)
	h.log.Info("Hub closed", utils.Subscribers(len(subs)))
}
