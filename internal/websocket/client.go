package websocket

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"riskstream/pkg/ratelimit"
	"riskstream/pkg/utils"
)

const (
	// Время ожидания записи сообщения
	writeWait = 10 * time.Second

	// Время ожидания между pong сообщениями
	pongWait = 60 * time.Second

	// Интервал отправки ping сообщений (должен быть меньше pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Максимальный размер входящего сообщения
	// Клиент присылает только toggle, 4KB с запасом
	maxMessageSize = 4096

	// Размер буфера отправки клиента
	clientSendBufferSize = 64

	// Время на регистрацию (доставку initial) нового клиента
	registerTimeout = 5 * time.Second
)

// ErrClientClosed - клиент закрыт, отправка невозможна
var ErrClientClosed = errors.New("client closed")

// ClientConfig - параметры WebSocket клиентов
type ClientConfig struct {
	PingPeriod     time.Duration
	SendBuffer     int
	InboundRate    float64 // сообщений в секунду от одного клиента
	InboundBurst   float64
	AllowedOrigins []string // пусто или "*" - разрешены все
}

// DefaultClientConfig возвращает параметры по умолчанию
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingPeriod:   pingPeriod,
		SendBuffer:   clientSendBufferSize,
		InboundRate:  10,
		InboundBurst: 20,
	}
}

// OriginChecker проверяет Origin с O(1) lookup через map
// Потокобезопасен для чтения после инициализации
type OriginChecker struct {
	allowedOrigins map[string]struct{}
	allowAll       bool
}

// NewOriginChecker создает проверку по списку origin
func NewOriginChecker(origins []string) *OriginChecker {
	checker := &OriginChecker{
		allowedOrigins: make(map[string]struct{}),
	}
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			checker.allowAll = true
			continue
		}
		if origin != "" {
			checker.allowedOrigins[origin] = struct{}{}
		}
	}
	if len(checker.allowedOrigins) == 0 {
		checker.allowAll = true
	}
	return checker
}

// Check проверяет origin за O(1)
func (oc *OriginChecker) Check(origin string) bool {
	if origin == "" {
		return true // Non-browser clients (curl, API tools)
	}
	if oc.allowAll {
		return true
	}
	_, ok := oc.allowedOrigins[origin]
	return ok
}

// Client представляет одно WebSocket соединение
//
// Архитектура:
// Каждый клиент имеет две горутины:
// 1. readPump - читает toggle от клиента и передает в Hub
// 2. writePump - пишет сообщения из буфера send в соединение
//
// Send не пишет в сокет напрямую: сообщение кладется в буфер,
// ожидание ограничено ctx. Переполненный буфер = медленный клиент.
type Client struct {
	id     string
	conn   *websocket.Conn
	hub    *Hub
	remote string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	pingPeriod time.Duration
	limiter    *ratelimit.RateLimiter
	log        *utils.Logger
}

// ID возвращает идентификатор клиента (ULID)
func (c *Client) ID() string {
	return c.id
}

// Send ставит сообщение в очередь отправки
func (c *Client) Send(ctx context.Context, msg []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close завершает writePump; соединение закрывается им же
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

// readPump читает сообщения от клиента
//
// Некорректные сообщения не разрывают соединение.
// При выходе клиент снимается с регистрации.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c.id)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			InboundMessages.WithLabelValues("rate_limited").Inc()
			c.log.Debug("Inbound message rate limited")
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		c.hub.HandleInbound(ctx, c.id, message)
		cancel()
	}
}

// writePump отправляет сообщения клиенту
//
// Одно сообщение = один текстовый фрейм.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("WebSocket write failed", zap.Error(err))
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
				time.Now().Add(time.Second))
			return
		}
	}
}

// Handler - HTTP handler WebSocket endpoint
//
// Использование в routes:
// router.Handle("/ws", websocket.NewHandler(hub, cfg, logger))
type Handler struct {
	hub      *Hub
	cfg      ClientConfig
	upgrader websocket.Upgrader
	log      *utils.Logger
}

// NewHandler создает handler для подключения подписчиков
func NewHandler(hub *Hub, cfg ClientConfig, logger *utils.Logger) *Handler {
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = pingPeriod
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = clientSendBufferSize
	}
	if logger == nil {
		logger = utils.L()
	}
	checker := NewOriginChecker(cfg.AllowedOrigins)
	return &Handler{
		hub: hub,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return checker.Check(r.Header.Get("Origin"))
			},
			EnableCompression: true,
		},
		log: logger.WithComponent("ws"),
	}
}

// ServeHTTP апгрейдит соединение, регистрирует клиента и запускает его горутины
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade error", zap.Error(err), utils.RemoteAddr(r.RemoteAddr))
		return
	}

	id := ulid.Make().String()
	client := &Client{
		id:         id,
		conn:       conn,
		hub:        h.hub,
		remote:     r.RemoteAddr,
		send:       make(chan []byte, h.cfg.SendBuffer),
		done:       make(chan struct{}),
		pingPeriod: h.cfg.PingPeriod,
		log:        h.log.With(utils.SubscriberID(id), utils.RemoteAddr(r.RemoteAddr)),
	}
	if h.cfg.InboundRate > 0 {
		client.limiter = ratelimit.NewRateLimiter(h.cfg.InboundRate, h.cfg.InboundBurst)
	}

	go client.writePump()

	ctx, cancel := context.WithTimeout(context.Background(), registerTimeout)
	defer cancel()
	if err := h.hub.Register(ctx, client); err != nil {
		client.log.Warn("Subscriber registration failed", zap.Error(err))
		return
	}

	go client.readPump()
}
