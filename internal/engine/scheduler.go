package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"riskstream/internal/models"
	"riskstream/pkg/utils"
)

// DefaultTickInterval - интервал тиков по умолчанию
const DefaultTickInterval = time.Second

// ErrSchedulerStopped - планировщик уже остановлен
var ErrSchedulerStopped = errors.New("scheduler stopped")

// Broadcaster - интерфейс рассылки снапшотов подписчикам
//
// Реализуется пакетом internal/websocket/Hub
type Broadcaster interface {
	// BroadcastSnapshot кодирует снапшот один раз и отправляет всем подписчикам.
	// Подписчики с ошибкой отправки удаляются из реестра.
	BroadcastSnapshot(ctx context.Context, snap *models.Snapshot) (delivered, dropped int)

	// Close закрывает все подписки и очищает реестр
	Close()
}

// SnapshotSink - получатель опубликованных снапшотов (журнал и т.п.)
// Publish не должен блокировать тик.
type SnapshotSink interface {
	Publish(snap *models.Snapshot)
}

// Scheduler - цикл тиков: расчет снапшота и рассылка
//
// Состояния: IDLE → TICKING → IDLE, терминальное STOPPED.
// Ошибка или паника тика не останавливает цикл: рассылка пропускается,
// подписчики видят последний удачный снапшот.
type Scheduler struct {
	engine   *Engine
	hub      Broadcaster
	sinks    []SnapshotSink
	interval time.Duration
	log      *utils.Logger

	stateMu sync.RWMutex
	state   string

	tickMu   sync.Mutex // один тик одновременно; Shutdown ждет текущий
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewScheduler создает планировщик
func NewScheduler(e *Engine, hub Broadcaster, interval time.Duration, logger *utils.Logger, sinks ...SnapshotSink) *Scheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if logger == nil {
		logger = utils.L()
	}
	UpdateSchedulerState(StateIdle)
	return &Scheduler{
		engine:   e,
		hub:      hub,
		sinks:    sinks,
		interval: interval,
		log:      logger.WithComponent("scheduler"),
		state:    StateIdle,
		stopCh:   make(chan struct{}),
	}
}

// State возвращает текущее состояние планировщика
func (s *Scheduler) State() string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Interval возвращает интервал тиков
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

func (s *Scheduler) transition(to string) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if !CanTransition(s.state, to) {
		return false
	}
	s.state = to
	UpdateSchedulerState(to)
	return true
}

// Run выполняет тики с заданным интервалом до отмены ctx или Shutdown
//
// При выходе выполняет Shutdown: закрывает подписчиков.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer s.Shutdown()

	s.log.Info("Scheduler started", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stopCh:
			return nil
		case <-ticker.C:
			if err := s.RunOnce(ctx); errors.Is(err, ErrSchedulerStopped) {
				return nil
			}
		}
	}
}

// RunOnce выполняет один тик: движок → журнал → рассылка
//
// Возвращает ошибку тика (уже залогированную); рассылка при ней не выполняется.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	if !s.transition(StateTicking) {
		return ErrSchedulerStopped
	}
	defer s.transition(StateIdle)

	start := time.Now()
	snap, err := s.safeTick()
	latencyMs := float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		last := s.engine.Snapshot()
		s.log.Error("Tick failed, keeping last snapshot",
			zap.Error(err),
			utils.Tick(last.Tick),
		)
		return err
	}
	RecordTick("ok", latencyMs)
	RecordSnapshot(snap)

	for _, sink := range s.sinks {
		sink.Publish(snap)
	}

	if s.hub == nil {
		return nil
	}

	// Тик не прерывается на середине: отмена ctx не обрывает рассылку,
	// время ограничено таймаутами отправки хаба
	bctx := context.WithoutCancel(ctx)
	start = time.Now()
	delivered, dropped := s.hub.BroadcastSnapshot(bctx, snap)
	BroadcastLatency.Observe(float64(time.Since(start).Microseconds()) / 1000)

	if dropped > 0 {
		s.log.Warn("Subscribers dropped during broadcast",
			utils.Tick(snap.Tick),
			zap.Int("delivered", delivered),
			zap.Int("dropped", dropped),
		)
	} else {
		s.log.Debug("Tick broadcast",
			utils.Tick(snap.Tick),
			utils.Subscribers(delivered),
			utils.Latency(latencyMs),
		)
	}
	return nil
}

// safeTick выполняет тик движка, превращая панику в ошибку
func (s *Scheduler) safeTick() (snap *models.Snapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			RecordTick("panic", 0)
			snap, err = nil, fmt.Errorf("tick panic: %v", r)
		}
	}()

	snap, err = s.engine.Tick()
	if err != nil {
		RecordTick("error", 0)
	}
	return snap, err
}

// Shutdown останавливает тики, ждет текущий тик и закрывает всех подписчиков
//
// Идемпотентен.
func (s *Scheduler) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.stopCh)

		s.tickMu.Lock()
		defer s.tickMu.Unlock()

		s.transition(StateStopped)
		if s.hub != nil {
			s.hub.Close()
		}
		s.log.Info("Scheduler stopped")
	})
}
