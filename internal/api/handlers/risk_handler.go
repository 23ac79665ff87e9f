package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"riskstream/internal/engine"
	"riskstream/internal/models"
)

// SnapshotReader - последний удачный снапшот и каталог (engine.Engine)
type SnapshotReader interface {
	Snapshot() *models.Snapshot
	Instruments() []models.Instrument
	Seed() uint64
}

// SchedulerStatus - состояние цикла тиков (engine.Scheduler)
type SchedulerStatus interface {
	State() string
	Interval() time.Duration
}

// SubscriberCounter - число подключенных подписчиков (websocket.Hub)
type SubscriberCounter interface {
	Count() int
}

// RiskHandler отдает read-only срез состояния симуляции
//
//   - GET /api/v1/strategies       - все стратегии последнего тика
//   - GET /api/v1/strategies/{id}  - одна стратегия
//   - GET /api/v1/prices           - текущие цены
//   - GET /api/v1/instruments      - каталог инструментов
//   - GET /api/v1/engine           - состояние движка
//
// Все ответы строятся из одного снапшота: цены и метрики согласованы по тику.
type RiskHandler struct {
	engine    SnapshotReader
	scheduler SchedulerStatus
	hub       SubscriberCounter
}

// NewRiskHandler создает handler; scheduler и hub могут быть nil
func NewRiskHandler(engine SnapshotReader, scheduler SchedulerStatus, hub SubscriberCounter) *RiskHandler {
	return &RiskHandler{engine: engine, scheduler: scheduler, hub: hub}
}

// StrategiesResponse - ответ GET /strategies
type StrategiesResponse struct {
	Tick       uint64            `json:"tick"`
	Timestamp  time.Time         `json:"timestamp"`
	Strategies []models.Strategy `json:"strategies"`
}

// StrategyResponse - ответ GET /strategies/{id}
type StrategyResponse struct {
	Tick      uint64          `json:"tick"`
	Timestamp time.Time       `json:"timestamp"`
	Strategy  models.Strategy `json:"strategy"`
}

// PricesResponse - ответ GET /prices
type PricesResponse struct {
	Tick      uint64             `json:"tick"`
	Timestamp time.Time          `json:"timestamp"`
	Prices    map[string]float64 `json:"prices"`
}

// EngineResponse - ответ GET /engine
type EngineResponse struct {
	State       string    `json:"state"`
	StateInfo   string    `json:"stateInfo,omitempty"`
	Tick        uint64    `json:"tick"`
	LastTickAt  time.Time `json:"lastTickAt"`
	Seed        uint64    `json:"seed"`
	IntervalMs  int64     `json:"intervalMs"`
	Subscribers int       `json:"subscribers"`
	Instruments int       `json:"instruments"`
	Strategies  int       `json:"strategies"`
}

// GetStrategies возвращает все стратегии
// GET /api/v1/strategies
func (h *RiskHandler) GetStrategies(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()
	respondJSON(w, http.StatusOK, StrategiesResponse{
		Tick:       snap.Tick,
		Timestamp:  snap.Timestamp,
		Strategies: snap.Strategies,
	})
}

// GetStrategy возвращает стратегию по ID
// GET /api/v1/strategies/{id}
func (h *RiskHandler) GetStrategy(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "strategy id must be an integer")
		return
	}

	snap := h.engine.Snapshot()
	s, ok := snap.Strategy(id)
	if !ok {
		respondError(w, http.StatusNotFound, "not_found", "strategy not found")
		return
	}
	respondJSON(w, http.StatusOK, StrategyResponse{Tick: snap.Tick, Timestamp: snap.Timestamp, Strategy: s})
}

// GetPrices возвращает текущие цены
// GET /api/v1/prices
func (h *RiskHandler) GetPrices(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()
	respondJSON(w, http.StatusOK, PricesResponse{Tick: snap.Tick, Timestamp: snap.Timestamp, Prices: snap.Prices})
}

// GetInstruments возвращает каталог инструментов
// GET /api/v1/instruments
func (h *RiskHandler) GetInstruments(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.engine.Instruments())
}

// GetEngine возвращает состояние движка и планировщика
// GET /api/v1/engine
func (h *RiskHandler) GetEngine(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()
	resp := EngineResponse{
		Tick:        snap.Tick,
		LastTickAt:  snap.Timestamp,
		Seed:        h.engine.Seed(),
		Instruments: len(snap.Prices),
		Strategies:  len(snap.Strategies),
	}
	if h.scheduler != nil {
		resp.State = h.scheduler.State()
		resp.StateInfo = engine.StateInfo(resp.State)
		resp.IntervalMs = h.scheduler.Interval().Milliseconds()
	}
	if h.hub != nil {
		resp.Subscribers = h.hub.Count()
	}
	respondJSON(w, http.StatusOK, resp)
}

// Health - liveness и простая проверка готовности
// GET /health
//
// 503, если планировщик остановлен.
func (h *RiskHandler) Health(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()
	status, code := "ok", http.StatusOK
	if h.scheduler != nil && h.scheduler.State() == engine.StateStopped {
		status, code = "stopped", http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]interface{}{
		"status": status,
		"tick":   snap.Tick,
	})
}
