package engine

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"riskstream/internal/models"
)

// ============================================================
// Prometheus метрики движка симуляции
// ============================================================

// TickLatency - длительность тела тика (генератор → переоценка → риск)
var TickLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "riskstream",
		Subsystem: "engine",
		Name:      "tick_latency_ms",
		Help:      "Time to compute one simulation tick in milliseconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 25},
	},
)

// BroadcastLatency - время рассылки снапшота всем подписчикам
var BroadcastLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "riskstream",
		Subsystem: "engine",
		Name:      "broadcast_latency_ms",
		Help:      "Time to deliver one snapshot to all subscribers in milliseconds",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000},
	},
)

// TicksTotal - количество тиков по результату
var TicksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskstream",
		Subsystem: "engine",
		Name:      "ticks_total",
		Help:      "Total number of ticks by result",
	},
	[]string{"result"}, // ok, error, panic
)

// InstrumentPrice - текущая цена инструмента
var InstrumentPrice = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "riskstream",
		Subsystem: "market",
		Name:      "instrument_price",
		Help:      "Current simulated instrument price",
	},
	[]string{"instrument"},
)

// StrategyExposure - экспозиция стратегии
var StrategyExposure = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "riskstream",
		Subsystem: "risk",
		Name:      "strategy_exposure",
		Help:      "Gross exposure of a strategy",
	},
	[]string{"strategy"},
)

// StrategyVaR95 - VaR95 стратегии
var StrategyVaR95 = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "riskstream",
		Subsystem: "risk",
		Name:      "strategy_var95",
		Help:      "Exposure-weighted 95% VaR of a strategy",
	},
	[]string{"strategy"},
)

// SchedulerState - текущее состояние планировщика (1 для активного)
var SchedulerState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "riskstream",
		Subsystem: "engine",
		Name:      "scheduler_state",
		Help:      "Scheduler state (1 = current)",
	},
	[]string{"state"},
)

// ============ Вспомогательные функции ============

// RecordTick записывает результат тика
func RecordTick(result string, latencyMs float64) {
	TicksTotal.WithLabelValues(result).Inc()
	if result == "ok" {
		TickLatency.Observe(latencyMs)
	}
}

// RecordSnapshot обновляет gauges по опубликованному снапшоту
func RecordSnapshot(snap *models.Snapshot) {
	for code, p := range snap.Prices {
		InstrumentPrice.WithLabelValues(code).Set(p)
	}
	for _, s := range snap.Strategies {
		id := strconv.Itoa(s.ID)
		StrategyExposure.WithLabelValues(id).Set(s.RiskMetrics.Exposure)
		StrategyVaR95.WithLabelValues(id).Set(s.RiskMetrics.VaR95)
	}
}

// UpdateSchedulerState выставляет gauge состояния
func UpdateSchedulerState(state string) {
	for _, s := range []string{StateIdle, StateTicking, StateStopped} {
		v := 0.0
		if s == state {
			v = 1
		}
		SchedulerState.WithLabelValues(s).Set(v)
	}
}
