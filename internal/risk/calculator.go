package risk

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"riskstream/internal/market"
	"riskstream/internal/models"
	"riskstream/pkg/utils"
)

// TradingDaysPerYear - годовая нормировка волатильности
const TradingDaysPerYear = 252

// Уровни доверия VaR
const (
	Confidence95 = 0.95
	Confidence99 = 0.99
)

// ErrUnknownInstrument - для инструмента позиции нет истории цен
var ErrUnknownInstrument = market.ErrUnknownInstrument

// HistorySource - источник цен и истории (market.PriceState)
type HistorySource interface {
	Price(code string) (float64, bool)
	History(code string) ([]float64, error)
}

// InstrumentMetrics - метрики одного инструмента
type InstrumentMetrics struct {
	Volatility  float64
	VaR95       float64
	VaR99       float64
	MaxDrawdown float64
}

// LogReturns возвращает лог-доходности ln(P[k]/P[k-1])
func LogReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, len(prices)-1)
	for k := 1; k < len(prices); k++ {
		out[k-1] = math.Log(prices[k] / prices[k-1])
	}
	return out
}

// Volatility - годовая волатильность: популяционное стандартное отклонение × √252
func Volatility(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	return stat.PopStdDev(returns, nil) * math.Sqrt(TradingDaysPerYear)
}

// ValueAtRisk - |квантиль (1-confidence) доходностей| × текущая цена
func ValueAtRisk(returns []float64, confidence, price float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	return math.Abs(Percentile(sorted, 1-confidence)) * price
}

// Percentile - квантиль p отсортированной выборки с линейной интерполяцией
// между порядковыми статистиками в позиции (n-1)·p
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	h := float64(n-1) * p
	lo := int(math.Floor(h))
	if lo < 0 {
		return sorted[0]
	}
	if lo >= n-1 {
		return sorted[n-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}

// MaxDrawdown - максимальное относительное падение от бегущего пика
func MaxDrawdown(prices []float64) float64 {
	if len(prices) == 0 {
		return 0
	}
	peak := prices[0]
	maxDD := 0.0
	for _, p := range prices {
		if p > peak {
			peak = p
		}
		if dd := (peak - p) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// ComputeInstrument считает метрики по истории цен; текущая цена - последняя в истории
func ComputeInstrument(history []float64) InstrumentMetrics {
	if len(history) < 2 {
		return InstrumentMetrics{}
	}
	returns := LogReturns(history)
	price := history[len(history)-1]
	return InstrumentMetrics{
		Volatility:  Volatility(returns),
		VaR95:       ValueAtRisk(returns, Confidence95, price),
		VaR99:       ValueAtRisk(returns, Confidence99, price),
		MaxDrawdown: MaxDrawdown(history),
	}
}

// Calculator считает метрики стратегий за один тик
//
// Метрики инструментов кэшируются до Reset: несколько стратегий
// с одним инструментом не пересчитывают его историю.
type Calculator struct {
	src   HistorySource
	cache map[string]InstrumentMetrics
}

// NewCalculator создает калькулятор поверх источника цен
func NewCalculator(src HistorySource) *Calculator {
	return &Calculator{
		src:   src,
		cache: make(map[string]InstrumentMetrics),
	}
}

// Reset сбрасывает кэш; вызывается в начале каждого тика
func (c *Calculator) Reset() {
	clear(c.cache)
}

// Instrument возвращает метрики инструмента
func (c *Calculator) Instrument(code string) (InstrumentMetrics, error) {
	if m, ok := c.cache[code]; ok {
		return m, nil
	}
	history, err := c.src.History(code)
	if err != nil {
		if errors.Is(err, ErrUnknownInstrument) {
			return InstrumentMetrics{}, fmt.Errorf("instrument metrics: %w", err)
		}
		return InstrumentMetrics{}, fmt.Errorf("%w: %s: %w", ErrUnknownInstrument, code, err)
	}
	m := ComputeInstrument(history)
	c.cache[code] = m
	return m, nil
}

// Portfolio агрегирует метрики по позициям стратегии
//
// VaR и волатильность - линейная смесь метрик инструментов с весами
// по экспозиции (без учета ковариации). Просадка - максимум по позициям.
// При нулевой экспозиции все метрики нулевые.
func (c *Calculator) Portfolio(positions []models.Position) (models.RiskMetrics, error) {
	exposures := make([]float64, len(positions))
	var95 := make([]float64, len(positions))
	var99 := make([]float64, len(positions))
	vols := make([]float64, len(positions))

	var total, maxDD float64
	for i, pos := range positions {
		code := pos.Instrument.InternalCode
		price, ok := c.src.Price(code)
		if !ok {
			return models.RiskMetrics{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, code)
		}
		m, err := c.Instrument(code)
		if err != nil {
			return models.RiskMetrics{}, err
		}
		exposures[i] = utils.GrossExposure(pos.Quantity, price)
		var95[i], var99[i], vols[i] = m.VaR95, m.VaR99, m.Volatility
		total += exposures[i]
		if m.MaxDrawdown > maxDD {
			maxDD = m.MaxDrawdown
		}
	}

	if total == 0 {
		return models.RiskMetrics{}, nil
	}

	return models.RiskMetrics{
		VaR95:       utils.CalculateWeightedAverage(var95, exposures),
		VaR99:       utils.CalculateWeightedAverage(var99, exposures),
		Volatility:  utils.CalculateWeightedAverage(vols, exposures),
		MaxDrawdown: maxDD,
		Exposure:    total,
		RiskLimit:   models.RiskLimitMultiplier * total,
	}, nil
}
