package market

import (
	"math"

	"riskstream/internal/models"
)

// Параметры поправок по классам активов
const (
	// momentumLookback - число последних доходностей для momentum
	momentumLookback = 20
	// momentumWeight - доля средней доходности, переносимая в следующий тик
	momentumWeight = 0.1

	// seasonalAmplitude - годовая амплитуда сезонной составляющей
	seasonalAmplitude = 0.05
	// seasonalPeriod - период сезонности в годах симуляции
	seasonalPeriod = 1.0

	// defensiveDamping - доля последней доходности, которая гасится
	defensiveDamping = 0.1
)

// AdjustInput - данные, доступные поправке класса актива
type AdjustInput struct {
	Code       string
	Params     models.AssetParams
	Trailing   []float64 // последние цены, от старых к новым
	LastReturn float64
	SimTime    float64 // время симуляции в годах
	Dt         float64
}

// Adjuster - поправка к лог-доходности для класса актива
type Adjuster func(in AdjustInput) float64

// Adjusters - таблица поправок по тегу класса
type Adjusters map[models.AssetClass]Adjuster

// DefaultAdjusters возвращает стандартную таблицу поправок
func DefaultAdjusters() Adjusters {
	return Adjusters{
		models.AssetClassGrowth:    MomentumAdjuster,
		models.AssetClassCyclical:  SeasonalAdjuster,
		models.AssetClassDefensive: DefensiveAdjuster,
	}
}

// For возвращает поправку для класса; для неизвестного класса - no-op
func (a Adjusters) For(class models.AssetClass) Adjuster {
	if fn, ok := a[class]; ok && fn != nil {
		return fn
	}
	return NoAdjustment
}

// NoAdjustment - поправка по умолчанию
func NoAdjustment(AdjustInput) float64 {
	return 0
}

// MomentumAdjuster продолжает тренд: доля средней лог-доходности
// за последние momentumLookback тиков
func MomentumAdjuster(in AdjustInput) float64 {
	n := len(in.Trailing)
	if n < 2 {
		return 0
	}
	first, last := in.Trailing[0], in.Trailing[n-1]
	if first <= 0 || last <= 0 {
		return 0
	}
	avg := math.Log(last/first) / float64(n-1)
	return momentumWeight * avg
}

// SeasonalAdjuster - синусоидальная сезонная составляющая по времени симуляции
func SeasonalAdjuster(in AdjustInput) float64 {
	return seasonalAmplitude * math.Sin(2*math.Pi*in.SimTime/seasonalPeriod) * in.Dt
}

// DefensiveAdjuster частично гасит последнее движение
func DefensiveAdjuster(in AdjustInput) float64 {
	return -defensiveDamping * in.LastReturn
}
