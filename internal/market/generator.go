package market

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"riskstream/internal/models"
)

// Значения модели по умолчанию
const (
	// TradingDaysPerYear - торговых дней в году (годовая нормировка)
	TradingDaysPerYear = 252

	// DefaultDt - шаг симуляции: один торговый день на тик
	DefaultDt = 1.0 / TradingDaysPerYear

	// DefaultPriceFloor - минимальная цена: ноль или отрицательная цена
	// ломают расчет лог-доходности на следующем тике
	DefaultPriceFloor = 0.01

	DefaultRiskFreeRate     = 0.02
	DefaultMarketVolatility = 0.18
)

// ErrNonFiniteReturn - доходность получилась NaN/Inf, тик отклоняется без изменений
var ErrNonFiniteReturn = errors.New("non-finite return")

// GeneratorConfig - параметры рынка для генератора
type GeneratorConfig struct {
	RiskFreeRate     float64 // годовая безрисковая ставка
	MarketVolatility float64 // годовая волатильность рыночного фактора
	PriceFloor       float64
}

// DefaultGeneratorConfig возвращает конфигурацию по умолчанию
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		RiskFreeRate:     DefaultRiskFreeRate,
		MarketVolatility: DefaultMarketVolatility,
		PriceFloor:       DefaultPriceFloor,
	}
}

// Generator - коррелированный многофакторный генератор цен
//
// Модель на тик для инструмента i:
//
//	r_i = rf·dt + κ_i(μ_i − r_prev)·dt + β_i·M + ε_i + J_i + adj_i
//	P_i = max(P_i·exp(r_i), floor)
//
// M ~ N(0, σ_m·√dt) - общий рыночный шок,
// ε ~ MVN(0, C ⊙ σσᵗ · dt) - идиосинкратический вектор (через фактор Холецкого),
// J_i - прыжок с вероятностью p_i, adj_i - поправка класса актива.
//
// Детерминирован при заданном источнике случайности. Не потокобезопасен:
// Advance вызывается только из тела тика под блокировкой движка.
type Generator struct {
	cfg       GeneratorConfig
	state     *PriceState
	params    []models.AssetParams // в порядке state.codes
	factor    *mat.TriDense        // Холецкий для ковариации на единицу времени
	adjusters Adjusters
	rng       *rand.Rand

	simTime float64
	steps   uint64
}

// NewGenerator создает генератор поверх состояния цен
//
// params должен содержать запись для каждого инструмента состояния,
// correlation - матрица в порядке state.Codes().
func NewGenerator(
	state *PriceState,
	params map[string]models.AssetParams,
	correlation [][]float64,
	cfg GeneratorConfig,
	rng *rand.Rand,
) (*Generator, error) {
	if state == nil {
		return nil, ErrEmptyUniverse
	}
	if rng == nil {
		return nil, errors.New("random source is required")
	}
	if cfg.PriceFloor <= 0 {
		cfg.PriceFloor = DefaultPriceFloor
	}
	if cfg.MarketVolatility < 0 {
		return nil, fmt.Errorf("market volatility cannot be negative, got %v", cfg.MarketVolatility)
	}

	n := len(state.codes)
	ordered := make([]models.AssetParams, n)
	vols := make([]float64, n)
	for i, code := range state.codes {
		p, ok := params[code]
		if !ok {
			return nil, fmt.Errorf("%w: no model parameters for %s", ErrUnknownInstrument, code)
		}
		if err := validateParams(code, p); err != nil {
			return nil, err
		}
		ordered[i] = p
		vols[i] = p.BaseVolatility
	}

	if correlation == nil {
		correlation = IdentityCorrelation(n)
	}
	if err := ValidateCorrelation(correlation, n); err != nil {
		return nil, err
	}
	factor, err := covarianceFactor(correlation, vols)
	if err != nil {
		return nil, err
	}

	return &Generator{
		cfg:       cfg,
		state:     state,
		params:    ordered,
		factor:    factor,
		adjusters: DefaultAdjusters(),
		rng:       rng,
	}, nil
}

// validateParams проверяет параметры модели одного инструмента
func validateParams(code string, p models.AssetParams) error {
	switch {
	case p.BaseVolatility < 0:
		return fmt.Errorf("%s: base volatility cannot be negative, got %v", code, p.BaseVolatility)
	case p.JumpProbability < 0 || p.JumpProbability > 1:
		return fmt.Errorf("%s: jump probability must be in [0, 1], got %v", code, p.JumpProbability)
	case p.JumpScale < 0:
		return fmt.Errorf("%s: jump scale cannot be negative, got %v", code, p.JumpScale)
	case p.ReversionSpeed < 0:
		return fmt.Errorf("%s: reversion speed cannot be negative, got %v", code, p.ReversionSpeed)
	}
	return nil
}

// SetAdjuster заменяет поправку для класса актива
func (g *Generator) SetAdjuster(class models.AssetClass, fn Adjuster) {
	g.adjusters[class] = fn
}

// State возвращает состояние цен, которое двигает генератор
func (g *Generator) State() *PriceState {
	return g.state
}

// SimTime возвращает накопленное время симуляции в годах
func (g *Generator) SimTime() float64 {
	return g.simTime
}

// Steps возвращает количество успешных шагов
func (g *Generator) Steps() uint64 {
	return g.steps
}

// Advance продвигает все цены на шаг dt (в годах) и возвращает новые цены
//
// Сначала считаются все доходности; если хоть одна не конечна,
// возвращается ошибка и состояние не меняется. Иначе PriceState
// обновляется ровно один раз.
func (g *Generator) Advance(dt float64) (map[string]float64, error) {
	if !(dt > 0) || math.IsInf(dt, 0) {
		return nil, fmt.Errorf("dt must be positive, got %v", dt)
	}
	n := len(g.state.codes)
	sqrtDt := math.Sqrt(dt)

	// 1. Общий рыночный шок
	market := g.cfg.MarketVolatility * sqrtDt * g.rng.NormFloat64()

	// 2. Коррелированный идиосинкратический вектор: ε = L·z·√dt
	z := make([]float64, n)
	for i := range z {
		z[i] = g.rng.NormFloat64()
	}
	var eps mat.VecDense
	eps.MulVec(g.factor, mat.NewVecDense(n, z))
	eps.ScaleVec(sqrtDt, &eps)

	prices := make([]float64, n)
	returns := make([]float64, n)
	for i, code := range g.state.codes {
		p := g.params[i]
		lastReturn := g.state.lastReturn[i]

		// 3. Возврат к среднему
		meanRev := p.ReversionSpeed * (p.LongTermMean - lastReturn) * dt

		// 4. CAPM
		capm := p.Beta * market

		// 5. Прыжок
		jump := 0.0
		if p.JumpProbability > 0 && g.rng.Float64() < p.JumpProbability {
			jump = p.JumpScale * g.rng.NormFloat64()
		}

		// 6. Поправка класса актива
		adj := g.adjusters.For(p.AssetClass)(AdjustInput{
			Code:       code,
			Params:     p,
			Trailing:   g.state.history[i].Tail(momentumLookback + 1),
			LastReturn: lastReturn,
			SimTime:    g.simTime,
			Dt:         dt,
		})

		// 7. Итоговая лог-доходность
		r := g.cfg.RiskFreeRate*dt + meanRev + capm + eps.AtVec(i) + jump + adj
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return nil, fmt.Errorf("%w: %s", ErrNonFiniteReturn, code)
		}

		// 8. Новая цена с нижней границей
		price := g.state.prices[i] * math.Exp(r)
		if math.IsInf(price, 0) {
			return nil, fmt.Errorf("%w: %s price overflow", ErrNonFiniteReturn, code)
		}
		if !(price >= g.cfg.PriceFloor) {
			price = g.cfg.PriceFloor
		}

		prices[i] = price
		returns[i] = r
	}

	// 9-10. История и последняя доходность
	g.state.apply(prices, returns)
	g.simTime += dt
	g.steps++

	out := make(map[string]float64, n)
	for i, code := range g.state.codes {
		out[code] = prices[i]
	}
	return out, nil
}
