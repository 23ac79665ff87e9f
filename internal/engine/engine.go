package engine

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"riskstream/internal/market"
	"riskstream/internal/models"
	"riskstream/internal/risk"
	"riskstream/pkg/utils"
)

// Ошибки конфигурации движка (фатальны на старте)
var (
	ErrUnknownInstrument = market.ErrUnknownInstrument
	ErrInvalidSetup      = errors.New("invalid engine setup")
)

// pcgStream - второе слово состояния PCG, seed задает первое
const pcgStream = 0x9e3779b97f4a7c15

// Setup - вселенная инструментов и стратегий
//
// Позиции стратегий ссылаются на инструменты по InternalCode;
// остальные поля инструмента движок заполняет из каталога.
type Setup struct {
	Instruments   []models.Instrument
	InitialPrices map[string]float64
	Params        map[string]models.AssetParams
	Correlation   [][]float64 // в порядке Instruments; nil - без корреляций
	Strategies    []models.Strategy
}

// Config - параметры симуляции
type Config struct {
	HistoryWindow int
	Dt            float64 // шаг в годах; 0 - один торговый день
	Seed          uint64  // 0 - случайный seed
	Generator     market.GeneratorConfig
}

// Engine - владелец состояния симуляции
//
// Тело тика (генератор → переоценка → риск) выполняется под mu целиком.
// Наружу отдаются только неизменяемые снапшоты.
type Engine struct {
	mu          sync.Mutex
	state       *market.PriceState
	gen         *market.Generator
	calc        *risk.Calculator
	strategies  []models.Strategy
	instruments []models.Instrument
	dt          float64
	tick        uint64
	seed        uint64

	snapshot atomic.Pointer[models.Snapshot]
	now      func() time.Time
	log      *utils.Logger
}

// New проверяет конфигурацию и создает движок с начальным снапшотом (tick 0)
func New(setup Setup, cfg Config, logger *utils.Logger) (*Engine, error) {
	if logger == nil {
		logger = utils.L()
	}
	if len(setup.Instruments) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSetup, market.ErrEmptyUniverse)
	}

	codes := make([]string, 0, len(setup.Instruments))
	byCode := make(map[string]models.Instrument, len(setup.Instruments))
	params := make(map[string]models.AssetParams, len(setup.Instruments))
	for _, inst := range setup.Instruments {
		if inst.InternalCode == "" {
			return nil, fmt.Errorf("%w: instrument without internal code", ErrInvalidSetup)
		}
		if _, dup := byCode[inst.InternalCode]; dup {
			return nil, fmt.Errorf("%w: duplicate instrument %s", ErrInvalidSetup, inst.InternalCode)
		}
		p, ok := setup.Params[inst.InternalCode]
		if !ok {
			return nil, fmt.Errorf("%w: no model parameters for %s", ErrInvalidSetup, inst.InternalCode)
		}
		if p.AssetClass == "" {
			p.AssetClass = inst.AssetClass
		}
		codes = append(codes, inst.InternalCode)
		byCode[inst.InternalCode] = inst
		params[inst.InternalCode] = p
	}

	state, err := market.NewPriceState(setup.InitialPrices, codes, cfg.HistoryWindow)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSetup, err)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	gen, err := market.NewGenerator(state, params, setup.Correlation, cfg.Generator, rand.New(rand.NewPCG(seed, seed^pcgStream)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSetup, err)
	}

	strategies, err := prepareStrategies(setup.Strategies, byCode, state)
	if err != nil {
		return nil, err
	}

	dt := cfg.Dt
	if dt <= 0 {
		dt = market.DefaultDt
	}

	e := &Engine{
		state:       state,
		gen:         gen,
		calc:        risk.NewCalculator(state),
		strategies:  strategies,
		instruments: append([]models.Instrument(nil), setup.Instruments...),
		dt:          dt,
		seed:        seed,
		now:         time.Now,
		log:         logger.WithComponent("engine"),
	}

	for i := range e.strategies {
		m, err := e.calc.Portfolio(e.strategies[i].Positions)
		if err != nil {
			return nil, fmt.Errorf("%w: strategy %d: %w", ErrInvalidSetup, e.strategies[i].ID, err)
		}
		e.strategies[i].RiskMetrics = m
	}
	e.snapshot.Store(e.buildSnapshot(state.Prices()))

	e.log.Info("Engine initialized",
		zap.Int("instruments", len(codes)),
		zap.Int("strategies", len(strategies)),
		zap.Uint64("seed", seed),
		zap.Float64("dt", dt),
		zap.Int("history_window", state.Window()),
	)
	return e, nil
}

// prepareStrategies проверяет стратегии и заполняет начальные цены позиций
func prepareStrategies(in []models.Strategy, byCode map[string]models.Instrument, state *market.PriceState) ([]models.Strategy, error) {
	out := make([]models.Strategy, 0, len(in))
	seen := make(map[int]bool, len(in))
	for _, s := range in {
		if seen[s.ID] {
			return nil, fmt.Errorf("%w: duplicate strategy id %d", ErrInvalidSetup, s.ID)
		}
		seen[s.ID] = true

		st := s.Clone()
		st.RiskMetrics = models.RiskMetrics{}
		for i := range st.Positions {
			pos := &st.Positions[i]
			code := pos.Instrument.InternalCode
			inst, ok := byCode[code]
			if !ok {
				return nil, fmt.Errorf("%w: %w: strategy %d references %q", ErrInvalidSetup, ErrUnknownInstrument, s.ID, code)
			}
			if math.IsNaN(pos.Quantity) || math.IsInf(pos.Quantity, 0) {
				return nil, fmt.Errorf("%w: strategy %d %s: quantity %v", ErrInvalidSetup, s.ID, code, pos.Quantity)
			}
			price, _ := state.Price(code)

			pos.Instrument = inst
			pos.OpeningPrice = price
			pos.LastPrice = price
			if pos.EntryPrice <= 0 {
				pos.EntryPrice = price
			}
			pos.DailyPnL = 0
			pos.TotalPnL = 0
			pos.PositionValue = utils.PositionValue(pos.Quantity, price)
		}
		out = append(out, st)
	}
	return out, nil
}

// Tick продвигает симуляцию на один шаг и публикует новый снапшот
//
// При ошибке снапшот не публикуется и стратегии остаются как были;
// подписчики продолжают видеть последний удачный снапшот.
func (e *Engine) Tick() (*models.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prices, err := e.gen.Advance(e.dt)
	if err != nil {
		return nil, fmt.Errorf("advance prices: %w", err)
	}

	e.calc.Reset()
	next := make([]models.Strategy, len(e.strategies))
	for i := range e.strategies {
		s := e.strategies[i].Clone()
		if err := Revalue(&s, prices); err != nil {
			return nil, err
		}
		m, err := e.calc.Portfolio(s.Positions)
		if err != nil {
			return nil, fmt.Errorf("strategy %d risk: %w", s.ID, err)
		}
		s.RiskMetrics = m
		next[i] = s
	}

	e.strategies = next
	e.tick++
	snap := e.buildSnapshot(prices)
	e.snapshot.Store(snap)
	return snap, nil
}

// buildSnapshot делает глубокую копию состояния; вызывается под mu или из New
func (e *Engine) buildSnapshot(prices map[string]float64) *models.Snapshot {
	snap := &models.Snapshot{
		Tick:       e.tick,
		Timestamp:  e.now().UTC(),
		Prices:     make(map[string]float64, len(prices)),
		Strategies: make([]models.Strategy, len(e.strategies)),
	}
	for code, p := range prices {
		snap.Prices[code] = p
	}
	for i := range e.strategies {
		snap.Strategies[i] = e.strategies[i].Clone()
	}
	return snap
}

// Snapshot возвращает последний удачный снапшот; не модифицировать
func (e *Engine) Snapshot() *models.Snapshot {
	return e.snapshot.Load()
}

// Instruments возвращает каталог инструментов
func (e *Engine) Instruments() []models.Instrument {
	out := make([]models.Instrument, len(e.instruments))
	copy(out, e.instruments)
	return out
}

// StrategyIDs возвращает ID всех стратегий
func (e *Engine) StrategyIDs() []int {
	snap := e.Snapshot()
	ids := make([]int, len(snap.Strategies))
	for i, s := range snap.Strategies {
		ids[i] = s.ID
	}
	return ids
}

// Seed возвращает seed генератора (для воспроизведения прогона)
func (e *Engine) Seed() uint64 {
	return e.seed
}
