package market

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"riskstream/internal/models"
)

func testParams() map[string]models.AssetParams {
	return map[string]models.AssetParams{
		"AAPL": {BaseVolatility: 0.30, ReversionSpeed: 0.5, LongTermMean: 0.0004, JumpProbability: 0.02, JumpScale: 0.03, Beta: 1.2, AssetClass: models.AssetClassGrowth},
		"MSFT": {BaseVolatility: 0.25, ReversionSpeed: 0.5, LongTermMean: 0.0003, JumpProbability: 0.01, JumpScale: 0.02, Beta: 1.1, AssetClass: models.AssetClassDefensive},
		"XOM":  {BaseVolatility: 0.35, ReversionSpeed: 0.8, LongTermMean: 0.0001, JumpProbability: 0.03, JumpScale: 0.04, Beta: 0.9, AssetClass: models.AssetClassCyclical},
	}
}

func testCorrelation() [][]float64 {
	return [][]float64{
		{1.0, 0.7, 0.2},
		{0.7, 1.0, 0.1},
		{0.2, 0.1, 1.0},
	}
}

func newTestGenerator(t *testing.T, seed uint64) *Generator {
	t.Helper()
	state, err := NewPriceState(
		map[string]float64{"AAPL": 180, "MSFT": 350, "XOM": 110},
		[]string{"AAPL", "MSFT", "XOM"},
		100,
	)
	require.NoError(t, err)

	gen, err := NewGenerator(state, testParams(), testCorrelation(), DefaultGeneratorConfig(), rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
	require.NoError(t, err)
	return gen
}

func TestGenerator_DeterministicForSeed(t *testing.T) {
	a := newTestGenerator(t, 42)
	b := newTestGenerator(t, 42)

	var first map[string]float64
	for step := 0; step < 2; step++ {
		pa, err := a.Advance(DefaultDt)
		require.NoError(t, err)
		pb, err := b.Advance(DefaultDt)
		require.NoError(t, err)
		assert.Equal(t, pa, pb, "step %d must be reproducible for the same seed", step)
		if step == 0 {
			first = pa
		}
	}

	c := newTestGenerator(t, 7)
	pc, err := c.Advance(DefaultDt)
	require.NoError(t, err)
	assert.NotEqual(t, first, pc)
}

func TestGenerator_PriceFloorHolds(t *testing.T) {
	state, err := NewPriceState(map[string]float64{"PENNY": 0.05}, nil, 50)
	require.NoError(t, err)

	params := map[string]models.AssetParams{
		"PENNY": {BaseVolatility: 3.0, JumpProbability: 0.5, JumpScale: 2.0, Beta: 2},
	}
	cfg := DefaultGeneratorConfig()
	cfg.PriceFloor = 0.01
	gen, err := NewGenerator(state, params, nil, cfg, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)

	for i := 0; i < 2000; i++ {
		prices, err := gen.Advance(DefaultDt)
		require.NoError(t, err)
		p := prices["PENNY"]
		require.Greater(t, p, 0.0)
		require.GreaterOrEqual(t, p, cfg.PriceFloor)
	}
	assert.LessOrEqual(t, state.HistoryLen("PENNY"), 50)
}

func TestGenerator_HistoryBoundedAndLastReturnRecorded(t *testing.T) {
	gen := newTestGenerator(t, 3)
	state := gen.State()

	var prev float64
	for i := 0; i < 250; i++ {
		prev, _ = state.Price("AAPL")
		_, err := gen.Advance(DefaultDt)
		require.NoError(t, err)
	}

	assert.Equal(t, 100, state.HistoryLen("AAPL"))
	cur, _ := state.Price("AAPL")
	assert.InDelta(t, math.Log(cur/prev), state.LastReturn("AAPL"), 1e-12)
	assert.Equal(t, uint64(250), gen.Steps())
	assert.InDelta(t, 250*DefaultDt, gen.SimTime(), 1e-12)
}

func TestGenerator_CorrelationStructure(t *testing.T) {
	state, err := NewPriceState(map[string]float64{"A": 100, "B": 100, "C": 100}, []string{"A", "B", "C"}, 10)
	require.NoError(t, err)

	params := map[string]models.AssetParams{
		"A": {BaseVolatility: 0.3},
		"B": {BaseVolatility: 0.3},
		"C": {BaseVolatility: 0.3},
	}
	corr := [][]float64{
		{1.0, 0.9, 0.0},
		{0.9, 1.0, 0.0},
		{0.0, 0.0, 1.0},
	}
	cfg := GeneratorConfig{RiskFreeRate: 0, MarketVolatility: 0, PriceFloor: DefaultPriceFloor}
	gen, err := NewGenerator(state, params, corr, cfg, rand.New(rand.NewPCG(11, 12)))
	require.NoError(t, err)

	const n = 4000
	ra, rb, rc := make([]float64, n), make([]float64, n), make([]float64, n)
	for i := 0; i < n; i++ {
		_, err := gen.Advance(DefaultDt)
		require.NoError(t, err)
		ra[i] = state.LastReturn("A")
		rb[i] = state.LastReturn("B")
		rc[i] = state.LastReturn("C")
	}

	sameSector := stat.Correlation(ra, rb, nil)
	crossSector := stat.Correlation(ra, rc, nil)
	assert.Greater(t, sameSector, 0.8)
	assert.Less(t, math.Abs(crossSector), 0.1)
}

func TestGenerator_NonFiniteReturnLeavesStateUntouched(t *testing.T) {
	gen := newTestGenerator(t, 5)
	state := gen.State()
	before := state.Prices()
	historyBefore := state.HistoryLen("MSFT")

	gen.SetAdjuster(models.AssetClassDefensive, func(AdjustInput) float64 { return math.NaN() })

	_, err := gen.Advance(DefaultDt)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNonFiniteReturn))
	assert.Equal(t, before, state.Prices())
	assert.Equal(t, historyBefore, state.HistoryLen("MSFT"))
	assert.Equal(t, uint64(0), gen.Steps())
}

func TestGenerator_RejectsInvalidDt(t *testing.T) {
	gen := newTestGenerator(t, 1)
	for _, dt := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err := gen.Advance(dt)
		assert.Error(t, err, "dt=%v", dt)
	}
}

func TestNewGenerator_ConfigurationErrors(t *testing.T) {
	newState := func() *PriceState {
		s, err := NewPriceState(map[string]float64{"AAPL": 180, "MSFT": 350, "XOM": 110}, []string{"AAPL", "MSFT", "XOM"}, 10)
		require.NoError(t, err)
		return s
	}
	rng := rand.New(rand.NewPCG(1, 1))

	t.Run("missing params", func(t *testing.T) {
		params := testParams()
		delete(params, "XOM")
		_, err := NewGenerator(newState(), params, testCorrelation(), DefaultGeneratorConfig(), rng)
		assert.ErrorIs(t, err, ErrUnknownInstrument)
	})

	t.Run("not positive semi-definite", func(t *testing.T) {
		corr := [][]float64{
			{1.0, 0.9, -0.9},
			{0.9, 1.0, 0.9},
			{-0.9, 0.9, 1.0},
		}
		_, err := NewGenerator(newState(), testParams(), corr, DefaultGeneratorConfig(), rng)
		assert.ErrorIs(t, err, ErrCorrelationNotPSD)
	})

	t.Run("wrong shape", func(t *testing.T) {
		_, err := NewGenerator(newState(), testParams(), IdentityCorrelation(2), DefaultGeneratorConfig(), rng)
		assert.ErrorIs(t, err, ErrCorrelationShape)
	})

	t.Run("asymmetric", func(t *testing.T) {
		corr := testCorrelation()
		corr[0][1] = 0.5
		_, err := NewGenerator(newState(), testParams(), corr, DefaultGeneratorConfig(), rng)
		assert.ErrorIs(t, err, ErrCorrelationInvalid)
	})

	t.Run("bad jump probability", func(t *testing.T) {
		params := testParams()
		p := params["AAPL"]
		p.JumpProbability = 1.5
		params["AAPL"] = p
		_, err := NewGenerator(newState(), params, testCorrelation(), DefaultGeneratorConfig(), rng)
		assert.Error(t, err)
	})

	t.Run("nil rng", func(t *testing.T) {
		_, err := NewGenerator(newState(), testParams(), testCorrelation(), DefaultGeneratorConfig(), nil)
		assert.Error(t, err)
	})
}

func TestNewGenerator_SingularButPSDCorrelation(t *testing.T) {
	state, err := NewPriceState(map[string]float64{"A": 10, "B": 20}, []string{"A", "B"}, 10)
	require.NoError(t, err)
	params := map[string]models.AssetParams{
		"A": {BaseVolatility: 0.2},
		"B": {BaseVolatility: 0.2},
	}
	corr := [][]float64{{1, 1}, {1, 1}}

	gen, err := NewGenerator(state, params, corr, DefaultGeneratorConfig(), rand.New(rand.NewPCG(2, 3)))
	require.NoError(t, err)
	_, err = gen.Advance(DefaultDt)
	require.NoError(t, err)

	// |ρ| = 1: доходности практически совпадают
	assert.InDelta(t, state.LastReturn("A"), state.LastReturn("B"), 1e-4)
}

func TestGenerator_ZeroVolatilityIsExact(t *testing.T) {
	state, err := NewPriceState(map[string]float64{"A": 100, "B": 50}, []string{"A", "B"}, 10)
	require.NoError(t, err)
	params := map[string]models.AssetParams{
		"A": {BaseVolatility: 0.4},
		"B": {},
	}
	cfg := GeneratorConfig{RiskFreeRate: 0.02, MarketVolatility: 0.18, PriceFloor: DefaultPriceFloor}
	gen, err := NewGenerator(state, params, [][]float64{{1, 0.5}, {0.5, 1}}, cfg, rand.New(rand.NewPCG(4, 5)))
	require.NoError(t, err)

	prices, err := gen.Advance(DefaultDt)
	require.NoError(t, err)
	assert.Equal(t, 50*math.Exp(0.02*DefaultDt), prices["B"])
	assert.NotEqual(t, 100.0, prices["A"])
}

func TestAdjusters(t *testing.T) {
	adj := DefaultAdjusters()

	t.Run("unknown class is no-op", func(t *testing.T) {
		fn := adj.For(models.AssetClass("commodity"))
		assert.Equal(t, 0.0, fn(AdjustInput{LastReturn: 0.5, Dt: DefaultDt}))
	})

	t.Run("momentum follows trend", func(t *testing.T) {
		up := MomentumAdjuster(AdjustInput{Trailing: []float64{100, 101, 102, 103}})
		down := MomentumAdjuster(AdjustInput{Trailing: []float64{103, 102, 101, 100}})
		assert.Greater(t, up, 0.0)
		assert.Less(t, down, 0.0)
		assert.InDelta(t, momentumWeight*math.Log(103.0/100.0)/3, up, 1e-15)
		assert.Equal(t, 0.0, MomentumAdjuster(AdjustInput{Trailing: []float64{100}}))
	})

	t.Run("seasonal is periodic", func(t *testing.T) {
		a := SeasonalAdjuster(AdjustInput{SimTime: 0.25, Dt: DefaultDt})
		b := SeasonalAdjuster(AdjustInput{SimTime: 1.25, Dt: DefaultDt})
		assert.InDelta(t, a, b, 1e-12)
		assert.InDelta(t, seasonalAmplitude*DefaultDt, a, 1e-12)
	})

	t.Run("defensive dampens", func(t *testing.T) {
		assert.InDelta(t, -defensiveDamping*0.02, DefensiveAdjuster(AdjustInput{LastReturn: 0.02}), 1e-15)
	})
}

func TestNewPriceState_Validation(t *testing.T) {
	_, err := NewPriceState(nil, nil, 10)
	assert.ErrorIs(t, err, ErrEmptyUniverse)

	_, err = NewPriceState(map[string]float64{"A": 0}, nil, 10)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = NewPriceState(map[string]float64{"A": 1}, []string{"B"}, 10)
	assert.ErrorIs(t, err, ErrUnknownInstrument)

	ps, err := NewPriceState(map[string]float64{"B": 2, "A": 1}, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, ps.Codes())
	assert.Equal(t, DefaultHistoryWindow, ps.Window())

	_, err = ps.History("Z")
	assert.ErrorIs(t, err, ErrUnknownInstrument)
}
