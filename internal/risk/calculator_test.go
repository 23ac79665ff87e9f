package risk

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskstream/internal/market"
	"riskstream/internal/models"
)

type stubSource struct {
	histories map[string][]float64
}

func (s *stubSource) Price(code string) (float64, bool) {
	h, ok := s.histories[code]
	if !ok || len(h) == 0 {
		return 0, false
	}
	return h[len(h)-1], true
}

func (s *stubSource) History(code string) ([]float64, error) {
	h, ok := s.histories[code]
	if !ok {
		return nil, errors.New("no history")
	}
	return h, nil
}

func position(code string, qty float64) models.Position {
	return models.Position{Instrument: models.Instrument{InternalCode: code}, Quantity: qty}
}

func TestLogReturns(t *testing.T) {
	assert.Nil(t, LogReturns(nil))
	assert.Nil(t, LogReturns([]float64{100}))

	r := LogReturns([]float64{100, 110, 99})
	require.Len(t, r, 2)
	assert.InDelta(t, math.Log(1.1), r[0], 1e-15)
	assert.InDelta(t, math.Log(0.9), r[1], 1e-15)
}

func TestVolatility(t *testing.T) {
	assert.Equal(t, 0.0, Volatility(nil))
	assert.Equal(t, 0.0, Volatility([]float64{0.01}))
	assert.InDelta(t, 0.0, Volatility([]float64{0.01, 0.01, 0.01}), 1e-15)

	// популяционное отклонение {-0.01, 0.01} = 0.01
	assert.InDelta(t, 0.01*math.Sqrt(252), Volatility([]float64{-0.01, 0.01}), 1e-12)
}

func TestValueAtRisk(t *testing.T) {
	assert.Equal(t, 0.0, ValueAtRisk(nil, Confidence95, 100))

	// постоянная доходность: любой квантиль равен ей
	constant := []float64{-0.02, -0.02, -0.02, -0.02}
	assert.InDelta(t, 2.0, ValueAtRisk(constant, Confidence95, 100), 1e-12)
	assert.InDelta(t, 2.0, ValueAtRisk(constant, Confidence99, 100), 1e-12)

	// VaR99 не меньше VaR95 для левого хвоста
	returns := []float64{0.03, -0.05, 0.01, -0.01, 0.02, -0.03, 0.0, 0.015, -0.02, 0.005}
	v95 := ValueAtRisk(returns, Confidence95, 50)
	v99 := ValueAtRisk(returns, Confidence99, 50)
	assert.Greater(t, v95, 0.0)
	assert.GreaterOrEqual(t, v99, v95)
	assert.LessOrEqual(t, v99, 0.05*50+1e-12)

	// квантиль в позиции (n-1)·p: -0.041 и -0.0482
	assert.InDelta(t, 2.05, v95, 1e-9)
	assert.InDelta(t, 2.41, v99, 1e-9)

	// вход не сортируется на месте
	assert.Equal(t, 0.03, returns[0])
}

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5}
	tests := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{0.25, 2},
		{0.5, 3},
		{0.1, 1.4},
		{0.99, 4.96},
		{1, 5},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Percentile(sorted, tt.p), 1e-12, "p=%v", tt.p)
	}
	assert.Equal(t, 7.0, Percentile([]float64{7}, 0.05))
	assert.Equal(t, 0.0, Percentile(nil, 0.05))
}

func TestMaxDrawdown(t *testing.T) {
	tests := []struct {
		name   string
		prices []float64
		want   float64
	}{
		{"empty", nil, 0},
		{"single", []float64{100}, 0},
		{"monotonic up", []float64{100, 101, 102}, 0},
		{"dip and recover", []float64{100, 80, 120, 90}, 0.25},
		{"first trough deeper", []float64{100, 50, 60, 55}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, MaxDrawdown(tt.prices), 1e-12)
		})
	}
}

func TestComputeInstrument_ShortHistory(t *testing.T) {
	assert.Equal(t, InstrumentMetrics{}, ComputeInstrument([]float64{100}))
	assert.Equal(t, InstrumentMetrics{}, ComputeInstrument(nil))
}

func TestPortfolio_ExposureAndRiskLimit(t *testing.T) {
	src := &stubSource{histories: map[string][]float64{
		"AAPL": {100, 98, 101, 97, 100},
		"TSLA": {200, 210, 190, 205, 200},
	}}
	calc := NewCalculator(src)

	got, err := calc.Portfolio([]models.Position{position("AAPL", 100), position("TSLA", -100)})
	require.NoError(t, err)

	assert.InDelta(t, 100*100+100*200, got.Exposure, 1e-9)
	assert.InDelta(t, 1.5*got.Exposure, got.RiskLimit, 1e-9)
	assert.GreaterOrEqual(t, got.VaR95, 0.0)
	assert.GreaterOrEqual(t, got.VaR99, 0.0)
	assert.GreaterOrEqual(t, got.Volatility, 0.0)

	aapl := ComputeInstrument(src.histories["AAPL"])
	tsla := ComputeInstrument(src.histories["TSLA"])
	wA, wT := 10000.0/30000.0, 20000.0/30000.0
	assert.InDelta(t, wA*aapl.VaR95+wT*tsla.VaR95, got.VaR95, 1e-9)
	assert.InDelta(t, wA*aapl.Volatility+wT*tsla.Volatility, got.Volatility, 1e-9)
	assert.InDelta(t, math.Max(aapl.MaxDrawdown, tsla.MaxDrawdown), got.MaxDrawdown, 1e-12)
}

func TestPortfolio_ZeroExposure(t *testing.T) {
	src := &stubSource{histories: map[string][]float64{"AAPL": {100, 50, 100}}}
	calc := NewCalculator(src)

	got, err := calc.Portfolio([]models.Position{position("AAPL", 0)})
	require.NoError(t, err)
	assert.Equal(t, models.RiskMetrics{}, got)

	got, err = calc.Portfolio(nil)
	require.NoError(t, err)
	assert.Equal(t, models.RiskMetrics{}, got)
}

func TestPortfolio_UnknownInstrument(t *testing.T) {
	calc := NewCalculator(&stubSource{histories: map[string][]float64{"AAPL": {100, 101}}})

	_, err := calc.Portfolio([]models.Position{position("AAPL", 1), position("NOPE", 1)})
	assert.ErrorIs(t, err, ErrUnknownInstrument)
}

func TestCalculator_UnknownInstrumentFromPriceState(t *testing.T) {
	state, err := market.NewPriceState(map[string]float64{"AAPL": 100}, nil, 10)
	require.NoError(t, err)
	calc := NewCalculator(state)

	_, err = calc.Instrument("NOPE")
	assert.ErrorIs(t, err, market.ErrUnknownInstrument)

	_, err = calc.Portfolio([]models.Position{position("NOPE", 1)})
	assert.ErrorIs(t, err, market.ErrUnknownInstrument)
}

func TestCalculator_CacheResetPerTick(t *testing.T) {
	src := &stubSource{histories: map[string][]float64{"AAPL": {100, 100}}}
	calc := NewCalculator(src)

	m, err := calc.Instrument("AAPL")
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.MaxDrawdown)

	src.histories["AAPL"] = []float64{100, 100, 50}
	m, err = calc.Instrument("AAPL")
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.MaxDrawdown, "cached until Reset")

	calc.Reset()
	m, err = calc.Instrument("AAPL")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, m.MaxDrawdown, 1e-12)
}
