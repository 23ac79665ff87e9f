package market

import (
	"errors"
	"fmt"
	"sort"
)

// DefaultHistoryWindow - размер окна истории цен по умолчанию
const DefaultHistoryWindow = 1000

// Ошибки состояния цен
var (
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrInvalidPrice      = errors.New("price must be positive")
	ErrEmptyUniverse     = errors.New("no instruments configured")
)

// PriceState - текущие цены и ограниченная история по каждому инструменту
//
// Меняется только генератором, ровно один раз за тик (apply).
// Порядок инструментов фиксирован при создании - от него зависит
// детерминированность генератора при одном и том же seed.
type PriceState struct {
	codes      []string
	index      map[string]int
	prices     []float64
	lastReturn []float64
	history    []*History
	window     int
}

// NewPriceState создает состояние из начальных цен
//
// codes задает порядок инструментов; если nil - используется сортировка по коду.
func NewPriceState(initial map[string]float64, codes []string, window int) (*PriceState, error) {
	if len(initial) == 0 {
		return nil, ErrEmptyUniverse
	}
	if window <= 0 {
		window = DefaultHistoryWindow
	}

	if codes == nil {
		codes = make([]string, 0, len(initial))
		for code := range initial {
			codes = append(codes, code)
		}
		sort.Strings(codes)
	}
	if len(codes) != len(initial) {
		return nil, fmt.Errorf("instrument order has %d codes, initial prices have %d", len(codes), len(initial))
	}

	ps := &PriceState{
		codes:      make([]string, len(codes)),
		index:      make(map[string]int, len(codes)),
		prices:     make([]float64, len(codes)),
		lastReturn: make([]float64, len(codes)),
		history:    make([]*History, len(codes)),
		window:     window,
	}
	copy(ps.codes, codes)

	for i, code := range codes {
		price, ok := initial[code]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownInstrument, code)
		}
		if !(price > 0) {
			return nil, fmt.Errorf("%w: %s=%v", ErrInvalidPrice, code, price)
		}
		if _, dup := ps.index[code]; dup {
			return nil, fmt.Errorf("duplicate instrument %s", code)
		}
		ps.index[code] = i
		ps.prices[i] = price
		ps.history[i] = NewHistory(window)
		ps.history[i].Push(price)
	}

	return ps, nil
}

// Codes возвращает коды инструментов в порядке симуляции
func (ps *PriceState) Codes() []string {
	out := make([]string, len(ps.codes))
	copy(out, ps.codes)
	return out
}

// Window возвращает размер окна истории
func (ps *PriceState) Window() int {
	return ps.window
}

// Has проверяет наличие инструмента
func (ps *PriceState) Has(code string) bool {
	_, ok := ps.index[code]
	return ok
}

// Price возвращает текущую цену инструмента
func (ps *PriceState) Price(code string) (float64, bool) {
	i, ok := ps.index[code]
	if !ok {
		return 0, false
	}
	return ps.prices[i], true
}

// Prices возвращает копию текущих цен
func (ps *PriceState) Prices() map[string]float64 {
	out := make(map[string]float64, len(ps.codes))
	for i, code := range ps.codes {
		out[code] = ps.prices[i]
	}
	return out
}

// History возвращает копию истории цен инструмента (от старых к новым)
func (ps *PriceState) History(code string) ([]float64, error) {
	i, ok := ps.index[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstrument, code)
	}
	return ps.history[i].Values(), nil
}

// HistoryLen возвращает количество наблюдений в истории
func (ps *PriceState) HistoryLen(code string) int {
	i, ok := ps.index[code]
	if !ok {
		return 0
	}
	return ps.history[i].Len()
}

// LastReturn возвращает лог-доходность последнего тика
func (ps *PriceState) LastReturn(code string) float64 {
	i, ok := ps.index[code]
	if !ok {
		return 0
	}
	return ps.lastReturn[i]
}

// apply записывает результат тика: цены, историю и доходности
// Слайсы идут в порядке ps.codes
func (ps *PriceState) apply(prices, returns []float64) {
	for i := range ps.codes {
		ps.prices[i] = prices[i]
		ps.lastReturn[i] = returns[i]
		ps.history[i].Push(prices[i])
	}
}
