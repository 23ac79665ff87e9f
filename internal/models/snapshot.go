package models

import "time"

// Snapshot - неизменяемый срез состояния движка на один тик
//
// Цены и метрики стратегий всегда относятся к одному и тому же тику.
// После публикации снапшот не модифицируется, его можно читать без блокировок.
type Snapshot struct {
	Tick       uint64             `json:"tick"`
	Timestamp  time.Time          `json:"timestamp"`
	Prices     map[string]float64 `json:"prices"`
	Strategies []Strategy         `json:"strategies"`
}

// Strategy возвращает стратегию по ID
func (s *Snapshot) Strategy(id int) (Strategy, bool) {
	for _, st := range s.Strategies {
		if st.ID == id {
			return st, true
		}
	}
	return Strategy{}, false
}
