package engine

import (
	"fmt"

	"riskstream/internal/models"
	"riskstream/pkg/utils"
)

// Revalue переоценивает позиции стратегии по новым ценам
//
// dailyPnL = qty × (new − lastPrice), totalPnL += dailyPnL, lastPrice = new.
// Изменения применяются только если цены есть для всех позиций.
func Revalue(s *models.Strategy, prices map[string]float64) error {
	for _, pos := range s.Positions {
		if _, ok := prices[pos.Instrument.InternalCode]; !ok {
			return fmt.Errorf("%w: strategy %d position %s", ErrUnknownInstrument, s.ID, pos.Instrument.InternalCode)
		}
	}

	for i := range s.Positions {
		pos := &s.Positions[i]
		price := prices[pos.Instrument.InternalCode]

		pos.DailyPnL = utils.PositionPnL(pos.Quantity, pos.LastPrice, price)
		pos.TotalPnL += pos.DailyPnL
		pos.LastPrice = price
		pos.PositionValue = utils.PositionValue(pos.Quantity, price)
	}
	return nil
}
