package models

// Position представляет позицию стратегии по одному инструменту
//
// Quantity задается при загрузке и движком не меняется.
// Цены и PNL обновляются один раз за тик (Position Valuator).
type Position struct {
	Instrument    Instrument `json:"instrument"`
	Quantity      float64    `json:"quantity"`      // > 0 лонг, < 0 шорт
	DailyPnL      float64    `json:"dailyPnL"`      // PNL за последний тик
	TotalPnL      float64    `json:"totalPnL"`      // накопленный PNL
	LastPrice     float64    `json:"lastPrice"`     // цена последней переоценки
	OpeningPrice  float64    `json:"openingPrice"`  // цена на старте процесса
	EntryPrice    float64    `json:"entryPrice"`    // цена входа из конфигурации
	PositionValue float64    `json:"positionValue"` // quantity × lastPrice
}

// RiskMetrics - риск-метрики портфеля стратегии
// Заменяются целиком каждый тик, частичных обновлений нет
type RiskMetrics struct {
	VaR95       float64 `json:"var95"`
	VaR99       float64 `json:"var99"`
	MaxDrawdown float64 `json:"maxDrawdown"`
	Exposure    float64 `json:"exposure"`
	RiskLimit   float64 `json:"riskLimit"`
	Volatility  float64 `json:"volatility"`
}

// RiskLimitMultiplier - лимит риска как доля от текущей экспозиции
const RiskLimitMultiplier = 1.5

// Strategy представляет стратегию (портфель позиций)
type Strategy struct {
	ID          int         `json:"id"`
	Name        string      `json:"name"`
	Selected    bool        `json:"selected"`
	Positions   []Position  `json:"positions"`
	RiskMetrics RiskMetrics `json:"riskMetrics"`
}

// Clone возвращает глубокую копию стратегии
func (s *Strategy) Clone() Strategy {
	out := *s
	out.Positions = make([]Position, len(s.Positions))
	copy(out.Positions, s.Positions)
	return out
}
