package models

// AssetClass - тег класса актива, по нему выбирается поправка к доходности
type AssetClass string

// Классы активов
const (
	AssetClassGrowth    AssetClass = "growth"    // рост: momentum по последним доходностям
	AssetClassCyclical  AssetClass = "cyclical"  // цикличные: сезонная синусоида
	AssetClassDefensive AssetClass = "defensive" // защитные: гашение отклонений
)

// Instrument представляет финансовый инструмент из каталога
// Неизменяем после загрузки
type Instrument struct {
	InternalCode    string     `json:"internalCode" yaml:"internal_code"`
	BloombergTicker string     `json:"bloombergTicker" yaml:"bloomberg_ticker"`
	ReutersTicker   string     `json:"reutersTicker" yaml:"reuters_ticker"`
	InstrumentType  string     `json:"instrumentType" yaml:"instrument_type"` // Equity, Future, ...
	Currency        string     `json:"currency" yaml:"currency"`
	AssetClass      AssetClass `json:"assetClass" yaml:"asset_class"`
}

// AssetParams - параметры стохастической модели для одного инструмента
//
// Волатильность задается в годовом выражении, вероятность прыжка - на один тик.
type AssetParams struct {
	BaseVolatility  float64    `json:"baseVolatility" yaml:"base_volatility"`
	ReversionSpeed  float64    `json:"reversionSpeed" yaml:"reversion_speed"`
	LongTermMean    float64    `json:"longTermMean" yaml:"long_term_mean"`
	JumpProbability float64    `json:"jumpProbability" yaml:"jump_probability"`
	JumpScale       float64    `json:"jumpScale" yaml:"jump_scale"`
	Beta            float64    `json:"beta" yaml:"beta"`
	AssetClass      AssetClass `json:"assetClass" yaml:"asset_class"`
}
