package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"riskstream/internal/engine"
	"riskstream/internal/market"
	"riskstream/internal/models"
	"riskstream/pkg/utils"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

// ErrInvalidCatalog - каталог не прошел проверку
var ErrInvalidCatalog = errors.New("invalid catalog")

// Catalog - инструменты, параметры модели, корреляции и стратегии
type Catalog struct {
	Instruments []CatalogInstrument `yaml:"instruments"`
	Correlation [][]float64         `yaml:"correlation"` // в порядке Instruments
	Strategies  []CatalogStrategy   `yaml:"strategies"`
}

// CatalogInstrument - инструмент с начальной ценой и параметрами модели
type CatalogInstrument struct {
	models.Instrument `yaml:",inline"`
	InitialPrice      float64            `yaml:"initial_price"`
	Params            models.AssetParams `yaml:"params"`
}

// CatalogStrategy - стратегия в каталоге
type CatalogStrategy struct {
	ID        int               `yaml:"id"`
	Name      string            `yaml:"name"`
	Selected  bool              `yaml:"selected"`
	Positions []CatalogPosition `yaml:"positions"`
}

// CatalogPosition - позиция ссылается на инструмент по коду
type CatalogPosition struct {
	Instrument string  `yaml:"instrument"`
	Quantity   float64 `yaml:"quantity"`
	EntryPrice float64 `yaml:"entry_price"` // 0 - цена на старте
}

// DefaultCatalog возвращает встроенный каталог
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(bytes.NewReader(defaultCatalog))
}

// LoadCatalog читает каталог из файла; пустой путь - встроенный каталог
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return ParseCatalog(f)
}

// ParseCatalog разбирает YAML и проверяет ссылочную целостность
// Неизвестные поля считаются ошибкой
func ParseCatalog(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate проверяет каталог и возвращает все найденные проблемы разом
//
// Положительная полуопределенность корреляций проверяется движком.
func (c *Catalog) Validate() error {
	if len(c.Instruments) == 0 {
		return fmt.Errorf("%w: no instruments", ErrInvalidCatalog)
	}

	var errs utils.ValidationErrors
	codes := make(map[string]bool, len(c.Instruments))
	for i, inst := range c.Instruments {
		field := fmt.Sprintf("instruments[%d]", i)
		if err := utils.ValidateSymbol(inst.InternalCode); err != nil {
			errs.AddError(field+".internal_code", err)
			continue
		}
		field = "instruments." + inst.InternalCode
		if codes[inst.InternalCode] {
			errs.Add(field, "duplicate instrument")
		}
		codes[inst.InternalCode] = true

		errs.AddError(field+".bloomberg_ticker", utils.ValidateTicker(inst.BloombergTicker))
		errs.AddError(field+".reuters_ticker", utils.ValidateTicker(inst.ReutersTicker))
		errs.AddError(field+".currency", utils.ValidateCurrency(inst.Currency))
		errs.AddError(field+".asset_class", utils.ValidateAssetClass(string(inst.AssetClass)))
		errs.AddError(field+".initial_price", utils.ValidatePrice(inst.InitialPrice))
		errs.AddError(field+".params.base_volatility", utils.ValidateVolatility(inst.Params.BaseVolatility))
		errs.AddError(field+".params.jump_probability", utils.ValidateProbability(inst.Params.JumpProbability))
		errs.AddError(field+".params.asset_class", utils.ValidateAssetClass(string(inst.Params.AssetClass)))
	}

	if c.Correlation != nil && len(c.Correlation) != len(c.Instruments) {
		errs.Add("correlation", fmt.Sprintf("has %d rows, want %d", len(c.Correlation), len(c.Instruments)))
	}

	ids := make(map[int]bool, len(c.Strategies))
	for _, s := range c.Strategies {
		field := fmt.Sprintf("strategies.%d", s.ID)
		if ids[s.ID] {
			errs.Add(field, "duplicate strategy id")
		}
		ids[s.ID] = true
		for _, p := range s.Positions {
			pf := field + "." + p.Instrument
			if !codes[p.Instrument] {
				errs.Add(pf, "unknown instrument")
				continue
			}
			errs.AddError(pf+".quantity", utils.ValidateQuantity(p.Quantity))
			if p.EntryPrice < 0 {
				errs.Add(pf+".entry_price", "negative entry price")
			}
		}
	}

	if errs.HasErrors() {
		return fmt.Errorf("%w: %w", ErrInvalidCatalog, errs)
	}
	return nil
}

// Setup превращает каталог во вселенную движка
func (c *Catalog) Setup() engine.Setup {
	setup := engine.Setup{
		Instruments:   make([]models.Instrument, 0, len(c.Instruments)),
		InitialPrices: make(map[string]float64, len(c.Instruments)),
		Params:        make(map[string]models.AssetParams, len(c.Instruments)),
		Correlation:   c.Correlation,
		Strategies:    make([]models.Strategy, 0, len(c.Strategies)),
	}
	for _, inst := range c.Instruments {
		setup.Instruments = append(setup.Instruments, inst.Instrument)
		setup.InitialPrices[inst.InternalCode] = inst.InitialPrice
		p := inst.Params
		if p.AssetClass == "" {
			p.AssetClass = inst.AssetClass
		}
		setup.Params[inst.InternalCode] = p
	}
	for _, s := range c.Strategies {
		st := models.Strategy{
			ID:        s.ID,
			Name:      s.Name,
			Selected:  s.Selected,
			Positions: make([]models.Position, 0, len(s.Positions)),
		}
		for _, p := range s.Positions {
			st.Positions = append(st.Positions, models.Position{
				Instrument: models.Instrument{InternalCode: p.Instrument},
				Quantity:   p.Quantity,
				EntryPrice: p.EntryPrice,
			})
		}
		setup.Strategies = append(setup.Strategies, st)
	}
	return setup
}

// EngineConfig собирает параметры движка из настроек симуляции
func (s SimulationConfig) EngineConfig() engine.Config {
	return engine.Config{
		HistoryWindow: s.HistoryWindow,
		Dt:            s.Dt,
		Seed:          s.Seed,
		Generator: market.GeneratorConfig{
			RiskFreeRate:     s.RiskFreeRate,
			MarketVolatility: s.MarketVolatility,
			PriceFloor:       s.PriceFloor,
		},
	}
}
