package utils

// validator.go - валидация данных каталога
//
// Функции:
// - ValidateSymbol: формат внутреннего кода инструмента (AAPL, BRK.B)
// - ValidateTicker: тикер внешней системы (AAPL US Equity), может быть пустым
// - ValidateCurrency: ISO 4217, может быть пустым
// - ValidatePrice: цена > 0 и конечна
// - ValidateQuantity: количество конечно и не равно 0
// - ValidateVolatility: годовая волатильность в [0, MaxAnnualVolatility]
// - ValidateProbability: значение в [0, 1]
// - ValidateAssetClass: один из известных классов или пусто
//
// ValidationErrors собирает все проблемы, чтобы сообщить о них разом.

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
)

// MaxAnnualVolatility - верхняя граница годовой волатильности (500%)
const MaxAnnualVolatility = 5.0

var (
	ErrInvalidSymbol      = errors.New("invalid instrument code")
	ErrInvalidTicker      = errors.New("invalid ticker")
	ErrInvalidCurrency    = errors.New("invalid currency")
	ErrInvalidPrice       = errors.New("price must be positive and finite")
	ErrInvalidQuantity    = errors.New("quantity must be non-zero and finite")
	ErrInvalidVolatility  = errors.New("volatility out of range")
	ErrInvalidProbability = errors.New("probability must be in [0, 1]")
	ErrInvalidAssetClass  = errors.New("unknown asset class")
)

var (
	symbolRe   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-/]{0,29}$`)
	tickerRe   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-/ =]{0,39}$`)
	currencyRe = regexp.MustCompile(`^[A-Z]{3}$`)
)

var assetClasses = map[string]bool{
	"growth":    true,
	"cyclical":  true,
	"defensive": true,
}

// ValidateSymbol проверяет внутренний код инструмента
func ValidateSymbol(code string) error {
	if !symbolRe.MatchString(code) {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, code)
	}
	return nil
}

// ValidateTicker проверяет тикер Bloomberg/Reuters
func ValidateTicker(ticker string) error {
	if ticker == "" {
		return nil
	}
	if strings.TrimSpace(ticker) != ticker || !tickerRe.MatchString(ticker) {
		return fmt.Errorf("%w: %q", ErrInvalidTicker, ticker)
	}
	return nil
}

// ValidateCurrency проверяет трехбуквенный код валюты
func ValidateCurrency(ccy string) error {
	if ccy == "" {
		return nil
	}
	if !currencyRe.MatchString(ccy) {
		return fmt.Errorf("%w: %q", ErrInvalidCurrency, ccy)
	}
	return nil
}

func ValidatePrice(p float64) error {
	if !(p > 0) || math.IsInf(p, 0) {
		return fmt.Errorf("%w, got %v", ErrInvalidPrice, p)
	}
	return nil
}

// ValidateQuantity: шорт допустим, нулевая позиция - нет
func ValidateQuantity(q float64) error {
	if q == 0 || math.IsNaN(q) || math.IsInf(q, 0) {
		return fmt.Errorf("%w, got %v", ErrInvalidQuantity, q)
	}
	return nil
}

func ValidateVolatility(v float64) error {
	if !(v >= 0 && v <= MaxAnnualVolatility) {
		return fmt.Errorf("%w: %v not in [0, %v]", ErrInvalidVolatility, v, MaxAnnualVolatility)
	}
	return nil
}

func ValidateProbability(p float64) error {
	if !(p >= 0 && p <= 1) {
		return fmt.Errorf("%w, got %v", ErrInvalidProbability, p)
	}
	return nil
}

// ValidateAssetClass: пустой класс означает отсутствие поправки
func ValidateAssetClass(class string) error {
	if class == "" || assetClasses[class] {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidAssetClass, class)
}

// IsValidSymbol - bool обертка над ValidateSymbol
func IsValidSymbol(code string) bool {
	return ValidateSymbol(code) == nil
}

// ValidationError - ошибка одного поля
type ValidationError struct {
	Field string
	Err   error
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Err.Error()
}

func (e ValidationError) Unwrap() error {
	return e.Err
}

// ValidationErrors - накопитель ошибок валидации
type ValidationErrors []ValidationError

// Add добавляет ошибку с текстом
func (v *ValidationErrors) Add(field, msg string) {
	*v = append(*v, ValidationError{Field: field, Err: errors.New(msg)})
}

// AddError добавляет ошибку, nil игнорируется
func (v *ValidationErrors) AddError(field string, err error) {
	if err == nil {
		return
	}
	*v = append(*v, ValidationError{Field: field, Err: err})
}

func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

// Unwrap позволяет errors.Is находить исходные ошибки полей
func (v ValidationErrors) Unwrap() []error {
	errs := make([]error, len(v))
	for i, e := range v {
		errs[i] = e
	}
	return errs
}

// Err возвращает nil, если ошибок нет
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}
