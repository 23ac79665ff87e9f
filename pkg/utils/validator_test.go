package utils

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestValidateSymbol(t *testing.T) {
	tests := []struct {
		name    string
		symbol  string
		wantErr bool
	}{
		// Valid symbols
		{"valid AAPL", "AAPL", false},
		{"valid single char", "F", false},
		{"valid with dot", "BRK.B", false},
		{"valid with hyphen", "RDS-A", false},
		{"valid with digits", "7203", false},

		// Invalid symbols
		{"empty", "", true},
		{"too long", strings.Repeat("X", 31), true},
		{"leading dot", ".AAPL", true},
		{"special chars", "AA@PL", true},
		{"spaces", "AAPL US", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSymbol(tt.symbol)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSymbol(%q) error = %v, wantErr %v", tt.symbol, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidSymbol) {
				t.Errorf("ValidateSymbol(%q) must wrap ErrInvalidSymbol", tt.symbol)
			}
		})
	}
}

func TestValidateTicker(t *testing.T) {
	tests := []struct {
		ticker  string
		wantErr bool
	}{
		{"", false},
		{"AAPL US", false},
		{"AAPL US Equity", false},
		{"AAPL.O", false},
		{"ES=F", false},
		{" AAPL", true},
		{"AAPL ", true},
		{"AAPL#US", true},
	}

	for _, tt := range tests {
		t.Run(tt.ticker, func(t *testing.T) {
			if err := ValidateTicker(tt.ticker); (err != nil) != tt.wantErr {
				t.Errorf("ValidateTicker(%q) error = %v, wantErr %v", tt.ticker, err, tt.wantErr)
			}
		})
	}
}

func TestValidateCurrency(t *testing.T) {
	for _, ok := range []string{"", "USD", "EUR"} {
		if err := ValidateCurrency(ok); err != nil {
			t.Errorf("ValidateCurrency(%q) = %v, want nil", ok, err)
		}
	}
	for _, bad := range []string{"usd", "US", "USDT"} {
		if err := ValidateCurrency(bad); err == nil {
			t.Errorf("ValidateCurrency(%q) = nil, want error", bad)
		}
	}
}

func TestValidateNumbers(t *testing.T) {
	tests := []struct {
		name    string
		fn      func(float64) error
		value   float64
		wantErr bool
	}{
		{"price positive", ValidatePrice, 180, false},
		{"price zero", ValidatePrice, 0, true},
		{"price negative", ValidatePrice, -1, true},
		{"price NaN", ValidatePrice, math.NaN(), true},
		{"price Inf", ValidatePrice, math.Inf(1), true},

		{"quantity long", ValidateQuantity, 100, false},
		{"quantity short", ValidateQuantity, -50, false},
		{"quantity zero", ValidateQuantity, 0, true},
		{"quantity NaN", ValidateQuantity, math.NaN(), true},

		{"volatility zero", ValidateVolatility, 0, false},
		{"volatility typical", ValidateVolatility, 0.3, false},
		{"volatility max", ValidateVolatility, MaxAnnualVolatility, false},
		{"volatility above max", ValidateVolatility, MaxAnnualVolatility + 0.1, true},
		{"volatility negative", ValidateVolatility, -0.1, true},
		{"volatility NaN", ValidateVolatility, math.NaN(), true},

		{"probability zero", ValidateProbability, 0, false},
		{"probability one", ValidateProbability, 1, false},
		{"probability above one", ValidateProbability, 1.01, true},
		{"probability negative", ValidateProbability, -0.01, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(tt.value); (err != nil) != tt.wantErr {
				t.Errorf("error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateAssetClass(t *testing.T) {
	for _, ok := range []string{"", "growth", "cyclical", "defensive"} {
		if err := ValidateAssetClass(ok); err != nil {
			t.Errorf("ValidateAssetClass(%q) = %v, want nil", ok, err)
		}
	}
	if err := ValidateAssetClass("crypto"); !errors.Is(err, ErrInvalidAssetClass) {
		t.Errorf("ValidateAssetClass(crypto) = %v, want ErrInvalidAssetClass", err)
	}
}

func TestValidationErrors(t *testing.T) {
	var errs ValidationErrors

	errs.Add("field1", "error1")
	errs.Add("field2", "error2")

	if !errs.HasErrors() {
		t.Error("ValidationErrors.HasErrors() = false, want true")
	}

	errStr := errs.Error()
	if !strings.Contains(errStr, "field1: error1") || !strings.Contains(errStr, "field2: error2") {
		t.Errorf("ValidationErrors.Error() = %q", errStr)
	}

	if len(errs) != 2 {
		t.Errorf("ValidationErrors length = %d, want 2", len(errs))
	}
}

func TestValidationErrorsAddError(t *testing.T) {
	var errs ValidationErrors

	// nil не добавляется
	errs.AddError("field1", nil)
	if errs.HasErrors() {
		t.Error("ValidationErrors.AddError(nil) should not add error")
	}
	if errs.Err() != nil {
		t.Error("ValidationErrors.Err() must be nil when empty")
	}

	errs.AddError("field2", ValidatePrice(-1))
	if !errs.HasErrors() {
		t.Error("ValidationErrors.AddError(err) should add error")
	}
	if !errors.Is(errs.Err(), ErrInvalidPrice) {
		t.Error("errors.Is must see field errors through ValidationErrors")
	}
}

func TestIsValidSymbol(t *testing.T) {
	if !IsValidSymbol("MSFT") {
		t.Error("IsValidSymbol(MSFT) = false, want true")
	}
	if IsValidSymbol("") {
		t.Error("IsValidSymbol('') = true, want false")
	}
}
