package utils

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSymbol(t *testing.T) {
	tests := []struct {
		name    string
		symbol  string
		wantErr bool
	}{
		{"valid BTCUSDT", "BTCUSDT", false},
		{"valid lowercase", "btcusdt", false},
		{"valid with hyphen", "BTC-USDT", false},
		{"valid unified", "BTC/USDT:USDT", false},
		{"valid tradingview perpetual", "BTCUSDT.P", false},
		{"valid with numbers", "1000PEPEUSDT", false},

		{"empty", "", true},
		{"single char", "B", true},
		{"too long", "BTCUSDTBTCUSDTBTCUSDTBTCUSDTXXX", true},
		{"special chars", "BTC@USDT", true},
		{"spaces", "BTC USDT", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSymbol(tt.symbol)
			if tt.wantErr {
				assert.Error(t, err, tt.symbol)
			} else {
				assert.NoError(t, err, tt.symbol)
			}
		})
	}
}

func TestValidatePrice(t *testing.T) {
	valid := []float64{0.0001, 1, 65000.5}
	for _, p := range valid {
		assert.NoError(t, ValidatePrice(p), "price %v", p)
	}
	invalid := []float64{0, -1, math.NaN(), math.Inf(1)}
	for _, p := range invalid {
		assert.Error(t, ValidatePrice(p), "price %v", p)
	}
}

func TestValidateLeverage(t *testing.T) {
	tests := []struct {
		name     string
		leverage int
		wantErr  bool
	}{
		{"valid 1x", 1, false},
		{"valid 35x", 35, false},
		{"valid 125x", 125, false},
		{"zero", 0, true},
		{"negative", -1, true},
		{"too large", 126, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLeverage(tt.leverage)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateAPIKey(t *testing.T) {
	assert.NoError(t, ValidateAPIKey("abcd1234efgh"))
	assert.Error(t, ValidateAPIKey(""), "empty key")
	assert.Error(t, ValidateAPIKey("abcd 1234efgh"), "key with whitespace")
	assert.Error(t, ValidateAPIKey("abcd1234efgh\n"), "key with trailing newline")
}
