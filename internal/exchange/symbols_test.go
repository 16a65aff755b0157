package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatSymbol(t *testing.T) {
	tests := []struct {
		name         string
		symbol       string
		contractType string
		want         string
		ok           bool
	}{
		{"plain usdt", "BTCUSDT", ContractUSDTM, "BTC/USDT:USDT", true},
		{"tradingview perpetual suffix", "ETHUSDT.P", ContractUSDTM, "ETH/USDT:USDT", true},
		{"lower case", "solusdt", ContractUSDTM, "SOL/USDT:USDT", true},
		{"slash form", "BTC/USDT", ContractUSDTM, "BTC/USDT:USDT", true},
		{"dash form", "BTC-USDT", ContractUSDTM, "BTC/USDT:USDT", true},
		{"already unified", "BTC/USDT:USDT", ContractUSDTM, "BTC/USDT:USDT", true},
		{"coin-m from usdt", "BTCUSDT", ContractCOINM, "BTC/USD:BTC", true},
		{"coin-m from usd", "ETHUSD", ContractCOINM, "ETH/USD:ETH", true},
		{"usd without coin-m", "ETHUSD", ContractUSDTM, "ETHUSD", false},
		{"unrecognized", "XYZ", ContractUSDTM, "XYZ", false},
		{"bare suffix", "USDT", ContractUSDTM, "USDT", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FormatSymbol(tt.symbol, tt.contractType)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestParseUnified(t *testing.T) {
	base, quote, settle, err := ParseUnified("BTC/USD:BTC")
	require.NoError(t, err)
	assert.Equal(t, "BTC", base)
	assert.Equal(t, "USD", quote)
	assert.Equal(t, "BTC", settle)

	for _, bad := range []string{"BTCUSDT", "/USDT:USDT", "BTC/:USDT", "BTC/USDT:"} {
		_, _, _, err := ParseUnified(bad)
		assert.ErrorIs(t, err, ErrInvalidSymbol, bad)
	}
}

func TestInstrumentIDs(t *testing.T) {
	assert.Equal(t, "BTCUSDT", instrumentID("BTC/USDT:USDT"))
	assert.Equal(t, "BTCUSD", instrumentID("BTC/USD:BTC"))
	assert.Equal(t, "BTCUSDT", instrumentID("btc-usdt"))

	assert.Equal(t, "BTC-USDT-SWAP", okxInstrumentID("BTC/USDT:USDT"))
	assert.Equal(t, "ETH-USD-SWAP", okxInstrumentID("ETH/USD:ETH"))

	assert.True(t, IsInverse("BTC/USD:BTC"))
	assert.False(t, IsInverse("BTC/USDT:USDT"))
}
