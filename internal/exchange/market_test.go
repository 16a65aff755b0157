package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarket_ToContracts_Linear(t *testing.T) {
	// OKX: 1 контракт BTC-USDT-SWAP = 0.01 BTC
	m := &Market{ContractSize: 0.01, QtyStep: 1}
	assert.InDelta(t, 25.0, m.ToContracts(0.2567, 60000), 1e-9)

	// Bybit: количество в базовой валюте, шаг 0.001
	m = &Market{ContractSize: 1, QtyStep: 0.001}
	assert.InDelta(t, 0.123, m.ToContracts(0.12345, 60000), 1e-9)
}

func TestMarket_ToContracts_Inverse(t *testing.T) {
	// 1 контракт = 100 USD номинала
	m := &Market{Inverse: true, ContractSize: 100, QtyStep: 1}
	// 0.05 BTC * 60000 = 3000 USD = 30 контрактов
	assert.InDelta(t, 30.0, m.ToContracts(0.05, 60000), 1e-9)
}

func TestMarket_ToContracts_ZeroSizeMeansOne(t *testing.T) {
	m := &Market{}
	assert.InDelta(t, 1.5, m.ToContracts(1.5, 100), 1e-9)
}

func TestMarket_RoundPrice(t *testing.T) {
	m := &Market{TickSize: 0.5}
	assert.InDelta(t, 100.5, m.RoundPrice(100.4), 1e-9)
	assert.InDelta(t, 100.0, m.RoundPrice(100.2), 1e-9)

	m = &Market{}
	assert.InDelta(t, 100.123, m.RoundPrice(100.123), 1e-9)
}

func TestMarket_RoundStops(t *testing.T) {
	m := &Market{TickSize: 0.1}

	// стоп на 0.04 ниже входа не должен округлиться к самому входу
	stop, take := m.RoundStops(SideBuy, 99.96, 100.04)
	assert.InDelta(t, 99.9, stop, 1e-9)
	assert.InDelta(t, 100.1, take, 1e-9)

	stop, take = m.RoundStops(SideSell, 100.04, 99.96)
	assert.InDelta(t, 100.1, stop, 1e-9)
	assert.InDelta(t, 99.9, take, 1e-9)

	// уровни уже на тике не меняются
	stop, take = m.RoundStops(SideBuy, 99.5, 101.5)
	assert.InDelta(t, 99.5, stop, 1e-9)
	assert.InDelta(t, 101.5, take, 1e-9)

	// шум float64 не сдвигает уровень на лишний тик
	stop, take = m.RoundStops(SideBuy, 100-0.1*3, 100+0.1*3)
	assert.InDelta(t, 99.7, stop, 1e-9)
	assert.InDelta(t, 100.3, take, 1e-9)

	m = &Market{}
	stop, take = m.RoundStops(SideSell, 100.123, 99.877)
	assert.InDelta(t, 100.123, stop, 1e-9)
	assert.InDelta(t, 99.877, take, 1e-9)
}

func TestFormatDecimal(t *testing.T) {
	assert.Equal(t, "0.0001", formatDecimal(0.0001))
	assert.Equal(t, "12.5", formatDecimal(12.50))
	assert.Equal(t, "100", formatDecimal(100))
	assert.Equal(t, "0.00000012", formatDecimal(1.2e-7))
}

func TestParseFloat(t *testing.T) {
	assert.Equal(t, 0.0, parseFloat(""))
	assert.Equal(t, 0.0, parseFloat("abc"))
	assert.InDelta(t, 65000.5, parseFloat("65000.5"), 1e-9)
}
