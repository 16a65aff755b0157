package exchange

import (
	"math"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotSupported - операция не поддерживается биржей
	ErrNotSupported = errors.New("operation not supported by exchange")
	// ErrMarketNotFound - инструмент отсутствует в загруженных рынках
	ErrMarketNotFound = errors.New("market not found")
	// ErrMarketsNotLoaded - LoadMarkets ещё не вызывался
	ErrMarketsNotLoaded = errors.New("markets not loaded")
	// ErrInvalidSymbol - символ не в формате BASE/QUOTE:SETTLE
	ErrInvalidSymbol = errors.New("invalid unified symbol")
)

// Market - метаданные инструмента
type Market struct {
	Symbol  string `json:"symbol"` // унифицированный: BTC/USDT:USDT
	ID      string `json:"id"`     // идентификатор биржи: BTCUSDT, BTC-USDT-SWAP
	Base    string `json:"base"`
	Quote   string `json:"quote"`
	Settle  string `json:"settle"`
	Inverse bool   `json:"inverse"`

	// ContractSize: для линейных - базовой валюты в контракте,
	// для инверсных - котируемой валюты (USD) в контракте
	ContractSize float64 `json:"contract_size"`
	MaxLeverage  int     `json:"max_leverage"`
	QtyStep      float64 `json:"qty_step"`
	MinQty       float64 `json:"min_qty"`
	TickSize     float64 `json:"tick_size"`
}

// ToContracts переводит количество базового актива в нативные контракты биржи
// и округляет вниз до шага количества.
func (m *Market) ToContracts(baseAmount, price float64) float64 {
	amount := decimal.NewFromFloat(baseAmount)
	size := decimal.NewFromFloat(m.ContractSize)
	if size.Sign() <= 0 {
		size = decimal.NewFromInt(1)
	}

	var contracts decimal.Decimal
	if m.Inverse {
		// нативное количество инверсного контракта выражено в USD номинала
		contracts = amount.Mul(decimal.NewFromFloat(price)).Div(size)
	} else {
		contracts = amount.Div(size)
	}
	return m.roundDown(contracts, m.QtyStep)
}

// RoundAmount округляет количество вниз до шага
func (m *Market) RoundAmount(amount float64) float64 {
	return m.roundDown(decimal.NewFromFloat(amount), m.QtyStep)
}

// RoundPrice округляет цену до ближайшего тика
func (m *Market) RoundPrice(price float64) float64 {
	if m.TickSize <= 0 {
		return price
	}
	tick := decimal.NewFromFloat(m.TickSize)
	p := decimal.NewFromFloat(price).Div(tick).Round(0).Mul(tick)
	f, _ := p.Float64()
	return f
}

// RoundStops округляет SL/TP до тика в сторону от входа: для buy стоп вниз,
// тейк вверх, для sell наоборот. Уровень не может сдвинуться к цене входа.
func (m *Market) RoundStops(side string, stop, take float64) (float64, float64) {
	if m.TickSize <= 0 {
		return stop, take
	}
	tick := decimal.NewFromFloat(m.TickSize)
	// Round(6) снимает шум float64 (100+0.1*3 = 100.30000000000001), иначе Ceil уйдёт на лишний тик
	ticks := func(v float64) decimal.Decimal {
		return decimal.NewFromFloat(v).Div(tick).Round(6)
	}
	down := func(v float64) float64 {
		f, _ := ticks(v).Floor().Mul(tick).Float64()
		return f
	}
	up := func(v float64) float64 {
		f, _ := ticks(v).Ceil().Mul(tick).Float64()
		return f
	}
	if side == SideSell {
		return up(stop), down(take)
	}
	return down(stop), up(take)
}

func (m *Market) roundDown(v decimal.Decimal, step float64) float64 {
	if step <= 0 {
		f, _ := v.Float64()
		return f
	}
	st := decimal.NewFromFloat(step)
	f, _ := v.Div(st).Floor().Mul(st).Float64()
	return f
}

// formatDecimal печатает число без экспоненты и лишних нулей (для REST параметров)
func formatDecimal(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "0"
	}
	return decimal.NewFromFloat(v).String()
}

// parseFloat парсит строку из ответа биржи, пустая строка = 0
func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}
