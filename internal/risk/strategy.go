// Package risk рассчитывает размер позиции и уровни SL/TP.
//
// Стратегии:
//   - fixed_size: фиксированный номинал в USDT, SL/TP как доли ATR
//   - fixed_risk_atr: фиксированный риск в USD, стоп на ATR*multiplier,
//     номинал обязан попасть в [min_position_usdt, max_position_usdt]
package risk

import (
	"context"

	"github.com/go-faster/errors"

	"tvtrader/internal/models"
)

var (
	// ErrPositionTooLarge - номинал больше max_position_usdt
	ErrPositionTooLarge = errors.New("position too large")
	// ErrPositionTooSmall - номинал меньше min_position_usdt
	ErrPositionTooSmall = errors.New("position too small")
	// ErrInvalidVolatility - ATR не положителен, стоп рассчитать нельзя
	ErrInvalidVolatility = errors.New("invalid volatility")
	// ErrInvalidRequest - некорректная цена входа или сторона
	ErrInvalidRequest = errors.New("invalid risk request")
	// ErrInvalidLevels - SL/TP не положительны или лежат не по ту сторону от входа
	ErrInvalidLevels = errors.New("invalid protective levels")
)

// Volatility - источник ATR по символу
type Volatility interface {
	ATR(ctx context.Context, symbol string) (float64, error)
}

// VolatilityFunc - функция как Volatility
type VolatilityFunc func(ctx context.Context, symbol string) (float64, error)

func (f VolatilityFunc) ATR(ctx context.Context, symbol string) (float64, error) {
	return f(ctx, symbol)
}

// Request - вход стратегии
type Request struct {
	Symbol     string
	EntryPrice float64
	Side       models.Side

	// Notional - номинал из сигнала (USDT). Используется только fixed_size;
	// 0 = номинал из конфигурации.
	Notional float64
}

// Result - рассчитанная позиция
//
// Для buy: StopLoss < EntryPrice < TakeProfit, для sell - наоборот.
type Result struct {
	Strategy     string  `json:"strategy"`
	EntryPrice   float64 `json:"entry_price"`
	Amount       float64 `json:"amount"`   // базовый актив
	Notional     float64 `json:"notional"` // Amount * EntryPrice, USDT
	ATR          float64 `json:"atr"`
	StopDistance float64 `json:"stop_distance"`
	TakeDistance float64 `json:"take_distance"`
	StopLoss     float64 `json:"stop_loss"`
	TakeProfit   float64 `json:"take_profit"`
	RiskUSD      float64 `json:"risk_usd,omitempty"`
	ProfitUSD    float64 `json:"profit_usd,omitempty"`
}

// Strategy - алгоритм расчёта риска
type Strategy interface {
	Name() string
	Calculate(ctx context.Context, req Request) (*Result, error)
}

func validate(req Request) error {
	if req.EntryPrice <= 0 {
		return errors.Wrapf(ErrInvalidRequest, "entry price must be positive, got %v", req.EntryPrice)
	}
	if !req.Side.Valid() {
		return errors.Wrapf(ErrInvalidRequest, "unknown side %q", req.Side)
	}
	return nil
}

func fetchATR(ctx context.Context, vol Volatility, symbol string) (float64, error) {
	atr, err := vol.ATR(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if atr <= 0 {
		return 0, errors.Wrapf(ErrInvalidVolatility, "atr=%v", atr)
	}
	return atr, nil
}

// place расставляет SL/TP по стороне входа
func place(entry float64, side models.Side, stopDistance, takeDistance float64) (stop, take float64, err error) {
	if side == models.SideSell {
		stop, take = entry+stopDistance, entry-takeDistance
	} else {
		stop, take = entry-stopDistance, entry+takeDistance
	}
	if err := CheckLevels(entry, side, stop, take); err != nil {
		return 0, 0, err
	}
	return stop, take, nil
}

// CheckLevels проверяет уровни относительно входа:
// buy - SL < entry < TP, sell - TP < entry < SL, оба уровня > 0.
func CheckLevels(entry float64, side models.Side, stop, take float64) error {
	if stop <= 0 || take <= 0 {
		return errors.Wrapf(ErrInvalidLevels, "stop %v and take %v must be positive", stop, take)
	}
	ok := stop < entry && entry < take
	if side == models.SideSell {
		ok = take < entry && entry < stop
	}
	if !ok {
		return errors.Wrapf(ErrInvalidLevels, "%s at %v: stop %v, take %v", side, entry, stop, take)
	}
	return nil
}
