package risk

import (
	"context"

	"github.com/go-faster/errors"
)

// FixedSizeParams - параметры fixed_size
type FixedSizeParams struct {
	Notional       float64 // USDT на сделку (size_position)
	StopLossRate   float64 // доля ATR до стопа
	TakeProfitRate float64 // доля ATR до тейка
}

// FixedSize - фиксированный номинал, уровни как доли ATR.
// Границы номинала не проверяются: размер задан сигналом или конфигурацией.
type FixedSize struct {
	params FixedSizeParams
	vol    Volatility
}

func NewFixedSize(params FixedSizeParams, vol Volatility) *FixedSize {
	return &FixedSize{params: params, vol: vol}
}

func (s *FixedSize) Name() string {
	return ModeFixedSize
}

func (s *FixedSize) Calculate(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	notional := s.params.Notional
	if req.Notional > 0 {
		notional = req.Notional
	}
	if notional <= 0 {
		return nil, errors.Wrap(ErrInvalidRequest, "notional must be positive")
	}

	atr, err := fetchATR(ctx, s.vol, req.Symbol)
	if err != nil {
		return nil, err
	}

	stopDistance := atr * s.params.StopLossRate
	takeDistance := atr * s.params.TakeProfitRate
	stop, take, err := place(req.EntryPrice, req.Side, stopDistance, takeDistance)
	if err != nil {
		return nil, err
	}
	amount := notional / req.EntryPrice

	return &Result{
		Strategy:     ModeFixedSize,
		EntryPrice:   req.EntryPrice,
		Amount:       amount,
		Notional:     notional,
		ATR:          atr,
		StopDistance: stopDistance,
		TakeDistance: takeDistance,
		StopLoss:     stop,
		TakeProfit:   take,
		RiskUSD:      amount * stopDistance,
		ProfitUSD:    amount * takeDistance,
	}, nil
}
