package risk

import (
	"context"

	"github.com/go-faster/errors"
)

// FixedRiskATRParams - параметры fixed_risk_atr
type FixedRiskATRParams struct {
	RiskPerTrade    float64 // USD, теряемые при срабатывании стопа
	ATRMultiplier   float64
	RiskRewardRatio float64
	MaxNotional     float64 // max_position_usdt
	MinNotional     float64 // min_position_usdt
}

// FixedRiskATR - размер позиции от фиксированного риска:
//
//	stop_distance = ATR * multiplier
//	amount        = risk / stop_distance
//	take_distance = risk * rr / amount
//
// Номинал вне [MinNotional, MaxNotional] - отказ, без подрезки.
type FixedRiskATR struct {
	params FixedRiskATRParams
	vol    Volatility
}

func NewFixedRiskATR(params FixedRiskATRParams, vol Volatility) *FixedRiskATR {
	return &FixedRiskATR{params: params, vol: vol}
}

func (s *FixedRiskATR) Name() string {
	return ModeFixedRiskATR
}

func (s *FixedRiskATR) Calculate(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if s.params.RiskPerTrade <= 0 || s.params.ATRMultiplier <= 0 {
		return nil, errors.Wrap(ErrInvalidRequest, "risk_per_trade and atr_multiplier must be positive")
	}

	atr, err := fetchATR(ctx, s.vol, req.Symbol)
	if err != nil {
		return nil, err
	}

	stopDistance := atr * s.params.ATRMultiplier
	amount := s.params.RiskPerTrade / stopDistance
	notional := amount * req.EntryPrice

	if s.params.MaxNotional > 0 && notional > s.params.MaxNotional {
		return nil, errors.Wrapf(ErrPositionTooLarge, "notional %.2f > max %.2f", notional, s.params.MaxNotional)
	}
	if notional < s.params.MinNotional {
		return nil, errors.Wrapf(ErrPositionTooSmall, "notional %.2f < min %.2f", notional, s.params.MinNotional)
	}

	// Тейк через деньги: profit_usd / amount, а не второй множитель ATR
	profitUSD := s.params.RiskPerTrade * s.params.RiskRewardRatio
	takeDistance := profitUSD / amount
	stop, take, err := place(req.EntryPrice, req.Side, stopDistance, takeDistance)
	if err != nil {
		return nil, err
	}

	return &Result{
		Strategy:     ModeFixedRiskATR,
		EntryPrice:   req.EntryPrice,
		Amount:       amount,
		Notional:     notional,
		ATR:          atr,
		StopDistance: stopDistance,
		TakeDistance: takeDistance,
		StopLoss:     stop,
		TakeProfit:   take,
		RiskUSD:      s.params.RiskPerTrade,
		ProfitUSD:    profitUSD,
	}, nil
}
