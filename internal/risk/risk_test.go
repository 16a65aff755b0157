package risk

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tvtrader/internal/indicator"
	"tvtrader/internal/models"
)

func constATR(v float64) Volatility {
	return VolatilityFunc(func(context.Context, string) (float64, error) { return v, nil })
}

func defaultRiskParams() FixedRiskATRParams {
	return FixedRiskATRParams{
		RiskPerTrade:    1.0,
		ATRMultiplier:   1.0,
		RiskRewardRatio: 3.0,
		MaxNotional:     300,
		MinNotional:     30,
	}
}

func TestFixedRiskATR_ScenarioB(t *testing.T) {
	s := NewFixedRiskATR(defaultRiskParams(), constATR(0.5))

	res, err := s.Calculate(context.Background(), Request{Symbol: "BTC/USDT:USDT", EntryPrice: 100, Side: models.SideBuy})
	require.NoError(t, err)

	assert.InDelta(t, 0.5, res.StopDistance, 1e-9)
	assert.InDelta(t, 2.0, res.Amount, 1e-9)
	assert.InDelta(t, 200.0, res.Notional, 1e-9)
	assert.InDelta(t, 3.0, res.ProfitUSD, 1e-9)
	assert.InDelta(t, 1.5, res.TakeDistance, 1e-9)
	assert.InDelta(t, 99.5, res.StopLoss, 1e-9)
	assert.InDelta(t, 101.5, res.TakeProfit, 1e-9)
	assert.Equal(t, ModeFixedRiskATR, res.Strategy)
}

func TestFixedRiskATR_SellIsMirrored(t *testing.T) {
	s := NewFixedRiskATR(defaultRiskParams(), constATR(0.5))

	res, err := s.Calculate(context.Background(), Request{EntryPrice: 100, Side: models.SideSell})
	require.NoError(t, err)
	assert.InDelta(t, 100.5, res.StopLoss, 1e-9)
	assert.InDelta(t, 98.5, res.TakeProfit, 1e-9)
}

func TestFixedRiskATR_ScenarioC_TooSmall(t *testing.T) {
	p := defaultRiskParams()
	p.RiskPerTrade = 0.1
	s := NewFixedRiskATR(p, constATR(5))

	// amount = 0.1/5 = 0.02, notional = 2 < 30
	_, err := s.Calculate(context.Background(), Request{EntryPrice: 100, Side: models.SideBuy})
	assert.ErrorIs(t, err, ErrPositionTooSmall)
}

func TestFixedRiskATR_TooLarge(t *testing.T) {
	s := NewFixedRiskATR(defaultRiskParams(), constATR(0.1))

	// amount = 10, notional = 1000 > 300
	_, err := s.Calculate(context.Background(), Request{EntryPrice: 100, Side: models.SideBuy})
	assert.ErrorIs(t, err, ErrPositionTooLarge)
}

func TestFixedRiskATR_Invariants(t *testing.T) {
	p := FixedRiskATRParams{RiskPerTrade: 2, ATRMultiplier: 1.5, RiskRewardRatio: 2.5, MaxNotional: 1e6, MinNotional: 0}

	for _, atr := range []float64{0.01, 0.37, 1, 12.5, 250} {
		for _, entry := range []float64{0.5, 3.21, 100, 65000} {
			for _, side := range []models.Side{models.SideBuy, models.SideSell} {
				s := NewFixedRiskATR(p, constATR(atr))
				res, err := s.Calculate(context.Background(), Request{EntryPrice: entry, Side: side})
				if errors.Is(err, ErrPositionTooLarge) {
					continue
				}
				if errors.Is(err, ErrInvalidLevels) {
					// стоп (buy) или тейк (sell) ушёл бы в ноль или ниже
					assert.LessOrEqual(t, entry, atr*p.ATRMultiplier*maxf(1, p.RiskRewardRatio))
					continue
				}
				require.NoError(t, err)

				tol := 1e-9 * (1 + entry)
				assert.InDelta(t, atr*p.ATRMultiplier, abs(entry-res.StopLoss), tol)
				assert.InDelta(t, res.StopDistance*p.RiskRewardRatio, res.TakeDistance, 1e-9*(1+res.TakeDistance))
				assert.InDelta(t, res.Amount*entry, res.Notional, 1e-9*(1+res.Notional))

				if side == models.SideBuy {
					assert.Less(t, res.StopLoss, entry)
					assert.Greater(t, res.TakeProfit, entry)
				} else {
					assert.Greater(t, res.StopLoss, entry)
					assert.Less(t, res.TakeProfit, entry)
				}
			}
		}
	}
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func TestFixedSize_UsesConfiguredNotional(t *testing.T) {
	s := NewFixedSize(FixedSizeParams{Notional: 100, StopLossRate: 0.1, TakeProfitRate: 0.3}, constATR(10))

	res, err := s.Calculate(context.Background(), Request{EntryPrice: 50, Side: models.SideBuy})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, res.Amount, 1e-9)
	assert.InDelta(t, 100.0, res.Notional, 1e-9)
	assert.InDelta(t, 49.0, res.StopLoss, 1e-9)
	assert.InDelta(t, 53.0, res.TakeProfit, 1e-9)
}

func TestFixedSize_RequestNotionalOverrides(t *testing.T) {
	s := NewFixedSize(FixedSizeParams{Notional: 100, StopLossRate: 0.1, TakeProfitRate: 0.3}, constATR(10))

	res, err := s.Calculate(context.Background(), Request{EntryPrice: 50, Side: models.SideSell, Notional: 1000})
	require.NoError(t, err)
	assert.InDelta(t, 20.0, res.Amount, 1e-9)
	assert.InDelta(t, 51.0, res.StopLoss, 1e-9)
	assert.InDelta(t, 47.0, res.TakeProfit, 1e-9)
}

func TestStrategies_RejectNonPositiveLevels(t *testing.T) {
	tests := []struct {
		name string
		s    Strategy
		side models.Side
	}{
		{
			// sell: тейк 100 - 40*3 = -20
			name: "fixed_risk_atr sell take below zero",
			s:    NewFixedRiskATR(FixedRiskATRParams{RiskPerTrade: 1, ATRMultiplier: 1, RiskRewardRatio: 3}, constATR(40)),
			side: models.SideSell,
		},
		{
			// buy: стоп 100 - 200*0.5 = 0
			name: "fixed_size buy stop at zero",
			s:    NewFixedSize(FixedSizeParams{Notional: 100, StopLossRate: 0.5, TakeProfitRate: 1}, constATR(200)),
			side: models.SideBuy,
		},
		{
			name: "fixed_size zero stop distance",
			s:    NewFixedSize(FixedSizeParams{Notional: 100, StopLossRate: 0, TakeProfitRate: 0.3}, constATR(1)),
			side: models.SideBuy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tt.s.Calculate(context.Background(), Request{EntryPrice: 100, Side: tt.side})
			assert.Nil(t, res)
			assert.ErrorIs(t, err, ErrInvalidLevels)
		})
	}
}

func TestCheckLevels(t *testing.T) {
	assert.NoError(t, CheckLevels(100, models.SideBuy, 99.9, 100.1))
	assert.NoError(t, CheckLevels(100, models.SideSell, 100.1, 99.9))
	assert.ErrorIs(t, CheckLevels(100, models.SideBuy, 100, 100.1), ErrInvalidLevels)
	assert.ErrorIs(t, CheckLevels(100, models.SideSell, 100.1, 100), ErrInvalidLevels)
	assert.ErrorIs(t, CheckLevels(100, models.SideSell, 140, -20), ErrInvalidLevels)
	assert.ErrorIs(t, CheckLevels(100, models.SideBuy, 101, 99), ErrInvalidLevels)
}

func TestStrategies_PropagateVolatilityErrors(t *testing.T) {
	failing := VolatilityFunc(func(context.Context, string) (float64, error) {
		return 0, indicator.ErrInsufficientData
	})

	for _, s := range []Strategy{
		NewFixedSize(FixedSizeParams{Notional: 100}, failing),
		NewFixedRiskATR(defaultRiskParams(), failing),
	} {
		_, err := s.Calculate(context.Background(), Request{EntryPrice: 100, Side: models.SideBuy})
		assert.ErrorIs(t, err, indicator.ErrInsufficientData, s.Name())
	}

	_, err := NewFixedRiskATR(defaultRiskParams(), constATR(0)).Calculate(context.Background(), Request{EntryPrice: 100, Side: models.SideBuy})
	assert.ErrorIs(t, err, ErrInvalidVolatility)
}

func TestStrategies_RejectBadRequest(t *testing.T) {
	s := NewFixedRiskATR(defaultRiskParams(), constATR(1))

	_, err := s.Calculate(context.Background(), Request{EntryPrice: 0, Side: models.SideBuy})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = s.Calculate(context.Background(), Request{EntryPrice: 10, Side: "hold"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestNew_SelectsByMode(t *testing.T) {
	s, err := New(Params{Mode: "FIXED_SIZE"}, constATR(1))
	require.NoError(t, err)
	assert.IsType(t, &FixedSize{}, s)

	s, err = New(Params{Mode: ModeFixedRiskATR}, constATR(1))
	require.NoError(t, err)
	assert.IsType(t, &FixedRiskATR{}, s)

	_, err = New(Params{Mode: "martingale"}, constATR(1))
	assert.ErrorIs(t, err, ErrUnknownMode)
	assert.False(t, ValidMode("martingale"))
	assert.True(t, ValidMode("fixed_risk_atr"))
}
