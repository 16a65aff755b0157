// Package indicator считает волатильность (ATR) по свечам биржи.
package indicator

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/markcheno/go-talib"

	"tvtrader/internal/exchange"
	"tvtrader/pkg/retry"
	"tvtrader/pkg/utils"
)

// ErrInsufficientData - закрытых свечей меньше period+1
var ErrInsufficientData = errors.New("insufficient candle data for ATR")

// fetchMargin - сколько свечей запрашивать сверх period
const fetchMargin = 10

// ATR - среднее последних period значений True Range.
// Свечи упорядочены от старых к новым, все должны быть закрытыми.
// TR(i) = max(H-L, |H-Cprev|, |L-Cprev|), i >= 1.
func ATR(candles []exchange.Candle, period int) (float64, error) {
	if period < 1 {
		return 0, errors.Errorf("atr period must be positive, got %d", period)
	}
	if len(candles) < period+1 {
		return 0, errors.Wrapf(ErrInsufficientData, "have %d candles, need %d", len(candles), period+1)
	}

	high := make([]float64, len(candles))
	low := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		high[i], low[i], closes[i] = c.High, c.Low, c.Close
	}

	// TRange: out[0] не заполняется (нет предыдущего close), out[i] = TR(i)
	tr := talib.TRange(high, low, closes)
	last := tr[len(tr)-period:]

	var sum float64
	for _, v := range last {
		sum += v
	}
	return sum / float64(period), nil
}

// CandleSource - источник свечей (подмножество exchange.Exchange)
type CandleSource interface {
	GetName() string
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]exchange.Candle, error)
}

// Config - параметры расчёта ATR
type Config struct {
	Period    int
	Timeframe string
	// Retry - повторы запроса свечей
	Retry retry.Config
}

// Estimator считает ATR по живым свечам биржи
type Estimator struct {
	cfg   Config
	cache *Cache
	log   *utils.Logger
}

// NewEstimator создаёт Estimator. cache может быть nil.
func NewEstimator(cfg Config, cache *Cache) *Estimator {
	if cfg.Period < 1 {
		cfg.Period = 5
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = "1d"
	}
	return &Estimator{
		cfg:   cfg,
		cache: cache,
		log:   utils.L().WithComponent("atr"),
	}
}

// Period возвращает период ATR
func (e *Estimator) Period() int {
	return e.cfg.Period
}

// Compute запрашивает period+10 свечей, отбрасывает последнюю (ещё открытую)
// и считает ATR по закрытым.
func (e *Estimator) Compute(ctx context.Context, src CandleSource, symbol string) (float64, error) {
	key := cacheKey(src.GetName(), symbol, e.cfg.Timeframe, e.cfg.Period)
	if v, ok := e.cache.Get(key); ok {
		return v, nil
	}

	limit := e.cfg.Period + fetchMargin
	candles, err := retry.DoWithResult(ctx, func(ctx context.Context) ([]exchange.Candle, error) {
		return src.FetchOHLCV(ctx, symbol, e.cfg.Timeframe, limit)
	}, e.cfg.Retry)
	if err != nil {
		return 0, errors.Wrap(err, "fetch candles")
	}

	if len(candles) > 0 {
		candles = candles[:len(candles)-1]
	}

	atr, err := ATR(candles, e.cfg.Period)
	if err != nil {
		return 0, err
	}

	e.cache.Set(key, atr)
	e.log.Debug("atr computed",
		utils.Exchange(src.GetName()),
		utils.Symbol(symbol),
		utils.String("timeframe", e.cfg.Timeframe),
		utils.Int("period", e.cfg.Period),
		utils.Float64("atr", atr),
	)
	return atr, nil
}

// For привязывает Estimator к бирже: результат реализует risk.Volatility
func (e *Estimator) For(src CandleSource) *Source {
	return &Source{est: e, src: src}
}

// Source - ATR конкретной биржи
type Source struct {
	est *Estimator
	src CandleSource
}

func (s *Source) ATR(ctx context.Context, symbol string) (float64, error) {
	return s.est.Compute(ctx, s.src, symbol)
}
