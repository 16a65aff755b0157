package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/go-faster/errors"
)

// Config - параметры повторных попыток для вызовов бирж
//
// Экспоненциальный backoff с jitter:
// delay = min(InitialDelay * Multiplier^attempt, MaxDelay) ± jitter
//
// Каждая попытка получает собственный контекст с AttemptTimeout,
// так что зависший запрос не съедает весь бюджет операции.
type Config struct {
	// MaxAttempts - всего попыток, включая первую (минимум 1)
	MaxAttempts int

	// AttemptTimeout - таймаут одной попытки; 0 = без отдельного таймаута
	AttemptTimeout time.Duration

	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// JitterFactor 0.0 - 1.0
	JitterFactor float64

	// RetryIf решает, повторять ли ошибку. По умолчанию IsRetryable.
	RetryIf func(error) bool

	// OnRetry вызывается перед ожиданием следующей попытки
	OnRetry func(attempt int, err error, delay time.Duration)
}

// ExchangeReadConfig - чтение рыночных данных до входа (тикер, свечи, рынки)
func ExchangeReadConfig(timeout time.Duration, attempts int) Config {
	return Config{
		MaxAttempts:    attempts,
		AttemptTimeout: timeout,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		Multiplier:     2.0,
		JitterFactor:   0.1,
	}
}

// ProtectiveOrderConfig - выставление SL/TP после входа.
// Повтор безопасен только с тем же client order id.
func ProtectiveOrderConfig(timeout time.Duration, attempts int) Config {
	return Config{
		MaxAttempts:    attempts,
		AttemptTimeout: timeout,
		InitialDelay:   300 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFactor:   0.2,
	}
}

// SingleAttempt - одна попытка с таймаутом (вход в позицию не повторяется)
func SingleAttempt(timeout time.Duration) Config {
	return Config{MaxAttempts: 1, AttemptTimeout: timeout}
}

func (c *Config) normalize() {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.JitterFactor < 0 {
		c.JitterFactor = 0
	}
	if c.JitterFactor > 1 {
		c.JitterFactor = 1
	}
	if c.RetryIf == nil {
		c.RetryIf = IsRetryable
	}
}

func (c *Config) delay(attempt int) time.Duration {
	d := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt))
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	if c.JitterFactor > 0 {
		d += d * c.JitterFactor * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Do выполняет операцию с повторами
func Do(ctx context.Context, operation func(ctx context.Context) error, cfg Config) error {
	_, err := DoWithResult(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, operation(ctx)
	}, cfg)
	return err
}

// DoWithResult выполняет операцию с результатом и повторами.
// Возвращает последнюю ошибку, если все попытки неудачны.
//
//	ticker, err := retry.DoWithResult(ctx, func(ctx context.Context) (*exchange.Ticker, error) {
//	    return ex.FetchTicker(ctx, symbol)
//	}, retry.ExchangeReadConfig(10*time.Second, 3))
func DoWithResult[T any](ctx context.Context, operation func(ctx context.Context) (T, error), cfg Config) (T, error) {
	cfg.normalize()

	var zero T
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}

		result, err := runAttempt(ctx, operation, cfg.AttemptTimeout)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !cfg.RetryIf(err) || attempt == cfg.MaxAttempts-1 {
			break
		}

		d := cfg.delay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, d)
		}

		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		}
	}

	return zero, lastErr
}

func runAttempt[T any](ctx context.Context, operation func(ctx context.Context) (T, error), timeout time.Duration) (T, error) {
	if timeout <= 0 {
		return operation(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return operation(attemptCtx)
}

// ============================================================
// Классификация ошибок
// ============================================================

// RetryableError - ошибка, знающая можно ли её повторять
type RetryableError interface {
	error
	Retryable() bool
}

// IsRetryable: отмена родительского контекста и явные отказы не повторяются,
// таймауты попытки и сетевые ошибки - повторяются.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.Retryable()
	}

	return true
}

// PermanentError - ошибка, которую повторять бессмысленно
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string   { return e.Err.Error() }
func (e *PermanentError) Unwrap() error   { return e.Err }
func (e *PermanentError) Retryable() bool { return false }

// Permanent оборачивает ошибку в PermanentError
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}
