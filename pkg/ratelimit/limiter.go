package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Категории запросов к бирже: у бирж разные лимиты на торговые и рыночные эндпоинты
const (
	CategoryMarket  = "market"  // тикеры, свечи, инструменты
	CategoryTrade   = "trade"   // ордера, плечо, SL/TP
	CategoryAccount = "account" // баланс, позиции
)

// Limits - лимиты одной биржи (запросов в секунду)
type Limits struct {
	MarketRPS  float64
	TradeRPS   float64
	AccountRPS float64
}

// DefaultLimits возвращает консервативные лимиты для биржи
//
// Документированные лимиты:
//   - Bybit:   10 req/sec на ордера
//   - OKX:     60 req/2sec на ордер, 20 req/2sec на инструменты
//   - Bitget:  10 req/sec на ордера
//   - Binance: 1200 weight/min
func DefaultLimits(exchange string) Limits {
	switch exchange {
	case "okx":
		return Limits{MarketRPS: 10, TradeRPS: 20, AccountRPS: 5}
	case "binance":
		return Limits{MarketRPS: 15, TradeRPS: 10, AccountRPS: 5}
	default:
		return Limits{MarketRPS: 10, TradeRPS: 10, AccountRPS: 5}
	}
}

// MultiLimiter управляет token-bucket лимитерами по категориям запросов
//
//	ml := ratelimit.ForExchange("bybit", ratelimit.DefaultLimits("bybit"))
//	if err := ml.Wait(ctx, ratelimit.CategoryTrade); err != nil { ... }
type MultiLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
}

// NewMultiLimiter создаёт пустой MultiLimiter
func NewMultiLimiter() *MultiLimiter {
	return &MultiLimiter{
		limiters: make(map[string]*rate.Limiter),
	}
}

// ForExchange создаёт лимитер со всеми категориями биржи
func ForExchange(exchange string, limits Limits) *MultiLimiter {
	if limits == (Limits{}) {
		limits = DefaultLimits(exchange)
	}
	ml := NewMultiLimiter()
	ml.Add(CategoryMarket, limits.MarketRPS, 0)
	ml.Add(CategoryTrade, limits.TradeRPS, 0)
	ml.Add(CategoryAccount, limits.AccountRPS, 0)
	return ml
}

// Add добавляет лимитер для категории. burst <= 0 означает 2x rps.
func (ml *MultiLimiter) Add(category string, rps float64, burst int) {
	if rps <= 0 {
		return
	}
	if burst <= 0 {
		burst = int(rps * 2)
		if burst < 1 {
			burst = 1
		}
	}

	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.limiters[category] = rate.NewLimiter(rate.Limit(rps), burst)
}

// Wait блокирует до получения токена или отмены контекста
func (ml *MultiLimiter) Wait(ctx context.Context, category string) error {
	limiter := ml.Get(category)
	if limiter == nil {
		return nil // нет лимита для этой категории
	}
	return limiter.Wait(ctx)
}

// Allow - неблокирующая проверка
func (ml *MultiLimiter) Allow(category string) bool {
	limiter := ml.Get(category)
	if limiter == nil {
		return true
	}
	return limiter.Allow()
}

// Get возвращает лимитер категории или nil
func (ml *MultiLimiter) Get(category string) *rate.Limiter {
	ml.mu.RLock()
	defer ml.mu.RUnlock()
	return ml.limiters[category]
}
