package service

import (
	"context"

	"tvtrader/internal/exchange"
	"tvtrader/internal/models"
)

// Executor исполняет запрос на сделку. Реализация: bot.Executor.
type Executor interface {
	Execute(ctx context.Context, req *models.OrderRequest) *models.OrderResponse
}

// ExchangeProvider выдаёт подключенную биржу по имени. Реализация: exchange.Pool.
type ExchangeProvider interface {
	Acquire(ctx context.Context, name string) (exchange.Exchange, error)
}
