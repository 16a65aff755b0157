package service

import (
	"context"
	"sync"

	"tvtrader/internal/exchange"
	"tvtrader/internal/models"
)

// ============ Mock Executor ============

type mockExecutor struct {
	mu       sync.Mutex
	requests []*models.OrderRequest
	resp     *models.OrderResponse
}

func (m *mockExecutor) Execute(ctx context.Context, req *models.OrderRequest) *models.OrderResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *req
	m.requests = append(m.requests, &cp)
	if m.resp == nil {
		return &models.OrderResponse{Success: true, OrderID: "entry-1", StopsAttached: models.StopsFull}
	}
	return m.resp
}

func (m *mockExecutor) last() *models.OrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

// ============ Mock ExchangeProvider ============

// balanceExchange - биржа, у которой работает только GetBalance
type balanceExchange struct {
	exchange.Exchange
	balance *exchange.Balance
	err     error
}

func (b *balanceExchange) GetBalance(ctx context.Context) (*exchange.Balance, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.balance, nil
}

type mockProvider struct {
	exchanges map[string]exchange.Exchange
	acquired  []string
}

func (p *mockProvider) Acquire(ctx context.Context, name string) (exchange.Exchange, error) {
	p.acquired = append(p.acquired, name)
	ex, ok := p.exchanges[name]
	if !ok {
		return nil, exchange.ErrNoCredentials
	}
	return ex, nil
}
