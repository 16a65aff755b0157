package handlers

import (
	"context"
	"sync"

	"tvtrader/internal/models"
	"tvtrader/internal/service"
)

// ============ Mock SignalExecutor ============

type MockSignalExecutor struct {
	mu      sync.Mutex
	signals []*models.TradeSignal
	resp    *models.OrderResponse
	err     error
}

func NewMockSignalExecutor() *MockSignalExecutor {
	return &MockSignalExecutor{
		resp: &models.OrderResponse{
			Success:       true,
			OrderID:       "entry-1",
			StopsAttached: models.StopsFull,
			Message:       "position opened",
		},
	}
}

func (m *MockSignalExecutor) Execute(ctx context.Context, sig *models.TradeSignal) (*models.OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals = append(m.signals, sig)
	if m.err != nil {
		return nil, m.err
	}
	return m.resp, nil
}

func (m *MockSignalExecutor) Last() *models.TradeSignal {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.signals) == 0 {
		return nil
	}
	return m.signals[len(m.signals)-1]
}

// ============ Mock BalanceReader ============

type MockBalanceReader struct {
	info *service.BalanceInfo
	err  error
	last string
}

func (m *MockBalanceReader) GetBalance(ctx context.Context, exchange string) (*service.BalanceInfo, error) {
	m.last = exchange
	if m.err != nil {
		return nil, m.err
	}
	return m.info, nil
}
