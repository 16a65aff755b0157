package handlers

import (
	"context"

	"tvtrader/internal/models"
	"tvtrader/internal/service"
)

// SignalExecutor - проверка и исполнение сигнала (service.SignalService)
type SignalExecutor interface {
	Execute(ctx context.Context, sig *models.TradeSignal) (*models.OrderResponse, error)
}

// BalanceReader - чтение баланса биржи (service.BalanceService)
type BalanceReader interface {
	GetBalance(ctx context.Context, exchange string) (*service.BalanceInfo, error)
}
