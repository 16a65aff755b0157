package service

import (
	"context"
	"strings"

	"github.com/go-faster/errors"

	"tvtrader/internal/exchange"
	"tvtrader/pkg/utils"
)

// BalanceInfo - баланс USDT фьючерсного счёта
type BalanceInfo struct {
	Exchange string  `json:"exchange"`
	Currency string  `json:"currency"`
	Free     float64 `json:"free"`
	Used     float64 `json:"used"`
	Total    float64 `json:"total"`
}

// BalanceService читает балансы через пул подключений
type BalanceService struct {
	provider        ExchangeProvider
	defaultExchange string
	log             *utils.Logger
}

// NewBalanceService создаёт сервис. defaultExchange используется при пустом имени.
func NewBalanceService(provider ExchangeProvider, defaultExchange string) *BalanceService {
	return &BalanceService{
		provider:        provider,
		defaultExchange: strings.ToLower(defaultExchange),
		log:             utils.L().WithComponent("balance_service"),
	}
}

// GetBalance возвращает баланс биржи
func (s *BalanceService) GetBalance(ctx context.Context, name string) (*BalanceInfo, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = s.defaultExchange
	}
	if !exchange.IsSupported(name) {
		return nil, errors.Wrapf(ErrExchangeUnsupported, "%q", name)
	}

	ex, err := s.provider.Acquire(ctx, name)
	if err != nil {
		return nil, errors.Wrapf(err, "acquire %s", name)
	}

	bal, err := ex.GetBalance(ctx)
	if err != nil {
		s.log.Warn("balance fetch failed", utils.Exchange(name), utils.Err(err))
		return nil, errors.Wrapf(err, "fetch %s balance", name)
	}

	used := bal.Total - bal.Available
	if used < 0 {
		used = 0
	}
	return &BalanceInfo{
		Exchange: name,
		Currency: bal.Currency,
		Free:     bal.Available,
		Used:     used,
		Total:    bal.Total,
	}, nil
}
