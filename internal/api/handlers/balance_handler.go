package handlers

import (
	"net/http"

	"github.com/go-faster/errors"

	"tvtrader/internal/exchange"
	"tvtrader/internal/service"
)

// BalanceHandler отдаёт баланс фьючерсного счёта
type BalanceHandler struct {
	balances BalanceReader
}

// NewBalanceHandler создает новый BalanceHandler
func NewBalanceHandler(balances BalanceReader) *BalanceHandler {
	return &BalanceHandler{balances: balances}
}

// GetBalance возвращает баланс USDT
// GET /balance?exchange=bybit&token=...
//
// Ответ:
//
//	{
//	  "exchange": "bybit",
//	  "currency": "USDT",
//	  "free": 750.0,
//	  "used": 250.0,
//	  "total": 1000.0
//	}
func (h *BalanceHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("exchange")

	info, err := h.balances.GetBalance(r.Context(), name)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrExchangeUnsupported):
			respondWithError(w, http.StatusBadRequest, "Unsupported exchange", "unsupported_exchange", err.Error())
		case errors.Is(err, exchange.ErrNoCredentials):
			respondWithError(w, http.StatusNotFound, "API keys not configured", "no_credentials", err.Error())
		default:
			respondWithError(w, http.StatusBadGateway, "Failed to get balance from exchange", "exchange_call_failed", err.Error())
		}
		return
	}

	respondWithJSON(w, http.StatusOK, info)
}
