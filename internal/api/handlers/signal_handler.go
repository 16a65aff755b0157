package handlers

import (
	"net/http"
	"strings"

	"tvtrader/internal/models"
	"tvtrader/internal/parser"
)

// SignalRequest - тело POST /signal
type SignalRequest struct {
	Symbol    string  `json:"symbol"`
	Direction string  `json:"direction"`
	Price     float64 `json:"price,omitempty"`
	Size      float64 `json:"size,omitempty"`
	Leverage  int     `json:"leverage,omitempty"`
	Exchange  string  `json:"exchange,omitempty"`
}

// SignalHandler - ручной сигнал от внешней системы
type SignalHandler struct {
	signals SignalExecutor
}

// NewSignalHandler создает новый SignalHandler
func NewSignalHandler(signals SignalExecutor) *SignalHandler {
	return &SignalHandler{signals: signals}
}

// Signal исполняет сигнал {symbol, direction}. Без цены вход рыночный по тикеру.
// POST /signal?token=...
func (h *SignalHandler) Signal(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	var req SignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", "invalid_body", err.Error())
		return
	}

	if strings.TrimSpace(req.Symbol) == "" {
		respondWithError(w, http.StatusBadRequest, "Symbol is required", "invalid_signal", "")
		return
	}
	direction, ok := models.ParseDirection(req.Direction)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Direction must be LONG or SHORT", "invalid_signal", req.Direction)
		return
	}

	sig := &models.TradeSignal{
		Symbol:     parser.NormalizeSymbol(req.Symbol),
		Direction:  direction,
		EntryPrice: req.Price,
		Size:       req.Size,
		Leverage:   req.Leverage,
		Exchange:   strings.ToLower(strings.TrimSpace(req.Exchange)),
	}
	execute(w, r, h.signals, sig)
}
