package handlers

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"

	"tvtrader/internal/models"
	"tvtrader/internal/parser"
	"tvtrader/internal/service"
	"tvtrader/pkg/utils"
)

// ExecutionResponse - ответ на вебхук и /signal
type ExecutionResponse struct {
	Status  string                `json:"status"` // ok | rejected | failed
	Message string                `json:"message,omitempty"`
	Signal  *models.TradeSignal   `json:"signal,omitempty"`
	Result  *models.OrderResponse `json:"result,omitempty"`
}

// WebhookHandler принимает алерты TradingView
//
// Endpoints:
// - POST /webhook/tradingview?token=... - тело: текст алерта или JSON
type WebhookHandler struct {
	signals SignalExecutor
	log     *utils.Logger
}

// NewWebhookHandler создает новый WebhookHandler
func NewWebhookHandler(signals SignalExecutor) *WebhookHandler {
	return &WebhookHandler{
		signals: signals,
		log:     utils.L().WithComponent("webhook"),
	}
}

// TradingView разбирает алерт и исполняет сигнал.
//
// Тело запроса (любой из вариантов):
//
//	BTCUSDT Crossing Up 97,000.5
//	{"message": "BTCUSDT Crossing Up 97000.5"}
//	{"symbol": "BTCUSDT", "action": "buy", "price": 97000.5}
//
// Ответы:
// - 200 OK: позиция открыта (stops_attached в result)
// - 400 Bad Request: алерт не разобран или сигнал невалиден
// - 422/502/500: исполнение отклонено, причина в result.error_code
func (h *WebhookHandler) TradingView(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", "invalid_body", err.Error())
		return
	}

	sig, err := parser.ParseBody(body)
	if err != nil {
		h.log.Warn("alert not parsed", utils.Err(err))
		respondWithError(w, http.StatusBadRequest, "Alert not recognized", "parse_error", err.Error())
		return
	}

	h.log.Info("alert received",
		utils.Symbol(sig.Symbol),
		utils.String("direction", string(sig.Direction)),
		utils.Price(sig.EntryPrice),
	)
	execute(w, r, h.signals, sig)
}

// execute - общая часть вебхука и /signal
func execute(w http.ResponseWriter, r *http.Request, signals SignalExecutor, sig *models.TradeSignal) {
	resp, err := signals.Execute(r.Context(), sig)
	if err != nil {
		code := "invalid_signal"
		if errors.Is(err, service.ErrExchangeUnsupported) {
			code = "unsupported_exchange"
		}
		respondWithError(w, http.StatusBadRequest, "Signal rejected", code, err.Error())
		return
	}

	out := ExecutionResponse{Status: "ok", Signal: sig, Result: resp, Message: resp.Message}
	if !resp.Success {
		out.Status = "failed"
		out.Message = service.FriendlyError(resp)
	}
	respondWithJSON(w, executionStatus(resp), out)
}
