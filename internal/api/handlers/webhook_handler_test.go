package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tvtrader/internal/models"
	"tvtrader/internal/service"
)

func postWebhook(h *WebhookHandler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/tradingview", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.TradingView(w, req)
	return w
}

func TestWebhookHandler_TradingView(t *testing.T) {
	tests := []struct {
		name string
		body string
		want models.TradeSignal
	}{
		{
			name: "текстовый алерт",
			body: "BTCUSDT Crossing Down 90,350.00",
			want: models.TradeSignal{Symbol: "BTCUSDT", Direction: models.DirectionShort, EntryPrice: 90350},
		},
		{
			name: "JSON с message",
			body: `{"message": "ONTUSDT.P Crossing Up 0.07624 lev=20"}`,
			want: models.TradeSignal{Symbol: "ONTUSDT", Direction: models.DirectionLong, EntryPrice: 0.07624, Leverage: 20},
		},
		{
			name: "структурированный JSON",
			body: `{"symbol": "ETHUSDT", "action": "buy", "price": "3100"}`,
			want: models.TradeSignal{Symbol: "ETHUSDT", Direction: models.DirectionLong, EntryPrice: 3100},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockSignalExecutor()
			w := postWebhook(NewWebhookHandler(mock), tt.body)

			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			require.NotNil(t, mock.Last())
			assert.Equal(t, tt.want, *mock.Last())

			var resp ExecutionResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, "ok", resp.Status)
			require.NotNil(t, resp.Result)
			assert.Equal(t, models.StopsFull, resp.Result.StopsAttached)
		})
	}
}

func TestWebhookHandler_ParseError(t *testing.T) {
	mock := NewMockSignalExecutor()
	w := postWebhook(NewWebhookHandler(mock), "hello world")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, mock.Last())

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "parse_error", resp.Code)
}

func TestWebhookHandler_SignalRejected(t *testing.T) {
	mock := NewMockSignalExecutor()
	mock.err = errors.Wrap(service.ErrExchangeUnsupported, `"kraken"`)
	w := postWebhook(NewWebhookHandler(mock), "BTCUSDT Crossing Up 97000")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "unsupported_exchange", resp.Code)
}

func TestWebhookHandler_ExecutionStatus(t *testing.T) {
	tests := []struct {
		code       string
		errMsg     string
		wantStatus int
		wantMsg    string
	}{
		{"invalid_request", "unknown side", http.StatusBadRequest, "unknown side"},
		{"position_too_large", "notional 400 > max 300", http.StatusUnprocessableEntity, "position size above the configured maximum"},
		{"insufficient_data", "need 6 candles", http.StatusUnprocessableEntity, "not enough candles to compute ATR"},
		{"exchange_call_failed", "bybit: ab not enough (code 110007)", http.StatusBadGateway, "insufficient balance"},
		{"price_unavailable", "ticker timeout", http.StatusBadGateway, "ticker timeout"},
		{"internal", "panic: boom", http.StatusInternalServerError, "panic: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			mock := NewMockSignalExecutor()
			mock.resp = &models.OrderResponse{Success: false, ErrorCode: tt.code, Error: tt.errMsg, StopsAttached: models.StopsNone}

			w := postWebhook(NewWebhookHandler(mock), "BTCUSDT Crossing Up 97000")
			assert.Equal(t, tt.wantStatus, w.Code)

			var resp ExecutionResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, "failed", resp.Status)
			assert.Equal(t, tt.wantMsg, resp.Message)
		})
	}
}

func TestWebhookHandler_BodyTooLarge(t *testing.T) {
	mock := NewMockSignalExecutor()
	w := postWebhook(NewWebhookHandler(mock), strings.Repeat("a", MaxRequestBodySize+1))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, mock.Last())
}
