package handlers

import (
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"tvtrader/internal/bot"
	"tvtrader/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MaxRequestBodySize ограничение размера тела запроса (64 KB; алерт - одна строка)
const MaxRequestBodySize = 64 << 10

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse стандартный формат успешного ответа
type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// respondWithJSON отправляет JSON ответ
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal response"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

// respondWithError отправляет JSON ответ с ошибкой
func respondWithError(w http.ResponseWriter, code int, message, errCode, details string) {
	respondWithJSON(w, code, ErrorResponse{
		Error:   message,
		Code:    errCode,
		Details: details,
	})
}

// executionStatus - HTTP статус по итогу исполнения
func executionStatus(resp *models.OrderResponse) int {
	if resp.Success {
		return http.StatusOK
	}
	switch bot.ErrorKind(resp.ErrorCode) {
	case bot.KindInvalidRequest:
		return http.StatusBadRequest
	case bot.KindInsufficientData, bot.KindPositionTooLarge, bot.KindPositionTooSmall,
		bot.KindInvalidLevels, bot.KindMissingEntryPrice:
		return http.StatusUnprocessableEntity
	case bot.KindPriceUnavailable, bot.KindExchangeCall:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
