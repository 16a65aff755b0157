package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

// RequestIDHeader - заголовок с идентификатором запроса
const RequestIDHeader = "X-Request-ID"

type ctxKey int

const requestIDKey ctxKey = iota

// RequestID присваивает запросу идентификатор (берёт из заголовка, если прислан)
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// RequestIDFromContext возвращает идентификатор запроса или пустую строку
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// writeError - JSON ошибка в формате handlers.ErrorResponse
func writeError(w http.ResponseWriter, status int, message, code string) {
	body, _ := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(map[string]string{
		"error": message,
		"code":  code,
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
