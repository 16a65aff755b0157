package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"tvtrader/pkg/utils"
)

// Recovery перехватывает panic в handlers: пишет stack trace и отвечает 500
func Recovery(next http.Handler) http.Handler {
	log := utils.L().WithComponent("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("panic in handler",
					utils.String("panic", fmt.Sprint(err)),
					utils.String("path", r.URL.Path),
					utils.RequestID(RequestIDFromContext(r.Context())),
					utils.String("stack", string(debug.Stack())),
				)
				writeError(w, http.StatusInternalServerError, "Internal Server Error", "internal")
			}
		}()

		next.ServeHTTP(w, r)
	})
}
