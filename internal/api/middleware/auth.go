package middleware

import (
	"net/http"
	"strings"

	"tvtrader/pkg/crypto"
	"tvtrader/pkg/utils"
)

// TokenHeader - заголовок с токеном (альтернатива ?token=)
const TokenHeader = "X-Auth-Token"

// TokenAuth - проверка секретного токена вебхука или API.
//
// Токен берётся из ?token=, X-Auth-Token или Authorization: Bearer.
// expected - открытый токен или bcrypt хеш (WEBHOOK_TOKEN_HASH);
// сравнение в constant time. Пустой expected отключает проверку.
// При несовпадении отвечает failStatus (401 для вебхука, 403 для /signal).
func TokenAuth(expected string, failStatus int) func(http.Handler) http.Handler {
	log := utils.L().WithComponent("auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if expected == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !crypto.TokenMatches(tokenFromRequest(r), expected) {
				log.Warn("invalid token",
					utils.String("path", r.URL.Path),
					utils.String("remote", r.RemoteAddr),
					utils.RequestID(RequestIDFromContext(r.Context())),
				)
				writeError(w, failStatus, "Invalid token", "invalid_token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func tokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if t := r.Header.Get(TokenHeader); t != "" {
		return t
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
