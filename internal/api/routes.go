package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tvtrader/internal/api/handlers"
	"tvtrader/internal/api/middleware"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Signals  handlers.SignalExecutor
	Balances handlers.BalanceReader

	// Executions - WebSocket поток итогов исполнения (websocket.Hub.ServeWS)
	Executions http.HandlerFunc

	// WebhookToken защищает /webhook/tradingview (401 при несовпадении).
	// SignalToken защищает /signal, /balance и /ws/executions (403).
	// Открытый токен или bcrypt хеш; пустой отключает проверку.
	WebhookToken string
	SignalToken  string

	AllowedOrigins []string

	// Metrics по умолчанию promhttp.Handler()
	Metrics http.Handler
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
//	├── GET  /                     - статус сервиса
//	├── GET  /health               - проверка живости
//	├── GET  /metrics              - Prometheus
//	├── POST /webhook/tradingview  - алерт TradingView (WebhookToken)
//	├── POST /signal               - ручной сигнал (SignalToken)
//	├── GET  /balance              - баланс биржи (SignalToken)
//	└── GET  /ws/executions        - WebSocket поток исполнений (SignalToken)
//
// Middleware применяется в следующем порядке:
// 1. Recovery
// 2. RequestID
// 3. Logging
// 4. CORS
// 5. TokenAuth (только для защищенных маршрутов)
func SetupRoutes(deps *Dependencies) *mux.Router {
	if deps == nil {
		deps = &Dependencies{}
	}

	router := mux.NewRouter()

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery)
	router.Use(middleware.RequestID)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS(deps.AllowedOrigins))

	router.HandleFunc("/", handlers.Root).Methods(http.MethodGet)
	router.HandleFunc("/health", handlers.Health).Methods(http.MethodGet)

	metrics := deps.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	router.Handle("/metrics", metrics).Methods(http.MethodGet)

	webhookAuth := middleware.TokenAuth(deps.WebhookToken, http.StatusUnauthorized)
	signalAuth := middleware.TokenAuth(deps.SignalToken, http.StatusForbidden)

	if deps.Signals != nil {
		router.Handle("/webhook/tradingview", webhookAuth(http.HandlerFunc(handlers.NewWebhookHandler(deps.Signals).TradingView))).
			Methods(http.MethodPost, http.MethodOptions)
		router.Handle("/signal", signalAuth(http.HandlerFunc(handlers.NewSignalHandler(deps.Signals).Signal))).
			Methods(http.MethodPost, http.MethodOptions)
	}
	if deps.Balances != nil {
		router.Handle("/balance", signalAuth(http.HandlerFunc(handlers.NewBalanceHandler(deps.Balances).GetBalance))).
			Methods(http.MethodGet)
	}
	if deps.Executions != nil {
		router.Handle("/ws/executions", signalAuth(deps.Executions)).Methods(http.MethodGet)
	}

	return router
}
