package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-faster/errors"

	"tvtrader/internal/api"
	"tvtrader/internal/bot"
	"tvtrader/internal/config"
	"tvtrader/internal/events"
	"tvtrader/internal/exchange"
	"tvtrader/internal/indicator"
	"tvtrader/internal/models"
	"tvtrader/internal/risk"
	"tvtrader/internal/service"
	"tvtrader/internal/websocket"
	"tvtrader/pkg/retry"
	"tvtrader/pkg/utils"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := utils.InitGlobalLogger(cfg.LogConfig())
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", utils.Err(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *utils.Logger) error {
	// Подключения к биржам создаются лениво при первом сигнале
	accounts := cfg.Accounts()
	pool := exchange.NewPool(accounts, nil, exchange.PoolConfig{
		CallTimeout: cfg.Execution.CallTimeout,
		Attempts:    cfg.Execution.MaxRetries + 1,
	})
	defer pool.ShutdownAll()
	if len(accounts) == 0 {
		log.Warn("no exchange credentials configured, every signal will fail at client_ready")
	}
	for name := range accounts {
		log.Info("exchange configured", utils.Exchange(name))
	}

	// ATR
	cache, err := indicator.NewCache(cfg.Execution.ATRCacheTTL)
	if err != nil {
		return errors.Wrap(err, "create ATR cache")
	}
	defer cache.Close()
	estimator := indicator.NewEstimator(indicator.Config{
		Period:    cfg.Risk.ATRPeriod,
		Timeframe: cfg.Risk.ATRTimeframe,
		Retry:     retry.ExchangeReadConfig(cfg.Execution.CallTimeout, cfg.Execution.MaxRetries+1),
	}, cache)

	// События: WebSocket всегда, Kafka если задана
	hub := websocket.NewHub(cfg.Security.AllowedOrigins)
	publisher := events.NewMulti(hub)
	if len(cfg.Events.KafkaBrokers) > 0 {
		kafka, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers: cfg.Events.KafkaBrokers,
			Topic:   cfg.Events.KafkaTopic,
		})
		if err != nil {
			return errors.Wrap(err, "create kafka publisher")
		}
		publisher.Add(kafka)
		log.Info("kafka events enabled", utils.String("topic", cfg.Events.KafkaTopic))
	}
	defer publisher.Close()

	executor, err := bot.NewExecutor(bot.Config{
		Exchange:            cfg.Trading.Exchange,
		ContractType:        models.ContractType(cfg.Trading.ContractType),
		OrderType:           models.OrderType(cfg.Trading.OrderType),
		DefaultLeverage:     cfg.Trading.DefaultLeverage,
		Risk:                cfg.RiskParams(),
		CallTimeout:         cfg.Execution.CallTimeout,
		MaxRetries:          cfg.Execution.MaxRetries,
		RetryBackoff:        cfg.Execution.RetryBackoff,
		PendingPollInterval: cfg.Execution.PendingPollInterval,
		PendingTimeout:      cfg.Execution.PendingTimeout,
	}, pool, func(ex exchange.Exchange) risk.Volatility {
		return estimator.For(ex)
	}, publisher)
	if err != nil {
		return errors.Wrap(err, "create executor")
	}

	signals := service.NewSignalService(executor, service.SignalDefaults{
		Exchange:        cfg.Trading.Exchange,
		ContractType:    models.ContractType(cfg.Trading.ContractType),
		OrderType:       models.OrderType(cfg.Trading.OrderType),
		Leverage:        cfg.Trading.DefaultLeverage,
		MaxPositionUSDT: cfg.Risk.MaxPositionUSDT,
	})
	balances := service.NewBalanceService(pool, cfg.Trading.Exchange)

	router := api.SetupRoutes(&api.Dependencies{
		Signals:        signals,
		Balances:       balances,
		Executions:     hub.ServeWS,
		WebhookToken:   cfg.WebhookToken(),
		SignalToken:    cfg.Security.TradeSignalToken,
		AllowedOrigins: cfg.Security.AllowedOrigins,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go hub.Run(ctx)

	// HTTP сервер
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting server",
			utils.String("addr", server.Addr),
			utils.Exchange(cfg.Trading.Exchange),
			utils.String("risk_mode", cfg.Risk.Mode),
			utils.String("order_type", cfg.Trading.OrderType),
		)
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return errors.Wrap(err, "listen")
		}
	}

	// Graceful shutdown: HTTP -> наблюдатели лимитных входов -> события -> биржи (defer)
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", utils.Err(err))
	}
	if err := executor.Shutdown(shutdownCtx); err != nil {
		log.Warn("pending stop watchers did not finish", utils.Err(err))
	}
	if err := hub.Close(); err != nil {
		log.Warn("websocket hub close failed", utils.Err(err))
	}

	log.Info("server exited")
	return nil
}
