package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики исполнения сигналов
// ============================================================

// ExecutionsTotal - исполнения по результату
var ExecutionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tvtrader",
		Subsystem: "execution",
		Name:      "total",
		Help:      "Total number of signal executions",
	},
	[]string{"exchange", "result"}, // result: success, failed
)

// ExecutionLatency - полное время исполнения сигнала
var ExecutionLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "tvtrader",
		Subsystem: "execution",
		Name:      "latency_ms",
		Help:      "Signal execution time in milliseconds",
		Buckets:   []float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000},
	},
	[]string{"exchange", "order_type"},
)

// ExecutionFailures - отказы по этапу и типу ошибки
var ExecutionFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tvtrader",
		Subsystem: "execution",
		Name:      "failures_total",
		Help:      "Failed executions by stage and error kind",
	},
	[]string{"stage", "kind"},
)

// StopsOutcome - итог прикрепления SL/TP
var StopsOutcome = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tvtrader",
		Subsystem: "execution",
		Name:      "stops_attached_total",
		Help:      "Protective order outcomes (none, partial, full, pending)",
	},
	[]string{"exchange", "outcome"},
)

// LeverageCapped - плечо урезано до максимума биржи
var LeverageCapped = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tvtrader",
		Subsystem: "execution",
		Name:      "leverage_capped_total",
		Help:      "Requests whose leverage was capped to the exchange maximum",
	},
	[]string{"exchange"},
)

// ExchangeCallLatency - время вызова биржи
var ExchangeCallLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "tvtrader",
		Subsystem: "exchange",
		Name:      "call_latency_ms",
		Help:      "Exchange API call latency in milliseconds",
		Buckets:   []float64{50, 100, 200, 300, 500, 1000, 2000, 5000},
	},
	[]string{"exchange", "op"},
)

// PendingStopWatchers - лимитные входы, ожидающие исполнения для SL/TP
var PendingStopWatchers = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tvtrader",
		Subsystem: "execution",
		Name:      "pending_stop_watchers",
		Help:      "Limit entries waiting for fill before protective orders are attached",
	},
)

// ExchangeConnections - статус подключений к биржам
var ExchangeConnections = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "tvtrader",
		Subsystem: "exchange",
		Name:      "connection_status",
		Help:      "Exchange connection status (1=connected, 0=disconnected)",
	},
	[]string{"exchange"},
)

// ============ Вспомогательные функции ============

// RecordExecution записывает итог исполнения
func RecordExecution(exchange, orderType string, success bool, latencyMs float64) {
	result := "success"
	if !success {
		result = "failed"
	}
	ExecutionsTotal.WithLabelValues(exchange, result).Inc()
	ExecutionLatency.WithLabelValues(exchange, orderType).Observe(latencyMs)
}

// RecordFailure записывает отказ
func RecordFailure(stage Stage, kind ErrorKind) {
	ExecutionFailures.WithLabelValues(string(stage), string(kind)).Inc()
}

// RecordExchangeCall записывает латентность вызова биржи
func RecordExchangeCall(exchange, op string, latencyMs float64) {
	ExchangeCallLatency.WithLabelValues(exchange, op).Observe(latencyMs)
}

// UpdateExchangeStatus обновляет статус биржи
func UpdateExchangeStatus(exchange string, connected bool) {
	if connected {
		ExchangeConnections.WithLabelValues(exchange).Set(1)
	} else {
		ExchangeConnections.WithLabelValues(exchange).Set(0)
	}
}
