package models

import "time"

// Side - направление ордера на бирже
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite возвращает противоположную сторону (для закрывающих ордеров SL/TP)
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid проверяет что сторона известна
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// ContractType - тип фьючерсного контракта
type ContractType string

const (
	ContractUSDTM ContractType = "USDT-M"
	ContractCOINM ContractType = "COIN-M"
)

// OrderType - тип входного ордера
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// StopsAttached - итог прикрепления SL/TP к открытой позиции
type StopsAttached string

const (
	StopsNone    StopsAttached = "none"
	StopsPartial StopsAttached = "partial"
	StopsFull    StopsAttached = "full"
	// StopsPending - лимитный вход ещё не исполнен, SL/TP прикрепит фоновый наблюдатель
	StopsPending StopsAttached = "pending"
)

// OrderRequest - запрос на исполнение сделки
//
// Создаётся на каждый входящий сигнал и передаётся исполнителю по указателю.
// Amount до расчёта риска содержит номинал в USDT (если задан),
// после расчёта - количество базового актива. StopLoss/TakeProfit
// перезаписываются стратегией риска до выставления ордеров.
type OrderRequest struct {
	Symbol       string       `json:"symbol"`
	Side         Side         `json:"side"`
	Amount       float64      `json:"amount"`
	Leverage     int          `json:"leverage"`
	StopLoss     float64      `json:"stop_loss"`
	TakeProfit   float64      `json:"take_profit"`
	ContractType ContractType `json:"contract_type"`
	Exchange     string       `json:"exchange"`
	EntryPrice   float64      `json:"entry_price,omitempty"` // только для лимитных ордеров
	OrderType    OrderType    `json:"order_type,omitempty"`  // пусто = из конфигурации
	RequestID    string       `json:"request_id,omitempty"`
}

// OrderResponse - итог исполнения, отдаётся вызывающей стороне
type OrderResponse struct {
	Success           bool          `json:"success"`
	OrderID           string        `json:"order_id,omitempty"`
	StopLossOrderID   string        `json:"stop_loss_order_id,omitempty"`
	TakeProfitOrderID string        `json:"take_profit_order_id,omitempty"`
	StopsAttached     StopsAttached `json:"stops_attached"`

	Exchange       string  `json:"exchange,omitempty"`
	Symbol         string  `json:"symbol,omitempty"`
	Side           Side    `json:"side,omitempty"`
	Amount         float64 `json:"amount,omitempty"`
	EntryPrice     float64 `json:"entry_price,omitempty"`
	FillPriceKnown bool    `json:"fill_price_known"`
	StopLoss       float64 `json:"stop_loss,omitempty"`
	TakeProfit     float64 `json:"take_profit,omitempty"`
	Leverage       int     `json:"leverage,omitempty"`
	LeverageCapped bool    `json:"leverage_capped,omitempty"`

	Stage           string    `json:"stage"`
	Message         string    `json:"message,omitempty"`
	Error           string    `json:"error,omitempty"`
	ErrorCode       string    `json:"error_code,omitempty"`
	ExecutionTimeMs float64   `json:"execution_time_ms"`
	CompletedAt     time.Time `json:"completed_at"`
}
