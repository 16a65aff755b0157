package exchange

import (
	"context"
	"strings"
	"time"

	"tvtrader/pkg/ratelimit"
)

// Exchange - унифицированный интерфейс деривативной биржи
//
// Все методы с context.Context блокирующие и должны уважать дедлайн контекста.
// Символы передаются в унифицированном формате: BASE/USDT:USDT (USDT-M)
// или BASE/USD:BASE (COIN-M). Каждая реализация сама переводит их
// в идентификатор инструмента биржи.
type Exchange interface {
	// GetName возвращает название биржи (bybit, okx, bitget, binance)
	GetName() string

	// LoadMarkets загружает метаданные инструментов (плечо, шаги цены и количества)
	LoadMarkets(ctx context.Context) error

	// GetMarket возвращает метаданные инструмента из загруженного снимка
	GetMarket(symbol string) (*Market, error)

	// FetchTicker возвращает последнюю цену
	FetchTicker(ctx context.Context, symbol string) (*Ticker, error)

	// FetchOHLCV возвращает свечи от старых к новым. Последняя свеча может быть незакрытой.
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)

	// SetLeverage устанавливает плечо. "Уже установлено" не считается ошибкой.
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// Торговые операции. amount - в нативных контрактах биржи.
	CreateMarketOrder(ctx context.Context, symbol, side string, amount float64, params OrderParams) (*Order, error)
	CreateLimitOrder(ctx context.Context, symbol, side string, amount, price float64, params OrderParams) (*Order, error)
	CreateStopOrder(ctx context.Context, symbol, side string, amount, triggerPrice float64, params OrderParams) (*Order, error)
	CreateTakeProfitOrder(ctx context.Context, symbol, side string, amount, price float64, params OrderParams) (*Order, error)

	// SetPositionStops прикрепляет SL/TP ко всей позиции одним вызовом.
	// Возвращает ErrNotSupported, если биржа этого не умеет.
	SetPositionStops(ctx context.Context, symbol string, stops PositionStops) (*PositionStopsResult, error)

	// SupportsPositionStops сообщает, доступен ли SetPositionStops
	SupportsPositionStops() bool

	// FetchOrderStatus возвращает текущее состояние ордера
	FetchOrderStatus(ctx context.Context, orderID, symbol string) (*Order, error)

	// CancelOrder снимает активный ордер (остаток неисполненного лимитного входа)
	CancelOrder(ctx context.Context, orderID, symbol string) error

	// GetBalance возвращает баланс расчётной валюты (USDT)
	GetBalance(ctx context.Context) (*Balance, error)

	// Close освобождает ресурсы
	Close() error
}

// Credentials - ключи доступа к бирже
type Credentials struct {
	APIKey     string
	Secret     string
	Passphrase string // OKX, Bitget
	Testnet    bool
}

// Options - поведение конкретного подключения
type Options struct {
	HedgeMode  bool   // Bybit: positionIdx 1/2 вместо 0
	MarginMode string // isolated | cross
	BaseURL    string // переопределение REST адреса (тесты, прокси)

	// RateLimits - лимиты запросов; нулевое значение = ratelimit.DefaultLimits
	RateLimits ratelimit.Limits
}

// OrderParams - дополнительные параметры ордера
type OrderParams struct {
	ClientOrderID string
	ReduceOnly    bool

	// PositionSide - сторона входа позиции, к которой относится ордер (buy = long).
	// Нужна для hedge mode: закрывающий sell по long позиции идёт с positionIdx 1.
	PositionSide string
}

// PositionStops - SL/TP уровни для позиции. 0 = не устанавливать.
type PositionStops struct {
	PositionSide string // buy = long, sell = short
	StopLoss     float64
	TakeProfit   float64
}

// PositionStopsResult - ответ биржи на установку SL/TP позиции
type PositionStopsResult struct {
	ID string `json:"id,omitempty"`
}

// Ticker содержит текущую цену
type Ticker struct {
	Symbol    string    `json:"symbol"`
	Last      float64   `json:"last"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Timestamp time.Time `json:"timestamp"`
}

// Candle - OHLCV свеча
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Order - ордер в унифицированном виде
type Order struct {
	ID            string    `json:"id"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Type          string    `json:"type"`
	Status        string    `json:"status"`
	Amount        float64   `json:"amount"`
	Filled        float64   `json:"filled"`
	Price         float64   `json:"price"`
	AvgPrice      float64   `json:"avg_price"`
	Timestamp     time.Time `json:"timestamp"`
}

// FillPrice возвращает цену исполнения: средняя, если известна, иначе цена ордера
func (o *Order) FillPrice() float64 {
	if o == nil {
		return 0
	}
	if o.AvgPrice > 0 {
		return o.AvgPrice
	}
	return o.Price
}

// Balance - баланс расчётной валюты
type Balance struct {
	Currency  string  `json:"currency"`
	Total     float64 `json:"total"`
	Available float64 `json:"available"`
}

// ExchangeError представляет ошибку от биржи
type ExchangeError struct {
	Exchange string
	Code     string
	Message  string
	Original error
}

func (e *ExchangeError) Error() string {
	if e.Code != "" {
		return e.Exchange + ": " + e.Message + " (code " + e.Code + ")"
	}
	return e.Exchange + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *ExchangeError) Unwrap() error {
	return e.Original
}

// Retryable: отказ с кодом API - ответ биржи по существу, повтор не поможет.
// Транспортные ошибки (без кода) повторяемы.
func (e *ExchangeError) Retryable() bool {
	return e.Code == ""
}

// IsLeverageNotModified - биржа сообщает, что плечо уже установлено
func IsLeverageNotModified(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not modified") || strings.Contains(msg, "110043")
}

// Side constants for orders
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Order type constants
const (
	OrderTypeMarket     = "market"
	OrderTypeLimit      = "limit"
	OrderTypeStop       = "stop"
	OrderTypeTakeProfit = "take_profit"
)

// Order status constants
const (
	OrderStatusOpen      = "open"
	OrderStatusPartial   = "partially_filled"
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
	OrderStatusRejected  = "rejected"
)

// IsFinal - ордер больше не изменится
func IsFinal(status string) bool {
	return status == OrderStatusFilled || status == OrderStatusCancelled || status == OrderStatusRejected
}

// OppositeSide возвращает сторону закрывающего ордера
func OppositeSide(side string) string {
	if side == SideBuy {
		return SideSell
	}
	return SideBuy
}
