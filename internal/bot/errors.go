package bot

import (
	"github.com/go-faster/errors"

	"tvtrader/internal/exchange"
	"tvtrader/internal/indicator"
	"tvtrader/internal/risk"
)

var (
	// ErrPriceUnavailable - цену входа получить не удалось
	ErrPriceUnavailable = errors.New("entry price unavailable")
	// ErrMissingEntryPrice - лимитный вход без цены
	ErrMissingEntryPrice = errors.New("limit order requires entry price")
	// ErrInvalidRequest - запрос не прошёл проверку
	ErrInvalidRequest = errors.New("invalid order request")
	// ErrLeverageCapped - плечо урезано до максимума инструмента (не фатально)
	ErrLeverageCapped = errors.New("leverage capped to exchange maximum")
)

// ErrorKind - код причины отказа в OrderResponse.ErrorCode
type ErrorKind string

const (
	KindInsufficientData  ErrorKind = "insufficient_data"
	KindPositionTooLarge  ErrorKind = "position_too_large"
	KindPositionTooSmall  ErrorKind = "position_too_small"
	KindInvalidLevels     ErrorKind = "invalid_levels"
	KindPriceUnavailable  ErrorKind = "price_unavailable"
	KindMissingEntryPrice ErrorKind = "missing_entry_price"
	KindExchangeCall      ErrorKind = "exchange_call_failed"
	KindInvalidRequest    ErrorKind = "invalid_request"
	KindInternal          ErrorKind = "internal"
)

// Classify определяет тип ошибки исполнения
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, indicator.ErrInsufficientData), errors.Is(err, risk.ErrInvalidVolatility):
		return KindInsufficientData
	case errors.Is(err, risk.ErrPositionTooLarge):
		return KindPositionTooLarge
	case errors.Is(err, risk.ErrPositionTooSmall):
		return KindPositionTooSmall
	case errors.Is(err, risk.ErrInvalidLevels):
		return KindInvalidLevels
	case errors.Is(err, ErrPriceUnavailable):
		return KindPriceUnavailable
	case errors.Is(err, ErrMissingEntryPrice):
		return KindMissingEntryPrice
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, risk.ErrInvalidRequest), errors.Is(err, risk.ErrUnknownMode):
		return KindInvalidRequest
	}

	var exErr *exchange.ExchangeError
	if errors.As(err, &exErr) || errors.Is(err, exchange.ErrNotSupported) || errors.Is(err, exchange.ErrNoCredentials) {
		return KindExchangeCall
	}
	return KindInternal
}
