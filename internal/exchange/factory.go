package exchange

import (
	"strings"

	"github.com/go-faster/errors"

	"tvtrader/pkg/ratelimit"
)

// SupportedExchanges - список поддерживаемых бирж
var SupportedExchanges = []string{
	"binance",
	"okx",
	"bybit",
	"bitget",
}

// Factory создаёт подключение к бирже по имени (подменяется в тестах)
type Factory func(name string, creds Credentials, opts Options) (Exchange, error)

// NewExchange создает новый экземпляр биржи по имени.
// hc и limiter могут быть nil: тогда используются общий HTTP клиент
// и лимиты по умолчанию для биржи.
func NewExchange(name string, creds Credentials, opts Options, hc *HTTPClient, limiter *ratelimit.MultiLimiter) (Exchange, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	switch name {
	case "binance":
		return NewBinance(creds, opts, hc, limiter), nil
	case "okx":
		return NewOKX(creds, opts, hc, limiter), nil
	case "bybit":
		return NewBybit(creds, opts, hc, limiter), nil
	case "bitget":
		return NewBitget(creds, opts, hc, limiter), nil
	default:
		return nil, errors.Errorf("unsupported exchange: %s", name)
	}
}

// DefaultFactory - Factory поверх NewExchange с общим HTTP клиентом
func DefaultFactory(name string, creds Credentials, opts Options) (Exchange, error) {
	var limiter *ratelimit.MultiLimiter
	if opts.RateLimits != (ratelimit.Limits{}) {
		limiter = ratelimit.ForExchange(strings.ToLower(name), opts.RateLimits)
	}
	return NewExchange(name, creds, opts, GetGlobalHTTPClient(), limiter)
}

// IsSupported проверяет, поддерживается ли биржа
func IsSupported(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, supported := range SupportedExchanges {
		if name == supported {
			return true
		}
	}
	return false
}
