package exchange

import (
	"strings"

	"github.com/go-faster/errors"
)

// Типы контрактов (совпадают со значениями конфигурации)
const (
	ContractUSDTM = "USDT-M"
	ContractCOINM = "COIN-M"
)

// FormatSymbol переводит пользовательский символ (BTCUSDT, BTCUSDT.P, BTC/USDT)
// в унифицированный идентификатор бессрочного контракта:
//
//	USDT-M: BTCUSDT -> BTC/USDT:USDT
//	COIN-M: BTCUSDT -> BTC/USD:BTC
//
// Второе значение false означает, что форма символа не распознана
// и он возвращён без изменений.
func FormatSymbol(symbol, contractType string) (string, bool) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.TrimSuffix(s, ".P")

	if strings.Contains(s, ":") {
		if _, _, _, err := ParseUnified(s); err == nil {
			return s, true
		}
		return symbol, false
	}

	var base string
	switch {
	case strings.Contains(s, "/"):
		parts := strings.SplitN(s, "/", 2)
		base = parts[0]
	case strings.Contains(s, "-"):
		base = strings.SplitN(s, "-", 2)[0]
	case strings.HasSuffix(s, "USDT") && len(s) > 4:
		base = strings.TrimSuffix(s, "USDT")
	case contractType == ContractCOINM && strings.HasSuffix(s, "USD") && len(s) > 3:
		base = strings.TrimSuffix(s, "USD")
	default:
		return symbol, false
	}
	if base == "" {
		return symbol, false
	}

	if contractType == ContractCOINM {
		return base + "/USD:" + base, true
	}
	return base + "/USDT:USDT", true
}

// ParseUnified разбирает BASE/QUOTE:SETTLE
func ParseUnified(symbol string) (base, quote, settle string, err error) {
	slash := strings.Index(symbol, "/")
	colon := strings.Index(symbol, ":")
	if slash <= 0 || colon <= slash+1 || colon == len(symbol)-1 {
		return "", "", "", errors.Wrapf(ErrInvalidSymbol, "%q", symbol)
	}
	return symbol[:slash], symbol[slash+1 : colon], symbol[colon+1:], nil
}

// IsInverse - контракт с расчётом в базовой валюте (COIN-M)
func IsInverse(symbol string) bool {
	base, _, settle, err := ParseUnified(symbol)
	return err == nil && settle == base
}

// instrumentID: BTC/USDT:USDT -> BTCUSDT; BTC/USD:BTC -> BTCUSD.
// Неунифицированный символ возвращается в верхнем регистре без разделителей.
func instrumentID(symbol string) string {
	base, quote, _, err := ParseUnified(symbol)
	if err != nil {
		return strings.NewReplacer("/", "", "-", "", ":", "").Replace(strings.ToUpper(symbol))
	}
	return base + quote
}

// okxInstrumentID: BTC/USDT:USDT -> BTC-USDT-SWAP
func okxInstrumentID(symbol string) string {
	base, quote, _, err := ParseUnified(symbol)
	if err != nil {
		return strings.ToUpper(symbol)
	}
	return base + "-" + quote + "-SWAP"
}
