// Package parser разбирает алерты TradingView в торговые сигналы.
//
// Текстовый формат (регистр не важен):
//
//	SYMBOL Crossing Up|Down PRICE [size=N] [lev=N] [EXCHANGE]
//
// Примеры:
//
//	LTCUSDT Crossing Down 76.47
//	BTCUSDT Crossing Down 90,350.00
//	ONTUSDT.P Crossing Up 0.07624 size=100 lev=35 Bybit
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/go-faster/errors"

	"tvtrader/internal/exchange"
	"tvtrader/internal/models"
)

var (
	// ErrEmptyMessage - пустой алерт
	ErrEmptyMessage = errors.New("empty alert message")
	// ErrNoDirection - нет "Crossing Up" / "Crossing Down"
	ErrNoDirection = errors.New("alert direction not found")
	// ErrMalformed - не удалось выделить символ или цену
	ErrMalformed = errors.New("malformed alert")
)

var (
	alertRe    = regexp.MustCompile(`(?i)([\w.]+)\s+crossing\s+(up|down)\s+([\d.,]+)`)
	sizeRe     = regexp.MustCompile(`(?i)\bsize=([\d.]+)`)
	leverageRe = regexp.MustCompile(`(?i)\blev=(\d+)`)
	wordRe     = regexp.MustCompile(`[a-z]+`)
)

// ParseAlert разбирает текст алерта. Отсутствующие size/lev/биржа остаются нулевыми:
// значения по умолчанию подставляет сервис сигналов.
func ParseAlert(message string) (*models.TradeSignal, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}

	m := alertRe.FindStringSubmatch(message)
	if m == nil {
		if !strings.Contains(strings.ToLower(message), "crossing") {
			return nil, errors.Wrapf(ErrNoDirection, "%q", message)
		}
		return nil, errors.Wrapf(ErrMalformed, "symbol and price not found in %q", message)
	}

	direction := models.DirectionLong
	if strings.EqualFold(m[2], "down") {
		direction = models.DirectionShort
	}

	price, err := ParsePrice(m[3])
	if err != nil {
		return nil, errors.Wrapf(ErrMalformed, "price %q", m[3])
	}

	sig := &models.TradeSignal{
		Symbol:     NormalizeSymbol(m[1]),
		Direction:  direction,
		EntryPrice: price,
		Exchange:   findExchange(message),
	}

	if sm := sizeRe.FindStringSubmatch(message); sm != nil {
		size, err := strconv.ParseFloat(sm[1], 64)
		if err != nil {
			return nil, errors.Wrapf(ErrMalformed, "size %q", sm[1])
		}
		sig.Size = size
	}

	if lm := leverageRe.FindStringSubmatch(message); lm != nil {
		lev, err := strconv.Atoi(lm[1])
		if err != nil {
			return nil, errors.Wrapf(ErrMalformed, "leverage %q", lm[1])
		}
		sig.Leverage = lev
	}

	return sig, nil
}

// NormalizeSymbol убирает суффикс фьючерсов TradingView ".P" и приводит к верхнему регистру
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	return strings.TrimSuffix(s, ".P")
}

// ParsePrice принимает цену с разделителями тысяч: "90,350.00" -> 90350
func ParsePrice(raw string) (float64, error) {
	clean := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	clean = strings.TrimRight(clean, ".")
	return strconv.ParseFloat(clean, 64)
}

// findExchange ищет название поддерживаемой биржи отдельным словом
func findExchange(message string) string {
	for _, word := range wordRe.FindAllString(strings.ToLower(message), -1) {
		if exchange.IsSupported(word) {
			return word
		}
	}
	return ""
}
