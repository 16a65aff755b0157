package utils

import (
	"math"
	"regexp"
	"strings"

	"github.com/go-faster/errors"
)

// validator.go - валидация входных данных сигналов

// MaxLeverage - верхняя граница плеча, которую принимает любая из поддерживаемых бирж
const MaxLeverage = 125

var symbolPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9\-_/:.]{1,29}$`)

// ValidateSymbol проверяет формат символа (BTCUSDT, BTC-USDT, BTC/USDT:USDT)
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return errors.New("symbol is empty")
	}
	if !symbolPattern.MatchString(symbol) {
		return errors.Errorf("invalid symbol format: %q", symbol)
	}
	return nil
}

// ValidatePrice проверяет что цена положительная и конечная
func ValidatePrice(price float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return errors.Errorf("price must be positive, got %v", price)
	}
	return nil
}

// ValidateLeverage проверяет диапазон плеча 1..125
func ValidateLeverage(leverage int) error {
	if leverage < 1 || leverage > MaxLeverage {
		return errors.Errorf("leverage must be between 1 and %d, got %d", MaxLeverage, leverage)
	}
	return nil
}

// ValidateAPIKey - базовая проверка ключа: не пустой и без пробельных символов
// (частая ошибка при копировании в .env)
func ValidateAPIKey(key string) error {
	if key == "" {
		return errors.New("api key is empty")
	}
	if strings.ContainsAny(key, " \t\r\n") {
		return errors.New("api key contains whitespace")
	}
	return nil
}
