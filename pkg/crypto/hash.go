package crypto

import (
	"crypto/subtle"
	"strings"

	"github.com/go-faster/errors"
	"golang.org/x/crypto/bcrypt"
)

// Ошибки хеширования токенов
var (
	ErrEmptyToken   = errors.New("token cannot be empty")
	ErrTokenTooLong = errors.New("token exceeds maximum length of 72 bytes")
	ErrInvalidHash  = errors.New("invalid token hash format")
)

// DefaultCost - стоимость bcrypt по умолчанию
const DefaultCost = 12

// MaxTokenLength - ограничение bcrypt
const MaxTokenLength = 72

// HashToken хеширует секретный токен вебхука (для WEBHOOK_TOKEN_HASH)
func HashToken(token string, cost int) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}
	if len(token) > MaxTokenLength {
		return "", ErrTokenTooLong
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(token), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// IsBcryptHash определяет, похоже ли значение на bcrypt хеш
func IsBcryptHash(value string) bool {
	if !strings.HasPrefix(value, "$2") {
		return false
	}
	_, err := bcrypt.Cost([]byte(value))
	return err == nil
}

// TokenMatches сравнивает присланный токен с ожидаемым.
// expected может быть как открытым токеном (constant-time сравнение),
// так и bcrypt хешем.
func TokenMatches(provided, expected string) bool {
	if provided == "" || expected == "" {
		return false
	}
	if IsBcryptHash(expected) {
		return bcrypt.CompareHashAndPassword([]byte(expected), []byte(provided)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}
