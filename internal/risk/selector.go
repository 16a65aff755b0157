package risk

import (
	"strings"

	"github.com/go-faster/errors"
)

// Режимы (risk_mode)
const (
	ModeFixedSize    = "fixed_size"
	ModeFixedRiskATR = "fixed_risk_atr"
)

// ErrUnknownMode - неизвестный risk_mode
var ErrUnknownMode = errors.New("unknown risk mode")

// Params - все параметры стратегий из конфигурации
type Params struct {
	Mode      string
	FixedSize FixedSizeParams
	RiskATR   FixedRiskATRParams
}

// ValidMode проверяет значение risk_mode
func ValidMode(mode string) bool {
	switch strings.ToLower(mode) {
	case ModeFixedSize, ModeFixedRiskATR:
		return true
	}
	return false
}

// New выбирает стратегию по режиму
func New(params Params, vol Volatility) (Strategy, error) {
	switch strings.ToLower(params.Mode) {
	case ModeFixedSize:
		return NewFixedSize(params.FixedSize, vol), nil
	case ModeFixedRiskATR:
		return NewFixedRiskATR(params.RiskATR, vol), nil
	default:
		return nil, errors.Wrapf(ErrUnknownMode, "%q", params.Mode)
	}
}
