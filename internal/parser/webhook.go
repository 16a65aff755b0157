package parser

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	jsoniter "github.com/json-iterator/go"

	"tvtrader/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNoSignal - в теле вебхука нет ни текста алерта, ни структурированного сигнала
var ErrNoSignal = errors.New("webhook carries no signal")

// Webhook - тело вебхука TradingView.
//
// Текст алерта приходит в message или text. Структурированный вариант:
// {"symbol": "BTCUSDT", "action": "buy", "price": 97000}.
type Webhook struct {
	Message   string    `json:"message,omitempty"`
	Text      string    `json:"text,omitempty"`
	Symbol    string    `json:"symbol,omitempty"`
	Action    string    `json:"action,omitempty"`
	Direction string    `json:"direction,omitempty"`
	Price     flexFloat `json:"price,omitempty"`
	Size      flexFloat `json:"size,omitempty"`
	Leverage  flexFloat `json:"leverage,omitempty"`
	Exchange  string    `json:"exchange,omitempty"`
}

// MessageText - текст алерта (message важнее text)
func (w *Webhook) MessageText() string {
	if s := strings.TrimSpace(w.Message); s != "" {
		return s
	}
	return strings.TrimSpace(w.Text)
}

// flexFloat принимает число или строку ("90,350.00"), TradingView шлёт оба варианта
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			return nil
		}
		v, err := ParsePrice(s)
		if err != nil {
			return err
		}
		*f = flexFloat(v)
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// ParseBody разбирает тело вебхука: JSON объект или сырой текст алерта
func ParseBody(body []byte) (*models.TradeSignal, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, ErrEmptyMessage
	}
	if trimmed[0] != '{' {
		return ParseAlert(string(trimmed))
	}
	return FromJSON(trimmed)
}

// FromJSON разбирает JSON вебхук. Текст алерта имеет приоритет над полями.
func FromJSON(data []byte) (*models.TradeSignal, error) {
	var w Webhook
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}
	return FromWebhook(&w)
}

// FromWebhook строит сигнал по разобранному телу
func FromWebhook(w *Webhook) (*models.TradeSignal, error) {
	if text := w.MessageText(); text != "" {
		sig, err := ParseAlert(text)
		if err != nil {
			return nil, err
		}
		if sig.Exchange == "" && w.Exchange != "" {
			sig.Exchange = strings.ToLower(strings.TrimSpace(w.Exchange))
		}
		return sig, nil
	}

	if strings.TrimSpace(w.Symbol) == "" {
		return nil, ErrNoSignal
	}

	raw := w.Direction
	if raw == "" {
		raw = w.Action
	}
	direction, ok := models.ParseDirection(raw)
	if !ok {
		return nil, errors.Wrapf(ErrNoDirection, "action %q", raw)
	}

	return &models.TradeSignal{
		Symbol:     NormalizeSymbol(w.Symbol),
		Direction:  direction,
		EntryPrice: float64(w.Price),
		Size:       float64(w.Size),
		Leverage:   int(w.Leverage),
		Exchange:   strings.ToLower(strings.TrimSpace(w.Exchange)),
	}, nil
}
