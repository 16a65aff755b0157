package service

import (
	"context"
	"strings"

	"github.com/go-faster/errors"

	"tvtrader/internal/bot"
	"tvtrader/internal/exchange"
	"tvtrader/internal/models"
	"tvtrader/pkg/utils"
)

// Ошибки валидации сигнала
var (
	ErrInvalidSignal       = errors.New("invalid signal")
	ErrExchangeUnsupported = errors.New("exchange is not supported")
	ErrSizeTooLarge        = errors.New("position size exceeds limit")
)

// SignalDefaults - значения из конфигурации для полей, которых нет в сигнале
type SignalDefaults struct {
	Exchange        string
	ContractType    models.ContractType
	OrderType       models.OrderType
	Leverage        int
	MaxPositionUSDT float64 // 0 = без ограничения размера из сигнала
}

// SignalService - приём разобранного сигнала: проверка, сборка запроса, исполнение
type SignalService struct {
	executor Executor
	defaults SignalDefaults
	log      *utils.Logger
}

// NewSignalService создаёт сервис сигналов
func NewSignalService(executor Executor, defaults SignalDefaults) *SignalService {
	return &SignalService{
		executor: executor,
		defaults: defaults,
		log:      utils.L().WithComponent("signal_service"),
	}
}

// Validate проверяет сигнал до обращения к бирже
func (s *SignalService) Validate(sig *models.TradeSignal) error {
	if sig == nil {
		return errors.Wrap(ErrInvalidSignal, "signal is nil")
	}
	if err := utils.ValidateSymbol(sig.Symbol); err != nil {
		return errors.Wrap(ErrInvalidSignal, err.Error())
	}
	if sig.Direction != models.DirectionLong && sig.Direction != models.DirectionShort {
		return errors.Wrapf(ErrInvalidSignal, "direction %q", sig.Direction)
	}
	if sig.EntryPrice != 0 {
		if err := utils.ValidatePrice(sig.EntryPrice); err != nil {
			return errors.Wrap(ErrInvalidSignal, err.Error())
		}
	}
	if sig.Leverage != 0 {
		if err := utils.ValidateLeverage(sig.Leverage); err != nil {
			return errors.Wrap(ErrInvalidSignal, err.Error())
		}
	}
	if sig.Size < 0 {
		return errors.Wrapf(ErrInvalidSignal, "size must be positive, got %v", sig.Size)
	}
	if s.defaults.MaxPositionUSDT > 0 && sig.Size > s.defaults.MaxPositionUSDT {
		return errors.Wrapf(ErrSizeTooLarge, "size %.2f > max %.2f", sig.Size, s.defaults.MaxPositionUSDT)
	}
	if sig.Exchange != "" && !exchange.IsSupported(strings.ToLower(sig.Exchange)) {
		return errors.Wrapf(ErrExchangeUnsupported, "%q", sig.Exchange)
	}
	return nil
}

// BuildRequest собирает запрос исполнителю. Поля сигнала важнее конфигурации.
func (s *SignalService) BuildRequest(sig *models.TradeSignal) *models.OrderRequest {
	req := &models.OrderRequest{
		Symbol:       sig.Symbol,
		Side:         sig.Direction.Side(),
		Amount:       sig.Size,
		Leverage:     s.defaults.Leverage,
		ContractType: s.defaults.ContractType,
		Exchange:     s.defaults.Exchange,
		EntryPrice:   sig.EntryPrice,
		OrderType:    s.defaults.OrderType,
	}
	if sig.Leverage > 0 {
		req.Leverage = sig.Leverage
	}
	if sig.Exchange != "" {
		req.Exchange = strings.ToLower(sig.Exchange)
	}
	return req
}

// Execute проверяет и исполняет сигнал. Ошибка возвращается только при
// невалидном сигнале: отказы биржи и риска приходят в OrderResponse.
func (s *SignalService) Execute(ctx context.Context, sig *models.TradeSignal) (*models.OrderResponse, error) {
	if err := s.Validate(sig); err != nil {
		return nil, err
	}

	req := s.BuildRequest(sig)
	s.log.Info("signal accepted",
		utils.Symbol(req.Symbol),
		utils.Side(string(req.Side)),
		utils.Exchange(req.Exchange),
		utils.Price(req.EntryPrice),
		utils.Leverage(req.Leverage),
	)

	resp := s.executor.Execute(ctx, req)
	if resp == nil {
		return nil, errors.New("executor returned no response")
	}
	return resp, nil
}

// FriendlyError переводит частые отказы биржи в понятное сообщение
func FriendlyError(resp *models.OrderResponse) string {
	if resp == nil || resp.Success {
		return ""
	}
	msg := resp.Error
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "apikey"), strings.Contains(lower, "api key"),
		strings.Contains(lower, "credential"), strings.Contains(lower, "api-key"):
		return "API keys not configured or invalid"
	case strings.Contains(lower, "insufficient"), strings.Contains(lower, "not enough"),
		strings.Contains(msg, "110007"):
		return "insufficient balance"
	case resp.ErrorCode == string(bot.KindPositionTooLarge):
		return "position size above the configured maximum"
	case resp.ErrorCode == string(bot.KindPositionTooSmall):
		return "position size below the configured minimum"
	case resp.ErrorCode == string(bot.KindInvalidLevels):
		return "stop-loss or take-profit falls on the wrong side of the entry price"
	case resp.ErrorCode == string(bot.KindInsufficientData):
		return "not enough candles to compute ATR"
	case resp.ErrorCode == string(bot.KindExchangeCall) && msg != "":
		return "exchange error: " + msg
	}
	if msg == "" {
		return resp.Message
	}
	return msg
}
