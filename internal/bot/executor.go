// Package bot исполняет торговые сигналы на бирже.
//
// Executor проводит один OrderRequest через этапы:
// клиент биржи -> символ -> плечо -> цена -> риск -> вход -> SL/TP.
// Отказ до выставления входа завершает исполнение с success=false.
// После входа позиция уже открыта: ошибки SL/TP только ухудшают итог
// (stops_attached), но не меняют success. Входной ордер не откатывается.
package bot

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"tvtrader/internal/events"
	"tvtrader/internal/exchange"
	"tvtrader/internal/models"
	"tvtrader/internal/risk"
	"tvtrader/pkg/retry"
	"tvtrader/pkg/utils"
)

// ExchangeProvider выдаёт готовые подключения к биржам (exchange.Pool)
type ExchangeProvider interface {
	Acquire(ctx context.Context, name string) (exchange.Exchange, error)
}

// VolatilityFactory строит источник ATR для конкретной биржи
type VolatilityFactory func(ex exchange.Exchange) risk.Volatility

// Config - параметры исполнения
type Config struct {
	Exchange        string
	ContractType    models.ContractType
	OrderType       models.OrderType
	DefaultLeverage int
	Risk            risk.Params

	// CallTimeout - таймаут одного вызова биржи
	CallTimeout time.Duration
	// MaxRetries - повторов для чтения и SL/TP (вход не повторяется)
	MaxRetries int
	// RetryBackoff - первая пауза между повторами; 0 = значение пресета
	RetryBackoff time.Duration

	PendingPollInterval time.Duration
	PendingTimeout      time.Duration
}

func (c *Config) normalize() {
	if c.Exchange == "" {
		c.Exchange = "bybit"
	}
	if c.ContractType == "" {
		c.ContractType = models.ContractUSDTM
	}
	if c.OrderType == "" {
		c.OrderType = models.OrderTypeMarket
	}
	if c.DefaultLeverage <= 0 {
		c.DefaultLeverage = 35
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.PendingPollInterval <= 0 {
		c.PendingPollInterval = 5 * time.Second
	}
	if c.PendingTimeout <= 0 {
		c.PendingTimeout = 30 * time.Minute
	}
}

// Executor - исполнитель сигналов. Безопасен для конкурентных вызовов:
// всё состояние одного исполнения живёт в execution.
type Executor struct {
	cfg        Config
	provider   ExchangeProvider
	volatility VolatilityFactory
	publisher  events.Publisher
	log        *utils.Logger

	// фоновые наблюдатели лимитных входов
	watchCtx  context.Context
	stopWatch context.CancelFunc
	watchers  sync.WaitGroup
	mu        sync.Mutex
	closed    bool
}

// NewExecutor создаёт исполнитель. publisher может быть nil.
func NewExecutor(cfg Config, provider ExchangeProvider, volatility VolatilityFactory, publisher events.Publisher) (*Executor, error) {
	cfg.normalize()

	if provider == nil {
		return nil, errors.New("exchange provider is required")
	}
	if volatility == nil {
		return nil, errors.New("volatility factory is required")
	}
	if !risk.ValidMode(cfg.Risk.Mode) {
		return nil, errors.Wrapf(risk.ErrUnknownMode, "%q", cfg.Risk.Mode)
	}
	if publisher == nil {
		publisher = events.Nop{}
	}

	watchCtx, stop := context.WithCancel(context.Background())
	return &Executor{
		cfg:        cfg,
		provider:   provider,
		volatility: volatility,
		publisher:  publisher,
		log:        utils.L().WithComponent("executor"),
		watchCtx:   watchCtx,
		stopWatch:  stop,
	}, nil
}

// Config возвращает нормализованную конфигурацию
func (e *Executor) Config() Config {
	return e.cfg
}

// execution - состояние одного исполнения
type execution struct {
	req     *models.OrderRequest
	resp    *models.OrderResponse
	stage   *tracker
	log     *utils.Logger
	started time.Time

	ex     exchange.Exchange
	market *exchange.Market
	result *risk.Result
	qty    float64
}

// Execute исполняет запрос. Никогда не паникует наружу и не возвращает nil:
// любая ошибка оформляется как OrderResponse{Success: false}.
//
// Отмена ctx вызывающей стороной не прерывает начатое исполнение;
// каждый вызов биржи ограничен CallTimeout.
func (e *Executor) Execute(ctx context.Context, req *models.OrderRequest) (resp *models.OrderResponse) {
	run := &execution{
		req:     req,
		resp:    &models.OrderResponse{StopsAttached: models.StopsNone},
		stage:   newTracker(),
		log:     e.log,
		started: time.Now(),
	}
	ctx = context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("execution panic recovered",
				utils.Any("panic", r),
				utils.Stage(string(run.stage.stage)),
			)
			if EntryOpened(run.stage.stage) {
				// вход уже на бирже: сообщаем успех без стопов
				run.resp.Success = true
				run.resp.StopsAttached = models.StopsNone
				run.resp.Message = "entry placed, protective orders state unknown after internal error"
			} else {
				run.resp.Success = false
				run.resp.Error = fmt.Sprintf("internal error: %v", r)
				run.resp.ErrorCode = string(KindInternal)
				RecordFailure(run.stage.stage, KindInternal)
			}
		}
		resp = e.finish(ctx, run)
	}()

	if err := e.prepare(run); err != nil {
		e.fail(run, err)
		return
	}

	if err := e.run(ctx, run); err != nil {
		e.fail(run, err)
	}
	return
}

// prepare заполняет пустые поля запроса значениями из конфигурации
func (e *Executor) prepare(run *execution) error {
	req := run.req
	if req == nil {
		run.req = &models.OrderRequest{}
		return errors.Wrap(ErrInvalidRequest, "nil request")
	}

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.Exchange == "" {
		req.Exchange = e.cfg.Exchange
	}
	req.Exchange = strings.ToLower(strings.TrimSpace(req.Exchange))
	if req.ContractType == "" {
		req.ContractType = e.cfg.ContractType
	}
	if req.OrderType == "" {
		req.OrderType = e.cfg.OrderType
	}
	if req.Leverage <= 0 {
		req.Leverage = e.cfg.DefaultLeverage
	}

	run.log = e.log.WithRequestID(req.RequestID).WithExchange(req.Exchange)
	run.resp.Exchange = req.Exchange
	run.resp.Symbol = req.Symbol
	run.resp.Side = req.Side
	run.resp.Leverage = req.Leverage

	switch {
	case strings.TrimSpace(req.Symbol) == "":
		return errors.Wrap(ErrInvalidRequest, "symbol is required")
	case !exchange.IsSupported(req.Exchange):
		return errors.Wrapf(ErrInvalidRequest, "unsupported exchange %q", req.Exchange)
	case !req.Side.Valid():
		return errors.Wrapf(ErrInvalidRequest, "unknown side %q", req.Side)
	case req.OrderType != models.OrderTypeMarket && req.OrderType != models.OrderTypeLimit:
		return errors.Wrapf(ErrInvalidRequest, "unknown order type %q", req.OrderType)
	case req.ContractType != models.ContractUSDTM && req.ContractType != models.ContractCOINM:
		return errors.Wrapf(ErrInvalidRequest, "unknown contract type %q", req.ContractType)
	case req.Amount < 0 || req.EntryPrice < 0:
		return errors.Wrap(ErrInvalidRequest, "amount and entry price must not be negative")
	}
	return nil
}

// run проходит этапы исполнения. Ошибка означает отказ до входа.
func (e *Executor) run(ctx context.Context, run *execution) error {
	req := run.req

	// 1. Клиент биржи
	ex, err := e.provider.Acquire(ctx, req.Exchange)
	if err != nil {
		UpdateExchangeStatus(req.Exchange, false)
		return errors.Wrap(err, "acquire exchange client")
	}
	UpdateExchangeStatus(req.Exchange, true)
	run.ex = ex
	if err := e.advance(run, StageClientReady); err != nil {
		return err
	}

	// 2. Символ
	e.resolveSymbol(run)
	if err := e.advance(run, StageSymbolResolved); err != nil {
		return err
	}

	// 3. Плечо (best effort)
	e.applyLeverage(ctx, run)
	if err := e.advance(run, StageLeverageApplied); err != nil {
		return err
	}

	// 4. Цена входа
	price, err := e.referencePrice(ctx, run)
	if err != nil {
		return err
	}
	run.resp.EntryPrice = price
	if err := e.advance(run, StagePriceResolved); err != nil {
		return err
	}

	// 5. Риск
	if err := e.computeRisk(ctx, run, price); err != nil {
		return err
	}
	if err := e.advance(run, StageRiskComputed); err != nil {
		return err
	}

	// 6. Вход
	order, err := e.placeEntry(ctx, run, price)
	if err != nil {
		return err
	}
	if err := e.advance(run, StageEntryPlaced); err != nil {
		return err
	}
	run.resp.Success = true
	run.resp.OrderID = order.ID

	// 7. SL/TP - с этого момента ошибки не фатальны
	e.attachAfterEntry(ctx, run, order)
	_ = e.advance(run, StageStopsAttached)
	_ = e.advance(run, StageCompleted)
	return nil
}

func (e *Executor) advance(run *execution, to Stage) error {
	if err := run.stage.advance(to); err != nil {
		return err
	}
	run.log.Debug("stage reached", utils.Stage(string(to)))
	return nil
}

// resolveSymbol переводит символ сигнала в унифицированный и ищет рынок.
// Нераспознанный символ и отсутствие рынка не фатальны.
func (e *Executor) resolveSymbol(run *execution) {
	req := run.req
	symbol, ok := exchange.FormatSymbol(req.Symbol, string(req.ContractType))
	if !ok {
		run.log.Warn("unrecognized symbol format, passing through unchanged",
			utils.Symbol(req.Symbol),
			utils.String("contract_type", string(req.ContractType)),
		)
	}
	req.Symbol = symbol
	run.resp.Symbol = symbol
	run.log = run.log.WithSymbol(symbol)

	market, err := run.ex.GetMarket(symbol)
	if err != nil {
		run.log.Warn("market metadata unavailable, using raw amounts", utils.Err(err))
		return
	}
	run.market = market
}

// applyLeverage урезает плечо до максимума инструмента и выставляет его.
// Любая ошибка биржи только логируется.
func (e *Executor) applyLeverage(ctx context.Context, run *execution) {
	req := run.req
	if run.market != nil && run.market.MaxLeverage > 0 && req.Leverage > run.market.MaxLeverage {
		run.log.Warn("requested leverage above exchange maximum, capping",
			utils.Err(ErrLeverageCapped),
			utils.Int("requested", req.Leverage),
			utils.Int("max", run.market.MaxLeverage),
		)
		req.Leverage = run.market.MaxLeverage
		run.resp.LeverageCapped = true
		LeverageCapped.WithLabelValues(req.Exchange).Inc()
	}
	run.resp.Leverage = req.Leverage

	err := e.call(ctx, run.ex, "set_leverage", e.readRetry(), func(ctx context.Context) error {
		return run.ex.SetLeverage(ctx, req.Symbol, req.Leverage)
	})
	switch {
	case err == nil:
		run.log.Info("leverage set", utils.Leverage(req.Leverage))
	case exchange.IsLeverageNotModified(err):
		run.log.Debug("leverage already set", utils.Leverage(req.Leverage))
	default:
		run.log.Warn("set leverage failed, continuing", utils.Leverage(req.Leverage), utils.Err(err))
	}
}

// referencePrice: цена из запроса, иначе последняя цена тикера
func (e *Executor) referencePrice(ctx context.Context, run *execution) (float64, error) {
	if run.req.EntryPrice > 0 {
		return run.req.EntryPrice, nil
	}

	ticker, err := callResult(ctx, run.ex, "fetch_ticker", e.readRetry(), func(ctx context.Context) (*exchange.Ticker, error) {
		return run.ex.FetchTicker(ctx, run.req.Symbol)
	})
	if err != nil {
		return 0, errors.Wrapf(ErrPriceUnavailable, "fetch ticker: %v", err)
	}
	if ticker == nil || ticker.Last <= 0 || math.IsNaN(ticker.Last) {
		return 0, errors.Wrap(ErrPriceUnavailable, "ticker has no last price")
	}
	return ticker.Last, nil
}

// computeRisk считает размер и уровни и записывает их в запрос
func (e *Executor) computeRisk(ctx context.Context, run *execution, price float64) error {
	req := run.req
	strategy, err := risk.New(e.cfg.Risk, e.volatility(run.ex))
	if err != nil {
		return err
	}

	result, err := strategy.Calculate(ctx, risk.Request{
		Symbol:     req.Symbol,
		EntryPrice: price,
		Side:       req.Side,
		Notional:   req.Amount,
	})
	if err != nil {
		return errors.Wrap(err, strategy.Name())
	}

	req.Amount = result.Amount
	req.StopLoss = result.StopLoss
	req.TakeProfit = result.TakeProfit
	if run.market != nil {
		req.StopLoss, req.TakeProfit = run.market.RoundStops(string(req.Side), result.StopLoss, result.TakeProfit)
		// после округления до тика уровень не должен совпасть с входом
		if err := risk.CheckLevels(price, req.Side, req.StopLoss, req.TakeProfit); err != nil {
			return errors.Wrapf(err, "tick %v", run.market.TickSize)
		}
	}
	run.result = result

	run.resp.StopLoss = req.StopLoss
	run.resp.TakeProfit = req.TakeProfit

	run.log.Info("risk computed",
		utils.String("strategy", result.Strategy),
		utils.Float64("atr", result.ATR),
		utils.Amount(result.Amount),
		utils.Float64("notional", result.Notional),
		utils.Float64("stop_loss", req.StopLoss),
		utils.Float64("take_profit", req.TakeProfit),
	)
	return nil
}

// placeEntry выставляет входной ордер. Вход не повторяется.
func (e *Executor) placeEntry(ctx context.Context, run *execution, price float64) (*exchange.Order, error) {
	req := run.req
	if req.OrderType == models.OrderTypeLimit && req.EntryPrice <= 0 {
		return nil, ErrMissingEntryPrice
	}

	qty := req.Amount
	if run.market != nil {
		qty = run.market.ToContracts(req.Amount, price)
	}
	if qty <= 0 {
		return nil, errors.Wrapf(risk.ErrPositionTooSmall, "amount %v rounds to zero contracts", req.Amount)
	}
	run.qty = qty
	run.resp.Amount = qty

	params := exchange.OrderParams{ClientOrderID: newClientOrderID()}
	side := string(req.Side)
	once := retry.SingleAttempt(e.cfg.CallTimeout)

	var (
		order *exchange.Order
		err   error
	)
	if req.OrderType == models.OrderTypeLimit {
		limitPrice := req.EntryPrice
		if run.market != nil {
			limitPrice = run.market.RoundPrice(limitPrice)
		}
		order, err = callResult(ctx, run.ex, "create_limit_order", once, func(ctx context.Context) (*exchange.Order, error) {
			return run.ex.CreateLimitOrder(ctx, req.Symbol, side, qty, limitPrice, params)
		})
	} else {
		order, err = callResult(ctx, run.ex, "create_market_order", once, func(ctx context.Context) (*exchange.Order, error) {
			return run.ex.CreateMarketOrder(ctx, req.Symbol, side, qty, params)
		})
	}
	if err != nil {
		return nil, errors.Wrap(err, "place entry order")
	}
	if order == nil || order.ID == "" {
		return nil, &exchange.ExchangeError{Exchange: req.Exchange, Message: "entry order returned no id"}
	}

	run.log.Info("entry order placed",
		utils.OrderID(order.ID),
		utils.Side(side),
		utils.Amount(qty),
		utils.String("order_type", string(req.OrderType)),
	)
	return order, nil
}

// attachAfterEntry определяет цену исполнения и прикрепляет SL/TP
func (e *Executor) attachAfterEntry(ctx context.Context, run *execution, order *exchange.Order) {
	if run.req.OrderType == models.OrderTypeLimit {
		e.attachForLimit(ctx, run, order)
		return
	}

	e.resolveFillPrice(ctx, run, order)
	res := e.attachStops(ctx, run.ex, run.log, run.plan(run.qty))
	run.apply(res)
}

// resolveFillPrice: цена из ответа ордера, иначе свежий тикер.
// Неудача не фатальна: уровни SL/TP остаются рассчитанными до входа.
func (e *Executor) resolveFillPrice(ctx context.Context, run *execution, order *exchange.Order) {
	if p := order.FillPrice(); p > 0 {
		run.resp.EntryPrice = p
		run.resp.FillPriceKnown = true
		return
	}

	ticker, err := callResult(ctx, run.ex, "fetch_ticker", retry.SingleAttempt(e.cfg.CallTimeout), func(ctx context.Context) (*exchange.Ticker, error) {
		return run.ex.FetchTicker(ctx, run.req.Symbol)
	})
	if err == nil && ticker != nil && ticker.Last > 0 {
		run.resp.EntryPrice = ticker.Last
		run.resp.FillPriceKnown = true
		run.log.Debug("fill price taken from ticker", utils.Price(ticker.Last))
		return
	}

	run.resp.FillPriceKnown = false
	run.log.Warn("fill price unknown, protective levels use pre-trade estimate",
		utils.OrderID(order.ID),
		utils.Price(run.resp.EntryPrice),
		utils.Err(err),
	)
}

// attachForLimit проверяет исполнение лимитного входа один раз.
// Неисполненный вход передаётся фоновому наблюдателю.
func (e *Executor) attachForLimit(ctx context.Context, run *execution, order *exchange.Order) {
	status, err := callResult(ctx, run.ex, "fetch_order_status", e.readRetry(), func(ctx context.Context) (*exchange.Order, error) {
		return run.ex.FetchOrderStatus(ctx, order.ID, run.req.Symbol)
	})
	if err != nil {
		run.log.Warn("limit entry status check failed", utils.OrderID(order.ID), utils.Err(err))
		status = order
	}

	switch {
	case status.Status == exchange.OrderStatusFilled:
		if p := status.FillPrice(); p > 0 {
			run.resp.EntryPrice = p
			run.resp.FillPriceKnown = true
		}
		run.apply(e.attachStops(ctx, run.ex, run.log, run.plan(filledOr(status, run.qty))))

	case exchange.IsFinal(status.Status):
		if status.Filled > 0 {
			run.apply(e.attachStops(ctx, run.ex, run.log, run.plan(status.Filled)))
			return
		}
		run.resp.StopsAttached = models.StopsNone
		run.resp.Message = fmt.Sprintf("limit entry %s before fill, no protective orders needed", status.Status)
		run.log.Warn("limit entry closed without fill", utils.OrderID(order.ID), utils.String("status", status.Status))

	default:
		if e.watchPending(pendingEntry{
			requestID: run.req.RequestID,
			orderID:   order.ID,
			ex:        run.ex,
			plan:      run.plan(run.qty),
			log:       run.log,
		}) {
			run.resp.StopsAttached = models.StopsPending
			run.resp.Message = fmt.Sprintf("limit entry %s not filled yet; stop-loss and take-profit will be attached on fill", order.ID)
			return
		}
		run.resp.StopsAttached = models.StopsNone
		run.resp.Message = "limit entry not filled and executor is shutting down; protective orders not attached"
		run.log.Error("limit entry left without protective orders", utils.OrderID(order.ID))
	}
}

func filledOr(o *exchange.Order, fallback float64) float64 {
	if o.Filled > 0 {
		return o.Filled
	}
	return fallback
}

// plan - параметры SL/TP для количества qty
func (run *execution) plan(qty float64) protectivePlan {
	return protectivePlan{
		Symbol:     run.req.Symbol,
		EntrySide:  string(run.req.Side),
		Quantity:   qty,
		StopLoss:   run.req.StopLoss,
		TakeProfit: run.req.TakeProfit,
	}
}

func (run *execution) apply(res protectiveResult) {
	run.resp.StopLossOrderID = res.StopLossID
	run.resp.TakeProfitOrderID = res.TakeProfitID
	run.resp.StopsAttached = res.Attached
	switch res.Attached {
	case models.StopsNone:
		run.resp.Message = "position opened without stop-loss and take-profit"
	case models.StopsPartial:
		run.resp.Message = "position opened with only one protective order"
	}
}

// fail оформляет отказ до входа
func (e *Executor) fail(run *execution, err error) {
	kind := Classify(err)
	stage := run.stage.stage
	_ = run.stage.advance(StageFailed)

	run.resp.Success = false
	run.resp.Error = err.Error()
	run.resp.ErrorCode = string(kind)
	run.resp.Message = fmt.Sprintf("execution failed after stage %s", stage)
	RecordFailure(stage, kind)

	run.log.Error("execution failed",
		utils.Stage(string(stage)),
		utils.String("kind", string(kind)),
		utils.Err(err),
	)
}

// finish заполняет служебные поля ответа, пишет метрики и публикует событие
func (e *Executor) finish(ctx context.Context, run *execution) *models.OrderResponse {
	resp := run.resp
	resp.Stage = string(run.stage.stage)
	resp.ExecutionTimeMs = float64(time.Since(run.started).Microseconds()) / 1000
	resp.CompletedAt = time.Now().UTC()

	exName := resp.Exchange
	orderType := ""
	requestID := ""
	if run.req != nil {
		orderType = string(run.req.OrderType)
		requestID = run.req.RequestID
	}
	RecordExecution(exName, orderType, resp.Success, resp.ExecutionTimeMs)
	if resp.Success {
		StopsOutcome.WithLabelValues(exName, string(resp.StopsAttached)).Inc()
		run.log.Info("execution completed",
			utils.OrderID(resp.OrderID),
			utils.StopsAttached(string(resp.StopsAttached)),
			utils.Bool("fill_price_known", resp.FillPriceKnown),
			utils.Latency(resp.ExecutionTimeMs),
		)
	}

	e.publish(ctx, events.FromResponse(requestID, resp))
	return resp
}

func (e *Executor) publish(ctx context.Context, ev events.Event) {
	pctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	if err := e.publisher.Publish(pctx, ev); err != nil {
		e.log.Warn("publish execution event failed",
			utils.String("type", string(ev.Type)),
			utils.RequestID(ev.RequestID),
			utils.Err(err),
		)
	}
}

// readRetry - повторы для идемпотентных вызовов
func (e *Executor) readRetry() retry.Config {
	cfg := retry.ExchangeReadConfig(e.cfg.CallTimeout, e.cfg.MaxRetries+1)
	if e.cfg.RetryBackoff > 0 {
		cfg.InitialDelay = e.cfg.RetryBackoff
	}
	return cfg
}

// protectiveRetry - повторы SL/TP с тем же client order id
func (e *Executor) protectiveRetry() retry.Config {
	cfg := retry.ProtectiveOrderConfig(e.cfg.CallTimeout, e.cfg.MaxRetries+1)
	if e.cfg.RetryBackoff > 0 {
		cfg.InitialDelay = e.cfg.RetryBackoff
	}
	cfg.RetryIf = func(err error) bool {
		return !errors.Is(err, exchange.ErrNotSupported) && retry.IsRetryable(err)
	}
	return cfg
}

// call выполняет вызов биржи с повторами и пишет латентность
func (e *Executor) call(ctx context.Context, ex exchange.Exchange, op string, cfg retry.Config, fn func(ctx context.Context) error) error {
	_, err := callResult(ctx, ex, op, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func callResult[T any](ctx context.Context, ex exchange.Exchange, op string, cfg retry.Config, fn func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	v, err := retry.DoWithResult(ctx, fn, cfg)
	RecordExchangeCall(ex.GetName(), op, float64(time.Since(start).Microseconds())/1000)
	return v, err
}

// newClientOrderID - 32 hex символа (ограничения длины OKX и Bitget)
func newClientOrderID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
