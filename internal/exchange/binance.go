package exchange

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/go-faster/errors"

	"tvtrader/pkg/ratelimit"
	"tvtrader/pkg/utils"
)

const binanceTestnetBaseURL = "https://testnet.binancefuture.com"

// Кодов "ничего не изменилось" у Binance два: тип маржи и режим позиции
const binanceCodeNoNeedChangeMargin = -4046

// Binance реализует Exchange для USDT-M фьючерсов Binance через go-binance.
// COIN-M не поддерживается: такие символы отклоняются с ErrNotSupported.
type Binance struct {
	restClient
	marketStore

	client     *futures.Client
	hasKey     bool
	marginMode string
	hedgeMode  bool
}

// NewBinance создает клиент Binance Futures
func NewBinance(creds Credentials, opts Options, hc *HTTPClient, limiter *ratelimit.MultiLimiter) *Binance {
	rc := newRESTClient("binance", "", hc, limiter)

	client := binance.NewFuturesClient(creds.APIKey, creds.Secret)
	client.HTTPClient = rc.http
	if creds.Testnet {
		// futures.UseTestnet - глобальный флаг пакета, поэтому меняем адрес конкретного клиента
		client.BaseURL = binanceTestnetBaseURL
	}
	if opts.BaseURL != "" {
		client.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	rc.baseURL = client.BaseURL

	marginMode := opts.MarginMode
	if marginMode == "" {
		marginMode = "isolated"
	}

	return &Binance{
		restClient: rc,
		client:     client,
		hasKey:     creds.APIKey != "",
		marginMode: marginMode,
		hedgeMode:  opts.HedgeMode,
	}
}

func (b *Binance) GetName() string {
	return "binance"
}

// SupportsPositionStops: у Binance нет SL/TP на позицию через REST,
// используются отдельные STOP_MARKET и reduce-only лимитные ордера.
func (b *Binance) SupportsPositionStops() bool {
	return false
}

// wrapError приводит ошибки go-binance к ExchangeError
func (b *Binance) wrapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return &ExchangeError{
			Exchange: "binance",
			Code:     strconv.FormatInt(apiErr.Code, 10),
			Message:  apiErr.Message,
			Original: err,
		}
	}
	return &ExchangeError{Exchange: "binance", Message: err.Error(), Original: err}
}

func (b *Binance) checkSymbol(symbol string) (string, error) {
	if IsInverse(symbol) {
		return "", errors.Wrapf(ErrNotSupported, "binance COIN-M (%s)", symbol)
	}
	return instrumentID(symbol), nil
}

func (b *Binance) wait(ctx context.Context, category string) error {
	if err := b.limiter.Wait(ctx, category); err != nil {
		return &ExchangeError{Exchange: "binance", Message: "rate limit wait: " + err.Error(), Original: err}
	}
	return nil
}

// ============ Рынки ============

func (b *Binance) LoadMarkets(ctx context.Context) error {
	if err := b.wait(ctx, ratelimit.CategoryMarket); err != nil {
		return err
	}
	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return b.wrapError(err)
	}

	leverage := b.loadLeverageBrackets(ctx)

	markets := make([]*Market, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.ContractType != "PERPETUAL" || s.MarginAsset != "USDT" {
			continue
		}
		m := &Market{
			Symbol:       s.BaseAsset + "/" + s.QuoteAsset + ":" + s.MarginAsset,
			ID:           s.Symbol,
			Base:         s.BaseAsset,
			Quote:        s.QuoteAsset,
			Settle:       s.MarginAsset,
			ContractSize: 1,
			MaxLeverage:  leverage[s.Symbol],
		}
		if lot := s.LotSizeFilter(); lot != nil {
			m.QtyStep = parseFloat(lot.StepSize)
			m.MinQty = parseFloat(lot.MinQuantity)
		}
		if pf := s.PriceFilter(); pf != nil {
			m.TickSize = parseFloat(pf.TickSize)
		}
		markets = append(markets, m)
	}

	b.setMarkets(markets)
	b.log.Info("markets loaded", utils.Int("markets", len(markets)))
	return nil
}

// loadLeverageBrackets - максимальное плечо по символам. Эндпоинт подписанный:
// без ключа (или при ошибке) плечо остаётся неизвестным (0 = без ограничения).
func (b *Binance) loadLeverageBrackets(ctx context.Context) map[string]int {
	result := make(map[string]int)
	if !b.hasKey {
		return result
	}
	if err := b.wait(ctx, ratelimit.CategoryAccount); err != nil {
		return result
	}

	brackets, err := b.client.NewGetLeverageBracketService().Do(ctx)
	if err != nil {
		b.log.Warn("leverage brackets unavailable", utils.Err(b.wrapError(err)))
		return result
	}
	for _, lb := range brackets {
		for _, br := range lb.Brackets {
			if br.InitialLeverage > result[lb.Symbol] {
				result[lb.Symbol] = br.InitialLeverage
			}
		}
	}
	return result
}

// ============ Рыночные данные ============

func (b *Binance) FetchTicker(ctx context.Context, symbol string) (*Ticker, error) {
	id, err := b.checkSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if err := b.wait(ctx, ratelimit.CategoryMarket); err != nil {
		return nil, err
	}

	prices, err := b.client.NewListPricesService().Symbol(id).Do(ctx)
	if err != nil {
		return nil, b.wrapError(err)
	}
	if len(prices) == 0 {
		return nil, &ExchangeError{Exchange: "binance", Message: "ticker not found for " + symbol}
	}

	return &Ticker{
		Symbol:    symbol,
		Last:      parseFloat(prices[0].Price),
		Timestamp: time.Now(),
	}, nil
}

func (b *Binance) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	id, err := b.checkSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if err := b.wait(ctx, ratelimit.CategoryMarket); err != nil {
		return nil, err
	}

	// Интервалы Binance совпадают с нашими (1m, 1h, 1d), только часы/дни в нижнем регистре
	klines, err := b.client.NewKlinesService().
		Symbol(id).
		Interval(strings.ToLower(timeframe)).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, b.wrapError(err)
	}

	candles := make([]Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, Candle{
			Time:   time.UnixMilli(k.OpenTime),
			Open:   parseFloat(k.Open),
			High:   parseFloat(k.High),
			Low:    parseFloat(k.Low),
			Close:  parseFloat(k.Close),
			Volume: parseFloat(k.Volume),
		})
	}
	return candles, nil
}

// ============ Торговля ============

// SetLeverage выставляет тип маржи и плечо. Ответ "тип маржи уже такой" игнорируется.
func (b *Binance) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	id, err := b.checkSymbol(symbol)
	if err != nil {
		return err
	}
	if err := b.wait(ctx, ratelimit.CategoryTrade); err != nil {
		return err
	}

	marginType := futures.MarginTypeIsolated
	if b.marginMode == "cross" {
		marginType = futures.MarginTypeCrossed
	}
	err = b.client.NewChangeMarginTypeService().Symbol(id).MarginType(marginType).Do(ctx)
	var apiErr *common.APIError
	if err != nil && !(errors.As(err, &apiErr) && apiErr.Code == binanceCodeNoNeedChangeMargin) {
		b.log.Warn("margin type not changed", utils.Symbol(symbol), utils.Err(b.wrapError(err)))
	}

	if _, err := b.client.NewChangeLeverageService().Symbol(id).Leverage(leverage).Do(ctx); err != nil {
		return b.wrapError(err)
	}
	return nil
}

func binanceSide(side string) futures.SideType {
	if side == SideSell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

// positionSide для hedge mode: LONG/SHORT по стороне входа
func (b *Binance) positionSide(p OrderParams, side string) futures.PositionSideType {
	if !b.hedgeMode {
		return futures.PositionSideTypeBoth
	}
	entry := p.PositionSide
	if entry == "" {
		entry = side
	}
	if entry == SideSell {
		return futures.PositionSideTypeShort
	}
	return futures.PositionSideTypeLong
}

func (b *Binance) newOrder(symbol, id, side string, amount float64, p OrderParams) *futures.CreateOrderService {
	svc := b.client.NewCreateOrderService().
		Symbol(id).
		Side(binanceSide(side)).
		Quantity(formatDecimal(amount))
	if b.hedgeMode {
		// в hedge mode Binance не принимает reduceOnly, закрытие определяется positionSide
		svc = svc.PositionSide(b.positionSide(p, side))
	} else if p.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	if p.ClientOrderID != "" {
		svc = svc.NewClientOrderID(p.ClientOrderID)
	}
	return svc
}

func (b *Binance) toOrder(symbol string, r *futures.CreateOrderResponse) *Order {
	return &Order{
		ID:            strconv.FormatInt(r.OrderID, 10),
		ClientOrderID: r.ClientOrderID,
		Symbol:        symbol,
		Side:          strings.ToLower(string(r.Side)),
		Status:        binanceStatus(r.Status),
		Amount:        parseFloat(r.OrigQuantity),
		Filled:        parseFloat(r.ExecutedQuantity),
		Price:         parseFloat(r.Price),
		Timestamp:     time.UnixMilli(r.UpdateTime),
	}
}

func (b *Binance) CreateMarketOrder(ctx context.Context, symbol, side string, amount float64, p OrderParams) (*Order, error) {
	id, err := b.checkSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if err := b.wait(ctx, ratelimit.CategoryTrade); err != nil {
		return nil, err
	}

	resp, err := b.newOrder(symbol, id, side, amount, p).Type(futures.OrderTypeMarket).Do(ctx)
	if err != nil {
		return nil, b.wrapError(err)
	}
	order := b.toOrder(symbol, resp)
	order.Type = OrderTypeMarket

	if status, err := b.FetchOrderStatus(ctx, order.ID, symbol); err == nil {
		order.Status, order.Filled, order.AvgPrice = status.Status, status.Filled, status.AvgPrice
	} else {
		b.log.Warn("market order status unavailable", utils.OrderID(order.ID), utils.Err(err))
	}
	return order, nil
}

func (b *Binance) CreateLimitOrder(ctx context.Context, symbol, side string, amount, price float64, p OrderParams) (*Order, error) {
	id, err := b.checkSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if err := b.wait(ctx, ratelimit.CategoryTrade); err != nil {
		return nil, err
	}

	resp, err := b.newOrder(symbol, id, side, amount, p).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTC).
		Price(formatDecimal(price)).
		Do(ctx)
	if err != nil {
		return nil, b.wrapError(err)
	}
	order := b.toOrder(symbol, resp)
	order.Type = OrderTypeLimit
	return order, nil
}

// CreateStopOrder - STOP_MARKET по mark price
func (b *Binance) CreateStopOrder(ctx context.Context, symbol, side string, amount, triggerPrice float64, p OrderParams) (*Order, error) {
	id, err := b.checkSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if err := b.wait(ctx, ratelimit.CategoryTrade); err != nil {
		return nil, err
	}

	p.ReduceOnly = true
	resp, err := b.newOrder(symbol, id, side, amount, p).
		Type(futures.OrderTypeStopMarket).
		StopPrice(formatDecimal(triggerPrice)).
		WorkingType(futures.WorkingTypeMarkPrice).
		Do(ctx)
	if err != nil {
		return nil, b.wrapError(err)
	}
	order := b.toOrder(symbol, resp)
	order.Type = OrderTypeStop
	order.Price = triggerPrice
	return order, nil
}

func (b *Binance) CreateTakeProfitOrder(ctx context.Context, symbol, side string, amount, price float64, p OrderParams) (*Order, error) {
	p.ReduceOnly = true
	order, err := b.CreateLimitOrder(ctx, symbol, side, amount, price, p)
	if err != nil {
		return nil, err
	}
	order.Type = OrderTypeTakeProfit
	return order, nil
}

func (b *Binance) SetPositionStops(ctx context.Context, symbol string, stops PositionStops) (*PositionStopsResult, error) {
	return nil, ErrNotSupported
}

func binanceStatus(s futures.OrderStatusType) string {
	switch s {
	case futures.OrderStatusTypeFilled:
		return OrderStatusFilled
	case futures.OrderStatusTypePartiallyFilled:
		return OrderStatusPartial
	case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeExpired:
		return OrderStatusCancelled
	case futures.OrderStatusTypeRejected:
		return OrderStatusRejected
	default:
		return OrderStatusOpen
	}
}

func (b *Binance) FetchOrderStatus(ctx context.Context, orderID, symbol string) (*Order, error) {
	id, err := b.checkSymbol(symbol)
	if err != nil {
		return nil, err
	}
	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, errors.Errorf("binance: invalid order id %q", orderID)
	}
	if err := b.wait(ctx, ratelimit.CategoryAccount); err != nil {
		return nil, err
	}

	o, err := b.client.NewGetOrderService().Symbol(id).OrderID(oid).Do(ctx)
	if err != nil {
		return nil, b.wrapError(err)
	}
	return &Order{
		ID:            strconv.FormatInt(o.OrderID, 10),
		ClientOrderID: o.ClientOrderID,
		Symbol:        symbol,
		Side:          strings.ToLower(string(o.Side)),
		Type:          strings.ToLower(string(o.Type)),
		Status:        binanceStatus(o.Status),
		Amount:        parseFloat(o.OrigQuantity),
		Filled:        parseFloat(o.ExecutedQuantity),
		Price:         parseFloat(o.Price),
		AvgPrice:      parseFloat(o.AvgPrice),
		Timestamp:     time.UnixMilli(o.Time),
	}, nil
}

func (b *Binance) CancelOrder(ctx context.Context, orderID, symbol string) error {
	id, err := b.checkSymbol(symbol)
	if err != nil {
		return err
	}
	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return errors.Errorf("binance: invalid order id %q", orderID)
	}
	if err := b.wait(ctx, ratelimit.CategoryTrade); err != nil {
		return err
	}

	if _, err := b.client.NewCancelOrderService().Symbol(id).OrderID(oid).Do(ctx); err != nil {
		return b.wrapError(err)
	}
	return nil
}

func (b *Binance) GetBalance(ctx context.Context) (*Balance, error) {
	if err := b.wait(ctx, ratelimit.CategoryAccount); err != nil {
		return nil, err
	}
	balances, err := b.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return nil, b.wrapError(err)
	}
	for _, bal := range balances {
		if bal.Asset == "USDT" {
			return &Balance{Currency: "USDT", Total: parseFloat(bal.Balance), Available: parseFloat(bal.AvailableBalance)}, nil
		}
	}
	return &Balance{Currency: "USDT"}, nil
}

func (b *Binance) Close() error {
	return nil
}
