package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/require"

	"tvtrader/internal/events"
	"tvtrader/internal/exchange"
	"tvtrader/internal/models"
	"tvtrader/internal/risk"
)

// mockExchange - биржа в памяти. Поведение задаётся полями, вызовы записываются.
type mockExchange struct {
	mu sync.Mutex

	name           string
	market         *exchange.Market
	ticker         float64
	tickerErr      error
	tickerFailFrom int // с какого вызова FetchTicker начинает падать (0 = tickerErr всегда)
	tickerCalls    int

	leverageErr error
	leverage    int

	entry    *exchange.Order
	entryErr error

	positionStops    bool
	positionStopsErr error
	stopErr          error
	takeErr          error

	// статусы FetchOrderStatus по очереди; последний повторяется
	statuses  []*exchange.Order
	statusErr error
	cancelErr error
	// после отмены FetchOrderStatus возвращает этот статус
	afterCancel *exchange.Order
	cancelled   bool

	calls       []string
	marketQty   float64
	limitPrice  float64
	stopOrders  []mockProtective
	takeOrders  []mockProtective
	posStops    []exchange.PositionStops
	statusCalls int
}

type mockProtective struct {
	Side   string
	Amount float64
	Price  float64
	Params exchange.OrderParams
}

func newMockExchange(name string) *mockExchange {
	return &mockExchange{
		name:   name,
		ticker: 100,
		market: &exchange.Market{
			Symbol:       "BTC/USDT:USDT",
			ID:           "BTCUSDT",
			Base:         "BTC",
			Quote:        "USDT",
			Settle:       "USDT",
			ContractSize: 1,
			MaxLeverage:  100,
			QtyStep:      0.001,
			TickSize:     0.1,
		},
		entry: &exchange.Order{ID: "entry-1", Status: exchange.OrderStatusFilled, AvgPrice: 100},
	}
}

func (m *mockExchange) record(call string) {
	m.calls = append(m.calls, call)
}

func (m *mockExchange) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockExchange) GetName() string                       { return m.name }
func (m *mockExchange) LoadMarkets(ctx context.Context) error { return nil }

func (m *mockExchange) GetMarket(symbol string) (*exchange.Market, error) {
	if m.market == nil || m.market.Symbol != symbol {
		return nil, exchange.ErrMarketNotFound
	}
	return m.market, nil
}

func (m *mockExchange) FetchTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("fetch_ticker")
	m.tickerCalls++
	if m.tickerErr != nil && m.tickerCalls >= m.tickerFailFrom {
		return nil, m.tickerErr
	}
	return &exchange.Ticker{Symbol: symbol, Last: m.ticker}, nil
}

func (m *mockExchange) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]exchange.Candle, error) {
	return nil, exchange.ErrNotSupported
}

func (m *mockExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("set_leverage")
	m.leverage = leverage
	return m.leverageErr
}

func (m *mockExchange) CreateMarketOrder(ctx context.Context, symbol, side string, amount float64, params exchange.OrderParams) (*exchange.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("create_market_order")
	m.marketQty = amount
	if m.entryErr != nil {
		return nil, m.entryErr
	}
	o := *m.entry
	o.Side, o.Amount, o.ClientOrderID = side, amount, params.ClientOrderID
	return &o, nil
}

func (m *mockExchange) CreateLimitOrder(ctx context.Context, symbol, side string, amount, price float64, params exchange.OrderParams) (*exchange.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("create_limit_order")
	m.marketQty = amount
	m.limitPrice = price
	if m.entryErr != nil {
		return nil, m.entryErr
	}
	return &exchange.Order{ID: "limit-1", Status: exchange.OrderStatusOpen, Side: side, Amount: amount, Price: price}, nil
}

func (m *mockExchange) CreateStopOrder(ctx context.Context, symbol, side string, amount, triggerPrice float64, params exchange.OrderParams) (*exchange.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("create_stop_order")
	m.stopOrders = append(m.stopOrders, mockProtective{Side: side, Amount: amount, Price: triggerPrice, Params: params})
	if m.stopErr != nil {
		return nil, m.stopErr
	}
	return &exchange.Order{ID: "sl-1", Side: side, Amount: amount, Price: triggerPrice}, nil
}

func (m *mockExchange) CreateTakeProfitOrder(ctx context.Context, symbol, side string, amount, price float64, params exchange.OrderParams) (*exchange.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("create_take_profit_order")
	m.takeOrders = append(m.takeOrders, mockProtective{Side: side, Amount: amount, Price: price, Params: params})
	if m.takeErr != nil {
		return nil, m.takeErr
	}
	return &exchange.Order{ID: "tp-1", Side: side, Amount: amount, Price: price}, nil
}

func (m *mockExchange) SetPositionStops(ctx context.Context, symbol string, stops exchange.PositionStops) (*exchange.PositionStopsResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("set_position_stops")
	m.posStops = append(m.posStops, stops)
	if !m.positionStops {
		return nil, exchange.ErrNotSupported
	}
	if m.positionStopsErr != nil {
		return nil, m.positionStopsErr
	}
	return &exchange.PositionStopsResult{ID: "pos-stops-1"}, nil
}

func (m *mockExchange) CancelOrder(ctx context.Context, orderID, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("cancel_order")
	if m.cancelErr != nil {
		return m.cancelErr
	}
	m.cancelled = true
	return nil
}

func (m *mockExchange) SupportsPositionStops() bool { return m.positionStops }

func (m *mockExchange) FetchOrderStatus(ctx context.Context, orderID, symbol string) (*exchange.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("fetch_order_status")
	m.statusCalls++
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	if m.cancelled && m.afterCancel != nil {
		o := *m.afterCancel
		o.ID = orderID
		return &o, nil
	}
	if len(m.statuses) == 0 {
		return &exchange.Order{ID: orderID, Status: exchange.OrderStatusOpen}, nil
	}
	idx := m.statusCalls - 1
	if idx >= len(m.statuses) {
		idx = len(m.statuses) - 1
	}
	o := *m.statuses[idx]
	o.ID = orderID
	return &o, nil
}

func (m *mockExchange) GetBalance(ctx context.Context) (*exchange.Balance, error) {
	return &exchange.Balance{Currency: "USDT", Total: 1000, Available: 900}, nil
}

func (m *mockExchange) Close() error { return nil }

// mockProvider - выдаёт заранее созданные биржи
type mockProvider struct {
	exchanges map[string]exchange.Exchange
	err       error
}

func (p *mockProvider) Acquire(ctx context.Context, name string) (exchange.Exchange, error) {
	if p.err != nil {
		return nil, p.err
	}
	ex, ok := p.exchanges[name]
	if !ok {
		return nil, exchange.ErrNoCredentials
	}
	return ex, nil
}

// recordingPublisher запоминает события
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	ch     chan events.Event
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{ch: make(chan events.Event, 64)}
}

func (p *recordingPublisher) Publish(ctx context.Context, e events.Event) error {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
	select {
	case p.ch <- e:
	default:
	}
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Events() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}

// waitFor ждёт событие заданного типа
func (p *recordingPublisher) waitFor(t *testing.T, typ ...events.Type) events.Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case e := <-p.ch:
			for _, want := range typ {
				if e.Type == want {
					return e
				}
			}
		case <-timeout:
			require.FailNowf(t, "event not published", "types %v", typ)
			return events.Event{}
		}
	}
}

// fixedATR - источник ATR с постоянным значением
func fixedATR(v float64) VolatilityFactory {
	return func(exchange.Exchange) risk.Volatility {
		return risk.VolatilityFunc(func(ctx context.Context, symbol string) (float64, error) {
			return v, nil
		})
	}
}

func failingATR(err error) VolatilityFactory {
	return func(exchange.Exchange) risk.Volatility {
		return risk.VolatilityFunc(func(ctx context.Context, symbol string) (float64, error) {
			return 0, err
		})
	}
}

// testConfig: fixed_risk_atr как в примере со стопом 99.5 и тейком 101.5
func testConfig() Config {
	return Config{
		Exchange:        "bybit",
		ContractType:    models.ContractUSDTM,
		OrderType:       models.OrderTypeMarket,
		DefaultLeverage: 10,
		Risk: risk.Params{
			Mode: risk.ModeFixedRiskATR,
			FixedSize: risk.FixedSizeParams{
				Notional:       100,
				StopLossRate:   0.1,
				TakeProfitRate: 0.3,
			},
			RiskATR: risk.FixedRiskATRParams{
				RiskPerTrade:    1.0,
				ATRMultiplier:   1.0,
				RiskRewardRatio: 3.0,
				MaxNotional:     300,
				MinNotional:     30,
			},
		},
		CallTimeout:         time.Second,
		MaxRetries:          0,
		PendingPollInterval: 10 * time.Millisecond,
		PendingTimeout:      time.Second,
	}
}

func newTestExecutor(t *testing.T, cfg Config, ex *mockExchange, vol VolatilityFactory) (*Executor, *recordingPublisher) {
	t.Helper()
	pub := newRecordingPublisher()
	provider := &mockProvider{exchanges: map[string]exchange.Exchange{ex.name: ex}}
	e, err := NewExecutor(cfg, provider, vol, pub)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	})
	return e, pub
}

func buyRequest() *models.OrderRequest {
	return &models.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     models.SideBuy,
		Leverage: 10,
		Exchange: "bybit",
	}
}

// apiErr - отказ биржи с кодом (не повторяется)
func apiErr(msg string) error {
	return &exchange.ExchangeError{Exchange: "bybit", Code: "10001", Message: msg}
}

var errBoom = errors.New("boom")
