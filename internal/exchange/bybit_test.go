package exchange

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tvtrader/pkg/retry"
)

func newTestBybit(t *testing.T, routes map[string]string, hedge bool) (*Bybit, *fakeVenue) {
	t.Helper()
	v := newFakeVenue(t, routes)
	b := NewBybit(
		Credentials{APIKey: "key", Secret: "secret"},
		Options{HedgeMode: hedge, BaseURL: v.URL},
		testHTTPClient(), nil,
	)
	return b, v
}

func TestBybit_FetchOHLCV_OldestFirst(t *testing.T) {
	b, v := newTestBybit(t, map[string]string{
		"/v5/market/kline": `{"retCode":0,"retMsg":"OK","result":{"list":[
			["3000","12","14","11","13","5"],
			["2000","11","13","10","12","5"],
			["1000","10","12","9","11","5"]
		]}}`,
	}, false)

	candles, err := b.FetchOHLCV(context.Background(), "BTC/USDT:USDT", "1d", 3)
	require.NoError(t, err)
	require.Len(t, candles, 3)
	assert.Equal(t, int64(1000), candles[0].Time.UnixMilli())
	assert.Equal(t, int64(3000), candles[2].Time.UnixMilli())
	assert.Equal(t, 14.0, candles[2].High)

	req, ok := v.last("/v5/market/kline")
	require.True(t, ok)
	assert.Contains(t, req.Query, "interval=D")
	assert.Contains(t, req.Query, "category=linear")
	assert.Contains(t, req.Query, "symbol=BTCUSDT")
}

func TestBybit_FetchOHLCV_UnsupportedTimeframe(t *testing.T) {
	b, _ := newTestBybit(t, nil, false)
	_, err := b.FetchOHLCV(context.Background(), "BTC/USDT:USDT", "7m", 10)
	require.Error(t, err)
}

func TestBybit_FetchTicker(t *testing.T) {
	b, _ := newTestBybit(t, map[string]string{
		"/v5/market/tickers": `{"retCode":0,"result":{"list":[{"lastPrice":"65000.5","bid1Price":"65000","ask1Price":"65001"}]},"time":1700000000000}`,
	}, false)

	ticker, err := b.FetchTicker(context.Background(), "BTC/USDT:USDT")
	require.NoError(t, err)
	assert.Equal(t, 65000.5, ticker.Last)
	assert.Equal(t, 65000.0, ticker.Bid)
}

func TestBybit_APIErrorIsNotRetryable(t *testing.T) {
	b, _ := newTestBybit(t, map[string]string{
		"/v5/market/tickers": `{"retCode":10001,"retMsg":"params error"}`,
	}, false)

	_, err := b.FetchTicker(context.Background(), "BTC/USDT:USDT")
	require.Error(t, err)

	var exErr *ExchangeError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, "10001", exErr.Code)
	assert.False(t, retry.IsRetryable(err))
}

func TestBybit_SetLeverage_NotModifiedIsSuccess(t *testing.T) {
	b, v := newTestBybit(t, map[string]string{
		"/v5/position/set-leverage": `{"retCode":110043,"retMsg":"leverage not modified"}`,
	}, false)

	require.NoError(t, b.SetLeverage(context.Background(), "BTC/USDT:USDT", 10))

	req, ok := v.last("/v5/position/set-leverage")
	require.True(t, ok)
	assert.Equal(t, "10", req.Body["buyLeverage"])
	assert.NotEmpty(t, req.Header.Get("X-BAPI-SIGN"))
	assert.Equal(t, "key", req.Header.Get("X-BAPI-API-KEY"))
}

func TestBybit_CreateMarketOrder_ReadsFillPrice(t *testing.T) {
	b, v := newTestBybit(t, map[string]string{
		"/v5/order/create":   `{"retCode":0,"result":{"orderId":"o-1","orderLinkId":"cid-1"}}`,
		"/v5/order/realtime": `{"retCode":0,"result":{"list":[{"orderId":"o-1","orderStatus":"Filled","qty":"0.5","cumExecQty":"0.5","avgPrice":"100.25"}]}}`,
	}, false)

	order, err := b.CreateMarketOrder(context.Background(), "BTC/USDT:USDT", SideBuy, 0.5, OrderParams{ClientOrderID: "cid-1"})
	require.NoError(t, err)
	assert.Equal(t, "o-1", order.ID)
	assert.Equal(t, OrderStatusFilled, order.Status)
	assert.Equal(t, 100.25, order.FillPrice())

	req, _ := v.last("/v5/order/create")
	assert.Equal(t, "Buy", req.Body["side"])
	assert.Equal(t, "Market", req.Body["orderType"])
	assert.Equal(t, "0.5", req.Body["qty"])
	assert.Equal(t, "cid-1", req.Body["orderLinkId"])
	assert.EqualValues(t, 0, req.Body["positionIdx"])
}

func TestBybit_HedgeModeStopUsesEntryPositionIdx(t *testing.T) {
	b, v := newTestBybit(t, map[string]string{
		"/v5/order/create": `{"retCode":0,"result":{"orderId":"sl-1"}}`,
	}, true)

	_, err := b.CreateStopOrder(context.Background(), "BTC/USDT:USDT", SideSell, 1, 95, OrderParams{PositionSide: SideBuy})
	require.NoError(t, err)

	req, _ := v.last("/v5/order/create")
	assert.EqualValues(t, 1, req.Body["positionIdx"])
	assert.EqualValues(t, 2, req.Body["triggerDirection"])
	assert.Equal(t, true, req.Body["reduceOnly"])
	assert.Equal(t, "95", req.Body["triggerPrice"])
}

func TestBybit_SetPositionStops(t *testing.T) {
	b, v := newTestBybit(t, map[string]string{
		"/v5/position/list":         `{"retCode":0,"result":{"list":[{"positionIdx":0,"side":"Buy","size":"1"}]}}`,
		"/v5/position/trading-stop": `{"retCode":0,"result":{}}`,
	}, false)

	res, err := b.SetPositionStops(context.Background(), "BTC/USDT:USDT", PositionStops{PositionSide: SideBuy, StopLoss: 95, TakeProfit: 110})
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT:0", res.ID)

	req, _ := v.last("/v5/position/trading-stop")
	assert.Equal(t, "95", req.Body["stopLoss"])
	assert.Equal(t, "110", req.Body["takeProfit"])
	assert.Equal(t, "Full", req.Body["tpslMode"])
}

func TestBybit_LoadMarkets(t *testing.T) {
	b, _ := newTestBybit(t, map[string]string{
		"/v5/market/instruments-info": `{"retCode":0,"result":{"list":[
			{"symbol":"BTCUSDT","contractType":"LinearPerpetual","baseCoin":"BTC","quoteCoin":"USDT","settleCoin":"USDT",
			 "leverageFilter":{"maxLeverage":"100"},"priceFilter":{"tickSize":"0.1"},"lotSizeFilter":{"qtyStep":"0.001","minOrderQty":"0.001"}},
			{"symbol":"BTCUSDT-27DEC","contractType":"LinearFutures","baseCoin":"BTC","quoteCoin":"USDT","settleCoin":"USDT"}
		],"nextPageCursor":""}}`,
	}, false)

	_, err := b.GetMarket("BTC/USDT:USDT")
	assert.ErrorIs(t, err, ErrMarketsNotLoaded)

	require.NoError(t, b.LoadMarkets(context.Background()))

	m, err := b.GetMarket("BTC/USDT:USDT")
	require.NoError(t, err)
	assert.Equal(t, 100, m.MaxLeverage)
	assert.Equal(t, 0.001, m.QtyStep)
	assert.Equal(t, 0.1, m.TickSize)

	_, err = b.GetMarket("ETH/USDT:USDT")
	assert.ErrorIs(t, err, ErrMarketNotFound)
}
