package exchange

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOKX(t *testing.T, routes map[string]string, testnet bool) (*OKX, *fakeVenue) {
	t.Helper()
	v := newFakeVenue(t, routes)
	o := NewOKX(
		Credentials{APIKey: "key", Secret: "secret", Passphrase: "pass", Testnet: testnet},
		Options{BaseURL: v.URL},
		testHTTPClient(), nil,
	)
	return o, v
}

func TestOKX_LoadMarkets_ContractValue(t *testing.T) {
	o, _ := newTestOKX(t, map[string]string{
		"/api/v5/public/instruments": `{"code":"0","msg":"","data":[
			{"instId":"BTC-USDT-SWAP","uly":"BTC-USDT","ctType":"linear","ctVal":"0.01","settleCcy":"USDT","lotSz":"1","minSz":"1","tickSz":"0.1","lever":"125"},
			{"instId":"BTC-USD-SWAP","uly":"BTC-USD","ctType":"inverse","ctVal":"100","settleCcy":"BTC","lotSz":"1","minSz":"1","tickSz":"0.1","lever":"125"}
		]}`,
	}, false)

	require.NoError(t, o.LoadMarkets(context.Background()))

	m, err := o.GetMarket("BTC/USDT:USDT")
	require.NoError(t, err)
	assert.Equal(t, "BTC-USDT-SWAP", m.ID)
	assert.Equal(t, 0.01, m.ContractSize)
	assert.Equal(t, 125, m.MaxLeverage)

	inv, err := o.GetMarket("BTC/USD:BTC")
	require.NoError(t, err)
	assert.True(t, inv.Inverse)
}

func TestOKX_FetchOHLCV_ReversedAndBar(t *testing.T) {
	o, v := newTestOKX(t, map[string]string{
		"/api/v5/market/candles": `{"code":"0","data":[
			["2000","11","13","10","12","5","0","0","1"],
			["1000","10","12","9","11","5","0","0","1"]
		]}`,
	}, false)

	candles, err := o.FetchOHLCV(context.Background(), "BTC/USDT:USDT", "1d", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, int64(1000), candles[0].Time.UnixMilli())

	req, _ := v.last("/api/v5/market/candles")
	assert.Contains(t, req.Query, "bar=1Dutc")
	assert.Contains(t, req.Query, "instId=BTC-USDT-SWAP")
}

func TestOKX_OrderErrorUsesItemCode(t *testing.T) {
	o, _ := newTestOKX(t, map[string]string{
		"/api/v5/trade/order": `{"code":"1","msg":"All operations failed","data":[{"sCode":"51008","sMsg":"Insufficient balance"}]}`,
	}, false)

	_, err := o.CreateLimitOrder(context.Background(), "BTC/USDT:USDT", SideBuy, 1, 100, OrderParams{})
	var exErr *ExchangeError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, "51008", exErr.Code)
	assert.Equal(t, "Insufficient balance", exErr.Message)
}

func TestOKX_SignedHeadersAndDemo(t *testing.T) {
	o, v := newTestOKX(t, map[string]string{
		"/api/v5/account/set-leverage": `{"code":"0","data":[{"lever":"10"}]}`,
	}, true)

	require.NoError(t, o.SetLeverage(context.Background(), "ETH/USDT:USDT", 10))

	req, ok := v.last("/api/v5/account/set-leverage")
	require.True(t, ok)
	assert.Equal(t, "key", req.Header.Get("OK-ACCESS-KEY"))
	assert.Equal(t, "pass", req.Header.Get("OK-ACCESS-PASSPHRASE"))
	assert.NotEmpty(t, req.Header.Get("OK-ACCESS-SIGN"))
	assert.Equal(t, "1", req.Header.Get("x-simulated-trading"))
	assert.Equal(t, "ETH-USDT-SWAP", req.Body["instId"])
	assert.Equal(t, "isolated", req.Body["mgnMode"])
}

func TestOKX_SetPositionStops_OCO(t *testing.T) {
	o, v := newTestOKX(t, map[string]string{
		"/api/v5/trade/order-algo": `{"code":"0","data":[{"algoId":"algo-1","sCode":"0"}]}`,
	}, false)

	res, err := o.SetPositionStops(context.Background(), "BTC/USDT:USDT", PositionStops{PositionSide: SideSell, StopLoss: 105, TakeProfit: 90})
	require.NoError(t, err)
	assert.Equal(t, "algo-1", res.ID)

	req, _ := v.last("/api/v5/trade/order-algo")
	assert.Equal(t, "oco", req.Body["ordType"])
	assert.Equal(t, "buy", req.Body["side"])
	assert.Equal(t, "1", req.Body["closeFraction"])
	assert.Equal(t, "105", req.Body["slTriggerPx"])
	assert.Equal(t, "90", req.Body["tpTriggerPx"])
}

func TestOKX_SetPositionStops_SingleLevelIsConditional(t *testing.T) {
	o, v := newTestOKX(t, map[string]string{
		"/api/v5/trade/order-algo": `{"code":"0","data":[{"algoId":"algo-2"}]}`,
	}, false)

	_, err := o.SetPositionStops(context.Background(), "BTC/USDT:USDT", PositionStops{PositionSide: SideBuy, StopLoss: 95})
	require.NoError(t, err)

	req, _ := v.last("/api/v5/trade/order-algo")
	assert.Equal(t, "conditional", req.Body["ordType"])
	assert.NotContains(t, req.Body, "tpTriggerPx")
}

func TestOKX_FetchOrderStatus(t *testing.T) {
	o, _ := newTestOKX(t, map[string]string{
		"/api/v5/trade/order": `{"code":"0","data":[{"ordId":"1","state":"partially_filled","sz":"10","accFillSz":"4","avgPx":"101.5"}]}`,
	}, false)

	order, err := o.FetchOrderStatus(context.Background(), "1", "BTC/USDT:USDT")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusPartial, order.Status)
	assert.Equal(t, 4.0, order.Filled)
	assert.Equal(t, 101.5, order.FillPrice())
}
