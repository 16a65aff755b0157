package exchange

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBitget(t *testing.T, routes map[string]string) (*Bitget, *fakeVenue) {
	t.Helper()
	v := newFakeVenue(t, routes)
	b := NewBitget(
		Credentials{APIKey: "key", Secret: "secret", Passphrase: "pass"},
		Options{MarginMode: "cross", BaseURL: v.URL},
		testHTTPClient(), nil,
	)
	return b, v
}

func TestBitgetTick(t *testing.T) {
	assert.InDelta(t, 0.05, bitgetTick("2", "5"), 1e-12)
	assert.InDelta(t, 0.1, bitgetTick("1", "1"), 1e-12)
	assert.InDelta(t, 1.0, bitgetTick("0", ""), 1e-12)
	assert.Equal(t, 0.0, bitgetTick("x", "1"))
}

func TestBitget_ErrorEnvelope(t *testing.T) {
	b, _ := newTestBitget(t, map[string]string{
		"/api/v2/mix/market/ticker": `{"code":"40034","msg":"Parameter does not exist"}`,
	})

	_, err := b.FetchTicker(context.Background(), "BTC/USDT:USDT")
	var exErr *ExchangeError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, "40034", exErr.Code)
}

func TestBitget_PlaceLimitOrder(t *testing.T) {
	b, v := newTestBitget(t, map[string]string{
		"/api/v2/mix/order/place-order": `{"code":"00000","data":{"orderId":"b-1","clientOid":"cid"}}`,
	})

	order, err := b.CreateTakeProfitOrder(context.Background(), "ETH/USDT:USDT", SideSell, 0.3, 2500, OrderParams{ClientOrderID: "cid"})
	require.NoError(t, err)
	assert.Equal(t, "b-1", order.ID)
	assert.Equal(t, OrderTypeTakeProfit, order.Type)

	req, _ := v.last("/api/v2/mix/order/place-order")
	assert.Equal(t, "ETHUSDT", req.Body["symbol"])
	assert.Equal(t, "USDT-FUTURES", req.Body["productType"])
	assert.Equal(t, "crossed", req.Body["marginMode"])
	assert.Equal(t, "YES", req.Body["reduceOnly"])
	assert.Equal(t, "2500", req.Body["price"])
	assert.Equal(t, "gtc", req.Body["force"])
	assert.NotEmpty(t, req.Header.Get("ACCESS-SIGN"))
}

func TestBitget_SetPositionStops(t *testing.T) {
	b, v := newTestBitget(t, map[string]string{
		"/api/v2/mix/order/place-pos-tpsl": `{"code":"00000","data":[{"orderId":"tpsl-1"}]}`,
	})

	res, err := b.SetPositionStops(context.Background(), "BTC/USDT:USDT", PositionStops{PositionSide: SideSell, StopLoss: 105, TakeProfit: 90})
	require.NoError(t, err)
	assert.Equal(t, "tpsl-1", res.ID)

	req, _ := v.last("/api/v2/mix/order/place-pos-tpsl")
	assert.Equal(t, "short", req.Body["holdSide"])
	assert.Equal(t, "105", req.Body["stopLossTriggerPrice"])
	assert.Equal(t, "90", req.Body["stopSurplusTriggerPrice"])
}

func TestBitget_FetchOHLCV_AlreadyAscending(t *testing.T) {
	b, v := newTestBitget(t, map[string]string{
		"/api/v2/mix/market/candles": `{"code":"00000","data":[
			["1000","10","12","9","11","5","55"],
			["2000","11","13","10","12","5","60"]
		]}`,
	})

	candles, err := b.FetchOHLCV(context.Background(), "BTC/USDT:USDT", "1h", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, int64(1000), candles[0].Time.UnixMilli())

	req, _ := v.last("/api/v2/mix/market/candles")
	assert.Contains(t, req.Query, "granularity=1H")
}
