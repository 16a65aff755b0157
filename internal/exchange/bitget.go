package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"tvtrader/pkg/ratelimit"
	"tvtrader/pkg/utils"
)

const bitgetBaseURL = "https://api.bitget.com"

// Bitget реализует Exchange для Bitget v2 mix (USDT-FUTURES и COIN-FUTURES).
// Количество задаётся в базовой валюте.
type Bitget struct {
	restClient
	marketStore

	apiKey     string
	secretKey  string
	passphrase string
	demo       bool
	marginMode string
}

// NewBitget создает клиент Bitget. Testnet включает демо-торговлю (заголовок paptrading).
func NewBitget(creds Credentials, opts Options, hc *HTTPClient, limiter *ratelimit.MultiLimiter) *Bitget {
	baseURL := bitgetBaseURL
	if opts.BaseURL != "" {
		baseURL = opts.BaseURL
	}
	// Bitget называет кросс-маржу "crossed"
	marginMode := "isolated"
	if opts.MarginMode == "cross" || opts.MarginMode == "crossed" {
		marginMode = "crossed"
	}

	return &Bitget{
		restClient: newRESTClient("bitget", baseURL, hc, limiter),
		apiKey:     creds.APIKey,
		secretKey:  creds.Secret,
		passphrase: creds.Passphrase,
		demo:       creds.Testnet,
		marginMode: marginMode,
	}
}

func (b *Bitget) GetName() string {
	return "bitget"
}

func (b *Bitget) SupportsPositionStops() bool {
	return true
}

// productType по унифицированному символу
func (b *Bitget) productType(symbol string) string {
	if IsInverse(symbol) {
		return "COIN-FUTURES"
	}
	return "USDT-FUTURES"
}

func (b *Bitget) marginCoin(symbol string) string {
	_, _, settle, err := ParseUnified(symbol)
	if err != nil {
		return "USDT"
	}
	return settle
}

// sign: base64(HMAC-SHA256(timestamp + method + requestPath + body))
func (b *Bitget) sign(timestamp, method, requestPath, body string) string {
	h := hmac.New(sha256.New, []byte(b.secretKey))
	h.Write([]byte(timestamp + method + requestPath + body))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func (b *Bitget) doRequest(ctx context.Context, method, path string, query map[string]string, body map[string]interface{}, signed bool, category string, out interface{}) error {
	requestPath := path
	if q := encodeQuery(query); q != "" {
		requestPath += "?" + q
	}

	var payload string
	var bodyReader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = string(raw)
		bodyReader = strings.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+requestPath, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("locale", "en-US")
	if b.demo {
		req.Header.Set("paptrading", "1")
	}

	if signed {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.Header.Set("ACCESS-KEY", b.apiKey)
		req.Header.Set("ACCESS-SIGN", b.sign(timestamp, method, requestPath, payload))
		req.Header.Set("ACCESS-TIMESTAMP", timestamp)
		req.Header.Set("ACCESS-PASSPHRASE", b.passphrase)
	}

	raw, err := b.send(ctx, category, req)
	if err != nil {
		return err
	}

	var base struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &base); err != nil {
		return &ExchangeError{Exchange: "bitget", Message: "decode response: " + err.Error(), Original: err}
	}
	if base.Code != "00000" {
		return &ExchangeError{Exchange: "bitget", Code: base.Code, Message: base.Msg}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ExchangeError{Exchange: "bitget", Message: "decode result: " + err.Error(), Original: err}
	}
	return nil
}

// ============ Рынки ============

func (b *Bitget) LoadMarkets(ctx context.Context) error {
	var markets []*Market
	for _, pt := range []string{"USDT-FUTURES", "COIN-FUTURES"} {
		var resp struct {
			Data []struct {
				Symbol         string   `json:"symbol"`
				BaseCoin       string   `json:"baseCoin"`
				QuoteCoin      string   `json:"quoteCoin"`
				SupportMargin  []string `json:"supportMarginCoins"`
				MaxLever       string   `json:"maxLever"`
				MinTradeNum    string   `json:"minTradeNum"`
				SizeMultiplier string   `json:"sizeMultiplier"`
				PricePlace     string   `json:"pricePlace"`
				PriceEndStep   string   `json:"priceEndStep"`
				SymbolType     string   `json:"symbolType"`
			} `json:"data"`
		}
		if err := b.doRequest(ctx, http.MethodGet, "/api/v2/mix/market/contracts", map[string]string{"productType": pt}, nil, false, ratelimit.CategoryMarket, &resp); err != nil {
			return err
		}

		inverse := strings.Contains(pt, "COIN")
		for _, it := range resp.Data {
			if it.SymbolType != "" && it.SymbolType != "perpetual" {
				continue
			}
			settle := it.QuoteCoin
			if inverse {
				settle = it.BaseCoin
			}
			markets = append(markets, &Market{
				Symbol:       it.BaseCoin + "/" + it.QuoteCoin + ":" + settle,
				ID:           it.Symbol,
				Base:         it.BaseCoin,
				Quote:        it.QuoteCoin,
				Settle:       settle,
				Inverse:      inverse,
				ContractSize: 1,
				MaxLeverage:  int(parseFloat(it.MaxLever)),
				QtyStep:      parseFloat(it.SizeMultiplier),
				MinQty:       parseFloat(it.MinTradeNum),
				TickSize:     bitgetTick(it.PricePlace, it.PriceEndStep),
			})
		}
	}

	b.setMarkets(markets)
	b.log.Info("markets loaded", utils.Int("markets", len(markets)))
	return nil
}

// bitgetTick: pricePlace=2, priceEndStep=5 -> 0.05
func bitgetTick(pricePlace, endStep string) float64 {
	places, err := strconv.Atoi(pricePlace)
	if err != nil {
		return 0
	}
	step := parseFloat(endStep)
	if step <= 0 {
		step = 1
	}
	tick := step
	for i := 0; i < places; i++ {
		tick /= 10
	}
	return tick
}

// ============ Рыночные данные ============

func (b *Bitget) FetchTicker(ctx context.Context, symbol string) (*Ticker, error) {
	var resp struct {
		Data []struct {
			LastPr string `json:"lastPr"`
			BidPr  string `json:"bidPr"`
			AskPr  string `json:"askPr"`
			Ts     string `json:"ts"`
		} `json:"data"`
	}
	query := map[string]string{"symbol": instrumentID(symbol), "productType": b.productType(symbol)}
	if err := b.doRequest(ctx, http.MethodGet, "/api/v2/mix/market/ticker", query, nil, false, ratelimit.CategoryMarket, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, &ExchangeError{Exchange: "bitget", Message: "ticker not found for " + symbol}
	}

	t := resp.Data[0]
	ts, _ := strconv.ParseInt(t.Ts, 10, 64)
	return &Ticker{
		Symbol:    symbol,
		Last:      parseFloat(t.LastPr),
		Bid:       parseFloat(t.BidPr),
		Ask:       parseFloat(t.AskPr),
		Timestamp: time.UnixMilli(ts),
	}, nil
}

var bitgetGranularity = map[string]string{
	"1m": "1m", "3m": "3m", "5m": "5m", "15m": "15m", "30m": "30m",
	"1h": "1H", "4h": "4H", "6h": "6Hutc", "12h": "12Hutc",
	"1d": "1Dutc", "1w": "1Wutc",
}

func (b *Bitget) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	gran, ok := bitgetGranularity[strings.ToLower(timeframe)]
	if !ok {
		return nil, errors.Errorf("bitget: unsupported timeframe %q", timeframe)
	}

	var resp struct {
		Data [][]string `json:"data"`
	}
	query := map[string]string{
		"symbol":      instrumentID(symbol),
		"productType": b.productType(symbol),
		"granularity": gran,
		"limit":       strconv.Itoa(limit),
	}
	if err := b.doRequest(ctx, http.MethodGet, "/api/v2/mix/market/candles", query, nil, false, ratelimit.CategoryMarket, &resp); err != nil {
		return nil, err
	}

	// Bitget отдаёт свечи от старых к новым
	candles := make([]Candle, 0, len(resp.Data))
	for _, row := range resp.Data {
		if len(row) < 6 {
			continue
		}
		ts, _ := strconv.ParseInt(row[0], 10, 64)
		candles = append(candles, Candle{
			Time:   time.UnixMilli(ts),
			Open:   parseFloat(row[1]),
			High:   parseFloat(row[2]),
			Low:    parseFloat(row[3]),
			Close:  parseFloat(row[4]),
			Volume: parseFloat(row[5]),
		})
	}
	return candles, nil
}

// ============ Торговля ============

func (b *Bitget) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	body := map[string]interface{}{
		"symbol":      instrumentID(symbol),
		"productType": b.productType(symbol),
		"marginCoin":  b.marginCoin(symbol),
		"leverage":    strconv.Itoa(leverage),
	}
	err := b.doRequest(ctx, http.MethodPost, "/api/v2/mix/account/set-leverage", nil, body, true, ratelimit.CategoryTrade, nil)
	if err != nil && IsLeverageNotModified(err) {
		return nil
	}
	return err
}

func (b *Bitget) orderBody(symbol, side, orderType string, amount float64, p OrderParams) map[string]interface{} {
	body := map[string]interface{}{
		"symbol":      instrumentID(symbol),
		"productType": b.productType(symbol),
		"marginMode":  b.marginMode,
		"marginCoin":  b.marginCoin(symbol),
		"size":        formatDecimal(amount),
		"side":        side,
		"orderType":   orderType,
	}
	if p.ClientOrderID != "" {
		body["clientOid"] = p.ClientOrderID
	}
	if p.ReduceOnly {
		body["reduceOnly"] = "YES"
	}
	return body
}

func (b *Bitget) placeOrder(ctx context.Context, path, symbol string, body map[string]interface{}) (*Order, error) {
	var resp struct {
		Data struct {
			OrderID   string `json:"orderId"`
			ClientOid string `json:"clientOid"`
		} `json:"data"`
	}
	if err := b.doRequest(ctx, http.MethodPost, path, nil, body, true, ratelimit.CategoryTrade, &resp); err != nil {
		return nil, err
	}
	return &Order{
		ID:            resp.Data.OrderID,
		ClientOrderID: resp.Data.ClientOid,
		Symbol:        symbol,
		Status:        OrderStatusOpen,
		Timestamp:     time.Now(),
	}, nil
}

func (b *Bitget) CreateMarketOrder(ctx context.Context, symbol, side string, amount float64, p OrderParams) (*Order, error) {
	order, err := b.placeOrder(ctx, "/api/v2/mix/order/place-order", symbol, b.orderBody(symbol, side, "market", amount, p))
	if err != nil {
		return nil, err
	}
	order.Side, order.Type, order.Amount = side, OrderTypeMarket, amount

	if status, err := b.FetchOrderStatus(ctx, order.ID, symbol); err == nil {
		order.Status, order.Filled, order.AvgPrice = status.Status, status.Filled, status.AvgPrice
	} else {
		b.log.Warn("market order status unavailable", utils.OrderID(order.ID), utils.Err(err))
	}
	return order, nil
}

func (b *Bitget) CreateLimitOrder(ctx context.Context, symbol, side string, amount, price float64, p OrderParams) (*Order, error) {
	body := b.orderBody(symbol, side, "limit", amount, p)
	body["price"] = formatDecimal(price)
	body["force"] = "gtc"

	order, err := b.placeOrder(ctx, "/api/v2/mix/order/place-order", symbol, body)
	if err != nil {
		return nil, err
	}
	order.Side, order.Type, order.Amount, order.Price = side, OrderTypeLimit, amount, price
	return order, nil
}

// CreateStopOrder - плановый ордер по mark price, исполняется по рынку
func (b *Bitget) CreateStopOrder(ctx context.Context, symbol, side string, amount, triggerPrice float64, p OrderParams) (*Order, error) {
	p.ReduceOnly = true
	body := b.orderBody(symbol, side, "market", amount, p)
	body["planType"] = "normal_plan"
	body["triggerPrice"] = formatDecimal(triggerPrice)
	body["triggerType"] = "mark_price"

	order, err := b.placeOrder(ctx, "/api/v2/mix/order/place-plan-order", symbol, body)
	if err != nil {
		return nil, err
	}
	order.Side, order.Type, order.Amount, order.Price = side, OrderTypeStop, amount, triggerPrice
	return order, nil
}

func (b *Bitget) CreateTakeProfitOrder(ctx context.Context, symbol, side string, amount, price float64, p OrderParams) (*Order, error) {
	p.ReduceOnly = true
	order, err := b.CreateLimitOrder(ctx, symbol, side, amount, price, p)
	if err != nil {
		return nil, err
	}
	order.Type = OrderTypeTakeProfit
	return order, nil
}

// SetPositionStops: place-pos-tpsl ставит SL/TP на всю позицию
func (b *Bitget) SetPositionStops(ctx context.Context, symbol string, stops PositionStops) (*PositionStopsResult, error) {
	if stops.StopLoss <= 0 && stops.TakeProfit <= 0 {
		return nil, errors.New("bitget: no stop levels given")
	}

	holdSide := "long"
	if stops.PositionSide == SideSell {
		holdSide = "short"
	}
	body := map[string]interface{}{
		"symbol":      instrumentID(symbol),
		"productType": b.productType(symbol),
		"marginCoin":  b.marginCoin(symbol),
		"holdSide":    holdSide,
	}
	if stops.StopLoss > 0 {
		body["stopLossTriggerPrice"] = formatDecimal(stops.StopLoss)
		body["stopLossTriggerType"] = "mark_price"
	}
	if stops.TakeProfit > 0 {
		body["stopSurplusTriggerPrice"] = formatDecimal(stops.TakeProfit)
		body["stopSurplusTriggerType"] = "mark_price"
	}

	var resp struct {
		Data []struct {
			OrderID string `json:"orderId"`
		} `json:"data"`
	}
	if err := b.doRequest(ctx, http.MethodPost, "/api/v2/mix/order/place-pos-tpsl", nil, body, true, ratelimit.CategoryTrade, &resp); err != nil {
		return nil, err
	}

	result := &PositionStopsResult{}
	if len(resp.Data) > 0 {
		result.ID = resp.Data[0].OrderID
	}
	return result, nil
}

func bitgetStatus(state string) string {
	switch state {
	case "filled":
		return OrderStatusFilled
	case "partially_filled":
		return OrderStatusPartial
	case "canceled", "cancelled":
		return OrderStatusCancelled
	default:
		return OrderStatusOpen
	}
}

func (b *Bitget) FetchOrderStatus(ctx context.Context, orderID, symbol string) (*Order, error) {
	var resp struct {
		Data struct {
			OrderID    string `json:"orderId"`
			ClientOid  string `json:"clientOid"`
			Side       string `json:"side"`
			OrderType  string `json:"orderType"`
			State      string `json:"state"`
			Size       string `json:"size"`
			BaseVolume string `json:"baseVolume"`
			Price      string `json:"price"`
			PriceAvg   string `json:"priceAvg"`
			CTime      string `json:"cTime"`
		} `json:"data"`
	}
	query := map[string]string{
		"symbol":      instrumentID(symbol),
		"productType": b.productType(symbol),
		"orderId":     orderID,
	}
	if err := b.doRequest(ctx, http.MethodGet, "/api/v2/mix/order/detail", query, nil, true, ratelimit.CategoryAccount, &resp); err != nil {
		return nil, err
	}

	d := resp.Data
	created, _ := strconv.ParseInt(d.CTime, 10, 64)
	return &Order{
		ID:            d.OrderID,
		ClientOrderID: d.ClientOid,
		Symbol:        symbol,
		Side:          d.Side,
		Type:          d.OrderType,
		Status:        bitgetStatus(d.State),
		Amount:        parseFloat(d.Size),
		Filled:        parseFloat(d.BaseVolume),
		Price:         parseFloat(d.Price),
		AvgPrice:      parseFloat(d.PriceAvg),
		Timestamp:     time.UnixMilli(created),
	}, nil
}

func (b *Bitget) CancelOrder(ctx context.Context, orderID, symbol string) error {
	body := map[string]interface{}{
		"symbol":      instrumentID(symbol),
		"productType": b.productType(symbol),
		"marginCoin":  b.marginCoin(symbol),
		"orderId":     orderID,
	}
	return b.doRequest(ctx, http.MethodPost, "/api/v2/mix/order/cancel-order", nil, body, true, ratelimit.CategoryTrade, nil)
}

func (b *Bitget) GetBalance(ctx context.Context) (*Balance, error) {
	pt := "USDT-FUTURES"

	var resp struct {
		Data []struct {
			MarginCoin    string `json:"marginCoin"`
			AccountEquity string `json:"accountEquity"`
			Available     string `json:"available"`
		} `json:"data"`
	}
	if err := b.doRequest(ctx, http.MethodGet, "/api/v2/mix/account/accounts", map[string]string{"productType": pt}, nil, true, ratelimit.CategoryAccount, &resp); err != nil {
		return nil, err
	}

	for _, acc := range resp.Data {
		if strings.EqualFold(acc.MarginCoin, "USDT") {
			return &Balance{Currency: "USDT", Total: parseFloat(acc.AccountEquity), Available: parseFloat(acc.Available)}, nil
		}
	}
	return &Balance{Currency: "USDT"}, nil
}

func (b *Bitget) Close() error {
	return nil
}
