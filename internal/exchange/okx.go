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

const okxBaseURL = "https://www.okx.com"

// OKX реализует Exchange для OKX v5 (SWAP инструменты).
// Размер ордера в OKX задаётся в контрактах (ctVal базовой валюты на контракт).
type OKX struct {
	restClient
	marketStore

	apiKey     string
	secretKey  string
	passphrase string
	demo       bool
	marginMode string
}

// NewOKX создает клиент OKX. Testnet включает demo trading (x-simulated-trading).
func NewOKX(creds Credentials, opts Options, hc *HTTPClient, limiter *ratelimit.MultiLimiter) *OKX {
	baseURL := okxBaseURL
	if opts.BaseURL != "" {
		baseURL = opts.BaseURL
	}
	marginMode := opts.MarginMode
	if marginMode == "" {
		marginMode = "isolated"
	}

	return &OKX{
		restClient: newRESTClient("okx", baseURL, hc, limiter),
		apiKey:     creds.APIKey,
		secretKey:  creds.Secret,
		passphrase: creds.Passphrase,
		demo:       creds.Testnet,
		marginMode: marginMode,
	}
}

func (o *OKX) GetName() string {
	return "okx"
}

// SupportsPositionStops: OCO algo ордер с closeFraction=1 закрывает всю позицию
func (o *OKX) SupportsPositionStops() bool {
	return true
}

// sign: base64(HMAC-SHA256(timestamp + method + requestPath + body))
func (o *OKX) sign(timestamp, method, requestPath, body string) string {
	h := hmac.New(sha256.New, []byte(o.secretKey))
	h.Write([]byte(timestamp + method + requestPath + body))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// okxItemError - код и сообщение отдельного элемента data у торговых эндпоинтов
type okxItemError struct {
	SCode string `json:"sCode"`
	SMsg  string `json:"sMsg"`
}

func (o *OKX) doRequest(ctx context.Context, method, path string, query map[string]string, body map[string]interface{}, signed bool, category string, out interface{}) error {
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

	req, err := http.NewRequestWithContext(ctx, method, o.baseURL+requestPath, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if o.demo {
		req.Header.Set("x-simulated-trading", "1")
	}

	if signed {
		timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
		req.Header.Set("OK-ACCESS-KEY", o.apiKey)
		req.Header.Set("OK-ACCESS-SIGN", o.sign(timestamp, method, requestPath, payload))
		req.Header.Set("OK-ACCESS-TIMESTAMP", timestamp)
		req.Header.Set("OK-ACCESS-PASSPHRASE", o.passphrase)
	}

	raw, err := o.send(ctx, category, req)
	if err != nil {
		return err
	}

	var base struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &base); err != nil {
		return &ExchangeError{Exchange: "okx", Message: "decode response: " + err.Error(), Original: err}
	}
	if base.Code != "0" {
		e := &ExchangeError{Exchange: "okx", Code: base.Code, Message: base.Msg}
		// Для торговых операций детали в data[0].sCode/sMsg
		var items struct {
			Data []okxItemError `json:"data"`
		}
		if json.Unmarshal(raw, &items) == nil && len(items.Data) > 0 && items.Data[0].SCode != "" && items.Data[0].SCode != "0" {
			e.Code = items.Data[0].SCode
			e.Message = items.Data[0].SMsg
		}
		return e
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ExchangeError{Exchange: "okx", Message: "decode result: " + err.Error(), Original: err}
	}
	return nil
}

// ============ Рынки ============

func (o *OKX) LoadMarkets(ctx context.Context) error {
	var resp struct {
		Data []struct {
			InstID    string `json:"instId"`
			Uly       string `json:"uly"`
			CtType    string `json:"ctType"`
			CtVal     string `json:"ctVal"`
			SettleCcy string `json:"settleCcy"`
			LotSz     string `json:"lotSz"`
			MinSz     string `json:"minSz"`
			TickSz    string `json:"tickSz"`
			Lever     string `json:"lever"`
			State     string `json:"state"`
		} `json:"data"`
	}
	if err := o.doRequest(ctx, http.MethodGet, "/api/v5/public/instruments", map[string]string{"instType": "SWAP"}, nil, false, ratelimit.CategoryMarket, &resp); err != nil {
		return err
	}

	markets := make([]*Market, 0, len(resp.Data))
	for _, it := range resp.Data {
		parts := strings.SplitN(it.Uly, "-", 2)
		if len(parts) != 2 {
			continue
		}
		base, quote := parts[0], parts[1]
		markets = append(markets, &Market{
			Symbol:       base + "/" + quote + ":" + it.SettleCcy,
			ID:           it.InstID,
			Base:         base,
			Quote:        quote,
			Settle:       it.SettleCcy,
			Inverse:      it.CtType == "inverse",
			ContractSize: parseFloat(it.CtVal),
			MaxLeverage:  int(parseFloat(it.Lever)),
			QtyStep:      parseFloat(it.LotSz),
			MinQty:       parseFloat(it.MinSz),
			TickSize:     parseFloat(it.TickSz),
		})
	}

	o.setMarkets(markets)
	o.log.Info("markets loaded", utils.Int("markets", len(markets)))
	return nil
}

// ============ Рыночные данные ============

func (o *OKX) FetchTicker(ctx context.Context, symbol string) (*Ticker, error) {
	var resp struct {
		Data []struct {
			Last  string `json:"last"`
			BidPx string `json:"bidPx"`
			AskPx string `json:"askPx"`
			Ts    string `json:"ts"`
		} `json:"data"`
	}
	query := map[string]string{"instId": okxInstrumentID(symbol)}
	if err := o.doRequest(ctx, http.MethodGet, "/api/v5/market/ticker", query, nil, false, ratelimit.CategoryMarket, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, &ExchangeError{Exchange: "okx", Message: "ticker not found for " + symbol}
	}

	t := resp.Data[0]
	ts, _ := strconv.ParseInt(t.Ts, 10, 64)
	return &Ticker{
		Symbol:    symbol,
		Last:      parseFloat(t.Last),
		Bid:       parseFloat(t.BidPx),
		Ask:       parseFloat(t.AskPx),
		Timestamp: time.UnixMilli(ts),
	}, nil
}

// okxBar: 1h -> 1H, 1d -> 1Dutc (дневные свечи по UTC, как у остальных бирж)
func okxBar(timeframe string) (string, error) {
	switch strings.ToLower(timeframe) {
	case "1m", "3m", "5m", "15m", "30m":
		return strings.ToLower(timeframe), nil
	case "1h", "2h", "4h":
		return strings.ToUpper(timeframe), nil
	case "6h", "12h":
		return strings.ToUpper(timeframe) + "utc", nil
	case "1d":
		return "1Dutc", nil
	case "1w":
		return "1Wutc", nil
	}
	return "", errors.Errorf("okx: unsupported timeframe %q", timeframe)
}

func (o *OKX) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	bar, err := okxBar(timeframe)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data [][]string `json:"data"`
	}
	query := map[string]string{
		"instId": okxInstrumentID(symbol),
		"bar":    bar,
		"limit":  strconv.Itoa(limit),
	}
	if err := o.doRequest(ctx, http.MethodGet, "/api/v5/market/candles", query, nil, false, ratelimit.CategoryMarket, &resp); err != nil {
		return nil, err
	}

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
	// OKX отдаёт свечи от новых к старым
	reverseCandles(candles)
	return candles, nil
}

// ============ Торговля ============

func (o *OKX) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	body := map[string]interface{}{
		"instId":  okxInstrumentID(symbol),
		"lever":   strconv.Itoa(leverage),
		"mgnMode": o.marginMode,
	}
	err := o.doRequest(ctx, http.MethodPost, "/api/v5/account/set-leverage", nil, body, true, ratelimit.CategoryTrade, nil)
	if err != nil && IsLeverageNotModified(err) {
		return nil
	}
	return err
}

type okxOrderAck struct {
	Data []struct {
		OrdID   string `json:"ordId"`
		AlgoID  string `json:"algoId"`
		ClOrdID string `json:"clOrdId"`
	} `json:"data"`
}

func (o *OKX) placeOrder(ctx context.Context, path string, symbol string, body map[string]interface{}) (*Order, error) {
	var ack okxOrderAck
	if err := o.doRequest(ctx, http.MethodPost, path, nil, body, true, ratelimit.CategoryTrade, &ack); err != nil {
		return nil, err
	}
	if len(ack.Data) == 0 {
		return nil, &ExchangeError{Exchange: "okx", Message: "empty order response"}
	}

	id := ack.Data[0].OrdID
	if id == "" {
		id = ack.Data[0].AlgoID
	}
	return &Order{
		ID:            id,
		ClientOrderID: ack.Data[0].ClOrdID,
		Symbol:        symbol,
		Status:        OrderStatusOpen,
		Timestamp:     time.Now(),
	}, nil
}

func (o *OKX) orderBody(symbol, side, ordType string, amount float64, p OrderParams) map[string]interface{} {
	body := map[string]interface{}{
		"instId":  okxInstrumentID(symbol),
		"tdMode":  o.marginMode,
		"side":    side,
		"ordType": ordType,
		"sz":      formatDecimal(amount),
	}
	if p.ClientOrderID != "" {
		body["clOrdId"] = p.ClientOrderID
	}
	if p.ReduceOnly {
		body["reduceOnly"] = true
	}
	return body
}

func (o *OKX) CreateMarketOrder(ctx context.Context, symbol, side string, amount float64, p OrderParams) (*Order, error) {
	order, err := o.placeOrder(ctx, "/api/v5/trade/order", symbol, o.orderBody(symbol, side, "market", amount, p))
	if err != nil {
		return nil, err
	}
	order.Side, order.Type, order.Amount = side, OrderTypeMarket, amount

	if status, err := o.FetchOrderStatus(ctx, order.ID, symbol); err == nil {
		order.Status, order.Filled, order.AvgPrice = status.Status, status.Filled, status.AvgPrice
	} else {
		o.log.Warn("market order status unavailable", utils.OrderID(order.ID), utils.Err(err))
	}
	return order, nil
}

func (o *OKX) CreateLimitOrder(ctx context.Context, symbol, side string, amount, price float64, p OrderParams) (*Order, error) {
	body := o.orderBody(symbol, side, "limit", amount, p)
	body["px"] = formatDecimal(price)

	order, err := o.placeOrder(ctx, "/api/v5/trade/order", symbol, body)
	if err != nil {
		return nil, err
	}
	order.Side, order.Type, order.Amount, order.Price = side, OrderTypeLimit, amount, price
	return order, nil
}

// CreateStopOrder - conditional algo ордер, исполняется по рынку (slOrdPx=-1)
func (o *OKX) CreateStopOrder(ctx context.Context, symbol, side string, amount, triggerPrice float64, p OrderParams) (*Order, error) {
	body := o.orderBody(symbol, side, "conditional", amount, OrderParams{ReduceOnly: true})
	body["slTriggerPx"] = formatDecimal(triggerPrice)
	body["slOrdPx"] = "-1"
	body["slTriggerPxType"] = "mark"
	if p.ClientOrderID != "" {
		body["algoClOrdId"] = p.ClientOrderID
	}

	order, err := o.placeOrder(ctx, "/api/v5/trade/order-algo", symbol, body)
	if err != nil {
		return nil, err
	}
	order.Side, order.Type, order.Amount, order.Price = side, OrderTypeStop, amount, triggerPrice
	return order, nil
}

func (o *OKX) CreateTakeProfitOrder(ctx context.Context, symbol, side string, amount, price float64, p OrderParams) (*Order, error) {
	p.ReduceOnly = true
	order, err := o.CreateLimitOrder(ctx, symbol, side, amount, price, p)
	if err != nil {
		return nil, err
	}
	order.Type = OrderTypeTakeProfit
	return order, nil
}

// SetPositionStops: OCO (или conditional при одном уровне) с closeFraction=1 -
// срабатывание закрывает позицию целиком, независимо от её размера.
func (o *OKX) SetPositionStops(ctx context.Context, symbol string, stops PositionStops) (*PositionStopsResult, error) {
	if stops.StopLoss <= 0 && stops.TakeProfit <= 0 {
		return nil, errors.New("okx: no stop levels given")
	}

	ordType := "oco"
	if stops.StopLoss <= 0 || stops.TakeProfit <= 0 {
		ordType = "conditional"
	}

	body := map[string]interface{}{
		"instId":        okxInstrumentID(symbol),
		"tdMode":        o.marginMode,
		"side":          OppositeSide(stops.PositionSide),
		"ordType":       ordType,
		"closeFraction": "1",
		"reduceOnly":    true,
	}
	if stops.StopLoss > 0 {
		body["slTriggerPx"] = formatDecimal(stops.StopLoss)
		body["slOrdPx"] = "-1"
		body["slTriggerPxType"] = "mark"
	}
	if stops.TakeProfit > 0 {
		body["tpTriggerPx"] = formatDecimal(stops.TakeProfit)
		body["tpOrdPx"] = "-1"
		body["tpTriggerPxType"] = "mark"
	}

	order, err := o.placeOrder(ctx, "/api/v5/trade/order-algo", symbol, body)
	if err != nil {
		return nil, err
	}
	return &PositionStopsResult{ID: order.ID}, nil
}

func okxStatus(state string) string {
	switch state {
	case "filled":
		return OrderStatusFilled
	case "partially_filled":
		return OrderStatusPartial
	case "canceled", "mmp_canceled":
		return OrderStatusCancelled
	default:
		return OrderStatusOpen
	}
}

func (o *OKX) FetchOrderStatus(ctx context.Context, orderID, symbol string) (*Order, error) {
	var resp struct {
		Data []struct {
			OrdID     string `json:"ordId"`
			ClOrdID   string `json:"clOrdId"`
			Side      string `json:"side"`
			OrdType   string `json:"ordType"`
			State     string `json:"state"`
			Sz        string `json:"sz"`
			AccFillSz string `json:"accFillSz"`
			Px        string `json:"px"`
			AvgPx     string `json:"avgPx"`
			CTime     string `json:"cTime"`
		} `json:"data"`
	}
	query := map[string]string{"instId": okxInstrumentID(symbol), "ordId": orderID}
	if err := o.doRequest(ctx, http.MethodGet, "/api/v5/trade/order", query, nil, true, ratelimit.CategoryAccount, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, &ExchangeError{Exchange: "okx", Message: "order not found: " + orderID}
	}

	it := resp.Data[0]
	created, _ := strconv.ParseInt(it.CTime, 10, 64)
	return &Order{
		ID:            it.OrdID,
		ClientOrderID: it.ClOrdID,
		Symbol:        symbol,
		Side:          it.Side,
		Type:          it.OrdType,
		Status:        okxStatus(it.State),
		Amount:        parseFloat(it.Sz),
		Filled:        parseFloat(it.AccFillSz),
		Price:         parseFloat(it.Px),
		AvgPrice:      parseFloat(it.AvgPx),
		Timestamp:     time.UnixMilli(created),
	}, nil
}

func (o *OKX) CancelOrder(ctx context.Context, orderID, symbol string) error {
	body := map[string]interface{}{
		"instId": okxInstrumentID(symbol),
		"ordId":  orderID,
	}
	return o.doRequest(ctx, http.MethodPost, "/api/v5/trade/cancel-order", nil, body, true, ratelimit.CategoryTrade, nil)
}

func (o *OKX) GetBalance(ctx context.Context) (*Balance, error) {
	var resp struct {
		Data []struct {
			Details []struct {
				Ccy     string `json:"ccy"`
				Eq      string `json:"eq"`
				AvailEq string `json:"availEq"`
			} `json:"details"`
		} `json:"data"`
	}
	if err := o.doRequest(ctx, http.MethodGet, "/api/v5/account/balance", map[string]string{"ccy": "USDT"}, nil, true, ratelimit.CategoryAccount, &resp); err != nil {
		return nil, err
	}

	for _, acc := range resp.Data {
		for _, d := range acc.Details {
			if d.Ccy == "USDT" {
				return &Balance{Currency: "USDT", Total: parseFloat(d.Eq), Available: parseFloat(d.AvailEq)}, nil
			}
		}
	}
	return &Balance{Currency: "USDT"}, nil
}

func (o *OKX) Close() error {
	return nil
}
