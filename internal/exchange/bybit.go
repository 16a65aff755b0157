package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"tvtrader/pkg/ratelimit"
	"tvtrader/pkg/utils"
)

const (
	bybitBaseURL        = "https://api.bybit.com"
	bybitTestnetBaseURL = "https://api-testnet.bybit.com"
	bybitRecvWindow     = "5000"
)

// Bybit реализует Exchange для Bybit v5 (linear и inverse бессрочные контракты)
type Bybit struct {
	restClient
	marketStore

	apiKey    string
	secretKey string
	hedgeMode bool
}

// NewBybit создает клиент Bybit
func NewBybit(creds Credentials, opts Options, hc *HTTPClient, limiter *ratelimit.MultiLimiter) *Bybit {
	baseURL := bybitBaseURL
	if creds.Testnet {
		baseURL = bybitTestnetBaseURL
	}
	if opts.BaseURL != "" {
		baseURL = opts.BaseURL
	}

	return &Bybit{
		restClient: newRESTClient("bybit", baseURL, hc, limiter),
		apiKey:     creds.APIKey,
		secretKey:  creds.Secret,
		hedgeMode:  opts.HedgeMode,
	}
}

func (b *Bybit) GetName() string {
	return "bybit"
}

func (b *Bybit) SupportsPositionStops() bool {
	return true
}

// sign создает подпись для запроса к Bybit API v5
func (b *Bybit) sign(timestamp, payload string) string {
	h := hmac.New(sha256.New, []byte(b.secretKey))
	h.Write([]byte(timestamp + b.apiKey + bybitRecvWindow + payload))
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest выполняет запрос и декодирует ответ в out.
// GET параметры идут в query, POST - JSON телом.
func (b *Bybit) doRequest(ctx context.Context, method, endpoint string, params map[string]interface{}, signed bool, category string, out interface{}) error {
	var payload, reqURL string

	if method == http.MethodGet {
		query := make(map[string]string, len(params))
		for k, v := range params {
			query[k] = fmt.Sprint(v)
		}
		payload = encodeQuery(query)
		reqURL = b.baseURL + endpoint
		if payload != "" {
			reqURL += "?" + payload
		}
	} else {
		reqURL = b.baseURL + endpoint
		body, err := json.Marshal(params)
		if err != nil {
			return err
		}
		payload = string(body)
	}

	var bodyReader io.Reader
	if method != http.MethodGet {
		bodyReader = strings.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.Header.Set("X-BAPI-API-KEY", b.apiKey)
		req.Header.Set("X-BAPI-SIGN", b.sign(timestamp, payload))
		req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
		req.Header.Set("X-BAPI-RECV-WINDOW", bybitRecvWindow)
	}

	body, err := b.send(ctx, category, req)
	if err != nil {
		return err
	}

	var base struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	if err := json.Unmarshal(body, &base); err != nil {
		return &ExchangeError{Exchange: "bybit", Message: "decode response: " + err.Error(), Original: err}
	}
	if base.RetCode != 0 {
		return &ExchangeError{
			Exchange: "bybit",
			Code:     strconv.Itoa(base.RetCode),
			Message:  base.RetMsg,
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &ExchangeError{Exchange: "bybit", Message: "decode result: " + err.Error(), Original: err}
	}
	return nil
}

// category выбирает linear/inverse по символу
func bybitCategory(symbol string) string {
	if IsInverse(symbol) {
		return "inverse"
	}
	return "linear"
}

// positionIdx: 0 в one-way режиме, 1/2 для long/short в hedge mode
func (b *Bybit) positionIdx(positionSide string) int {
	if !b.hedgeMode {
		return 0
	}
	if positionSide == SideSell {
		return 2
	}
	return 1
}

// ============ Рынки ============

func (b *Bybit) LoadMarkets(ctx context.Context) error {
	var all []*Market
	for _, category := range []string{"linear", "inverse"} {
		cursor := ""
		for {
			params := map[string]interface{}{"category": category, "limit": 1000}
			if cursor != "" {
				params["cursor"] = cursor
			}

			var resp struct {
				Result struct {
					List []struct {
						Symbol         string `json:"symbol"`
						ContractType   string `json:"contractType"`
						Status         string `json:"status"`
						BaseCoin       string `json:"baseCoin"`
						QuoteCoin      string `json:"quoteCoin"`
						SettleCoin     string `json:"settleCoin"`
						LeverageFilter struct {
							MaxLeverage string `json:"maxLeverage"`
						} `json:"leverageFilter"`
						PriceFilter struct {
							TickSize string `json:"tickSize"`
						} `json:"priceFilter"`
						LotSizeFilter struct {
							QtyStep     string `json:"qtyStep"`
							MinOrderQty string `json:"minOrderQty"`
						} `json:"lotSizeFilter"`
					} `json:"list"`
					NextPageCursor string `json:"nextPageCursor"`
				} `json:"result"`
			}
			if err := b.doRequest(ctx, http.MethodGet, "/v5/market/instruments-info", params, false, ratelimit.CategoryMarket, &resp); err != nil {
				return err
			}

			for _, it := range resp.Result.List {
				if it.ContractType != "LinearPerpetual" && it.ContractType != "InversePerpetual" {
					continue
				}
				all = append(all, &Market{
					Symbol:       it.BaseCoin + "/" + it.QuoteCoin + ":" + it.SettleCoin,
					ID:           it.Symbol,
					Base:         it.BaseCoin,
					Quote:        it.QuoteCoin,
					Settle:       it.SettleCoin,
					Inverse:      it.ContractType == "InversePerpetual",
					ContractSize: 1,
					MaxLeverage:  int(parseFloat(it.LeverageFilter.MaxLeverage)),
					QtyStep:      parseFloat(it.LotSizeFilter.QtyStep),
					MinQty:       parseFloat(it.LotSizeFilter.MinOrderQty),
					TickSize:     parseFloat(it.PriceFilter.TickSize),
				})
			}

			cursor = resp.Result.NextPageCursor
			if cursor == "" || len(resp.Result.List) == 0 {
				break
			}
		}
	}

	b.setMarkets(all)
	b.log.Info("markets loaded", utils.Int("markets", len(all)))
	return nil
}

// ============ Рыночные данные ============

func (b *Bybit) FetchTicker(ctx context.Context, symbol string) (*Ticker, error) {
	params := map[string]interface{}{
		"category": bybitCategory(symbol),
		"symbol":   instrumentID(symbol),
	}

	var resp struct {
		Result struct {
			List []struct {
				LastPrice string `json:"lastPrice"`
				Bid1Price string `json:"bid1Price"`
				Ask1Price string `json:"ask1Price"`
			} `json:"list"`
		} `json:"result"`
		Time int64 `json:"time"`
	}
	if err := b.doRequest(ctx, http.MethodGet, "/v5/market/tickers", params, false, ratelimit.CategoryMarket, &resp); err != nil {
		return nil, err
	}
	if len(resp.Result.List) == 0 {
		return nil, &ExchangeError{Exchange: "bybit", Message: "ticker not found for " + symbol}
	}

	t := resp.Result.List[0]
	return &Ticker{
		Symbol:    symbol,
		Last:      parseFloat(t.LastPrice),
		Bid:       parseFloat(t.Bid1Price),
		Ask:       parseFloat(t.Ask1Price),
		Timestamp: time.UnixMilli(resp.Time),
	}, nil
}

// bybitInterval: 1m -> 1, 1h -> 60, 1d -> D
func bybitInterval(timeframe string) (string, error) {
	switch strings.ToLower(timeframe) {
	case "1m":
		return "1", nil
	case "3m":
		return "3", nil
	case "5m":
		return "5", nil
	case "15m":
		return "15", nil
	case "30m":
		return "30", nil
	case "1h":
		return "60", nil
	case "2h":
		return "120", nil
	case "4h":
		return "240", nil
	case "6h":
		return "360", nil
	case "12h":
		return "720", nil
	case "1d":
		return "D", nil
	case "1w":
		return "W", nil
	}
	return "", errors.Errorf("bybit: unsupported timeframe %q", timeframe)
}

func (b *Bybit) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	interval, err := bybitInterval(timeframe)
	if err != nil {
		return nil, err
	}

	params := map[string]interface{}{
		"category": bybitCategory(symbol),
		"symbol":   instrumentID(symbol),
		"interval": interval,
		"limit":    limit,
	}

	var resp struct {
		Result struct {
			List [][]string `json:"list"`
		} `json:"result"`
	}
	if err := b.doRequest(ctx, http.MethodGet, "/v5/market/kline", params, false, ratelimit.CategoryMarket, &resp); err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(resp.Result.List))
	for _, row := range resp.Result.List {
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
	// Bybit отдаёт свечи от новых к старым
	reverseCandles(candles)
	return candles, nil
}

// ============ Торговля ============

func (b *Bybit) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	lev := strconv.Itoa(leverage)
	params := map[string]interface{}{
		"category":     bybitCategory(symbol),
		"symbol":       instrumentID(symbol),
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}

	err := b.doRequest(ctx, http.MethodPost, "/v5/position/set-leverage", params, true, ratelimit.CategoryTrade, nil)
	// retCode 110043: leverage not modified
	if err != nil && IsLeverageNotModified(err) {
		return nil
	}
	return err
}

func bybitSide(side string) string {
	if side == SideSell {
		return "Sell"
	}
	return "Buy"
}

func (b *Bybit) placeOrder(ctx context.Context, symbol string, params map[string]interface{}) (*Order, error) {
	var resp struct {
		Result struct {
			OrderID     string `json:"orderId"`
			OrderLinkID string `json:"orderLinkId"`
		} `json:"result"`
	}
	if err := b.doRequest(ctx, http.MethodPost, "/v5/order/create", params, true, ratelimit.CategoryTrade, &resp); err != nil {
		return nil, err
	}

	return &Order{
		ID:            resp.Result.OrderID,
		ClientOrderID: resp.Result.OrderLinkID,
		Symbol:        symbol,
		Status:        OrderStatusOpen,
		Timestamp:     time.Now(),
	}, nil
}

func (b *Bybit) orderParams(symbol, side, orderType string, amount float64, p OrderParams) map[string]interface{} {
	positionSide := p.PositionSide
	if positionSide == "" {
		positionSide = side
		if p.ReduceOnly {
			positionSide = OppositeSide(side)
		}
	}

	params := map[string]interface{}{
		"category":    bybitCategory(symbol),
		"symbol":      instrumentID(symbol),
		"side":        bybitSide(side),
		"orderType":   orderType,
		"qty":         formatDecimal(amount),
		"positionIdx": b.positionIdx(positionSide),
	}
	if p.ClientOrderID != "" {
		params["orderLinkId"] = p.ClientOrderID
	}
	if p.ReduceOnly {
		params["reduceOnly"] = true
	}
	return params
}

func (b *Bybit) CreateMarketOrder(ctx context.Context, symbol, side string, amount float64, p OrderParams) (*Order, error) {
	order, err := b.placeOrder(ctx, symbol, b.orderParams(symbol, side, "Market", amount, p))
	if err != nil {
		return nil, err
	}
	order.Side, order.Type, order.Amount = side, OrderTypeMarket, amount

	// Ответ create не содержит цену исполнения - один запрос статуса, без ошибки при неудаче
	if status, err := b.FetchOrderStatus(ctx, order.ID, symbol); err == nil {
		order.Status = status.Status
		order.Filled = status.Filled
		order.AvgPrice = status.AvgPrice
	} else {
		b.log.Warn("market order status unavailable", utils.OrderID(order.ID), utils.Err(err))
	}
	return order, nil
}

func (b *Bybit) CreateLimitOrder(ctx context.Context, symbol, side string, amount, price float64, p OrderParams) (*Order, error) {
	params := b.orderParams(symbol, side, "Limit", amount, p)
	params["price"] = formatDecimal(price)
	params["timeInForce"] = "GTC"

	order, err := b.placeOrder(ctx, symbol, params)
	if err != nil {
		return nil, err
	}
	order.Side, order.Type, order.Amount, order.Price = side, OrderTypeLimit, amount, price
	return order, nil
}

// CreateStopOrder - условный reduce-only маркет ордер.
// triggerDirection: 2 - срабатывает при падении (стоп long позиции), 1 - при росте.
func (b *Bybit) CreateStopOrder(ctx context.Context, symbol, side string, amount, triggerPrice float64, p OrderParams) (*Order, error) {
	p.ReduceOnly = true
	params := b.orderParams(symbol, side, "Market", amount, p)
	params["triggerPrice"] = formatDecimal(triggerPrice)
	params["triggerBy"] = "MarkPrice"
	if side == SideSell {
		params["triggerDirection"] = 2
	} else {
		params["triggerDirection"] = 1
	}

	order, err := b.placeOrder(ctx, symbol, params)
	if err != nil {
		return nil, err
	}
	order.Side, order.Type, order.Amount, order.Price = side, OrderTypeStop, amount, triggerPrice
	return order, nil
}

// CreateTakeProfitOrder - reduce-only лимитный ордер
func (b *Bybit) CreateTakeProfitOrder(ctx context.Context, symbol, side string, amount, price float64, p OrderParams) (*Order, error) {
	p.ReduceOnly = true
	order, err := b.CreateLimitOrder(ctx, symbol, side, amount, price, p)
	if err != nil {
		return nil, err
	}
	order.Type = OrderTypeTakeProfit
	return order, nil
}

// SetPositionStops находит открытую позицию и ставит SL/TP через /v5/position/trading-stop
func (b *Bybit) SetPositionStops(ctx context.Context, symbol string, stops PositionStops) (*PositionStopsResult, error) {
	category := bybitCategory(symbol)
	id := instrumentID(symbol)

	var positions struct {
		Result struct {
			List []struct {
				PositionIdx int    `json:"positionIdx"`
				Side        string `json:"side"`
				Size        string `json:"size"`
			} `json:"list"`
		} `json:"result"`
	}
	params := map[string]interface{}{"category": category, "symbol": id}
	if err := b.doRequest(ctx, http.MethodGet, "/v5/position/list", params, true, ratelimit.CategoryAccount, &positions); err != nil {
		return nil, err
	}

	wantSide := bybitSide(stops.PositionSide)
	positionIdx := -1
	for _, pos := range positions.Result.List {
		if parseFloat(pos.Size) <= 0 {
			continue
		}
		if stops.PositionSide == "" || pos.Side == wantSide {
			positionIdx = pos.PositionIdx
			break
		}
	}
	if positionIdx < 0 {
		return nil, &ExchangeError{Exchange: "bybit", Message: "no open position for " + id}
	}

	req := map[string]interface{}{
		"category":    category,
		"symbol":      id,
		"positionIdx": positionIdx,
		"tpslMode":    "Full",
	}
	if stops.StopLoss > 0 {
		req["stopLoss"] = formatDecimal(stops.StopLoss)
		req["slTriggerBy"] = "MarkPrice"
	}
	if stops.TakeProfit > 0 {
		req["takeProfit"] = formatDecimal(stops.TakeProfit)
		req["tpTriggerBy"] = "MarkPrice"
	}

	if err := b.doRequest(ctx, http.MethodPost, "/v5/position/trading-stop", req, true, ratelimit.CategoryTrade, nil); err != nil {
		return nil, err
	}
	return &PositionStopsResult{ID: id + ":" + strconv.Itoa(positionIdx)}, nil
}

// bybitStatus переводит orderStatus в унифицированный статус
func bybitStatus(s string) string {
	switch s {
	case "Filled":
		return OrderStatusFilled
	case "PartiallyFilled":
		return OrderStatusPartial
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return OrderStatusCancelled
	case "Rejected":
		return OrderStatusRejected
	default:
		return OrderStatusOpen
	}
}

func (b *Bybit) FetchOrderStatus(ctx context.Context, orderID, symbol string) (*Order, error) {
	params := map[string]interface{}{
		"category": bybitCategory(symbol),
		"symbol":   instrumentID(symbol),
		"orderId":  orderID,
	}

	type orderItem struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
		Side        string `json:"side"`
		OrderType   string `json:"orderType"`
		OrderStatus string `json:"orderStatus"`
		Qty         string `json:"qty"`
		CumExecQty  string `json:"cumExecQty"`
		Price       string `json:"price"`
		AvgPrice    string `json:"avgPrice"`
		CreatedTime string `json:"createdTime"`
	}
	var resp struct {
		Result struct {
			List []orderItem `json:"list"`
		} `json:"result"`
	}

	// Активные ордера в realtime, закрытые могут быть только в истории
	for _, endpoint := range []string{"/v5/order/realtime", "/v5/order/history"} {
		if err := b.doRequest(ctx, http.MethodGet, endpoint, params, true, ratelimit.CategoryAccount, &resp); err != nil {
			return nil, err
		}
		if len(resp.Result.List) > 0 {
			break
		}
	}
	if len(resp.Result.List) == 0 {
		return nil, &ExchangeError{Exchange: "bybit", Message: "order not found: " + orderID}
	}

	it := resp.Result.List[0]
	created, _ := strconv.ParseInt(it.CreatedTime, 10, 64)
	return &Order{
		ID:            it.OrderID,
		ClientOrderID: it.OrderLinkID,
		Symbol:        symbol,
		Side:          strings.ToLower(it.Side),
		Type:          strings.ToLower(it.OrderType),
		Status:        bybitStatus(it.OrderStatus),
		Amount:        parseFloat(it.Qty),
		Filled:        parseFloat(it.CumExecQty),
		Price:         parseFloat(it.Price),
		AvgPrice:      parseFloat(it.AvgPrice),
		Timestamp:     time.UnixMilli(created),
	}, nil
}

func (b *Bybit) CancelOrder(ctx context.Context, orderID, symbol string) error {
	params := map[string]interface{}{
		"category": bybitCategory(symbol),
		"symbol":   instrumentID(symbol),
		"orderId":  orderID,
	}
	return b.doRequest(ctx, http.MethodPost, "/v5/order/cancel", params, true, ratelimit.CategoryTrade, nil)
}

func (b *Bybit) GetBalance(ctx context.Context) (*Balance, error) {
	params := map[string]interface{}{
		"accountType": "UNIFIED",
		"coin":        "USDT",
	}

	var resp struct {
		Result struct {
			List []struct {
				Coin []struct {
					Coin                string `json:"coin"`
					Equity              string `json:"equity"`
					WalletBalance       string `json:"walletBalance"`
					AvailableToWithdraw string `json:"availableToWithdraw"`
				} `json:"coin"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := b.doRequest(ctx, http.MethodGet, "/v5/account/wallet-balance", params, true, ratelimit.CategoryAccount, &resp); err != nil {
		return nil, err
	}

	for _, acc := range resp.Result.List {
		for _, c := range acc.Coin {
			if c.Coin == "USDT" {
				available := parseFloat(c.AvailableToWithdraw)
				if available == 0 {
					available = parseFloat(c.WalletBalance)
				}
				return &Balance{Currency: "USDT", Total: parseFloat(c.Equity), Available: available}, nil
			}
		}
	}
	return &Balance{Currency: "USDT"}, nil
}

func (b *Bybit) Close() error {
	return nil
}
