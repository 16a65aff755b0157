package exchange

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"tvtrader/pkg/ratelimit"
	"tvtrader/pkg/utils"
)

// maxResponseSize - ограничение тела ответа REST API
const maxResponseSize = 4 << 20

// restClient - общая часть REST клиентов бирж: лимиты, отправка, логирование
type restClient struct {
	name    string
	baseURL string
	http    *http.Client
	limiter *ratelimit.MultiLimiter
	log     *utils.Logger
}

func newRESTClient(name, baseURL string, hc *HTTPClient, limiter *ratelimit.MultiLimiter) restClient {
	if hc == nil {
		hc = GetGlobalHTTPClient()
	}
	if limiter == nil {
		limiter = ratelimit.ForExchange(name, ratelimit.Limits{})
	}
	return restClient{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc.GetClient(),
		limiter: limiter,
		log:     utils.L().WithExchange(name),
	}
}

// send ждёт лимитер категории, выполняет запрос и возвращает тело ответа.
// Ответы 5xx превращаются в повторяемую ExchangeError без кода,
// тела 4xx возвращаются как есть - в них код ошибки биржи.
func (c *restClient) send(ctx context.Context, category string, req *http.Request) ([]byte, error) {
	if err := c.limiter.Wait(ctx, category); err != nil {
		return nil, &ExchangeError{Exchange: c.name, Message: "rate limit wait: " + err.Error(), Original: err}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ExchangeError{Exchange: c.name, Message: "request failed: " + err.Error(), Original: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &ExchangeError{Exchange: c.name, Message: "read response: " + err.Error(), Original: err}
	}

	c.log.Debug("rest call",
		utils.String("method", req.Method),
		utils.String("path", req.URL.Path),
		utils.Int("status", resp.StatusCode),
		utils.Latency(float64(time.Since(start).Microseconds())/1000),
	)

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &ExchangeError{Exchange: c.name, Message: "http " + resp.Status}
	}
	return body, nil
}

// encodeQuery кодирует параметры в детерминированном порядке (ключи по алфавиту)
func encodeQuery(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(queryEscape(k))
		sb.WriteByte('=')
		sb.WriteString(queryEscape(params[k]))
	}
	return sb.String()
}

// ============ Снимок рынков ============

// marketStore хранит загруженные метаданные инструментов.
// Загружается один раз за жизнь подключения, читается конкурентно.
type marketStore struct {
	mu      sync.RWMutex
	markets map[string]*Market
}

func (s *marketStore) setMarkets(list []*Market) {
	m := make(map[string]*Market, len(list))
	for _, mk := range list {
		m[mk.Symbol] = mk
	}
	s.mu.Lock()
	s.markets = m
	s.mu.Unlock()
}

func (s *marketStore) loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.markets != nil
}

// GetMarket возвращает метаданные по унифицированному символу
func (s *marketStore) GetMarket(symbol string) (*Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.markets == nil {
		return nil, ErrMarketsNotLoaded
	}
	m, ok := s.markets[symbol]
	if !ok {
		return nil, ErrMarketNotFound
	}
	return m, nil
}

// reverseCandles разворачивает свечи, если биржа отдаёт их от новых к старым
func reverseCandles(c []Candle) {
	for i, j := 0, len(c)-1; i < j; i, j = i+1, j-1 {
		c[i], c[j] = c[j], c[i]
	}
}

func queryEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
