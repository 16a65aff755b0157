package exchange

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// recordedRequest - запрос, полученный тестовым сервером биржи
type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   map[string]interface{}
}

// fakeVenue - httptest сервер с ответами по пути запроса
type fakeVenue struct {
	*httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
}

func newFakeVenue(t *testing.T, routes map[string]string) *fakeVenue {
	t.Helper()
	v := &fakeVenue{}
	v.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		rec := recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Header: r.Header.Clone()}
		if len(raw) > 0 {
			require.NoError(t, json.Unmarshal(raw, &rec.Body))
		}
		v.mu.Lock()
		v.requests = append(v.requests, rec)
		v.mu.Unlock()

		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(v.Close)
	return v
}

// last возвращает последний запрос к пути
func (v *fakeVenue) last(path string) (recordedRequest, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := len(v.requests) - 1; i >= 0; i-- {
		if v.requests[i].Path == path {
			return v.requests[i], true
		}
	}
	return recordedRequest{}, false
}

func testHTTPClient() *HTTPClient {
	return NewHTTPClient(DefaultHTTPClientConfig())
}
