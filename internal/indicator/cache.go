package indicator

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// Cache - кеш значений ATR с TTL.
// Дневной ATR меняется раз в сутки, а сигналы по одному символу приходят пачками.
type Cache struct {
	c   *ristretto.Cache
	ttl time.Duration
}

// NewCache создаёт кеш. ttl <= 0 отключает кеширование (возвращается nil, методы nil-safe).
func NewCache(ttl time.Duration) (*Cache, error) {
	if ttl <= 0 {
		return nil, nil
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 12,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c, ttl: ttl}, nil
}

func cacheKey(exchange, symbol, timeframe string, period int) string {
	return fmt.Sprintf("%s|%s|%s|%d", exchange, symbol, timeframe, period)
}

func (c *Cache) Get(key string) (float64, bool) {
	if c == nil {
		return 0, false
	}
	v, ok := c.c.Get(key)
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

func (c *Cache) Set(key string, val float64) {
	if c == nil {
		return
	}
	c.c.SetWithTTL(key, val, 1, c.ttl)
}

// Wait дожидается применения буферизованных записей
func (c *Cache) Wait() {
	if c == nil {
		return
	}
	c.c.Wait()
}

func (c *Cache) Close() {
	if c == nil {
		return
	}
	c.c.Close()
}
