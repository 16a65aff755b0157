package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiLimiter_UnknownCategoryIsUnlimited(t *testing.T) {
	ml := NewMultiLimiter()

	assert.True(t, ml.Allow("anything"))
	assert.NoError(t, ml.Wait(context.Background(), "anything"))
	assert.Nil(t, ml.Get("anything"))
}

func TestMultiLimiter_BurstThenThrottle(t *testing.T) {
	ml := NewMultiLimiter()
	ml.Add(CategoryTrade, 1, 2)

	assert.True(t, ml.Allow(CategoryTrade))
	assert.True(t, ml.Allow(CategoryTrade))
	assert.False(t, ml.Allow(CategoryTrade), "burst exhausted")
}

func TestMultiLimiter_WaitRespectsContext(t *testing.T) {
	ml := NewMultiLimiter()
	ml.Add(CategoryTrade, 0.1, 1)
	require.True(t, ml.Allow(CategoryTrade))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.Error(t, ml.Wait(ctx, CategoryTrade))
}

func TestForExchange_AllCategories(t *testing.T) {
	for _, name := range []string{"bybit", "okx", "bitget", "binance"} {
		t.Run(name, func(t *testing.T) {
			ml := ForExchange(name, Limits{})
			assert.NotNil(t, ml.Get(CategoryMarket))
			assert.NotNil(t, ml.Get(CategoryTrade))
			assert.NotNil(t, ml.Get(CategoryAccount))
		})
	}
}

func TestMultiLimiter_AddIgnoresNonPositiveRate(t *testing.T) {
	ml := NewMultiLimiter()
	ml.Add(CategoryMarket, 0, 5)
	assert.Nil(t, ml.Get(CategoryMarket))
}
