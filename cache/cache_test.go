package cache_test

import (
	"context"
	"testing"
	"time"

	"chain-gateway/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	Address string `json:"address"`
	Rank    int    `json:"rank"`
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	c, err := cache.NewMemoryCache(time.Minute)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "delegates:abc", entry{Address: "abc", Rank: 3}))

	var got entry
	require.NoError(t, c.Get(ctx, "delegates:abc", &got))
	assert.Equal(t, entry{Address: "abc", Rank: 3}, got)

	assert.ErrorIs(t, c.Get(ctx, "delegates:missing", &got), cache.ErrMiss)
}

func TestNewFallsBackToMemory(t *testing.T) {
	c, err := cache.New(context.Background(), "redis://127.0.0.1:1/0", time.Minute)
	require.NoError(t, err)
	defer c.Close()
	_, ok := c.(*cache.MemoryCache)
	assert.True(t, ok)

	_, err = cache.NewRedisCache(context.Background(), "not a url", time.Minute)
	assert.Error(t, err)
}
