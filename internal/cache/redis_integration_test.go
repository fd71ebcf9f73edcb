//go:build integration

package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/birbparty/qcloud-nest/internal/testutil"
	"github.com/birbparty/qcloud-nest/sdk"
)

func startRedisCache(t *testing.T) *RedisCache {
	t.Helper()
	ctx := context.Background()

	ep, err := testutil.StartRedis(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ep.Terminate(ctx) })

	cfg := &Config{
		Host:         ep.Host,
		Port:         ep.Port,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     4,
		DefaultTTL:   time.Minute,
	}
	c, err := NewRedisCache(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	c := startRedisCache(t)

	require.NoError(t, c.Ping(ctx))

	_, err := c.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrKeyNotFound))

	require.NoError(t, c.Set(ctx, "qcloud:resp:cvm:a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "qcloud:resp:cvm:b", []byte("2"), 10*time.Second))
	require.NoError(t, c.Set(ctx, "qcloud:resp:vpc:a", []byte("3"), 0))

	val, err := c.Get(ctx, "qcloud:resp:cvm:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), val)

	ttl, err := c.TTL(ctx, "qcloud:resp:cvm:a")
	require.NoError(t, err)
	assert.InDelta(t, time.Minute.Seconds(), ttl.Seconds(), 2)

	n, err := c.DeletePrefix(ctx, "qcloud:resp:cvm:")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, c.Delete(ctx, "qcloud:resp:vpc:a"))
	assert.True(t, errors.Is(c.Delete(ctx, "qcloud:resp:vpc:a"), ErrKeyNotFound))
	assert.NotNil(t, c.Stats())
}

func TestResponseCache_Redis(t *testing.T) {
	ctx := context.Background()
	rc := NewResponseCache(startRedisCache(t), 30*time.Second, nil)

	calls := 0
	fetch := func(context.Context) (*sdk.Response, error) {
		calls++
		return &sdk.Response{RequestID: "req-1", Body: []byte(`{"RegionSet":[]}`)}, nil
	}

	for i := 0; i < 3; i++ {
		resp, _, err := rc.Fetch(ctx, cvm, "DescribeRegions", nil, fetch)
		require.NoError(t, err)
		assert.Equal(t, "req-1", resp.RequestID)
	}
	assert.Equal(t, 1, calls)
}
