package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T, limit int64) (*FixedWindowLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	l, err := NewFixedWindowLimiter(client, "test:ratelimit", limit, time.Minute)
	require.NoError(t, err)
	return l, mr
}

func TestFixedWindowLimiter(t *testing.T) {
	l, _ := newLimiter(t, 2)
	ctx := context.Background()

	require.True(t, l.Allow(ctx, "ip-1"))
	require.True(t, l.Allow(ctx, "ip-1"))
	require.False(t, l.Allow(ctx, "ip-1"))
	require.True(t, l.Allow(ctx, "ip-2"))
}

func TestFixedWindowLimiterFailClosed(t *testing.T) {
	l, mr := newLimiter(t, 5)
	mr.Close()
	require.False(t, l.Allow(context.Background(), "ip-1"))
}

func TestNewFixedWindowLimiterValidates(t *testing.T) {
	_, err := NewFixedWindowLimiter(nil, "", 1, time.Second)
	require.Error(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	_, err = NewFixedWindowLimiter(client, "", 0, time.Second)
	require.Error(t, err)
}
