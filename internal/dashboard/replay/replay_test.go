package replay

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestMemCacheRejectsRepeatToken(t *testing.T) {
	c := NewMemCache()
	ctx := context.Background()

	seen, err := c.SeenBefore(ctx, "tok-1", time.Minute)
	require.NoError(t, err)
	require.False(t, seen)

	seen, err = c.SeenBefore(ctx, "tok-1", time.Minute)
	require.NoError(t, err)
	require.True(t, seen)
}

func TestMemCacheExpiresEntries(t *testing.T) {
	c := NewMemCache()
	ctx := context.Background()

	seen, err := c.SeenBefore(ctx, "tok-2", time.Millisecond)
	require.NoError(t, err)
	require.False(t, seen)

	time.Sleep(5 * time.Millisecond)

	seen, err = c.SeenBefore(ctx, "tok-2", time.Minute)
	require.NoError(t, err)
	require.False(t, seen, "expired entry should be forgotten, not treated as a replay")
}

func TestRedisCacheRejectsRepeatToken(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	c := NewRedisCache(mr.Addr())
	defer c.Close()
	ctx := context.Background()

	seen, err := c.SeenBefore(ctx, "tok-3", time.Minute)
	require.NoError(t, err)
	require.False(t, seen)

	seen, err = c.SeenBefore(ctx, "tok-3", time.Minute)
	require.NoError(t, err)
	require.True(t, seen)
}

func TestRedisCacheHonorsTTL(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	c := NewRedisCache(mr.Addr())
	defer c.Close()
	ctx := context.Background()

	_, err = c.SeenBefore(ctx, "tok-4", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	seen, err := c.SeenBefore(ctx, "tok-4", time.Second)
	require.NoError(t, err)
	require.False(t, seen)
}
