package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCache implements balanceCache in memory and records the TTL of every
// fill so tests can check staleness stays bounded.
type fakeCache struct {
	vals map[string]string
	ttls map[string]time.Duration
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		vals: make(map[string]string),
		ttls: make(map[string]time.Duration),
	}
}

func (f *fakeCache) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx, "get", key)
	if v, ok := f.vals[key]; ok {
		cmd.SetVal(v)
	} else {
		cmd.SetErr(redis.Nil)
	}
	return cmd
}

func (f *fakeCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.vals[key] = fmt.Sprint(value)
	f.ttls[key] = expiration
	cmd := redis.NewStatusCmd(ctx, "set", key)
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeCache) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, key := range keys {
		if _, ok := f.vals[key]; ok {
			delete(f.vals, key)
			delete(f.ttls, key)
			n++
		}
	}
	cmd := redis.NewIntCmd(ctx, "del")
	cmd.SetVal(n)
	return cmd
}

// expire simulates the TTL firing.
func (f *fakeCache) expire(key string) {
	delete(f.vals, key)
	delete(f.ttls, key)
}

func TestBalanceCache_RoundTrip(t *testing.T) {
	cache := newFakeCache()
	p := &Postgres{cache: cache}
	ctx := context.Background()

	_, ok := p.cachedBalance(ctx, "u1")
	require.False(t, ok)

	p.cacheBalance(ctx, "u1", 60)

	val, ok := p.cachedBalance(ctx, "u1")
	require.True(t, ok)
	assert.Equal(t, int64(60), val)

	p.invalidateBalance(ctx, "u1")
	_, ok = p.cachedBalance(ctx, "u1")
	assert.False(t, ok)
}

// TestBalanceCache_StaleFillExpires replays the warm-up/write race: a fill
// that read a pre-commit balance lands after the write's invalidation. The
// stale value may be served, but only with a TTL attached, so it cannot
// stick until the account's next write.
func TestBalanceCache_StaleFillExpires(t *testing.T) {
	cache := newFakeCache()
	p := &Postgres{cache: cache}
	ctx := context.Background()

	// Warm-up read the balance as 100. Before its fill lands, a deposit
	// commits 120 and invalidates the key.
	p.invalidateBalance(ctx, "u1")

	// The stale fill now lands after the DEL.
	p.cacheBalance(ctx, "u1", 100)

	val, ok := p.cachedBalance(ctx, "u1")
	require.True(t, ok, "the stale fill is visible until the TTL fires")
	assert.Equal(t, int64(100), val)

	// Every fill must carry the bounded TTL, never live forever.
	require.Equal(t, balanceCacheTTL, cache.ttls[balanceKey("u1")])
	require.Greater(t, cache.ttls[balanceKey("u1")], time.Duration(0))

	// Once the TTL fires, the next read misses and goes back to Postgres.
	cache.expire(balanceKey("u1"))
	_, ok = p.cachedBalance(ctx, "u1")
	assert.False(t, ok)
}

func TestBalanceCache_NilClientDisablesCaching(t *testing.T) {
	p := NewPostgres(nil, nil)
	ctx := context.Background()

	// No panics, no cache hits.
	_, ok := p.cachedBalance(ctx, "u1")
	assert.False(t, ok)
	p.cacheBalance(ctx, "u1", 10)
	p.invalidateBalance(ctx, "u1")
	_, ok = p.cachedBalance(ctx, "u1")
	assert.False(t, ok)
}
