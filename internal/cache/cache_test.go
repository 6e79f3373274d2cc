package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func TestCacheSetGetExpire(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := newMemoryCache(clock.Now)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "role:moderator", []string{"m1"}, time.Minute))

	v, ok, err := c.Get(ctx, "role:moderator")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"m1"}, v)

	clock.Advance(time.Minute)
	_, ok, err = c.Get(ctx, "role:moderator")
	require.NoError(t, err)
	assert.False(t, ok, "entry expires at its deadline")

	stats := c.Stats(ctx)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 0, stats.Entries)
}

func TestCacheNoTTL(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	c := newMemoryCache(clock.Now)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", 1, 0))
	clock.Advance(365 * 24 * time.Hour)

	_, ok, _ := c.Get(ctx, "k")
	assert.True(t, ok)
}

func TestCacheInvalidatePattern(t *testing.T) {
	c := NewCache()
	ctx := context.Background()

	_ = c.Set(ctx, "role:moderator", 1, time.Minute)
	_ = c.Set(ctx, "role:admin", 2, time.Minute)
	_ = c.Set(ctx, "user:u1", 3, time.Minute)

	require.NoError(t, c.Invalidate(ctx, "role:*"))
	assert.Equal(t, 1, c.Stats(ctx).Entries)

	_, ok, _ := c.Get(ctx, "user:u1")
	assert.True(t, ok)

	assert.Error(t, c.Invalidate(ctx, "[bad"))
}

func TestCacheDeleteClearPrune(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	c := newMemoryCache(clock.Now)
	ctx := context.Background()

	_ = c.Set(ctx, "a", 1, time.Second)
	_ = c.Set(ctx, "b", 2, time.Hour)
	_ = c.Set(ctx, "c", 3, 0)

	require.NoError(t, c.Delete(ctx, "c"))
	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, c.Prune())
	assert.Equal(t, 1, c.Stats(ctx).Entries)

	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, 0, c.Stats(ctx).Entries)
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := NewCache()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = c.Set(ctx, "k", i, time.Minute)
				_, _, _ = c.Get(ctx, "k")
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, uint64(1600), c.Stats(ctx).Hits)
}
