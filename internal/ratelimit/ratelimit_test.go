package ratelimit

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestMemory(t *testing.T, max int, window time.Duration) (*Memory, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	m, err := NewMemory(Policy{MaxRequests: max, Window: window}, WithClock(clock.Now))
	require.NoError(t, err)
	return m, clock
}

func TestNewMemory_RejectsInvalidPolicy(t *testing.T) {
	_, err := NewMemory(Policy{MaxRequests: 0, Window: time.Minute})
	assert.Error(t, err)

	_, err = NewMemory(Policy{MaxRequests: 5, Window: 0})
	assert.Error(t, err)
}

func TestMemory_RejectsAfterMax(t *testing.T) {
	m, _ := newTestMemory(t, 5, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := m.Allow(ctx, "api_key_abc123")
		require.NoError(t, err)
		assert.True(t, ok, "call %d should be allowed", i+1)
	}

	ok, err := m.Allow(ctx, "api_key_abc123")
	require.NoError(t, err)
	assert.False(t, ok, "sixth call inside the window must be rejected")
}

func TestMemory_WindowSlides(t *testing.T) {
	m, clock := newTestMemory(t, 2, 60*time.Second)
	ctx := context.Background()

	ok, _ := m.Allow(ctx, "k")
	assert.True(t, ok)
	clock.Advance(30 * time.Second)
	ok, _ = m.Allow(ctx, "k")
	assert.True(t, ok)

	ok, _ = m.Allow(ctx, "k")
	assert.False(t, ok)

	// the first call leaves the window exactly 60s after it was made
	clock.Advance(30 * time.Second)
	ok, _ = m.Allow(ctx, "k")
	assert.True(t, ok, "first timestamp has aged out")

	ok, _ = m.Allow(ctx, "k")
	assert.False(t, ok, "the 30s and 60s timestamps are still in the window")
}

func TestMemory_RejectedCallsAreNotRecorded(t *testing.T) {
	m, clock := newTestMemory(t, 1, 10*time.Second)
	ctx := context.Background()

	ok, _ := m.Allow(ctx, "k")
	require.True(t, ok)

	// hammer the limiter while blocked; none of these may extend the block
	for i := 0; i < 9; i++ {
		clock.Advance(time.Second)
		ok, _ = m.Allow(ctx, "k")
		assert.False(t, ok)
	}

	clock.Advance(time.Second)
	ok, _ = m.Allow(ctx, "k")
	assert.True(t, ok, "only the accepted call counts toward the window")
}

func TestMemory_KeysAreIndependent(t *testing.T) {
	m, _ := newTestMemory(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, _ := m.Allow(ctx, "oauth_1")
		require.True(t, ok)
	}
	ok, _ := m.Allow(ctx, "oauth_1")
	require.False(t, ok)

	ok, _ = m.Allow(ctx, "oauth_2")
	assert.True(t, ok, "exhausting one identity must not affect another")
}

func TestMemory_Sweep(t *testing.T) {
	m, clock := newTestMemory(t, 3, time.Minute)
	ctx := context.Background()

	m.Allow(ctx, "a")
	clock.Advance(30 * time.Second)
	m.Allow(ctx, "b")
	assert.Equal(t, 2, m.Len())

	clock.Advance(45 * time.Second)
	removed := m.Sweep()

	assert.Equal(t, 1, removed, "only a has fully expired")
	assert.Equal(t, 1, m.Len())
}

func TestMemory_ConcurrentCallsNeverExceedMax(t *testing.T) {
	m, _ := newTestMemory(t, 50, time.Hour)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := m.Allow(ctx, "shared"); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
}

// TestRedis_SlidingWindow runs against a real server when REDIS_URL is set.
func TestRedis_SlidingWindow(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	prefix := "ratelimit:test:" + time.Now().Format("150405.000000") + ":"
	r, err := NewRedis(client, Policy{MaxRequests: 3, Window: time.Minute}, prefix)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ok, err := r.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := r.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.Allow(ctx, "other")
	require.NoError(t, err)
	assert.True(t, ok)
}
