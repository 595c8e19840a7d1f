package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestBudgetEnforced(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	limiter := NewWithClock(5, time.Second, clock.Now)

	// 10 requests in the same instant: exactly 5 granted.
	granted := 0
	for i := 0; i < 10; i++ {
		if limiter.Allow() {
			granted++
		}
	}
	assert.Equal(t, 5, granted)

	stats := limiter.Stats()
	assert.Equal(t, uint64(5), stats.Granted)
	assert.Equal(t, uint64(5), stats.Denied)
	assert.Equal(t, 5, stats.InWindow)
}

func TestWindowSlides(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	limiter := NewWithClock(2, time.Second, clock.Now)

	require.True(t, limiter.Allow()) // t=0
	clock.Advance(400 * time.Millisecond)
	require.True(t, limiter.Allow()) // t=0.4
	require.False(t, limiter.Allow())

	// At t=1.0 the first grant ages out, freeing one slot.
	clock.Advance(600 * time.Millisecond)
	require.True(t, limiter.Allow()) // t=1.0
	require.False(t, limiter.Allow())

	// At t=1.4 the second grant ages out too.
	clock.Advance(400 * time.Millisecond)
	require.True(t, limiter.Allow())
}

func TestGrantFreesExactlyAtWindow(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	limiter := NewWithClock(1, time.Second, clock.Now)

	require.True(t, limiter.Allow())

	clock.Advance(time.Second - time.Nanosecond)
	assert.False(t, limiter.Allow(), "slot still occupied just before the window closes")

	clock.Advance(time.Nanosecond)
	assert.True(t, limiter.Allow(), "slot frees exactly one window after the grant")
}

func TestDeniedCallsLeaveNoTrace(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	limiter := NewWithClock(1, time.Second, clock.Now)

	require.True(t, limiter.Allow())
	for i := 0; i < 100; i++ {
		require.False(t, limiter.Allow())
	}

	// Denied attempts must not extend the occupied window.
	clock.Advance(time.Second)
	assert.True(t, limiter.Allow())
}

func TestConcurrentAllows(t *testing.T) {
	t.Parallel()

	limiter := New(5)

	var wg sync.WaitGroup
	grants := make(chan struct{}, 64)

	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow() {
				grants <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(grants)

	assert.Len(t, grants, 5, "burst must grant exactly the budget")
}

func TestZeroLimitDeniesEverything(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	limiter := NewWithClock(0, time.Second, clock.Now)

	assert.False(t, limiter.Allow())
	assert.Equal(t, uint64(1), limiter.Stats().Denied)
}
