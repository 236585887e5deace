package resilience

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestWindow(limit int, window time.Duration) (*SlidingWindow, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	sw := NewSlidingWindow(limit, window)
	sw.now = clock.Now
	return sw, clock
}

func TestSlidingWindow_QuotaWithinWindow(t *testing.T) {
	sw, clock := newTestWindow(3, 60*time.Second)

	admitted := 0
	for i := 0; i < 4; i++ {
		if sw.Admit(42) {
			admitted++
		}
		clock.Advance(time.Second)
	}

	assert.Equal(t, 3, admitted)
	assert.Equal(t, 3, sw.Len(42))
}

func TestSlidingWindow_DeniedRequestIsNotRecorded(t *testing.T) {
	sw, clock := newTestWindow(1, 10*time.Second)

	assert.True(t, sw.Admit(1))
	clock.Advance(5 * time.Second)
	assert.False(t, sw.Admit(1))
	assert.Equal(t, 1, sw.Len(1))

	// Only the first admission counts, so it expires 10s after it was made.
	clock.Advance(5 * time.Second)
	assert.True(t, sw.Admit(1))
}

func TestSlidingWindow_OldestMustAgeOut(t *testing.T) {
	sw, clock := newTestWindow(2, 60*time.Second)

	assert.True(t, sw.Admit(7))
	clock.Advance(30 * time.Second)
	assert.True(t, sw.Admit(7))
	clock.Advance(29 * time.Second)
	assert.False(t, sw.Admit(7))

	clock.Advance(2 * time.Second)
	assert.True(t, sw.Admit(7), "first timestamp is older than the window")
	assert.False(t, sw.Admit(7), "second timestamp is still inside the window")
}

func TestSlidingWindow_BoundaryIsExpired(t *testing.T) {
	sw, clock := newTestWindow(1, 60*time.Second)

	assert.True(t, sw.Admit(9))
	clock.Advance(60 * time.Second)
	assert.True(t, sw.Admit(9))
}

func TestSlidingWindow_JustBeforeBoundaryIsRetained(t *testing.T) {
	sw, clock := newTestWindow(1, 60*time.Second)

	assert.True(t, sw.Admit(9))
	clock.Advance(60*time.Second - time.Nanosecond)
	assert.False(t, sw.Admit(9))
}

func TestSlidingWindow_KeysAreIndependent(t *testing.T) {
	sw, _ := newTestWindow(1, time.Minute)

	assert.True(t, sw.Admit(1))
	assert.False(t, sw.Admit(1))
	assert.True(t, sw.Admit(2))
	assert.Equal(t, 2, sw.Keys())
}

func TestSlidingWindow_PrunesIdleKeys(t *testing.T) {
	sw, clock := newTestWindow(pruneEvery, time.Minute)

	for i := int64(0); i < 10; i++ {
		sw.Admit(i)
	}
	clock.Advance(2 * time.Minute)

	for i := 0; i < pruneEvery; i++ {
		sw.Admit(1000)
	}

	assert.Equal(t, 1, sw.Keys())
}

func TestSlidingWindow_NeverExceedsLimitConcurrently(t *testing.T) {
	sw := NewSlidingWindow(5, time.Hour)

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sw.Admit(1) {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), admitted.Load())
	assert.Equal(t, 5, sw.Len(1))
}

func TestSlidingWindow_RealClockExpiry(t *testing.T) {
	sw := NewSlidingWindow(2, 50*time.Millisecond)

	assert.True(t, sw.Admit(3))
	assert.True(t, sw.Admit(3))
	assert.False(t, sw.Admit(3))

	time.Sleep(60 * time.Millisecond)

	assert.True(t, sw.Admit(3))
}
