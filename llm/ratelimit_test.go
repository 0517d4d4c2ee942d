package llm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps []time.Duration
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.t = c.t.Add(d)
	return nil
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newFakeLimiter(interval time.Duration) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)}
	l := NewRateLimiter(interval)
	l.now = clock.now
	l.sleep = clock.sleep
	return l, clock
}

func TestRateLimiter_FirstAcquireDoesNotWait(t *testing.T) {
	l, clock := newFakeLimiter(time.Second)

	release, err := l.Acquire(context.Background())
	require.NoError(t, err)
	release()

	assert.Empty(t, clock.sleeps)
}

func TestRateLimiter_SpacingMeasuredFromRelease(t *testing.T) {
	l, clock := newFakeLimiter(time.Second)

	release, err := l.Acquire(context.Background())
	require.NoError(t, err)
	clock.advance(5 * time.Second) // the call itself
	release()

	clock.advance(300 * time.Millisecond)
	release, err = l.Acquire(context.Background())
	require.NoError(t, err)
	release()

	assert.Equal(t, []time.Duration{700 * time.Millisecond}, clock.sleeps)
}

func TestRateLimiter_NoWaitAfterInterval(t *testing.T) {
	l, clock := newFakeLimiter(time.Second)

	release, _ := l.Acquire(context.Background())
	release()
	clock.advance(2 * time.Second)

	release, err := l.Acquire(context.Background())
	require.NoError(t, err)
	release()
	assert.Empty(t, clock.sleeps)
}

func TestRateLimiter_ReleaseIsIdempotent(t *testing.T) {
	l := NewRateLimiter(0)

	release, err := l.Acquire(context.Background())
	require.NoError(t, err)
	release()
	assert.NotPanics(t, release)

	release, err = l.Acquire(context.Background())
	require.NoError(t, err)
	release()
}

func TestRateLimiter_RealSpacing(t *testing.T) {
	const interval = 50 * time.Millisecond
	l := NewRateLimiter(interval)

	release, err := l.Acquire(context.Background())
	require.NoError(t, err)
	release()
	releasedAt := time.Now()

	release, err = l.Acquire(context.Background())
	require.NoError(t, err)
	release()

	assert.GreaterOrEqual(t, time.Since(releasedAt), interval)
}

func TestRateLimiter_SerializesConcurrentCallers(t *testing.T) {
	l := NewRateLimiter(0)

	release, err := l.Acquire(context.Background())
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := l.Acquire(context.Background())
		if err == nil {
			r()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second caller acquired while the first permit was held")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second caller never acquired")
	}
}

func TestRateLimiter_ContextCancelledWhileWaiting(t *testing.T) {
	l := NewRateLimiter(0)
	release, err := l.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = l.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRateLimiter_SleepErrorFreesPermit(t *testing.T) {
	l := NewRateLimiter(time.Hour)
	release, err := l.Acquire(context.Background())
	require.NoError(t, err)
	release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Acquire(ctx)
	assert.Error(t, err)

	l.sleep = func(context.Context, time.Duration) error { return nil }
	release, err = l.Acquire(context.Background())
	require.NoError(t, err)
	release()
}
