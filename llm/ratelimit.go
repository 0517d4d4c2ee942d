package llm

import (
	"context"
	"sync"
	"time"
)

// DefaultMinInterval is the spacing between outbound calls.
const DefaultMinInterval = time.Second

// RateLimiter spaces outbound calls at least minInterval apart. A permit is
// held for the whole call; the interval is measured from the moment the
// previous permit was released.
type RateLimiter struct {
	minInterval time.Duration
	sem         chan struct{}

	mu   sync.Mutex
	last time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRateLimiter(minInterval time.Duration) *RateLimiter {
	if minInterval < 0 {
		minInterval = 0
	}
	return &RateLimiter{
		minInterval: minInterval,
		sem:         make(chan struct{}, 1),
		now:         time.Now,
		sleep:       sleepContext,
	}
}

// Acquire blocks until a permit is available and the interval since the last
// release has passed. The returned release func must be called once the call
// completes; extra calls are no-ops.
func (l *RateLimiter) Acquire(ctx context.Context) (func(), error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	l.mu.Lock()
	last := l.last
	l.mu.Unlock()

	if !last.IsZero() {
		if wait := l.minInterval - l.now().Sub(last); wait > 0 {
			if err := l.sleep(ctx, wait); err != nil {
				<-l.sem
				return nil, err
			}
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.last = l.now()
			l.mu.Unlock()
			<-l.sem
		})
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
