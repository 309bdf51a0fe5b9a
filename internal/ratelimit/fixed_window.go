package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taylorshaulis/adsws/internal/ratelimit/store"
)

// FixedWindowLimiter implements the fixed window rate limiting algorithm.
// Time is divided into fixed windows and requests are counted within each
// window. When constructed without a store, counting is local to the
// process.
type FixedWindowLimiter struct {
	store  store.Store
	limit  int
	window time.Duration
	logger *zap.Logger

	// In-memory state for local rate limiting.
	counters sync.Map
}

// windowCounter is a counter for a single fixed window.
type windowCounter struct {
	count       int
	windowStart time.Time
	mu          sync.Mutex
}

// NewFixedWindowLimiter creates a new fixed window rate limiter. A nil
// store selects local in-process counting.
func NewFixedWindowLimiter(s store.Store, limit int, window time.Duration, logger *zap.Logger) *FixedWindowLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &FixedWindowLimiter{
		store:  s,
		limit:  limit,
		window: window,
		logger: logger,
	}
}

// Allow implements Limiter.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	if l.store == nil {
		return l.allowLocal(key)
	}
	return l.allowDistributed(ctx, key)
}

// Reset implements Limiter.
func (l *FixedWindowLimiter) Reset(ctx context.Context, key string) error {
	l.counters.Delete(key)

	if l.store != nil {
		windowKey := l.windowKey(key, l.getWindowStart(time.Now()))
		if err := l.store.Delete(ctx, windowKey); err != nil {
			return err
		}
	}
	return nil
}

// getWindowStart returns the start time of the current window.
func (l *FixedWindowLimiter) getWindowStart(t time.Time) time.Time {
	windowNanos := l.window.Nanoseconds()
	return time.Unix(0, (t.UnixNano()/windowNanos)*windowNanos)
}

func (l *FixedWindowLimiter) windowKey(key string, windowStart time.Time) string {
	return fmt.Sprintf("%s:fw:%d", key, windowStart.UnixNano())
}

// allowLocal performs rate limiting using in-memory counters.
func (l *FixedWindowLimiter) allowLocal(key string) (*Result, error) {
	now := time.Now()
	windowStart := l.getWindowStart(now)

	value, _ := l.counters.LoadOrStore(key, &windowCounter{
		windowStart: windowStart,
	})
	wc := value.(*windowCounter)

	wc.mu.Lock()
	defer wc.mu.Unlock()

	if !wc.windowStart.Equal(windowStart) {
		wc.count = 0
		wc.windowStart = windowStart
	}

	allowed := wc.count+1 <= l.limit
	if allowed {
		wc.count++
	}

	return l.result(allowed, wc.count, windowStart, now), nil
}

// allowDistributed performs rate limiting using the shared store.
func (l *FixedWindowLimiter) allowDistributed(ctx context.Context, key string) (*Result, error) {
	now := time.Now()
	windowStart := l.getWindowStart(now)
	windowKey := l.windowKey(key, windowStart)

	currentCount, err := l.store.Get(ctx, windowKey)
	if err != nil && !store.IsKeyNotFound(err) {
		return nil, err
	}

	allowed := int(currentCount)+1 <= l.limit
	if allowed {
		// Expiration buffer absorbs clock skew between instances.
		newCount, err := l.store.IncrementWithExpiry(ctx, windowKey, 1, l.window+time.Second)
		if err != nil {
			l.logger.Warn("failed to increment rate limit counter",
				zap.String("key", key),
				zap.Error(err),
			)
		} else {
			currentCount = newCount
		}
	}

	return l.result(allowed, int(currentCount), windowStart, now), nil
}

func (l *FixedWindowLimiter) result(allowed bool, count int, windowStart, now time.Time) *Result {
	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}

	resetAfter := windowStart.Add(l.window).Sub(now)
	if resetAfter < 0 {
		resetAfter = 0
	}

	var retryAfter time.Duration
	if !allowed {
		retryAfter = resetAfter
	}

	return &Result{
		Allowed:    allowed,
		Limit:      l.limit,
		Remaining:  remaining,
		ResetAfter: resetAfter,
		RetryAfter: retryAfter,
	}
}
