package throttle

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Option configures a Throttle.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now as the throttle's time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Throttle fires fn at most once per interval, on the leading edge.
type Throttle[T any] struct {
	interval time.Duration
	fn       func(T)
	now      func() time.Time

	mu      sync.Mutex
	limiter *rate.Limiter
}

// NewThrottle wraps fn with a leading-edge rate cap of one call per interval.
// A non-positive interval lets every call through.
func NewThrottle[T any](interval time.Duration, fn func(T), opts ...Option) *Throttle[T] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return &Throttle[T]{
		interval: interval,
		fn:       fn,
		now:      o.now,
		limiter:  newLimiter(interval),
	}
}

func newLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// Call invokes fn with arg on the caller's goroutine if the window is open,
// and reports whether it did. Calls inside an active window are dropped.
func (t *Throttle[T]) Call(arg T) bool {
	t.mu.Lock()
	allowed := t.limiter.AllowN(t.now(), 1)
	t.mu.Unlock()

	if !allowed {
		return false
	}
	t.fn(arg)
	return true
}

// Cancel discards the active window so the next call fires immediately.
// Safe to call any number of times.
func (t *Throttle[T]) Cancel() {
	t.mu.Lock()
	t.limiter = newLimiter(t.interval)
	t.mu.Unlock()
}

// Interval returns the configured window length.
func (t *Throttle[T]) Interval() time.Duration {
	return t.interval
}
