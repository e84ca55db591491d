package throttle

import (
	"sync"
	"time"
)

// Debounce fires fn once calls have been quiet for the delay.
//
// Every call resets the timer and replaces the pending argument. A
// generation counter guards against a timer that already fired racing a
// newer call or a Cancel: only the timer of the latest generation may run fn.
type Debounce[T any] struct {
	delay time.Duration
	fn    func(T)

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	pending bool
	arg     T
}

// NewDebounce wraps fn with a trailing settle delay.
func NewDebounce[T any](delay time.Duration, fn func(T)) *Debounce[T] {
	return &Debounce[T]{delay: delay, fn: fn}
}

// Call schedules fn(arg) after the delay, superseding any pending call.
func (d *Debounce[T]) Call(arg T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	gen := d.gen
	d.arg = arg
	d.pending = true

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

func (d *Debounce[T]) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || !d.pending {
		d.mu.Unlock()
		return
	}
	arg := d.arg
	var zero T
	d.arg = zero
	d.pending = false
	d.timer = nil
	d.mu.Unlock()

	// fn runs unlocked so it may call back into the debouncer
	d.fn(arg)
}

// Cancel drops the pending call without firing it. Safe to call any number
// of times; the debouncer stays usable afterwards.
func (d *Debounce[T]) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	d.pending = false
	var zero T
	d.arg = zero
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Pending reports whether a call is waiting for its delay to elapse.
func (d *Debounce[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Delay returns the configured settle delay.
func (d *Debounce[T]) Delay() time.Duration {
	return d.delay
}
