// Package debounce coalesces bursts of values into one delivery after a
// quiet period.
package debounce

import (
	"sync"
	"time"

	"github.com/roach88/adminsync/internal/clock"
)

// Debouncer delivers the most recent armed value once no new value has
// arrived for the quiet period.
//
// It owns at most one timer. Arming replaces the timer (the old one is
// stopped). A generation counter guards against a stopped timer whose
// callback was already running: stale generations are ignored.
type Debouncer[T any] struct {
	clock clock.Clock
	quiet time.Duration
	fire  func(T)

	mu      sync.Mutex
	timer   clock.Timer
	gen     uint64
	value   T
	armed   bool
	stopped bool
}

// New creates a Debouncer that calls fire with the last armed value.
// fire runs on the clock's timer goroutine.
func New[T any](c clock.Clock, quiet time.Duration, fire func(T)) *Debouncer[T] {
	return &Debouncer[T]{
		clock: clock.OrReal(c),
		quiet: quiet,
		fire:  fire,
	}
}

// Quiet returns the quiet period.
func (d *Debouncer[T]) Quiet() time.Duration {
	return d.quiet
}

// Arm records v and restarts the quiet period. Intermediate values are
// superseded and never delivered.
func (d *Debouncer[T]) Arm(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.value = v
	d.armed = true
	d.timer = d.clock.AfterFunc(d.quiet, func() { d.expire(gen) })
}

// Cancel drops the armed value without delivering it.
// Returns true if a value was armed.
func (d *Debouncer[T]) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancelLocked()
}

// Pending reports whether a value is armed and waiting for the quiet period.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}

// Stop cancels the outstanding timer and disables further arming.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
	d.stopped = true
}

func (d *Debouncer[T]) cancelLocked() bool {
	was := d.armed
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	d.armed = false
	var zero T
	d.value = zero
	return was
}

func (d *Debouncer[T]) expire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || !d.armed || d.stopped {
		d.mu.Unlock()
		return
	}
	v := d.value
	d.armed = false
	d.timer = nil
	var zero T
	d.value = zero
	d.mu.Unlock()

	d.fire(v)
}
