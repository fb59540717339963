// Package sched tracks the live timers of a controller instance so that
// disposal can cancel all of them in one call. Every periodic timer a
// controller creates goes through a Registry; a timer that never reaches the
// registry is a leak waiting to happen.
package sched

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Registry is an arena of active timer handles backed by a single clock.
// Controllers construct one Registry per instance and call StopAll exactly
// once at disposal. All methods are safe for concurrent use.
type Registry struct {
	clk clock.Clock

	mu      sync.Mutex
	handles map[uint64]func()
	nextID  uint64
	closed  bool
}

// NewRegistry creates a registry on the given clock. Tests pass a
// clock.Mock to drive time deterministically.
func NewRegistry(clk clock.Clock) *Registry {
	return &Registry{
		clk:     clk,
		handles: make(map[uint64]func()),
	}
}

// Clock returns the registry's time source.
func (r *Registry) Clock() clock.Clock {
	return r.clk
}

// Handle is one registered timer. Stop cancels the underlying timer and
// removes it from the registry; it is idempotent. Stopping a ticker never
// closes its channel, so loops consuming the ticker select on Done to exit
// instead of parking on the channel forever.
type Handle struct {
	once sync.Once
	stop func()
	done chan struct{}
}

// Stop cancels the timer behind the handle.
func (h *Handle) Stop() {
	h.once.Do(h.stop)
}

// Done is closed once the handle is stopped, through Stop or StopAll.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Ticker creates and registers a periodic ticker.
func (r *Registry) Ticker(d time.Duration) (*clock.Ticker, *Handle) {
	t := r.clk.Ticker(d)
	h := r.register(t.Stop)
	return t, h
}

func (r *Registry) register(stop func()) *Handle {
	done := make(chan struct{})
	var signal sync.Once
	halt := func() {
		stop()
		signal.Do(func() { close(done) })
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		halt()
		return &Handle{stop: func() {}, done: done}
	}
	id := r.nextID
	r.nextID++
	r.handles[id] = halt
	r.mu.Unlock()

	return &Handle{
		done: done,
		stop: func() {
			halt()
			r.mu.Lock()
			delete(r.handles, id)
			r.mu.Unlock()
		},
	}
}

// Active returns the number of timers that have been created and not yet
// stopped. A disposed controller must report zero.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// StopAll cancels every registered timer and rejects future registrations.
// Idempotent; later Stop calls on individual handles remain safe.
func (r *Registry) StopAll() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	stops := make([]func(), 0, len(r.handles))
	for _, stop := range r.handles {
		stops = append(stops, stop)
	}
	r.handles = make(map[uint64]func())
	r.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
}
