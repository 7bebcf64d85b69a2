package limiter

import (
	"sync"
	"time"
)

// Debouncer coalesces values submitted under the same key. Each key owns one
// timer: created by the first Submit, reset by every later one, and fired
// once the key has been quiet for the window. Only the latest value fires.
type Debouncer[V any] struct {
	window time.Duration
	fire   func(key string, v V)

	mu       sync.Mutex
	idle     *sync.Cond
	pending  map[string]*entry[V]
	inflight int
	stopped  bool
}

type entry[V any] struct {
	timer *time.Timer
	value V
}

func NewDebouncer[V any](window time.Duration, fire func(key string, v V)) *Debouncer[V] {
	d := &Debouncer[V]{
		window:  window,
		fire:    fire,
		pending: make(map[string]*entry[V]),
	}
	d.idle = sync.NewCond(&d.mu)
	return d
}

func (d *Debouncer[V]) Submit(key string, v V) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if e, ok := d.pending[key]; ok && e.timer.Stop() {
		e.value = v
		e.timer.Reset(d.window)
		return
	}

	// Either the key is new or its timer already fired; in the latter case the
	// running expire sees it was replaced and stays quiet.
	e := &entry[V]{value: v}
	d.pending[key] = e
	e.timer = time.AfterFunc(d.window, func() { d.expire(key, e) })
}

func (d *Debouncer[V]) expire(key string, e *entry[V]) {
	d.mu.Lock()
	if d.pending[key] != e {
		// Replaced by a later Submit or taken by Flush.
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.inflight++
	v := e.value
	d.mu.Unlock()

	d.fire(key, v)

	d.mu.Lock()
	d.inflight--
	if d.inflight == 0 {
		d.idle.Broadcast()
	}
	d.mu.Unlock()
}

// Flush fires every pending key immediately, including keys whose timer has
// fired but whose callback has not claimed the value yet. It returns once
// every value submitted before the call has been fired.
func (d *Debouncer[V]) Flush() {
	d.mu.Lock()
	due := d.takeLocked()
	d.mu.Unlock()

	for key, v := range due {
		d.fire(key, v)
	}

	d.mu.Lock()
	for d.inflight > 0 {
		d.idle.Wait()
	}
	d.mu.Unlock()
}

// takeLocked empties pending. A timer callback still waiting on mu finds its
// entry gone and stays quiet.
func (d *Debouncer[V]) takeLocked() map[string]V {
	due := make(map[string]V, len(d.pending))
	for key, e := range d.pending {
		e.timer.Stop()
		due[key] = e.value
		delete(d.pending, key)
	}
	return due
}

// Stop discards every pending key and rejects later submissions.
func (d *Debouncer[V]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, e := range d.pending {
		e.timer.Stop()
		delete(d.pending, key)
	}
}

// Pending reports how many keys are waiting to fire.
func (d *Debouncer[V]) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
