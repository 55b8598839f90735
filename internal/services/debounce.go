package services

import (
	"sync"
	"time"
)

// debouncer coalesces bursts of calls per key into a single callback fired
// once the key has been quiet for delay.
type debouncer struct {
	delay   time.Duration
	mu      sync.Mutex
	timers  map[string]*time.Timer
	pending map[string]func()
	gens    map[string]uint64
	stopped bool
}

func newDebouncer(delay time.Duration) *debouncer {
	return &debouncer{
		delay:   delay,
		timers:  make(map[string]*time.Timer),
		pending: make(map[string]func()),
		gens:    make(map[string]uint64),
	}
}

// Trigger (re)arms the timer for key; fn replaces any pending callback.
func (d *debouncer) Trigger(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if t, ok := d.timers[key]; ok {
		t.Stop()
	}
	d.pending[key] = fn
	d.gens[key]++
	gen := d.gens[key]
	d.timers[key] = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		fire, ok := d.pending[key]
		if !ok || d.stopped || d.gens[key] != gen {
			d.mu.Unlock()
			return
		}
		delete(d.pending, key)
		delete(d.timers, key)
		d.mu.Unlock()
		fire()
	})
}

// Flush fires every pending callback immediately.
func (d *debouncer) Flush() {
	d.mu.Lock()
	fns := make([]func(), 0, len(d.pending))
	for key, fn := range d.pending {
		if t, ok := d.timers[key]; ok {
			t.Stop()
		}
		fns = append(fns, fn)
	}
	d.timers = make(map[string]*time.Timer)
	d.pending = make(map[string]func())
	stopped := d.stopped
	d.mu.Unlock()
	if stopped {
		return
	}
	for _, fn := range fns {
		fn()
	}
}

// Stop cancels all pending callbacks; later Triggers are ignored.
func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, t := range d.timers {
		t.Stop()
		delete(d.timers, key)
	}
	d.pending = make(map[string]func())
}
