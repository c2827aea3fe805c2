// Package debounce provides trailing-edge debouncers with cancellable timers
// and a pluggable clock.
package debounce

import (
	"sync"
	"time"
)

// Timer is a cancellable pending call.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so timer-driven code can be tested deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// RealClock is backed by the time package.
var RealClock Clock = realClock{}

// Poster runs f on the owner's event loop. When nil, fired calls run on the
// timer goroutine.
type Poster func(f func())

// Debouncer delays an action until no trigger has arrived for the configured
// delay. Each Trigger restarts the timer; only the last action runs.
type Debouncer struct {
	name  string
	clock Clock
	delay time.Duration
	post  Poster

	mu     sync.Mutex
	timer  Timer
	gen    uint64
	action func()
}

// New creates a debouncer. name is used only for diagnostics.
func New(name string, delay time.Duration, clock Clock, post Poster) *Debouncer {
	if clock == nil {
		clock = RealClock
	}
	return &Debouncer{name: name, clock: clock, delay: delay, post: post}
}

// Name returns the debouncer's label.
func (d *Debouncer) Name() string { return d.name }

// Delay returns the quiet period.
func (d *Debouncer) Delay() time.Duration { return d.delay }

// Trigger (re)starts the quiet period and makes action the call to run when
// it elapses.
func (d *Debouncer) Trigger(action func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.action = action
	d.timer = d.clock.AfterFunc(d.delay, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	run := func() {
		d.mu.Lock()
		// A Cancel or a newer Trigger between the timer firing and the
		// posted call running wins.
		if gen != d.gen || d.action == nil {
			d.mu.Unlock()
			return
		}
		action := d.action
		d.action = nil
		d.timer = nil
		d.mu.Unlock()
		action()
	}
	if d.post != nil {
		d.post(run)
		return
	}
	run()
}

// Cancel drops the pending action. It reports whether one was pending.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	pending := d.action != nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	d.action = nil
	return pending
}

// Pending reports whether an action is waiting to run.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.action != nil
}
