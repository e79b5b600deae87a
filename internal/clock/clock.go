// SPDX-License-Identifier: MPL-2.0

// Package clock is the time source of the gateway watchdog: a ticker for the
// liveness checks and a re-armable timer for the pauses between reconnect
// attempts. Fake drives both by hand.
package clock

import (
	"sync"
	"time"
)

type (
	// Clock hands out the time and the alarms the watchdog runs on.
	Clock interface {
		Now() time.Time
		NewTicker(d time.Duration) Ticker
		// NewTimer returns an unarmed timer. It satisfies backoff.Timer.
		NewTimer() Timer
	}

	// Ticker fires every period until stopped. Like time.Ticker it drops
	// ticks a slow reader misses.
	Ticker interface {
		C() <-chan time.Time
		Stop()
	}

	// Timer fires once per Start.
	Timer interface {
		Start(d time.Duration)
		Stop()
		C() <-chan time.Time
	}

	// Real is the system clock.
	Real struct{}

	realTicker struct{ t *time.Ticker }

	realTimer struct{ t *time.Timer }

	// Fake only moves on Advance. Alarms due at the new time fire once, with
	// tickers re-armed past it.
	Fake struct {
		mu     sync.Mutex
		now    time.Time
		alarms []*alarm
	}

	alarm struct {
		clock  *Fake
		ch     chan time.Time
		period time.Duration
		next   time.Time
		armed  bool
	}
)

func (Real) Now() time.Time                   { return time.Now() }
func (Real) NewTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }
func (Real) NewTimer() Timer                  { return &realTimer{} }
func (t realTicker) C() <-chan time.Time      { return t.t.C }
func (t realTicker) Stop()                    { t.t.Stop() }

func (t *realTimer) Start(d time.Duration) {
	if t.t == nil {
		t.t = time.NewTimer(d)
		return
	}
	t.t.Reset(d)
}

func (t *realTimer) Stop() {
	if t.t != nil {
		t.t.Stop()
	}
}

func (t *realTimer) C() <-chan time.Time {
	if t.t == nil {
		return nil
	}
	return t.t.C
}

// NewFake creates a Fake set to start, or to 2020-01-01 UTC when start is zero.
func NewFake(start time.Time) *Fake {
	if start.IsZero() {
		start = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return &Fake{now: start}
}

func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Fake) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker period")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	a := &alarm{clock: c, ch: make(chan time.Time, 1), period: d, next: c.now.Add(d), armed: true}
	c.alarms = append(c.alarms, a)
	return a
}

func (c *Fake) NewTimer() Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := &alarm{clock: c, ch: make(chan time.Time, 1)}
	c.alarms = append(c.alarms, a)
	return a
}

// Advance moves the time forward by d and fires every alarm that came due.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	for _, a := range c.alarms {
		if !a.armed || c.now.Before(a.next) {
			continue
		}
		a.fire(c.now)
		if a.period == 0 {
			a.armed = false
			continue
		}
		for !a.next.After(c.now) {
			a.next = a.next.Add(a.period)
		}
	}
}

// Armed returns the number of tickers and started timers waiting to fire.
func (c *Fake) Armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, a := range c.alarms {
		if a.armed {
			n++
		}
	}
	return n
}

// Undelivered returns the number of fired ticks nobody has received yet.
func (c *Fake) Undelivered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, a := range c.alarms {
		n += len(a.ch)
	}
	return n
}

// fire must be called with the clock's mu held.
func (a *alarm) fire(now time.Time) {
	select {
	case a.ch <- now:
	default:
	}
}

func (a *alarm) C() <-chan time.Time { return a.ch }

func (a *alarm) Stop() {
	a.clock.mu.Lock()
	defer a.clock.mu.Unlock()
	a.armed = false
}

// Start arms the alarm d from now. A non-positive d fires at once.
func (a *alarm) Start(d time.Duration) {
	a.clock.mu.Lock()
	defer a.clock.mu.Unlock()
	select {
	case <-a.ch:
	default:
	}
	if d <= 0 {
		a.armed = false
		a.fire(a.clock.now)
		return
	}
	a.next = a.clock.now.Add(d)
	a.armed = true
}
