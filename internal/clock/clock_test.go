// SPDX-License-Identifier: MPL-2.0

package clock

import (
	"testing"
	"time"
)

func received(ch <-chan time.Time) (time.Time, bool) {
	select {
	case at := <-ch:
		return at, true
	default:
		return time.Time{}, false
	}
}

func TestReal_Timer(t *testing.T) {
	t.Parallel()

	timer := Real{}.NewTimer()
	defer timer.Stop()
	if timer.C() != nil {
		t.Fatal("unstarted timer has a channel")
	}
	timer.Start(time.Millisecond)
	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Error("timer did not fire within 1s")
	}
}

func TestFake_TickerDropsMissedTicks(t *testing.T) {
	t.Parallel()

	c := NewFake(time.Time{})
	start := c.Now()
	ticker := c.NewTicker(10 * time.Second)

	c.Advance(9 * time.Second)
	if _, ok := received(ticker.C()); ok {
		t.Fatal("ticker fired early")
	}

	c.Advance(time.Second)
	at, ok := received(ticker.C())
	if !ok || !at.Equal(start.Add(10*time.Second)) {
		t.Fatalf("tick = (%v, %v), want (%v, true)", at, ok, start.Add(10*time.Second))
	}

	// Three periods at once deliver a single tick, and the next one is due at 50s.
	c.Advance(30 * time.Second)
	if c.Undelivered() != 1 {
		t.Errorf("Undelivered() = %d, want 1", c.Undelivered())
	}
	received(ticker.C())
	c.Advance(9 * time.Second)
	if _, ok := received(ticker.C()); ok {
		t.Error("ticker fired before 50s")
	}
	c.Advance(time.Second)
	if _, ok := received(ticker.C()); !ok {
		t.Error("ticker did not fire at 50s")
	}

	ticker.Stop()
	if c.Armed() != 0 {
		t.Errorf("Armed() = %d after Stop, want 0", c.Armed())
	}
	c.Advance(time.Minute)
	if _, ok := received(ticker.C()); ok {
		t.Error("stopped ticker fired")
	}
}

func TestFake_TimerFiresOncePerStart(t *testing.T) {
	t.Parallel()

	c := NewFake(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	timer := c.NewTimer()
	if c.Armed() != 0 {
		t.Fatalf("Armed() = %d before Start, want 0", c.Armed())
	}

	timer.Start(5 * time.Second)
	c.Advance(5 * time.Second)
	if _, ok := received(timer.C()); !ok {
		t.Fatal("timer did not fire at its deadline")
	}
	c.Advance(time.Hour)
	if _, ok := received(timer.C()); ok {
		t.Error("timer fired twice for one Start")
	}

	timer.Start(0)
	if _, ok := received(timer.C()); !ok {
		t.Error("Start(0) did not fire at once")
	}

	timer.Start(time.Second)
	timer.Stop()
	c.Advance(time.Second)
	if _, ok := received(timer.C()); ok {
		t.Error("stopped timer fired")
	}
}
