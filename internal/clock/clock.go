// SPDX-License-Identifier: MPL-2.0

// Package clock abstracts wall-clock time so timers and timestamps in the
// update subsystem can be driven deterministically from tests.
package clock

import (
	"sync"
	"time"
)

type (
	// Clock is the time source used by the release checker, the installer and
	// the history store.
	Clock interface {
		Now() time.Time
		// After fires once d has elapsed on this clock.
		After(d time.Duration) <-chan time.Time
		Since(t time.Time) time.Duration
	}

	// Real is the Clock backed by the system time.
	Real struct{}

	// Fake is a Clock whose time only moves when Advance or Set is called.
	Fake struct {
		mu      sync.Mutex
		current time.Time
		waiters []waiter
	}

	waiter struct {
		target time.Time
		ch     chan time.Time
	}
)

// Now returns time.Now.
func (Real) Now() time.Time { return time.Now() }

// After returns time.After.
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Since returns time.Since.
func (Real) Since(t time.Time) time.Duration { return time.Since(t) }

// NewFake returns a Fake set to initial, or to 2020-01-01 UTC when initial is zero.
func NewFake(initial time.Time) *Fake {
	if initial.IsZero() {
		initial = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return &Fake{current: initial}
}

// Now returns the fake time.
func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After registers a waiter that fires when the fake time reaches now+d.
// Non-positive durations fire immediately.
func (c *Fake) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.current
		return ch
	}
	c.waiters = append(c.waiters, waiter{target: c.current.Add(d), ch: ch})
	return ch
}

// Since returns the fake time elapsed since t.
func (c *Fake) Since(t time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Sub(t)
}

// Advance moves the fake time forward by d and fires due waiters.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	c.fire()
}

// Set moves the fake time to t and fires due waiters.
func (c *Fake) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
	c.fire()
}

// Waiters reports how many After channels are still pending. Tests use it to
// wait until a timer loop is parked before advancing time.
func (c *Fake) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// fire must be called with mu held.
func (c *Fake) fire() {
	pending := c.waiters[:0]
	for _, w := range c.waiters {
		if c.current.Before(w.target) {
			pending = append(pending, w)
			continue
		}
		select {
		case w.ch <- c.current:
		default:
		}
	}
	c.waiters = pending
}
