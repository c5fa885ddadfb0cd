// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opsreport/updatectl/internal/clock"

	"github.com/charmbracelet/log"
)

// DefaultCheckInterval is used when StartPeriodicChecking gets a non-positive interval.
const DefaultCheckInterval = 24 * time.Hour

type (
	// ReleaseSource yields the newest published release. *RegistryClient implements it.
	ReleaseSource interface {
		LatestRelease(ctx context.Context) (*ReleaseDescriptor, error)
	}

	// VersionFunc reports the running version.
	VersionFunc func() (string, error)

	// UpdateHandler is called from the checking goroutine when a cycle finds a
	// newer release.
	UpdateHandler func(ctx context.Context, release ReleaseDescriptor)

	// CheckStatus summarizes the most recent check for health surfaces.
	CheckStatus struct {
		Running        bool
		LastCheck      time.Time
		LastError      string
		CurrentVersion string
		Available      *ReleaseDescriptor
	}

	// Checker compares the running version with the registry, on demand or on
	// a timer.
	Checker struct {
		source   ReleaseSource
		current  VersionFunc
		clock    clock.Clock
		logger   *log.Logger
		onUpdate UpdateHandler

		// lifecycle serializes Start and Stop.
		lifecycle sync.Mutex

		mu     sync.Mutex
		cancel context.CancelFunc
		done   chan struct{}
		status CheckStatus
	}

	// CheckerOption configures a Checker.
	CheckerOption func(*Checker)
)

// WithUpdateHandler registers fn for update-available facts found by periodic checks.
func WithUpdateHandler(fn UpdateHandler) CheckerOption {
	return func(c *Checker) { c.onUpdate = fn }
}

// WithCheckerClock sets the timer source.
func WithCheckerClock(cl clock.Clock) CheckerOption {
	return func(c *Checker) { c.clock = cl }
}

// WithCheckerLogger sets the logger.
func WithCheckerLogger(l *log.Logger) CheckerOption {
	return func(c *Checker) { c.logger = l }
}

// NewChecker returns a Checker comparing current() with source.
func NewChecker(source ReleaseSource, current VersionFunc, opts ...CheckerOption) *Checker {
	c := &Checker{
		source:  source,
		current: current,
		clock:   clock.Real{},
		logger:  log.Default().WithPrefix("checker"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckNow returns the latest release when it is strictly newer than the
// running version, and nil when the installation is up to date. Registry
// failures wrap ErrNetworkFailure; an unreadable running version wraps
// ErrValidationFailed.
func (c *Checker) CheckNow(ctx context.Context) (*ReleaseDescriptor, error) {
	rel, current, err := c.check(ctx)

	c.mu.Lock()
	c.status.LastCheck = c.clock.Now()
	c.status.CurrentVersion = current
	c.status.LastError = ""
	if err != nil {
		c.status.LastError = err.Error()
	} else {
		c.status.Available = rel
	}
	c.mu.Unlock()

	return rel, err
}

func (c *Checker) check(ctx context.Context) (*ReleaseDescriptor, string, error) {
	current, err := c.current()
	if err != nil {
		return nil, "", fmt.Errorf("%w: reading running version: %w", ErrValidationFailed, err)
	}

	latest, err := c.source.LatestRelease(ctx)
	if err != nil {
		if errors.Is(err, ErrReleaseNotFound) {
			return nil, current, nil
		}
		if !errors.Is(err, ErrNetworkFailure) {
			err = fmt.Errorf("%w: %w", ErrNetworkFailure, err)
		}
		return nil, current, err
	}

	newer, err := IsNewer(latest.Version, current)
	if err != nil {
		return nil, current, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	if !newer {
		return nil, current, nil
	}
	rel := *latest
	return &rel, current, nil
}

// StartPeriodicChecking runs a check immediately and then every interval
// (DefaultCheckInterval when interval <= 0) until ctx ends or
// StopPeriodicChecking is called. Calling it while already running restarts
// the loop with the new interval.
func (c *Checker) StartPeriodicChecking(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.stop()

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.status.Running = true
	c.mu.Unlock()

	c.logger.Info("periodic update checks started", "interval", interval)

	go func() {
		defer close(done)
		defer func() {
			c.mu.Lock()
			c.status.Running = false
			c.mu.Unlock()
		}()

		for {
			c.cycle(loopCtx)
			select {
			case <-loopCtx.Done():
				return
			case <-c.clock.After(interval):
			}
		}
	}()
}

// StopPeriodicChecking stops the loop and waits for it to exit. It is safe
// to call when not running and to call repeatedly.
func (c *Checker) StopPeriodicChecking() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.stop()
}

// stop must be called with lifecycle held.
func (c *Checker) stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.logger.Info("periodic update checks stopped")
}

// Status returns the result of the latest check.
func (c *Checker) Status() CheckStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.status
	if st.Available != nil {
		rel := *st.Available
		st.Available = &rel
	}
	return st
}

// cycle runs one periodic check. Failures and panics are logged and treated
// as "no update" so the loop keeps going.
func (c *Checker) cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("update check panicked", "panic", r)
		}
	}()

	if ctx.Err() != nil {
		return
	}

	rel, err := c.CheckNow(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("update check failed", "error", err)
		return
	}
	if rel == nil {
		c.logger.Debug("no update available")
		return
	}

	c.logger.Info("update available", "version", rel.Version, "published", rel.PublishedAt)
	if c.onUpdate != nil {
		c.onUpdate(ctx, *rel)
	}
}
