// Package timectrl provides the simulation clock used to decide "now" for
// navigation queries.
package timectrl

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

var timeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// ParseTime reads an RFC 3339 time, a zone-less UTC date-time, or a date.
func ParseTime(raw string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", raw)
}

// SimClock reports the current simulation time.
type SimClock interface {
	Now() time.Time
}

// TimeController maps wall-clock time onto simulation time. Simulation time
// runs from an anchor at Rate times wall speed: 1 follows the wall clock, 0
// freezes it, larger values accelerate it.
type TimeController struct {
	mu         sync.RWMutex
	simAnchor  time.Time
	wallAnchor time.Time
	rate       float64

	wall      func() time.Time
	listeners []func(time.Time)
}

// Option customises a TimeController.
type Option func(*TimeController)

// WithWallClock replaces time.Now as the wall-clock source.
func WithWallClock(now func() time.Time) Option {
	return func(tc *TimeController) {
		if now != nil {
			tc.wall = now
		}
	}
}

// NewTimeController returns a controller whose simulation time equals start
// now. A zero start follows the wall clock.
func NewTimeController(start time.Time, rate float64, opts ...Option) *TimeController {
	tc := &TimeController{rate: rate, wall: time.Now}
	for _, opt := range opts {
		opt(tc)
	}
	tc.wallAnchor = tc.wall()
	if start.IsZero() {
		start = tc.wallAnchor
	}
	tc.simAnchor = start.UTC()
	return tc
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.nowLocked()
}

func (tc *TimeController) nowLocked() time.Time {
	elapsed := tc.wall().Sub(tc.wallAnchor)
	return tc.simAnchor.Add(time.Duration(float64(elapsed) * tc.rate))
}

// SetTime jumps simulation time to t, keeping the rate.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.simAnchor = t.UTC()
	tc.wallAnchor = tc.wall()
}

// SetRate changes the rate from the current simulation time onward.
func (tc *TimeController) SetRate(rate float64) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.simAnchor = tc.nowLocked()
	tc.wallAnchor = tc.wall()
	tc.rate = rate
}

// Rate returns the current rate.
func (tc *TimeController) Rate() float64 {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.rate
}

// AddListener registers a callback invoked with the simulation time on
// every tick of Run.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Run notifies listeners every tick of wall time until ctx is done. It
// returns a channel that is closed when the loop exits.
func (tc *TimeController) Run(ctx context.Context, tick time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			tc.mu.RLock()
			now := tc.nowLocked()
			listeners := slices.Clone(tc.listeners)
			tc.mu.RUnlock()

			for _, fn := range listeners {
				fn(now)
			}
		}
	}()
	return done
}
