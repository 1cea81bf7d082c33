// Signalbridge - Signal Messaging Daemon Integration Layer
// Copyright 2026 IrregularChat
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/irregularchat/signalbridge

package guard

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/irregularchat/signalbridge/internal/logging"
	"github.com/irregularchat/signalbridge/internal/metrics"
)

// Class groups commands by cost for rate limiting.
type Class string

const (
	ClassDefault    Class = "default"
	ClassAI         Class = "ai"
	ClassMembership Class = "membership"
	ClassBulkLookup Class = "bulk_lookup"
)

// Limits maps command classes to per-minute ceilings. Expensive classes get
// lower ceilings than the default.
type Limits map[Class]int

// DefaultLimits returns the production ceilings.
func DefaultLimits() Limits {
	return Limits{
		ClassDefault:    10,
		ClassAI:         3,
		ClassMembership: 5,
		ClassBulkLookup: 2,
	}
}

// Window is the sliding interval over which calls are counted.
const Window = time.Minute

// maxTrackedKeys bounds the limiter's memory; the oldest-touched key is
// evicted at capacity.
const maxTrackedKeys = 8192

// slidingWindow tracks call timestamps for one (user, class) key. Ceilings
// are small, so storing timestamps is cheap and yields an exact remaining
// cooldown.
type slidingWindow struct {
	calls []time.Time
}

// advance drops timestamps outside the window.
func (w *slidingWindow) advance(now time.Time) {
	cutoff := now.Add(-Window)
	i := 0
	for ; i < len(w.calls); i++ {
		if w.calls[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		w.calls = append(w.calls[:0], w.calls[i:]...)
	}
}

// RateLimiter enforces per-(user, class) sliding-window ceilings. Window
// state is replaced on write, and expired windows are reaped by Cleanup so
// the key map cannot grow unbounded.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*slidingWindow
	limits  Limits
	log     zerolog.Logger
	now     func() time.Time
}

// NewRateLimiter creates a limiter with the given ceilings. Nil limits fall
// back to DefaultLimits.
func NewRateLimiter(limits Limits) *RateLimiter {
	if limits == nil {
		limits = DefaultLimits()
	}
	return &RateLimiter{
		windows: make(map[string]*slidingWindow),
		limits:  limits,
		log:     logging.With().Str("component", "guard").Logger(),
		now:     time.Now,
	}
}

// Allow records one call for (user, class) and returns a *RateLimitError
// carrying the remaining cooldown when the ceiling is exceeded. Violations
// are logged, never silently dropped.
func (r *RateLimiter) Allow(user string, class Class) error {
	ceiling, ok := r.limits[class]
	if !ok {
		ceiling = r.limits[ClassDefault]
	}
	if ceiling <= 0 {
		ceiling = 1
	}

	key := user + "|" + string(class)
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	w := r.windows[key]
	if w == nil {
		if len(r.windows) >= maxTrackedKeys {
			r.evictOne()
		}
		w = &slidingWindow{}
		r.windows[key] = w
	}
	w.advance(now)

	if len(w.calls) >= ceiling {
		cooldown := Window - now.Sub(w.calls[0])
		if cooldown < 0 {
			cooldown = 0
		}
		metrics.RateLimitViolations.WithLabelValues(string(class)).Inc()
		r.log.Warn().
			Str("user", user).
			Str("class", string(class)).
			Dur("cooldown", cooldown).
			Msg("rate limit exceeded")
		return &RateLimitError{Class: class, Cooldown: cooldown}
	}

	w.calls = append(w.calls, now)
	return nil
}

// Remaining returns how many calls (user, class) may still make in the
// current window.
func (r *RateLimiter) Remaining(user string, class Class) int {
	ceiling, ok := r.limits[class]
	if !ok {
		ceiling = r.limits[ClassDefault]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	w := r.windows[user+"|"+string(class)]
	if w == nil {
		return ceiling
	}
	w.advance(r.now())
	remaining := ceiling - len(w.calls)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Cleanup removes windows with no calls remaining in the interval. Returns
// the number removed. Run periodically from the owner's timer, independent
// of the transport read loop.
func (r *RateLimiter) Cleanup() int {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, w := range r.windows {
		w.advance(now)
		if len(w.calls) == 0 {
			delete(r.windows, key)
			removed++
		}
	}
	return removed
}

// evictOne removes the window whose most recent call is oldest, so capacity
// pressure cannot reset a live user's window. Must hold mu.
func (r *RateLimiter) evictOne() {
	var oldestKey string
	var oldest time.Time
	for key, w := range r.windows {
		if len(w.calls) == 0 {
			delete(r.windows, key)
			return
		}
		last := w.calls[len(w.calls)-1]
		if oldestKey == "" || last.Before(oldest) {
			oldestKey = key
			oldest = last
		}
	}
	if oldestKey != "" {
		delete(r.windows, oldestKey)
	}
}
