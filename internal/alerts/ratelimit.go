package alerts

import (
	"sync"
	"time"

	"github.com/banshee-data/sentry.report/internal/timeutil"
)

// Fingerprint keys rate limiting: repeats of the same alert type at the
// same location collapse into one notification per window.
func Fingerprint(alertType, location string) string {
	return alertType + "_" + location
}

// RateLimiter suppresses repeated alerts per fingerprint. The check and
// the timestamp update are one atomic step, so concurrent dispatchers
// cannot both pass for the same fingerprint.
type RateLimiter struct {
	mu         sync.Mutex
	clock      timeutil.Clock
	windows    map[Priority]time.Duration
	last       map[string]time.Time
	suppressed uint64
}

// NewRateLimiter creates a limiter with the standard windows: high every
// 60s, medium every 5min, low every 30min.
func NewRateLimiter(clock timeutil.Clock) *RateLimiter {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &RateLimiter{
		clock: clock,
		windows: map[Priority]time.Duration{
			PriorityHigh:   60 * time.Second,
			PriorityMedium: 300 * time.Second,
			PriorityLow:    1800 * time.Second,
		},
		last: make(map[string]time.Time),
	}
}

// SetWindow overrides the window for one priority.
func (r *RateLimiter) SetWindow(p Priority, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows[p] = d
}

// Allow reports whether an alert with this fingerprint may be dispatched
// now, recording the dispatch time when it may.
func (r *RateLimiter) Allow(fingerprint string, p Priority) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	window := r.windows[p]
	if last, ok := r.last[fingerprint]; ok && now.Sub(last) < window {
		r.suppressed++
		return false
	}
	r.last[fingerprint] = now
	return true
}

// Suppressed returns the number of alerts suppressed so far.
func (r *RateLimiter) Suppressed() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.suppressed
}
