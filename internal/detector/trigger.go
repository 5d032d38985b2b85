package detector

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Trigger defaults.
const (
	DefaultCooldown  = 5 * time.Minute
	DefaultMinEvents = 3
)

// Trigger gates detection passes behind a cooldown window and a minimum
// amount of new activity. It is the single owner of the throttle state; no
// other component tracks last-detection time or pending counts.
//
// Trigger is safe for concurrent use by multiple goroutines.
type Trigger struct {
	mu        sync.Mutex
	limiter   *rate.Limiter
	minEvents int
	pending   int
}

// NewTrigger creates a trigger that fires at most once per cooldown and only
// once minEvents activity records have accumulated. Non-positive arguments
// take the defaults.
func NewTrigger(cooldown time.Duration, minEvents int) *Trigger {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if minEvents <= 0 {
		minEvents = DefaultMinEvents
	}
	return &Trigger{
		limiter:   rate.NewLimiter(rate.Every(cooldown), 1),
		minEvents: minEvents,
	}
}

// Record notes n new activity records and reports whether a detection pass
// should run now. When it returns true the pending count is reset; the caller
// is expected to actually run the pass.
func (t *Trigger) Record(n int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pending += n
	if t.pending < t.minEvents {
		return false
	}
	if !t.limiter.Allow() {
		return false
	}
	t.pending = 0
	return true
}

// Pending returns the number of activity records accumulated since the last
// fired detection pass.
func (t *Trigger) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}
