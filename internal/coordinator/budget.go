package coordinator

import (
	"sync"
	"time"

	"navieta.dev/internal/clock"
)

// DefaultMaxDailyCalls is the provider quota a route may spend per local day.
const DefaultMaxDailyCalls = 5000

// CallBudget counts provider calls against a daily cap. The counter resets
// the first time it is rolled over on a new local date.
type CallBudget struct {
	mu        sync.Mutex
	limit     int
	used      int
	resetDate time.Time
}

// NewCallBudget returns a budget allowing limit calls per day.
// A non-positive limit falls back to DefaultMaxDailyCalls.
func NewCallBudget(limit int) *CallBudget {
	if limit <= 0 {
		limit = DefaultMaxDailyCalls
	}
	return &CallBudget{limit: limit}
}

// Rollover starts a new day when now falls on a later local date than the
// last reset. A clock stepping back leaves the date and counter alone. It
// reports whether the counter was reset.
func (b *CallBudget) Rollover(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	today := clock.LocalDate(now)
	if b.resetDate.IsZero() {
		b.resetDate = today
		return false
	}
	if !today.After(b.resetDate) {
		return false
	}
	b.used = 0
	b.resetDate = today
	return true
}

// TryConsume charges n calls if they fit in what is left of today's budget.
func (b *CallBudget) TryConsume(n int) bool {
	if n <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used+n > b.limit {
		return false
	}
	b.used += n
	return true
}

// Refund returns n previously consumed calls. The counter never goes below zero.
func (b *CallBudget) Refund(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.used -= n
	if b.used < 0 {
		b.used = 0
	}
}

// Restore seeds the counter from persisted state. It is ignored unless date
// is the same local day as now.
func (b *CallBudget) Restore(now, date time.Time, used int) {
	if date.IsZero() || !clock.SameDay(now, date) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetDate = clock.LocalDate(now)
	b.used = max(0, min(used, b.limit))
}

func (b *CallBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limit - b.used
}

func (b *CallBudget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

func (b *CallBudget) Limit() int {
	return b.limit
}

// ResetDate is the local date the current count belongs to.
func (b *CallBudget) ResetDate() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resetDate
}
