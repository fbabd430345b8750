package coordinator

import (
	"time"

	"navieta.dev/internal/models"
)

// StaleDetector decides whether a snapshot is too old to be shown as fresh.
type StaleDetector struct {
	threshold time.Duration
}

func NewStaleDetector(threshold time.Duration) *StaleDetector {
	return &StaleDetector{threshold: threshold}
}

func (d *StaleDetector) Threshold() time.Duration {
	return d.threshold
}

// Check reports whether snapshot is missing or older than the threshold.
func (d *StaleDetector) Check(snapshot *models.RouteSnapshot, now time.Time) bool {
	if snapshot == nil || snapshot.FetchedAt.IsZero() {
		return true
	}
	return snapshot.Age(now) > d.threshold
}

// Age returns the snapshot's age. A missing snapshot is reported as just
// past the threshold.
func (d *StaleDetector) Age(snapshot *models.RouteSnapshot, now time.Time) time.Duration {
	if snapshot == nil || snapshot.FetchedAt.IsZero() {
		return d.threshold + 1
	}
	return snapshot.Age(now)
}
