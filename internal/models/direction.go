package models

import "time"

// Fare is the provider's fare estimate in currency units.
type Fare struct {
	Taxi int `json:"taxi"`
	Toll int `json:"toll"`
}

// DirectionResult is the summary of the first route the provider returned.
type DirectionResult struct {
	DurationSeconds int       `json:"durationSeconds"`
	DistanceMeters  int       `json:"distanceMeters"`
	Fare            Fare      `json:"fare"`
	Priority        Priority  `json:"priority,omitempty"`
	Polyline        string    `json:"polyline,omitempty"`
	DepartureAt     time.Time `json:"departureAt,omitzero"`
}

// Duration returns the travel time as a time.Duration.
func (d DirectionResult) Duration() time.Duration {
	return time.Duration(d.DurationSeconds) * time.Second
}

// RouteSnapshot is the last assembled (current, future) pair. Snapshots are
// replaced wholesale; Future is nil only when no future leg has ever been
// fetched successfully.
type RouteSnapshot struct {
	Current   DirectionResult  `json:"current"`
	Future    *DirectionResult `json:"future"`
	FetchedAt time.Time        `json:"fetchedAt"`
}

// Age returns how long ago the snapshot was assembled.
func (s *RouteSnapshot) Age(now time.Time) time.Duration {
	if s == nil {
		return 0
	}
	return now.Sub(s.FetchedAt)
}
