package models

import "time"

// RouteState is the part of a coordinator's state that survives restarts.
// BudgetDate is the local date CallsMade was counted against.
type RouteState struct {
	RouteName         string
	Snapshot          *RouteSnapshot
	LastFutureFetchAt time.Time
	BudgetDate        time.Time
	CallsMade         int
}

// DepartureSearch is the summary of an optimal departure search.
type DepartureSearch struct {
	RouteName           string    `json:"route"`
	WindowStart         time.Time `json:"windowStart"`
	WindowEnd           time.Time `json:"windowEnd"`
	BestDeparture       time.Time `json:"bestDeparture,omitzero"`
	BestDurationSeconds int       `json:"bestDurationSeconds,omitempty"`
	Calls               int       `json:"calls"`
	Partial             bool      `json:"partial"`
	SearchedAt          time.Time `json:"searchedAt"`
}
