// Package sensor projects a route snapshot onto the flat values a home
// automation consumer displays.
package sensor

import (
	"math"
	"time"

	"navieta.dev/internal/models"
)

// UnitMinutes is the unit of a reading's state.
const UnitMinutes = "min"

// Attributes are the secondary values published alongside the state.
// Future fields are nil when no future leg has been fetched yet.
type Attributes struct {
	CurrentETAMinutes    *float64        `json:"current_eta_min"`
	FutureETAMinutes     *float64        `json:"future_eta_min"`
	ETADifferenceMinutes *float64        `json:"eta_difference_min"`
	DistanceKm           *float64        `json:"distance_km"`
	TaxiFare             *int            `json:"taxi_fare_krw"`
	TollFare             *int            `json:"toll_fare_krw"`
	Priority             models.Priority `json:"priority"`
	Polyline             string          `json:"polyline,omitempty"`
	FutureDepartureAt    time.Time       `json:"future_departure_at,omitzero"`
}

// Reading is what a consumer sees for one route. State is the current ETA
// in minutes and is nil when the route has never produced data.
type Reading struct {
	Route       string     `json:"route"`
	Available   bool       `json:"available"`
	State       *float64   `json:"state"`
	Unit        string     `json:"unit"`
	Attributes  Attributes `json:"attributes"`
	LastUpdated time.Time  `json:"last_updated,omitzero"`
	AgeSeconds  float64    `json:"age_seconds"`
	Stale       bool       `json:"stale"`
}

// Project builds the reading for route from snapshot.
func Project(route models.RouteConfig, snapshot *models.RouteSnapshot, stale bool, now time.Time) Reading {
	r := Reading{
		Route: route.Name,
		Unit:  UnitMinutes,
		Stale: stale,
		Attributes: Attributes{
			Priority: route.Priority,
		},
	}
	if snapshot == nil {
		r.Stale = true
		return r
	}

	current := snapshot.Current
	currentMin := minutes(current.DurationSeconds)

	r.Available = true
	r.State = &currentMin
	r.LastUpdated = snapshot.FetchedAt
	r.AgeSeconds = round2(snapshot.Age(now).Seconds())

	r.Attributes.CurrentETAMinutes = ptr(currentMin)
	r.Attributes.DistanceKm = ptr(round2(float64(current.DistanceMeters) / 1000))
	r.Attributes.TaxiFare = ptr(current.Fare.Taxi)
	r.Attributes.TollFare = ptr(current.Fare.Toll)
	r.Attributes.Polyline = current.Polyline
	if current.Priority != "" {
		r.Attributes.Priority = current.Priority
	}

	if future := snapshot.Future; future != nil {
		r.Attributes.FutureETAMinutes = ptr(minutes(future.DurationSeconds))
		r.Attributes.ETADifferenceMinutes = ptr(minutes(future.DurationSeconds - current.DurationSeconds))
		r.Attributes.FutureDepartureAt = future.DepartureAt
	}
	return r
}

func minutes(seconds int) float64 {
	return round2(float64(seconds) / 60)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func ptr[T any](v T) *T {
	return &v
}
