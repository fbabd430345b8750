package restapi

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"navieta.dev/internal/coordinator"
)

const (
	defaultIntervalMinutes = 30
	maxIntervalMinutes     = 24 * 60

	// searchWriteTimeout replaces the server write timeout for a departure
	// search, which makes one provider call per candidate.
	searchWriteTimeout = 2 * time.Minute
)

type departureCandidateView struct {
	DepartureAt     time.Time `json:"departure_at"`
	DurationMinutes *float64  `json:"duration_min,omitempty"`
	DistanceKm      *float64  `json:"distance_km,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// optimalDepartureView mirrors the state a home automation host would
// publish as <route>_optimal_departure.
type optimalDepartureView struct {
	Route                  string                   `json:"route"`
	WindowStart            time.Time                `json:"window_start"`
	WindowEnd              time.Time                `json:"window_end"`
	IntervalMinutes        int                      `json:"interval_min"`
	OptimalDepartureTime   *time.Time               `json:"optimal_departure_time"`
	OptimalDurationMinutes *float64                 `json:"optimal_duration_min"`
	Calls                  int                      `json:"calls"`
	Partial                bool                     `json:"partial"`
	Candidates             []departureCandidateView `json:"candidates"`
	Error                  string                   `json:"error,omitempty"`
}

// optimalDepartureHandler runs a departure search over
// ?start=&end=[&interval=minutes]. Times are HH:MM on today's date in the
// service timezone, or RFC3339.
func (api *RestAPI) optimalDepartureHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	q := r.URL.Query()
	now := api.Clock.Now()
	if api.Config.Location != nil {
		now = now.In(api.Config.Location)
	}

	from, err := parseWindowTime(q.Get("start"), now)
	if err != nil {
		api.sendBadRequest(w, r, fmt.Errorf("start: %w", err))
		return
	}
	to, err := parseWindowTime(q.Get("end"), now)
	if err != nil {
		api.sendBadRequest(w, r, fmt.Errorf("end: %w", err))
		return
	}

	interval := defaultIntervalMinutes
	if raw := q.Get("interval"); raw != "" {
		interval, err = strconv.Atoi(raw)
		if err != nil || interval <= 0 || interval > maxIntervalMinutes {
			api.sendBadRequest(w, r, fmt.Errorf("interval: must be between 1 and %d minutes, got %q", maxIntervalMinutes, raw))
			return
		}
	}

	if err := http.NewResponseController(w).SetWriteDeadline(time.Now().Add(searchWriteTimeout)); err != nil {
		api.logger(r).Debug("write deadline not extended", slog.String("error", err.Error()))
	}

	result, err := api.Routes.FindOptimalDeparture(r.Context(), name, from, to, time.Duration(interval)*time.Minute)
	if result == nil {
		api.routeError(w, r, err)
		return
	}

	view := newOptimalDepartureView(result)
	if err != nil {
		// The scan ran but nothing succeeded; the candidates say why.
		if !errors.Is(err, coordinator.ErrNoData) {
			api.routeError(w, r, err)
			return
		}
		view.Error = err.Error()
	}
	api.sendOK(w, r, view)
}

func (api *RestAPI) latestDepartureSearchHandler(w http.ResponseWriter, r *http.Request) {
	search, err := api.Routes.LatestDepartureSearch(r.Context(), r.PathValue("name"))
	if err != nil {
		api.routeError(w, r, err)
		return
	}
	if search == nil {
		api.sendNotFound(w, r)
		return
	}
	api.sendOK(w, r, search)
}

func newOptimalDepartureView(result *coordinator.OptimalDeparture) optimalDepartureView {
	view := optimalDepartureView{
		Route:           result.Route,
		WindowStart:     result.From,
		WindowEnd:       result.To,
		IntervalMinutes: int(result.Step / time.Minute),
		Calls:           result.Calls,
		Partial:         result.Partial,
		Candidates:      make([]departureCandidateView, 0, len(result.Candidates)),
	}
	for _, c := range result.Candidates {
		cv := departureCandidateView{DepartureAt: c.DepartureAt, Error: c.Error}
		if c.Result != nil {
			cv.DurationMinutes = roundedMinutes(c.Result.DurationSeconds)
			km := math.Round(float64(c.Result.DistanceMeters)/10) / 100
			cv.DistanceKm = &km
		}
		view.Candidates = append(view.Candidates, cv)
	}
	if result.Best != nil {
		at := result.Best.DepartureAt
		view.OptimalDepartureTime = &at
		view.OptimalDurationMinutes = roundedMinutes(result.Best.Result.DurationSeconds)
	}
	return view
}

func roundedMinutes(seconds int) *float64 {
	v := math.Round(float64(seconds)/60*100) / 100
	return &v
}

// parseWindowTime accepts RFC3339 or HH:MM, the latter on now's date and
// in now's location.
func parseWindowTime(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.New("required")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.In(now.Location()), nil
	}
	hm, err := time.Parse("15:04", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected HH:MM or RFC3339, got %q", raw)
	}
	y, m, d := now.Date()
	return time.Date(y, m, d, hm.Hour(), hm.Minute(), 0, 0, now.Location()), nil
}
