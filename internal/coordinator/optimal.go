package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"navieta.dev/internal/logging"
	"navieta.dev/internal/models"
)

const (
	// DefaultSearchStep is the spacing between candidate departures.
	DefaultSearchStep = 30 * time.Minute
	// MaxSearchCandidates bounds a single search.
	MaxSearchCandidates = 96
)

var ErrInvalidWindow = errors.New("coordinator: invalid departure window")

// DepartureCandidate is one probed departure time.
type DepartureCandidate struct {
	DepartureAt time.Time               `json:"departureAt"`
	Result      *models.DirectionResult `json:"result,omitempty"`
	Error       string                  `json:"error,omitempty"`
}

// OptimalDeparture is the outcome of a departure search. Partial is set
// when the scan stopped before the end of the window.
type OptimalDeparture struct {
	Route      string               `json:"route"`
	From       time.Time            `json:"from"`
	To         time.Time            `json:"to"`
	Step       time.Duration        `json:"step"`
	Best       *DepartureCandidate  `json:"best"`
	Candidates []DepartureCandidate `json:"candidates"`
	Calls      int                  `json:"calls"`
	Partial    bool                 `json:"partial"`
}

// FindOptimalDeparture probes future departures from `from` to `to` every
// step and returns the one with the shortest travel time. Ties go to the
// earlier departure. Each probe is charged to the route's budget; the scan
// stops early when the budget runs out. The route's snapshot is not touched.
func (c *Coordinator) FindOptimalDeparture(ctx context.Context, from, to time.Time, step time.Duration) (*OptimalDeparture, error) {
	if step <= 0 {
		step = DefaultSearchStep
	}
	if to.Before(from) {
		return nil, fmt.Errorf("%w: end %s is before start %s", ErrInvalidWindow,
			to.Format(time.RFC3339), from.Format(time.RFC3339))
	}
	n := int(to.Sub(from)/step) + 1
	if n > MaxSearchCandidates {
		return nil, fmt.Errorf("%w: %d candidates exceeds limit of %d", ErrInvalidWindow, n, MaxSearchCandidates)
	}

	c.budget.Rollover(c.clock.Now())

	out := &OptimalDeparture{
		Route:      c.route.Name,
		From:       from,
		To:         to,
		Step:       step,
		Candidates: make([]DepartureCandidate, 0, n),
	}

	best := -1
	var lastErr error
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			out.Partial = true
			lastErr = err
			break
		}

		departure := from.Add(time.Duration(i) * step)
		res, err := c.fetch(ctx, LegSearch, &out.Calls, func(ctx context.Context) (*models.DirectionResult, error) {
			return c.client.FutureDirection(ctx, c.request, departure)
		})
		if errors.Is(err, ErrBudgetExhausted) {
			out.Partial = true
			lastErr = err
			break
		}

		candidate := DepartureCandidate{DepartureAt: departure}
		if err != nil {
			candidate.Error = err.Error()
			lastErr = err
		} else {
			candidate.Result = res
			if best < 0 || res.DurationSeconds < out.Candidates[best].Result.DurationSeconds {
				best = len(out.Candidates)
			}
		}
		out.Candidates = append(out.Candidates, candidate)
	}
	c.metrics.SetBudget(c.route.Name, c.budget.Used(), c.budget.Remaining())

	if best < 0 {
		if lastErr == nil {
			lastErr = errors.New("no candidates probed")
		}
		return out, fmt.Errorf("%w: departure search for %q: %w", ErrNoData, c.route.Name, lastErr)
	}
	out.Best = &out.Candidates[best]

	logging.LogOperation(c.logger, "optimal_departure_found",
		slog.Time("departure", out.Best.DepartureAt),
		slog.Int("duration_s", out.Best.Result.DurationSeconds),
		slog.Int("candidates", len(out.Candidates)),
		slog.Int("calls", out.Calls),
		slog.Bool("partial", out.Partial))
	return out, nil
}
