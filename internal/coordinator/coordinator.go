// Package coordinator keeps one route's travel-time snapshot up to date.
//
// Each Coordinator polls the navigation provider on two cadences: the
// current leg on every refresh, the future leg only once its own interval
// has elapsed. Both legs are charged to a daily call budget. A failed
// refresh never discards the last good snapshot; it is served as stale until
// a later refresh succeeds.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"navieta.dev/internal/clock"
	"navieta.dev/internal/logging"
	"navieta.dev/internal/metrics"
	"navieta.dev/internal/models"
	"navieta.dev/internal/navi"
)

// FutureLookAhead is how far ahead of the refresh the future leg departs.
const FutureLookAhead = 30 * time.Minute

const (
	defaultRefreshTimeout = 30 * time.Second
	persistTimeout        = 5 * time.Second
)

var (
	// ErrBudgetExhausted means today's provider call budget is spent.
	ErrBudgetExhausted = errors.New("coordinator: daily call budget exhausted")
	// ErrNoData means there is no snapshot at all to serve.
	ErrNoData = errors.New("coordinator: no data")
)

// Leg names one kind of provider call.
type Leg string

const (
	LegCurrent Leg = "current"
	LegFuture  Leg = "future"
	LegSearch  Leg = "search"
)

// FetchError wraps a provider failure for one leg of a refresh.
type FetchError struct {
	Leg Leg
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("coordinator: %s leg: %v", e.Leg, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Status is the outcome of one refresh.
type Status int

const (
	// StatusFresh means a new snapshot was assembled.
	StatusFresh Status = iota
	// StatusStale means the refresh failed and the previous snapshot is served.
	StatusStale
	// StatusFailed means the refresh failed and there is nothing to serve.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusFresh:
		return "fresh"
	case StatusStale:
		return "stale"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is the coordinator's position in its lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateFresh
	StateStaleValid
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateFresh:
		return "fresh"
	case StateStaleValid:
		return "stale_valid"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RefreshResult reports one refresh cycle. Snapshot is the snapshot the
// consumer should show after the cycle and is nil only for StatusFailed.
// FutureErr records why the future leg was not refreshed when its gate was
// open; it never changes Status.
type RefreshResult struct {
	Status        Status
	Snapshot      *models.RouteSnapshot
	Err           error
	FutureErr     error
	FutureFetched bool
	Calls         int
	At            time.Time
}

// StateStore persists route state between restarts.
type StateStore interface {
	LoadRouteState(ctx context.Context, route string) (*models.RouteState, error)
	SaveRouteState(ctx context.Context, state models.RouteState) error
}

// Coordinator owns one route's polling schedule, budget and snapshot.
type Coordinator struct {
	route   models.RouteConfig
	request navi.DirectionRequest
	client  navi.Client
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
	store   StateStore
	budget  *CallBudget
	stale   *StaleDetector

	lookAhead      time.Duration
	refreshTimeout time.Duration
	staleSlack     time.Duration

	// refreshMu serializes refresh cycles.
	refreshMu sync.Mutex

	mu                sync.RWMutex
	snapshot          *models.RouteSnapshot
	lastFutureFetchAt time.Time
	lastResult        *RefreshResult
	state             State

	startOnce    sync.Once
	stopOnce     sync.Once
	stopped      atomic.Bool
	shutdownChan chan struct{}
	wg           sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

func WithLogger(logger *slog.Logger) Option {
	return func(co *Coordinator) { co.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(co *Coordinator) { co.metrics = m }
}

func WithStore(s StateStore) Option {
	return func(co *Coordinator) { co.store = s }
}

// WithBudget replaces the route's call budget.
func WithBudget(b *CallBudget) Option {
	return func(co *Coordinator) { co.budget = b }
}

// WithMaxDailyCalls sets the daily call cap.
func WithMaxDailyCalls(n int) Option {
	return func(co *Coordinator) { co.budget = NewCallBudget(n) }
}

// WithStaleSlack sets how long past the update interval a snapshot stays
// fresh. Defaults to one update interval.
func WithStaleSlack(d time.Duration) Option {
	return func(co *Coordinator) { co.staleSlack = d }
}

// WithRefreshTimeout bounds each scheduled refresh.
func WithRefreshTimeout(d time.Duration) Option {
	return func(co *Coordinator) { co.refreshTimeout = d }
}

// New creates a coordinator for route. It performs no I/O; call Warm to load
// persisted state and Refresh or Start to begin polling.
func New(route models.RouteConfig, client navi.Client, opts ...Option) *Coordinator {
	c := &Coordinator{
		route:          route,
		request:        navi.NewDirectionRequest(route),
		client:         client,
		clock:          clock.RealClock{},
		logger:         slog.Default(),
		lookAhead:      FutureLookAhead,
		refreshTimeout: defaultRefreshTimeout,
		staleSlack:     -1,
		shutdownChan:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.budget == nil {
		c.budget = NewCallBudget(DefaultMaxDailyCalls)
	}
	if c.staleSlack < 0 {
		c.staleSlack = route.UpdateInterval
	}
	c.stale = NewStaleDetector(route.UpdateInterval + c.staleSlack)
	c.logger = c.logger.With(slog.String("component", "coordinator"), slog.String("route", route.Name))
	return c
}

// Warm loads persisted state, if a store is configured. A warmed snapshot is
// served as stale until the first successful refresh.
func (c *Coordinator) Warm(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	st, err := c.store.LoadRouteState(ctx, c.route.Name)
	if err != nil {
		return fmt.Errorf("coordinator: warm %q: %w", c.route.Name, err)
	}
	if st == nil {
		return nil
	}

	now := c.clock.Now()
	c.budget.Restore(now, st.BudgetDate, st.CallsMade)

	c.mu.Lock()
	if c.snapshot == nil && st.Snapshot != nil {
		c.snapshot = st.Snapshot
		c.lastFutureFetchAt = st.LastFutureFetchAt
		c.state = StateStaleValid
	}
	c.mu.Unlock()

	logging.LogOperation(c.logger, "route_state_restored",
		slog.Bool("has_snapshot", st.Snapshot != nil),
		slog.Int("calls_made_today", c.budget.Used()))
	return nil
}

// Refresh runs one refresh cycle at now. Cycles for the same route never
// overlap; a second caller waits for the first to finish.
func (c *Coordinator) Refresh(ctx context.Context, now time.Time) RefreshResult {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	return c.refresh(ctx, now)
}

// RefreshNow runs a refresh at the coordinator clock's current time.
func (c *Coordinator) RefreshNow(ctx context.Context) RefreshResult {
	return c.Refresh(ctx, c.clock.Now())
}

func (c *Coordinator) refresh(ctx context.Context, now time.Time) RefreshResult {
	started := time.Now()

	if c.budget.Rollover(now) {
		logging.LogOperation(c.logger, "call_budget_reset",
			slog.String("date", c.budget.ResetDate().Format(time.DateOnly)))
	}

	c.mu.RLock()
	prev := c.snapshot
	lastFuture := c.lastFutureFetchAt
	c.mu.RUnlock()

	result := RefreshResult{At: now}

	current, err := c.fetch(ctx, LegCurrent, &result.Calls, func(ctx context.Context) (*models.DirectionResult, error) {
		return c.client.Direction(ctx, c.request)
	})
	if err != nil {
		result = degrade(result, prev, err)
		c.publish(ctx, result, lastFuture, started)
		return result
	}

	var future *models.DirectionResult
	if prev != nil {
		future = prev.Future
	}
	if c.futureDue(now, lastFuture) {
		departure := now.Add(c.lookAhead)
		fetched, err := c.fetch(ctx, LegFuture, &result.Calls, func(ctx context.Context) (*models.DirectionResult, error) {
			return c.client.FutureDirection(ctx, c.request, departure)
		})
		if err != nil {
			result.FutureErr = err
			logging.LogWarn(c.logger, "future leg not refreshed, carrying previous value", err,
				slog.Bool("has_previous", future != nil))
		} else {
			future = fetched
			lastFuture = now
			result.FutureFetched = true
		}
	}

	result.Status = StatusFresh
	result.Snapshot = &models.RouteSnapshot{
		Current:   *current,
		Future:    future,
		FetchedAt: now,
	}
	c.publish(ctx, result, lastFuture, started)
	return result
}

// degrade turns a failed cycle into a stale result when there is a snapshot
// to fall back on.
func degrade(result RefreshResult, prev *models.RouteSnapshot, err error) RefreshResult {
	if prev != nil {
		result.Status = StatusStale
		result.Snapshot = prev
		result.Err = err
		return result
	}
	result.Status = StatusFailed
	result.Err = fmt.Errorf("%w: %w", ErrNoData, err)
	return result
}

func (c *Coordinator) futureDue(now, lastFuture time.Time) bool {
	return lastFuture.IsZero() || now.Sub(lastFuture) >= c.route.FutureUpdateInterval
}

// fetch runs one provider call under the budget. A call is reserved before it
// is made and refunded when it never reached the provider.
func (c *Coordinator) fetch(ctx context.Context, leg Leg, calls *int, call func(context.Context) (*models.DirectionResult, error)) (*models.DirectionResult, error) {
	if !c.budget.TryConsume(1) {
		c.metrics.ObserveProviderCall(c.route.Name, string(leg), "skipped")
		return nil, ErrBudgetExhausted
	}

	res, err := call(ctx)
	if navi.CountsAgainstBudget(err) {
		*calls++
	} else {
		c.budget.Refund(1)
	}

	if err != nil {
		c.metrics.ObserveProviderCall(c.route.Name, string(leg), "error")
		return nil, &FetchError{Leg: leg, Err: err}
	}
	c.metrics.ObserveProviderCall(c.route.Name, string(leg), "ok")
	return res, nil
}

func (c *Coordinator) publish(ctx context.Context, result RefreshResult, lastFuture time.Time, started time.Time) {
	elapsed := time.Since(started)
	c.metrics.ObserveRefresh(c.route.Name, result.Status.String(), elapsed)
	c.metrics.SetBudget(c.route.Name, c.budget.Used(), c.budget.Remaining())

	if c.stopped.Load() {
		c.logger.Debug("discarding refresh result after stop", slog.String("status", result.Status.String()))
		return
	}

	c.mu.Lock()
	c.lastResult = &result
	switch result.Status {
	case StatusFresh:
		c.snapshot = result.Snapshot
		c.lastFutureFetchAt = lastFuture
		c.state = StateFresh
	case StatusStale:
		c.state = StateStaleValid
	case StatusFailed:
		c.state = StateFailed
	}
	snapshot := c.snapshot
	lastFuture = c.lastFutureFetchAt
	c.mu.Unlock()

	attrs := []slog.Attr{
		slog.String("status", result.Status.String()),
		slog.Int("calls", result.Calls),
		slog.Int("calls_made_today", c.budget.Used()),
		slog.Int64("duration_ms", elapsed.Milliseconds()),
	}
	switch result.Status {
	case StatusFresh:
		c.metrics.SetSnapshotTime(c.route.Name, snapshot.FetchedAt)
		c.metrics.SetETA(c.route.Name, string(LegCurrent), snapshot.Current.DurationSeconds)
		if snapshot.Future != nil {
			c.metrics.SetETA(c.route.Name, string(LegFuture), snapshot.Future.DurationSeconds)
		}
		logging.LogOperation(c.logger, "route_refreshed",
			append(attrs, slog.Bool("future_fetched", result.FutureFetched))...)
	case StatusStale:
		logging.LogWarn(c.logger, "route refresh failed, serving previous snapshot", result.Err, attrs...)
	case StatusFailed:
		logging.LogError(c.logger, "route refresh failed with no data", result.Err, attrs...)
	}

	c.persist(ctx, snapshot, lastFuture)
}

func (c *Coordinator) persist(ctx context.Context, snapshot *models.RouteSnapshot, lastFuture time.Time) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	err := c.store.SaveRouteState(ctx, models.RouteState{
		RouteName:         c.route.Name,
		Snapshot:          snapshot,
		LastFutureFetchAt: lastFuture,
		BudgetDate:        c.budget.ResetDate(),
		CallsMade:         c.budget.Used(),
	})
	if err != nil {
		logging.LogError(c.logger, "failed to persist route state", err)
	}
}

// Route returns the route configuration this coordinator owns.
func (c *Coordinator) Route() models.RouteConfig {
	return c.route
}

// Snapshot returns the last good snapshot, or nil. The returned value is
// shared and must not be modified.
func (c *Coordinator) Snapshot() *models.RouteSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsStale reports whether consumers should treat the snapshot as out of date:
// there is none, the latest refresh failed, or it is past the stale threshold.
func (c *Coordinator) IsStale(now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snapshot == nil || c.state != StateFresh {
		return true
	}
	return c.stale.Check(c.snapshot, now)
}

// SnapshotAge returns how old the current snapshot is at now.
func (c *Coordinator) SnapshotAge(now time.Time) time.Duration {
	return c.stale.Age(c.Snapshot(), now)
}

func (c *Coordinator) CallsMadeToday() int {
	return c.budget.Used()
}

func (c *Coordinator) CallsRemaining() int {
	return c.budget.Remaining()
}

func (c *Coordinator) Budget() *CallBudget {
	return c.budget
}

// LastFutureFetchAt is when the future leg last fetched successfully.
func (c *Coordinator) LastFutureFetchAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastFutureFetchAt
}

// LastResult returns the most recent refresh outcome, if any.
func (c *Coordinator) LastResult() (RefreshResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastResult == nil {
		return RefreshResult{}, false
	}
	return *c.lastResult, true
}
