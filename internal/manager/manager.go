// Package manager owns the set of route coordinators: it sets them up,
// retries the ones that failed to produce data, and hands out explicit
// per-route handles to the HTTP layer.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"navieta.dev/internal/clock"
	"navieta.dev/internal/coordinator"
	"navieta.dev/internal/logging"
	"navieta.dev/internal/metrics"
	"navieta.dev/internal/models"
	"navieta.dev/internal/navi"
	"navieta.dev/internal/sensor"
)

const (
	DefaultRetryInterval = time.Minute
	setupTimeout         = 30 * time.Second
)

// Store is the persistence the manager and its coordinators use.
type Store interface {
	coordinator.StateStore
	DeleteRouteState(ctx context.Context, route string) error
	RecordDepartureSearch(ctx context.Context, search models.DepartureSearch) error
	LatestDepartureSearch(ctx context.Context, route string) (*models.DepartureSearch, error)
}

// Config wires a Manager. Store may be nil.
type Config struct {
	Client         navi.Client
	Clock          clock.Clock
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	Store          Store
	MaxDailyCalls  int
	StaleSlack     time.Duration
	RefreshTimeout time.Duration
	RetryInterval  time.Duration
}

type entry struct {
	coord   *coordinator.Coordinator
	ready   bool
	lastErr error
	search  *models.DepartureSearch
}

// Manager tracks every configured route. A route is ready once its
// coordinator has a snapshot to serve; until then it is pending and retried
// in the background.
type Manager struct {
	config Config
	logger *slog.Logger

	mu     sync.RWMutex
	routes map[string]*entry

	retryOnce    sync.Once
	shutdownOnce sync.Once
	shutdownChan chan struct{}
	wg           sync.WaitGroup
}

func New(config Config) *Manager {
	if config.Clock == nil {
		config.Clock = clock.RealClock{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultRetryInterval
	}
	return &Manager{
		config:       config,
		logger:       config.Logger.With(slog.String("component", "route_manager")),
		routes:       make(map[string]*entry),
		shutdownChan: make(chan struct{}),
	}
}

func (m *Manager) coordinatorOptions() []coordinator.Option {
	opts := []coordinator.Option{
		coordinator.WithClock(m.config.Clock),
		coordinator.WithLogger(m.config.Logger),
		coordinator.WithMetrics(m.config.Metrics),
		coordinator.WithMaxDailyCalls(m.config.MaxDailyCalls),
	}
	if m.config.Store != nil {
		opts = append(opts, coordinator.WithStore(m.config.Store))
	}
	if m.config.StaleSlack > 0 {
		opts = append(opts, coordinator.WithStaleSlack(m.config.StaleSlack))
	}
	if m.config.RefreshTimeout > 0 {
		opts = append(opts, coordinator.WithRefreshTimeout(m.config.RefreshTimeout))
	}
	return opts
}

// Setup creates a coordinator per route and runs each one's first refresh
// concurrently. Routes that produce data start their timers; routes that
// do not stay pending and are reported in a *SetupError. A failing route
// never prevents the others from initializing.
func (m *Manager) Setup(ctx context.Context, routes []models.RouteConfig) error {
	var failures []*RouteError
	var toInit []*entry

	m.mu.Lock()
	seen := make(map[string]bool, len(routes))
	for _, route := range routes {
		if err := route.Validate(); err != nil {
			failures = append(failures, &RouteError{Route: route.Name, Err: err})
			continue
		}
		if _, exists := m.routes[route.Name]; exists || seen[route.Name] {
			failures = append(failures, &RouteError{Route: route.Name, Err: ErrDuplicateRoute})
			continue
		}
		seen[route.Name] = true

		e := &entry{coord: coordinator.New(route, m.config.Client, m.coordinatorOptions()...)}
		m.routes[route.Name] = e
		toInit = append(toInit, e)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	var failMu sync.Mutex
	for _, e := range toInit {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			if err := m.initialize(ctx, e); err != nil {
				failMu.Lock()
				failures = append(failures, &RouteError{Route: e.coord.Route().Name, Err: err})
				failMu.Unlock()
			}
		}(e)
	}
	wg.Wait()

	m.startRetryLoop()

	logging.LogOperation(m.logger, "routes_setup_completed",
		slog.Int("requested", len(routes)),
		slog.Int("ready", len(m.ReadyRoutes())),
		slog.Int("failed", len(failures)))

	if len(failures) == 0 {
		return nil
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].Route < failures[j].Route })
	return &SetupError{Failures: failures}
}

// initialize warms and refreshes a pending route, starting its timer when
// it produced data.
func (m *Manager) initialize(ctx context.Context, e *entry) error {
	ctx, cancel := context.WithTimeout(ctx, setupTimeout)
	defer cancel()

	name := e.coord.Route().Name
	if err := e.coord.Warm(ctx); err != nil {
		logging.LogWarn(m.logger, "could not restore route state", err, slog.String("route", name))
	}

	result := e.coord.RefreshNow(ctx)
	return m.settle(name, e, result)
}

// settle records a refresh outcome for a pending entry.
func (m *Manager) settle(name string, e *entry, result coordinator.RefreshResult) error {
	m.mu.Lock()
	if m.routes[name] != e {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRouteNotFound, name)
	}
	if result.Status == coordinator.StatusFailed {
		e.lastErr = result.Err
		m.mu.Unlock()
		return result.Err
	}
	wasReady := e.ready
	e.ready = true
	e.lastErr = nil
	m.mu.Unlock()

	if !wasReady {
		e.coord.Start()
		logging.LogOperation(m.logger, "route_ready",
			slog.String("route", name),
			slog.String("status", result.Status.String()))
	}
	return nil
}

// RetryPending re-runs the first refresh for every pending route and
// returns the names that became ready.
func (m *Manager) RetryPending(ctx context.Context) []string {
	m.mu.RLock()
	pending := make(map[string]*entry)
	for name, e := range m.routes {
		if !e.ready {
			pending[name] = e
		}
	}
	m.mu.RUnlock()

	var recovered []string
	for name, e := range pending {
		if ctx.Err() != nil {
			break
		}
		if err := m.settle(name, e, e.coord.RefreshNow(ctx)); err != nil {
			logging.LogWarn(m.logger, "pending route still has no data", err, slog.String("route", name))
			continue
		}
		recovered = append(recovered, name)
	}
	sort.Strings(recovered)
	return recovered
}

func (m *Manager) startRetryLoop() {
	m.retryOnce.Do(func() {
		m.wg.Add(1)
		go m.retryPendingPeriodically()
	})
}

func (m *Manager) retryPendingPeriodically() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if len(m.Pending()) == 0 {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
			ctx = logging.WithLogger(ctx, m.logger)
			if recovered := m.RetryPending(ctx); len(recovered) > 0 {
				logging.LogOperation(m.logger, "pending_routes_recovered", slog.Any("routes", recovered))
			}
			cancel()
		case <-m.shutdownChan:
			return
		}
	}
}

// Get returns the coordinator for name, whether or not it is ready.
func (m *Manager) Get(name string) (*coordinator.Coordinator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.routes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRouteNotFound, name)
	}
	return e.coord, nil
}

// IsReady reports whether name has produced data.
func (m *Manager) IsReady(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.routes[name]
	return ok && e.ready
}

// LastSetupError returns the most recent first-refresh failure of a pending route.
func (m *Manager) LastSetupError(name string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.routes[name]; ok {
		return e.lastErr
	}
	return nil
}

// All returns every coordinator ordered by route name.
func (m *Manager) All() []*coordinator.Coordinator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*coordinator.Coordinator, 0, len(m.routes))
	for _, name := range m.sortedNamesLocked() {
		out = append(out, m.routes[name].coord)
	}
	return out
}

// Names returns every route name in order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedNamesLocked()
}

// ReadyRoutes returns the names of routes that have data.
func (m *Manager) ReadyRoutes() []string {
	return m.filter(true)
}

// Pending returns the names of routes still waiting for their first data.
func (m *Manager) Pending() []string {
	return m.filter(false)
}

func (m *Manager) filter(ready bool) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, name := range m.sortedNamesLocked() {
		if m.routes[name].ready == ready {
			out = append(out, name)
		}
	}
	return out
}

func (m *Manager) sortedNamesLocked() []string {
	names := make([]string, 0, len(m.routes))
	for name := range m.routes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reading projects one route's snapshot at the current time.
func (m *Manager) Reading(name string) (sensor.Reading, error) {
	c, err := m.Get(name)
	if err != nil {
		return sensor.Reading{}, err
	}
	now := m.config.Clock.Now()
	return sensor.Project(c.Route(), c.Snapshot(), c.IsStale(now), now), nil
}

// Readings projects every route.
func (m *Manager) Readings() []sensor.Reading {
	now := m.config.Clock.Now()
	coords := m.All()
	out := make([]sensor.Reading, 0, len(coords))
	for _, c := range coords {
		out = append(out, sensor.Project(c.Route(), c.Snapshot(), c.IsStale(now), now))
	}
	return out
}

// RefreshNow runs an operator-triggered refresh. A pending route that
// produces data becomes ready.
func (m *Manager) RefreshNow(ctx context.Context, name string) (coordinator.RefreshResult, error) {
	m.mu.RLock()
	e, ok := m.routes[name]
	m.mu.RUnlock()
	if !ok {
		return coordinator.RefreshResult{}, fmt.Errorf("%w: %s", ErrRouteNotFound, name)
	}

	result := e.coord.RefreshNow(ctx)
	_ = m.settle(name, e, result)
	return result, nil
}

// FindOptimalDeparture runs a departure search for name and records its
// summary as the route's latest search.
func (m *Manager) FindOptimalDeparture(ctx context.Context, name string, from, to time.Time, step time.Duration) (*coordinator.OptimalDeparture, error) {
	m.mu.RLock()
	e, ok := m.routes[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRouteNotFound, name)
	}

	result, err := e.coord.FindOptimalDeparture(ctx, from, to, step)
	if result == nil {
		return nil, err
	}

	search := models.DepartureSearch{
		RouteName:   name,
		WindowStart: result.From,
		WindowEnd:   result.To,
		Calls:       result.Calls,
		Partial:     result.Partial,
		SearchedAt:  m.config.Clock.Now(),
	}
	if result.Best != nil {
		search.BestDeparture = result.Best.DepartureAt
		search.BestDurationSeconds = result.Best.Result.DurationSeconds
	}

	m.mu.Lock()
	if m.routes[name] == e {
		e.search = &search
	}
	m.mu.Unlock()

	if m.config.Store != nil {
		if serr := m.config.Store.RecordDepartureSearch(context.WithoutCancel(ctx), search); serr != nil {
			logging.LogError(m.logger, "failed to record departure search", serr, slog.String("route", name))
		}
	}
	return result, err
}

// LatestDepartureSearch returns the route's most recent search summary,
// falling back to the store after a restart.
func (m *Manager) LatestDepartureSearch(ctx context.Context, name string) (*models.DepartureSearch, error) {
	m.mu.RLock()
	e, ok := m.routes[name]
	var search *models.DepartureSearch
	if ok {
		search = e.search
	}
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRouteNotFound, name)
	}
	if search != nil || m.config.Store == nil {
		return search, nil
	}
	return m.config.Store.LatestDepartureSearch(ctx, name)
}

// Reload replaces a route's configuration: the old coordinator is stopped
// and a new one is set up. Persisted state is dropped when the route's
// endpoints changed. Adding a route that does not exist yet is allowed.
func (m *Manager) Reload(ctx context.Context, route models.RouteConfig) error {
	if err := route.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	old, existed := m.routes[route.Name]
	delete(m.routes, route.Name)
	m.mu.Unlock()

	if existed {
		old.coord.Stop()
		if !sameEndpoints(old.coord.Route(), route) {
			m.forget(ctx, route.Name)
		}
	}

	e := &entry{coord: coordinator.New(route, m.config.Client, m.coordinatorOptions()...)}
	m.mu.Lock()
	if _, raced := m.routes[route.Name]; raced {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateRoute, route.Name)
	}
	m.routes[route.Name] = e
	m.mu.Unlock()

	logging.LogOperation(m.logger, "route_reloaded", slog.String("route", route.Name), slog.Bool("replaced", existed))

	if err := m.initialize(ctx, e); err != nil {
		return &SetupError{Failures: []*RouteError{{Route: route.Name, Err: err}}}
	}
	return nil
}

func sameEndpoints(a, b models.RouteConfig) bool {
	return a.Start == b.Start && a.End == b.End && a.Waypoint == b.Waypoint && a.Priority == b.Priority
}

// Remove stops a route and discards its state.
func (m *Manager) Remove(ctx context.Context, name string) error {
	m.mu.Lock()
	e, ok := m.routes[name]
	delete(m.routes, name)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRouteNotFound, name)
	}

	e.coord.Stop()
	m.forget(ctx, name)
	logging.LogOperation(m.logger, "route_removed", slog.String("route", name))
	return nil
}

func (m *Manager) forget(ctx context.Context, name string) {
	m.config.Metrics.ForgetRoute(name)
	if m.config.Store == nil {
		return
	}
	if err := m.config.Store.DeleteRouteState(ctx, name); err != nil {
		logging.LogError(m.logger, "failed to delete route state", err, slog.String("route", name))
	}
}

// Shutdown stops the retry loop and every coordinator. It is safe to call
// more than once.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() {
		close(m.shutdownChan)
	})
	m.wg.Wait()

	for _, c := range m.All() {
		c.Stop()
	}
	logging.LogOperation(m.logger, "route_manager_stopped")
}
