// Package metrics provides Prometheus metrics for navieta.
package metrics

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Registry is the Prometheus registry for this metrics instance
	Registry *prometheus.Registry

	// Provider and coordinator metrics
	ProviderCallsTotal *prometheus.CounterVec
	RefreshTotal       *prometheus.CounterVec
	RefreshDuration    *prometheus.HistogramVec
	CallsMadeToday     *prometheus.GaugeVec
	CallsRemaining     *prometheus.GaugeVec
	RouteETASeconds    *prometheus.GaugeVec
	SnapshotTimestamp  *prometheus.GaugeVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Database metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBWaitSecondsTotal prometheus.Counter

	logger *slog.Logger

	// collectorStarted prevents spawning multiple collector goroutines
	collectorStarted atomic.Bool
	cancel           context.CancelFunc
	wg               sync.WaitGroup
}

// New creates and registers all application metrics with a new registry.
func New() *Metrics {
	return NewWithLogger(nil)
}

// NewWithLogger creates metrics with a logger for error reporting.
func NewWithLogger(logger *slog.Logger) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		ProviderCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navieta_provider_calls_total",
			Help: "Navigation provider calls by route, leg and outcome",
		}, []string{"route", "leg", "outcome"}),
		RefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navieta_refresh_total",
			Help: "Coordinator refresh cycles by route and resulting status",
		}, []string{"route", "status"}),
		RefreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "navieta_refresh_duration_seconds",
			Help:    "Wall time of one refresh cycle",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		CallsMadeToday: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "navieta_calls_made_today",
			Help: "Provider calls charged to the route's daily budget",
		}, []string{"route"}),
		CallsRemaining: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "navieta_calls_remaining",
			Help: "Provider calls left in the route's daily budget",
		}, []string{"route"}),
		RouteETASeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "navieta_route_eta_seconds",
			Help: "Latest travel-time estimate by route and leg",
		}, []string{"route", "leg"}),
		SnapshotTimestamp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "navieta_snapshot_timestamp_seconds",
			Help: "Unix time of the route's last assembled snapshot",
		}, []string{"route"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navieta_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "navieta_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		DBConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "navieta_db_connections_open",
			Help: "Number of open database connections",
		}),
		DBConnectionsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "navieta_db_connections_in_use",
			Help: "Number of database connections currently in use",
		}),
		DBWaitSecondsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "navieta_db_wait_seconds_total",
			Help: "Total time blocked waiting for a database connection",
		}),
		logger: logger,
	}

	registry.MustRegister(
		m.ProviderCallsTotal,
		m.RefreshTotal,
		m.RefreshDuration,
		m.CallsMadeToday,
		m.CallsRemaining,
		m.RouteETASeconds,
		m.SnapshotTimestamp,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBWaitSecondsTotal,
	)

	return m
}

// ObserveProviderCall counts one provider call attempt.
func (m *Metrics) ObserveProviderCall(route, leg, outcome string) {
	if m == nil {
		return
	}
	m.ProviderCallsTotal.WithLabelValues(route, leg, outcome).Inc()
}

// ObserveRefresh records the outcome and duration of one refresh cycle.
func (m *Metrics) ObserveRefresh(route, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RefreshTotal.WithLabelValues(route, status).Inc()
	m.RefreshDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// SetBudget publishes the route's budget counters.
func (m *Metrics) SetBudget(route string, used, remaining int) {
	if m == nil {
		return
	}
	m.CallsMadeToday.WithLabelValues(route).Set(float64(used))
	m.CallsRemaining.WithLabelValues(route).Set(float64(remaining))
}

// SetETA publishes the latest estimate for one leg.
func (m *Metrics) SetETA(route, leg string, seconds int) {
	if m == nil {
		return
	}
	m.RouteETASeconds.WithLabelValues(route, leg).Set(float64(seconds))
}

// SetSnapshotTime publishes when the route's snapshot was assembled.
func (m *Metrics) SetSnapshotTime(route string, at time.Time) {
	if m == nil {
		return
	}
	m.SnapshotTimestamp.WithLabelValues(route).Set(float64(at.Unix()))
}

// ForgetRoute drops every series labelled with route.
func (m *Metrics) ForgetRoute(route string) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{"route": route}
	m.ProviderCallsTotal.DeletePartialMatch(labels)
	m.RefreshTotal.DeletePartialMatch(labels)
	m.RefreshDuration.DeletePartialMatch(labels)
	m.CallsMadeToday.DeletePartialMatch(labels)
	m.CallsRemaining.DeletePartialMatch(labels)
	m.RouteETASeconds.DeletePartialMatch(labels)
	m.SnapshotTimestamp.DeletePartialMatch(labels)
}

// StartDBStatsCollector periodically copies the snapshot store's connection
// pool statistics into the DB gauges. Calling it more than once is a no-op.
// Call Shutdown() to stop the collector.
func (m *Metrics) StartDBStatsCollector(db *sql.DB, interval time.Duration) {
	if m == nil || db == nil {
		return
	}

	if !m.collectorStarted.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	var lastWaitDuration time.Duration

	// Add to WaitGroup BEFORE exposing cancel to avoid race with Shutdown
	m.wg.Add(1)
	m.cancel = cancel

	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil && m.logger != nil {
				m.logger.Error("panic in DB stats collector", "error", r)
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				stats := db.Stats()
				m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
				m.DBConnectionsInUse.Set(float64(stats.InUse))

				waitDelta := stats.WaitDuration - lastWaitDuration
				if waitDelta > 0 {
					m.DBWaitSecondsTotal.Add(waitDelta.Seconds())
				}
				lastWaitDuration = stats.WaitDuration

			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the DB stats collector goroutine and waits for it to exit.
// This method is safe to call multiple times.
func (m *Metrics) Shutdown() {
	if m == nil {
		return
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
