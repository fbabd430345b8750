// Package store persists per-route coordinator state and departure search
// history in SQLite so that a restarted process can serve the last known
// snapshot and keep counting against the same daily budget.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // CGo-based SQLite driver

	"navieta.dev/internal/appconf"
	"navieta.dev/internal/logging"
	"navieta.dev/internal/models"
)

//go:embed schema.sql
var ddl string

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Config selects the database file.
type Config struct {
	DBPath string
	Env    appconf.Environment
	Logger *slog.Logger
}

// Store is a SQLite-backed route state store. It is safe for concurrent use.
type Store struct {
	config Config
	DB     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the database and applies the schema.
func Open(ctx context.Context, config Config) (*Store, error) {
	if config.DBPath == "" {
		config.DBPath = MemoryPath
	}
	if config.Env == appconf.Test && config.DBPath != MemoryPath {
		return nil, fmt.Errorf("test database must use in-memory storage, got path: %s", config.DBPath)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "route_store"))

	db, err := sql.Open("sqlite3", config.DBPath)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", config.DBPath, err)
	}

	configureConnectionPool(db, config)

	if err := configureSQLite(ctx, db, config, logger); err != nil {
		logging.SafeCloseWithLogging(db, logger, "route_store_db")
		return nil, fmt.Errorf("store: configure sqlite: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		logging.SafeCloseWithLogging(db, logger, "route_store_db")
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	logging.LogOperation(logger, "route_store_opened", slog.String("path", config.DBPath))
	return &Store{config: config, DB: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) Path() string {
	return s.config.DBPath
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range strings.Split(ddl, "-- migrate") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("error executing DDL statement [%s]: %w", stmt, err)
		}
	}
	return nil
}

func configureSQLite(ctx context.Context, db *sql.DB, config Config, logger *slog.Logger) error {
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if config.DBPath != MemoryPath {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	logger.Debug("sqlite settings applied", slog.Int("pragma_count", len(pragmas)))
	return nil
}

// configureConnectionPool limits :memory: databases to a single connection,
// since every connection to :memory: opens a separate database.
func configureConnectionPool(db *sql.DB, config Config) {
	if config.DBPath == MemoryPath {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		return
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
}

// LoadRouteState returns the persisted state for route, or nil when none exists.
func (s *Store) LoadRouteState(ctx context.Context, route string) (*models.RouteState, error) {
	var (
		snapshot   sql.NullString
		lastFuture sql.NullString
		budgetDate sql.NullString
		callsMade  int
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT snapshot, last_future_fetch_at, budget_date, calls_made FROM route_state WHERE route_name = ?`,
		route,
	).Scan(&snapshot, &lastFuture, &budgetDate, &callsMade)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load %q: %w", route, err)
	}

	state := &models.RouteState{RouteName: route, CallsMade: callsMade}
	if snapshot.Valid && snapshot.String != "" {
		var snap models.RouteSnapshot
		if err := json.Unmarshal([]byte(snapshot.String), &snap); err != nil {
			return nil, fmt.Errorf("store: decode snapshot for %q: %w", route, err)
		}
		state.Snapshot = &snap
	}
	if state.LastFutureFetchAt, err = parseTime(lastFuture); err != nil {
		return nil, fmt.Errorf("store: last_future_fetch_at for %q: %w", route, err)
	}
	if state.BudgetDate, err = parseTime(budgetDate); err != nil {
		return nil, fmt.Errorf("store: budget_date for %q: %w", route, err)
	}
	return state, nil
}

// SaveRouteState inserts or replaces the state for state.RouteName.
func (s *Store) SaveRouteState(ctx context.Context, state models.RouteState) error {
	var snapshot sql.NullString
	if state.Snapshot != nil {
		b, err := json.Marshal(state.Snapshot)
		if err != nil {
			return fmt.Errorf("store: encode snapshot for %q: %w", state.RouteName, err)
		}
		snapshot = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO route_state (route_name, snapshot, last_future_fetch_at, budget_date, calls_made, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(route_name) DO UPDATE SET
			snapshot = excluded.snapshot,
			last_future_fetch_at = excluded.last_future_fetch_at,
			budget_date = excluded.budget_date,
			calls_made = excluded.calls_made,
			updated_at = excluded.updated_at`,
		state.RouteName,
		snapshot,
		formatTime(state.LastFutureFetchAt),
		formatTime(state.BudgetDate),
		state.CallsMade,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: save %q: %w", state.RouteName, err)
	}
	return nil
}

// DeleteRouteState removes a route's state and search history.
func (s *Store) DeleteRouteState(ctx context.Context, route string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: delete %q: %w", route, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM route_state WHERE route_name = ?`, route); err != nil {
		return fmt.Errorf("store: delete %q: %w", route, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM departure_search WHERE route_name = ?`, route); err != nil {
		return fmt.Errorf("store: delete searches for %q: %w", route, err)
	}
	return tx.Commit()
}

// RouteNames lists every route with persisted state.
func (s *Store) RouteNames(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT route_name FROM route_state ORDER BY route_name`)
	if err != nil {
		return nil, fmt.Errorf("store: list routes: %w", err)
	}
	defer logging.SafeCloseWithLogging(rows, s.logger, "route_state_rows")

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("store: list routes: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// RecordDepartureSearch appends a departure search to the route's history.
func (s *Store) RecordDepartureSearch(ctx context.Context, search models.DepartureSearch) error {
	var bestDuration sql.NullInt64
	if !search.BestDeparture.IsZero() {
		bestDuration = sql.NullInt64{Int64: int64(search.BestDurationSeconds), Valid: true}
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO departure_search
			(route_name, window_start, window_end, best_departure, best_duration_seconds, calls, partial, searched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		search.RouteName,
		formatTime(search.WindowStart),
		formatTime(search.WindowEnd),
		formatTime(search.BestDeparture),
		bestDuration,
		search.Calls,
		search.Partial,
		search.SearchedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: record departure search for %q: %w", search.RouteName, err)
	}
	return nil
}

// LatestDepartureSearch returns the route's most recent search, or nil.
func (s *Store) LatestDepartureSearch(ctx context.Context, route string) (*models.DepartureSearch, error) {
	var (
		windowStart, windowEnd sql.NullString
		bestDeparture          sql.NullString
		bestDuration           sql.NullInt64
		calls                  int
		partial                bool
		searchedAt             int64
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT window_start, window_end, best_departure, best_duration_seconds, calls, partial, searched_at
		FROM departure_search
		WHERE route_name = ?
		ORDER BY searched_at DESC, id DESC
		LIMIT 1`, route,
	).Scan(&windowStart, &windowEnd, &bestDeparture, &bestDuration, &calls, &partial, &searchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest departure search for %q: %w", route, err)
	}

	search := &models.DepartureSearch{
		RouteName:           route,
		BestDurationSeconds: int(bestDuration.Int64),
		Calls:               calls,
		Partial:             partial,
		SearchedAt:          time.UnixMilli(searchedAt),
	}
	for _, f := range []struct {
		dst *time.Time
		src sql.NullString
	}{
		{&search.WindowStart, windowStart},
		{&search.WindowEnd, windowEnd},
		{&search.BestDeparture, bestDeparture},
	} {
		if *f.dst, err = parseTime(f.src); err != nil {
			return nil, fmt.Errorf("store: decode departure search for %q: %w", route, err)
		}
	}
	return search, nil
}

// Times are stored as RFC 3339 with their offset so that a local budget
// date keeps its calendar day when read back.
func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}

func parseTime(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s.String)
}
