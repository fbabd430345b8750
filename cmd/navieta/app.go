package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"navieta.dev/internal/app"
	"navieta.dev/internal/appconf"
	"navieta.dev/internal/clock"
	"navieta.dev/internal/logging"
	"navieta.dev/internal/manager"
	"navieta.dev/internal/metrics"
	"navieta.dev/internal/models"
	"navieta.dev/internal/navi"
	"navieta.dev/internal/restapi"
	"navieta.dev/internal/store"
	"navieta.dev/internal/webui"
)

const (
	dbStatsInterval  = 15 * time.Second
	keyCheckTimeout  = 15 * time.Second
	setupTimeout     = 2 * time.Minute
	shutdownTimeout  = 30 * time.Second
	serverReadLimit  = 5 * time.Second
	serverWriteLimit = 10 * time.Second
)

// ParseAPIKeys splits a comma-separated key list and trims each key.
func ParseAPIKeys(apiKeysFlag string) []string {
	if apiKeysFlag == "" {
		return []string{}
	}
	keys := strings.Split(apiKeysFlag, ",")
	for i, key := range keys {
		keys[i] = strings.TrimSpace(key)
	}
	return keys
}

// BuildApplication wires the logger, metrics, state store, provider client
// and route manager. Routes that fail their first refresh are logged and
// left pending; only infrastructure failures are returned.
func BuildApplication(cfg appconf.Config, naviCfg appconf.NaviConfig, routes []models.RouteConfig) (*app.Application, error) {
	logger := logging.NewLogger(os.Stdout, cfg.Env == appconf.Production, cfg.Verbose)
	slog.SetDefault(logger)

	m := metrics.NewWithLogger(logger)

	s, err := store.Open(context.Background(), store.Config{
		DBPath: naviCfg.DataPath,
		Env:    cfg.Env,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open route store: %w", err)
	}
	m.StartDBStatsCollector(s.DB, dbStatsInterval)

	qps := 0
	if naviCfg.RequestsPerSecond > 0 {
		qps = max(1, int(naviCfg.RequestsPerSecond))
	}
	client := navi.NewKakaoClient(navi.KakaoConfig{
		APIKey:            naviCfg.KakaoAPIKey,
		NaviBaseURL:       naviCfg.NaviBaseURL,
		LocalSearchURL:    naviCfg.LocalSearchURL,
		Location:          cfg.Location,
		RequestsPerSecond: qps,
		Logger:            logger,
	})

	if cfg.Env != appconf.Test {
		ctx, cancel := context.WithTimeout(context.Background(), keyCheckTimeout)
		err := client.ValidateKey(ctx)
		cancel()
		var netErr *navi.NetworkError
		switch {
		case err == nil:
		case errors.As(err, &netErr) && (netErr.StatusCode == http.StatusUnauthorized || netErr.StatusCode == http.StatusForbidden):
			m.Shutdown()
			logging.SafeCloseWithLogging(s, logger, "route_store")
			return nil, fmt.Errorf("failed to validate provider key: %w", err)
		default:
			// Routes stay pending and retry until the provider answers.
			logging.LogWarn(logger, "provider key check failed, continuing", err)
		}
	}

	routeManager := manager.New(manager.Config{
		Client:        client,
		Clock:         clock.RealClock{},
		Logger:        logger,
		Metrics:       m,
		Store:         s,
		MaxDailyCalls: naviCfg.MaxDailyCalls,
	})

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()
	if err := routeManager.Setup(ctx, routes); err != nil {
		var setupErr *manager.SetupError
		if !errors.As(err, &setupErr) {
			routeManager.Shutdown()
			m.Shutdown()
			logging.SafeCloseWithLogging(s, logger, "route_store")
			return nil, fmt.Errorf("failed to set up routes: %w", err)
		}
		logging.LogWarn(logger, "some routes are pending", err,
			slog.Any("routes", setupErr.Routes()))
	}
	pruneOrphanedState(ctx, s, routes, logger)

	return &app.Application{
		Config:     cfg,
		NaviConfig: naviCfg,
		Logger:     logger,
		Clock:      clock.RealClock{},
		Metrics:    m,
		Navi:       client,
		Store:      s,
		Routes:     routeManager,
	}, nil
}

// pruneOrphanedState drops persisted state of routes that are no longer
// configured.
func pruneOrphanedState(ctx context.Context, s *store.Store, routes []models.RouteConfig, logger *slog.Logger) {
	stored, err := s.RouteNames(ctx)
	if err != nil {
		logging.LogWarn(logger, "failed to list persisted routes", err)
		return
	}
	configured := make(map[string]bool, len(routes))
	for _, r := range routes {
		configured[r.Name] = true
	}
	for _, name := range stored {
		if configured[name] {
			continue
		}
		if err := s.DeleteRouteState(ctx, name); err != nil {
			logging.LogWarn(logger, "failed to prune route state", err, slog.String("route", name))
			continue
		}
		logging.LogOperation(logger, "route_state_pruned", slog.String("route", name))
	}
}

// CreateServer builds the HTTP server and the API behind it. The caller
// owns the returned API and must Shutdown it.
func CreateServer(coreApp *app.Application, cfg appconf.Config) (*http.Server, *restapi.RestAPI) {
	mux := http.NewServeMux()

	api := restapi.NewRestAPI(coreApp)
	api.SetRoutes(mux)

	webUI := &webui.WebUI{Application: coreApp}
	webUI.SetWebUIRoutes(mux)

	// Metrics wraps the mux directly so it sees the matched pattern.
	var handler http.Handler = restapi.MetricsHandler(coreApp.Metrics)(mux)
	handler = restapi.NewRequestLoggingMiddleware(coreApp.Logger)(handler)
	handler = restapi.RequestIDMiddleware(handler)
	handler = gzhttp.GzipHandler(handler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		IdleTimeout:  time.Minute,
		ReadTimeout:  serverReadLimit,
		WriteTimeout: serverWriteLimit,
		ErrorLog:     slog.NewLogLogger(coreApp.Logger.Handler(), slog.LevelError),
	}
	return srv, api
}

// Run serves until ctx is done, the server fails, or SIGINT/SIGTERM
// arrives. SIGHUP re-reads configPath and reconciles the route set.
func Run(ctx context.Context, srv *http.Server, coreApp *app.Application, api *restapi.RestAPI, configPath string) error {
	logger := coreApp.Logger

	serverErr := make(chan error, 1)
	go func() {
		logging.LogOperation(logger, "server_starting",
			slog.String("addr", srv.Addr),
			slog.String("env", coreApp.Config.Env.String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signals)

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err, ok := <-serverErr:
			if ok {
				runErr = fmt.Errorf("server failed: %w", err)
			}
			break loop
		case sig := <-signals:
			if sig == syscall.SIGHUP {
				if configPath == "" {
					continue
				}
				if err := reloadRoutes(ctx, coreApp, configPath); err != nil {
					logging.LogError(logger, "route reload failed", err)
				}
				continue
			}
			logging.LogOperation(logger, "shutdown_signal_received", slog.String("signal", sig.String()))
			break loop
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.LogError(logger, "server shutdown failed", err)
		runErr = errors.Join(runErr, err)
	}

	api.Shutdown()
	shutdownApplication(coreApp)
	logging.LogOperation(logger, "server_stopped")
	return runErr
}

// reloadRoutes applies the route section of the config file: new and
// changed routes are reloaded, missing ones removed, identical ones left
// running.
func reloadRoutes(ctx context.Context, coreApp *app.Application, configPath string) error {
	jsonConfig, err := appconf.LoadFromFile(configPath)
	if err != nil {
		return err
	}
	routes, err := jsonConfig.ToRouteConfigs()
	if err != nil {
		return err
	}

	current := make(map[string]models.RouteConfig)
	for _, c := range coreApp.Routes.All() {
		current[c.Route().Name] = c.Route()
	}

	var errs []error
	var reloaded, removed int
	for _, route := range routes {
		if old, ok := current[route.Name]; ok && old == route {
			delete(current, route.Name)
			continue
		}
		delete(current, route.Name)
		reloaded++
		if err := coreApp.Routes.Reload(ctx, route); err != nil {
			var setupErr *manager.SetupError
			if errors.As(err, &setupErr) {
				logging.LogWarn(coreApp.Logger, "reloaded route is pending", err, slog.String("route", route.Name))
				continue
			}
			errs = append(errs, err)
		}
	}
	for name := range current {
		removed++
		if err := coreApp.Routes.Remove(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}

	logging.LogOperation(coreApp.Logger, "routes_reloaded",
		slog.Int("reloaded", reloaded),
		slog.Int("removed", removed),
		slog.Int("total", len(routes)))
	return errors.Join(errs...)
}

// shutdownApplication stops the route timers before closing the store they
// write to.
func shutdownApplication(coreApp *app.Application) {
	if coreApp.Routes != nil {
		coreApp.Routes.Shutdown()
	}
	coreApp.Metrics.Shutdown()
	if coreApp.Store != nil {
		logging.SafeCloseWithLogging(coreApp.Store, coreApp.Logger, "route_store")
	}
}
