package app

import (
	"log/slog"

	"navieta.dev/internal/appconf"
	"navieta.dev/internal/clock"
	"navieta.dev/internal/manager"
	"navieta.dev/internal/metrics"
	"navieta.dev/internal/navi"
	"navieta.dev/internal/store"
)

// Application holds the dependencies shared by the HTTP handlers,
// middleware and background workers.
type Application struct {
	Config     appconf.Config
	NaviConfig appconf.NaviConfig
	Logger     *slog.Logger
	Clock      clock.Clock
	Metrics    *metrics.Metrics
	Navi       navi.Client
	Store      *store.Store
	Routes     *manager.Manager
}
