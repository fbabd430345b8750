package webui

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navieta.dev/internal/app"
	"navieta.dev/internal/appconf"
	"navieta.dev/internal/clock"
	"navieta.dev/internal/manager"
	"navieta.dev/internal/models"
	"navieta.dev/internal/navi"
)

type fixedNavi struct{}

func (fixedNavi) Direction(_ context.Context, req navi.DirectionRequest) (*models.DirectionResult, error) {
	if req.Start == "Nowhere" {
		return nil, errors.New("address not found")
	}
	return &models.DirectionResult{DurationSeconds: 900, DistanceMeters: 8000, Priority: req.Priority}, nil
}

func (fixedNavi) FutureDirection(_ context.Context, req navi.DirectionRequest, departure time.Time) (*models.DirectionResult, error) {
	if req.Start == "Nowhere" {
		return nil, errors.New("address not found")
	}
	return &models.DirectionResult{DurationSeconds: 1100, DistanceMeters: 8200, Priority: req.Priority, DepartureAt: departure}, nil
}

func (fixedNavi) ValidateKey(context.Context) error { return nil }

func newWebUI(t *testing.T, env appconf.Environment) *WebUI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := manager.New(manager.Config{
		Client:        fixedNavi{},
		Clock:         clock.NewMockClock(time.Date(2024, 6, 15, 8, 0, 0, 0, time.UTC)),
		Logger:        logger,
		MaxDailyCalls: 10,
		RetryInterval: time.Hour,
	})
	t.Cleanup(mgr.Shutdown)

	routes := []models.RouteConfig{
		models.RouteConfig{Name: "commute", Start: "Pangyo", End: "Gangnam Station"}.
			WithDefaults(models.DefaultUpdateInterval, models.DefaultFutureUpdateInterval),
		models.RouteConfig{Name: "lost", Start: "Nowhere", End: "Gangnam Station"}.
			WithDefaults(models.DefaultUpdateInterval, models.DefaultFutureUpdateInterval),
	}
	_ = mgr.Setup(context.Background(), routes)

	return &WebUI{Application: &app.Application{
		Config: appconf.Config{Env: env},
		Logger: logger,
		Routes: mgr,
	}}
}

func serveDebug(webUI *WebUI, query string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	webUI.SetWebUIRoutes(mux)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/routes"+query, nil))
	return rr
}

func TestDebugIndexHandler_ProductionReturns404(t *testing.T) {
	rr := serveDebug(newWebUI(t, appconf.Production), "?dataType=routes")
	assert.Equal(t, http.StatusNotFound, rr.Code, "Should return 404 in Production")
}

func TestDebugIndexHandler_NoManagerReturns404(t *testing.T) {
	webUI := &WebUI{Application: &app.Application{Config: appconf.Config{Env: appconf.Development}}}
	rr := serveDebug(webUI, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDebugIndexHandler_DataTypes(t *testing.T) {
	webUI := newWebUI(t, appconf.Development)

	tests := []struct {
		query    string
		title    string
		contains []string
	}{
		{"?dataType=routes", "Routes - Readings", []string{"commute", "lost"}},
		{"?dataType=budgets", "Routes - Call Budgets", []string{"CallsMadeToday: (int) 2", "CallsRemaining: (int) 8"}},
		{"?dataType=pending", "Routes - Pending", []string{"lost", "address not found"}},
		{"?dataType=searches", "Routes - Latest Departure Searches", []string{"commute"}},
		{"", "Choose a data type", []string{"routes, budgets, pending, searches"}},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			rr := serveDebug(webUI, tt.query)
			require.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, "text/html; charset=utf-8", rr.Header().Get("Content-Type"))

			body := rr.Body.String()
			assert.Contains(t, body, "<h1>"+tt.title+"</h1>")
			for _, s := range tt.contains {
				assert.Contains(t, body, s)
			}
		})
	}
}
