package restapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"navieta.dev/internal/app"
	"navieta.dev/internal/appconf"
	"navieta.dev/internal/clock"
	"navieta.dev/internal/manager"
	"navieta.dev/internal/metrics"
	"navieta.dev/internal/models"
	"navieta.dev/internal/navi"
	"navieta.dev/internal/store"
)

var kst = time.FixedZone("KST", 9*60*60)

// stubNavi answers 20 minutes now and 25 minutes plus ten seconds per
// minute-of-hour for future departures. Starts listed in down fail.
type stubNavi struct {
	mu   sync.Mutex
	down map[string]error
}

func (s *stubNavi) failing(start string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.down[start]
}

func (s *stubNavi) setDown(start string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down == nil {
		s.down = make(map[string]error)
	}
	s.down[start] = err
}

func (s *stubNavi) Direction(_ context.Context, req navi.DirectionRequest) (*models.DirectionResult, error) {
	if err := s.failing(req.Start); err != nil {
		return nil, err
	}
	return &models.DirectionResult{DurationSeconds: 1200, DistanceMeters: 15320, Priority: req.Priority}, nil
}

func (s *stubNavi) FutureDirection(_ context.Context, req navi.DirectionRequest, departure time.Time) (*models.DirectionResult, error) {
	if err := s.failing(req.Start); err != nil {
		return nil, err
	}
	return &models.DirectionResult{
		DurationSeconds: 1500 + departure.Minute()*10,
		DistanceMeters:  15500,
		Priority:        req.Priority,
		DepartureAt:     departure,
	}, nil
}

func (s *stubNavi) ValidateKey(context.Context) error { return nil }

type testEnv struct {
	api    *RestAPI
	server *httptest.Server
	navi   *stubNavi
	clock  *clock.MockClock
}

type envOption func(*app.Application)

func withAPIKeys(keys ...string) envOption {
	return func(a *app.Application) { a.Config.ApiKeys = keys }
}

func withRateLimit(n int) envOption {
	return func(a *app.Application) { a.Config.RateLimit = n }
}

func testRoute(name, start string) models.RouteConfig {
	return models.RouteConfig{Name: name, Start: start, End: "Gangnam Station", Priority: models.PriorityTime}.
		WithDefaults(models.DefaultUpdateInterval, models.DefaultFutureUpdateInterval)
}

// newTestEnv serves the API over routes, each set up before the server
// starts. A route whose start is listed in down stays pending.
func newTestEnv(t *testing.T, routes []models.RouteConfig, down []string, opts ...envOption) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mockClock := clock.NewMockClock(time.Date(2024, 6, 15, 8, 0, 0, 0, kst))
	stub := &stubNavi{}
	for _, start := range down {
		stub.setDown(start, &navi.AddressResolutionError{Address: start})
	}

	s, err := store.Open(context.Background(), store.Config{DBPath: store.MemoryPath, Env: appconf.Test, Logger: logger})
	require.NoError(t, err)

	m := metrics.NewWithLogger(logger)
	mgr := manager.New(manager.Config{
		Client:        stub,
		Clock:         mockClock,
		Logger:        logger,
		Metrics:       m,
		Store:         s,
		MaxDailyCalls: 50,
		RetryInterval: time.Hour,
	})
	_ = mgr.Setup(context.Background(), routes)

	application := &app.Application{
		Config: appconf.Config{
			Env:       appconf.Test,
			ApiKeys:   []string{"TEST"},
			RateLimit: 100,
			Location:  kst,
		},
		NaviConfig: appconf.NaviConfig{MaxDailyCalls: 50},
		Logger:     logger,
		Clock:      mockClock,
		Metrics:    m,
		Navi:       stub,
		Store:      s,
		Routes:     mgr,
	}
	for _, opt := range opts {
		opt(application)
	}

	api := NewRestAPI(application)
	mux := http.NewServeMux()
	api.SetRoutes(mux)
	server := httptest.NewServer(RequestIDMiddleware(NewRequestLoggingMiddleware(logger)(mux)))

	t.Cleanup(func() {
		server.Close()
		api.Shutdown()
		mgr.Shutdown()
		m.Shutdown()
		_ = s.Close()
	})
	return &testEnv{api: api, server: server, navi: stub, clock: mockClock}
}

func (e *testEnv) do(t *testing.T, method, path string) (*http.Response, models.ResponseModel) {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var model models.ResponseModel
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(body) > 0 {
		require.NoError(t, json.Unmarshal(body, &model), "body: %s", body)
	}
	return resp, model
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, models.ResponseModel) {
	return e.do(t, http.MethodGet, path)
}

// dataMap returns the envelope's data as a JSON object.
func dataMap(t *testing.T, model models.ResponseModel) map[string]any {
	t.Helper()
	data, ok := model.Data.(map[string]any)
	require.True(t, ok, "data is %T", model.Data)
	return data
}
