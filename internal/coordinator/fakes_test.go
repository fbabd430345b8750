package coordinator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"navieta.dev/internal/clock"
	"navieta.dev/internal/models"
	"navieta.dev/internal/navi"
)

var kst = time.FixedZone("KST", 9*60*60)

// fakeClient is a scripted navi.Client.
type fakeClient struct {
	mu sync.Mutex

	current    models.DirectionResult
	future     models.DirectionResult
	currentErr error
	futureErr  error
	futureFor  func(departure time.Time) (*models.DirectionResult, error)

	currentCalls int
	futureCalls  int
	departures   []time.Time

	// entered and release let a test hold Direction mid-call.
	entered chan struct{}
	release chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		current: models.DirectionResult{
			DurationSeconds: 1800,
			DistanceMeters:  15000,
			Fare:            models.Fare{Taxi: 18000, Toll: 1100},
			Priority:        models.PriorityRecommend,
		},
		future: models.DirectionResult{
			DurationSeconds: 2100,
			DistanceMeters:  15200,
			Fare:            models.Fare{Taxi: 19000, Toll: 1100},
			Priority:        models.PriorityRecommend,
		},
	}
}

func (f *fakeClient) Direction(ctx context.Context, _ navi.DirectionRequest) (*models.DirectionResult, error) {
	f.mu.Lock()
	entered, release := f.entered, f.release
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
		<-release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.currentCalls++
	if f.currentErr != nil {
		return nil, f.currentErr
	}
	res := f.current
	return &res, nil
}

func (f *fakeClient) FutureDirection(ctx context.Context, _ navi.DirectionRequest, departure time.Time) (*models.DirectionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.futureCalls++
	f.departures = append(f.departures, departure)
	if f.futureFor != nil {
		return f.futureFor(departure)
	}
	if f.futureErr != nil {
		return nil, f.futureErr
	}
	res := f.future
	res.DepartureAt = departure
	return &res, nil
}

func (f *fakeClient) ValidateKey(context.Context) error { return nil }

func (f *fakeClient) setCurrentErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.currentErr = err
}

func (f *fakeClient) setFutureErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.futureErr = err
}

func (f *fakeClient) setCurrentDuration(seconds int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current.DurationSeconds = seconds
}

func (f *fakeClient) counts() (current, future int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentCalls, f.futureCalls
}

func (f *fakeClient) futureDepartures() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.departures...)
}

// memoryStore is an in-process StateStore.
type memoryStore struct {
	mu     sync.Mutex
	states map[string]models.RouteState
	saves  int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{states: map[string]models.RouteState{}}
}

func (s *memoryStore) LoadRouteState(_ context.Context, route string) (*models.RouteState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[route]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (s *memoryStore) SaveRouteState(_ context.Context, state models.RouteState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.RouteName] = state
	s.saves++
	return nil
}

func (s *memoryStore) get(route string) (models.RouteState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[route]
	return st, ok
}

func testRoute() models.RouteConfig {
	return models.RouteConfig{
		Name:                 "commute",
		Start:                "127.1112,37.3947",
		End:                  "127.0276,37.4979",
		Priority:             models.PriorityRecommend,
		UpdateInterval:       10 * time.Minute,
		FutureUpdateInterval: 60 * time.Minute,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCoordinator(t *testing.T, client *fakeClient, start time.Time, opts ...Option) (*Coordinator, *clock.MockClock) {
	t.Helper()
	mock := clock.NewMockClock(start)
	all := append([]Option{WithClock(mock), WithLogger(quietLogger())}, opts...)
	c := New(testRoute(), client, all...)
	t.Cleanup(c.Stop)
	return c, mock
}
