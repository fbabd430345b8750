package navi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-polyline"

	"navieta.dev/internal/models"
)

type fakeKakao struct {
	mu            sync.Mutex
	addresses     map[string][2]string
	geocodeCalls  int
	lastQuery     map[string]string
	lastPath      string
	lastAuth      string
	directionCode int
	status        int
}

func newFakeKakao() *fakeKakao {
	return &fakeKakao{
		addresses: map[string][2]string{
			"Pangyo Station":  {"127.1112", "37.3947"},
			"Gangnam Station": {"127.0276", "37.4979"},
			"Yangjae":         {"127.0347", "37.4841"},
		},
		status: http.StatusOK,
	}
}

type fakeState struct {
	geocodeCalls int
	lastQuery    map[string]string
	lastPath     string
	lastAuth     string
}

func (f *fakeKakao) state() fakeState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fakeState{
		geocodeCalls: f.geocodeCalls,
		lastQuery:    f.lastQuery,
		lastPath:     f.lastPath,
		lastAuth:     f.lastAuth,
	}
}

func (f *fakeKakao) setStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

func (f *fakeKakao) setResultCode(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.directionCode = code
}

func (f *fakeKakao) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/local/search/address.json", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.geocodeCalls++
		coord, ok := f.addresses[r.URL.Query().Get("query")]
		f.mu.Unlock()

		docs := []map[string]string{}
		if ok {
			docs = append(docs, map[string]string{"x": coord[0], "y": coord[1]})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"documents": docs})
	})

	directions := func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.lastPath = r.URL.Path
		f.lastAuth = r.Header.Get("Authorization")
		f.lastQuery = map[string]string{}
		for k := range r.URL.Query() {
			f.lastQuery[k] = r.URL.Query().Get(k)
		}
		status := f.status
		code := f.directionCode
		f.mu.Unlock()

		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"msg":"unauthorized"}`))
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"trans_id": "abc",
			"routes": []map[string]any{{
				"result_code": code,
				"result_msg":  "route result",
				"summary": map[string]any{
					"priority": "RECOMMEND",
					"fare":     map[string]int{"taxi": 18300, "toll": 1200},
					"distance": 15320,
					"duration": 1860,
				},
				"sections": []map[string]any{{
					"roads": []map[string]any{{
						"name":     "Gyeongbu Expressway",
						"vertexes": []float64{127.1112, 37.3947, 127.0276, 37.4979},
					}},
				}},
			}},
		})
	}
	mux.HandleFunc("/v1/directions", directions)
	mux.HandleFunc("/v1/future/directions", directions)
	return mux
}

func newTestClient(t *testing.T, fake *fakeKakao) *KakaoClient {
	t.Helper()
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	return NewKakaoClient(KakaoConfig{
		APIKey:         "test-key",
		NaviBaseURL:    server.URL + "/v1",
		LocalSearchURL: server.URL + "/v2/local/search/address.json",
		Location:       time.FixedZone("KST", 9*60*60),
	})
}

func TestKakaoClient_Direction(t *testing.T) {
	fake := newFakeKakao()
	client := newTestClient(t, fake)

	result, err := client.Direction(context.Background(), DirectionRequest{
		Start:    "Pangyo Station",
		End:      "Gangnam Station",
		Waypoint: "Yangjae",
		Priority: models.PriorityTime,
	})
	require.NoError(t, err)

	assert.Equal(t, 1860, result.DurationSeconds)
	assert.Equal(t, 15320, result.DistanceMeters)
	assert.Equal(t, models.Fare{Taxi: 18300, Toll: 1200}, result.Fare)
	assert.True(t, result.DepartureAt.IsZero())

	assert.Equal(t, "/v1/directions", fake.state().lastPath)
	assert.Equal(t, "KakaoAK test-key", fake.state().lastAuth)
	assert.Equal(t, "127.1112,37.3947", fake.state().lastQuery["origin"])
	assert.Equal(t, "127.0276,37.4979", fake.state().lastQuery["destination"])
	assert.Equal(t, "127.0347,37.4841", fake.state().lastQuery["waypoints"])
	assert.Equal(t, "TIME", fake.state().lastQuery["priority"])

	coords, _, err := polyline.DecodeCoords([]byte(result.Polyline))
	require.NoError(t, err)
	require.Len(t, coords, 2)
	assert.InDelta(t, 37.3947, coords[0][0], 1e-5)
	assert.InDelta(t, 127.1112, coords[0][1], 1e-5)
}

func TestKakaoClient_FutureDirectionFormatsDeparture(t *testing.T) {
	fake := newFakeKakao()
	client := newTestClient(t, fake)

	departure := time.Date(2024, 6, 15, 0, 30, 0, 0, time.UTC) // 09:30 KST
	result, err := client.FutureDirection(context.Background(), DirectionRequest{
		Start: "Pangyo Station",
		End:   "Gangnam Station",
	}, departure)
	require.NoError(t, err)

	assert.Equal(t, "/v1/future/directions", fake.state().lastPath)
	assert.Equal(t, "202406150930", fake.state().lastQuery["departure_time"])
	assert.Equal(t, "RECOMMEND", fake.state().lastQuery["priority"])
	assert.True(t, result.DepartureAt.Equal(departure))
}

func TestKakaoClient_GeocodeIsCached(t *testing.T) {
	fake := newFakeKakao()
	client := newTestClient(t, fake)
	req := DirectionRequest{Start: "Pangyo Station", End: "Gangnam Station"}

	_, err := client.Direction(context.Background(), req)
	require.NoError(t, err)
	_, err = client.Direction(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 2, fake.state().geocodeCalls)
}

func TestKakaoClient_CoordinatesSkipGeocoding(t *testing.T) {
	fake := newFakeKakao()
	client := newTestClient(t, fake)

	_, err := client.Direction(context.Background(), DirectionRequest{
		Start: "127.1112, 37.3947",
		End:   "127.0276,37.4979",
	})
	require.NoError(t, err)

	assert.Equal(t, 0, fake.state().geocodeCalls)
	assert.Equal(t, "127.1112,37.3947", fake.state().lastQuery["origin"])
}

func TestKakaoClient_UnknownAddress(t *testing.T) {
	fake := newFakeKakao()
	client := newTestClient(t, fake)

	_, err := client.Direction(context.Background(), DirectionRequest{Start: "Nowhere", End: "Gangnam Station"})
	require.Error(t, err)

	var addrErr *AddressResolutionError
	require.True(t, errors.As(err, &addrErr))
	assert.Equal(t, "Nowhere", addrErr.Address)
	assert.False(t, CountsAgainstBudget(err))
	assert.Empty(t, fake.state().lastPath, "directions endpoint must not be called")
}

func TestKakaoClient_HTTPError(t *testing.T) {
	fake := newFakeKakao()
	fake.setStatus(http.StatusInternalServerError)
	client := newTestClient(t, fake)

	_, err := client.Direction(context.Background(), DirectionRequest{Start: "Pangyo Station", End: "Gangnam Station"})
	require.Error(t, err)

	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, EndpointDirections, netErr.Endpoint)
	assert.Equal(t, http.StatusInternalServerError, netErr.StatusCode)
	assert.True(t, CountsAgainstBudget(err))
}

func TestKakaoClient_ProviderResultCode(t *testing.T) {
	fake := newFakeKakao()
	fake.setResultCode(104)
	client := newTestClient(t, fake)

	_, err := client.Direction(context.Background(), DirectionRequest{Start: "Pangyo Station", End: "Gangnam Station"})
	require.Error(t, err)

	var providerErr *ProviderError
	require.True(t, errors.As(err, &providerErr))
	assert.Equal(t, 104, providerErr.Code)
	assert.True(t, CountsAgainstBudget(err))
}

func TestKakaoClient_ValidateKey(t *testing.T) {
	fake := newFakeKakao()
	client := newTestClient(t, fake)

	require.NoError(t, client.ValidateKey(context.Background()))

	fake.setStatus(http.StatusUnauthorized)
	err := client.ValidateKey(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestKakaoClient_CancelledContext(t *testing.T) {
	fake := newFakeKakao()
	client := newTestClient(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Direction(ctx, DirectionRequest{Start: "127.1,37.3", End: "127.0,37.4"})
	require.Error(t, err)
	assert.False(t, CountsAgainstBudget(err))
}

func TestCountsAgainstBudget(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "success", err: nil, want: true},
		{name: "provider error", err: &ProviderError{Code: 1}, want: true},
		{name: "directions reached", err: &NetworkError{Endpoint: EndpointDirections, Reached: true}, want: true},
		{name: "directions not sent", err: &NetworkError{Endpoint: EndpointDirections}, want: false},
		{name: "geocode failure", err: &NetworkError{Endpoint: EndpointGeocode, Reached: true}, want: false},
		{name: "address", err: &AddressResolutionError{Address: "x"}, want: false},
		{name: "other", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CountsAgainstBudget(tt.err))
		})
	}
}

func TestParseCoordinate(t *testing.T) {
	coord, ok := parseCoordinate("127.10, 37.50")
	assert.True(t, ok)
	assert.Equal(t, "127.1,37.5", coord)

	_, ok = parseCoordinate("Seoul Station")
	assert.False(t, ok)

	_, ok = parseCoordinate("500,37")
	assert.False(t, ok)
}
