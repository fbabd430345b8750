package navi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/twpayne/go-polyline"
	"golang.org/x/time/rate"

	"navieta.dev/internal/logging"
	"navieta.dev/internal/models"
)

const (
	DefaultNaviBaseURL    = "https://apis-navi.kakaomobility.com/v1"
	DefaultLocalSearchURL = "https://dapi.kakao.com/v2/local/search/address.json"

	// DefaultRequestsPerSecond stays under the provider's per-key QPS cap.
	DefaultRequestsPerSecond = 10

	requestTimeout = 10 * time.Second
	maxBodySize    = 4 * 1024 * 1024
)

// KakaoConfig configures a KakaoClient. Zero values select the defaults.
type KakaoConfig struct {
	APIKey            string
	NaviBaseURL       string
	LocalSearchURL    string
	Location          *time.Location
	RequestsPerSecond int
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// KakaoClient implements Client against the Kakao Mobility directions API
// and the Kakao Local address search API.
type KakaoClient struct {
	apiKey         string
	naviBaseURL    string
	localSearchURL string
	location       *time.Location
	httpClient     *http.Client
	limiter        *rate.Limiter
	logger         *slog.Logger

	geocodeMu    sync.RWMutex
	geocodeCache map[string]string
}

// NewKakaoClient creates a client. One client is shared by every
// coordinator; the only state it carries is the read-only key, the
// outbound limiter and the geocode cache.
func NewKakaoClient(cfg KakaoConfig) *KakaoClient {
	if cfg.NaviBaseURL == "" {
		cfg.NaviBaseURL = DefaultNaviBaseURL
	}
	if cfg.LocalSearchURL == "" {
		cfg.LocalSearchURL = DefaultLocalSearchURL
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = newHTTPClient()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &KakaoClient{
		apiKey:         cfg.APIKey,
		naviBaseURL:    strings.TrimRight(cfg.NaviBaseURL, "/"),
		localSearchURL: cfg.LocalSearchURL,
		location:       cfg.Location,
		httpClient:     cfg.HTTPClient,
		limiter:        rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestsPerSecond),
		logger:         cfg.Logger.With(slog.String("component", "kakao_client")),
		geocodeCache:   make(map[string]string),
	}
}

// newHTTPClient clones the default transport so proxy and HTTP/2 settings
// survive, then bounds every request.
func newHTTPClient() *http.Client {
	var transport *http.Transport
	if t, ok := http.DefaultTransport.(*http.Transport); ok {
		transport = t.Clone()
	} else {
		transport = &http.Transport{}
	}
	transport.MaxIdleConns = 20
	transport.MaxIdleConnsPerHost = 10
	transport.IdleConnTimeout = 90 * time.Second
	transport.TLSHandshakeTimeout = 10 * time.Second

	return &http.Client{
		Timeout:   requestTimeout,
		Transport: transport,
	}
}

// Direction implements Client.
func (c *KakaoClient) Direction(ctx context.Context, req DirectionRequest) (*models.DirectionResult, error) {
	params, err := c.routeParams(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.directions(ctx, EndpointDirections, c.naviBaseURL+"/directions", params, time.Time{})
}

// FutureDirection implements Client.
func (c *KakaoClient) FutureDirection(ctx context.Context, req DirectionRequest, departure time.Time) (*models.DirectionResult, error) {
	params, err := c.routeParams(ctx, req)
	if err != nil {
		return nil, err
	}
	departure = departure.In(c.location)
	params.Set("departure_time", departure.Format(DepartureTimeLayout))
	return c.directions(ctx, EndpointFutureDirections, c.naviBaseURL+"/future/directions", params, departure)
}

// ValidateKey issues a fixed coordinate query and fails on any non-2xx status.
func (c *KakaoClient) ValidateKey(ctx context.Context) error {
	params := url.Values{}
	params.Set("origin", "127.0,37.0")
	params.Set("destination", "127.1,37.1")

	resp, err := c.get(ctx, EndpointDirections, c.naviBaseURL+"/directions", params)
	if err != nil {
		return err
	}
	defer logging.SafeCloseWithLogging(resp.Body, c.logger, "http_response_body")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(EndpointDirections, resp)
	}
	return nil
}

func (c *KakaoClient) routeParams(ctx context.Context, req DirectionRequest) (url.Values, error) {
	origin, err := c.resolve(ctx, req.Start)
	if err != nil {
		return nil, err
	}
	destination, err := c.resolve(ctx, req.End)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("origin", origin)
	params.Set("destination", destination)
	priority := req.Priority
	if priority == "" {
		priority = models.PriorityRecommend
	}
	params.Set("priority", string(priority))

	if req.Waypoint != "" {
		waypoint, err := c.resolve(ctx, req.Waypoint)
		if err != nil {
			return nil, err
		}
		params.Set("waypoints", waypoint)
	}
	return params, nil
}

// resolve turns a location string into "x,y". Coordinates pass through,
// addresses are geocoded once and cached.
func (c *KakaoClient) resolve(ctx context.Context, location string) (string, error) {
	location = strings.TrimSpace(location)
	if coord, ok := parseCoordinate(location); ok {
		return coord, nil
	}

	c.geocodeMu.RLock()
	coord, ok := c.geocodeCache[location]
	c.geocodeMu.RUnlock()
	if ok {
		return coord, nil
	}

	params := url.Values{}
	params.Set("query", location)
	resp, err := c.get(ctx, EndpointGeocode, c.localSearchURL, params)
	if err != nil {
		return "", err
	}
	defer logging.SafeCloseWithLogging(resp.Body, c.logger, "http_response_body")

	if resp.StatusCode != http.StatusOK {
		return "", statusError(EndpointGeocode, resp)
	}

	var result addressSearchResponse
	if err := decodeBody(resp.Body, &result); err != nil {
		return "", &NetworkError{Endpoint: EndpointGeocode, StatusCode: resp.StatusCode, Reached: true, Err: err}
	}
	if len(result.Documents) == 0 {
		return "", &AddressResolutionError{Address: location}
	}

	coord = result.Documents[0].X + "," + result.Documents[0].Y
	c.geocodeMu.Lock()
	c.geocodeCache[location] = coord
	c.geocodeMu.Unlock()

	c.logger.Debug("geocoded address", slog.String("address", location), slog.String("coord", coord))
	return coord, nil
}

func (c *KakaoClient) directions(ctx context.Context, endpoint Endpoint, rawURL string, params url.Values, departure time.Time) (*models.DirectionResult, error) {
	resp, err := c.get(ctx, endpoint, rawURL, params)
	if err != nil {
		return nil, err
	}
	defer logging.SafeCloseWithLogging(resp.Body, c.logger, "http_response_body")

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(endpoint, resp)
	}

	var body directionsResponse
	if err := decodeBody(resp.Body, &body); err != nil {
		return nil, &NetworkError{Endpoint: endpoint, StatusCode: resp.StatusCode, Reached: true, Err: err}
	}
	if len(body.Routes) == 0 {
		return nil, &ProviderError{Code: -1, Message: "no routes returned"}
	}

	route := body.Routes[0]
	if route.ResultCode != 0 {
		return nil, &ProviderError{Code: route.ResultCode, Message: route.ResultMsg}
	}

	summary := route.Summary
	if summary.Duration < 0 || summary.Distance < 0 || summary.Fare.Taxi < 0 || summary.Fare.Toll < 0 {
		return nil, &ProviderError{Code: -1, Message: "negative summary values"}
	}

	return &models.DirectionResult{
		DurationSeconds: summary.Duration,
		DistanceMeters:  summary.Distance,
		Fare: models.Fare{
			Taxi: summary.Fare.Taxi,
			Toll: summary.Fare.Toll,
		},
		Priority:    models.Priority(summary.Priority),
		Polyline:    encodeSections(route.Sections),
		DepartureAt: departure,
	}, nil
}

func (c *KakaoClient) get(ctx context.Context, endpoint Endpoint, rawURL string, params url.Values) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &NetworkError{Endpoint: endpoint, Err: fmt.Errorf("rate limiter: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, &NetworkError{Endpoint: endpoint, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Authorization", "KakaoAK "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Endpoint: endpoint, Reached: ctx.Err() == nil || errors.Is(err, context.DeadlineExceeded), Err: err}
	}
	return resp, nil
}

func statusError(endpoint Endpoint, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &NetworkError{
		Endpoint:   endpoint,
		StatusCode: resp.StatusCode,
		Reached:    true,
		Err:        fmt.Errorf("%s", strings.TrimSpace(string(snippet))),
	}
}

func decodeBody(r io.Reader, v any) error {
	body, err := io.ReadAll(io.LimitReader(r, maxBodySize+1))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(body) > maxBodySize {
		return fmt.Errorf("response exceeds size limit of %d bytes", maxBodySize)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// parseCoordinate accepts "lng,lat" and returns it normalized.
func parseCoordinate(s string) (string, bool) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return "", false
	}
	x, errX := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	y, errY := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if errX != nil || errY != nil {
		return "", false
	}
	if x < -180 || x > 180 || y < -90 || y > 90 {
		return "", false
	}
	return strconv.FormatFloat(x, 'f', -1, 64) + "," + strconv.FormatFloat(y, 'f', -1, 64), true
}

// encodeSections flattens every road's vertex list ([x0, y0, x1, y1, ...])
// into a Google encoded polyline of (lat, lng) pairs.
func encodeSections(sections []directionsSection) string {
	var coords [][]float64
	for _, section := range sections {
		for _, road := range section.Roads {
			for i := 0; i+1 < len(road.Vertexes); i += 2 {
				coords = append(coords, []float64{road.Vertexes[i+1], road.Vertexes[i]})
			}
		}
	}
	if len(coords) == 0 {
		return ""
	}
	return string(polyline.EncodeCoords(coords))
}

type addressSearchResponse struct {
	Documents []struct {
		AddressName string `json:"address_name"`
		X           string `json:"x"`
		Y           string `json:"y"`
	} `json:"documents"`
}

type directionsResponse struct {
	TransID string            `json:"trans_id"`
	Routes  []directionsRoute `json:"routes"`
}

type directionsRoute struct {
	ResultCode int                 `json:"result_code"`
	ResultMsg  string              `json:"result_msg"`
	Summary    directionsSummary   `json:"summary"`
	Sections   []directionsSection `json:"sections"`
}

type directionsSummary struct {
	Priority string `json:"priority"`
	Fare     struct {
		Taxi int `json:"taxi"`
		Toll int `json:"toll"`
	} `json:"fare"`
	Distance int `json:"distance"`
	Duration int `json:"duration"`
}

type directionsSection struct {
	Roads []struct {
		Name     string    `json:"name"`
		Vertexes []float64 `json:"vertexes"`
	} `json:"roads"`
}
