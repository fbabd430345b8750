package restapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache lifetimes per endpoint tier, in seconds.
const (
	cacheConfig   = 300
	cacheReadings = 30
	cacheNone     = 0
)

// SetRoutes registers every API endpoint on mux.
func (api *RestAPI) SetRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", api.healthHandler)
	if api.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(api.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	api.handle(mux, "GET /api/current-time", api.currentTimeHandler, cacheNone)
	api.handle(mux, "GET /api/config", api.configHandler, cacheConfig)
	api.handle(mux, "GET /api/routes", api.routesHandler, cacheReadings)
	api.handle(mux, "GET /api/routes/{name}", api.routeHandler, cacheReadings)
	api.handle(mux, "POST /api/routes/{name}/refresh", api.refreshHandler, cacheNone)
	api.handle(mux, "GET /api/routes/{name}/optimal-departure", api.optimalDepartureHandler, cacheNone)
	api.handle(mux, "GET /api/routes/{name}/optimal-departure/latest", api.latestDepartureSearchHandler, cacheNone)
}

func (api *RestAPI) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc, cacheSeconds int) {
	var handler http.Handler = api.requireAPIKey(h)
	handler = CacheControlMiddleware(cacheSeconds, handler)
	handler = api.rateLimiter.Handler()(handler)
	mux.Handle(pattern, handler)
}

func (api *RestAPI) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if api.RequestHasInvalidAPIKey(r) {
			api.sendUnauthorized(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
