// Package restapi is the HTTP surface over the route coordinators: sensor
// readings, operator refresh, departure searches and service health.
package restapi

import (
	"time"

	"navieta.dev/internal/app"
	"navieta.dev/internal/clock"
)

type RestAPI struct {
	*app.Application
	rateLimiter *RateLimitMiddleware
}

// NewRestAPI creates the API and starts its per-key rate limiter.
func NewRestAPI(application *app.Application) *RestAPI {
	var c clock.Clock = clock.RealClock{}
	if application.Clock != nil {
		c = application.Clock
	}
	return &RestAPI{
		Application: application,
		rateLimiter: NewRateLimitMiddleware(application.Config.RateLimit, time.Second, nil, c),
	}
}

// Shutdown stops the API's background work.
func (api *RestAPI) Shutdown() {
	if api.rateLimiter != nil {
		api.rateLimiter.Stop()
	}
}
