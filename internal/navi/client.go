// Package navi is the boundary to the navigation provider: address
// geocoding plus current and forecast directions between two points.
package navi

import (
	"context"
	"time"

	"navieta.dev/internal/models"
)

// DepartureTimeLayout is the provider's fixed-width YYYYMMDDHHmm format.
const DepartureTimeLayout = "200601021504"

// DirectionRequest names the route to query. Locations may be free-form
// addresses or "lng,lat" coordinates.
type DirectionRequest struct {
	Start    string
	End      string
	Waypoint string
	Priority models.Priority
}

// NewDirectionRequest builds the request for a configured route.
func NewDirectionRequest(route models.RouteConfig) DirectionRequest {
	return DirectionRequest{
		Start:    route.Start,
		End:      route.End,
		Waypoint: route.Waypoint,
		Priority: route.Priority,
	}
}

// Client queries the navigation provider. Implementations must be safe for
// concurrent use by several coordinators.
type Client interface {
	// Direction returns the estimate for departing now.
	Direction(ctx context.Context, req DirectionRequest) (*models.DirectionResult, error)
	// FutureDirection returns the estimate for departing at departure.
	FutureDirection(ctx context.Context, req DirectionRequest, departure time.Time) (*models.DirectionResult, error)
	// ValidateKey checks that the provider accepts the configured credentials.
	ValidateKey(ctx context.Context) error
}
