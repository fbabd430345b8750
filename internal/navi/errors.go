package navi

import (
	"errors"
	"fmt"
)

// Endpoint identifies which provider API a call went to.
type Endpoint string

const (
	EndpointGeocode          Endpoint = "geocode"
	EndpointDirections       Endpoint = "directions"
	EndpointFutureDirections Endpoint = "future_directions"
)

// AddressResolutionError means a location string could not be geocoded.
type AddressResolutionError struct {
	Address string
}

func (e *AddressResolutionError) Error() string {
	return fmt.Sprintf("navi: unable to find coordinates for address %q", e.Address)
}

// NetworkError is a transport or HTTP-level failure talking to the provider.
// Reached is false when the request never left the process.
type NetworkError struct {
	Endpoint   Endpoint
	StatusCode int
	Reached    bool
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("navi: %s: status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("navi: %s: %v", e.Endpoint, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProviderError is a well-formed provider response that carries no usable
// route, e.g. origin and destination too close together.
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("navi: provider result %d: %s", e.Code, e.Message)
}

// CountsAgainstBudget reports whether a navigation call that returned err
// actually reached the provider's directions endpoints.
func CountsAgainstBudget(err error) bool {
	if err == nil {
		return true
	}
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return true
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr.Reached && netErr.Endpoint != EndpointGeocode
	}
	return false
}
