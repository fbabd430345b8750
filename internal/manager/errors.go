package manager

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrRouteNotFound  = errors.New("manager: route not found")
	ErrDuplicateRoute = errors.New("manager: duplicate route name")
)

// RouteError is a setup failure for one route.
type RouteError struct {
	Route string
	Err   error
}

func (e *RouteError) Error() string {
	return fmt.Sprintf("route %q: %v", e.Route, e.Err)
}

func (e *RouteError) Unwrap() error { return e.Err }

// SetupError collects the routes that failed to initialize. Routes not
// listed were set up normally.
type SetupError struct {
	Failures []*RouteError
}

func (e *SetupError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, f.Error())
	}
	return fmt.Sprintf("manager: %d route(s) failed to initialize: %s", len(e.Failures), strings.Join(msgs, "; "))
}

func (e *SetupError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f)
	}
	return errs
}

// Routes lists the names of the failed routes.
func (e *SetupError) Routes() []string {
	names := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		names = append(names, f.Route)
	}
	return names
}
