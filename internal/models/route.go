package models

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// Priority selects the provider's routing strategy.
type Priority string

const (
	PriorityRecommend Priority = "RECOMMEND"
	PriorityTime      Priority = "TIME"
	PriorityDistance  Priority = "DISTANCE"
)

// Priorities lists every supported routing priority.
var Priorities = []Priority{PriorityRecommend, PriorityTime, PriorityDistance}

// ParsePriority maps a case-insensitive string onto a Priority.
// An empty string yields PriorityRecommend.
func ParsePriority(s string) (Priority, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return PriorityRecommend, nil
	}
	for _, p := range Priorities {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

const (
	DefaultUpdateInterval       = 10 * time.Minute
	DefaultFutureUpdateInterval = 60 * time.Minute
)

// RouteConfig describes one monitored route. It is immutable once a
// coordinator owns it; changes go through a reload.
type RouteConfig struct {
	Name                 string        `json:"name" validate:"required,max=64"`
	Start                string        `json:"start" validate:"required"`
	End                  string        `json:"end" validate:"required"`
	Waypoint             string        `json:"waypoint,omitempty"`
	Priority             Priority      `json:"priority" validate:"required,oneof=RECOMMEND TIME DISTANCE"`
	UpdateInterval       time.Duration `json:"updateInterval" validate:"gt=0"`
	FutureUpdateInterval time.Duration `json:"futureUpdateInterval" validate:"gt=0"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared struct validator.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// WithDefaults fills zero priority and intervals.
func (r RouteConfig) WithDefaults(update, future time.Duration) RouteConfig {
	if r.Priority == "" {
		r.Priority = PriorityRecommend
	}
	if r.UpdateInterval <= 0 {
		r.UpdateInterval = update
	}
	if r.FutureUpdateInterval <= 0 {
		r.FutureUpdateInterval = future
	}
	r.Name = strings.TrimSpace(r.Name)
	r.Start = strings.TrimSpace(r.Start)
	r.End = strings.TrimSpace(r.End)
	r.Waypoint = strings.TrimSpace(r.Waypoint)
	return r
}

// Validate rejects a malformed route before it reaches a coordinator.
func (r RouteConfig) Validate() error {
	if err := Validator().Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]error, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Errorf("route %q: field %s failed %q", r.Name, fe.Field(), fe.Tag()))
			}
			return errors.Join(msgs...)
		}
		return fmt.Errorf("route %q: %w", r.Name, err)
	}
	return nil
}
