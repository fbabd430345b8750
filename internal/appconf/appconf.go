// Package appconf loads and validates the process configuration.
package appconf

import (
	"strings"
	"time"
)

// Environment selects logging format and debug surfaces.
type Environment int

const (
	Development Environment = iota
	Test
	Production
)

func (e Environment) String() string {
	switch e {
	case Test:
		return "test"
	case Production:
		return "production"
	default:
		return "development"
	}
}

// EnvFlagToEnvironment maps a command-line or config value onto an
// Environment. Unknown values are treated as development.
func EnvFlagToEnvironment(env string) Environment {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "production", "prod":
		return Production
	case "test":
		return Test
	default:
		return Development
	}
}

// Config holds the HTTP server settings.
type Config struct {
	Port      int
	Env       Environment
	ApiKeys   []string
	Verbose   bool
	RateLimit int
	Location  *time.Location
}

// NaviConfig holds the navigation provider and polling settings.
type NaviConfig struct {
	KakaoAPIKey          string
	NaviBaseURL          string
	LocalSearchURL       string
	RequestsPerSecond    float64
	MaxDailyCalls        int
	UpdateInterval       time.Duration
	FutureUpdateInterval time.Duration
	DataPath             string
	Env                  Environment
	Verbose              bool
}
