package appconf

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"navieta.dev/internal/models"
)

const (
	DefaultPort              = 4000
	DefaultRateLimit         = 100
	DefaultTimezone          = "Asia/Seoul"
	DefaultMaxDailyCalls     = 5000
	DefaultRequestsPerSecond = 10

	// KakaoAPIKeyEnv overrides kakao-api-key from the config file.
	KakaoAPIKeyEnv = "KAKAO_API_KEY"
)

// RouteJSON is one route entry in the config file. Intervals are minutes;
// zero means the global default.
type RouteJSON struct {
	Name                 string `json:"name" validate:"required,max=64"`
	Start                string `json:"start" validate:"required"`
	End                  string `json:"end" validate:"required"`
	Waypoint             string `json:"waypoint,omitempty"`
	Priority             string `json:"priority,omitempty"`
	UpdateInterval       int    `json:"update-interval,omitempty" validate:"gte=0"`
	FutureUpdateInterval int    `json:"future-update-interval,omitempty" validate:"gte=0"`
}

// JSONConfig is the on-disk configuration file.
type JSONConfig struct {
	Port                 int         `json:"port" validate:"gte=0,lte=65535"`
	Env                  string      `json:"env" validate:"omitempty,oneof=development test production"`
	ApiKeys              []string    `json:"api-keys"`
	RateLimit            int         `json:"rate-limit" validate:"gte=0"`
	Verbose              bool        `json:"verbose"`
	Timezone             string      `json:"timezone"`
	KakaoAPIKey          string      `json:"kakao-api-key"`
	NaviBaseURL          string      `json:"navi-base-url" validate:"omitempty,url"`
	LocalSearchURL       string      `json:"local-search-url" validate:"omitempty,url"`
	ProviderQPS          float64     `json:"provider-qps" validate:"gte=0"`
	UpdateInterval       int         `json:"update-interval" validate:"gte=0"`
	FutureUpdateInterval int         `json:"future-update-interval" validate:"gte=0"`
	MaxDailyCalls        int         `json:"max-daily-calls" validate:"gte=0"`
	DataPath             string      `json:"data-path"`
	Routes               []RouteJSON `json:"routes" validate:"dive"`
}

// LoadDotEnv loads KEY=value pairs from the given files (".env" when none
// are given) into the process environment. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", p, err)
		}
	}
	return nil
}

// LoadFromFile reads, defaults and validates a JSON config file.
func LoadFromFile(path string) (*JSONConfig, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg JSONConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse JSON config: %w", err)
	}

	cfg.setDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *JSONConfig) setDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Env == "" {
		c.Env = "development"
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.ProviderQPS == 0 {
		c.ProviderQPS = DefaultRequestsPerSecond
	}
	if c.UpdateInterval == 0 {
		c.UpdateInterval = int(models.DefaultUpdateInterval / time.Minute)
	}
	if c.FutureUpdateInterval == 0 {
		c.FutureUpdateInterval = int(models.DefaultFutureUpdateInterval / time.Minute)
	}
	if c.MaxDailyCalls == 0 {
		c.MaxDailyCalls = DefaultMaxDailyCalls
	}
}

func (c *JSONConfig) applyEnv() {
	if key := strings.TrimSpace(os.Getenv(KakaoAPIKeyEnv)); key != "" {
		c.KakaoAPIKey = key
	}
}

// Validate checks field ranges, the timezone, the provider key and every
// route. All problems are reported together.
func (c *JSONConfig) Validate() error {
	var errs []error

	if err := models.Validator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("field %s failed %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("unknown timezone %q", c.Timezone))
	}

	if c.KakaoAPIKey == "" && EnvFlagToEnvironment(c.Env) != Test {
		errs = append(errs, fmt.Errorf("kakao-api-key is required (or set %s)", KakaoAPIKeyEnv))
	}

	if _, err := c.ToRouteConfigs(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ToAppConfig converts the file into server settings.
func (c *JSONConfig) ToAppConfig() Config {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		loc = time.Local
	}
	return Config{
		Port:      c.Port,
		Env:       EnvFlagToEnvironment(c.Env),
		ApiKeys:   c.ApiKeys,
		Verbose:   c.Verbose,
		RateLimit: c.RateLimit,
		Location:  loc,
	}
}

// ToNaviConfig converts the file into provider and polling settings.
func (c *JSONConfig) ToNaviConfig() NaviConfig {
	return NaviConfig{
		KakaoAPIKey:          c.KakaoAPIKey,
		NaviBaseURL:          c.NaviBaseURL,
		LocalSearchURL:       c.LocalSearchURL,
		RequestsPerSecond:    c.ProviderQPS,
		MaxDailyCalls:        c.MaxDailyCalls,
		UpdateInterval:       time.Duration(c.UpdateInterval) * time.Minute,
		FutureUpdateInterval: time.Duration(c.FutureUpdateInterval) * time.Minute,
		DataPath:             c.DataPath,
		Env:                  EnvFlagToEnvironment(c.Env),
		Verbose:              c.Verbose,
	}
}

// ToRouteConfigs builds validated route configs with the global interval
// defaults applied. Route names must be unique.
func (c *JSONConfig) ToRouteConfigs() ([]models.RouteConfig, error) {
	update := time.Duration(c.UpdateInterval) * time.Minute
	future := time.Duration(c.FutureUpdateInterval) * time.Minute
	if update <= 0 {
		update = models.DefaultUpdateInterval
	}
	if future <= 0 {
		future = models.DefaultFutureUpdateInterval
	}

	var errs []error
	seen := make(map[string]bool, len(c.Routes))
	routes := make([]models.RouteConfig, 0, len(c.Routes))
	for _, r := range c.Routes {
		priority, err := models.ParsePriority(r.Priority)
		if err != nil {
			errs = append(errs, fmt.Errorf("route %q: %w", r.Name, err))
			continue
		}
		route := models.RouteConfig{
			Name:                 r.Name,
			Start:                r.Start,
			End:                  r.End,
			Waypoint:             r.Waypoint,
			Priority:             priority,
			UpdateInterval:       time.Duration(r.UpdateInterval) * time.Minute,
			FutureUpdateInterval: time.Duration(r.FutureUpdateInterval) * time.Minute,
		}.WithDefaults(update, future)

		if err := route.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[route.Name] {
			errs = append(errs, fmt.Errorf("route %q: duplicate name", route.Name))
			continue
		}
		seen[route.Name] = true
		routes = append(routes, route)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return routes, nil
}
