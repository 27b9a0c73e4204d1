// Package config loads router settings from defaults, an optional YAML file
// and ROUTER_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"astar_router/pkg/fetch"
	"astar_router/pkg/routing"
)

// Config is the full set of router settings.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Overpass OverpassConfig `yaml:"overpass"`
	Breaker  BreakerConfig  `yaml:"breaker"`
	Routing  RoutingConfig  `yaml:"routing"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Addr           string        `yaml:"addr" validate:"required"`
	ReadTimeout    time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout   time.Duration `yaml:"write_timeout" validate:"gte=0"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
	MaxConcurrent  int           `yaml:"max_concurrent" validate:"gte=1"`
	CORSOrigin     string        `yaml:"cors_origin"`
}

type OverpassConfig struct {
	URL            string        `yaml:"url" validate:"required,url"`
	ServerTimeout  time.Duration `yaml:"server_timeout" validate:"gt=0"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout" validate:"gt=0"`
	MaxAttempts    uint          `yaml:"max_attempts" validate:"gte=1,lte=10"`
	InitialBackoff time.Duration `yaml:"initial_backoff" validate:"gte=0"`
	MaxBackoff     time.Duration `yaml:"max_backoff" validate:"gtefield=InitialBackoff"`
	RateLimitDelay time.Duration `yaml:"rate_limit_delay" validate:"gte=0"`
}

type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	ConsecutiveFails uint32        `yaml:"consecutive_fails" validate:"gte=1"`
	OpenTimeout      time.Duration `yaml:"open_timeout" validate:"gt=0"`
}

type RoutingConfig struct {
	SearchRadius         float64 `yaml:"search_radius" validate:"gt=0"`
	MaxBBoxSpan          float64 `yaml:"max_bbox_span" validate:"gt=0,lte=180"`
	LargestComponentOnly bool    `yaml:"largest_component_only"`
	DefaultSpeed         int     `yaml:"default_speed" validate:"gte=1,lte=10"`
	EmitEvery            int     `yaml:"emit_every" validate:"gte=1"`
}

type LogConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

// Default returns the built-in settings.
func Default() Config {
	retry := fetch.DefaultRetryConfig()
	breaker := fetch.DefaultBreakerConfig()
	engine := routing.DefaultConfig()

	return Config{
		Server: ServerConfig{
			Addr:           ":8080",
			ReadTimeout:    5 * time.Second,
			WriteTimeout:   0, // streamed runs may last minutes
			RequestTimeout: 2 * time.Minute,
			MaxConcurrent:  runtime.NumCPU() * 2,
		},
		Overpass: OverpassConfig{
			URL:            fetch.DefaultOverpassURL,
			ServerTimeout:  25 * time.Second,
			AttemptTimeout: retry.AttemptTimeout,
			MaxAttempts:    retry.MaxAttempts,
			InitialBackoff: retry.InitialInterval,
			MaxBackoff:     retry.MaxInterval,
			RateLimitDelay: retry.RateLimitDelay,
		},
		Breaker: BreakerConfig{
			Enabled:          true,
			ConsecutiveFails: breaker.ConsecutiveFails,
			OpenTimeout:      breaker.Timeout,
		},
		Routing: RoutingConfig{
			SearchRadius:         engine.SearchRadius,
			MaxBBoxSpan:          engine.MaxBBoxSpan,
			LargestComponentOnly: engine.LargestComponentOnly,
			DefaultSpeed:         routing.DefaultSpeed,
			EmitEvery:            1,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load returns the defaults overlaid with the YAML file at path (if path is
// non-empty) and then the environment. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field constraint.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// applyEnv overlays ROUTER_* variables.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("ROUTER_ADDR", &cfg.Server.Addr)
	str("ROUTER_CORS_ORIGIN", &cfg.Server.CORSOrigin)
	num("ROUTER_MAX_CONCURRENT", &cfg.Server.MaxConcurrent)
	dur("ROUTER_REQUEST_TIMEOUT", &cfg.Server.RequestTimeout)

	str("ROUTER_OVERPASS_URL", &cfg.Overpass.URL)
	dur("ROUTER_ATTEMPT_TIMEOUT", &cfg.Overpass.AttemptTimeout)
	dur("ROUTER_RATE_LIMIT_DELAY", &cfg.Overpass.RateLimitDelay)
	if v, ok := lookup("ROUTER_MAX_ATTEMPTS"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			errs = append(errs, fmt.Errorf("ROUTER_MAX_ATTEMPTS: %w", err))
		} else {
			cfg.Overpass.MaxAttempts = uint(n)
		}
	}

	boolean("ROUTER_BREAKER_ENABLED", &cfg.Breaker.Enabled)

	float("ROUTER_SEARCH_RADIUS", &cfg.Routing.SearchRadius)
	float("ROUTER_MAX_BBOX_SPAN", &cfg.Routing.MaxBBoxSpan)
	boolean("ROUTER_LARGEST_COMPONENT_ONLY", &cfg.Routing.LargestComponentOnly)
	num("ROUTER_DEFAULT_SPEED", &cfg.Routing.DefaultSpeed)
	num("ROUTER_EMIT_EVERY", &cfg.Routing.EmitEvery)

	str("ROUTER_LOG_LEVEL", &cfg.Log.Level)
	boolean("ROUTER_LOG_DEVELOPMENT", &cfg.Log.Development)

	return errors.Join(errs...)
}

// RetryConfig converts the Overpass settings for fetch.NewRetrying.
func (c Config) RetryConfig() fetch.RetryConfig {
	return fetch.RetryConfig{
		MaxAttempts:     c.Overpass.MaxAttempts,
		InitialInterval: c.Overpass.InitialBackoff,
		MaxInterval:     c.Overpass.MaxBackoff,
		AttemptTimeout:  c.Overpass.AttemptTimeout,
		RateLimitDelay:  c.Overpass.RateLimitDelay,
	}
}

// BreakerConfig converts the breaker settings for fetch.NewBreaker.
func (c Config) BreakerConfig() fetch.BreakerConfig {
	b := fetch.DefaultBreakerConfig()
	b.ConsecutiveFails = c.Breaker.ConsecutiveFails
	b.Timeout = c.Breaker.OpenTimeout
	return b
}

// EngineConfig converts the routing settings for routing.NewEngine.
func (c Config) EngineConfig() routing.Config {
	return routing.Config{
		SearchRadius:         c.Routing.SearchRadius,
		MaxBBoxSpan:          c.Routing.MaxBBoxSpan,
		LargestComponentOnly: c.Routing.LargestComponentOnly,
	}
}

// NewLogger builds a zap logger at the configured level.
func (c LogConfig) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
