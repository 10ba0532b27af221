// Package config loads the process-wide dispatcher configuration.
//
// Sources are applied in increasing priority:
//  1. httpclient.DefaultConfig() and the defaults below
//  2. an optional YAML file
//  3. environment variables prefixed with DISPATCH_ (DISPATCH_MAX_RETRIES=3)
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	envprovider "github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kroma-labs/dispatch-go/httpclient"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "DISPATCH_"

// Config is the full process configuration.
type Config struct {
	httpclient.Config `koanf:",squash"`

	// ServiceName names the dispatcher in traces, metrics and breaker keys.
	ServiceName string `koanf:"service_name"`

	// LogLevel is a zerolog level name.
	LogLevel string `koanf:"log_level" validate:"oneof=trace debug info warn error disabled"`

	// MaxConcurrentAsync bounds running async dispatches. 0 = unbounded.
	MaxConcurrentAsync int `koanf:"max_concurrent_async" validate:"gte=0"`

	// BreakerRedisAddr, when set, shares circuit breaker state through Redis.
	BreakerRedisAddr string `koanf:"breaker_redis_addr" validate:"omitempty,hostname_port"`
}

// Load reads the configuration. An empty path skips the YAML file; a
// non-empty path must exist.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	if err := k.Load(envprovider.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// envKey maps DISPATCH_RETRY_INTERVAL to retry_interval.
func envKey(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
}

func loadDefaults(k *koanf.Koanf) error {
	d := httpclient.DefaultConfig()

	defaults := map[string]any{
		"timeout":              d.Timeout.String(),
		"connect_timeout":      d.ConnectTimeout.String(),
		"delay":                d.Delay.String(),
		"debug":                d.Debug,
		"retry_interval":       d.RetryInterval.String(),
		"max_retries":          d.MaxRetries,
		"max_elapsed_time":     d.MaxElapsedTime.String(),
		"service_name":         "dispatch",
		"log_level":            "info",
		"max_concurrent_async": 0,
		"breaker_redis_addr":   "",
	}

	return k.Load(confmap.Provider(defaults, "."), nil)
}

var validate = validator.New()

// FieldError describes one rejected configuration value.
type FieldError struct {
	Field string
	Rule  string
	Value any
}

// ValidationError lists every rejected configuration value.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s failed %q (got %v)", fe.Field, fe.Rule, fe.Value))
	}
	return strings.Join(parts, "; ")
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			out := &ValidationError{Errors: make([]FieldError, 0, len(verrs))}
			for _, fe := range verrs {
				out.Errors = append(out.Errors, FieldError{
					Field: fe.Field(),
					Rule:  fe.Tag(),
					Value: fe.Value(),
				})
			}
			return out
		}
		return err
	}
	return nil
}
