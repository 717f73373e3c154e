package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"github.com/c360/topicviews/bridge"
	"github.com/c360/topicviews/gateway"
	"github.com/c360/topicviews/pkg/security"
)

// Duration is a time.Duration that unmarshals from JSON duration strings
// ("2s", "500ms") as well as nanosecond numbers.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
		return nil
	case float64:
		*d = Duration(time.Duration(v))
		return nil
	default:
		return fmt.Errorf("duration must be a string or a number, got %T", raw)
	}
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the standard library representation
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Loader loads configuration from layered JSON files. Later layers override
// earlier ones; environment variables override everything.
type Loader struct {
	layers    []string
	envPrefix string
	validate  bool
}

// NewLoader creates a config loader with the TOPICVIEWS env prefix
func NewLoader() *Loader {
	return &Loader{
		envPrefix: "TOPICVIEWS",
		validate:  true,
	}
}

// AddLayer appends a config file path. Layers that do not exist are skipped
// at load time.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation toggles validation of the merged configuration
func (l *Loader) EnableValidation(enable bool) {
	l.validate = enable
}

// LoadFile loads a single config file over the defaults
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, layers, and environment overrides
func (l *Loader) Load() (*Config, error) {
	cfg := l.defaults()

	for _, path := range l.layers {
		layer, err := l.loadJSONFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("load config layer %s: %w", path, err)
		}
		cfg = merge(cfg, layer)
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validate {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

func (l *Loader) defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "topicviews",
			Environment: "dev",
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
			Timeout:       Duration(5 * time.Second),
		},
		Gateway: gateway.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadJSONFile reads and decodes one config layer
func (l *Loader) loadJSONFile(path string) (*Config, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := validateJSONDepth(data); err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// merge overlays the override's set sections onto base. Section granularity
// is deliberate: a layer that sets any field of a section owns the section.
func merge(base, override *Config) *Config {
	out := base.Clone()

	if override.Service != (ServiceConfig{}) {
		out.Service = override.Service
	}
	if override.NATS != (NATSConfig{}) {
		out.NATS = override.NATS
	}
	if override.Bridge != (bridge.Config{}) {
		out.Bridge = override.Bridge
	}
	if override.Gateway.Addr != "" {
		out.Gateway = override.Gateway
	}
	if override.Metrics != (MetricsConfig{}) {
		out.Metrics = override.Metrics
	}
	if override.Persistence != (PersistenceConfig{}) {
		out.Persistence = override.Persistence
	}
	if override.Logging != (LoggingConfig{}) {
		out.Logging = override.Logging
	}
	if !reflect.DeepEqual(override.Security, security.Config{}) {
		out.Security = override.Security
	}
	return out
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	get := func(suffix string) (string, error) {
		key := l.envPrefix + suffix
		val := os.Getenv(key)
		if err := validateEnvVar(key, val); err != nil {
			return "", err
		}
		return val, nil
	}

	overrides := []struct {
		suffix string
		apply  func(string)
	}{
		{"_SERVICE_NAME", func(v string) { cfg.Service.Name = v }},
		{"_ENVIRONMENT", func(v string) { cfg.Service.Environment = v }},
		{"_NATS_URL", func(v string) { cfg.NATS.URL = v }},
		{"_NATS_USERNAME", func(v string) { cfg.NATS.Username = v }},
		{"_NATS_PASSWORD", func(v string) { cfg.NATS.Password = v }},
		{"_NATS_TOKEN", func(v string) { cfg.NATS.Token = v }},
		{"_GATEWAY_ADDR", func(v string) { cfg.Gateway.Addr = v }},
		{"_SOURCE_SUBJECT", func(v string) { cfg.Bridge.SourceSubject = v }},
		{"_LOG_LEVEL", func(v string) { cfg.Logging.Level = v }},
		{"_LOG_FORMAT", func(v string) { cfg.Logging.Format = v }},
	}
	for _, o := range overrides {
		val, err := get(o.suffix)
		if err != nil {
			return err
		}
		if val != "" {
			o.apply(val)
		}
	}

	if val, err := get("_METRICS_PORT"); err != nil {
		return err
	} else if val != "" {
		port, convErr := strconv.Atoi(val)
		if convErr != nil {
			return fmt.Errorf("%s_METRICS_PORT is not a number: %q", l.envPrefix, val)
		}
		cfg.Metrics.Port = port
	}
	return nil
}
