// Package config loads and validates the topic view service configuration:
// layered JSON files with environment variable overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/c360/topicviews/bridge"
	"github.com/c360/topicviews/gateway"
	"github.com/c360/topicviews/pkg/security"
)

// Config represents the complete service configuration
type Config struct {
	Service     ServiceConfig     `json:"service"`
	NATS        NATSConfig        `json:"nats"`
	Bridge      bridge.Config     `json:"bridge,omitempty"`
	Gateway     gateway.Config    `json:"gateway,omitempty"`
	Metrics     MetricsConfig     `json:"metrics,omitempty"`
	Persistence PersistenceConfig `json:"persistence,omitempty"`
	Logging     LoggingConfig     `json:"logging,omitempty"`
	Security    security.Config   `json:"security,omitempty"`
}

// ServiceConfig defines service identity
type ServiceConfig struct {
	// Name identifies this instance in logs and NATS client names
	Name string `json:"name"`

	// Environment is "prod", "dev", or "test"
	Environment string `json:"environment,omitempty"`
}

// NATSConfig for the NATS connection
type NATSConfig struct {
	URL           string   `json:"url"`
	MaxReconnects int      `json:"max_reconnects,omitempty"`
	ReconnectWait Duration `json:"reconnect_wait,omitempty"`
	Timeout       Duration `json:"timeout,omitempty"`
	Username      string   `json:"username,omitempty"`
	Password      string   `json:"password,omitempty"`
	Token         string   `json:"token,omitempty"`
}

// MetricsConfig for the Prometheus metrics endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port,omitempty"`
	Path    string `json:"path,omitempty"`
}

// PersistenceConfig for view definition persistence
type PersistenceConfig struct {
	// Enabled persists view definitions in a NATS KV bucket so they survive
	// restarts. Disabled keeps views in memory only.
	Enabled bool `json:"enabled"`

	// Bucket is the KV bucket name (default: "topicviews_views")
	Bucket string `json:"bucket,omitempty"`
}

// LoggingConfig for structured logging
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`  // debug, info, warn, error
	Format string `json:"format,omitempty"` // json, text
}

// Validate checks the configuration and applies defaults to the sections
// that have them.
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return errors.New("service.name is required")
	}
	if !isValidNATSSubjectPart(c.Service.Name) {
		return fmt.Errorf(
			"service.name %q is not valid for NATS subjects (must be alphanumeric with dots, dashes, underscores)",
			c.Service.Name)
	}

	if c.NATS.URL == "" {
		return errors.New("nats.url is required")
	}

	if err := c.Bridge.Validate(); err != nil {
		return fmt.Errorf("bridge configuration: %w", err)
	}
	if err := c.Gateway.Validate(); err != nil {
		return fmt.Errorf("gateway configuration: %w", err)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port == 0 {
			c.Metrics.Port = 9090
		}
		if c.Metrics.Path == "" {
			c.Metrics.Path = "/metrics"
		}
	}

	if c.Persistence.Enabled && c.Persistence.Bucket == "" {
		c.Persistence.Bucket = "topicviews_views"
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format %q is not one of json, text", c.Logging.Format)
	}

	return nil
}

// isValidNATSSubjectPart checks if a string is valid for use in NATS
// subjects: alphanumeric, dots, dashes, and underscores.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// String returns a JSON representation with credentials redacted
func (c *Config) String() string {
	clone := c.Clone()
	if clone.NATS.Password != "" {
		clone.NATS.Password = "[redacted]"
	}
	if clone.NATS.Token != "" {
		clone.NATS.Token = "[redacted]"
	}
	data, _ := json.MarshalIndent(clone, "", "  ")
	return string(data)
}

// SaveToFile saves the configuration to a JSON file
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return safeWriteFile(path, data)
}
