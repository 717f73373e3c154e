package gateway

import (
	"fmt"

	"github.com/c360/topicviews/errors"
)

// Config holds configuration for the gateway surfaces
type Config struct {
	// Addr is the listen address for the admin API (e.g. ":8080")
	Addr string `json:"addr"`

	// EnableCORS enables CORS headers (default: false, requires explicit cors_origins)
	EnableCORS bool `json:"enable_cors"`

	// CORSOrigins lists allowed CORS origins (required when EnableCORS is true).
	// Use ["*"] for development only - production should specify exact origins.
	CORSOrigins []string `json:"cors_origins,omitempty"`

	// MaxRequestSize limits request body size in bytes (default: 64KB). View
	// specifications are small; a large body is always a client error.
	MaxRequestSize int64 `json:"max_request_size,omitempty"`

	// FeedBufferSize is the per-client send queue for the WebSocket feed
	// (default: 256). A client that cannot drain its queue is disconnected.
	FeedBufferSize int `json:"feed_buffer_size,omitempty"`
}

// Validate ensures the gateway configuration is valid
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"addr cannot be empty")
	}

	if c.MaxRequestSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot be negative")
	}
	if c.MaxRequestSize == 0 {
		c.MaxRequestSize = 64 * 1024
	}
	if c.MaxRequestSize > 10*1024*1024 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot exceed 10MB")
	}

	if c.FeedBufferSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("feed_buffer_size cannot be negative, got %d", c.FeedBufferSize))
	}
	if c.FeedBufferSize == 0 {
		c.FeedBufferSize = 256
	}

	// CORS requires explicit origin configuration for security
	if c.EnableCORS && len(c.CORSOrigins) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"enable_cors requires explicit cors_origins configuration (use [\"*\"] for development only)")
	}

	return nil
}

// DefaultConfig returns default gateway configuration
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		EnableCORS:     false,
		CORSOrigins:    []string{},
		MaxRequestSize: 64 * 1024,
		FeedBufferSize: 256,
	}
}
