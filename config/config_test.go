package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "topicviews", cfg.Service.Name)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, 2*time.Second, cfg.NATS.ReconnectWait.Std())
	assert.Equal(t, ":8080", cfg.Gateway.Addr)
	assert.Equal(t, "topicviews.source.>", cfg.Bridge.SourceSubject)
	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"service": {"name": "views-prod", "environment": "prod"},
		"nats": {"url": "nats://nats.internal:4222", "reconnect_wait": "5s"},
		"persistence": {"enabled": true}
	}`)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "views-prod", cfg.Service.Name)
	assert.Equal(t, "nats://nats.internal:4222", cfg.NATS.URL)
	assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait.Std())
	assert.True(t, cfg.Persistence.Enabled)
	assert.Equal(t, "topicviews_views", cfg.Persistence.Bucket)
	// Sections the file does not touch keep their defaults
	assert.Equal(t, ":8080", cfg.Gateway.Addr)
}

func TestLoadLayersLaterWins(t *testing.T) {
	base := writeConfig(t, `{"service": {"name": "base"}}`)
	over := writeConfig(t, `{"service": {"name": "override"}}`)

	l := NewLoader()
	l.AddLayer(base)
	l.AddLayer(over)
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "override", cfg.Service.Name)
}

func TestLoadSkipsMissingLayers(t *testing.T) {
	l := NewLoader()
	l.AddLayer(filepath.Join(t.TempDir(), "missing.json"))
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "topicviews", cfg.Service.Name)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TOPICVIEWS_SERVICE_NAME", "views-env")
	t.Setenv("TOPICVIEWS_NATS_URL", "nats://env:4222")
	t.Setenv("TOPICVIEWS_METRICS_PORT", "9191")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "views-env", cfg.Service.Name)
	assert.Equal(t, "nats://env:4222", cfg.NATS.URL)
	assert.Equal(t, 9191, cfg.Metrics.Port)
}

func TestEnvOverrideRejectsBadPort(t *testing.T) {
	t.Setenv("TOPICVIEWS_METRICS_PORT", "not-a-port")
	_, err := NewLoader().Load()
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty service name", func(c *Config) { c.Service.Name = "" }},
		{"service name with spaces", func(c *Config) { c.Service.Name = "my service" }},
		{"empty nats url", func(c *Config) { c.NATS.URL = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"negative bridge queue", func(c *Config) { c.Bridge.QueueSize = -1 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewLoader().defaults()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestStringRedactsCredentials(t *testing.T) {
	cfg := NewLoader().defaults()
	cfg.NATS.Password = "hunter2"
	cfg.NATS.Token = "tok"

	out := cfg.String()
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, `"tok"`)
	assert.Contains(t, out, "[redacted]")
	// Redaction must not touch the original
	assert.Equal(t, "hunter2", cfg.NATS.Password)
}

func TestCloneIsIndependent(t *testing.T) {
	cfg := NewLoader().defaults()
	clone := cfg.Clone()
	clone.Service.Name = "changed"
	assert.Equal(t, "topicviews", cfg.Service.Name)
}

func TestSaveAndReloadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.json")

	cfg := NewLoader().defaults()
	cfg.Service.Name = "saved-service"
	cfg.NATS.ReconnectWait = Duration(7 * time.Second)
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := NewLoader().LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "saved-service", loaded.Service.Name)
	assert.Equal(t, 7*time.Second, loaded.NATS.ReconnectWait.Std())
}

func TestDurationUnmarshal(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"1m30s"`), &d))
	assert.Equal(t, 90*time.Second, d.Std())

	require.NoError(t, json.Unmarshal([]byte(`1000000000`), &d))
	assert.Equal(t, time.Second, d.Std())

	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))
	assert.Error(t, json.Unmarshal([]byte(`true`), &d))
}

func TestLoadRejectsUnsafeFiles(t *testing.T) {
	dir := t.TempDir()

	notJSON := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(notJSON, []byte("{}"), 0600))
	_, err := NewLoader().LoadFile(notJSON)
	assert.Error(t, err)

	deep := filepath.Join(dir, "deep.json")
	require.NoError(t, os.WriteFile(deep,
		[]byte(strings.Repeat("[", 101)+strings.Repeat("]", 101)), 0600))
	_, err = NewLoader().LoadFile(deep)
	assert.Error(t, err)
}
