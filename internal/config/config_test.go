package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero buffer", func(c *Config) { c.Timeline.SubscriberBuffer = 0 }, "subscriber_buffer"},
		{"negative retention", func(c *Config) { c.Timeline.PendingRetention = -1 }, "pending_retention"},
		{"bad timezone", func(c *Config) { c.Timeline.DisplayTimezone = "Mars/Olympus" }, "display_timezone"},
		{"journal without path", func(c *Config) { c.Journal.Enabled = true; c.Journal.Path = "" }, "journal.path"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"metrics without namespace", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Namespace = "" }, "metrics.namespace"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoaderFilePrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roomline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
timeline:
  display_timezone: Europe/Berlin
  subscriber_buffer: 8
logging:
  format: json
`), 0o644))

	t.Setenv("ROOMLINE_TIMELINE_SUBSCRIBER_BUFFER", "16")

	loader := NewLoader()
	loader.SetConfigFile(path)
	loader.SetEnvFile("")
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "Europe/Berlin", cfg.Timeline.DisplayTimezone)
	assert.Equal(t, 16, cfg.Timeline.SubscriberBuffer, "env overrides file")
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 1024, cfg.Timeline.PendingRetention, "defaults fill the rest")
	assert.Equal(t, path, loader.ConfigFileUsed())
}

func TestLoaderEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("ROOMLINE_JOURNAL_ENABLED=true\nROOMLINE_JOURNAL_PATH=/tmp/journal.db\n"), 0o644))

	// godotenv does not override variables that are already set; make sure
	// ours are absent and cleaned up afterwards.
	t.Setenv("ROOMLINE_JOURNAL_ENABLED", "")
	t.Setenv("ROOMLINE_JOURNAL_PATH", "")
	os.Unsetenv("ROOMLINE_JOURNAL_ENABLED")
	os.Unsetenv("ROOMLINE_JOURNAL_PATH")

	loader := NewLoader()
	loader.SetEnvFile(envPath)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.True(t, cfg.Journal.Enabled)
	assert.Equal(t, "/tmp/journal.db", cfg.Journal.Path)
}

func TestLoaderMissingExplicitFile(t *testing.T) {
	loader := NewLoader()
	loader.SetEnvFile("")
	loader.SetConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := loader.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config file")
}

func TestLoaderRejectsInvalid(t *testing.T) {
	t.Setenv("ROOMLINE_TIMELINE_SUBSCRIBER_BUFFER", "0")

	loader := NewLoader()
	loader.SetEnvFile("")
	_, err := loader.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}
