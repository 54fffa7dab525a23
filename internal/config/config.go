// Package config loads roomline configuration from defaults, a YAML file,
// a .env file and ROOMLINE_* environment variables.
package config

import (
	"fmt"
	"time"
)

// Config is the top-level configuration.
type Config struct {
	Timeline TimelineConfig `yaml:"timeline" mapstructure:"timeline"`
	Journal  JournalConfig  `yaml:"journal" mapstructure:"journal"`
	Logging  LoggingConfig  `yaml:"logging" mapstructure:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" mapstructure:"metrics"`
}

// TimelineConfig tunes the reconciliation engine.
type TimelineConfig struct {
	// DisplayTimezone is the IANA zone used to compute day-divider boundaries.
	DisplayTimezone string `yaml:"display_timezone" mapstructure:"display_timezone"`

	// SubscriberBuffer bounds each subscriber's queue, in diff batches.
	SubscriberBuffer int `yaml:"subscriber_buffer" mapstructure:"subscriber_buffer"`

	// PendingRetention caps relation targets held for events not yet seen.
	// Zero means unbounded.
	PendingRetention int `yaml:"pending_retention" mapstructure:"pending_retention"`

	// HideReadMarker suppresses the fully-read marker item.
	HideReadMarker bool `yaml:"hide_read_marker" mapstructure:"hide_read_marker"`
}

// JournalConfig controls the ingestion journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level" mapstructure:"level"`
	Format       string `yaml:"format" mapstructure:"format"`
	EnableCaller bool   `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// MetricsConfig controls the Prometheus collectors.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	Addr      string `yaml:"addr" mapstructure:"addr"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Timeline: TimelineConfig{
			DisplayTimezone:  "UTC",
			SubscriberBuffer: 64,
			PendingRetention: 1024,
		},
		Journal: JournalConfig{
			Enabled: false,
			Path:    "roomline.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Namespace: "roomline",
			Addr:      ":9464",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Timeline.SubscriberBuffer < 1 {
		return fmt.Errorf("timeline.subscriber_buffer must be at least 1")
	}
	if c.Timeline.PendingRetention < 0 {
		return fmt.Errorf("timeline.pending_retention must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("timeline.display_timezone: %w", err)
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("journal.path is required when journal.enabled is set")
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be one of json, console")
	}

	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		return fmt.Errorf("metrics.namespace is required when metrics.enabled is set")
	}

	return nil
}

// Location resolves the display timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timeline.DisplayTimezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timeline.DisplayTimezone)
}
