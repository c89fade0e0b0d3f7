// Package config loads the YAML configuration used by the CLI to tune the
// engine and locate the media catalog.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration with YAML string parsing ("750ms", "2s").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)

	return nil
}

// Std returns the wrapped standard duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// HistoryConfig tunes the history manager.
type HistoryConfig struct {
	Capacity    int      `yaml:"capacity"`
	MergeWindow Duration `yaml:"merge_window"`
}

// SchedulerConfig tunes the scheduler.
type SchedulerConfig struct {
	MaxConcurrency int `yaml:"max_concurrency"`
}

// AnalyzerConfig tunes the analyzer.
type AnalyzerConfig struct {
	SlowThreshold Duration `yaml:"slow_threshold"`
	RecentWindow  int      `yaml:"recent_window"`
	Disabled      bool     `yaml:"disabled"`
}

// CatalogConfig locates the media catalog.
type CatalogConfig struct {
	DBPath string `yaml:"db_path"`
}

// Config is the application configuration.
type Config struct {
	History   HistoryConfig   `yaml:"history"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Analyzer  AnalyzerConfig  `yaml:"analyzer"`
	Catalog   CatalogConfig   `yaml:"catalog"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.History.Capacity < 0 {
		return fmt.Errorf("history capacity must not be negative")
	}
	if c.History.MergeWindow < 0 {
		return fmt.Errorf("history merge window must not be negative")
	}
	if c.Scheduler.MaxConcurrency < 0 {
		return fmt.Errorf("scheduler max concurrency must not be negative")
	}
	if c.Analyzer.SlowThreshold < 0 {
		return fmt.Errorf("analyzer slow threshold must not be negative")
	}
	if c.Analyzer.RecentWindow < 0 {
		return fmt.Errorf("analyzer recent window must not be negative")
	}
	return nil
}

// Load reads and validates a YAML configuration file. A missing path returns
// the zero config, so every setting falls back to the engine defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return &Config{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("could not read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("could not parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}
