// Package config loads revlog settings from a YAML file with REVLOG_*
// environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "REVLOG_"

// Actor is the default actor for CLI-initiated changes (reverts).
type Actor struct {
	ID      string `yaml:"id" env:"ID"`
	Display string `yaml:"display" env:"DISPLAY"`
}

// Config holds revlog settings.
type Config struct {
	// Database is the SQLite file holding records and change history.
	Database string `yaml:"database" env:"DATABASE"`

	// Declarations is a CUE file or directory of tracked type declarations.
	Declarations string `yaml:"declarations" env:"DECLARATIONS"`

	// MaxRecords is the engine-wide retention default. 0 keeps everything.
	MaxRecords int `yaml:"max_records" env:"MAX_RECORDS"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`

	Actor Actor `yaml:"actor" envPrefix:"ACTOR_"`
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		Database: "revlog.db",
		LogLevel: "info",
	}
}

// Load reads path (if non-empty) over the defaults, then applies
// environment overrides. Unknown YAML keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database) == "" {
		return errors.New("config: database is required")
	}
	if c.MaxRecords < 0 {
		return fmt.Errorf("config: max_records must be >= 0, got %d", c.MaxRecords)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("config: unknown log_level %q", s)
}
