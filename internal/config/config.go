// Package config provides unified configuration loading for sweepsim.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/nvandessel/sweepsim/internal/logging"
	"gopkg.in/yaml.v3"
)

// SimConfig contains all sweepsim configuration settings.
type SimConfig struct {
	// Sweep controls scheduling and per-job budgets.
	Sweep SweepConfig `json:"sweep" yaml:"sweep"`

	// Costs maps a resource to the seconds needed to replenish one unit.
	// Resources not listed are free.
	Costs map[string]float64 `json:"costs" yaml:"costs"`

	Loot LootConfig `json:"loot" yaml:"loot"`

	Catalog CatalogConfig `json:"catalog" yaml:"catalog"`

	Server ServerConfig `json:"server" yaml:"server"`

	// Logging contains settings for operational and event logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// SweepConfig configures the worker pool and runner budgets.
type SweepConfig struct {
	// Workers is the pool size. Zero means one worker per CPU, read once
	// when the pool is created.
	Workers int `json:"workers" yaml:"workers"`

	// Trials is the default number of trials per encounter.
	Trials int `json:"trials" yaml:"trials"`

	// Ticks is the default tick budget per encounter.
	Ticks int `json:"ticks" yaml:"ticks"`

	// Seed seeds the reference runner.
	Seed uint64 `json:"seed" yaml:"seed"`

	// TrackHistory copies a snapshot of the results after every completed
	// sweep into the history store.
	TrackHistory bool `json:"track_history" yaml:"track_history"`
}

// WorkerCount resolves Workers against the host's CPU count.
func (c SweepConfig) WorkerCount() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

// LootConfig configures the loot pass.
type LootConfig struct {
	// Path is a YAML loot table. Empty leaves loot fields NaN.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// SessionSeconds is the time budget for rare drop chances.
	SessionSeconds float64 `json:"session_seconds" yaml:"session_seconds"`

	// Alch converts drops to currency at a time cost.
	Alch bool `json:"alch" yaml:"alch"`
}

// CatalogConfig locates the encounter catalog.
type CatalogConfig struct {
	Path string `json:"path" yaml:"path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`

	// ProgressRate and ProgressBurst throttle progress pushes per sweep.
	ProgressRate  float64 `json:"progress_rate" yaml:"progress_rate"`
	ProgressBurst int     `json:"progress_burst" yaml:"progress_burst"`

	// AllowedOrigins feeds CORS and the websocket origin check. Empty
	// allows same-origin only.
	AllowedOrigins []string `json:"allowed_origins,omitempty" yaml:"allowed_origins,omitempty"`
}

// LoggingConfig configures sweepsim's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables event logging to Dir/events.jsonl.
	Level string `json:"level" yaml:"level"`

	// Dir holds events.jsonl. Defaults to ~/.sweepsim.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// Default returns a SimConfig with sensible defaults.
func Default() *SimConfig {
	return &SimConfig{
		Sweep: SweepConfig{
			Workers: 0,
			Trials:  1000,
			Ticks:   2_000_000,
		},
		Costs: map[string]float64{},
		Loot: LootConfig{
			SessionSeconds: 3600,
		},
		Catalog: CatalogConfig{
			Path: "catalog.yaml",
		},
		Server: ServerConfig{
			Addr:          "127.0.0.1:8740",
			ProgressRate:  10,
			ProgressBurst: 5,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns ~/.sweepsim/config.yaml, or "" when the home
// directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".sweepsim", "config.yaml")
}

// Load loads configuration from path, or from the default location when
// path is empty, then applies environment overrides.
// Order: defaults -> config file -> environment variables
func Load(path string) (*SimConfig, error) {
	config := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		_, statErr := os.Stat(path)
		if statErr == nil || explicit {
			fileConfig, err := LoadFromFile(path)
			if err != nil {
				return nil, fmt.Errorf("loading config file: %w", err)
			}
			config = fileConfig
		}
	}

	applyEnvOverrides(config)
	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*SimConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if config.Costs == nil {
		config.Costs = map[string]float64{}
	}

	config.Catalog.Path = expandEnvVars(config.Catalog.Path)
	config.Loot.Path = expandEnvVars(config.Loot.Path)
	config.Logging.Dir = expandEnvVars(config.Logging.Dir)

	return config, nil
}

// Validate checks that the configuration is valid.
func (c *SimConfig) Validate() error {
	if c.Sweep.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", c.Sweep.Workers)
	}
	if c.Sweep.Trials <= 0 {
		return fmt.Errorf("trials must be positive, got %d", c.Sweep.Trials)
	}
	if c.Sweep.Ticks <= 0 {
		return fmt.Errorf("ticks must be positive, got %d", c.Sweep.Ticks)
	}
	for r, s := range c.Costs {
		if s < 0 {
			return fmt.Errorf("cost for %q must be non-negative, got %v", r, s)
		}
	}
	if c.Loot.SessionSeconds < 0 {
		return fmt.Errorf("session_seconds must be non-negative, got %v", c.Loot.SessionSeconds)
	}
	if c.Server.ProgressRate < 0 || c.Server.ProgressBurst < 0 {
		return fmt.Errorf("progress throttle must be non-negative, got rate %v burst %d", c.Server.ProgressRate, c.Server.ProgressBurst)
	}
	if c.Logging.Level != "" && !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}
	return nil
}

// EventDir returns the directory for events.jsonl.
func (c *SimConfig) EventDir() string {
	if c.Logging.Dir != "" {
		return c.Logging.Dir
	}
	if p := DefaultPath(); p != "" {
		return filepath.Dir(p)
	}
	return "."
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *SimConfig) {
	if v := os.Getenv("SWEEPSIM_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Sweep.Workers = n
		}
	}
	if v := os.Getenv("SWEEPSIM_TRIALS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Sweep.Trials = n
		}
	}
	if v := os.Getenv("SWEEPSIM_TICKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Sweep.Ticks = n
		}
	}
	if v := os.Getenv("SWEEPSIM_TRACK_HISTORY"); v != "" {
		config.Sweep.TrackHistory = v == "true" || v == "1"
	}
	if v := os.Getenv("SWEEPSIM_SESSION_SECONDS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Loot.SessionSeconds = f
		}
	}
	if v := os.Getenv("SWEEPSIM_CATALOG"); v != "" {
		config.Catalog.Path = v
	}
	if v := os.Getenv("SWEEPSIM_ADDR"); v != "" {
		config.Server.Addr = v
	}
	if v := os.Getenv("SWEEPSIM_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
