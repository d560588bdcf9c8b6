// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the loadwatch daemon configuration from a YAML file
// and LOADWATCH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/loadwatch/internal/log"
	lwerrors "github.com/tombee/loadwatch/pkg/errors"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Config represents the complete loadwatch configuration.
type Config struct {
	Log        LogConfig       `yaml:"log"`
	Watch      WatchConfig     `yaml:"watch"`
	Namespaces NamespaceConfig `yaml:"namespaces"`
	Extensions ExtensionConfig `yaml:"extensions"`
	Deploy     DeployConfig    `yaml:"deploy"`
	Workers    WorkersConfig   `yaml:"workers"`
	Metrics    MetricsConfig   `yaml:"metrics"`

	// BaseDir is the directory relative nested watch roots are resolved
	// against.
	// Environment: LOADWATCH_BASE_DIR
	// Default: .
	BaseDir string `yaml:"base_dir"`

	// ShutdownTimeout bounds how long shutdown waits for subscriptions and
	// in-flight notifications.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	// Environment: LOG_LEVEL
	// Default: info
	Level string `yaml:"level"`

	// Format sets the output format (json, text).
	// Environment: LOG_FORMAT
	// Default: json
	Format string `yaml:"format"`

	// AddSource adds source file and line information to logs.
	// Environment: LOG_SOURCE
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// WatchConfig configures the default subscription. The debounce, create
// and rate settings also apply to nested subscriptions.
type WatchConfig struct {
	// Root is the directory watched by the default subscription.
	// Environment: LOADWATCH_WATCH_ROOT
	// Default: ./load
	Root string `yaml:"root"`

	// Patterns select the files the default subscription dispatches.
	Patterns []string `yaml:"patterns"`

	// Debounce coalesces bursts of modifications of one file.
	// Environment: LOADWATCH_DEBOUNCE
	// Default: 0 (disabled)
	Debounce time.Duration `yaml:"debounce"`

	// DispatchOnCreate treats file creation as a modification.
	// Environment: LOADWATCH_DISPATCH_ON_CREATE
	// Default: false
	DispatchOnCreate bool `yaml:"dispatch_on_create"`

	// MaxEventsPerMinute limits dispatches per subscription. 0 disables.
	MaxEventsPerMinute int `yaml:"max_events_per_minute"`

	// MaxDepth limits directory discovery depth. 0 means unlimited.
	MaxDepth int `yaml:"max_depth"`
}

// NamespaceConfig names the reserved key prefixes of meta-watcher files.
type NamespaceConfig struct {
	// KeyValue is the key prefix of key/value files declaring a nested watch.
	KeyValue string `yaml:"key_value"`

	// DirProperty holds the nested watch root in a key/value meta file.
	DirProperty string `yaml:"dir_property"`

	// FilterProperty holds the nested watch pattern in a key/value meta file.
	FilterProperty string `yaml:"filter_property"`

	// Document is the key prefix of XML files declaring nested watchers.
	Document string `yaml:"document"`
}

// ExtensionConfig classifies files by extension (without the dot).
type ExtensionConfig struct {
	KeyValue []string `yaml:"key_value"`
	Document []string `yaml:"document"`
	Archive  []string `yaml:"archive"`
}

// DeployConfig configures archive deployment.
type DeployConfig struct {
	// Dir is where archives are extracted.
	// Environment: LOADWATCH_DEPLOY_DIR
	// Default: ./deploy
	Dir string `yaml:"dir"`
}

// WorkersConfig bounds background work.
type WorkersConfig struct {
	// MaxConcurrent limits concurrent notifications and deployments.
	// Environment: LOADWATCH_MAX_WORKERS
	// Default: 16
	MaxConcurrent int `yaml:"max_concurrent"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables the endpoint.
	// Environment: LOADWATCH_METRICS_ADDR
	Addr string `yaml:"addr"`

	// Updates enables the websocket stream of configuration updates on
	// /updates. The stream is unauthenticated; bind Addr to loopback.
	// Environment: LOADWATCH_METRICS_UPDATES
	// Default: false
	Updates bool `yaml:"updates"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Watch: WatchConfig{
			Root: "./load",
			Patterns: []string{
				"**/*.properties",
				"**/*.cfg",
				"**/*.xml",
				"**/*.jar",
				"**/*.zip",
			},
		},
		Namespaces: NamespaceConfig{
			KeyValue:       "loadwatch.fileinstall",
			DirProperty:    "loadwatch.fileinstall.dir",
			FilterProperty: "loadwatch.fileinstall.filter",
			Document:       "loadwatch.watchers",
		},
		Extensions: ExtensionConfig{
			KeyValue: []string{"properties", "cfg"},
			Document: []string{"xml"},
			Archive:  []string{"jar", "zip"},
		},
		Deploy: DeployConfig{
			Dir: "./deploy",
		},
		Workers: WorkersConfig{
			MaxConcurrent: 16,
		},
		BaseDir:         ".",
		ShutdownTimeout: 30 * time.Second,
	}
}

// Load loads configuration from environment variables and optionally from a YAML file.
// Environment variables take precedence over file-based configuration.
// If configPath is empty, only environment variables are used.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &lwerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	// Apply defaults to any zero values (handles minimal configs)
	cfg.applyDefaults()

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &lwerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// applyDefaults fills in zero values with defaults.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}

	if c.Watch.Root == "" {
		c.Watch.Root = defaults.Watch.Root
	}
	if len(c.Watch.Patterns) == 0 {
		c.Watch.Patterns = defaults.Watch.Patterns
	}

	if c.Namespaces.KeyValue == "" {
		c.Namespaces.KeyValue = defaults.Namespaces.KeyValue
	}
	if c.Namespaces.DirProperty == "" {
		c.Namespaces.DirProperty = defaults.Namespaces.DirProperty
	}
	if c.Namespaces.FilterProperty == "" {
		c.Namespaces.FilterProperty = defaults.Namespaces.FilterProperty
	}
	if c.Namespaces.Document == "" {
		c.Namespaces.Document = defaults.Namespaces.Document
	}

	if c.Extensions.KeyValue == nil {
		c.Extensions.KeyValue = defaults.Extensions.KeyValue
	}
	if c.Extensions.Document == nil {
		c.Extensions.Document = defaults.Extensions.Document
	}
	if c.Extensions.Archive == nil {
		c.Extensions.Archive = defaults.Extensions.Archive
	}

	if c.Deploy.Dir == "" {
		c.Deploy.Dir = defaults.Deploy.Dir
	}
	if c.Workers.MaxConcurrent == 0 {
		c.Workers.MaxConcurrent = defaults.Workers.MaxConcurrent
	}
	if c.BaseDir == "" {
		c.BaseDir = defaults.BaseDir
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaults.ShutdownTimeout
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	// Expand home directory if present
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables.
func (c *Config) loadFromEnv() {
	// Log configuration
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = parseBool(val)
	}

	// Watch configuration
	if val := os.Getenv("LOADWATCH_WATCH_ROOT"); val != "" {
		c.Watch.Root = val
	}
	if val := os.Getenv("LOADWATCH_DEBOUNCE"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Watch.Debounce = duration
		}
	}
	if val := os.Getenv("LOADWATCH_DISPATCH_ON_CREATE"); val != "" {
		c.Watch.DispatchOnCreate = parseBool(val)
	}

	if val := os.Getenv("LOADWATCH_BASE_DIR"); val != "" {
		c.BaseDir = val
	}
	if val := os.Getenv("LOADWATCH_DEPLOY_DIR"); val != "" {
		c.Deploy.Dir = val
	}
	if val := os.Getenv("LOADWATCH_MAX_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Workers.MaxConcurrent = n
		}
	}
	if val := os.Getenv("LOADWATCH_METRICS_ADDR"); val != "" {
		c.Metrics.Addr = val
	}
	if val := os.Getenv("LOADWATCH_METRICS_UPDATES"); val != "" {
		c.Metrics.Updates = parseBool(val)
	}
}

func parseBool(val string) bool {
	return val == "1" || strings.ToLower(val) == "true"
}

// LoggerConfig converts the log section for log.New.
func (c *Config) LoggerConfig() *log.Config {
	cfg := log.DefaultConfig()
	cfg.Level = c.Log.Level
	cfg.Format = log.Format(c.Log.Format)
	cfg.AddSource = c.Log.AddSource
	return cfg
}
