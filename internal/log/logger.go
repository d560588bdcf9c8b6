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

// Package log builds the slog loggers used across loadwatch and the
// attribute helpers that keep field names consistent between packages.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format selects the slog handler.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// LevelTrace sits below Debug and is reserved for per-event output from the
// watch loops.
const LevelTrace = slog.Level(-8)

// Attribute keys shared by every package.
const (
	SubscriptionKey = "subscription"
	KeyKey          = "key"
	PathKey         = "path"
	EventKey        = "event"
	DurationKey     = "duration_ms"
)

var levels = map[string]slog.Level{
	"trace":   LevelTrace,
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// Config describes how New builds a logger. Zero values fall back to info
// level JSON on stderr.
type Config struct {
	Level     string
	Format    Format
	Output    io.Writer
	AddSource bool
}

// DefaultConfig returns info level JSON on stderr.
func DefaultConfig() *Config {
	return &Config{Level: "info", Format: FormatJSON, Output: os.Stderr}
}

// FromEnv reads the logger settings used before a configuration file is
// loaded:
//
//	LOADWATCH_DEBUG      true or 1 forces debug level with source locations
//	LOADWATCH_LOG_LEVEL  level, preferred over LOG_LEVEL
//	LOG_LEVEL            trace, debug, info, warn or error
//	LOG_FORMAT           json or text
//	LOG_SOURCE           1 adds source locations
func FromEnv() *Config {
	cfg := DefaultConfig()

	switch os.Getenv("LOADWATCH_DEBUG") {
	case "true", "1":
		cfg.Level = "debug"
		cfg.AddSource = true
	case "":
		if level := firstEnv("LOADWATCH_LOG_LEVEL", "LOG_LEVEL"); level != "" {
			cfg.Level = strings.ToLower(level)
		}
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Format = Format(strings.ToLower(format))
	}
	if os.Getenv("LOG_SOURCE") == "1" {
		cfg.AddSource = true
	}
	return cfg
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// New builds a logger from cfg. A nil cfg means DefaultConfig.
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: cfg.AddSource}

	if cfg.Format == FormatText {
		return slog.New(slog.NewTextHandler(out, opts))
	}
	return slog.New(slog.NewJSONHandler(out, opts))
}

// parseLevel maps a level name to slog; unknown names mean info.
func parseLevel(level string) slog.Level {
	if l, ok := levels[strings.ToLower(level)]; ok {
		return l
	}
	return slog.LevelInfo
}

// WithComponent tags logger, or the default logger when nil, with a
// component name.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", component)
}

// WithSubscription tags logger with a watch subscription's name and
// instance ID.
func WithSubscription(logger *slog.Logger, name, id string) *slog.Logger {
	return logger.With(slog.String(SubscriptionKey, name), slog.String("subscription_id", id))
}

func Error(err error) slog.Attr { return slog.Any("error", err) }

func Path(path string) slog.Attr { return slog.String(PathKey, path) }

func Key(key string) slog.Attr { return slog.String(KeyKey, key) }

// Trace logs at LevelTrace, skipping attribute evaluation when disabled.
func Trace(logger *slog.Logger, msg string, attrs ...slog.Attr) {
	ctx := context.Background()
	if logger.Enabled(ctx, LevelTrace) {
		logger.LogAttrs(ctx, LevelTrace, msg, attrs...)
	}
}
