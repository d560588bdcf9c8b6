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

package config

import (
	"fmt"
	"net"
	"strings"
)

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, warning, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	if c.Watch.Root == "" {
		errs = append(errs, "watch.root is required")
	}
	for i, p := range c.Watch.Patterns {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, fmt.Sprintf("watch.patterns[%d] must not be empty", i))
		}
	}
	if c.Watch.Debounce < 0 {
		errs = append(errs, fmt.Sprintf("watch.debounce must not be negative, got %v", c.Watch.Debounce))
	}
	if c.Watch.MaxEventsPerMinute < 0 {
		errs = append(errs, fmt.Sprintf("watch.max_events_per_minute must not be negative, got %d", c.Watch.MaxEventsPerMinute))
	}
	if c.Watch.MaxDepth < 0 {
		errs = append(errs, fmt.Sprintf("watch.max_depth must not be negative, got %d", c.Watch.MaxDepth))
	}

	if c.Namespaces.DirProperty == c.Namespaces.FilterProperty {
		errs = append(errs, "namespaces.dir_property and namespaces.filter_property must differ")
	}

	seen := make(map[string]string)
	classes := []struct {
		name string
		exts []string
	}{
		{"key_value", c.Extensions.KeyValue},
		{"document", c.Extensions.Document},
		{"archive", c.Extensions.Archive},
	}
	for _, class := range classes {
		for _, ext := range class.exts {
			ext = strings.ToLower(ext)
			if ext == "" || strings.HasPrefix(ext, ".") {
				errs = append(errs, fmt.Sprintf("extensions.%s entries must be non-empty and without a leading dot, got %q", class.name, ext))
				continue
			}
			if other, ok := seen[ext]; ok && other != class.name {
				errs = append(errs, fmt.Sprintf("extension %q is listed under both extensions.%s and extensions.%s", ext, other, class.name))
			}
			seen[ext] = class.name
		}
	}

	if c.Deploy.Dir == "" {
		errs = append(errs, "deploy.dir is required")
	}
	if c.Workers.MaxConcurrent < 1 {
		errs = append(errs, fmt.Sprintf("workers.max_concurrent must be at least 1, got %d", c.Workers.MaxConcurrent))
	}
	if c.Metrics.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			errs = append(errs, fmt.Sprintf("metrics.addr must be host:port, got %q", c.Metrics.Addr))
		}
	}
	if c.Metrics.Updates && c.Metrics.Addr == "" {
		errs = append(errs, "metrics.updates requires metrics.addr")
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("shutdown_timeout must be positive, got %v", c.ShutdownTimeout))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}
