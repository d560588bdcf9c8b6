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

// Package filter decides which files a watch subscription cares about.
//
// Every filter implements the Engine capability. Implementations are looked
// up by identifier through a Registry, so meta-watcher documents can name the
// filter they want without the watch engine knowing the concrete type.
package filter

import (
	"log/slog"
	"path/filepath"
	"strings"
)

// Built-in filter identifiers.
const (
	DefaultID = "default"
	GlobID    = "glob"
	ExprID    = "expr"
	JQID      = "jq"
)

// Engine decides per candidate file whether it is of interest.
//
// Bind must be called before the first Accept. Implementations are safe for
// concurrent use.
type Engine interface {
	// Bind anchors root-relative rules at root.
	Bind(root string)

	// AddPattern adds an inclusion rule. Unsupported shapes are ignored.
	AddPattern(pattern string)

	// Accept reports whether path should be dispatched.
	Accept(path string) bool
}

var logger = slog.Default().With(slog.String("component", "filter"))

// extension returns the suffix after the last dot of the base name.
func extension(path string) (string, bool) {
	name := filepath.Base(path)
	idx := strings.LastIndex(name, ".")
	if idx == -1 {
		return "", false
	}
	return name[idx+1:], true
}
