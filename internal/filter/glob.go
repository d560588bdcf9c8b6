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

package filter

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// Glob matches root-relative paths against doublestar patterns.
// Patterns support extended glob syntax:
//   - * matches any sequence of non-path-separators
//   - ** matches any sequence of characters including path separators
//   - ? matches a single non-path-separator character
//   - [class] matches any single character in the class
//
// A pattern prefixed with "!" excludes matching files. Excludes are applied
// after includes, and DefaultExcludePatterns always apply.
type Glob struct {
	mu              sync.RWMutex
	root            string
	includePatterns []string
	excludePatterns []string
}

// NewGlob creates an empty glob filter.
func NewGlob() *Glob {
	return &Glob{}
}

// Bind sets the root that patterns are evaluated against.
func (g *Glob) Bind(root string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.root = filepath.Clean(root)
}

// AddPattern adds an include pattern, or an exclude pattern when prefixed
// with "!". Invalid patterns are ignored.
func (g *Glob) AddPattern(pattern string) {
	exclude := strings.HasPrefix(pattern, "!")
	pattern = strings.TrimPrefix(pattern, "!")

	if pattern == "" || !doublestar.ValidatePattern(pattern) {
		logger.Warn("ignoring invalid glob pattern", "pattern", pattern)
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if exclude {
		g.excludePatterns = append(g.excludePatterns, pattern)
	} else {
		g.includePatterns = append(g.includePatterns, pattern)
	}
}

// Accept returns true if the path is below the root, matches an include
// pattern and doesn't match any exclude pattern.
func (g *Glob) Accept(path string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.root == "" {
		return false
	}
	rel, err := filepath.Rel(g.root, filepath.Clean(path))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	rel = filepath.ToSlash(rel)
	base := filepath.Base(path)

	for _, pattern := range DefaultExcludePatterns() {
		if matchPattern(pattern, rel, base) {
			return false
		}
	}

	included := false
	for _, pattern := range g.includePatterns {
		if matched, _ := doublestar.Match(pattern, rel); matched {
			included = true
			break
		}
	}
	if !included {
		return false
	}

	for _, pattern := range g.excludePatterns {
		if matchPattern(pattern, rel, base) {
			return false
		}
	}
	return true
}

// matchPattern tries the relative path first, then the base filename.
func matchPattern(pattern, rel, base string) bool {
	if matched, _ := doublestar.Match(pattern, rel); matched {
		return true
	}
	matched, _ := doublestar.Match(pattern, base)
	return matched
}

// DefaultExcludePatterns returns common editor temporary files and system files
// that are never dispatched by a glob filter.
func DefaultExcludePatterns() []string {
	return []string{
		// Vim
		"*.swp",
		"*.swo",
		"*.swn",
		".*.sw?",
		// Emacs
		"*~",
		"#*#",
		".#*",
		// System files
		".DS_Store",
		"Thumbs.db",
		"*.tmp",
	}
}
