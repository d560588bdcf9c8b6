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
	"sort"
	"strings"
	"sync"
)

const (
	wildcard        = "*"
	recursivePrefix = "**/*."
	rootOnlyPrefix  = "*."
)

// Extension is the default filter. It keeps two extension sets anchored at
// the bound root:
//
//	**/*.xml   files ending with xml anywhere below the root
//	**/*.*     any file below the root
//	*.xml      files ending with xml directly inside the root
//	*.*        any file directly inside the root
//
// Recursive rules take precedence: an extension present in the recursive set
// is never kept in the non-recursive set.
type Extension struct {
	mu           sync.RWMutex
	recursive    map[string]struct{}
	nonRecursive map[string]struct{}
	root         string
	bound        bool
}

// NewExtension creates an empty extension filter.
func NewExtension() *Extension {
	return &Extension{
		recursive:    make(map[string]struct{}),
		nonRecursive: make(map[string]struct{}),
	}
}

// Bind sets the root used for non-recursive decisions.
func (f *Extension) Bind(root string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.root = filepath.Clean(root)
	f.bound = true
}

// AddPattern adds a recursive (**/*.ext) or non-recursive (*.ext) pattern.
func (f *Extension) AddPattern(pattern string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.HasPrefix(pattern, recursivePrefix):
		addToScope(f.recursive, pattern[len(recursivePrefix):])
	case strings.HasPrefix(pattern, rootOnlyPrefix):
		addToScope(f.nonRecursive, pattern[len(rootOnlyPrefix):])
	default:
		logger.Debug("ignoring unsupported pattern", "pattern", pattern)
		return
	}

	if _, ok := f.recursive[wildcard]; ok {
		clear(f.nonRecursive)
		return
	}
	for ext := range f.recursive {
		delete(f.nonRecursive, ext)
	}
}

// addToScope applies last-wildcard-wins within a single scope.
func addToScope(scope map[string]struct{}, ext string) {
	if ext == wildcard {
		clear(scope)
		scope[wildcard] = struct{}{}
		return
	}
	if _, ok := scope[wildcard]; ok {
		return
	}
	scope[ext] = struct{}{}
}

// Accept reports whether path matches a recursive rule, or sits directly in
// the root and matches a non-recursive rule.
func (f *Extension) Accept(path string) bool {
	ext, ok := extension(path)
	if !ok {
		return false
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.bound {
		return false
	}
	if contains(f.recursive, ext) {
		return true
	}
	if filepath.Dir(filepath.Clean(path)) == f.root {
		return contains(f.nonRecursive, ext)
	}
	return false
}

func contains(scope map[string]struct{}, ext string) bool {
	if _, ok := scope[wildcard]; ok {
		return true
	}
	_, ok := scope[ext]
	return ok
}

// Recursive returns the sorted recursive extension set.
func (f *Extension) Recursive() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return sortedKeys(f.recursive)
}

// NonRecursive returns the sorted non-recursive extension set.
func (f *Extension) NonRecursive() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return sortedKeys(f.nonRecursive)
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
