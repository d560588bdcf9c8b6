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

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// fileEnv is the environment expressions are evaluated against.
type fileEnv struct {
	Path   string `expr:"path"`
	Rel    string `expr:"rel"`
	Name   string `expr:"name"`
	Ext    string `expr:"ext"`
	Dir    string `expr:"dir"`
	Depth  int    `expr:"depth"`
	InRoot bool   `expr:"in_root"`
}

// Expr accepts a file when any of its boolean expressions evaluates to true.
//
// Example patterns:
//   - ext == "xml" && in_root
//   - depth <= 2 && name startsWith "app-"
//   - rel matches "^conf/.*\\.properties$"
type Expr struct {
	mu       sync.RWMutex
	root     string
	programs []*vm.Program
}

// NewExpr creates an expression filter with no rules.
func NewExpr() *Expr {
	return &Expr{}
}

// Bind sets the root used to compute rel, depth and in_root.
func (e *Expr) Bind(root string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.root = filepath.Clean(root)
}

// AddPattern compiles pattern as a boolean expression. Expressions that fail
// to compile are logged and ignored.
func (e *Expr) AddPattern(pattern string) {
	program, err := expr.Compile(pattern, expr.Env(fileEnv{}), expr.AsBool())
	if err != nil {
		logger.Warn("ignoring invalid filter expression", "pattern", pattern, "error", err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.programs = append(e.programs, program)
}

// Accept evaluates the expressions in insertion order.
func (e *Expr) Accept(path string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.root == "" {
		return false
	}
	env, ok := newFileEnv(e.root, path)
	if !ok {
		return false
	}

	for _, program := range e.programs {
		out, err := expr.Run(program, env)
		if err != nil {
			logger.Debug("filter expression failed", "path", path, "error", err)
			continue
		}
		if matched, ok := out.(bool); ok && matched {
			return true
		}
	}
	return false
}

func newFileEnv(root, path string) (fileEnv, bool) {
	path = filepath.Clean(path)
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fileEnv{}, false
	}
	rel = filepath.ToSlash(rel)
	ext, _ := extension(path)

	return fileEnv{
		Path:   path,
		Rel:    rel,
		Name:   filepath.Base(path),
		Ext:    ext,
		Dir:    filepath.Dir(path),
		Depth:  strings.Count(rel, "/"),
		InRoot: filepath.Dir(path) == root,
	}, true
}
