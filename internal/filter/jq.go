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
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/itchyny/gojq"
)

// DefaultJQTimeout bounds a single jq evaluation.
const DefaultJQTimeout = 100 * time.Millisecond

// JQ accepts a file when any of its jq queries yields true. Queries run
// against an object with the same fields as Expr:
//
//	{"path", "rel", "name", "ext", "dir", "depth", "in_root"}
//
// Example patterns:
//   - .ext == "xml" and .in_root
//   - .rel | test("^conf/.*\\.properties$")
//   - .depth <= 1 and (.name | startswith("app-"))
type JQ struct {
	mu      sync.RWMutex
	root    string
	codes   []*gojq.Code
	timeout time.Duration
}

// NewJQ creates a jq filter with no rules.
func NewJQ() *JQ {
	return &JQ{timeout: DefaultJQTimeout}
}

// Bind sets the root used to compute rel, depth and in_root.
func (j *JQ) Bind(root string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.root = filepath.Clean(root)
}

// AddPattern parses and compiles pattern. Queries that fail to compile are
// logged and ignored.
func (j *JQ) AddPattern(pattern string) {
	query, err := gojq.Parse(pattern)
	if err != nil {
		logger.Warn("ignoring invalid jq filter", "pattern", pattern, "error", err)
		return
	}
	code, err := gojq.Compile(query)
	if err != nil {
		logger.Warn("ignoring invalid jq filter", "pattern", pattern, "error", err)
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.codes = append(j.codes, code)
}

// Accept runs the queries in insertion order.
func (j *JQ) Accept(path string) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.root == "" {
		return false
	}
	env, ok := newFileEnv(j.root, path)
	if !ok {
		return false
	}
	input := map[string]any{
		"path":    env.Path,
		"rel":     env.Rel,
		"name":    env.Name,
		"ext":     env.Ext,
		"dir":     env.Dir,
		"depth":   env.Depth,
		"in_root": env.InRoot,
	}

	for _, code := range j.codes {
		if j.eval(code, input) {
			return true
		}
	}
	return false
}

func (j *JQ) eval(code *gojq.Code, input map[string]any) bool {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	iter := code.RunWithContext(ctx, input)
	for {
		v, ok := iter.Next()
		if !ok {
			return false
		}
		if err, isErr := v.(error); isErr {
			logger.Debug("jq filter failed", "path", input["path"], "error", err)
			return false
		}
		if matched, isBool := v.(bool); isBool && matched {
			return true
		}
	}
}
