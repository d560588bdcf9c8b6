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
	"sort"
	"sync"

	lwerrors "github.com/tombee/loadwatch/pkg/errors"
)

// Factory constructs a fresh, unbound filter.
type Factory func() Engine

// Resolver looks up filter implementations by identifier.
type Resolver interface {
	Resolve(id string) (Engine, error)
}

// Registry maps identifiers to filter factories. It replaces class loading
// by name: plugins register a factory at startup and meta-watcher documents
// refer to it by identifier.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in filters.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.factories[DefaultID] = func() Engine { return NewExtension() }
	r.factories[GlobID] = func() Engine { return NewGlob() }
	r.factories[ExprID] = func() Engine { return NewExpr() }
	r.factories[JQID] = func() Engine { return NewJQ() }
	return r
}

// Register adds or replaces the factory for id.
func (r *Registry) Register(id string, factory Factory) error {
	if id == "" {
		return &lwerrors.ValidationError{Field: "id", Message: "filter identifier is required"}
	}
	if factory == nil {
		return &lwerrors.ValidationError{Field: "factory", Message: "filter factory is required"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = factory
	return nil
}

// Resolve returns a new filter for id, or a *errors.NotFoundError.
func (r *Registry) Resolve(id string) (Engine, error) {
	r.mu.RLock()
	factory, ok := r.factories[id]
	r.mu.RUnlock()

	if !ok {
		return nil, &lwerrors.NotFoundError{Resource: "filter", ID: id}
	}
	return factory(), nil
}

// IDs returns the registered identifiers in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
