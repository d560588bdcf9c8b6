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

// Package consumer defines the receivers of parsed configuration and the
// source that announces their arrival and departure.
package consumer

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"

	lwerrors "github.com/tombee/loadwatch/pkg/errors"
)

// LastModifiedProperty is stamped into every stored configuration.
const LastModifiedProperty = "lastmodifiedtime"

// Consumer receives configuration for one key.
//
// Updated is called with the current configuration, or with nil once the
// backing file has been removed.
type Consumer interface {
	Updated(ctx context.Context, cfg *Configuration) error
}

// Func adapts a function to the Consumer interface. Func values are not
// comparable, so register them through a pointer.
type Func func(ctx context.Context, cfg *Configuration) error

// Updated implements Consumer.
func (f *Func) Updated(ctx context.Context, cfg *Configuration) error {
	return (*f)(ctx, cfg)
}

// Validate reports whether c can be registered. Registrations are matched by
// equality, so the consumer's dynamic type must be comparable.
func Validate(c Consumer) error {
	if c == nil {
		return &lwerrors.ValidationError{Field: "consumer", Message: "consumer is nil"}
	}
	if t := reflect.TypeOf(c); !t.Comparable() {
		return &lwerrors.ValidationError{
			Field:      "consumer",
			Message:    fmt.Sprintf("consumer type %s is not comparable", t),
			Suggestion: "register a pointer to the consumer",
		}
	}
	return nil
}

// Same reports whether a and b are the same registration. Values whose
// dynamic contents cannot be compared, such as a struct holding an
// interface with a slice inside, are never the same.
func Same(a, b Consumer) (same bool) {
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}

// Configuration is the parsed content of one configuration file.
type Configuration struct {
	Key        string
	Properties map[string]string

	// Document is set for structured documents. It is shared between
	// deliveries and must be treated as read-only.
	Document *xmlquery.Node

	ModTime time.Time
	Source  string

	// Removed marks a tombstone left behind by a deleted file.
	Removed bool
}

// NewProperties builds a key/value configuration stamped with modTime.
func NewProperties(key, source string, props map[string]string, modTime time.Time) *Configuration {
	stamped := make(map[string]string, len(props)+1)
	maps.Copy(stamped, props)
	stamped[LastModifiedProperty] = modTime.UTC().Format(time.RFC3339)

	return &Configuration{
		Key:        key,
		Properties: stamped,
		ModTime:    modTime,
		Source:     source,
	}
}

// NewDocument builds a document configuration stamped with modTime.
func NewDocument(key, source string, doc *xmlquery.Node, modTime time.Time) *Configuration {
	return &Configuration{
		Key:        key,
		Properties: map[string]string{LastModifiedProperty: modTime.UTC().Format(time.RFC3339)},
		Document:   doc,
		ModTime:    modTime,
		Source:     source,
	}
}

// Tombstone records that the configuration for key has been removed.
func Tombstone(key, source string) *Configuration {
	return &Configuration{
		Key:     key,
		Source:  source,
		ModTime: time.Now(),
		Removed: true,
	}
}

// Clone returns a copy whose property map can be modified freely.
func (c *Configuration) Clone() *Configuration {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Properties != nil {
		clone.Properties = maps.Clone(c.Properties)
	}
	return &clone
}

// Get returns a property value.
func (c *Configuration) Get(name string) (string, bool) {
	if c == nil {
		return "", false
	}
	v, ok := c.Properties[name]
	return v, ok
}

// KeyFromPath derives the consumer key for a file: its base name without
// the final extension.
func KeyFromPath(path string) string {
	name := filepath.Base(path)
	if idx := strings.LastIndex(name, "."); idx > 0 {
		return name[:idx]
	}
	return name
}
