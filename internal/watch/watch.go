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

// Package watch provides recursive filesystem watch subscriptions.
//
// A Subscription walks its root once at startup, registering every directory
// with fsnotify and dispatching accepted files to a Handler. It then extends
// the watched set as directories appear and dispatches modifications and
// deletions of accepted files until it is stopped.
package watch

import (
	"context"
	"log/slog"
	"time"

	"github.com/tombee/loadwatch/internal/filter"
)

// Handler receives file events from a Subscription.
//
// Calls for a single subscription are serialized with its event loop except
// when debouncing is enabled, in which case modifications are delivered from
// the debounce timer.
type Handler interface {
	OnFileChanged(ctx context.Context, path string)
	OnFileDeleted(ctx context.Context, path string)
}

// HandlerFuncs adapts a pair of functions to the Handler interface.
// Nil functions are skipped.
type HandlerFuncs struct {
	Changed func(ctx context.Context, path string)
	Deleted func(ctx context.Context, path string)
}

// OnFileChanged implements Handler.
func (h HandlerFuncs) OnFileChanged(ctx context.Context, path string) {
	if h.Changed != nil {
		h.Changed(ctx, path)
	}
}

// OnFileDeleted implements Handler.
func (h HandlerFuncs) OnFileDeleted(ctx context.Context, path string) {
	if h.Deleted != nil {
		h.Deleted(ctx, path)
	}
}

// Config defines a single watch subscription.
type Config struct {
	// Name is used in logs and metrics. Defaults to Key.
	Name string

	// Key identifies the subscription in the owning registry.
	Key string

	// Root is the directory to watch recursively.
	Root string

	// Filter decides which files are dispatched. It is bound to the
	// normalised root on Start.
	Filter filter.Engine

	// Debounce coalesces modifications of the same path.
	// Zero disables debouncing.
	Debounce time.Duration

	// DispatchOnCreate treats file creation as a change.
	DispatchOnCreate bool

	// MaxEventsPerMinute limits dispatches. Zero means no limit.
	MaxEventsPerMinute int

	// MaxDepth limits how deep below Root directories are watched.
	// Zero means unlimited.
	MaxDepth int
}

// Option configures a Subscription.
type Option func(*Subscription)

// WithSpawner sets the function used to start the subscription's loop.
// The default starts a plain goroutine.
func WithSpawner(spawn func(func())) Option {
	return func(s *Subscription) {
		if spawn != nil {
			s.spawn = spawn
		}
	}
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Subscription) {
		if logger != nil {
			s.baseLogger = logger
		}
	}
}

type contextKey struct{}

// NewContext returns a context carrying the subscription.
func NewContext(ctx context.Context, s *Subscription) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the subscription dispatching the current event, if any.
func FromContext(ctx context.Context) (*Subscription, bool) {
	s, ok := ctx.Value(contextKey{}).(*Subscription)
	return s, ok
}
