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

package controller

import (
	"slices"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/tombee/loadwatch/internal/consumer"
	"github.com/tombee/loadwatch/internal/watch"
)

// registryEntry is a live nested subscription and the key of the file that
// declared it.
type registryEntry struct {
	sub   *watch.Subscription
	owner string
}

// subscriptionRegistry maps subscription keys to live subscriptions.
// Writers are serialized by the controller.
type subscriptionRegistry struct {
	entries *xsync.MapOf[string, registryEntry]
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{entries: xsync.NewMapOf[string, registryEntry]()}
}

func (r *subscriptionRegistry) put(key, owner string, sub *watch.Subscription) {
	r.entries.Store(key, registryEntry{sub: sub, owner: owner})
}

func (r *subscriptionRegistry) remove(key string) (*watch.Subscription, bool) {
	e, ok := r.entries.LoadAndDelete(key)
	return e.sub, ok
}

// ownedBy returns the keys declared by owner, sorted.
func (r *subscriptionRegistry) ownedBy(owner string) []string {
	var keys []string
	r.entries.Range(func(key string, e registryEntry) bool {
		if e.owner == owner {
			keys = append(keys, key)
		}
		return true
	})
	sort.Strings(keys)
	return keys
}

func (r *subscriptionRegistry) snapshot() map[string]registryEntry {
	out := make(map[string]registryEntry, r.entries.Size())
	r.entries.Range(func(key string, e registryEntry) bool {
		out[key] = e
		return true
	})
	return out
}

// drain removes and returns every entry.
func (r *subscriptionRegistry) drain() map[string]registryEntry {
	out := r.snapshot()
	for key := range out {
		r.entries.Delete(key)
	}
	return out
}

// consumerRegistry maps keys to registered consumers. Slices are replaced,
// never modified in place, so a loaded slice can be iterated freely.
type consumerRegistry struct {
	consumers *xsync.MapOf[string, []consumer.Consumer]
}

func newConsumerRegistry() *consumerRegistry {
	return &consumerRegistry{consumers: xsync.NewMapOf[string, []consumer.Consumer]()}
}

// add registers c for key and reports whether it was not already present.
func (r *consumerRegistry) add(key string, c consumer.Consumer) bool {
	added := false
	r.consumers.Compute(key, func(old []consumer.Consumer, _ bool) ([]consumer.Consumer, bool) {
		if slices.ContainsFunc(old, func(o consumer.Consumer) bool { return consumer.Same(o, c) }) {
			return old, false
		}
		added = true
		return append(slices.Clone(old), c), false
	})
	return added
}

// remove drops c from key. Empty sets are pruned.
func (r *consumerRegistry) remove(key string, c consumer.Consumer) bool {
	removed := false
	r.consumers.Compute(key, func(old []consumer.Consumer, loaded bool) ([]consumer.Consumer, bool) {
		if !loaded {
			return nil, true
		}
		idx := slices.IndexFunc(old, func(o consumer.Consumer) bool { return consumer.Same(o, c) })
		if idx == -1 {
			return old, false
		}
		removed = true
		if len(old) == 1 {
			return nil, true
		}
		return slices.Delete(slices.Clone(old), idx, idx+1), false
	})
	return removed
}

func (r *consumerRegistry) get(key string) []consumer.Consumer {
	cs, _ := r.consumers.Load(key)
	return cs
}

func (r *consumerRegistry) clear() {
	r.consumers.Clear()
}
