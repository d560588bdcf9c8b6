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
	"maps"
	"sync"
	"time"

	"github.com/tombee/loadwatch/internal/consumer"
)

const feedBufferSize = 64

// Update describes a change to the configuration held for a key. Removed
// updates carry no properties.
type Update struct {
	Key        string            `json:"key"`
	Source     string            `json:"source,omitempty"`
	Removed    bool              `json:"removed"`
	Document   bool              `json:"document,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
	Time       time.Time         `json:"time"`
}

func updateFrom(key, source string, rec *consumer.Configuration) Update {
	u := Update{Key: key, Source: source, Removed: rec == nil, Time: time.Now().UTC()}
	if rec != nil {
		u.Document = rec.Document != nil
		u.Properties = maps.Clone(rec.Properties)
	}
	return u
}

// updateFeed fans updates out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the update.
type updateFeed struct {
	mu     sync.Mutex
	subs   map[uint64]chan Update
	next   uint64
	closed bool
}

func newUpdateFeed() *updateFeed {
	return &updateFeed{subs: make(map[uint64]chan Update)}
}

func (f *updateFeed) subscribe() (<-chan Update, func()) {
	ch := make(chan Update, feedBufferSize)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	f.next++
	id := f.next
	f.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if sub, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(sub)
			}
		})
	}
}

func (f *updateFeed) publish(u Update) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- u:
		default:
			recordFeedDrop()
		}
	}
}

// close ends every subscription; later subscribers get a closed channel.
func (f *updateFeed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}
