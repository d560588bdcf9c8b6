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

package watch

import (
	"sync"
	"time"
)

// Debouncer manages per-path timers so that a burst of modifications to one
// file (e.g. multiple editor saves) is delivered once.
//
// Delivery happens after no new modification of the path has been seen for
// the configured window.
type Debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	timers  map[string]*pendingTimer
	seq     uint64
	onFlush func(path string)
	stopped bool
}

type pendingTimer struct {
	timer *time.Timer
	seq   uint64
}

// NewDebouncer creates a debouncer that calls onFlush with each settled path.
func NewDebouncer(window time.Duration, onFlush func(path string)) *Debouncer {
	return &Debouncer{
		window:  window,
		timers:  make(map[string]*pendingTimer),
		onFlush: onFlush,
	}
}

// Add records a modification of path, restarting its timer.
func (d *Debouncer) Add(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if p, ok := d.timers[path]; ok {
		p.timer.Stop()
	}

	d.seq++
	seq := d.seq
	d.timers[path] = &pendingTimer{
		seq: seq,
		timer: time.AfterFunc(d.window, func() {
			d.flush(path, seq)
		}),
	}
}

func (d *Debouncer) flush(path string, seq uint64) {
	d.mu.Lock()
	current, ok := d.timers[path]
	if !ok || current.seq != seq || d.stopped {
		d.mu.Unlock()
		return
	}
	delete(d.timers, path)
	d.mu.Unlock()

	if d.onFlush != nil {
		d.onFlush(path)
	}
}

// Cancel drops a pending modification of path.
func (d *Debouncer) Cancel(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.timers[path]; ok {
		p.timer.Stop()
		delete(d.timers, path)
	}
}

// Stop discards all pending modifications. Later Adds are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	for path, p := range d.timers {
		p.timer.Stop()
		delete(d.timers, path)
	}
}

// Pending returns the number of paths with pending timers.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}
