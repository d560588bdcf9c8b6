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
	"context"
	"log/slog"
	"sync"
)

// archiveQueue orders deployer calls per archive name. Operations for one
// name run one at a time in the order they were queued; different names
// run independently.
type archiveQueue struct {
	mu      sync.Mutex
	pending map[string][]func(context.Context)
}

func newArchiveQueue() *archiveQueue {
	return &archiveQueue{pending: make(map[string][]func(context.Context))}
}

// enqueue appends op for name and reports whether the caller must start a
// drain task. A name with an entry, even an empty one, already has one.
func (q *archiveQueue) enqueue(name string, op func(context.Context)) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops, draining := q.pending[name]
	q.pending[name] = append(ops, op)
	return !draining
}

// next pops the oldest operation for name. When none is left the entry is
// removed and the drain task must exit.
func (q *archiveQueue) next(name string) (func(context.Context), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops := q.pending[name]
	if len(ops) == 0 {
		delete(q.pending, name)
		return nil, false
	}
	q.pending[name] = ops[1:]
	return ops[0], true
}

// drop forgets everything queued for name.
func (q *archiveQueue) drop(name string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.pending[name])
	delete(q.pending, name)
	return n
}

// runArchiveOp queues op behind earlier operations on the same archive.
func (c *Controller) runArchiveOp(name string, op func(context.Context)) {
	if !c.archives.enqueue(name, op) {
		return
	}
	started := c.pool.Go(func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				c.archives.drop(name)
				panic(r)
			}
		}()
		for {
			next, ok := c.archives.next(name)
			if !ok {
				return
			}
			next(ctx)
		}
	})
	if !started {
		n := c.archives.drop(name)
		c.logger.Debug("archive operations dropped while draining",
			slog.String("name", name), slog.Int("count", n))
	}
}
