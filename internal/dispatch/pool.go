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

// Package dispatch runs the controller's background work.
//
// Short tasks (consumer notifications, deployments) are started with Go and
// limited by a weighted semaphore; callers never block on a free slot.
// Long-lived watch loops are started with Spawn and are tracked but not
// limited. Wait blocks until both kinds have finished.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrent is used when no limit is configured.
const DefaultMaxConcurrent = 16

// Pool tracks background goroutines.
type Pool struct {
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	// wg tracks every goroutine started by the pool for clean shutdown
	wg sync.WaitGroup

	draining atomic.Bool
	active   atomic.Int64
	queued   atomic.Int64
}

// New creates a pool allowing maxConcurrent short tasks at once.
// Values <= 0 select DefaultMaxConcurrent.
func New(maxConcurrent int) *Pool {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
		ctx:    ctx,
		cancel: cancel,
		logger: slog.Default().With(slog.String("component", "dispatch")),
	}
}

// Go runs task in the background once a slot is free. The context passed to
// task is cancelled by Close. It returns false if the pool is draining.
func (p *Pool) Go(task func(ctx context.Context)) bool {
	if p.draining.Load() {
		p.logger.Debug("pool draining, task rejected")
		return false
	}

	p.wg.Add(1)
	p.queued.Add(1)
	go func() {
		defer p.wg.Done()

		err := p.sem.Acquire(p.ctx, 1)
		p.queued.Add(-1)
		if err != nil {
			p.logger.Debug("task abandoned while waiting for a slot", "error", err)
			return
		}
		defer p.sem.Release(1)

		p.active.Add(1)
		defer p.active.Add(-1)
		p.run(task)
	}()
	return true
}

func (p *Pool) run(task func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", "panic", fmt.Sprint(r))
		}
	}()
	task(p.ctx)
}

// Spawn runs a long-lived loop outside the concurrency limit.
func (p *Pool) Spawn(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
}

// Active returns the number of short tasks currently running.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Queued returns the number of short tasks waiting for a slot.
func (p *Pool) Queued() int {
	return int(p.queued.Load())
}

// StartDraining makes Go reject new tasks.
func (p *Pool) StartDraining() {
	p.draining.Store(true)
}

// IsDraining returns true if the pool is in draining mode.
func (p *Pool) IsDraining() bool {
	return p.draining.Load()
}

// Close cancels the context of running and queued tasks.
func (p *Pool) Close() {
	p.cancel()
}

// Wait blocks until every goroutine started by the pool has returned or ctx
// is done.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if n := p.Active() + p.Queued(); n > 0 {
			return fmt.Errorf("wait timeout: %d task(s) still pending: %w", n, ctx.Err())
		}
		return ctx.Err()
	}
}
