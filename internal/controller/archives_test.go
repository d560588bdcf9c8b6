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
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/loadwatch/internal/deploy"
	"github.com/tombee/loadwatch/internal/dispatch"
)

// gatedDeployer blocks every Deploy until release is closed and records the
// order in which operations finish.
type gatedDeployer struct {
	started chan string
	release chan struct{}

	mu     sync.Mutex
	order  []string
	active int
	peak   int
}

func newGatedDeployer() *gatedDeployer {
	return &gatedDeployer{started: make(chan string, 16), release: make(chan struct{})}
}

func (d *gatedDeployer) enter() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active++
	d.peak = max(d.peak, d.active)
}

func (d *gatedDeployer) leave(op string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active--
	d.order = append(d.order, op)
}

func (d *gatedDeployer) Deploy(_ context.Context, name string, r io.Reader) (deploy.Handle, error) {
	d.enter()
	_, _ = io.Copy(io.Discard, r)
	d.started <- name
	<-d.release
	d.leave("deploy " + name)
	return deploy.Handle{Name: name}, nil
}

func (d *gatedDeployer) Undeploy(_ context.Context, name string) error {
	d.enter()
	d.leave("undeploy " + name)
	return nil
}

func (d *gatedDeployer) snapshot() ([]string, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.order...), d.peak
}

func newGatedController(t *testing.T) (*Controller, *gatedDeployer, string) {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.Root = dir
	opts.BaseDir = dir

	d := newGatedDeployer()
	c, err := New(opts, Dependencies{Deployer: d, Pool: dispatch.New(4)})
	require.NoError(t, err)
	return c, d, dir
}

func TestController_ArchiveOperationsRunInOrder(t *testing.T) {
	c, d, dir := newGatedController(t)
	path := filepath.Join(dir, "app.jar")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))
	ctx := context.Background()

	c.OnFileChanged(ctx, path)
	select {
	case <-d.started:
	case <-time.After(waitFor):
		t.Fatal("deploy did not start")
	}

	// Modify then delete while the first deploy is still running.
	c.OnFileChanged(ctx, path)
	require.NoError(t, os.Remove(path))
	c.OnFileDeleted(ctx, path)

	assert.Never(t, func() bool {
		order, _ := d.snapshot()
		return len(order) > 0
	}, 100*time.Millisecond, tick, "later operations ran before the first deploy finished")

	close(d.release)
	require.Eventually(t, func() bool {
		order, _ := d.snapshot()
		return len(order) == 2
	}, waitFor, tick)

	// The queued redeploy found the archive gone, so only the undeploy
	// follows the first deploy.
	order, peak := d.snapshot()
	assert.Equal(t, []string{"deploy app.jar", "undeploy app.jar"}, order)
	assert.Equal(t, 1, peak)
	require.Eventually(t, func() bool {
		c.archives.mu.Lock()
		defer c.archives.mu.Unlock()
		return len(c.archives.pending) == 0
	}, waitFor, tick)
}

func TestController_ArchivesRunIndependently(t *testing.T) {
	c, d, dir := newGatedController(t)
	ctx := context.Background()
	for _, name := range []string{"a.zip", "b.zip"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(name), 0o644))
		c.OnFileChanged(ctx, path)
	}

	got := map[string]bool{}
	for range 2 {
		select {
		case name := <-d.started:
			got[name] = true
		case <-time.After(waitFor):
			t.Fatal("archives were serialized across names")
		}
	}
	assert.Equal(t, map[string]bool{"a.zip": true, "b.zip": true}, got)
	close(d.release)

	require.Eventually(t, func() bool {
		order, _ := d.snapshot()
		return len(order) == 2
	}, waitFor, tick)
}

func TestArchiveQueue(t *testing.T) {
	q := newArchiveQueue()
	var ran []int
	op := func(i int) func(context.Context) {
		return func(context.Context) { ran = append(ran, i) }
	}

	assert.True(t, q.enqueue("a", op(1)))
	assert.False(t, q.enqueue("a", op(2)))
	assert.True(t, q.enqueue("b", op(3)))

	for {
		next, ok := q.next("a")
		if !ok {
			break
		}
		next(context.Background())
	}
	assert.Equal(t, []int{1, 2}, ran)
	assert.True(t, q.enqueue("a", op(4)), "drained name needs a new drain task")

	assert.Equal(t, 1, q.drop("b"))
	assert.Equal(t, 0, q.drop("b"))
}
