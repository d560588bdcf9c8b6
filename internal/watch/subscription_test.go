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
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/loadwatch/internal/filter"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

type recorder struct {
	mu      sync.Mutex
	changed []string
	deleted []string
	origins []*Subscription
}

func (r *recorder) OnFileChanged(ctx context.Context, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changed = append(r.changed, path)
	if s, ok := FromContext(ctx); ok {
		r.origins = append(r.origins, s)
	}
}

func (r *recorder) OnFileDeleted(_ context.Context, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, path)
}

func (r *recorder) changedPaths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.changed...)
}

func (r *recorder) deletedPaths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.deleted...)
}

func (r *recorder) countChanged(path string) int {
	n := 0
	for _, p := range r.changedPaths() {
		if p == path {
			n++
		}
	}
	return n
}

func tempRoot(t *testing.T) string {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return root
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func extensionFilter(patterns ...string) filter.Engine {
	f := filter.NewExtension()
	for _, p := range patterns {
		f.AddPattern(p)
	}
	return f
}

func startSubscription(t *testing.T, cfg Config, h Handler) *Subscription {
	t.Helper()
	if cfg.Key == "" {
		cfg.Key = "test"
	}
	s, err := New(cfg, h)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestNew_Validation(t *testing.T) {
	h := &recorder{}
	f := filter.NewExtension()

	tests := []struct {
		name    string
		cfg     Config
		handler Handler
	}{
		{name: "missing handler", cfg: Config{Root: "/watch", Filter: f}},
		{name: "missing root", cfg: Config{Filter: f}, handler: h},
		{name: "missing filter", cfg: Config{Root: "/watch"}, handler: h},
		{name: "negative rate", cfg: Config{Root: "/watch", Filter: f, MaxEventsPerMinute: -1}, handler: h},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, tt.handler)
			assert.Error(t, err)
		})
	}
}

func TestNew_NameDefaultsToKey(t *testing.T) {
	s, err := New(Config{Key: "app", Root: "/watch", Filter: filter.NewExtension()}, &recorder{})
	require.NoError(t, err)
	assert.Equal(t, "app", s.Name())
	assert.NotEmpty(t, s.ID())
}

func TestStart_MissingRoot(t *testing.T) {
	s, err := New(Config{Key: "k", Root: filepath.Join(tempRoot(t), "missing"), Filter: filter.NewExtension()}, &recorder{})
	require.NoError(t, err)

	assert.Error(t, s.Start(context.Background()))
	assert.NoError(t, s.Stop())
}

func TestSubscription_Bootstrap(t *testing.T) {
	root := tempRoot(t)
	writeFile(t, filepath.Join(root, "a.properties"), "k=v")
	writeFile(t, filepath.Join(root, "sub", "b.xml"), "<x/>")
	writeFile(t, filepath.Join(root, "sub", "deep", "c.txt"), "ignored")

	rec := &recorder{}
	s := startSubscription(t, Config{
		Root:   root,
		Filter: extensionFilter("**/*.properties", "**/*.xml"),
	}, rec)

	require.Eventually(t, func() bool { return len(rec.changedPaths()) == 2 }, waitFor, tick)
	assert.ElementsMatch(t, []string{
		filepath.Join(root, "a.properties"),
		filepath.Join(root, "sub", "b.xml"),
	}, rec.changedPaths())
	assert.Equal(t, []string{
		root,
		filepath.Join(root, "sub"),
		filepath.Join(root, "sub", "deep"),
	}, s.Directories())

	rec.mu.Lock()
	for _, origin := range rec.origins {
		assert.Same(t, s, origin)
	}
	rec.mu.Unlock()
}

func TestSubscription_MaxDepth(t *testing.T) {
	root := tempRoot(t)
	writeFile(t, filepath.Join(root, "a", "one.properties"), "k=v")
	writeFile(t, filepath.Join(root, "a", "b", "two.properties"), "k=v")

	rec := &recorder{}
	s := startSubscription(t, Config{
		Root:     root,
		Filter:   extensionFilter("**/*.properties"),
		MaxDepth: 1,
	}, rec)

	require.Eventually(t, func() bool { return len(rec.changedPaths()) == 1 }, waitFor, tick)
	assert.Equal(t, []string{filepath.Join(root, "a", "one.properties")}, rec.changedPaths())
	assert.Equal(t, []string{root, filepath.Join(root, "a")}, s.Directories())
}

func TestSubscription_ExtendsToNewDirectories(t *testing.T) {
	root := tempRoot(t)
	rec := &recorder{}
	s := startSubscription(t, Config{
		Root:   root,
		Filter: extensionFilter("**/*.properties"),
	}, rec)

	require.Eventually(t, func() bool { return slices.Contains(s.Directories(), root) }, waitFor, tick)

	nested := filepath.Join(root, "x", "y")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.Eventually(t, func() bool { return slices.Contains(s.Directories(), nested) }, waitFor, tick)

	file := filepath.Join(nested, "late.properties")
	writeFile(t, file, "k=v")
	require.Eventually(t, func() bool { return rec.countChanged(file) >= 1 }, waitFor, tick)
}

func TestSubscription_ModifyAndDelete(t *testing.T) {
	root := tempRoot(t)
	file := filepath.Join(root, "app.properties")
	other := filepath.Join(root, "notes.txt")
	writeFile(t, file, "k=v")
	writeFile(t, other, "x")

	rec := &recorder{}
	startSubscription(t, Config{
		Root:   root,
		Filter: extensionFilter("**/*.properties"),
	}, rec)

	require.Eventually(t, func() bool { return rec.countChanged(file) == 1 }, waitFor, tick)

	writeFile(t, file, "k=v2")
	require.Eventually(t, func() bool { return rec.countChanged(file) >= 2 }, waitFor, tick)

	require.NoError(t, os.Remove(other))
	require.NoError(t, os.Remove(file))
	require.Eventually(t, func() bool { return len(rec.deletedPaths()) == 1 }, waitFor, tick)
	assert.Equal(t, []string{file}, rec.deletedPaths())
	assert.NotContains(t, rec.changedPaths(), other)
}

func TestSubscription_CreateIgnoredByDefault(t *testing.T) {
	tests := []struct {
		name             string
		dispatchOnCreate bool
		wantDispatched   bool
	}{
		{name: "default", dispatchOnCreate: false, wantDispatched: false},
		{name: "dispatch on create", dispatchOnCreate: true, wantDispatched: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := tempRoot(t)
			rec := &recorder{}
			s := startSubscription(t, Config{
				Root:             root,
				Filter:           extensionFilter("**/*.properties"),
				DispatchOnCreate: tt.dispatchOnCreate,
			}, rec)
			require.Eventually(t, func() bool { return slices.Contains(s.Directories(), root) }, waitFor, tick)

			empty := filepath.Join(root, "empty.properties")
			f, err := os.Create(empty)
			require.NoError(t, err)
			require.NoError(t, f.Close())

			marker := filepath.Join(root, "marker.properties")
			writeFile(t, marker, "k=v")
			require.Eventually(t, func() bool { return rec.countChanged(marker) >= 1 }, waitFor, tick)

			if tt.wantDispatched {
				assert.Equal(t, 1, rec.countChanged(empty))
			} else {
				assert.Equal(t, 0, rec.countChanged(empty))
			}
		})
	}
}

func TestSubscription_Debounce(t *testing.T) {
	root := tempRoot(t)
	rec := &recorder{}
	s := startSubscription(t, Config{
		Root:     root,
		Filter:   extensionFilter("**/*.properties"),
		Debounce: 100 * time.Millisecond,
	}, rec)
	require.Eventually(t, func() bool { return slices.Contains(s.Directories(), root) }, waitFor, tick)

	file := filepath.Join(root, "burst.properties")
	for i := 0; i < 3; i++ {
		writeFile(t, file, "k=v")
	}

	require.Eventually(t, func() bool { return rec.countChanged(file) == 1 }, waitFor, tick)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, rec.countChanged(file))
}

func TestSubscription_RateLimit(t *testing.T) {
	root := tempRoot(t)
	for _, name := range []string{"a", "b", "c"} {
		writeFile(t, filepath.Join(root, name+".properties"), "k=v")
	}

	rec := &recorder{}
	startSubscription(t, Config{
		Root:               root,
		Filter:             extensionFilter("**/*.properties"),
		MaxEventsPerMinute: 1,
	}, rec)

	require.Eventually(t, func() bool { return len(rec.changedPaths()) == 1 }, waitFor, tick)
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, rec.changedPaths(), 1)
}

func TestSubscription_RootRemovedEndsLoop(t *testing.T) {
	root := filepath.Join(tempRoot(t), "load")
	require.NoError(t, os.Mkdir(root, 0o755))

	rec := &recorder{}
	s := startSubscription(t, Config{
		Root:   root,
		Filter: extensionFilter("**/*.properties"),
	}, rec)
	require.Eventually(t, func() bool { return slices.Contains(s.Directories(), root) }, waitFor, tick)

	require.NoError(t, os.RemoveAll(root))

	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("subscription did not exit after root removal")
	}
	assert.False(t, s.Status().Running)
	assert.Empty(t, s.Directories())
}

func TestSubscription_Stop(t *testing.T) {
	root := tempRoot(t)
	rec := &recorder{}
	s := startSubscription(t, Config{
		Key:    "stop",
		Root:   root,
		Filter: extensionFilter("**/*.properties"),
	}, rec)

	status := s.Status()
	assert.Equal(t, "stop", status.Key)
	assert.Equal(t, root, status.Root)
	assert.True(t, status.Running)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())

	select {
	case <-s.Done():
	default:
		t.Fatal("done channel not closed after Stop")
	}
	assert.False(t, s.Status().Running)
	assert.Error(t, s.Start(context.Background()))

	writeFile(t, filepath.Join(root, "after.properties"), "k=v")
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, rec.changedPaths())
}

func TestSubscription_ContextCancellation(t *testing.T) {
	root := tempRoot(t)
	ctx, cancel := context.WithCancel(context.Background())

	s, err := New(Config{Key: "ctx", Root: root, Filter: extensionFilter("**/*.*")}, &recorder{})
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx))

	cancel()
	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("subscription did not exit after context cancellation")
	}
	assert.NoError(t, s.Stop())
}

func TestWithSpawner(t *testing.T) {
	root := tempRoot(t)
	var spawned int
	spawn := func(fn func()) {
		spawned++
		go fn()
	}

	s, err := New(Config{Key: "spawn", Root: root, Filter: filter.NewExtension()}, &recorder{}, WithSpawner(spawn))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())

	assert.Equal(t, 1, spawned)
}

func TestHandlerFuncs(t *testing.T) {
	var changed, deleted string
	h := HandlerFuncs{
		Changed: func(_ context.Context, path string) { changed = path },
		Deleted: func(_ context.Context, path string) { deleted = path },
	}

	h.OnFileChanged(context.Background(), "/a")
	h.OnFileDeleted(context.Background(), "/b")
	HandlerFuncs{}.OnFileChanged(context.Background(), "/c")

	assert.Equal(t, "/a", changed)
	assert.Equal(t, "/b", deleted)

	_, ok := FromContext(context.Background())
	assert.False(t, ok)
}
