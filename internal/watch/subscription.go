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
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tombee/loadwatch/internal/log"
	lwerrors "github.com/tombee/loadwatch/pkg/errors"
)

// Subscription watches one directory tree.
type Subscription struct {
	cfg        Config
	handler    Handler
	id         string
	spawn      func(func())
	baseLogger *slog.Logger
	logger     *slog.Logger
	limiter    *rate.Limiter
	debouncer  *Debouncer

	root    string
	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	dirs    map[string]uint64
	nextTok uint64

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	closeErr error
}

// Status is a point-in-time view of a subscription.
type Status struct {
	ID          string
	Name        string
	Key         string
	Root        string
	Directories int
	Running     bool
}

// New creates a subscription. It does not touch the filesystem until Start.
func New(cfg Config, handler Handler, opts ...Option) (*Subscription, error) {
	if handler == nil {
		return nil, &lwerrors.ValidationError{Field: "handler", Message: "handler is required"}
	}
	if cfg.Root == "" {
		return nil, &lwerrors.ValidationError{Field: "root", Message: "watch root is required"}
	}
	if cfg.Filter == nil {
		return nil, &lwerrors.ValidationError{Field: "filter", Message: "filter is required"}
	}
	if cfg.MaxEventsPerMinute < 0 {
		return nil, &lwerrors.ValidationError{
			Field:      "maxEventsPerMinute",
			Message:    "must not be negative",
			Suggestion: "use 0 to disable rate limiting",
		}
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Key
	}

	s := &Subscription{
		cfg:        cfg,
		handler:    handler,
		id:         uuid.NewString(),
		spawn:      func(fn func()) { go fn() },
		baseLogger: slog.Default().With(slog.String("component", "watch")),
		dirs:       make(map[string]uint64),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.WithSubscription(s.baseLogger, cfg.Name, s.id)

	if cfg.MaxEventsPerMinute > 0 {
		perSecond := rate.Limit(float64(cfg.MaxEventsPerMinute) / 60.0)
		s.limiter = rate.NewLimiter(perSecond, cfg.MaxEventsPerMinute)
	}

	return s, nil
}

// ID returns the instance identifier.
func (s *Subscription) ID() string { return s.id }

// Key returns the registry key.
func (s *Subscription) Key() string { return s.cfg.Key }

// Name returns the display name.
func (s *Subscription) Name() string { return s.cfg.Name }

// Done is closed when the event loop has exited.
func (s *Subscription) Done() <-chan struct{} { return s.doneCh }

// Start normalises the root, creates the fsnotify watcher and spawns the
// loop, which performs the discovery pass before processing events.
func (s *Subscription) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("subscription %s already started", s.cfg.Name)
	}
	select {
	case <-s.stopCh:
		s.started.Store(false)
		return fmt.Errorf("subscription %s already stopped", s.cfg.Name)
	default:
	}

	root, err := NormalizePath(s.cfg.Root)
	if err != nil {
		s.started.Store(false)
		return fmt.Errorf("invalid watch root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		s.started.Store(false)
		return fmt.Errorf("failed to stat watch root: %w", err)
	}
	if !info.IsDir() {
		s.started.Store(false)
		return &lwerrors.ValidationError{Field: "root", Message: fmt.Sprintf("%s is not a directory", root)}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		s.started.Store(false)
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	s.root = root
	s.watcher = fsw
	s.cfg.Filter.Bind(root)
	s.ctx, s.cancel = context.WithCancel(NewContext(ctx, s))
	if s.cfg.Debounce > 0 {
		s.debouncer = NewDebouncer(s.cfg.Debounce, func(path string) {
			s.dispatch(path, false)
		})
	}

	watchActive.Inc()
	s.spawn(s.run)
	s.logger.Info("watch subscription started", log.Path(root))
	return nil
}

// Cancel asks the loop to exit without waiting for it.
func (s *Subscription) Cancel() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		close(s.stopCh)
	})
}

// Stop cancels the subscription and waits for its loop to exit.
// It is safe to call more than once.
func (s *Subscription) Stop() error {
	s.Cancel()
	if !s.started.Load() {
		return nil
	}
	<-s.doneCh
	return s.closeErr
}

// Directories returns the currently watched directories, sorted.
func (s *Subscription) Directories() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	dirs := make([]string, 0, len(s.dirs))
	for dir := range s.dirs {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs
}

// Status returns a snapshot of the subscription.
func (s *Subscription) Status() Status {
	s.mu.Lock()
	n := len(s.dirs)
	s.mu.Unlock()

	running := s.started.Load()
	select {
	case <-s.doneCh:
		running = false
	default:
	}

	root := s.root
	if root == "" {
		root = s.cfg.Root
	}
	return Status{
		ID:          s.id,
		Name:        s.cfg.Name,
		Key:         s.cfg.Key,
		Root:        root,
		Directories: n,
		Running:     running,
	}
}

func (s *Subscription) run() {
	defer s.shutdown()

	start := time.Now()
	s.discover(s.root)
	s.logger.Debug("discovery pass complete",
		slog.Int("directories", len(s.Directories())),
		slog.Int64(log.DurationKey, time.Since(start).Milliseconds()))

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("watch subscription stopped (context cancelled)")
			return
		case <-s.stopCh:
			s.logger.Info("watch subscription stopped")
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				s.logger.Warn("watcher event channel closed")
				return
			}
			if s.handleEvent(event) {
				return
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				s.logger.Warn("watcher error channel closed")
				return
			}
			recordError(s.cfg.Name, "watcher")
			s.logger.Error("watcher error", log.Error(err))
		}
	}
}

func (s *Subscription) shutdown() {
	if s.debouncer != nil {
		s.debouncer.Stop()
	}
	s.closeErr = s.watcher.Close()

	s.mu.Lock()
	n := len(s.dirs)
	clear(s.dirs)
	s.mu.Unlock()

	addDirectories(s.cfg.Name, -n)
	watchActive.Dec()
	s.cancel()
	close(s.doneCh)
}

// discover walks dir, registering every directory and dispatching every
// accepted file.
func (s *Subscription) discover(dir string) {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if s.ctx.Err() != nil {
			return filepath.SkipAll
		}
		if err != nil {
			recordError(s.cfg.Name, "discovery")
			s.logger.Warn("skipping inaccessible path", log.Path(path), log.Error(err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if s.cfg.MaxDepth > 0 && Depth(s.root, path) > s.cfg.MaxDepth {
				return filepath.SkipDir
			}
			s.addDir(path)
			return nil
		}

		if d.Type()&(fs.ModeNamedPipe|fs.ModeSocket|fs.ModeDevice) != 0 {
			return nil
		}
		if s.cfg.Filter.Accept(path) {
			s.dispatch(path, false)
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("discovery pass failed", log.Path(dir), log.Error(err))
	}
}

func (s *Subscription) addDir(dir string) {
	if err := s.watcher.Add(dir); err != nil {
		recordError(s.cfg.Name, "register")
		s.logger.Warn("failed to watch directory", log.Path(dir), log.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dirs[dir]; ok {
		return
	}
	s.nextTok++
	s.dirs[dir] = s.nextTok
	addDirectories(s.cfg.Name, 1)
	log.Trace(s.logger, "watching directory", log.Path(dir))
}

// forgetDir drops dir and everything registered below it. It reports whether
// dir was a watched directory.
func (s *Subscription) forgetDir(dir string) bool {
	s.mu.Lock()
	if _, ok := s.dirs[dir]; !ok {
		s.mu.Unlock()
		return false
	}

	var removed []string
	for d := range s.dirs {
		if isWithin(dir, d) {
			removed = append(removed, d)
			delete(s.dirs, d)
		}
	}
	s.mu.Unlock()

	for _, d := range removed {
		// fsnotify drops watches on deleted directories itself.
		_ = s.watcher.Remove(d)
	}
	addDirectories(s.cfg.Name, -len(removed))
	return true
}

// handleEvent processes one fsnotify event. It reports whether the loop
// should end.
func (s *Subscription) handleEvent(event fsnotify.Event) bool {
	path := filepath.Clean(event.Name)

	switch {
	case event.Has(fsnotify.Create):
		recordEvent(s.cfg.Name, "create")
		info, err := os.Lstat(path)
		if err != nil {
			s.logger.Debug("created path vanished", log.Path(path))
			return false
		}
		if info.IsDir() {
			if s.cfg.MaxDepth > 0 && Depth(s.root, path) > s.cfg.MaxDepth {
				return false
			}
			s.discover(path)
			return false
		}
		if s.cfg.DispatchOnCreate && s.cfg.Filter.Accept(path) {
			s.fileChanged(path)
		}

	case event.Has(fsnotify.Write):
		recordEvent(s.cfg.Name, "modify")
		if s.cfg.Filter.Accept(path) {
			s.fileChanged(path)
		}

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		recordEvent(s.cfg.Name, "delete")
		if s.forgetDir(path) {
			if path == s.root {
				s.logger.Warn("watch root removed", log.Path(path))
				return true
			}
			return false
		}
		if s.cfg.Filter.Accept(path) {
			if s.debouncer != nil {
				s.debouncer.Cancel(path)
			}
			s.dispatch(path, true)
		}

	default:
		log.Trace(s.logger, "ignoring event", log.Path(path), slog.String(log.EventKey, event.Op.String()))
	}
	return false
}

func (s *Subscription) fileChanged(path string) {
	if s.debouncer != nil {
		s.debouncer.Add(path)
		return
	}
	s.dispatch(path, false)
}

func (s *Subscription) dispatch(path string, deleted bool) {
	if s.ctx.Err() != nil {
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		recordRateLimited(s.cfg.Name)
		s.logger.Warn("rate limit exceeded, dropping event", log.Path(path))
		return
	}

	if deleted {
		s.logger.Debug("file deleted", log.Path(path))
		s.handler.OnFileDeleted(s.ctx, path)
		return
	}
	s.logger.Debug("file changed", log.Path(path))
	s.handler.OnFileChanged(s.ctx, path)
}
