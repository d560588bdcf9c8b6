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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"

	"github.com/tombee/loadwatch/internal/config"
	"github.com/tombee/loadwatch/internal/consumer"
	"github.com/tombee/loadwatch/internal/deploy"
	"github.com/tombee/loadwatch/internal/dispatch"
	"github.com/tombee/loadwatch/internal/fileio"
	"github.com/tombee/loadwatch/internal/filter"
	"github.com/tombee/loadwatch/internal/log"
	"github.com/tombee/loadwatch/internal/watch"
	lwerrors "github.com/tombee/loadwatch/pkg/errors"
)

// DefaultKey is the registry key of the subscription installed by Start.
const DefaultKey = "default"

// Options configures the controller.
type Options struct {
	// Root and Patterns define the default subscription.
	Root     string
	Patterns []string

	// BaseDir resolves relative roots of nested subscriptions.
	BaseDir string

	KeyValueNamespace string
	DirProperty       string
	FilterProperty    string
	DocumentNamespace string

	KeyValueExtensions []string
	DocumentExtensions []string
	ArchiveExtensions  []string

	// Applied to every subscription.
	Debounce           time.Duration
	DispatchOnCreate   bool
	MaxEventsPerMinute int
	MaxDepth           int
}

// OptionsFromConfig maps the loaded configuration onto controller options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Root:               cfg.Watch.Root,
		Patterns:           cfg.Watch.Patterns,
		BaseDir:            cfg.BaseDir,
		KeyValueNamespace:  cfg.Namespaces.KeyValue,
		DirProperty:        cfg.Namespaces.DirProperty,
		FilterProperty:     cfg.Namespaces.FilterProperty,
		DocumentNamespace:  cfg.Namespaces.Document,
		KeyValueExtensions: cfg.Extensions.KeyValue,
		DocumentExtensions: cfg.Extensions.Document,
		ArchiveExtensions:  cfg.Extensions.Archive,
		Debounce:           cfg.Watch.Debounce,
		DispatchOnCreate:   cfg.Watch.DispatchOnCreate,
		MaxEventsPerMinute: cfg.Watch.MaxEventsPerMinute,
		MaxDepth:           cfg.Watch.MaxDepth,
	}
}

// DefaultOptions returns the options of the default configuration.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default())
}

// Dependencies are the collaborators of a controller. Zero values select
// local defaults; a nil Deployer disables archive deployment and a nil
// Consumers source means consumers are only registered directly.
type Dependencies struct {
	FileIO    fileio.FileIO
	Deployer  deploy.Deployer
	Consumers consumer.Source
	Filters   filter.Resolver
	Pool      *dispatch.Pool
	Logger    *slog.Logger
}

// SubscriptionStatus describes one live subscription.
type SubscriptionStatus struct {
	// Owner is the key of the file that declared the subscription.
	// Empty for the default subscription.
	Owner string

	watch.Status
}

// Controller owns the watch subscriptions, the configuration records and
// the consumer registrations.
type Controller struct {
	opts     Options
	fileIO   fileio.FileIO
	deployer deploy.Deployer
	source   consumer.Source
	filters  filter.Resolver
	pool     *dispatch.Pool
	logger   *slog.Logger
	kinds    map[string]string

	// sem serializes file events and registry changes. Acquire it with
	// lock so that waiting honours cancellation.
	sem chan struct{}

	subs      *subscriptionRegistry
	consumers *consumerRegistry
	records   *xsync.MapOf[string, *consumer.Configuration]
	feed      *updateFeed
	archives  *archiveQueue

	// ctx is the lifetime of every subscription and is cancelled by
	// Shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	started     bool
	stopped     bool
	unsubscribe func()
}

// New creates a controller.
func New(opts Options, deps Dependencies) (*Controller, error) {
	if opts.Root == "" {
		return nil, &lwerrors.ValidationError{Field: "root", Message: "default watch root is required"}
	}
	if opts.KeyValueNamespace == "" || opts.DocumentNamespace == "" {
		return nil, &lwerrors.ValidationError{Field: "namespaces", Message: "meta-watcher namespaces are required"}
	}
	if opts.DirProperty == "" || opts.FilterProperty == "" {
		return nil, &lwerrors.ValidationError{Field: "namespaces", Message: "meta-watcher properties are required"}
	}
	if opts.BaseDir == "" {
		opts.BaseDir = "."
	}

	kinds, err := classifier(opts)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		opts:      opts,
		fileIO:    deps.FileIO,
		deployer:  deps.Deployer,
		source:    deps.Consumers,
		filters:   deps.Filters,
		pool:      deps.Pool,
		logger:    log.WithComponent(deps.Logger, "controller"),
		kinds:     kinds,
		sem:       make(chan struct{}, 1),
		subs:      newSubscriptionRegistry(),
		consumers: newConsumerRegistry(),
		records:   xsync.NewMapOf[string, *consumer.Configuration](),
		feed:      newUpdateFeed(),
		archives:  newArchiveQueue(),
	}
	if c.fileIO == nil {
		c.fileIO = fileio.New()
	}
	if c.filters == nil {
		c.filters = filter.NewRegistry()
	}
	if c.pool == nil {
		c.pool = dispatch.New(0)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	return c, nil
}

// classifier maps lower-case extensions to file kinds.
func classifier(opts Options) (map[string]string, error) {
	kinds := make(map[string]string)
	for kind, exts := range map[string][]string{
		kindKeyValue: opts.KeyValueExtensions,
		kindDocument: opts.DocumentExtensions,
		kindArchive:  opts.ArchiveExtensions,
	} {
		for _, ext := range exts {
			ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
			if ext == "" {
				continue
			}
			if other, ok := kinds[ext]; ok && other != kind {
				return nil, &lwerrors.ValidationError{
					Field:   "extensions",
					Message: fmt.Sprintf("extension %q is both %s and %s", ext, other, kind),
				}
			}
			kinds[ext] = kind
		}
	}
	return kinds, nil
}

// Start follows the consumer source and installs the default subscription.
// The controller runs until Shutdown.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return errors.New("controller already started")
	}
	if c.stopped {
		return errors.New("controller already shut down")
	}

	root, err := watch.NormalizePath(c.opts.Root)
	if err != nil {
		return fmt.Errorf("invalid watch root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("failed to create watch root %s: %w", root, err)
	}

	f := filter.NewExtension()
	for _, p := range c.opts.Patterns {
		f.AddPattern(p)
	}

	if !c.lock(ctx) {
		return ctx.Err()
	}
	err = c.replace(ctx, DefaultKey, "", c.watchConfig(DefaultKey, root, f))
	c.unlock()
	if err != nil {
		return fmt.Errorf("failed to start default subscription: %w", err)
	}

	if c.source != nil {
		events, unsubscribe := c.source.Subscribe()
		c.unsubscribe = unsubscribe
		c.pool.Spawn(func() { c.followConsumers(events) })
	}

	c.started = true
	c.logger.Info("controller started",
		slog.String("root", root),
		slog.Any("patterns", c.opts.Patterns))
	return nil
}

// Shutdown stops every subscription, forgets all records and consumers and
// waits for in-flight notifications and deployments, bounded by ctx.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started || c.stopped {
		return nil
	}
	if !c.lock(ctx) {
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
	c.stopped = true

	entries := c.subs.drain()
	c.logger.Info("graceful shutdown initiated",
		slog.Int("subscriptions", len(entries)),
		slog.Int("active_tasks", c.pool.Active()+c.pool.Queued()))

	var g errgroup.Group
	for key, e := range entries {
		g.Go(func() error {
			if err := e.sub.Stop(); err != nil {
				return fmt.Errorf("stop subscription %s: %w", key, err)
			}
			return nil
		})
	}
	stopped := make(chan error, 1)
	go func() { stopped <- g.Wait() }()

	var stopErr error
	select {
	case stopErr = <-stopped:
	case <-ctx.Done():
		stopErr = fmt.Errorf("subscriptions did not stop: %w", ctx.Err())
	}

	c.records.Clear()
	c.consumers.clear()
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.cancel()
	c.feed.close()
	c.unlock()

	c.pool.StartDraining()
	waitErr := c.pool.Wait(ctx)
	if waitErr != nil {
		c.logger.Warn("background tasks still running", log.Error(waitErr))
	} else {
		c.logger.Info("background tasks completed")
	}
	c.pool.Close()

	return errors.Join(stopErr, waitErr)
}

// Updates streams every configuration change until unsubscribe is called
// or the controller shuts down. Updates are dropped for a subscriber that
// falls more than a small buffer behind.
func (c *Controller) Updates() (<-chan Update, func()) {
	return c.feed.subscribe()
}

// Subscriptions lists the live subscriptions sorted by key.
func (c *Controller) Subscriptions() []SubscriptionStatus {
	entries := c.subs.snapshot()
	out := make([]SubscriptionStatus, 0, len(entries))
	for _, e := range entries {
		out = append(out, SubscriptionStatus{Owner: e.owner, Status: e.sub.Status()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Configuration returns a copy of the current configuration for key.
// Removed configurations are reported as absent.
func (c *Controller) Configuration(key string) (*consumer.Configuration, bool) {
	rec, ok := c.records.Load(key)
	if !ok || rec.Removed {
		return nil, false
	}
	return rec.Clone(), true
}

func (c *Controller) lock(ctx context.Context) bool {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return false
	}
	if ctx.Err() != nil {
		c.unlock()
		return false
	}
	return true
}

func (c *Controller) unlock() {
	<-c.sem
}

func (c *Controller) followConsumers(events <-chan consumer.Event) {
	for e := range events {
		switch e.Kind {
		case consumer.Arrived:
			if err := c.RegisterConsumer(e.Key, e.Consumer); err != nil {
				c.logger.Warn("consumer rejected", log.Key(e.Key), log.Error(err))
			}
		case consumer.Departed:
			c.DeregisterConsumer(e.Key, e.Consumer)
		}
	}
}

// RegisterConsumer adds cons for key. If a configuration is present it is
// delivered once. Consumers rejected by consumer.Validate are not added.
func (c *Controller) RegisterConsumer(key string, cons consumer.Consumer) error {
	if err := consumer.Validate(cons); err != nil {
		return err
	}
	if !c.lock(c.ctx) {
		return fmt.Errorf("register consumer %s: %w", key, c.ctx.Err())
	}
	defer c.unlock()

	if !c.consumers.add(key, cons) {
		return nil
	}
	c.logger.Debug("consumer registered", log.Key(key))

	if rec, ok := c.records.Load(key); ok && !rec.Removed {
		c.notify(key, []consumer.Consumer{cons}, rec)
	}
	return nil
}

// DeregisterConsumer removes cons from key.
func (c *Controller) DeregisterConsumer(key string, cons consumer.Consumer) {
	if cons == nil || !c.lock(c.ctx) {
		return
	}
	defer c.unlock()

	if c.consumers.remove(key, cons) {
		c.logger.Debug("consumer deregistered", log.Key(key))
	}
}

func (c *Controller) watchConfig(key, root string, f filter.Engine) watch.Config {
	return watch.Config{
		Name:               key,
		Key:                key,
		Root:               root,
		Filter:             f,
		Debounce:           c.opts.Debounce,
		DispatchOnCreate:   c.opts.DispatchOnCreate,
		MaxEventsPerMinute: c.opts.MaxEventsPerMinute,
		MaxDepth:           c.opts.MaxDepth,
	}
}

// resolveRoot resolves a nested root against the base directory.
// Absolute and home-relative roots are kept.
func (c *Controller) resolveRoot(dir string) string {
	dir = strings.TrimSpace(dir)
	if filepath.IsAbs(dir) || strings.HasPrefix(dir, "~") {
		return dir
	}
	return filepath.Join(c.opts.BaseDir, dir)
}

// replace installs a subscription for key, stopping the previous one first.
// The previous entry stays listed until the new one takes its place. Must be
// called with the lock held.
func (c *Controller) replace(ctx context.Context, key, owner string, cfg watch.Config) error {
	sub, err := watch.New(cfg, c,
		watch.WithSpawner(c.pool.Spawn),
		watch.WithLogger(log.WithComponent(c.logger, "watch")))
	if err != nil {
		return err
	}

	if old, ok := c.subs.entries.Load(key); ok {
		c.stop(ctx, key, old.sub)
	}

	if err := sub.Start(c.ctx); err != nil {
		c.subs.remove(key)
		return lwerrors.Wrapf(err, "start subscription %s", key)
	}
	c.subs.put(key, owner, sub)

	c.logger.Info("subscription installed",
		log.Key(key),
		slog.String("root", cfg.Root),
		slog.String("subscription_id", sub.ID()))
	return nil
}

// terminate removes and stops the subscription for key.
// Must be called with the lock held.
func (c *Controller) terminate(ctx context.Context, key string) {
	if sub, ok := c.subs.remove(key); ok {
		c.stop(ctx, key, sub)
		c.logger.Info("subscription terminated", log.Key(key))
	}
}

// stop stops sub and waits for its loop, unless ctx originates from sub,
// which cannot wait for itself.
func (c *Controller) stop(ctx context.Context, key string, sub *watch.Subscription) {
	if origin, ok := watch.FromContext(ctx); ok && origin == sub {
		sub.Cancel()
		c.logger.Debug("subscription cancelled from its own event", log.Key(key))
		return
	}
	if err := sub.Stop(); err != nil {
		c.logger.Warn("subscription stopped with error", log.Key(key), log.Error(err))
	}
}

// terminateOwned terminates the subscriptions declared by owner except
// those in keep. Must be called with the lock held.
func (c *Controller) terminateOwned(ctx context.Context, owner string, keep map[string]struct{}) int {
	n := 0
	for _, key := range c.subs.ownedBy(owner) {
		if _, ok := keep[key]; ok {
			continue
		}
		c.terminate(ctx, key)
		n++
	}
	return n
}
