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
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"

	"github.com/tombee/loadwatch/internal/consumer"
	"github.com/tombee/loadwatch/internal/filter"
	"github.com/tombee/loadwatch/internal/log"
	lwerrors "github.com/tombee/loadwatch/pkg/errors"
)

// classify returns the kind of path, or "" for files the controller does
// not handle.
func (c *Controller) classify(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	return c.kinds[ext]
}

// OnFileChanged implements watch.Handler.
func (c *Controller) OnFileChanged(ctx context.Context, path string) {
	kind := c.classify(path)
	if kind == "" {
		log.Trace(c.logger, "ignoring unclassified file", log.Path(path))
		return
	}
	if !c.lock(ctx) {
		return
	}
	defer c.unlock()

	info, err := os.Stat(path)
	if err != nil {
		c.logger.Debug("ignoring stale path", log.Path(path), log.Error(err))
		return
	}
	if info.IsDir() {
		return
	}

	recordDispatch(kind)
	switch kind {
	case kindKeyValue:
		err = c.loadKeyValue(ctx, path, info.ModTime())
	case kindDocument:
		err = c.loadDocument(ctx, path, info.ModTime())
	case kindArchive:
		c.deploy(path)
	}
	if err != nil {
		recordDispatchError(kind)
		c.logger.Error("failed to process file",
			log.Path(path),
			slog.String("kind", kind),
			log.Error(err))
	}
}

// OnFileDeleted implements watch.Handler.
func (c *Controller) OnFileDeleted(ctx context.Context, path string) {
	kind := c.classify(path)
	if kind == "" {
		return
	}
	if !c.lock(ctx) {
		return
	}
	defer c.unlock()

	if kind == kindArchive {
		c.undeploy(path)
		return
	}

	key := consumer.KeyFromPath(path)
	if n := c.terminateOwned(ctx, key, nil); n > 0 {
		c.logger.Info("meta-watcher removed", log.Key(key), slog.Int("subscriptions", n))
		return
	}

	if _, ok := c.records.Load(key); ok {
		c.records.Store(key, consumer.Tombstone(key, path))
	}
	c.logger.Info("configuration removed", log.Key(key), log.Path(path))
	c.feed.publish(updateFrom(key, path, nil))
	c.notify(key, c.consumers.get(key), nil)
}

func (c *Controller) loadKeyValue(ctx context.Context, path string, modTime time.Time) error {
	props, err := c.fileIO.ReadKeyValue(path)
	if err != nil {
		return lwerrors.Wrap(err, "read key/value file")
	}

	key := consumer.KeyFromPath(path)
	if strings.HasPrefix(key, c.opts.KeyValueNamespace) {
		dir, hasDir := props[c.opts.DirProperty]
		patterns, hasFilter := props[c.opts.FilterProperty]
		if hasDir && hasFilter {
			f := filter.NewExtension()
			for _, p := range strings.Split(patterns, ",") {
				if p = strings.TrimSpace(p); p != "" {
					f.AddPattern(p)
				}
			}
			return c.replace(ctx, key, key, c.watchConfig(key, c.resolveRoot(dir), f))
		}
		if c.terminateOwned(ctx, key, nil) > 0 {
			c.logger.Info("meta-watcher no longer declares a watch", log.Key(key))
		}
	}

	c.publish(consumer.NewProperties(key, path, props, modTime))
	return nil
}

func (c *Controller) loadDocument(ctx context.Context, path string, modTime time.Time) error {
	doc, err := c.fileIO.ReadDocument(path)
	if err != nil {
		return lwerrors.Wrap(err, "read document")
	}

	key := consumer.KeyFromPath(path)
	if strings.HasPrefix(key, c.opts.DocumentNamespace) {
		c.applyDefinitions(ctx, key, doc)
		return nil
	}

	c.publish(consumer.NewDocument(key, path, doc, modTime))
	return nil
}

// applyDefinitions installs one subscription per watcher declared by the
// document and terminates the ones it no longer declares.
func (c *Controller) applyDefinitions(ctx context.Context, owner string, doc *xmlquery.Node) {
	defs, errs := parseDefinitions(doc)
	for _, err := range errs {
		recordDispatchError(kindDocument)
		c.logger.Warn("ignoring watcher definition", log.Key(owner), log.Error(err))
	}

	declared := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		key := owner + "/" + def.Name

		f, err := c.filters.Resolve(def.FilterType)
		if err != nil {
			recordDispatchError(kindDocument)
			c.logger.Warn("ignoring watcher definition", log.Key(key), log.Error(err))
			continue
		}
		for _, p := range def.Patterns {
			f.AddPattern(p)
		}

		cfg := c.watchConfig(key, c.resolveRoot(def.Root), f)
		if def.MaxEventsPerMinute > 0 {
			cfg.MaxEventsPerMinute = def.MaxEventsPerMinute
		}
		if err := c.replace(ctx, key, owner, cfg); err != nil {
			recordDispatchError(kindDocument)
			c.logger.Warn("failed to install watcher", log.Key(key), log.Error(err))
			continue
		}
		declared[key] = struct{}{}
	}

	c.terminateOwned(ctx, owner, declared)
}

// publish stores rec and delivers it to the consumers of its key.
func (c *Controller) publish(rec *consumer.Configuration) {
	c.records.Store(rec.Key, rec)
	c.logger.Info("configuration updated", log.Key(rec.Key), log.Path(rec.Source))
	c.feed.publish(updateFrom(rec.Key, rec.Source, rec))
	c.notify(rec.Key, c.consumers.get(rec.Key), rec)
}

// notify delivers a copy of rec to every consumer in the background. A nil
// rec tells consumers the configuration is gone.
func (c *Controller) notify(key string, consumers []consumer.Consumer, rec *consumer.Configuration) {
	for _, cons := range consumers {
		cfg := rec.Clone()
		ok := c.pool.Go(func(ctx context.Context) {
			if err := cons.Updated(ctx, cfg); err != nil {
				recordNotification("error")
				c.logger.Warn("consumer rejected configuration", log.Key(key), log.Error(err))
				return
			}
			recordNotification("delivered")
		})
		if !ok {
			recordNotification("dropped")
			c.logger.Debug("notification dropped while draining", log.Key(key))
		}
	}
}

func (c *Controller) deploy(path string) {
	name := filepath.Base(path)
	if c.deployer == nil {
		c.logger.Warn("no deployer configured, skipping archive", log.Path(path))
		return
	}

	c.runArchiveOp(name, func(ctx context.Context) {
		f, err := os.Open(path)
		if err != nil {
			recordDeployment("deploy", "error")
			c.logger.Error("failed to open archive", log.Path(path), log.Error(err))
			return
		}
		defer f.Close()

		h, err := c.deployer.Deploy(ctx, name, f)
		if err != nil {
			recordDeployment("deploy", "error")
			c.logger.Error("deployment failed", log.Path(path), log.Error(err))
			return
		}
		recordDeployment("deploy", "success")
		c.logger.Info("archive deployed",
			slog.String("name", h.Name),
			slog.String("location", h.Location),
			slog.Int("files", h.Files))
	})
}

func (c *Controller) undeploy(path string) {
	name := filepath.Base(path)
	if c.deployer == nil {
		return
	}

	c.runArchiveOp(name, func(ctx context.Context) {
		if err := c.deployer.Undeploy(ctx, name); err != nil {
			recordDeployment("undeploy", "error")
			c.logger.Error("undeployment failed", log.Path(path), log.Error(err))
			return
		}
		recordDeployment("undeploy", "success")
		c.logger.Info("archive undeployed", slog.String("name", name))
	})
}
