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
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tombee/loadwatch/internal/config"
	"github.com/tombee/loadwatch/internal/consumer"
	"github.com/tombee/loadwatch/internal/deploy"
	"github.com/tombee/loadwatch/internal/dispatch"
	"github.com/tombee/loadwatch/internal/filter"
	"github.com/tombee/loadwatch/internal/log"
	lwerrors "github.com/tombee/loadwatch/pkg/errors"
)

// RunOptions configures daemon execution.
type RunOptions struct {
	Version   string
	Commit    string
	BuildDate string

	// ConfigPath is the YAML file to load. Empty uses defaults and the
	// environment only.
	ConfigPath string

	// Config overrides
	Root        string
	DeployDir   string
	MetricsAddr string
	LogLevel    string

	// Consumers is the source of consumer registrations. Defaults to an
	// empty Tracker.
	Consumers consumer.Source
}

// Run starts the controller and blocks until SIGINT or SIGTERM.
func Run(opts RunOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Apply overrides from options
	if opts.Root != "" {
		cfg.Watch.Root = opts.Root
	}
	if opts.DeployDir != "" {
		cfg.Deploy.Dir = opts.DeployDir
	}
	if opts.MetricsAddr != "" {
		cfg.Metrics.Addr = opts.MetricsAddr
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return &lwerrors.ConfigError{Key: "validation", Reason: "invalid overrides", Cause: err}
	}

	logger := log.New(cfg.LoggerConfig())
	slog.SetDefault(logger)

	source := opts.Consumers
	if source == nil {
		source = consumer.NewTracker()
	}

	c, err := New(OptionsFromConfig(cfg), Dependencies{
		Deployer:  deploy.NewArchiveDeployer(cfg.Deploy.Dir),
		Consumers: source,
		Filters:   filter.NewRegistry(),
		Pool:      dispatch.New(cfg.Workers.MaxConcurrent),
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("failed to start controller: %w", err)
	}
	logger.Info("loadwatch started",
		slog.String("version", opts.Version),
		slog.String("commit", opts.Commit),
		slog.String("build_date", opts.BuildDate))

	errCh := make(chan error, 1)
	var server *http.Server
	if cfg.Metrics.Addr != "" {
		ln, err := net.Listen("tcp", cfg.Metrics.Addr)
		if err != nil {
			_ = c.Shutdown(ctx)
			return fmt.Errorf("failed to listen on %s: %w", cfg.Metrics.Addr, err)
		}
		var muxOpts []MuxOption
		if cfg.Metrics.Updates {
			muxOpts = append(muxOpts, WithUpdates())
			if !loopback(cfg.Metrics.Addr) {
				logger.Warn("update stream is served without authentication on a non-loopback address",
					slog.String("addr", cfg.Metrics.Addr))
			}
		}
		server = &http.Server{
			Handler:           log.NewHTTPMiddleware(logger).Wrap(NewMux(c, muxOpts...)),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := server.Serve(ln); err != nil && !lwerrors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		logger.Info("metrics endpoint listening", slog.String("addr", ln.Addr().String()))
	}

	// Wait for shutdown signal or error
	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", slog.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("metrics server error", log.Error(err))
		runErr = fmt.Errorf("metrics server error: %w", err)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", log.Error(err))
		}
	}
	if err := c.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during shutdown", log.Error(err))
		return errors.Join(runErr, fmt.Errorf("shutdown error: %w", err))
	}
	return runErr
}
