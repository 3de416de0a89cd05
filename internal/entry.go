// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/assetforge/internal/api"
	"github.com/starford/assetforge/internal/assetservice"
	"github.com/starford/assetforge/internal/build"
	"github.com/starford/assetforge/internal/cache"
	"github.com/starford/assetforge/internal/filter"
	"github.com/starford/assetforge/internal/mcpserver"
	"github.com/starford/assetforge/internal/pipeline"
	"github.com/starford/assetforge/internal/sse"
	"github.com/starford/assetforge/internal/stages"
	"github.com/starford/assetforge/internal/storage"
	"github.com/starford/assetforge/internal/watcher"
)

// engine bundles the components shared by every run mode.
type engine struct {
	cfg     *Config
	logger  *slog.Logger
	store   *storage.FS
	cache   *cache.GraphCache
	builder *build.Builder
	watcher *watcher.Watcher
	source  watcher.Source
	input   string
}

func (e *engine) Close() {
	if e.source != nil {
		if err := e.source.Close(); err != nil {
			e.logger.Warn("watcher source close failed", slog.String("error", err.Error()))
		}
	}
	if e.cache != nil {
		if err := e.cache.Close(); err != nil {
			e.logger.Warn("cache close failed", slog.String("error", err.Error()))
		}
	}
}

func setup(opts []Option, defaultLog io.Writer) (*application, *slog.Logger, error) {
	app := &application{logOutput: defaultLog, version: "dev"}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, nil, fmt.Errorf("config is required")
	}
	if app.stages == nil {
		app.stages = stages.Builtin()
	}

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: app.config.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("entry", app.config.Pipeline.Entry),
		slog.String("output", app.config.Pipeline.Output),
		slog.Bool("cache", app.config.Cache.Enabled),
		slog.String("log_level", app.config.App.LogLevel.String()))

	return app, logger, nil
}

func newEngine(app *application, logger *slog.Logger, live bool, notify build.Notifier) (*engine, error) {
	cfg := app.config

	input, err := filepath.Abs(cfg.Pipeline.Entry)
	if err != nil {
		return nil, fmt.Errorf("resolve entry: %w", err)
	}
	if info, err := os.Stat(input); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("entry %s is not a directory", input)
	}

	// Initialize storage.
	store, err := storage.NewFS(cfg.Pipeline.Output)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	ignore := append([]string(nil), cfg.Pipeline.Ignore...)
	if rel, err := filepath.Rel(input, store.Root()); err == nil && !strings.HasPrefix(rel, "..") {
		rel = filepath.ToSlash(rel)
		ignore = append(ignore, rel, rel+"/**")
	}
	pf, err := filter.New(input, ignore)
	if err != nil {
		return nil, fmt.Errorf("init filter: %w", err)
	}

	e := &engine{cfg: cfg, logger: logger, store: store, input: input}

	var backend cache.Store
	switch {
	case !cfg.Cache.Enabled:
		// Views for the API are still served from the last cycle.
		backend = cache.NewMemoryStore()
	case cfg.Cache.Backend == CacheBackendSQLite:
		db, err := cache.OpenSQLite(cfg.Cache.Path)
		if err != nil {
			return nil, fmt.Errorf("init cache: %w", err)
		}
		backend = db
	default:
		backend = cache.NewJSONStore(cfg.Cache.Path)
	}
	e.cache = cache.New(backend, logger)

	pc := pipeline.NewContext(input, store, logger)
	p, err := pipeline.New(pc, app.stages, cfg.Pipeline.Stages)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("init pipeline: %w", err)
	}

	bopts := []build.Option{
		build.WithConcurrency(cfg.Pipeline.Concurrency),
		build.WithStrict(cfg.Pipeline.Strict),
		build.WithCache(e.cache),
	}
	if notify != nil {
		bopts = append(bopts, build.WithNotifier(notify))
	}
	e.builder = build.New(p, store, logger, bopts...)

	if live {
		src, err := watcher.NewFSNotifySource(pf, logger)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.source = src
	}

	e.watcher, err = watcher.New(watcher.Options{
		Root:     input,
		Filter:   pf,
		Cache:    e.cache,
		Source:   e.source,
		Debounce: cfg.Pipeline.Debounce,
		Settings: cfg.AssetSettings,
		Outputs:  e.builder,
		Logger:   logger,
	}, e.builder.Update, e.builder.Complete)
	if err != nil {
		e.Close()
		return nil, err
	}

	return e, nil
}

// service exposes the engine's state to the API and MCP layers.
func (e *engine) service() *assetservice.Service {
	return assetservice.NewService(e.cache, e.store, e.builder, e.input)
}

// Build runs a single build of the configured entry directory and returns.
func Build(ctx context.Context, opts ...Option) error {
	app, logger, err := setup(opts, os.Stdout)
	if err != nil {
		return err
	}

	e, err := newEngine(app, logger, false, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	start := time.Now()
	if err := e.watcher.Run(ctx); err != nil {
		logger.Error("Build failed", slog.String("error", err.Error()))
		return err
	}

	if sum := e.builder.LastSummary(); sum != nil {
		logger.Info("Build finished",
			slog.Int("processed", sum.Processed),
			slog.Int("failed", sum.Failed),
			slog.Duration("duration", time.Since(start)))
	}
	return nil
}

// Run starts watch mode: an initial build, then incremental rebuilds on
// file changes, plus the dev server when enabled.
func Run(ctx context.Context, opts ...Option) error {
	app, logger, err := setup(opts, os.Stdout)
	if err != nil {
		return err
	}
	cfg := app.config

	// SSE broker.
	var broker *sse.Broker
	var notify build.Notifier
	if cfg.App.HTTP.Enabled {
		broker = sse.NewBroker(2*time.Second, sse.WithReplay(build.EventCompleted))
		defer broker.Close()
		notify = broker.PublishBuildEvent
	}

	e, err := newEngine(app, logger, true, notify)
	if err != nil {
		return err
	}
	defer e.Close()

	g, gCtx := errgroup.WithContext(ctx)

	// Start the watcher; its first cycle is the initial build.
	g.Go(func() error {
		if err := e.watcher.Run(gCtx); err != nil {
			return fmt.Errorf("watcher error: %w", err)
		}
		return nil
	})

	var httpServer *http.Server
	if cfg.App.HTTP.Enabled {
		httpServer = &http.Server{
			Addr:              cfg.App.HTTP.Address(),
			Handler:           e.router(broker),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Start HTTP server.
		g.Go(func() error {
			logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
	}

	// Handle shutdown signals.
	g.Go(func() error {
		return e.awaitShutdown(gCtx, httpServer)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Watcher stopped successfully")
	return nil
}

// ServeMCP runs watch mode and serves the MCP protocol on stdio. Logs go to
// stderr so they do not corrupt the protocol stream.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app, logger, err := setup(opts, os.Stderr)
	if err != nil {
		return err
	}

	e, err := newEngine(app, logger, true, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	srv := mcpserver.New(e.service(), app.version)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := e.watcher.Run(gCtx); err != nil {
			return fmt.Errorf("watcher error: %w", err)
		}
		return nil
	})

	// ServeStdio returns when stdin closes; that ends the session.
	g.Go(func() error {
		if err := srv.ServeStdio(); err != nil {
			return fmt.Errorf("mcp server error: %w", err)
		}
		return errShutdown
	})

	g.Go(func() error {
		return e.awaitShutdown(gCtx, nil)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// errShutdown cancels the run group after a signal.
var errShutdown = errors.New("shutdown")

func (e *engine) awaitShutdown(ctx context.Context, httpServer *http.Server) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var err error
	select {
	case sig := <-quit:
		e.logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		err = errShutdown
	case <-ctx.Done():
		e.logger.Info("Context cancelled, initiating shutdown")
	}

	if httpServer != nil {
		e.logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			e.logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
	}

	return err
}

func (e *engine) router(broker *sse.Broker) http.Handler {
	cfg := e.cfg

	apiRouter := api.NewRouter(e.service(), cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if e.builder.LastSummary() == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"building"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	// Built artifacts.
	r.Handle("/out/*", http.StripPrefix("/out/", http.FileServer(http.Dir(e.store.Root()))))

	return r
}
