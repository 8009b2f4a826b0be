// Package app provides the unified application lifecycle for the driftgate
// service.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"

	httpapi "github.com/driftgate/driftgate/internal/api/http"
	"github.com/driftgate/driftgate/internal/archive"
	"github.com/driftgate/driftgate/internal/config"
	"github.com/driftgate/driftgate/internal/expect"
	"github.com/driftgate/driftgate/internal/observability"
	"github.com/driftgate/driftgate/internal/pipeline"
	"github.com/driftgate/driftgate/internal/reconcile"
	"github.com/driftgate/driftgate/internal/registry"
	"github.com/driftgate/driftgate/internal/ruleset"
	"github.com/driftgate/driftgate/internal/server"
	"github.com/driftgate/driftgate/internal/storage"
)

// App manages the driftgate service lifecycle.
type App struct {
	cfg *config.Config

	// Shared resources
	registry registry.Registry
	rules    *ruleset.Store
	archiver *archive.Archiver
	stats    *observability.ValidationStats
	runner   *pipeline.Runner
	shutdown *server.ShutdownManager

	httpServer *http.Server

	// Lifecycle
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new App with the given configuration.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	return &App{cfg: cfg}, nil
}

// Start initializes shared resources and starts the HTTP server.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.initSharedResources(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to initialize shared resources: %w", err)
	}

	if err := a.startHTTPServer(); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	log.Printf("driftgate started: registry=%s, archive_enabled=%v",
		a.cfg.Registry.Backend, a.cfg.Archive.Enabled)
	return nil
}

// initSharedResources initializes the registry, rule store, archiver, and
// the validation pipeline built over them.
func (a *App) initSharedResources(ctx context.Context) error {
	var err error

	// Schema registry
	a.registry, err = registry.Open(a.cfg.Registry)
	if err != nil {
		return fmt.Errorf("failed to open registry: %w", err)
	}
	log.Printf("Registry initialized: backend=%s", a.cfg.Registry.Backend)

	// Rule store, with optional hot reload
	a.rules, err = ruleset.Open(a.cfg.Rules.Path)
	if err != nil {
		return fmt.Errorf("failed to load rule set: %w", err)
	}
	if a.cfg.Rules.Path != "" {
		log.Printf("Rule set loaded: %s (%d datasets)", a.cfg.Rules.Path, len(a.rules.Datasets()))
	}
	if a.cfg.Rules.Watch && a.cfg.Rules.Path != "" {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.rules.Watch(ctx); err != nil {
				log.Printf("[WARN] app: rule set watcher stopped: %v", err)
			}
		}()
		log.Printf("Rule set watcher started: %s", a.cfg.Rules.Path)
	}

	// Archiver over local or S3 object storage
	if a.cfg.Archive.Enabled {
		var store storage.ObjectStorage
		switch a.cfg.Archive.Storage.Type {
		case "local":
			store, err = storage.NewLocalStorage(a.cfg.Archive.Storage.Path)
		case "s3":
			store, err = storage.NewS3Storage(ctx, a.cfg.Archive.Storage.S3.Bucket, storage.S3Config{
				Region:       a.cfg.Archive.Storage.S3.Region,
				Endpoint:     a.cfg.Archive.Storage.S3.Endpoint,
				UsePathStyle: a.cfg.Archive.Storage.S3.UsePathStyle,
			})
		default:
			return fmt.Errorf("unsupported archive storage type: %s", a.cfg.Archive.Storage.Type)
		}
		if err != nil {
			return fmt.Errorf("failed to initialize archive storage: %w", err)
		}
		a.archiver = archive.New(store, a.cfg.Archive.Compress)
		log.Printf("Archive initialized: type=%s, compress=%v",
			a.cfg.Archive.Storage.Type, a.cfg.Archive.Compress)
	}

	// Validation pipeline
	a.stats = observability.NewValidationStats()
	reconciler := reconcile.New(a.registry, reconcile.Policy{
		CaseInsensitive: a.cfg.Reconcile.CaseInsensitiveNames,
		MaxRetries:      a.cfg.Reconcile.MaxRetries,
	})
	a.runner = pipeline.NewRunner(reconciler, expect.NewEngine(), a.rules, a.archiver, a.stats)

	// Shutdown manager
	a.shutdown = server.NewShutdownManager(server.ShutdownConfig{
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
	})
	a.shutdown.RegisterCloser(server.CloserFunc(a.registry.Close))

	return nil
}

// startHTTPServer wires the API handlers and starts the listener.
func (a *App) startHTTPServer() error {
	middleware := httpapi.ChainMiddleware(
		server.ShutdownMiddleware(a.shutdown),
		httpapi.RecoveryMiddleware,
		httpapi.RequestIDMiddleware,
		httpapi.CorrelationIDMiddleware,
		httpapi.ContentTypeMiddleware,
	)

	mux := http.NewServeMux()
	mux.Handle("/v1/validate", middleware(httpapi.NewValidateHandler(a.runner)))
	mux.Handle("/v1/datasets", middleware(httpapi.NewDatasetsHandler(a.registry)))
	mux.Handle("/v1/history", middleware(httpapi.NewHistoryHandler(a.registry)))
	mux.Handle("/v1/migrations", middleware(httpapi.NewMigrationsHandler(a.registry)))
	mux.Handle("/v1/stats", middleware(httpapi.NewStatsHandler(a.stats)))
	mux.Handle("/health", httpapi.NewHealthHandler(a.cfg.Registry.Backend))

	a.httpServer = &http.Server{
		Addr:         a.cfg.Server.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log.Printf("HTTP server listening on %s", a.cfg.Server.HTTPAddr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	return nil
}

// Runner exposes the validation pipeline for embedding callers.
func (a *App) Runner() *pipeline.Runner {
	return a.runner
}

// Registry exposes the schema registry for embedding callers.
func (a *App) Registry() registry.Registry {
	return a.registry
}

// Stop gracefully stops the service and releases resources.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	log.Printf("Initiating graceful shutdown...")

	if a.cancel != nil {
		a.cancel()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}

	// Wait for the server goroutine and the rule watcher
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Printf("Shutdown timeout, some goroutines may not have finished")
	}

	a.cleanup()

	log.Printf("driftgate stopped")
	return nil
}

// cleanup releases all shared resources.
func (a *App) cleanup() {
	if a.registry != nil {
		if err := a.registry.Close(); err != nil {
			log.Printf("Registry close error: %v", err)
		}
		a.registry = nil
	}
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown(ctx context.Context) error {
	return a.shutdown.ListenForSignals(ctx)
}
