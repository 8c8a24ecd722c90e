// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/tracemark/internal/api"
	"github.com/starford/tracemark/internal/attribution"
	"github.com/starford/tracemark/internal/inbox"
	"github.com/starford/tracemark/internal/mcpserver"
	"github.com/starford/tracemark/internal/sse"
)

// ledgerSummaryEvery throttles the ledger.updated summary event.
const ledgerSummaryEvery = 2 * time.Second

// Run starts the HTTP server and, when configured, the inbox watcher.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if err := app.validate(); err != nil {
		return err
	}

	cfg := app.config
	logger := app.logger
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("artifacts_path", cfg.Artifacts.Path),
		slog.String("inbox_path", cfg.Inbox.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Int("sites", cfg.Embedding.Sites),
		slog.String("log_level", cfg.App.LogLevel.String()))

	broker := sse.NewBroker(ledgerSummaryEvery)
	defer broker.Close()

	stack, err := OpenStack(cfg, logger, broker)
	if err != nil {
		return err
	}
	defer stack.Close()

	apiRouter := api.NewRouter(stack.Service, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", healthOK)
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := stack.DB.PingContext(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		healthOK(w, r)
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Inbox.Enabled() {
		if err := os.MkdirAll(cfg.Inbox.Path, 0o755); err != nil {
			return fmt.Errorf("create inbox dir: %w", err)
		}
		g.Go(func() error {
			return inbox.Watch(gCtx, cfg.Inbox.Path, stack.Service, logger, inboxFailures(broker))
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the inbox watcher exits with the server.
var errShutdown = errors.New("shutdown requested")

// RunMCP serves the MCP tools over stdio until the client disconnects.
func RunMCP(_ context.Context, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil && app.config != nil {
		app.logger = NewLogger(os.Stderr, app.config.App.LogLevel)
	}
	if err := app.validate(); err != nil {
		return err
	}

	stack, err := OpenStack(app.config, app.logger, nil)
	if err != nil {
		return err
	}
	defer stack.Close()

	app.logger.Info("MCP server starting on stdio")
	return mcpserver.New(stack.Service).ServeStdio()
}

// inboxFailures forwards files the inbox could not scan to dashboards.
// Successful scans are published by the issuance service itself.
func inboxFailures(b *sse.Broker) inbox.Callback {
	return func(path string, _ attribution.Result, err error) {
		if err == nil {
			return
		}
		b.Publish(sse.Event{Type: sse.EventScanFailed, Data: map[string]string{
			"path":  path,
			"error": err.Error(),
		}})
	}
}

func healthOK(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
