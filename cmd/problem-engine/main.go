package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/solvient/problem-engine/internal/api"
	"github.com/solvient/problem-engine/internal/catalog"
	"github.com/solvient/problem-engine/internal/config"
	"github.com/solvient/problem-engine/internal/engine"
	"github.com/solvient/problem-engine/internal/queue"
	"github.com/solvient/problem-engine/internal/steps"
	"github.com/solvient/problem-engine/internal/storage"
	"github.com/solvient/problem-engine/internal/worker"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("problem-engine failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Run database migrations
	if err := storage.MigrateFromDSN(ctx, cfg.Database.DSN, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Persistence
	repo, err := storage.NewPostgresRepository(ctx, storage.PostgresConfig{
		DSN:          cfg.Database.DSN,
		MaxOpenConns: int32(cfg.Database.MaxOpenConns),
		MaxIdleConns: int32(cfg.Database.MaxIdleConns),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer repo.Close()

	// Catalog bootstrap
	loader := catalog.NewLoader(cfg.Catalog.Dir)
	if err := loader.Load(); err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	if err := loader.Sync(ctx, repo); err != nil {
		return fmt.Errorf("failed to sync catalog: %w", err)
	}

	// Execution queue
	q, err := queue.NewRedisQueue(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.QueueKey)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer q.Close()

	// Step execution: builtins run in-process, everything else goes to
	// the model-backed runner.
	gemini, err := steps.NewGeminiRunner(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
	if err != nil {
		return fmt.Errorf("failed to create step runner: %w", err)
	}

	registry := steps.NewRegistry(gemini)
	registry.Register("passthrough", steps.Passthrough)

	// Core services
	eng := engine.NewEngine(repo, registry, cfg.Billing.Currency)
	service := engine.NewService(repo, q)

	// Execution workers
	w := worker.New(q, eng, repo, cfg.Worker.Concurrency, cfg.Worker.RequeueAfter)
	w.Start(ctx)

	// HTTP API
	server := api.NewServer(cfg.Server, service, repo, q)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("problem-engine listening",
			"addr", addr,
			"workers", cfg.Worker.Concurrency,
			"runner", gemini.Name(),
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	case sig := <-sigCh:
		slog.Info("shutdown signal received", "signal", sig.String())
	}

	// Stop workers first so no new executions start mid-shutdown
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}

	// In-flight executions run on detached contexts; let them reach a
	// terminal state before exiting.
	w.Wait()

	slog.Info("problem-engine stopped")
	return nil
}
