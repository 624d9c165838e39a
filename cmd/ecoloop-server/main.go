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

	"github.com/ecoloop/ecoloop-server/internal/api"
	"github.com/ecoloop/ecoloop-server/internal/catalog"
	"github.com/ecoloop/ecoloop-server/internal/config"
	"github.com/ecoloop/ecoloop-server/internal/engine"
	"github.com/ecoloop/ecoloop-server/internal/leaderboard"
	"github.com/ecoloop/ecoloop-server/internal/storage"
	"github.com/ecoloop/ecoloop-server/internal/verifier"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.Info("starting ecoloop-server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	// Create context for initialization
	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()

	// Initialize database store
	store, err := storage.NewPostgresStore(initCtx, storage.PostgresConfig{
		DSN: cfg.Database.DSN,
	})
	if err != nil {
		slog.Error("failed to create database store", "error", err)
		os.Exit(1)
	}
	slog.Info("database connected successfully")

	// Run database migrations
	slog.Info("running database migrations", "dir", cfg.Database.MigrationsDir)
	if err := store.Migrate(initCtx, cfg.Database.MigrationsDir); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Load the level catalog
	levelCatalog := catalog.New()
	if err := levelCatalog.LoadFromDir(cfg.Catalog.Dir); err != nil {
		slog.Warn("failed to load catalog from dir", "dir", cfg.Catalog.Dir, "error", err)
	}
	if len(levelCatalog.List()) == 0 {
		slog.Error("no levels loaded", "dir", cfg.Catalog.Dir)
		os.Exit(1)
	}

	// Connect the coins leaderboard
	board, err := leaderboard.New(cfg.Redis.Address, cfg.Redis.Password)
	if err != nil {
		slog.Error("failed to connect leaderboard", "error", err)
		os.Exit(1)
	}

	// Pick the task verifier: Gemini when a key is configured, otherwise
	// the accept-everything mock for local development.
	var taskVerifier verifier.TaskVerifier
	if cfg.Gemini.APIKey != "" {
		taskVerifier, err = verifier.NewGeminiVerifier(initCtx, cfg.Gemini.APIKey, cfg.Gemini.Model)
		if err != nil {
			slog.Error("failed to create gemini verifier", "error", err)
			os.Exit(1)
		}
		slog.Info("task verification enabled", "model", cfg.Gemini.Model)
	} else {
		taskVerifier = verifier.NewMockVerifier()
		slog.Warn("no gemini API key configured, task submissions are auto-approved")
	}

	// Reward ledger
	ledger := engine.NewLedger(store, levelCatalog)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start background workers
	refresher := leaderboard.NewRefresher(board, store, cfg.Leaderboard.RefreshInterval)
	refresher.Start(ctx)

	sweeper := storage.NewSessionSweeper(store, time.Hour)
	sweeper.Start(ctx)

	// Setup HTTP server
	server := api.NewServer(cfg.Server, store, levelCatalog, ledger, taskVerifier, board, cfg.Auth.SessionTTL)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("HTTP server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down gracefully...")

	// Cancel context to stop background workers
	cancel()

	// Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	if err := board.Close(); err != nil {
		slog.Error("leaderboard close error", "error", err)
	}

	if err := store.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("ecoloop-server stopped")
}
