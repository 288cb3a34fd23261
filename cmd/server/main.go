package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/iconidentify/reelgrabba/internal/api"
	"github.com/iconidentify/reelgrabba/internal/api/handler"
	"github.com/iconidentify/reelgrabba/internal/config"
	"github.com/iconidentify/reelgrabba/internal/fetch"
	"github.com/iconidentify/reelgrabba/internal/proxypool"
	"github.com/iconidentify/reelgrabba/internal/repository"
	"github.com/iconidentify/reelgrabba/internal/retrieval"
	"github.com/iconidentify/reelgrabba/internal/store"
	"github.com/iconidentify/reelgrabba/pkg/ffmpeg"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("reelgrabba %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	// Optional .env for local development
	_ = godotenv.Load()

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting reelgrabba",
		"version", Version,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Ensure the artifact root exists
	if err := os.MkdirAll(cfg.Storage.Root, 0755); err != nil {
		logger.Error("failed to create storage directory", "error", err)
		os.Exit(1)
	}

	// Background loops share one cancellable context
	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()

	// Proxy pool. An empty or unreachable source degrades to direct
	// connections, so a failed initial refresh is not fatal.
	pool := proxypool.New(cfg.Proxy, logger)
	if cfg.Proxy.SourceURL != "" {
		refreshCtx, cancelRefresh := context.WithTimeout(bgCtx, 30*time.Second)
		if err := pool.Refresh(refreshCtx); err != nil {
			logger.Warn("initial proxy refresh failed, starting direct", "error", err)
		}
		cancelRefresh()
		go pool.Run(bgCtx)
	}

	// Retrieval history
	historyRepo, err := repository.NewHistoryRepository(cfg.History.Path)
	if err != nil {
		logger.Error("failed to open history database", "error", err)
		os.Exit(1)
	}
	defer historyRepo.Close()

	// Transcoder
	transcoder, err := ffmpeg.NewTranscoder(cfg.FFmpeg.FFmpegPath, cfg.FFmpeg.FFprobePath)
	if err != nil {
		logger.Error("ffmpeg not available", "error", err)
		os.Exit(1)
	}

	// Artifact store and reclaimer
	artifacts := store.NewArtifactStore(cfg.Storage, cfg.Server.BaseURL, transcoder, logger)
	reclaimer := store.NewReclaimer(cfg.Storage, logger)
	go reclaimer.Run(bgCtx)

	// Fetch client and orchestrator
	fetcher := fetch.NewClient(cfg.Fetch, logger)
	orchestrator := retrieval.NewOrchestrator(pool, fetcher, artifacts, historyRepo, cfg.Fetch, logger)

	// Initialize handlers
	instaHandler := handler.NewInstaHandler(orchestrator, logger)
	historyHandler := handler.NewHistoryHandler(historyRepo, logger)
	healthHandler := handler.NewHealthHandler(cfg.Storage.Root)

	// The request timeout must outlast a fully exhausted attempt loop
	// plus the transcode, or exhaustion surfaces as a gateway timeout
	// instead of the mapped status.
	requestTimeout := cfg.Fetch.RetryBudget() + time.Minute
	writeTimeout := cfg.Server.WriteTimeout
	if writeTimeout < requestTimeout {
		writeTimeout = requestTimeout
	}

	// Setup router
	router := api.NewRouter(instaHandler, historyHandler, healthHandler,
		cfg.Storage.Root, cfg.Server.APIKey, requestTimeout, logger)

	// Setup HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: writeTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	// Stop background loops
	cancelBg()

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}
