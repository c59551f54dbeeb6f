package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pressproof/render-node/internal/api"
	"github.com/pressproof/render-node/internal/browser"
	"github.com/pressproof/render-node/internal/capture"
	"github.com/pressproof/render-node/internal/config"
	"github.com/pressproof/render-node/internal/diagnostics"
	"github.com/pressproof/render-node/internal/resolver"
	"github.com/pressproof/render-node/internal/storage"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	if cfg.SharedSecret == "" {
		logger.Warn("SHARED_SECRET is empty, authentication is disabled")
	}

	store := buildStore(ctx, cfg, logger)

	manager := browser.NewManager(browser.Options{
		Mode:             cfg.BrowserMode,
		ChromePath:       cfg.ChromePath,
		Image:            cfg.BrowserImage,
		DockerNetwork:    cfg.DockerNetwork,
		DevtoolsPort:     cfg.DevtoolsPort,
		RelaunchAttempts: cfg.RelaunchAttempts,
	}, logger)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		manager.Shutdown(shutdownCtx)
	}()

	// Pre-launch so the first request does not pay the browser start
	// cost. A failed warmup is retried on first use.
	if err := manager.Warmup(ctx); err != nil {
		logger.Warn("browser warmup failed", zap.Error(err))
	}

	server := api.NewServer(api.ServerConfig{
		Config:  cfg,
		Manager: manager,
		Resolver: &resolver.Resolver{
			Allowlist:         cfg.AllowedOrigins,
			Policy:            resolver.AllowlistPolicy(cfg.AllowlistPolicy),
			ForceInternalHost: cfg.ForceInternalHost,
			InternalHost:      cfg.InternalHost,
			SelectorFallback:  "body",
		},
		Executor:  capture.NewExecutor(cfg.CaptureTimeout, logger),
		Collector: diagnostics.NewCollector(store, logger),
		Logger:    logger,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		manager.Shutdown(shutdownCtx)
		cancel()
		os.Exit(0)
	}()

	logger.Info("starting render-node server", zap.String("addr", cfg.ListenAddr))
	if err := server.Run(cfg.ListenAddr); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

// buildStore wires the diagnostic artifact store: MinIO when
// configured, local scratch dir otherwise. Diagnostics are optional,
// so storage failures degrade to a warning instead of refusing to
// start.
func buildStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) storage.ArtifactStore {
	if cfg.MinioEndpoint != "" {
		store, err := storage.NewMinIOStorage(
			cfg.MinioEndpoint,
			cfg.MinioAccessKey,
			cfg.MinioSecretKey,
			cfg.MinioBucket,
			cfg.MinioUseSSL,
		)
		if err != nil {
			logger.Warn("failed to create minio storage", zap.Error(err))
		} else if err := store.EnsureBucket(ctx); err != nil {
			logger.Warn("failed to ensure diagnostics bucket", zap.Error(err))
		} else {
			return store
		}
	}

	store, err := storage.NewLocalStorage(cfg.DiagDir)
	if err != nil {
		logger.Warn("failed to create local storage, diagnostics disabled", zap.Error(err))
		return nil
	}
	return store
}
