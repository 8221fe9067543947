package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"nasdrive-backend/internal/api"
	"nasdrive-backend/internal/config"
	"nasdrive-backend/internal/observability"
	"nasdrive-backend/internal/storage"
	"nasdrive-backend/internal/store"
	"nasdrive-backend/internal/temp"
	"nasdrive-backend/internal/thumb"
	"nasdrive-backend/internal/upload"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.InitLogger(cfg.DevLogging)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	var db store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		db = pg
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		db = store.NewMemoryStore()
	}
	defer db.Close()

	files, err := storage.NewRoot(cfg.StorageRoot)
	if err != nil {
		logger.Fatal("failed to resolve storage root", zap.Error(err))
	}
	if err := files.EnsureLayout(); err != nil {
		logger.Fatal("failed to create storage layout", zap.Error(err))
	}

	tempStore, err := temp.NewStore(cfg.TempDir)
	if err != nil {
		logger.Fatal("failed to initialize temp store", zap.Error(err))
	}

	metrics, metricsHandler := observability.InitMetrics()

	extractor := thumb.NewFFmpegExtractor(cfg.FFmpegBin, cfg.FFmpegTimeout)
	thumbs := thumb.NewQueue(cfg.CacheDir, cfg.ThumbWorkers, extractor, metrics, logger)
	if err := thumbs.EnsureLayout(); err != nil {
		logger.Fatal("failed to create thumbnail cache layout", zap.Error(err))
	}

	uploads := upload.NewService(cfg, db, tempStore, files, metrics, logger)
	go uploads.RunSweeper(ctx)

	handler := api.NewHandler(cfg, uploads, thumbs, db, files, metricsHandler, logger)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("nasdrive listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
}
