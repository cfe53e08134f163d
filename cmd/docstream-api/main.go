// Package main provides the docstream API server entrypoint.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/spherical-ai/docstream/internal/config"
	"github.com/spherical-ai/docstream/internal/events"
	"github.com/spherical-ai/docstream/internal/objectstore"
	"github.com/spherical-ai/docstream/internal/observability"
	"github.com/spherical-ai/docstream/internal/queue"
	"github.com/spherical-ai/docstream/internal/storage"
	"github.com/spherical-ai/docstream/internal/tasks"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		cfgPath = os.Args[2]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("database", cfg.Database.Driver).
		Str("object_store", cfg.ObjectStore.Driver).
		Msg("Starting docstream API")

	ctx := context.Background()

	db, err := openDatabase(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	if err := storage.EnsureSchema(ctx, db); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ensure schema")
	}
	repo := storage.NewTaskRepository(db)

	objects, err := openObjectStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open object store")
	}

	publisher, err := queue.NewRedisPublisher(queue.RedisConfig{
		Addr:     cfg.Queue.Redis.Addr,
		Password: cfg.Queue.Redis.Password,
		DB:       cfg.Queue.Redis.DB,
		PoolSize: cfg.Queue.Redis.PoolSize,
		Stream:   cfg.Queue.Stream,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to work queue")
	}
	defer publisher.Close()

	bus := events.NewBus(logger, events.Config{
		SubscriberBuffer: cfg.Events.SubscriberBuffer,
	})

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	bus.StartSweeper(sweepCtx, cfg.Events.Retention, cfg.Events.SweepInterval)

	orchestrator := tasks.New(repo, objects, publisher, bus, logger)

	router := NewRouter(logger, cfg, orchestrator, bus)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
		// WriteTimeout stays unset: SSE responses outlive any fixed limit.
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error().Err(err).Msg("Server error")
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("Forced shutdown failed")
		}
	}

	logger.Info().Msg("Server stopped")
}

func openDatabase(cfg *config.Config) (*sql.DB, error) {
	switch cfg.Database.Driver {
	case "postgres":
		db, err := sql.Open("postgres", cfg.Database.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.Postgres.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.Postgres.ConnMaxLifetime)
		return db, db.Ping()
	case "sqlite":
		db, err := sql.Open("sqlite3", cfg.Database.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.SQLite.MaxOpenConns)
		return db, db.Ping()
	default:
		return nil, fmt.Errorf("unknown database driver: %s", cfg.Database.Driver)
	}
}

func openObjectStore(ctx context.Context, cfg *config.Config) (objectstore.Store, error) {
	switch cfg.ObjectStore.Driver {
	case "minio":
		return objectstore.NewMinioStore(ctx, objectstore.MinioConfig{
			Endpoint:       cfg.ObjectStore.Minio.Endpoint,
			AccessKey:      cfg.ObjectStore.Minio.AccessKey,
			SecretKey:      cfg.ObjectStore.Minio.SecretKey,
			Secure:         cfg.ObjectStore.Minio.Secure,
			PDFBucket:      cfg.ObjectStore.Minio.PDFBucket,
			ParquetsBucket: cfg.ObjectStore.Minio.ParquetsBucket,
		})
	case "fs":
		return objectstore.NewFSStore(cfg.ObjectStore.FS.Root)
	default:
		return nil, fmt.Errorf("unknown object store driver: %s", cfg.ObjectStore.Driver)
	}
}
