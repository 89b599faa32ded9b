package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/tgvault/tgvault/internal/cleanup"
	"github.com/tgvault/tgvault/internal/config"
	"github.com/tgvault/tgvault/internal/objectstore"
	"github.com/tgvault/tgvault/internal/storage/postgres"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment")
	}

	cfg := config.MustLoad()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	storage, err := postgres.NewPostgres(cfg)
	if err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	slog.Info("Connected to Postgres database")

	objects, err := objectstore.New(&cfg.MinIO)
	if err != nil {
		log.Fatal("Failed to initialize object storage:", err)
	}
	slog.Info("Connected to object storage", slog.String("bucket", cfg.MinIO.BucketName))

	sweeper := cleanup.NewSweeper(storage, objects, nil, cfg.Vault.SweepInterval, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		slog.Info("Received shutdown signal")
		cancel()
	}()

	sweeper.Run(ctx)

	slog.Info("Cleanup worker stopped")
}
