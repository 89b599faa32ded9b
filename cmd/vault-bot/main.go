package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/tgvault/tgvault/internal/bot"
	"github.com/tgvault/tgvault/internal/cache"
	"github.com/tgvault/tgvault/internal/cleanup"
	"github.com/tgvault/tgvault/internal/config"
	"github.com/tgvault/tgvault/internal/notify"
	"github.com/tgvault/tgvault/internal/objectstore"
	"github.com/tgvault/tgvault/internal/premium"
	"github.com/tgvault/tgvault/internal/prober"
	"github.com/tgvault/tgvault/internal/quota"
	"github.com/tgvault/tgvault/internal/session"
	"github.com/tgvault/tgvault/internal/storage/postgres"
	"github.com/tgvault/tgvault/internal/transfer"
)

const notifyQueueSize = 64

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

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	slog.Info("Connected to Redis")

	objects, err := objectstore.New(&cfg.MinIO)
	if err != nil {
		log.Fatal("Failed to initialize object storage:", err)
	}
	slog.Info("Connected to object storage", slog.String("bucket", cfg.MinIO.BucketName))

	ledger, err := quota.NewLedger(redisClient, cfg.Quota)
	if err != nil {
		log.Fatal("Failed to initialize quota ledger:", err)
	}

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		log.Fatal("Failed to connect to Telegram:", err)
	}

	notifier := notify.NewTelegram(api, cfg.Telegram.OperatorChatID, notifyQueueSize)
	defer notifier.Close()

	users := cache.NewUserCache(storage, redisClient)
	sessions := session.NewStore(ledger, cfg.Vault.SessionTTL)
	workflow := premium.NewWorkflow(users, storage, notifier)
	probe := prober.NewYTDLP(cfg.Vault.YTDLPPath)
	pipeline := transfer.NewPipeline(objects, cfg.Vault.YTDLPPath, cfg.Vault.TempDir)

	router := bot.New(api, users, storage, ledger, sessions, workflow, probe, pipeline, objects, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		slog.Info("Received shutdown signal")
		cancel()
	}()

	// The in-process sweeper keeps sessions and objects tidy; both passes
	// are idempotent, so running cleanup-worker alongside is harmless.
	sweeper := cleanup.NewSweeper(storage, objects, sessions, cfg.Vault.SweepInterval, logger)
	go sweeper.Run(ctx)

	router.Start(ctx)

	slog.Info("Vault bot stopped")
}
