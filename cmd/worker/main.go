package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/jmalmrose/promptlab/internal/config"
	"github.com/jmalmrose/promptlab/internal/database"
	"github.com/jmalmrose/promptlab/internal/provider"
	"github.com/jmalmrose/promptlab/internal/queue"
	"github.com/jmalmrose/promptlab/internal/queue/workers"
	"github.com/jmalmrose/promptlab/internal/registry"
	"github.com/jmalmrose/promptlab/internal/testrun"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	registrySvc := registry.NewService(db, nil)
	runSvc := testrun.NewService(
		testrun.NewPGStore(db),
		registrySvc,
		nil, // the worker only executes; it never enqueues
		provider.NewRegistry(),
		testrun.NewRunNotifier(rdb),
		testrun.Options{
			Credentials: provider.Credentials{
				OpenAI:    cfg.Providers.OpenAIKey,
				Anthropic: cfg.Providers.AnthropicKey,
			},
			LocalEndpoint: cfg.Providers.LocalURL,
			CallTimeout:   cfg.TestRun.CallTimeout,
			Concurrency:   cfg.TestRun.Concurrency,
		},
	)

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	mux.Handle(queue.TypeTestRunExecute, asynq.HandlerFunc(workers.NewTestRunWorker(runSvc).ProcessTask))

	slog.Info("starting worker", "concurrency", 10)
	if err := srv.Run(mux); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}
