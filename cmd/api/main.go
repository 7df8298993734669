package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"upscaler/internal/adapter/repo"
	httpapi "upscaler/internal/http"
	"upscaler/internal/http/handlers"
	"upscaler/internal/infra"
	"upscaler/internal/queue"
	"upscaler/internal/realtime"
	"upscaler/internal/storage"
	"upscaler/internal/upscaler"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: db connection failed")
	}
	defer pool.Close()

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: redis connection failed")
	}
	defer func() { _ = rdb.Close() }()

	trigger, err := queue.NewTriggerPublisher(cfg.RabbitURL, cfg.TriggerQueue)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: trigger queue connection failed")
	}
	defer func() { _ = trigger.Close() }()

	store, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure storage")
	}

	jobs := repo.NewJobRepository(pool)
	credits := repo.NewCreditRepository(pool)
	sessions := repo.NewSessionRepository(pool)

	svc := upscaler.NewService(upscaler.Config{
		MaxUploadBytes:       cfg.MaxUploadBytes,
		MaxInputDimension:    cfg.MaxInputDimension,
		WorkingDimension:     cfg.WorkingDimension,
		RunningRefundPercent: cfg.RunningRefundPercent,
	}, upscaler.Deps{
		Store:     store,
		Jobs:      jobs,
		Credits:   credits,
		Trigger:   trigger,
		Updates:   realtime.NewSubscriber(rdb),
		Publisher: realtime.NewPublisher(rdb),
		Sessions:  sessions,
		Logger:    logger,
	})

	app := &handlers.App{
		Config:   cfg,
		Logger:   logger,
		Upscaler: svc,
		Sessions: sessions,
	}

	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app, store.BasePath()))

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("api: listening")
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("api: server stopped")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: shutdown failed")
	}
	logger.Info().Msg("api: stopped")
}
