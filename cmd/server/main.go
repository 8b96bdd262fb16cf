package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"napomnibot/internal/bot"
	"napomnibot/internal/civiltime"
	"napomnibot/internal/config"
	"napomnibot/internal/database"
	"napomnibot/internal/logger"
	"napomnibot/internal/parser"
	"napomnibot/internal/repository"
	"napomnibot/internal/scheduler"
	"napomnibot/internal/server"
	"napomnibot/internal/telegram"
	"napomnibot/internal/transcribe"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.DatabaseURI == "" {
		log.Fatal("DATABASE_URI is required")
	}
	if cfg.TelegramToken == "" {
		log.Fatal("TELEGRAM_TOKEN is required")
	}
	if cfg.CronSecret == "" {
		log.Fatal("CRON_SECRET is required")
	}

	logCfg := logger.DefaultConfig(cfg.AppEnv)
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		logCfg.Level = level
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, cfg.DatabaseURI)
	if err != nil {
		logger.Get().Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Get().Fatal("failed to run migrations", zap.Error(err))
	}

	tg, err := telegram.New(cfg.TelegramToken)
	if err != nil {
		logger.Get().Fatal("failed to create telegram client", zap.Error(err))
	}

	var transcriber bot.Transcriber
	if cfg.TranscribeKey != "" {
		transcriber = transcribe.New(cfg.TranscribeKey, cfg.TranscribeModel)
		logger.Get().Info("transcription enabled", zap.String("model", cfg.TranscribeModel))
	} else {
		logger.Get().Info("transcription not configured, voice messages disabled")
	}

	clk := clock.New()
	taskRepo := repository.NewTaskRepository(db)
	updateLedger := repository.NewUpdateLedger(db)
	reminderLedger := repository.NewReminderLedger(db)

	sched := scheduler.New(taskRepo, reminderLedger, updateLedger, tg, clk,
		logger.Named("scheduler"), civiltime.TodayRange)

	ingress := bot.NewIngress(taskRepo, updateLedger, parser.New(clk), tg,
		transcriber, sched, cfg.OwnerChatID, clk, logger.Named("ingress"))

	srv := server.New(ingress, sched, taskRepo, cfg.CronSecret, logger.Named("http"))

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Get().Info("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Get().Error("shutdown error", zap.Error(err))
		}
		cancel()
	}()

	if err := srv.ListenAndServe(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Get().Fatal("http server error", zap.Error(err))
	}
}
