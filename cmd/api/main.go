package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"formsmith/api/internal/app"
	"formsmith/api/internal/autosave"
	"formsmith/api/internal/backup"
	"formsmith/api/internal/config"
	"formsmith/api/internal/email"
	"formsmith/api/internal/gitrepo"
	"formsmith/api/internal/logging"
	"formsmith/api/internal/notify"
	"formsmith/api/internal/search"
	"formsmith/api/internal/store"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogPretty)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.ReposDir).Msg("failed to create repos dir")
	}

	dataStore := store.NewPostgresStore(db)
	gitService := gitrepo.New(cfg.ReposDir)
	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mailer.IsConfigured() {
		logger.Warn().Msg("SMTP not configured, collaborator invites will not be emailed")
	}

	var (
		drafts   autosave.Backup
		notifier notify.Sender
	)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		logger.Info().Msg("using Redis for draft backups and the invite queue")
		redisStore, err := backup.NewRedisStore(cfg.RedisURL, cfg.BackupTTL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		drafts = redisStore

		connOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL for the invite queue")
		}
		queue := notify.NewQueue(connOpt, logger)
		defer queue.Close()
		notifier = queue

		worker := notify.NewWorker(connOpt, mailer, logger)
		if err := worker.Start(); err != nil {
			logger.Fatal().Err(err).Msg("invite worker failed to start")
		}
		defer worker.Shutdown()
	} else {
		logger.Info().Msg("REDIS_URL not set, keeping draft backups in memory and sending invites inline")
		drafts = backup.NewMemoryStore()
		notifier = notify.NewDirect(mailer, logger)
	}

	var primary search.Backend
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
		primary = meiliClient
	}
	searchService := search.NewService(primary, search.NewPgFTS(db), logger)
	go searchService.ReindexAll(ctx)

	service := app.New(cfg, app.Deps{
		Store:    dataStore,
		Backup:   drafts,
		Versions: gitService,
		Search:   searchService,
		Notifier: notifier,
		Logger:   logger,
	})
	defer service.CloseAll()
	go service.RunSessionSweeper(ctx, time.Minute)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("Formsmith API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}
