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

	"github.com/redis/go-redis/v9"

	"todostarter/internal/app"
	"todostarter/internal/authpw"
	"todostarter/internal/config"
	"todostarter/internal/email"
	"todostarter/internal/logging"
	"todostarter/internal/search"
	"todostarter/internal/session"
	"todostarter/internal/store"
	"todostarter/internal/todo"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, logging.JSON, os.Stderr)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		logger.WithError(err).Fatal("migrations failed")
	}

	dataStore := store.NewPostgresStore(db)
	checks := []app.Check{{Name: "database", Ping: dataStore.Ping}}

	var sessions app.SessionStore = dataStore
	var rows todo.Rows = dataStore
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Warn("redis unavailable, using PostgreSQL for sessions")
		} else {
			defer redisStore.Close()
			logger.Info("using Redis for refresh sessions and the list cache")
			sessions = redisStore
			redisClient = redisStore.Client()
			checks = append(checks, app.Check{Name: "redis", Ping: redisStore.Ping})
		}
	}

	var primary search.Backend
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
		primary = meiliClient
	}
	searchService := search.NewService(primary, search.NewPgFTS(db), logger)
	if meiliClient != nil {
		go func() {
			if err := searchService.ReindexAll(ctx, dataStore); err != nil {
				logger.WithError(err).Warn("initial search reindex failed")
			}
		}()
	}

	rows = search.NewIndexingRows(rows, searchService)
	if redisClient != nil {
		rows = store.NewListCache(rows, redisClient, cfg.ListCacheTTL, logger)
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mailer.IsConfigured() {
		logger.Warn("SMTP not configured, verification and reset tokens are returned in responses")
	}

	service := app.New(cfg, app.Deps{
		Auth:     authpw.NewService(dataStore, authpw.Options{RequireVerification: cfg.RequireEmailVerification}),
		Users:    dataStore,
		Sessions: sessions,
		Todos:    rows,
		Search:   searchService,
		Mailer:   mailer,
		Checks:   checks,
		Logger:   logger,
	})

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
		logger.WithField("addr", cfg.Addr).Info("todo API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown error")
	}
	searchService.Wait()
	logger.Info("todo API stopped")
}
