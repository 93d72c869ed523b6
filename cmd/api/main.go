package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Tarun-Nandi/Collaborative-whiteboard/internal/app"
	"github.com/Tarun-Nandi/Collaborative-whiteboard/internal/config"
	"github.com/Tarun-Nandi/Collaborative-whiteboard/internal/logging"
	"github.com/Tarun-Nandi/Collaborative-whiteboard/internal/realtime"
	"github.com/Tarun-Nandi/Collaborative-whiteboard/internal/session"
	"github.com/Tarun-Nandi/Collaborative-whiteboard/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("info", "json", os.Stderr)
		bootLogger.Fatal().Err(err).Msg("config load failed")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}
	if len(applied) > 0 {
		logger.Info().Strs("versions", applied).Msg("migrations applied")
	}

	dataStore := store.NewPostgresStore(db)

	var revocations app.RevocationStore = dataStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		revocations = redisStore
		logger.Info().Msg("using redis for revoked access tokens")
	} else {
		logger.Info().Msg("using postgres for revoked access tokens")
	}

	hub := realtime.NewHub(realtime.Options{
		Secret:         []byte(cfg.JWTSecret),
		PresenceTTL:    cfg.PresenceTTL,
		PresenceSweep:  cfg.PresenceSweep,
		PersistTimeout: cfg.PersistTimeout,
	}, realtime.Stores{
		Users:       dataStore,
		Boards:      dataStore,
		Events:      dataStore,
		Revocations: revocations,
	}, logging.Component(logger, "realtime"))
	hub.Start(ctx)
	defer hub.Stop()

	service := app.NewService(cfg, dataStore, revocations, hub, logging.Component(logger, "service"))
	if _, err := service.Bootstrap(ctx); err != nil {
		logger.Warn().Err(err).Msg("demo seed failed (will retry on next restart)")
	}

	httpServer := app.NewHTTPServer(service, cfg, logging.Component(logger, "http"))
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// Hijacked websocket connections observe this context and close
		// when the process is asked to stop.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("whiteboard realtime API listening")
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
