package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaykit/taskqueue/internal/api"
	"github.com/relaykit/taskqueue/internal/config"
	"github.com/relaykit/taskqueue/internal/engine"
	"github.com/relaykit/taskqueue/internal/logger"
	"github.com/relaykit/taskqueue/internal/registry"
	"github.com/relaykit/taskqueue/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")
	log := logger.Get()
	log.Info().Str("backend", string(cfg.Backend.Kind)).Msg("starting API server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapter, redisClient, err := storage.NewFromConfig(ctx, cfg.Backend)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct storage adapter")
	}

	// The API server enqueues and inspects tasks but never registers
	// handlers itself: handler registration is the worker process's job. With
	// the registry empty and StrictHandlerValidation unset, Enqueue here
	// accepts any handler name and payload.
	reg := registry.New()

	eng, err := engine.New(adapter, reg, engine.Options{
		Delay:              cfg.Engine.Delay,
		Singleton:          cfg.Engine.Singleton,
		MaxRetries:         cfg.Engine.MaxRetries,
		MaxProcessingTime:  cfg.Engine.MaxProcessingTime,
		CrashOnWorkerError: cfg.Engine.CrashOnWorkerError,
		SkipOnPayloadError: cfg.Engine.SkipOnPayloadError,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct engine")
	}

	if cfg.Backend.Kind == config.BackendRedis && redisClient != nil {
		eng.SetLocker(engine.NewRedisLocker(redisClient, cfg.Backend.Redis.StorageName))
	}

	server := api.NewServer(cfg, eng, redisClient)

	if cfg.Backend.Kind == config.BackendRedis && redisClient != nil {
		if err := server.BridgeRedisEvents(ctx, redisClient); err != nil {
			log.Warn().Err(err).Msg("failed to bridge redis events into websocket hub")
		}
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	server.Start(ctx)

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	server.Stop()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
}
