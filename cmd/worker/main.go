package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaykit/taskqueue/internal/config"
	"github.com/relaykit/taskqueue/internal/engine"
	"github.com/relaykit/taskqueue/internal/events"
	"github.com/relaykit/taskqueue/internal/logger"
	"github.com/relaykit/taskqueue/internal/registry"
	"github.com/relaykit/taskqueue/internal/storage"
	"github.com/relaykit/taskqueue/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")
	log := logger.Get()
	log.Info().Str("backend", string(cfg.Backend.Kind)).Msg("starting worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapter, redisClient, err := storage.NewFromConfig(ctx, cfg.Backend)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct storage adapter")
	}

	reg := registry.New()
	registerExampleHandlers(reg)

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

		// The worker runs in its own process from the API server; bridging
		// events through Redis lets that process's websocket hub see events
		// this engine fires even though the two never share an Emitter.
		events.NewRedisBridge(redisClient).Attach(eng.Emitter())
	}

	pool := worker.NewPool(cfg.Worker.ID, eng, reg, redisClient)

	if err := pool.Start(ctx, cfg.Worker.Concurrency); err != nil {
		log.Fatal().Err(err).Msg("failed to start worker pool")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down worker")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	if err := pool.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("worker shutdown error")
	}

	log.Info().Msg("worker stopped")
}

// registerExampleHandlers binds the demo handlers shipped with the worker
// binary. Real deployments register their own handlers the same way before
// calling pool.Start.
func registerExampleHandlers(reg *registry.Registry) {
	reg.Register("echo", echoHandler, registry.Options{})
	reg.Register("sleep", sleepHandler, registry.Options{})
	reg.Register("compute", computeHandler, registry.Options{})
	reg.Register("fail", failHandler, registry.Options{})
}

func echoHandler(payload map[string]interface{}) (map[string]interface{}, error) {
	logger.Info().Interface("payload", payload).Msg("echo handler processing task")
	return map[string]interface{}{"echoed": payload}, nil
}

func sleepHandler(payload map[string]interface{}) (map[string]interface{}, error) {
	duration := 1 * time.Second
	if d, ok := payload["duration"].(float64); ok {
		duration = time.Duration(d) * time.Millisecond
	}

	logger.Info().Dur("duration", duration).Msg("sleep handler processing task")
	time.Sleep(duration)

	return map[string]interface{}{"slept_for": duration.String()}, nil
}

func computeHandler(payload map[string]interface{}) (map[string]interface{}, error) {
	iterations := 1000000
	if i, ok := payload["iterations"].(float64); ok {
		iterations = int(i)
	}

	logger.Info().Int("iterations", iterations).Msg("compute handler processing task")

	sum := 0
	for i := 0; i < iterations; i++ {
		sum += i
	}

	return map[string]interface{}{"result": sum}, nil
}

func failHandler(payload map[string]interface{}) (map[string]interface{}, error) {
	logger.Info().Msg("fail handler processing task")
	return nil, fmt.Errorf("intentional failure for testing")
}
