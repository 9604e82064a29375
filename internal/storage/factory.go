package storage

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/relaykit/taskqueue/internal/config"
)

// NewFromConfig builds the adapter named by cfg.Kind (§6 "backend: one of
// {memory}, {file, filePath}, {redis, ...}, {sql, ...}"). Custom is not
// constructible here — callers wanting a Custom adapter build it themselves
// and skip this factory entirely. redisClient is non-nil only for the Redis
// backend, so callers (cmd/worker) can hand the same connection to the
// worker heartbeat announcer without opening a second one.
func NewFromConfig(ctx context.Context, cfg config.BackendConfig) (adapter Adapter, redisClient *redis.Client, err error) {
	switch cfg.Kind {
	case config.BackendMemory:
		return newInstrumented(NewMemory()), nil, nil

	case config.BackendFile:
		f, err := NewFile(cfg.File.FilePath)
		if err != nil {
			return nil, nil, err
		}
		return newInstrumented(f), nil, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("storage: connecting to redis: %w", err)
		}
		return newInstrumented(NewRedis(client, cfg.Redis.StorageName)), client, nil

	case config.BackendSQL:
		s, err := NewSQL(ctx, cfg.SQL.DSN, SQLOptions{
			TableName:  cfg.SQL.TableName,
			UseMigrate: cfg.SQL.UseMigrate,
		})
		if err != nil {
			return nil, nil, err
		}
		return newInstrumented(s), nil, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrInvalidBackend, cfg.Kind)
	}
}
