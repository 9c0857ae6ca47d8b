package main

import (
	"context"
	"fmt"

	"github.com/buddhatalk/swcache/pkg/cache"
	"github.com/buddhatalk/swcache/pkg/registration"
	"github.com/redis/go-redis/v9"
)

// openStorage opens the configured cache backend and the registration state
// store that goes with it. Only Redis shares the registration between
// proxies; the other backends keep it in memory.
func openStorage(ctx context.Context, cfg proxyConfig) (cache.Storage, registration.StateStore, error) {
	switch cfg.Storage {
	case storageRedis:
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			redisClient.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		statePrefix := ""
		if cfg.RedisPrefix != "" {
			statePrefix = cfg.RedisPrefix + ":registration"
		}
		return cache.NewRedisStorage(redisClient, cfg.RedisPrefix),
			registration.NewRedisStateStore(redisClient, statePrefix), nil
	case storageSQLite:
		storage, err := cache.OpenSQLiteStorage(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return storage, registration.NewMemoryStateStore(), nil
	default:
		return cache.NewMemoryStorage(), registration.NewMemoryStateStore(), nil
	}
}
