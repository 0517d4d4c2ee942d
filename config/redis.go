package config

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

const redisClientName = "tcm-diagnosis"

var (
	redisClient *redis.Client
	redisOnce   sync.Once
)

// ConnectRedis initializes the singleton Redis client when REDIS_ENABLED is
// set. It returns nil without error when Redis is disabled or the app runs in
// the test environment; callers then run without the status cache and the
// request limiter.
func ConnectRedis() (*redis.Client, error) {
	var err error
	redisOnce.Do(func() {
		cfg := LoadConfig()
		if !cfg.Redis.Enabled || cfg.AppEnv == "test" {
			return
		}

		rdb := redis.NewClient(redisOptions(cfg.Redis))

		ctx, cancel := context.WithTimeout(context.Background(), 4*cfg.Redis.Timeout)
		defer cancel()
		if err = rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			err = fmt.Errorf("redis ping failed: %w", err)
			return
		}

		redisClient = rdb
		log.Printf("Connected to Redis at %s (db %d)", cfg.Redis.Addr, cfg.Redis.DB)
	})
	return redisClient, err
}

// redisOptions keeps every network timeout short. Status polls and the rate
// limiter treat a slow Redis like a missing one, so waiting on it only adds
// latency to the request.
func redisOptions(cfg RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Pass,
		DB:           cfg.DB,
		ClientName:   redisClientName,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
		MaxRetries:   1,
	}
}

// GetRedisClient returns the initialized Redis client (may be nil if ConnectRedis failed or not called).
func GetRedisClient() *redis.Client {
	return redisClient
}

// SetRedisClientForTesting allows tests to inject a mock Redis client.
func SetRedisClientForTesting(client *redis.Client) {
	redisClient = client
}
