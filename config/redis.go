package config

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisClient is set by InitRedis. Redis is optional for the orchestrator;
// callers check RedisConfigured before initializing.
var RedisClient *redis.Client

// RedisConfigured reports whether a redis endpoint is set in the
// environment: REDIS_ADDR as host:port, or REDIS_URL as a redis:// URL.
func RedisConfigured() bool {
	return os.Getenv("REDIS_ADDR") != "" || os.Getenv("REDIS_URL") != ""
}

// InitRedis dials the configured endpoint and verifies it with a ping.
func InitRedis(ctx context.Context) error {
	opt, err := redisOptions()
	if err != nil {
		return err
	}
	RedisClient = redis.NewClient(opt)
	return RedisClient.Ping(ctx).Err()
}

func redisOptions() (*redis.Options, error) {
	if u := os.Getenv("REDIS_URL"); u != "" {
		if !strings.HasPrefix(u, "redis://") && !strings.HasPrefix(u, "rediss://") {
			return nil, errors.New("REDIS_URL must be a redis:// or rediss:// URL")
		}
		return redis.ParseURL(u)
	}
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return nil, errors.New("neither REDIS_ADDR nor REDIS_URL is set")
	}
	return &redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
	}, nil
}
