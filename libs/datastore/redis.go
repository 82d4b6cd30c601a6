package datastore

import (
	"context"
	"fmt"
	"os"

	redis "github.com/redis/go-redis/v9"
)

// NewRedisClient creates a go-redis client from a redis URL, falling back to
// the REDIS_URL environment variable
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	if len(redisURL) == 0 {
		redisURL = os.Getenv("REDIS_URL")
	}
	if len(redisURL) == 0 {
		redisURL = "redis://localhost:6379"
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}
