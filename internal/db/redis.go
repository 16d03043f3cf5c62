package db

import (
	"context"
	"time"

	"meethalf/internal/config"

	"github.com/redis/go-redis/v9"
)

var pingRedisFn = func(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}

// ConnectRedis returns a nil client when REDIS_ADDR is empty. Otherwise the
// server is pinged once before the client is handed out.
func ConnectRedis(cfg config.Config) (*redis.Client, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := pingRedisFn(ctx, client); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
