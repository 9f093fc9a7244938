package database

import (
	"context"
	"fmt"
	"log/slog"

	"pixelmint-ledger/internal/config"

	"github.com/redis/go-redis/v9"
)

func ConnectRedis(cfg *config.Config, log *slog.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       0,
	})

	_, err := rdb.Ping(context.Background()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info("connected to redis", slog.String("addr", rdb.Options().Addr))
	return rdb, nil
}
