package database

import (
	"context"
	"fmt"
	"time"

	"github.com/haslamdb/aegis-sub000/pkg/common/config"
	"github.com/haslamdb/aegis-sub000/pkg/common/logger"
	"github.com/redis/go-redis/v9"
)

func OpenRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Log.WithError(err).Error("Failed to connect to Redis")
		_ = client.Close()
		return nil, err
	}
	logger.Log.Info("Connected to Redis")
	return client, nil
}
