package database

import (
	"context"
	"fmt"

	"video_transcode_pipeline/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// NewRedisClient init a single node redis connection
func NewRedisClient(ctx context.Context, r RedisConnection) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     r.Addr,
		Password: r.Password,
		DB:       r.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis %s: %w", r.Addr, err)
	}

	logger.Log.Info("Redis connected", zap.String("addr", r.Addr), zap.Int("db", r.DB))
	return rdb, nil
}
