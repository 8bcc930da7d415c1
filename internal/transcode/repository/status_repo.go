package repository

import (
	"context"
	"fmt"
	"time"

	"video_transcode_pipeline/internal/transcode/domain"

	"github.com/go-redis/redis/v8"
)

// StatusRepo stores the latest job status
type StatusRepo interface {
	Save(ctx context.Context, s domain.JobStatus) error
}

type redisStatusRepo struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisStatusRepo status records in redis hashes job:<video_id>, expiring after ttl (0 keeps them)
func NewRedisStatusRepo(client redis.Cmdable, ttl time.Duration) StatusRepo {
	return &redisStatusRepo{client: client, ttl: ttl}
}

func statusKey(videoID string) string {
	return "job:" + videoID
}

func (r *redisStatusRepo) Save(ctx context.Context, s domain.JobStatus) error {
	key := statusKey(s.VideoID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"status", s.Status,
			"stage", string(s.Stage),
			"attempts", s.Attempt,
			"error", s.Error,
			"updated_at", s.UpdatedAt.UTC().Format(time.RFC3339Nano),
		)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save status of %s: %w", s.VideoID, err)
	}
	return nil
}
