//go:build integration

package repository

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"video_transcode_pipeline/internal/transcode/domain"
	"video_transcode_pipeline/pkg/database"
	"video_transcode_pipeline/pkg/logger"
	testtool "video_transcode_pipeline/pkg/test_tool"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var redisClient *redis.Client

func TestMain(m *testing.M) {
	logger.SetNewNop()
	ctx := context.Background()

	container, host, port, err := testtool.SetupContainer(ctx, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	})
	if err != nil {
		log.Fatalf("Failed to start Redis container: %v", err)
	}

	redisClient, err = database.NewRedisClient(ctx, database.RedisConnection{Addr: fmt.Sprintf("%s:%s", host, port)})
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}

	code := m.Run()
	_ = redisClient.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func TestRedisStatusRepo_SaveOverwrites(t *testing.T) {
	ctx := context.Background()
	repo := NewRedisStatusRepo(redisClient, time.Hour)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, repo.Save(ctx, domain.JobStatus{VideoID: "v1", Status: domain.StatusRetrying, Stage: domain.StageTranscoding, Attempt: 1, Error: "engine failure", UpdatedAt: now}))
	require.NoError(t, repo.Save(ctx, domain.JobStatus{VideoID: "v1", Status: domain.StatusCompleted, Stage: domain.StageCompleted, Attempt: 2, UpdatedAt: now.Add(time.Minute)}))

	fields, err := redisClient.HGetAll(ctx, "job:v1").Result()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"status":     domain.StatusCompleted,
		"stage":      string(domain.StageCompleted),
		"attempts":   "2",
		"error":      "",
		"updated_at": "2026-01-02T03:05:05Z",
	}, fields)

	ttl, err := redisClient.TTL(ctx, "job:v1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)
}

func TestRedisStatusRepo_NoTTL(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, NewRedisStatusRepo(redisClient, 0).Save(ctx, domain.JobStatus{VideoID: "v2", Status: domain.StatusProcessing, Stage: domain.StageValidating, Attempt: 1, UpdatedAt: time.Now()}))

	ttl, err := redisClient.TTL(ctx, "job:v2").Result()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl)
}
