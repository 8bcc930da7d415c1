package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const workerYAML = `
port: "9090"
rabbitmq:
  ip: ${TEST_RABBIT_HOST}
  port: "5672"
  user: guest
  password: guest
queue:
  consumer: transcode-workers
  max_deliveries: 5
  redelivery_wait: 45s
  retention:
    max_messages: 1000
transcode:
  max_concurrent_transcodes: 4
`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "transcode_worker.yaml"), []byte(workerYAML), 0o644))
	t.Setenv("TEST_RABBIT_HOST", "rabbit.internal")

	t.Run("expands placeholders and decodes durations", func(t *testing.T) {
		cfg, err := Load[Worker]("transcode_worker", dir)
		require.NoError(t, err)

		assert.Equal(t, "9090", cfg.Port)
		assert.Equal(t, "rabbit.internal", cfg.RabbitMQ.IP)
		assert.Equal(t, 5, cfg.Queue.MaxDeliveries)
		assert.Equal(t, 45*time.Second, cfg.Queue.RedeliveryWait)
		assert.Equal(t, int64(1000), cfg.Queue.Retention.MaxMessages)
		assert.Equal(t, 4, cfg.Transcode.MaxConcurrentTranscodes)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load[Worker]("does_not_exist", dir)
		assert.Error(t, err)
	})
}

func TestQueueDefaults(t *testing.T) {
	q := QueueConfig{MaxDeliveries: 7}.Defaults()

	assert.Equal(t, "rabbitmq", q.Driver)
	assert.Equal(t, "video", q.Exchange)
	assert.Equal(t, "video.process", q.Subject)
	assert.Equal(t, 7, q.MaxDeliveries)
	assert.Equal(t, 30*time.Second, q.RedeliveryWait)
	assert.Equal(t, 7*24*time.Hour, q.DeadLetterRetention)
}

func TestTranscodeDefaults(t *testing.T) {
	tc := TranscodeConfig{}.Defaults()

	assert.Equal(t, "ffmpeg", tc.FFmpegPath)
	assert.Equal(t, 2, tc.MaxConcurrentTranscodes)
	assert.Equal(t, 1, tc.RenditionParallelism)
	assert.Equal(t, 6, tc.SegmentSeconds)
}
