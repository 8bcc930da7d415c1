package queue

import (
	"testing"
	"time"

	"video_transcode_pipeline/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	b, err := Open(config.QueueConfig{Driver: "memory"}, config.RabbitMQConfig{})
	require.NoError(t, err)
	defer b.Close()
	assert.IsType(t, &MemoryBroker{}, b)

	_, err = Open(config.QueueConfig{Driver: "nats"}, config.RabbitMQConfig{})
	assert.ErrorContains(t, err, "unknown queue driver")
}

func TestConsumerFromConfig(t *testing.T) {
	cfg := ConsumerFromConfig(config.QueueConfig{
		MaxDeliveries:       5,
		RedeliveryWait:      45 * time.Second,
		DeadLetterRetention: time.Hour,
		Retention:           config.RetentionConfig{MaxMessages: 1000},
	})

	assert.Equal(t, "transcode-workers", cfg.Name)
	assert.Equal(t, "video.process", cfg.Subject)
	assert.Equal(t, 5, cfg.Policy.MaxDeliveries)
	assert.Equal(t, 45*time.Second, cfg.Policy.RedeliveryWait)
	assert.Equal(t, DefaultAckWait, cfg.Policy.AckWait)
	assert.Equal(t, time.Hour, cfg.Policy.DeadLetterRetention)
	assert.Equal(t, int64(1000), cfg.Retention.MaxMessages)

	opts := OptionsFromConfig(config.QueueConfig{}, 4)
	assert.Equal(t, 4, opts.Prefetch)
	assert.Equal(t, 3, opts.MaxDeliveries)
}
