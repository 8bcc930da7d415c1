//go:build integration

package queue

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"video_transcode_pipeline/pkg/logger"
	testtool "video_transcode_pipeline/pkg/test_tool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var rabbitURL string

func TestMain(m *testing.M) {
	logger.SetNewNop()
	ctx := context.Background()

	container, host, port, err := testtool.SetupContainer(ctx, testcontainers.ContainerRequest{
		Image:        "rabbitmq:4.0-management",
		ExposedPorts: []string{"5672/tcp"},
		WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(2 * time.Minute),
	})
	if err != nil {
		log.Fatalf("Failed to start RabbitMQ container: %v", err)
	}
	rabbitURL = fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port)

	code := m.Run()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func newTestRabbit(t *testing.T) *RabbitBroker {
	t.Helper()
	b, err := NewRabbitBroker(RabbitOptions{URL: rabbitURL, Exchange: "video-" + t.Name(), RetryCount: 5, RetryInterval: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func rabbitOptions(consumer string) SubscribeOptions {
	return SubscribeOptions{
		Subject:        "video.process",
		Consumer:       consumer,
		Prefetch:       1,
		RedeliveryWait: 200 * time.Millisecond,
		MaxDeliveries:  3,
		AckWait:        time.Minute,
	}
}

func TestRabbitBroker_PublishAck(t *testing.T) {
	b := newTestRabbit(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	opts := rabbitOptions("ack-workers")
	require.NoError(t, b.DeclareConsumer(ctx, opts.ConsumerConfig(Retention{})))

	deliveries, err := b.Subscribe(ctx, opts)
	require.NoError(t, err)

	seq, err := b.Publish(ctx, "video.process", []byte(`{"video_id":"v1"}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	d := receive(t, deliveries)
	assert.Equal(t, "video.process", d.Subject)
	assert.Equal(t, 1, d.Count)
	require.NoError(t, d.Ack())
	assertNothing(t, deliveries, 300*time.Millisecond)
}

func TestRabbitBroker_NakThenDeadLetter(t *testing.T) {
	b := newTestRabbit(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	opts := rabbitOptions("nak-workers")
	require.NoError(t, b.DeclareConsumer(ctx, opts.ConsumerConfig(Retention{})))

	deliveries, err := b.Subscribe(ctx, opts)
	require.NoError(t, err)
	_, err = b.Publish(ctx, "video.process", []byte(`{"video_id":"v2"}`))
	require.NoError(t, err)

	for attempt := 1; attempt <= 3; attempt++ {
		d := receive(t, deliveries)
		assert.Equal(t, attempt, d.Count)
		assert.Equal(t, attempt == 3, d.Final())
		require.NoError(t, d.Nak("engine failure [480p]: exit status 1"))
	}
	assertNothing(t, deliveries, 500*time.Millisecond)

	dead, err := b.SubscribeDeadLetters(ctx, "nak-workers", 1)
	require.NoError(t, err)
	d := receive(t, dead)
	assert.Equal(t, `{"video_id":"v2"}`, string(d.Data))
	assert.Equal(t, "engine failure [480p]: exit status 1", d.Header(HeaderDeadLetterReason))
	require.NoError(t, d.Ack())
	assertNothing(t, dead, 300*time.Millisecond)
}

func TestRabbitBroker_UnackedIsRedeliveredAfterCancel(t *testing.T) {
	b := newTestRabbit(t)
	opts := rabbitOptions("cancel-workers")
	require.NoError(t, b.DeclareConsumer(context.Background(), opts.ConsumerConfig(Retention{})))

	ctx, cancel := context.WithCancel(context.Background())
	deliveries, err := b.Subscribe(ctx, opts)
	require.NoError(t, err)
	_, err = b.Publish(context.Background(), "video.process", []byte(`{"video_id":"v3"}`))
	require.NoError(t, err)
	first := receive(t, deliveries)
	cancel()

	again, err := b.Subscribe(context.Background(), opts)
	require.NoError(t, err)
	d := receive(t, again)
	assert.Equal(t, first.MessageID, d.MessageID)
	assert.Equal(t, 1, d.Count)
	require.NoError(t, d.Ack())
}

func TestRabbitBroker_HeldMessageKeepsAttemptOnCancel(t *testing.T) {
	b := newTestRabbit(t)
	opts := rabbitOptions("held-workers")
	opts.Prefetch = 2
	require.NoError(t, b.DeclareConsumer(context.Background(), opts.ConsumerConfig(Retention{})))

	ctx, cancel := context.WithCancel(context.Background())
	deliveries, err := b.Subscribe(ctx, opts)
	require.NoError(t, err)
	for _, id := range []string{"v4", "v5"} {
		_, err = b.Publish(context.Background(), "video.process", []byte(`{"video_id":"`+id+`"}`))
		require.NoError(t, err)
	}

	first := receive(t, deliveries)
	assert.Equal(t, `{"video_id":"v4"}`, string(first.Data))
	require.NoError(t, first.Ack())

	// second message is prefetched and waiting for a free worker
	time.Sleep(300 * time.Millisecond)
	cancel()

	again, err := b.Subscribe(context.Background(), opts)
	require.NoError(t, err)
	d := receive(t, again)
	assert.Equal(t, `{"video_id":"v5"}`, string(d.Data))
	assert.Equal(t, 1, d.Count)
	assert.False(t, d.Final())
	require.NoError(t, d.Ack())
	assertNothing(t, again, 300*time.Millisecond)
}
