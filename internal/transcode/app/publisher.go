package app

import (
	"context"
	"encoding/json"
	"fmt"

	"video_transcode_pipeline/pkg/queue"

	"github.com/segmentio/kafka-go"
)

// EventPublisher publishes pipeline events
type EventPublisher interface {
	Publish(ctx context.Context, subject, key string, event interface{}) error
}

// QueueEventPublisher events on the durable queue
type QueueEventPublisher struct {
	pub queue.Publisher
}

// NewQueueEventPublisher create QueueEventPublisher
func NewQueueEventPublisher(pub queue.Publisher) *QueueEventPublisher {
	return &QueueEventPublisher{pub: pub}
}

// Publish marshals event and publishes it on subject; key is unused
func (p *QueueEventPublisher) Publish(ctx context.Context, subject, key string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", subject, err)
	}
	if _, err := p.pub.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s event: %w", subject, err)
	}
	return nil
}

// kafkaWriter is implemented by *kafka.Writer
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaEventPublisher events on kafka, one topic per subject, keyed by video id
type KafkaEventPublisher struct {
	writer kafkaWriter
}

// NewKafkaEventPublisher create KafkaEventPublisher
func NewKafkaEventPublisher(writer kafkaWriter) *KafkaEventPublisher {
	return &KafkaEventPublisher{writer: writer}
}

// Publish writes event to the topic named subject
func (p *KafkaEventPublisher) Publish(ctx context.Context, subject, key string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", subject, err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: subject,
		Key:   []byte(key),
		Value: data,
	})
	if err != nil {
		return fmt.Errorf("write %s event to kafka: %w", subject, err)
	}
	return nil
}
