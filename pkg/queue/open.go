package queue

import (
	"fmt"

	"video_transcode_pipeline/pkg/config"
	"video_transcode_pipeline/pkg/database"
)

// Open the broker selected by queue.driver: "rabbitmq" or "memory"
func Open(q config.QueueConfig, rabbit config.RabbitMQConfig) (Broker, error) {
	q = q.Defaults()
	switch q.Driver {
	case "rabbitmq":
		b, err := NewRabbitBroker(RabbitOptions{
			URL:            database.RabbitURL(rabbit),
			Exchange:       q.Exchange,
			PublishTimeout: q.PublishTimeout,
			RetryCount:     rabbit.RetryCount,
			RetryInterval:  rabbit.RetryInterval,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	case "memory":
		return NewMemoryBroker(), nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", q.Driver)
	}
}

// OptionsFromConfig subscription of the configured consumer group
func OptionsFromConfig(q config.QueueConfig, prefetch int) SubscribeOptions {
	q = q.Defaults()
	return SubscribeOptions{
		Subject:        q.Subject,
		Consumer:       q.Consumer,
		Prefetch:       prefetch,
		RedeliveryWait: q.RedeliveryWait,
		MaxDeliveries:  q.MaxDeliveries,
		AckWait:        q.AckWait,
	}
}

// ConsumerFromConfig durable group definition of the configured consumer group
func ConsumerFromConfig(q config.QueueConfig) ConsumerConfig {
	q = q.Defaults()
	cfg := OptionsFromConfig(q, 0).ConsumerConfig(Retention{
		MaxMessages: q.Retention.MaxMessages,
		MaxBytes:    q.Retention.MaxBytes,
		MaxAge:      q.Retention.MaxAge,
	})
	cfg.Policy.DeadLetterRetention = q.DeadLetterRetention
	return cfg
}
