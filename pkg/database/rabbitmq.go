package database

import (
	"fmt"
	"time"

	"video_transcode_pipeline/pkg/config"
	"video_transcode_pipeline/pkg/logger"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// RabbitURL builds the amqp url of a rabbitmq config
func RabbitURL(cfg config.RabbitMQConfig) string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/%s", cfg.User, cfg.Password, cfg.IP, cfg.Port, cfg.VHost)
}

// ConnectRabbitMQWithRetry dial RabbitMQ, retrying RetryCount times with a fixed interval
func ConnectRabbitMQWithRetry(d Connection) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error

	attempts := d.RetryCount
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err = amqp.Dial(d.ConnectStr)
		if err == nil {
			logger.Log.Info("RabbitMQ connected", zap.Int("attempt", attempt))
			return conn, nil
		}

		logger.Log.Warn("RabbitMQ connect failed, retrying...",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)
		if attempt < attempts {
			time.Sleep(d.RetryInterval)
		}
	}

	return nil, fmt.Errorf("connect RabbitMQ after %d attempts: %w", attempts, err)
}

// GetRabbitMQChannelWithRetry open a channel on an existing connection
func GetRabbitMQChannelWithRetry(conn *amqp.Connection, maxRetries int, delay time.Duration) (*amqp.Channel, error) {
	var ch *amqp.Channel
	var err error

	if maxRetries <= 0 {
		maxRetries = 1
	}
	for attempt := 1; attempt <= maxRetries; attempt++ {
		ch, err = conn.Channel()
		if err == nil {
			return ch, nil
		}

		logger.Log.Warn("RabbitMQ channel open failed, retrying...",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxRetries),
			zap.Error(err),
		)
		if attempt < maxRetries {
			time.Sleep(delay)
		}
	}

	return nil, fmt.Errorf("open RabbitMQ channel after %d attempts: %w", maxRetries, err)
}
