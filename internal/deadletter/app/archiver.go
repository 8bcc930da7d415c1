package app

import (
	"context"
	"fmt"
	"time"

	"video_transcode_pipeline/internal/deadletter/domain"
	"video_transcode_pipeline/internal/deadletter/repository"
	"video_transcode_pipeline/pkg/logger"
	"video_transcode_pipeline/pkg/queue"

	"go.uber.org/zap"
)

// DeadLetterSubscriber implemented by queue.MemoryBroker and queue.RabbitBroker
type DeadLetterSubscriber interface {
	SubscribeDeadLetters(ctx context.Context, consumer string, prefetch int) (<-chan *queue.Delivery, error)
}

// Archiver drains the dead-letter queue of one consumer group into the archive
type Archiver struct {
	sub        DeadLetterSubscriber
	repo       repository.RecordRepo
	consumer   string
	prefetch   int
	retryAfter time.Duration
	now        func() time.Time
}

// NewArchiver retryAfter is the pause before a record that failed to store is handed back
func NewArchiver(sub DeadLetterSubscriber, repo repository.RecordRepo, consumer string, prefetch int, retryAfter time.Duration) *Archiver {
	if prefetch <= 0 {
		prefetch = 1
	}
	if retryAfter <= 0 {
		retryAfter = 5 * time.Second
	}
	return &Archiver{
		sub:        sub,
		repo:       repo,
		consumer:   consumer,
		prefetch:   prefetch,
		retryAfter: retryAfter,
		now:        time.Now,
	}
}

// Run archives dead letters until ctx is done
func (a *Archiver) Run(ctx context.Context) error {
	deliveries, err := a.sub.SubscribeDeadLetters(ctx, a.consumer, a.prefetch)
	if err != nil {
		return fmt.Errorf("subscribe dead letters of %s: %w", a.consumer, err)
	}
	logger.Log.Info("dead letter archiver started", zap.String("consumer", a.consumer))

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("dead letters of %s: %w", a.consumer, queue.ErrClosed)
			}
			a.Archive(ctx, d)
		}
	}
}

// Archive stores one dead letter and acks it; a failed store is handed back
// after retryAfter
func (a *Archiver) Archive(ctx context.Context, d *queue.Delivery) bool {
	rec := domain.NewRecord(d, a.consumer, a.now())
	log := logger.Log.With(
		zap.String("message_id", rec.MessageID),
		zap.String("video_id", rec.VideoID),
		zap.String("reason", rec.Reason),
		zap.Int("deliveries", rec.Deliveries),
	)

	if err := a.repo.Upsert(ctx, rec); err != nil {
		log.Error("archive dead letter failed", zap.Error(err))
		select {
		case <-ctx.Done():
		case <-time.After(a.retryAfter):
		}
		if err := d.Nak("archive failed: " + err.Error()); err != nil {
			log.Error("hand back dead letter failed", zap.Error(err))
		}
		return false
	}
	if err := d.Ack(); err != nil {
		// stored already; the redelivered copy overwrites the same record
		log.Warn("ack dead letter failed", zap.Error(err))
		return false
	}
	log.Info("dead letter archived")
	return true
}
