package app

import (
	"context"
	"fmt"

	"video_transcode_pipeline/internal/transcode/domain"
	"video_transcode_pipeline/pkg/queue"

	"github.com/google/uuid"
)

// SubmitResult accepted job
type SubmitResult struct {
	VideoID  string
	Sequence uint64
}

// Producer enqueues transcoding jobs. It never transcodes.
type Producer struct {
	pub     queue.Publisher
	subject string
}

// NewProducer publishes on video.process
func NewProducer(pub queue.Publisher) *Producer {
	return &Producer{pub: pub, subject: domain.SubjectProcess}
}

// Submit publishes job once. A missing VideoID is assigned here. Errors from the
// queue wrap queue.ErrQueueUnavailable; retrying is up to the caller, duplicates
// are absorbed by the worker's idempotent output paths.
func (p *Producer) Submit(ctx context.Context, job domain.Job) (SubmitResult, error) {
	if job.VideoID == "" {
		job.VideoID = uuid.NewString()
	}
	data, err := domain.EncodeJob(job)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("encode job %s: %w", job.VideoID, err)
	}

	seq, err := p.pub.Publish(ctx, p.subject, data)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("submit job %s: %w", job.VideoID, err)
	}
	return SubmitResult{VideoID: job.VideoID, Sequence: seq}, nil
}
