package domain

import (
	"strconv"
	"time"

	transcodedomain "video_transcode_pipeline/internal/transcode/domain"
	"video_transcode_pipeline/pkg/queue"
)

// Record archived dead letter
type Record struct {
	MessageID      string            `bson:"_id" json:"message_id"`
	Consumer       string            `bson:"consumer" json:"consumer"`
	Subject        string            `bson:"subject" json:"subject"`
	VideoID        string            `bson:"video_id,omitempty" json:"video_id,omitempty"`
	Reason         string            `bson:"reason" json:"reason"`
	Deliveries     int               `bson:"deliveries" json:"deliveries"`
	Payload        string            `bson:"payload" json:"payload"`
	Headers        map[string]string `bson:"headers" json:"headers"`
	DeadLetteredAt time.Time         `bson:"dead_lettered_at" json:"dead_lettered_at"`
	ArchivedAt     time.Time         `bson:"archived_at" json:"archived_at"`
}

// NewRecord converts a dead-letter delivery. VideoID stays empty for payloads that do not decode.
func NewRecord(d *queue.Delivery, consumer string, now time.Time) Record {
	rec := Record{
		MessageID:  d.MessageID,
		Consumer:   consumer,
		Subject:    d.Subject,
		Reason:     d.Header(queue.HeaderDeadLetterReason),
		Payload:    string(d.Data),
		Headers:    d.Headers,
		ArchivedAt: now.UTC(),
	}
	if c := d.Header(queue.HeaderConsumer); c != "" {
		rec.Consumer = c
	}
	if n, err := strconv.Atoi(d.Header(queue.HeaderDeliveries)); err == nil {
		rec.Deliveries = n
	}
	rec.DeadLetteredAt = rec.ArchivedAt
	if at, err := time.Parse(time.RFC3339Nano, d.Header(queue.HeaderDeadLetteredAt)); err == nil {
		rec.DeadLetteredAt = at.UTC()
	}
	if job, err := transcodedomain.DecodeJob(d.Data); err == nil {
		rec.VideoID = job.VideoID
	}
	if rec.MessageID == "" {
		// messages published without an id are keyed by consumer and sequence
		rec.MessageID = rec.Consumer + ":" + strconv.FormatUint(d.Sequence, 10)
	}
	return rec
}
