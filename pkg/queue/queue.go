// Package queue is the durable, at-least-once message channel shared by the
// producer, the transcode workers and the dead-letter archiver.
//
// A stream is addressed by subjects ("video.process"); consumers join a named,
// durable consumer group and every message is handed to one member of the group
// at a time. Deliveries must be explicitly acknowledged. A negative acknowledgment
// schedules a redelivery after a fixed wait until the group's delivery limit is
// reached, after which the message moves to the group's dead-letter stream.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrQueueUnavailable the broker cannot be reached or did not confirm in time
	ErrQueueUnavailable = errors.New("queue unavailable")
	// ErrAlreadyResolved the delivery was already acked or nacked the other way
	ErrAlreadyResolved = errors.New("delivery already resolved")
	// ErrClosed the broker was closed
	ErrClosed = errors.New("queue closed")
	// ErrDeliveryExpired the ack deadline lapsed and the message was handed out again
	ErrDeliveryExpired = errors.New("delivery expired")
)

// Header keys carried on every message
const (
	HeaderSubject          = "x-subject"
	HeaderAttempt          = "x-attempt"
	HeaderDeadLetterReason = "x-dead-letter-reason"
	HeaderDeliveries       = "x-deliveries"
	HeaderConsumer         = "x-consumer"
	HeaderDeadLetteredAt   = "x-dead-lettered-at"
)

// Publisher publishes payloads on a subject
type Publisher interface {
	// Publish returns the broker sequence number of the confirmed message
	Publish(ctx context.Context, subject string, payload []byte) (uint64, error)
}

// Subscriber joins a durable consumer group
type Subscriber interface {
	// Subscribe returns a channel of deliveries that stays open until ctx is done
	Subscribe(ctx context.Context, opts SubscribeOptions) (<-chan *Delivery, error)
}

// Broker full queue client
type Broker interface {
	Publisher
	Subscriber
	// DeclareConsumer creates the durable consumer group and its dead-letter stream
	DeclareConsumer(ctx context.Context, cfg ConsumerConfig) error
	// SubscribeDeadLetters consumes the dead-letter stream of a consumer group
	SubscribeDeadLetters(ctx context.Context, consumer string, prefetch int) (<-chan *Delivery, error)
	// Events reports connection state changes
	Events() <-chan Event
	Close() error
}

// SubscribeOptions definition subscription setting
type SubscribeOptions struct {
	Subject  string // filter, supports * and #
	Consumer string // durable consumer group name
	Prefetch int    // max unacknowledged deliveries handed to this subscription

	RedeliveryWait time.Duration
	MaxDeliveries  int
	AckWait        time.Duration
}

// ConsumerConfig returns the group configuration described by the options
func (o SubscribeOptions) ConsumerConfig(retention Retention) ConsumerConfig {
	return ConsumerConfig{
		Name:    o.Consumer,
		Subject: o.Subject,
		Policy: RetryPolicy{
			MaxDeliveries:  o.MaxDeliveries,
			RedeliveryWait: o.RedeliveryWait,
			AckWait:        o.AckWait,
		}.WithDefaults(),
		Retention: retention,
	}
}

// EventType connection event kind
type EventType string

const (
	// EventConnected broker connection (re)established
	EventConnected EventType = "connected"
	// EventDisconnected broker connection lost, reconnecting
	EventDisconnected EventType = "disconnected"
)

// Event connection state change
type Event struct {
	Type EventType
	Err  error
	At   time.Time
}

// AckState acknowledgment state of a delivery
type AckState int32

const (
	// StatePending not yet resolved
	StatePending AckState = iota
	// StateAcked permanently completed
	StateAcked
	// StateNacked handed back for redelivery or dead-lettering
	StateNacked
)

func (s AckState) String() string {
	switch s {
	case StateAcked:
		return "acked"
	case StateNacked:
		return "nacked"
	default:
		return "pending"
	}
}

// acknowledger is implemented by each broker
type acknowledger interface {
	ack(d *Delivery) error
	nak(d *Delivery, reason string) error
}

// Delivery one attempt to process a message
type Delivery struct {
	MessageID  string
	Subject    string
	Data       []byte
	Headers    map[string]string
	Sequence   uint64
	Count      int // 1-based delivery count
	Max        int // delivery limit of the consumer group, 0 when unknown
	ReceivedAt time.Time
	Deadline   time.Time

	mu    sync.Mutex
	state AckState
	acker acknowledger
}

// State returns the acknowledgment state
func (d *Delivery) State() AckState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Final reports whether a nak of this delivery dead-letters the message
func (d *Delivery) Final() bool {
	return d.Max > 0 && d.Count >= d.Max
}

// Ack marks the delivery permanently complete. Acking twice is a no-op.
func (d *Delivery) Ack() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case StateAcked:
		return nil
	case StateNacked:
		return ErrAlreadyResolved
	}
	if err := d.acker.ack(d); err != nil {
		return err
	}
	d.state = StateAcked
	return nil
}

// Nak hands the delivery back. The broker redelivers it after the group's
// redelivery wait, or dead-letters it once the delivery limit is reached.
func (d *Delivery) Nak(reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case StateNacked:
		return nil
	case StateAcked:
		return ErrAlreadyResolved
	}
	if err := d.acker.nak(d, reason); err != nil {
		return err
	}
	d.state = StateNacked
	return nil
}

// Header returns a header value or ""
func (d *Delivery) Header(key string) string {
	if d.Headers == nil {
		return ""
	}
	return d.Headers[key]
}

func copyHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
