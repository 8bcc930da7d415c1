package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"video_transcode_pipeline/pkg/database"
	"video_transcode_pipeline/pkg/logger"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// RabbitOptions connection and topology setting of the RabbitMQ broker
type RabbitOptions struct {
	URL            string
	Exchange       string
	PublishTimeout time.Duration
	RetryCount     int
	RetryInterval  time.Duration
}

// RabbitBroker queue backed by RabbitMQ.
//
// Topology per consumer group <name>:
//   - <exchange> topic exchange, subjects are routing keys
//   - <name> quorum queue bound with the group's subject filter
//   - <name>.retry delay queue, expired messages go back to <name>
//   - <name>.dlq dead-letter queue bound to <exchange>.dlx
//
// Redelivery after a nak is a confirmed republish to the delay queue carrying
// the attempt count in HeaderAttempt, so the count survives worker restarts.
type RabbitBroker struct {
	opts RabbitOptions

	mu       sync.RWMutex
	conn     *amqp.Connection
	closeCh  chan *amqp.Error
	ready    chan struct{}
	declared map[string]ConsumerConfig
	closed   bool
	done     chan struct{}

	pubMu    sync.Mutex
	pubCh    *amqp.Channel
	pubSeq   uint64
	confirms chan amqp.Confirmation

	events chan Event
}

type rabbitAcker struct {
	b    *RabbitBroker
	msg  amqp.Delivery
	cfg  ConsumerConfig
	dead bool
}

// NewRabbitBroker connect to RabbitMQ and declare the exchanges
func NewRabbitBroker(opts RabbitOptions) (*RabbitBroker, error) {
	if opts.Exchange == "" {
		opts.Exchange = "video"
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 5 * time.Second
	}

	b := &RabbitBroker{
		opts:     opts,
		ready:    make(chan struct{}),
		declared: make(map[string]ConsumerConfig),
		done:     make(chan struct{}),
		events:   make(chan Event, 16),
	}
	if err := b.connect(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	go b.watch()
	return b, nil
}

func (b *RabbitBroker) deadLetterExchange() string {
	return b.opts.Exchange + ".dlx"
}

func (b *RabbitBroker) connect() error {
	conn, err := database.ConnectRabbitMQWithRetry(database.Connection{
		ConnectStr:    b.opts.URL,
		RetryCount:    b.opts.RetryCount,
		RetryInterval: b.opts.RetryInterval,
	})
	if err != nil {
		return err
	}
	closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))

	ch, err := database.GetRabbitMQChannelWithRetry(conn, b.opts.RetryCount, b.opts.RetryInterval)
	if err != nil {
		conn.Close()
		return fmt.Errorf("open publish channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return fmt.Errorf("enable publisher confirms: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 64))

	if err := ch.ExchangeDeclare(b.opts.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("declare exchange %s: %w", b.opts.Exchange, err)
	}
	if err := ch.ExchangeDeclare(b.deadLetterExchange(), amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("declare exchange %s: %w", b.deadLetterExchange(), err)
	}

	b.mu.RLock()
	declared := make([]ConsumerConfig, 0, len(b.declared))
	for _, cfg := range b.declared {
		declared = append(declared, cfg)
	}
	b.mu.RUnlock()
	for _, cfg := range declared {
		if err := b.declareTopology(conn, cfg); err != nil {
			conn.Close()
			return err
		}
	}

	b.pubMu.Lock()
	b.pubCh = ch
	b.pubSeq = 0
	b.confirms = confirms
	b.pubMu.Unlock()

	b.mu.Lock()
	b.conn = conn
	b.closeCh = closeCh
	close(b.ready)
	b.mu.Unlock()

	b.emit(Event{Type: EventConnected, At: time.Now()})
	return nil
}

// watch reconnects with a fixed interval whenever the connection drops
func (b *RabbitBroker) watch() {
	for {
		b.mu.RLock()
		closeCh := b.closeCh
		b.mu.RUnlock()

		select {
		case <-b.done:
			return
		case amqpErr := <-closeCh:
			if b.isClosed() {
				return
			}
			var cause error
			if amqpErr != nil {
				cause = amqpErr
			}
			b.markDisconnected(cause)
		}

		for {
			err := b.connect()
			if err == nil {
				break
			}
			logger.Log.Warn("RabbitMQ reconnect failed", zap.Error(err))
			select {
			case <-b.done:
				return
			case <-time.After(b.opts.RetryInterval):
			}
		}
	}
}

func (b *RabbitBroker) markDisconnected(cause error) {
	b.pubMu.Lock()
	b.pubCh = nil
	b.confirms = nil
	b.pubMu.Unlock()

	b.mu.Lock()
	b.conn = nil
	b.ready = make(chan struct{})
	b.mu.Unlock()

	logger.Log.Warn("RabbitMQ connection lost", zap.Error(cause))
	b.emit(Event{Type: EventDisconnected, Err: cause, At: time.Now()})
}

func (b *RabbitBroker) emit(e Event) {
	select {
	case b.events <- e:
	default:
	}
}

func (b *RabbitBroker) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// waitReady blocks until a connection is up
func (b *RabbitBroker) waitReady(ctx context.Context) (*amqp.Connection, bool) {
	for {
		b.mu.RLock()
		conn, ready, closed := b.conn, b.ready, b.closed
		b.mu.RUnlock()
		if closed {
			return nil, false
		}
		if conn != nil {
			return conn, true
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-b.done:
			return nil, false
		case <-ready:
		}
	}
}

// Publish routes payload through the topic exchange and waits for the broker confirm
func (b *RabbitBroker) Publish(ctx context.Context, subject string, payload []byte) (uint64, error) {
	return b.publish(ctx, b.opts.Exchange, subject, amqp.Publishing{
		Headers:      amqp.Table{HeaderSubject: subject},
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         payload,
	})
}

func (b *RabbitBroker) publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (uint64, error) {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	if b.pubCh == nil {
		return 0, fmt.Errorf("%w: not connected", ErrQueueUnavailable)
	}
	if err := b.pubCh.Publish(exchange, key, false, false, msg); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	b.pubSeq++
	tag := b.pubSeq

	timer := time.NewTimer(b.opts.PublishTimeout)
	defer timer.Stop()
	for {
		select {
		case c, ok := <-b.confirms:
			if !ok {
				return 0, fmt.Errorf("%w: confirm channel closed", ErrQueueUnavailable)
			}
			// late confirm of an earlier publish that timed out
			if c.DeliveryTag < tag {
				continue
			}
			if !c.Ack {
				return 0, fmt.Errorf("%w: broker rejected message %d", ErrQueueUnavailable, c.DeliveryTag)
			}
			return c.DeliveryTag, nil
		case <-timer.C:
			return 0, fmt.Errorf("%w: no confirm within %s", ErrQueueUnavailable, b.opts.PublishTimeout)
		case <-ctx.Done():
			return 0, fmt.Errorf("%w: %v", ErrQueueUnavailable, ctx.Err())
		}
	}
}

// DeclareConsumer declares the group's queue, delay queue and dead-letter queue.
// Declaring an existing group with different arguments fails on the broker side.
func (b *RabbitBroker) DeclareConsumer(ctx context.Context, cfg ConsumerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.Policy = cfg.Policy.WithDefaults()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, ErrClosed)
	}
	b.declared[cfg.Name] = cfg
	conn := b.conn
	b.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("%w: not connected", ErrQueueUnavailable)
	}
	if err := b.declareTopology(conn, cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return nil
}

func (b *RabbitBroker) declareTopology(conn *amqp.Connection, cfg ConsumerConfig) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open declare channel: %w", err)
	}
	defer ch.Close()

	mainArgs := amqp.Table{
		"x-queue-type":              "quorum",
		"x-dead-letter-exchange":    b.deadLetterExchange(),
		"x-dead-letter-routing-key": cfg.Name,
		"x-delivery-limit":          int64(cfg.Policy.MaxDeliveries),
		"x-consumer-timeout":        cfg.Policy.AckWait.Milliseconds(),
	}
	r := cfg.Retention
	if r.MaxMessages > 0 {
		mainArgs["x-max-length"] = r.MaxMessages
		mainArgs["x-overflow"] = "reject-publish"
	}
	if r.MaxBytes > 0 {
		mainArgs["x-max-length-bytes"] = r.MaxBytes
		mainArgs["x-overflow"] = "reject-publish"
	}
	if r.MaxAge > 0 {
		mainArgs["x-message-ttl"] = r.MaxAge.Milliseconds()
	}
	if _, err := ch.QueueDeclare(cfg.Name, true, false, false, false, mainArgs); err != nil {
		return fmt.Errorf("declare queue %s: %w", cfg.Name, err)
	}
	if err := ch.QueueBind(cfg.Name, cfg.Subject, b.opts.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", cfg.Name, err)
	}

	retry := RetryQueueName(cfg.Name)
	retryArgs := amqp.Table{
		"x-message-ttl":             cfg.Policy.RedeliveryWait.Milliseconds(),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": cfg.Name,
	}
	if _, err := ch.QueueDeclare(retry, true, false, false, false, retryArgs); err != nil {
		return fmt.Errorf("declare queue %s: %w", retry, err)
	}

	dlq := DeadLetterQueueName(cfg.Name)
	dlqArgs := amqp.Table{
		"x-queue-type":  "quorum",
		"x-message-ttl": cfg.Policy.DeadLetterRetention.Milliseconds(),
	}
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, dlqArgs); err != nil {
		return fmt.Errorf("declare queue %s: %w", dlq, err)
	}
	if err := ch.QueueBind(dlq, cfg.Name, b.deadLetterExchange(), false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", dlq, err)
	}
	return nil
}

// Subscribe consumes the group queue. The subscription survives reconnects and
// keeps delivering on the same channel until ctx is done.
func (b *RabbitBroker) Subscribe(ctx context.Context, opts SubscribeOptions) (<-chan *Delivery, error) {
	b.mu.RLock()
	existing, ok := b.declared[opts.Consumer]
	b.mu.RUnlock()

	cfg := opts.ConsumerConfig(existing.Retention)
	if ok {
		cfg.Policy.DeadLetterRetention = existing.Policy.DeadLetterRetention
	}
	if err := b.DeclareConsumer(ctx, cfg); err != nil {
		return nil, err
	}

	out := make(chan *Delivery)
	go b.consume(ctx, cfg.Name, cfg, prefetchOrOne(opts.Prefetch), false, out)
	return out, nil
}

// SubscribeDeadLetters consumes the dead-letter queue of a consumer group
func (b *RabbitBroker) SubscribeDeadLetters(ctx context.Context, consumer string, prefetch int) (<-chan *Delivery, error) {
	b.mu.RLock()
	cfg, ok := b.declared[consumer]
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, ErrClosed)
	}
	if !ok {
		return nil, fmt.Errorf("consumer %s is not declared", consumer)
	}

	out := make(chan *Delivery)
	go b.consume(ctx, DeadLetterQueueName(consumer), cfg, prefetchOrOne(prefetch), true, out)
	return out, nil
}

func (b *RabbitBroker) consume(ctx context.Context, queueName string, cfg ConsumerConfig, prefetch int, dead bool, out chan<- *Delivery) {
	defer close(out)

	for {
		conn, ok := b.waitReady(ctx)
		if !ok {
			return
		}
		ch, msgs, err := openConsumer(conn, queueName, prefetch)
		if err != nil {
			logger.Log.Warn("RabbitMQ consume failed, retrying...", zap.String("queue", queueName), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-b.done:
				return
			case <-time.After(b.opts.RetryInterval):
			}
			continue
		}

		if !b.pump(ctx, ch, msgs, cfg, dead, out) {
			ch.Close()
			return
		}
	}
}

// pump forwards deliveries until the channel drops (true) or the subscription ends (false)
func (b *RabbitBroker) pump(ctx context.Context, ch *amqp.Channel, msgs <-chan amqp.Delivery, cfg ConsumerConfig, dead bool, out chan<- *Delivery) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-b.done:
			return false
		case m, ok := <-msgs:
			if !ok {
				return true
			}
			d := b.toDelivery(m, cfg, dead)
			select {
			case out <- d:
			case <-ctx.Done():
				// closing the channel returns it without spending an attempt
				return false
			case <-b.done:
				return false
			}
		}
	}
}

func openConsumer(conn *amqp.Connection, queueName string, prefetch int) (*amqp.Channel, <-chan amqp.Delivery, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, err
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, nil, err
	}
	msgs, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, nil, err
	}
	return ch, msgs, nil
}

func (b *RabbitBroker) toDelivery(m amqp.Delivery, cfg ConsumerConfig, dead bool) *Delivery {
	headers := stringHeaders(m.Headers)
	subject := headers[HeaderSubject]
	if subject == "" {
		subject = m.RoutingKey
	}
	if dead && headers[HeaderDeadLetterReason] == "" && headers["x-first-death-reason"] != "" {
		headers[HeaderDeadLetterReason] = headers["x-first-death-reason"]
	}

	attempt, _ := strconv.Atoi(headers[HeaderAttempt])
	redeliveries := intHeader(m.Headers["x-delivery-count"])

	now := time.Now()
	d := &Delivery{
		MessageID:  m.MessageId,
		Subject:    subject,
		Data:       m.Body,
		Headers:    headers,
		Sequence:   m.DeliveryTag,
		Count:      1 + attempt + redeliveries,
		ReceivedAt: now,
		acker:      &rabbitAcker{b: b, msg: m, cfg: cfg, dead: dead},
	}
	if !dead {
		d.Max = cfg.Policy.MaxDeliveries
		d.Deadline = now.Add(cfg.Policy.AckWait)
	}
	return d
}

func (a *rabbitAcker) ack(d *Delivery) error {
	if err := a.msg.Ack(false); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return nil
}

func (a *rabbitAcker) nak(d *Delivery, reason string) error {
	if a.dead {
		if err := a.msg.Nack(false, true); err != nil {
			return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
		}
		return nil
	}

	headers := amqp.Table{}
	for k, v := range a.msg.Headers {
		if k == "x-delivery-count" || k == "x-death" {
			continue
		}
		headers[k] = v
	}
	pub := amqp.Publishing{
		Headers:      headers,
		ContentType:  a.msg.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    a.msg.MessageId,
		Timestamp:    time.Now(),
		Body:         a.msg.Body,
	}

	ctx := context.Background()
	if d.Final() {
		headers[HeaderDeadLetterReason] = reason
		headers[HeaderDeliveries] = strconv.Itoa(d.Count)
		headers[HeaderConsumer] = a.cfg.Name
		headers[HeaderDeadLetteredAt] = time.Now().UTC().Format(time.RFC3339Nano)
		if _, err := a.b.publish(ctx, a.b.deadLetterExchange(), a.cfg.Name, pub); err != nil {
			return err
		}
	} else {
		// the republished copy is a fresh message, so the next count is 1 + d.Count
		headers[HeaderAttempt] = strconv.Itoa(d.Count)
		if _, err := a.b.publish(ctx, "", RetryQueueName(a.cfg.Name), pub); err != nil {
			return err
		}
	}

	if err := a.msg.Ack(false); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return nil
}

// Events reports connect and disconnect transitions
func (b *RabbitBroker) Events() <-chan Event {
	return b.events
}

// Close stops every subscription and closes the connection
func (b *RabbitBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	conn := b.conn
	b.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// stringHeaders flattens scalar amqp headers
func stringHeaders(t amqp.Table) map[string]string {
	out := make(map[string]string, len(t))
	for k, v := range t {
		switch val := v.(type) {
		case string:
			out[k] = val
		case []byte:
			out[k] = string(val)
		case bool:
			out[k] = strconv.FormatBool(val)
		case time.Time:
			out[k] = val.UTC().Format(time.RFC3339Nano)
		default:
			if n := intHeader(v); n != 0 {
				out[k] = strconv.Itoa(n)
			}
		}
	}
	return out
}

func intHeader(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case uint8:
		return int(n)
	case uint16:
		return int(n)
	case uint32:
		return int(n)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	}
	return 0
}
