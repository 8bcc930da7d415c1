package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"video_transcode_pipeline/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MemoryBroker in-process broker with the same delivery semantics as the
// RabbitMQ broker. Used by tests and single-node development.
type MemoryBroker struct {
	mu     sync.Mutex
	seq    uint64
	groups map[string]*memGroup
	closed bool
	done   chan struct{}
	events chan Event
}

type memMessage struct {
	id          string
	subject     string
	data        []byte
	headers     map[string]string
	seq         uint64
	publishedAt time.Time
	count       int
}

type memLane struct {
	items  []*memMessage
	signal chan struct{}
}

type memGroup struct {
	cfg      ConsumerConfig
	ready    *memLane
	dead     *memLane
	inflight map[*Delivery]*memInflight
	delayed  int
	bytes    int64
}

type memSub struct {
	inflight int
}

type memInflight struct {
	msg   *memMessage
	lane  *memLane
	sub   *memSub
	timer *time.Timer
}

type memAcker struct {
	b     *MemoryBroker
	group *memGroup
}

// GroupStats snapshot of a consumer group
type GroupStats struct {
	Ready       int
	InFlight    int
	Delayed     int
	DeadLetters int
}

// NewMemoryBroker create an empty in-process broker
func NewMemoryBroker() *MemoryBroker {
	b := &MemoryBroker{
		groups: make(map[string]*memGroup),
		done:   make(chan struct{}),
		events: make(chan Event, 1),
	}
	b.events <- Event{Type: EventConnected, At: time.Now()}
	return b
}

func newLane() *memLane {
	return &memLane{signal: make(chan struct{})}
}

func (l *memLane) broadcast() {
	close(l.signal)
	l.signal = make(chan struct{})
}

func (l *memLane) push(m *memMessage) {
	l.items = append(l.items, m)
	l.broadcast()
}

func (l *memLane) pushFront(m *memMessage) {
	l.items = append([]*memMessage{m}, l.items...)
	l.broadcast()
}

// Publish routes payload to every consumer group whose filter matches subject
func (b *MemoryBroker) Publish(ctx context.Context, subject string, payload []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, fmt.Errorf("%w: %v", ErrQueueUnavailable, ErrClosed)
	}

	var targets []*memGroup
	for _, g := range b.groups {
		if !MatchSubject(g.cfg.Subject, subject) {
			continue
		}
		r := g.cfg.Retention
		if r.MaxMessages > 0 && int64(len(g.ready.items)+len(g.inflight)+g.delayed) >= r.MaxMessages {
			return 0, fmt.Errorf("%w: consumer %s reached max messages %d", ErrQueueUnavailable, g.cfg.Name, r.MaxMessages)
		}
		if r.MaxBytes > 0 && g.bytes+int64(len(payload)) > r.MaxBytes {
			return 0, fmt.Errorf("%w: consumer %s reached max bytes %d", ErrQueueUnavailable, g.cfg.Name, r.MaxBytes)
		}
		targets = append(targets, g)
	}
	if len(targets) == 0 {
		logger.Log.Warn("message matches no consumer group, dropped", zap.String("subject", subject))
	}

	b.seq++
	id := uuid.NewString()
	now := time.Now()
	for _, g := range targets {
		data := make([]byte, len(payload))
		copy(data, payload)
		g.bytes += int64(len(data))
		g.ready.push(&memMessage{
			id:          id,
			subject:     subject,
			data:        data,
			headers:     map[string]string{HeaderSubject: subject},
			seq:         b.seq,
			publishedAt: now,
		})
	}
	return b.seq, nil
}

// DeclareConsumer creates the group when it does not exist yet
func (b *MemoryBroker) DeclareConsumer(ctx context.Context, cfg ConsumerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, ErrClosed)
	}
	b.declareLocked(cfg)
	return nil
}

func (b *MemoryBroker) declareLocked(cfg ConsumerConfig) *memGroup {
	if g, ok := b.groups[cfg.Name]; ok {
		return g
	}
	cfg.Policy = cfg.Policy.WithDefaults()
	g := &memGroup{
		cfg:      cfg,
		ready:    newLane(),
		dead:     newLane(),
		inflight: make(map[*Delivery]*memInflight),
	}
	b.groups[cfg.Name] = g
	return g
}

// Subscribe joins the consumer group named in opts, declaring it when needed
func (b *MemoryBroker) Subscribe(ctx context.Context, opts SubscribeOptions) (<-chan *Delivery, error) {
	cfg := opts.ConsumerConfig(Retention{})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, ErrClosed)
	}
	g := b.declareLocked(cfg)
	b.mu.Unlock()

	out := make(chan *Delivery)
	go b.dispatch(ctx, g, g.ready, prefetchOrOne(opts.Prefetch), out)
	return out, nil
}

// SubscribeDeadLetters consumes the dead-letter stream of a consumer group
func (b *MemoryBroker) SubscribeDeadLetters(ctx context.Context, consumer string, prefetch int) (<-chan *Delivery, error) {
	b.mu.Lock()
	g, ok := b.groups[consumer]
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, ErrClosed)
	}
	if !ok {
		return nil, fmt.Errorf("consumer %s is not declared", consumer)
	}

	out := make(chan *Delivery)
	go b.dispatch(ctx, g, g.dead, prefetchOrOne(prefetch), out)
	return out, nil
}

func prefetchOrOne(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

func (b *MemoryBroker) dispatch(ctx context.Context, g *memGroup, lane *memLane, prefetch int, out chan<- *Delivery) {
	defer close(out)
	sub := &memSub{}

	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return
		}
		var d *Delivery
		if sub.inflight < prefetch {
			d = b.nextLocked(g, lane, sub)
		}
		signal := lane.signal
		b.mu.Unlock()

		if d == nil {
			select {
			case <-ctx.Done():
				return
			case <-b.done:
				return
			case <-signal:
			}
			continue
		}

		select {
		case out <- d:
		case <-ctx.Done():
			b.giveBack(g, d)
			return
		case <-b.done:
			return
		}
	}
}

// nextLocked pops the head of the lane and turns it into an in-flight delivery
func (b *MemoryBroker) nextLocked(g *memGroup, lane *memLane, sub *memSub) *Delivery {
	now := time.Now()
	for len(lane.items) > 0 {
		msg := lane.items[0]
		lane.items = lane.items[1:]

		if lane == g.ready && g.cfg.Retention.MaxAge > 0 && now.Sub(msg.publishedAt) > g.cfg.Retention.MaxAge {
			b.deadLetterLocked(g, msg, "expired")
			continue
		}
		if lane == g.dead && now.Sub(msg.publishedAt) > g.cfg.Policy.DeadLetterRetention {
			g.bytes -= int64(len(msg.data))
			continue
		}

		msg.count++
		d := &Delivery{
			MessageID:  msg.id,
			Subject:    msg.subject,
			Data:       msg.data,
			Headers:    copyHeaders(msg.headers),
			Sequence:   msg.seq,
			Count:      msg.count,
			ReceivedAt: now,
			acker:      &memAcker{b: b, group: g},
		}
		entry := &memInflight{msg: msg, lane: lane, sub: sub}
		if lane == g.ready {
			d.Max = g.cfg.Policy.MaxDeliveries
			d.Deadline = now.Add(g.cfg.Policy.AckWait)
			entry.timer = time.AfterFunc(g.cfg.Policy.AckWait, func() { b.expire(g, d) })
		}
		g.inflight[d] = entry
		sub.inflight++
		return d
	}
	return nil
}

// giveBack returns a delivery that never reached the consumer to the head of its lane
func (b *MemoryBroker) giveBack(g *memGroup, d *Delivery) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := g.inflight[d]
	if !ok {
		return
	}
	b.releaseLocked(g, d, entry)
	entry.msg.count--
	entry.lane.pushFront(entry.msg)
}

func (b *MemoryBroker) releaseLocked(g *memGroup, d *Delivery, entry *memInflight) {
	delete(g.inflight, d)
	if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.sub.inflight--
	entry.lane.broadcast()
}

// expire redelivers a message whose ack deadline lapsed
func (b *MemoryBroker) expire(g *memGroup, d *Delivery) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := g.inflight[d]
	if !ok || b.closed {
		return
	}
	b.releaseLocked(g, d, entry)
	if entry.msg.count >= g.cfg.Policy.MaxDeliveries {
		b.deadLetterLocked(g, entry.msg, "ack deadline exceeded")
		return
	}
	g.ready.push(entry.msg)
}

func (a *memAcker) ack(d *Delivery) error {
	b := a.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, ErrClosed)
	}
	entry, ok := a.group.inflight[d]
	if !ok {
		return ErrDeliveryExpired
	}
	b.releaseLocked(a.group, d, entry)
	a.group.bytes -= int64(len(entry.msg.data))
	return nil
}

func (a *memAcker) nak(d *Delivery, reason string) error {
	b := a.b
	g := a.group
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, ErrClosed)
	}
	entry, ok := g.inflight[d]
	if !ok {
		return ErrDeliveryExpired
	}
	b.releaseLocked(g, d, entry)

	if entry.lane == g.dead {
		g.dead.push(entry.msg)
		return nil
	}
	if entry.msg.count >= g.cfg.Policy.MaxDeliveries {
		b.deadLetterLocked(g, entry.msg, reason)
		return nil
	}
	msg := entry.msg
	g.delayed++
	time.AfterFunc(g.cfg.Policy.RedeliveryWait, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.closed {
			return
		}
		g.delayed--
		g.ready.push(msg)
	})
	return nil
}

func (b *MemoryBroker) deadLetterLocked(g *memGroup, msg *memMessage, reason string) {
	headers := copyHeaders(msg.headers)
	headers[HeaderDeadLetterReason] = reason
	headers[HeaderDeliveries] = strconv.Itoa(msg.count)
	headers[HeaderConsumer] = g.cfg.Name
	headers[HeaderDeadLetteredAt] = time.Now().UTC().Format(time.RFC3339Nano)
	g.dead.push(&memMessage{
		id:          msg.id,
		subject:     msg.subject,
		data:        msg.data,
		headers:     headers,
		seq:         msg.seq,
		publishedAt: time.Now(),
		count:       0,
	})
}

// Stats returns a snapshot of a consumer group
func (b *MemoryBroker) Stats(consumer string) GroupStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.groups[consumer]
	if !ok {
		return GroupStats{}
	}
	stats := GroupStats{Ready: len(g.ready.items), Delayed: g.delayed, DeadLetters: len(g.dead.items)}
	for _, entry := range g.inflight {
		if entry.lane == g.ready {
			stats.InFlight++
		}
	}
	return stats
}

// Events reports the single connected event of the in-process broker
func (b *MemoryBroker) Events() <-chan Event {
	return b.events
}

// Close stops every subscription; pending redeliveries are dropped
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, g := range b.groups {
		for _, entry := range g.inflight {
			if entry.timer != nil {
				entry.timer.Stop()
			}
		}
	}
	close(b.done)
	return nil
}
