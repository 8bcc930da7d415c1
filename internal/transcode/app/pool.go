package app

import (
	"context"
	"fmt"
	"sync"

	"video_transcode_pipeline/pkg/logger"
	"video_transcode_pipeline/pkg/queue"

	"go.uber.org/zap"
)

// Pool pulls deliveries for one consumer group and runs at most size jobs at once
type Pool struct {
	sub     queue.Subscriber
	handler Handler
	opts    queue.SubscribeOptions
	size    int

	// OnOutcome is called after every handled delivery
	OnOutcome func(Outcome)
}

// NewPool size is the max number of jobs in flight
func NewPool(sub queue.Subscriber, handler Handler, opts queue.SubscribeOptions, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	opts.Prefetch = size
	return &Pool{sub: sub, handler: handler, opts: opts, size: size}
}

// Run consumes until ctx is done, then waits for the jobs in flight. Jobs are
// not cancelled on shutdown; the subscription stays open until they are
// acked or nacked. A free slot is taken before a delivery is pulled, so the
// backlog stays in the broker.
func (p *Pool) Run(ctx context.Context) error {
	subCtx, cancelSub := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelSub()

	deliveries, err := p.sub.Subscribe(subCtx, p.opts)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", p.opts.Consumer, err)
	}
	logger.Log.Info("worker pool started",
		zap.String("consumer", p.opts.Consumer),
		zap.String("subject", p.opts.Subject),
		zap.Int("size", p.size),
	)

	jobCtx := context.WithoutCancel(ctx)
	slots := make(chan struct{}, p.size)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			logger.Log.Info("worker pool stopping, waiting for jobs in flight", zap.String("consumer", p.opts.Consumer))
			return nil
		}

		select {
		case d, ok := <-deliveries:
			if !ok {
				<-slots
				return fmt.Errorf("consumer %s: %w", p.opts.Consumer, queue.ErrClosed)
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-slots }()
				outcome := p.handler.Handle(jobCtx, d)
				if p.OnOutcome != nil {
					p.OnOutcome(outcome)
				}
			}()
		case <-ctx.Done():
			<-slots
			logger.Log.Info("worker pool stopping, waiting for jobs in flight", zap.String("consumer", p.opts.Consumer))
			return nil
		}
	}
}
