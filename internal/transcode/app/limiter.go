package app

import (
	"context"
	"fmt"
	"sync/atomic"

	"video_transcode_pipeline/internal/transcode/domain"

	"golang.org/x/sync/semaphore"
)

// LimitedEngine caps the number of simultaneous engine invocations of the process
type LimitedEngine struct {
	engine Engine
	sem    *semaphore.Weighted
	limit  int64

	active atomic.Int64
	peak   atomic.Int64
}

// NewLimitedEngine wrap engine with a limit of k invocations
func NewLimitedEngine(engine Engine, k int) *LimitedEngine {
	if k <= 0 {
		k = 1
	}
	return &LimitedEngine{
		engine: engine,
		sem:    semaphore.NewWeighted(int64(k)),
		limit:  int64(k),
	}
}

// Transcode waits for a free slot, then runs the wrapped engine
func (l *LimitedEngine) Transcode(ctx context.Context, source, outputDir string, q domain.Quality) (*domain.RenditionOutput, error) {
	release, err := l.acquire(ctx)
	if err != nil {
		return nil, &domain.EngineFailure{Quality: q.Label, Message: err.Error()}
	}
	defer release()
	return l.engine.Transcode(ctx, source, outputDir, q)
}

// Thumbnail shares the same slots as Transcode
func (l *LimitedEngine) Thumbnail(ctx context.Context, source, dest, at string) error {
	release, err := l.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return l.engine.Thumbnail(ctx, source, dest, at)
}

func (l *LimitedEngine) acquire(ctx context.Context) (func(), error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for transcode slot: %w", err)
	}
	n := l.active.Add(1)
	for {
		p := l.peak.Load()
		if n <= p || l.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return func() {
		l.active.Add(-1)
		l.sem.Release(1)
	}, nil
}

// Limit configured number of slots
func (l *LimitedEngine) Limit() int {
	return int(l.limit)
}

// Active invocations running right now
func (l *LimitedEngine) Active() int {
	return int(l.active.Load())
}

// Peak highest number of simultaneous invocations observed
func (l *LimitedEngine) Peak() int {
	return int(l.peak.Load())
}
