// Package runner drains pending runs in the background. POST /runs enqueues
// and returns 202; clients poll GET /runs/{id} for progress.
package runner

import (
	"context"
	"errors"
	"sync"

	"github.com/promptseq/promptseq/internal/engine"
	"github.com/promptseq/promptseq/internal/observability"
)

// ErrQueueFull is returned when the run queue cannot accept more work.
var ErrQueueFull = errors.New("run queue is full")

// ErrStopped is returned when enqueueing after shutdown has begun.
var ErrStopped = errors.New("runner is stopped")

type job struct {
	ownerID int64
	runID   int64
}

// Runner executes enqueued runs on a fixed pool of workers.
type Runner struct {
	engine *engine.Engine
	logger *observability.Logger

	queue   chan job
	workers int

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// New builds a runner with the given worker count and queue depth.
func New(eng *engine.Engine, logger *observability.Logger, workers, queueDepth int) *Runner {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = 64
	}
	return &Runner{
		engine:  eng,
		logger:  logger,
		queue:   make(chan job, queueDepth),
		workers: workers,
	}
}

// Start launches the worker pool. Workers exit when the queue is closed and
// drained, or when ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.work(ctx)
	}
}

func (r *Runner) work(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-r.queue:
			if !ok {
				return
			}
			if _, err := r.engine.ExecuteRun(ctx, j.ownerID, j.runID); err != nil {
				r.logger.Error(ctx, "background run failed", "run_id", j.runID, "error", err)
			}
		}
	}
}

// Enqueue schedules a pending run for execution.
func (r *Runner) Enqueue(ownerID, runID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrStopped
	}
	select {
	case r.queue <- job{ownerID: ownerID, runID: runID}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting work and waits for in-flight runs to finish.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.stopped {
		r.stopped = true
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if r.cancel != nil {
			r.cancel()
		}
		return ctx.Err()
	}
}
