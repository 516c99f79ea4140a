package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/solvient/problem-engine/internal/engine"
	"github.com/solvient/problem-engine/internal/queue"
	"github.com/solvient/problem-engine/internal/storage"
)

// Executor runs one problem to a terminal state
type Executor interface {
	Execute(ctx context.Context, problemID string) error
}

// Worker drains the execution queue and periodically re-enqueues problems
// stuck in PAID (lost enqueue or a worker crash mid-handoff).
type Worker struct {
	queue        queue.Queue
	executor     Executor
	repo         storage.Repository
	concurrency  int
	requeueAfter time.Duration

	inflight sync.WaitGroup
}

// New creates a new execution worker
func New(q queue.Queue, executor Executor, repo storage.Repository, concurrency int, requeueAfter time.Duration) *Worker {
	if concurrency <= 0 {
		concurrency = 4
	}
	if requeueAfter <= 0 {
		requeueAfter = 5 * time.Minute
	}

	return &Worker{
		queue:        q,
		executor:     executor,
		repo:         repo,
		concurrency:  concurrency,
		requeueAfter: requeueAfter,
	}
}

// Start launches the consumer goroutines and the sweep loop
func (w *Worker) Start(ctx context.Context) {
	slog.Info("execution workers starting", "concurrency", w.concurrency, "requeue_after", w.requeueAfter)

	for i := 0; i < w.concurrency; i++ {
		go w.consume(ctx, i)
	}
	go w.sweep(ctx)
}

// consume is the main loop of one worker goroutine
func (w *Worker) consume(ctx context.Context, n int) {
	for {
		id, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("execution worker stopped", "worker", n)
				return
			}
			slog.Error("failed to dequeue problem", "worker", n, "error", err)
			time.Sleep(time.Second)
			continue
		}

		w.execute(ctx, id)
	}
}

func (w *Worker) execute(ctx context.Context, id string) {
	w.inflight.Add(1)
	defer w.inflight.Done()

	// A claimed problem must reach a terminal state. Shutdown cancels the
	// consume loops, not a run that already left the queue.
	runCtx := context.WithoutCancel(ctx)

	err := w.executor.Execute(runCtx, id)
	switch {
	case err == nil:
		return
	case errors.Is(err, engine.ErrProblemNotFound),
		errors.Is(err, engine.ErrPaymentNotConfirmed),
		errors.Is(err, engine.ErrAlreadyClaimed):
		// Precondition rejections mutate nothing; nothing to recover
		slog.Warn("skipping queued problem", "id", id, "reason", err)
	default:
		slog.Error("problem execution error", "id", id, "error", err)
	}
}

// Wait blocks until in-flight executions have finished. Call after
// cancelling the Start context.
func (w *Worker) Wait() {
	w.inflight.Wait()
}

// sweep re-enqueues confirmed problems that never reached a worker
func (w *Worker) sweep(ctx context.Context) {
	ticker := time.NewTicker(w.requeueAfter)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("requeue sweep stopped")
			return
		case <-ticker.C:
			w.requeueStale(ctx)
		}
	}
}

func (w *Worker) requeueStale(ctx context.Context) {
	ids, err := w.repo.GetStalePaid(ctx, w.requeueAfter)
	if err != nil {
		slog.Error("failed to find stale paid problems", "error", err)
		return
	}

	if len(ids) == 0 {
		return
	}

	slog.Info("re-enqueueing stale paid problems", "count", len(ids))

	for _, id := range ids {
		if err := w.queue.Enqueue(ctx, id); err != nil {
			slog.Error("failed to re-enqueue problem", "id", id, "error", err)
		}
	}
}
