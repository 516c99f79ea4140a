package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/solvient/problem-engine/internal/engine"
	"github.com/solvient/problem-engine/internal/storage"
)

// chanQueue is an in-memory queue backed by a channel
type chanQueue struct {
	mu       sync.Mutex
	ch       chan string
	enqueued []string
}

func newChanQueue() *chanQueue {
	return &chanQueue{ch: make(chan string, 16)}
}

func (q *chanQueue) Enqueue(ctx context.Context, problemID string) error {
	q.mu.Lock()
	q.enqueued = append(q.enqueued, problemID)
	q.mu.Unlock()
	q.ch <- problemID
	return nil
}

func (q *chanQueue) Dequeue(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case id := <-q.ch:
		return id, nil
	}
}

func (q *chanQueue) Ping(ctx context.Context) error { return nil }
func (q *chanQueue) Close() error                   { return nil }

// recordingExecutor records executed ids and signals on each execution
type recordingExecutor struct {
	mu       sync.Mutex
	executed []string
	err      error
	done     chan string
}

func (e *recordingExecutor) Execute(ctx context.Context, problemID string) error {
	e.mu.Lock()
	e.executed = append(e.executed, problemID)
	e.mu.Unlock()
	if e.done != nil {
		e.done <- problemID
	}
	return e.err
}

// staleRepo serves a fixed stale-PAID id list
type staleRepo struct {
	storage.Repository
	stale []string
}

func (r *staleRepo) GetStalePaid(ctx context.Context, olderThan time.Duration) ([]string, error) {
	return r.stale, nil
}

func TestWorkerExecutesQueuedProblems(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := newChanQueue()
	exec := &recordingExecutor{done: make(chan string, 16)}

	w := New(q, exec, &staleRepo{}, 2, time.Hour)
	w.Start(ctx)

	if err := q.Enqueue(ctx, "p1"); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.Enqueue(ctx, "p2"); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	seen := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case id := <-exec.done:
			seen[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for execution")
		}
	}

	if !seen["p1"] || !seen["p2"] {
		t.Errorf("expected both problems executed, got %v", seen)
	}
}

func TestWorkerToleratesPreconditionRejections(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := newChanQueue()
	exec := &recordingExecutor{done: make(chan string, 16), err: engine.ErrAlreadyClaimed}

	w := New(q, exec, &staleRepo{}, 1, time.Hour)
	w.Start(ctx)

	// Two rejected executions in a row must not kill the consumer
	for _, id := range []string{"p1", "p2"} {
		if err := q.Enqueue(ctx, id); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		select {
		case <-exec.done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for execution")
		}
	}
}

// blockingExecutor holds a run open until released, then records whether
// its context was still live.
type blockingExecutor struct {
	started chan struct{}
	release chan struct{}
	done    chan struct{}
	ctxErr  error
}

func (e *blockingExecutor) Execute(ctx context.Context, problemID string) error {
	close(e.started)
	<-e.release
	e.ctxErr = ctx.Err()
	close(e.done)
	return nil
}

func TestShutdownDoesNotCancelInFlightExecution(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := newChanQueue()
	exec := &blockingExecutor{
		started: make(chan struct{}),
		release: make(chan struct{}),
		done:    make(chan struct{}),
	}

	w := New(q, exec, &staleRepo{}, 1, time.Hour)
	w.Start(ctx)

	if err := q.Enqueue(ctx, "p1"); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	select {
	case <-exec.started:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for execution to start")
	}

	// Shutdown lands while the run is in flight
	cancel()
	close(exec.release)

	select {
	case <-exec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for execution to finish")
	}

	w.Wait()

	if exec.ctxErr != nil {
		t.Errorf("in-flight execution saw canceled context: %v", exec.ctxErr)
	}
}

func TestRequeueStale(t *testing.T) {
	q := newChanQueue()
	repo := &staleRepo{stale: []string{"p1", "p2"}}

	w := New(q, &recordingExecutor{}, repo, 1, time.Hour)
	w.requeueStale(context.Background())

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.enqueued) != 2 {
		t.Fatalf("expected 2 re-enqueued problems, got %d", len(q.enqueued))
	}
	if q.enqueued[0] != "p1" || q.enqueued[1] != "p2" {
		t.Errorf("unexpected requeue order: %v", q.enqueued)
	}
}

func TestNewDefaults(t *testing.T) {
	w := New(newChanQueue(), &recordingExecutor{}, &staleRepo{}, 0, 0)
	if w.concurrency != 4 {
		t.Errorf("expected default concurrency 4, got %d", w.concurrency)
	}
	if w.requeueAfter != 5*time.Minute {
		t.Errorf("expected default requeue after 5m, got %v", w.requeueAfter)
	}
}
