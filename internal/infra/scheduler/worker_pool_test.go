package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/pj-ledger-sync-go/internal/domain"
	"github.com/boddenberg/pj-ledger-sync-go/internal/infra/observability"
	"github.com/boddenberg/pj-ledger-sync-go/internal/infra/scheduler"

	"go.uber.org/zap"
)

// ============================================================
// Stubs
// ============================================================

// stubJob reports each execution on ran and optionally blocks until the
// pool context is cancelled.
type stubJob struct {
	id    string
	err   error
	stuck bool
	ran   chan string
}

func (j *stubJob) Execute(ctx context.Context) error {
	if j.stuck {
		<-ctx.Done()
		if j.ran != nil {
			j.ran <- j.id
		}
		return ctx.Err()
	}
	if j.ran != nil {
		j.ran <- j.id
	}
	return j.err
}

func (j *stubJob) UserID() string      { return "user-1" }
func (j *stubJob) Description() string { return "stub job " + j.id }

type stubRunner struct {
	mu    sync.Mutex
	calls []string
	done  chan struct{}
}

func (r *stubRunner) Run(_ context.Context, userID, externalItemID string) (*domain.SyncResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, userID+"/"+externalItemID)
	r.mu.Unlock()
	if r.done != nil {
		close(r.done)
	}
	return &domain.SyncResult{ExternalItemID: externalItemID, Pages: 1, Completed: true}, nil
}

func newPool(workers, queueSize int) *scheduler.WorkerPool {
	return scheduler.NewWorkerPool(workers, queueSize, 0, zap.NewNop(), observability.NewMetrics())
}

func drain(ran chan string) []string {
	var got []string
	for {
		select {
		case id := <-ran:
			got = append(got, id)
		default:
			return got
		}
	}
}

// ============================================================
// Tests
// ============================================================

func TestWorkerPool_ExecutesSubmittedJobs(t *testing.T) {
	pool := newPool(2, 8)
	ran := make(chan string, 3)

	for _, id := range []string{"a", "b", "c"} {
		if err := pool.Submit(&stubJob{id: id, ran: ran}); err != nil {
			t.Fatalf("submit %s: %v", id, err)
		}
	}
	pool.Start()

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		select {
		case id := <-ran:
			seen[id] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, only %d of 3 jobs ran", i)
		}
	}
	pool.Shutdown()

	for _, id := range []string{"a", "b", "c"} {
		if !seen[id] {
			t.Errorf("job %s never executed", id)
		}
	}
}

func TestWorkerPool_FullQueueDropsJob(t *testing.T) {
	// Workers never started, so the queue cannot drain.
	pool := newPool(1, 1)

	if err := pool.Submit(&stubJob{id: "first"}); err != nil {
		t.Fatalf("first submit should queue: %v", err)
	}

	err := pool.Submit(&stubJob{id: "second"})
	if !errors.Is(err, scheduler.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestWorkerPool_ShutdownDrainsQueuedJobs(t *testing.T) {
	pool := newPool(1, 8)
	ran := make(chan string, 5)

	for i := 0; i < 5; i++ {
		if err := pool.Submit(&stubJob{id: "job", ran: ran}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	pool.Start()
	pool.Shutdown()

	if got := len(drain(ran)); got != 5 {
		t.Errorf("expected all 5 queued jobs to run before shutdown returned, got %d", got)
	}
}

func TestWorkerPool_FailedJobDoesNotStopWorker(t *testing.T) {
	pool := newPool(1, 4)
	ran := make(chan string, 2)

	if err := pool.Submit(&stubJob{id: "bad", err: errors.New("boom"), ran: ran}); err != nil {
		t.Fatalf("submit bad: %v", err)
	}
	if err := pool.Submit(&stubJob{id: "good", ran: ran}); err != nil {
		t.Fatalf("submit good: %v", err)
	}
	pool.Start()
	pool.Shutdown()

	got := drain(ran)
	if len(got) != 2 {
		t.Fatalf("expected both jobs to run, got %v", got)
	}
	if got[0] != "bad" || got[1] != "good" {
		t.Errorf("expected bad then good on one worker, got %v", got)
	}
}

func TestWorkerPool_ShutdownWithTimeoutCancelsStuckJob(t *testing.T) {
	pool := newPool(1, 2)
	ran := make(chan string, 1)

	if err := pool.Submit(&stubJob{id: "stuck", stuck: true, ran: ran}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	pool.Start()

	start := time.Now()
	pool.ShutdownWithTimeout(50 * time.Millisecond)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("shutdown took %v, expected it to give up after the timeout", elapsed)
	}

	// Cancellation must reach the job.
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("stuck job never observed cancellation")
	}
}

func TestSyncQueue_EnqueueSync(t *testing.T) {
	runner := &stubRunner{done: make(chan struct{})}
	pool := newPool(1, 4)
	pool.Start()
	queue := scheduler.NewSyncQueue(pool, runner, zap.NewNop())

	if err := queue.EnqueueSync("user-1", "ext-item-1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case <-runner.done:
	case <-time.After(2 * time.Second):
		t.Fatal("queued sync never reached the runner")
	}
	pool.Shutdown()

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.calls) != 1 || runner.calls[0] != "user-1/ext-item-1" {
		t.Errorf("expected one run for user-1/ext-item-1, got %v", runner.calls)
	}
}

func TestSyncQueue_FullPoolSurfacesError(t *testing.T) {
	runner := &stubRunner{}
	pool := newPool(1, 1)
	queue := scheduler.NewSyncQueue(pool, runner, zap.NewNop())

	if err := queue.EnqueueSync("user-1", "ext-item-1"); err != nil {
		t.Fatalf("first enqueue should queue: %v", err)
	}
	if err := queue.EnqueueSync("user-1", "ext-item-2"); !errors.Is(err, scheduler.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestItemSyncJob_Describes(t *testing.T) {
	job := scheduler.NewItemSyncJob("user-1", "ext-item-1", &stubRunner{}, zap.NewNop())

	if job.UserID() != "user-1" {
		t.Errorf("expected user-1, got %q", job.UserID())
	}
	if job.Description() != "item sync ext-item-1" {
		t.Errorf("unexpected description %q", job.Description())
	}
}
