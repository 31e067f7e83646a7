package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

var queueWindow = time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

func buildTask(tenantID string, windowStart time.Time) Task {
	return Task{
		Kind:        TaskBuildSnapshot,
		TenantID:    tenantID,
		WindowStart: windowStart,
		WindowEnd:   windowStart.Add(time.Hour),
	}
}

func TestEnqueue_Validation(t *testing.T) {
	q := NewQueue(Options{})
	if err := q.Enqueue(Task{TenantID: "acme"}); err == nil {
		t.Fatal("missing kind must be rejected")
	}
	if err := q.Enqueue(Task{Kind: TaskDetectDrift}); err == nil {
		t.Fatal("missing tenant must be rejected")
	}
}

func TestEnqueue_AssignsID(t *testing.T) {
	q := NewQueue(Options{})
	if err := q.Enqueue(Task{Kind: TaskDetectDrift, TenantID: "acme"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	task := <-q.tasks
	if task.ID == "" {
		t.Fatal("enqueue must assign an id")
	}
}

func TestEnqueue_CoalescesBuilds(t *testing.T) {
	q := NewQueue(Options{})

	if err := q.Enqueue(buildTask("acme", queueWindow)); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	// Same tenant and window: coalesced, no error, nothing new queued.
	if err := q.Enqueue(buildTask("acme", queueWindow)); err != nil {
		t.Fatalf("duplicate enqueue: %v", err)
	}
	if got := len(q.tasks); got != 1 {
		t.Fatalf("expected 1 queued build, got %d", got)
	}

	// Different window and different tenant both queue.
	if err := q.Enqueue(buildTask("acme", queueWindow.Add(time.Hour))); err != nil {
		t.Fatalf("next window enqueue: %v", err)
	}
	if err := q.Enqueue(buildTask("globex", queueWindow)); err != nil {
		t.Fatalf("other tenant enqueue: %v", err)
	}
	if got := len(q.tasks); got != 3 {
		t.Fatalf("expected 3 queued builds, got %d", got)
	}
}

func TestEnqueue_QueueFull(t *testing.T) {
	q := NewQueue(Options{QueueSize: 1})

	if err := q.Enqueue(Task{Kind: TaskDetectDrift, TenantID: "acme"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(Task{Kind: TaskDetectDrift, TenantID: "acme"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestEnqueue_FullQueueReleasesBuildKey(t *testing.T) {
	q := NewQueue(Options{QueueSize: 1})

	if err := q.Enqueue(Task{Kind: TaskDetectDrift, TenantID: "acme"}); err != nil {
		t.Fatalf("filler enqueue: %v", err)
	}
	if err := q.Enqueue(buildTask("acme", queueWindow)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	// Drain, then the same build must be accepted again, not coalesced away.
	<-q.tasks
	if err := q.Enqueue(buildTask("acme", queueWindow)); err != nil {
		t.Fatalf("re-enqueue after full: %v", err)
	}
	if got := len(q.tasks); got != 1 {
		t.Fatalf("expected the build to queue, got %d tasks", got)
	}
}

func TestRun_SuccessReleasesBuildKey(t *testing.T) {
	q := NewQueue(Options{})
	q.Register(TaskBuildSnapshot, func(ctx context.Context, task Task) error { return nil })

	task := buildTask("acme", queueWindow)
	if err := q.Enqueue(task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	q.run(<-q.tasks)

	// Key released: the same window queues again.
	if err := q.Enqueue(task); err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	if got := len(q.tasks); got != 1 {
		t.Fatalf("expected re-queued build, got %d tasks", got)
	}
}

func TestRun_SkippedDoesNotRetry(t *testing.T) {
	q := NewQueue(Options{})
	q.Register(TaskDetectDrift, func(ctx context.Context, task Task) error {
		return fmt.Errorf("%w: nothing to diff", ErrSkipped)
	})

	q.run(Task{ID: "t1", Kind: TaskDetectDrift, TenantID: "acme"})

	q.retryMu.Lock()
	pending := len(q.retries)
	q.retryMu.Unlock()
	if pending != 0 {
		t.Fatalf("skipped tasks must not retry, got %d pending", pending)
	}
}

func TestRun_FailureSchedulesRetryWithBackoff(t *testing.T) {
	base := queueWindow
	clock := base
	q := NewQueue(Options{MaxAttempts: 3, BaseDelay: 15 * time.Second})
	q.now = func() time.Time { return clock }

	calls := 0
	q.Register(TaskDetectDrift, func(ctx context.Context, task Task) error {
		calls++
		return errors.New("boom")
	})

	q.run(Task{ID: "t1", Kind: TaskDetectDrift, TenantID: "acme"})
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}

	q.retryMu.Lock()
	if len(q.retries) != 1 {
		q.retryMu.Unlock()
		t.Fatal("expected a pending retry")
	}
	first := q.retries[0]
	q.retryMu.Unlock()
	if first.attempt != 1 {
		t.Fatalf("expected attempt 1, got %d", first.attempt)
	}
	if !first.notBefore.Equal(base.Add(15 * time.Second)) {
		t.Fatalf("expected first retry at +15s, got %v", first.notBefore)
	}

	// Not due yet: promoting moves nothing.
	clock = base.Add(10 * time.Second)
	q.promoteRetries()
	if len(q.tasks) != 0 {
		t.Fatal("retry promoted before its delay elapsed")
	}

	// Due: promoting re-queues it; the second failure doubles the delay.
	clock = base.Add(16 * time.Second)
	q.promoteRetries()
	if len(q.tasks) != 1 {
		t.Fatalf("expected 1 promoted task, got %d", len(q.tasks))
	}
	q.run(<-q.tasks)

	q.retryMu.Lock()
	second := q.retries[0]
	q.retryMu.Unlock()
	if second.attempt != 2 {
		t.Fatalf("expected attempt 2, got %d", second.attempt)
	}
	if !second.notBefore.Equal(clock.Add(30 * time.Second)) {
		t.Fatalf("expected second retry at +30s, got %v", second.notBefore)
	}
}

func TestRun_PermanentFailureAfterMaxAttempts(t *testing.T) {
	q := NewQueue(Options{MaxAttempts: 2, BaseDelay: time.Second})
	q.Register(TaskDetectDrift, func(ctx context.Context, task Task) error {
		return errors.New("boom")
	})

	task := Task{ID: "t1", Kind: TaskDetectDrift, TenantID: "acme", attempt: 1}
	q.run(task)

	q.retryMu.Lock()
	pending := len(q.retries)
	q.retryMu.Unlock()
	if pending != 0 {
		t.Fatalf("final attempt must not reschedule, got %d pending", pending)
	}
}

func TestQueue_StartStopProcessing(t *testing.T) {
	q := NewQueue(Options{Workers: 2})
	var handled atomic.Int64
	done := make(chan struct{}, 4)
	q.Register(TaskDetectDrift, func(ctx context.Context, task Task) error {
		handled.Add(1)
		done <- struct{}{}
		return nil
	})

	q.Start()
	defer q.Stop()

	for i := 0; i < 4; i++ {
		if err := q.Enqueue(Task{Kind: TaskDetectDrift, TenantID: "acme"}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	for i := 0; i < 4; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for workers")
		}
	}
	if handled.Load() != 4 {
		t.Fatalf("expected 4 handled, got %d", handled.Load())
	}
}

func TestRun_DeadlineAppliedPerKind(t *testing.T) {
	q := NewQueue(Options{Deadlines: map[TaskKind]time.Duration{TaskDetectDrift: 10 * time.Millisecond}})
	q.Register(TaskDetectDrift, func(ctx context.Context, task Task) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("expected a deadline")
		}
		return nil
	})
	q.Register(TaskSendNotifications, func(ctx context.Context, task Task) error {
		if _, ok := ctx.Deadline(); ok {
			return errors.New("unexpected deadline")
		}
		return nil
	})

	q.run(Task{ID: "t1", Kind: TaskDetectDrift, TenantID: "acme"})
	q.run(Task{ID: "t2", Kind: TaskSendNotifications, TenantID: "acme"})

	q.retryMu.Lock()
	pending := len(q.retries)
	q.retryMu.Unlock()
	if pending != 0 {
		t.Fatalf("deadline wiring broken: %d retries pending", pending)
	}
}
