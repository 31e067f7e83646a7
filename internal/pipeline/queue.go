// Package pipeline orchestrates the drift workflow: an in-process work
// queue with retries and coalescing, the three chained task kinds, and
// the cron schedules that drive them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/meshdrift/meshdrift/internal/scanloop"
)

// TaskKind names one of the pipeline's task types.
type TaskKind string

const (
	TaskBuildSnapshot     TaskKind = "build_snapshot"
	TaskDetectDrift       TaskKind = "detect_drift"
	TaskSendNotifications TaskKind = "send_notifications"
)

// Task is one unit of queued work. Fields beyond Kind and TenantID are
// kind-specific arguments.
type Task struct {
	ID          string
	Kind        TaskKind
	TenantID    string
	SourceRef   string
	SnapshotID  string
	EventIDs    []string
	WindowStart time.Time
	WindowEnd   time.Time

	attempt   int
	notBefore time.Time
}

// Handler executes one task. Returning an error triggers a retry unless
// the error wraps ErrSkipped.
type Handler func(ctx context.Context, task Task) error

// ErrSkipped marks a task outcome that must not retry: the task ran,
// found nothing to do, and will be correct again on the next cron tick.
var ErrSkipped = errors.New("task skipped")

// ErrQueueFull is returned by Enqueue when the queue has no capacity.
var ErrQueueFull = errors.New("task queue full")

// Options tunes the queue.
type Options struct {
	QueueSize      int
	Workers        int
	MaxAttempts    int
	BaseDelay      time.Duration
	Deadlines      map[TaskKind]time.Duration
}

// Queue is an in-process work queue: buffered dispatch, a fixed worker
// pool, exponential-back-off retries, and enqueue-time coalescing of
// snapshot builds per (tenant, window).
type Queue struct {
	opts     Options
	tasks    chan Task
	handlers map[TaskKind]Handler

	// building coalesces snapshot builds on tenant|window_start.
	building *xsync.Map[string, struct{}]

	retryMu sync.Mutex
	retries []Task

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
	now     func() time.Time
}

// NewQueue creates a stopped queue with the given options.
func NewQueue(opts Options) *Queue {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 15 * time.Second
	}
	return &Queue{
		opts:     opts,
		tasks:    make(chan Task, opts.QueueSize),
		handlers: make(map[TaskKind]Handler),
		building: xsync.NewMap[string, struct{}](),
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

// Register binds a handler to a task kind. Must be called before Start.
func (q *Queue) Register(kind TaskKind, h Handler) {
	q.handlers[kind] = h
}

// Enqueue submits a task. Duplicate snapshot builds for the same tenant
// and window coalesce into the already-queued one.
func (q *Queue) Enqueue(task Task) error {
	if task.Kind == "" || task.TenantID == "" {
		return fmt.Errorf("enqueue: task needs kind and tenant")
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}

	if task.Kind == TaskBuildSnapshot {
		key := buildKey(task.TenantID, task.WindowStart)
		if _, loaded := q.building.LoadOrStore(key, struct{}{}); loaded {
			log.Printf("[pipeline] coalesced build_snapshot tenant=%s window=%s", task.TenantID, task.WindowStart.Format(time.RFC3339))
			return nil
		}
	}

	select {
	case q.tasks <- task:
		return nil
	default:
		q.releaseBuildKey(task)
		return fmt.Errorf("enqueue %s for %s: %w", task.Kind, task.TenantID, ErrQueueFull)
	}
}

// Start launches the worker pool and the retry promoter.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true

	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		scanloop.Run(q.stopCh, scanloop.DefaultMinInterval, scanloop.DefaultJitterRange, q.promoteRetries)
	}()
	log.Printf("[pipeline] queue started: %d workers, capacity %d", q.opts.Workers, q.opts.QueueSize)
}

// Stop shuts the queue down and waits for in-flight tasks to finish.
// Queued but unstarted tasks are dropped; cron re-creates them.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.started = false
	q.mu.Unlock()

	close(q.stopCh)
	q.wg.Wait()
	log.Printf("[pipeline] queue stopped")
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	for {
		select {
		case <-q.stopCh:
			return
		case task := <-q.tasks:
			q.run(task)
		}
	}
}

func (q *Queue) run(task Task) {
	handler, ok := q.handlers[task.Kind]
	if !ok {
		q.releaseBuildKey(task)
		log.Printf("[pipeline] no handler for task kind %q, dropping %s", task.Kind, task.ID)
		return
	}

	ctx := context.Background()
	if deadline, ok := q.opts.Deadlines[task.Kind]; ok && deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	start := q.now()
	err := handler(ctx, task)
	elapsed := q.now().Sub(start)

	switch {
	case err == nil:
		q.releaseBuildKey(task)
		log.Printf("[pipeline] %s ok tenant=%s attempt=%d took=%s", task.Kind, task.TenantID, task.attempt+1, elapsed)
	case errors.Is(err, ErrSkipped):
		q.releaseBuildKey(task)
		log.Printf("[pipeline] %s skipped tenant=%s: %v", task.Kind, task.TenantID, err)
	default:
		q.retry(task, err)
	}
}

func (q *Queue) retry(task Task, cause error) {
	task.attempt++
	if task.attempt >= q.opts.MaxAttempts {
		q.releaseBuildKey(task)
		log.Printf("[pipeline] %s failed permanently tenant=%s id=%s after %d attempts: %v",
			task.Kind, task.TenantID, task.ID, task.attempt, cause)
		return
	}

	delay := q.opts.BaseDelay << (task.attempt - 1)
	task.notBefore = q.now().Add(delay)
	log.Printf("[pipeline] %s failed tenant=%s attempt=%d, retry in %s: %v",
		task.Kind, task.TenantID, task.attempt, delay, cause)

	q.retryMu.Lock()
	q.retries = append(q.retries, task)
	q.retryMu.Unlock()
}

// promoteRetries moves due retries back onto the dispatch channel.
func (q *Queue) promoteRetries() {
	now := q.now()

	q.retryMu.Lock()
	var due []Task
	remaining := q.retries[:0]
	for _, t := range q.retries {
		if t.notBefore.After(now) {
			remaining = append(remaining, t)
			continue
		}
		due = append(due, t)
	}
	q.retries = remaining
	q.retryMu.Unlock()

	for _, t := range due {
		select {
		case q.tasks <- t:
		default:
			// No room; push back and try next tick.
			q.retryMu.Lock()
			q.retries = append(q.retries, t)
			q.retryMu.Unlock()
		}
	}
}

func (q *Queue) releaseBuildKey(task Task) {
	if task.Kind == TaskBuildSnapshot {
		q.building.Delete(buildKey(task.TenantID, task.WindowStart))
	}
}

func buildKey(tenantID string, windowStart time.Time) string {
	return fmt.Sprintf("%s|%d", tenantID, windowStart.Unix())
}
