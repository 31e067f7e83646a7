package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedules holds the three cron expressions driving the pipeline.
type Schedules struct {
	Snapshot  string // per-tenant snapshot build, default hourly
	Retention string // retention sweep, default 03:00 UTC
	Baseline  string // baseline refresh, default every 30 min
}

// Scheduler fires the periodic pipeline work: snapshot builds per
// tenant, the retention sweep, and baseline refreshes. All schedules
// run in UTC.
type Scheduler struct {
	cron          *cron.Cron
	queue         *Queue
	tasks         *Tasks
	tenants       []string
	sourceRef     string
	retentionDays int
	windowSize    int
	now           func() time.Time
}

// NewScheduler builds a stopped scheduler.
func NewScheduler(q *Queue, tasks *Tasks, tenants []string, sourceRef string, retentionDays, windowSize int) *Scheduler {
	return &Scheduler{
		cron:          cron.New(cron.WithLocation(time.UTC)),
		queue:         q,
		tasks:         tasks,
		tenants:       tenants,
		sourceRef:     sourceRef,
		retentionDays: retentionDays,
		windowSize:    windowSize,
		now:           time.Now,
	}
}

// Start registers the schedules and starts the cron runner.
func (s *Scheduler) Start(schedules Schedules) error {
	if _, err := s.cron.AddFunc(schedules.Snapshot, s.buildAll); err != nil {
		return fmt.Errorf("register snapshot schedule %q: %w", schedules.Snapshot, err)
	}
	if _, err := s.cron.AddFunc(schedules.Retention, s.retentionAll); err != nil {
		return fmt.Errorf("register retention schedule %q: %w", schedules.Retention, err)
	}
	if _, err := s.cron.AddFunc(schedules.Baseline, s.refreshAll); err != nil {
		return fmt.Errorf("register baseline schedule %q: %w", schedules.Baseline, err)
	}
	s.cron.Start()
	log.Printf("[pipeline] scheduler started: snapshot=%q retention=%q baseline=%q",
		schedules.Snapshot, schedules.Retention, schedules.Baseline)
	return nil
}

// Stop halts the cron runner and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Printf("[pipeline] scheduler stopped")
}

// BuildNow enqueues a snapshot build for one tenant covering the last
// full hour ending at the current tick.
func (s *Scheduler) BuildNow(tenantID string) error {
	end := s.now().UTC().Truncate(time.Hour)
	return s.queue.Enqueue(Task{
		Kind:        TaskBuildSnapshot,
		TenantID:    tenantID,
		SourceRef:   s.sourceRef,
		WindowStart: end.Add(-time.Hour),
		WindowEnd:   end,
	})
}

func (s *Scheduler) buildAll() {
	for _, tenantID := range s.tenants {
		if err := s.BuildNow(tenantID); err != nil {
			log.Printf("[pipeline] enqueue snapshot build tenant=%s: %v", tenantID, err)
		}
	}
}

func (s *Scheduler) retentionAll() {
	cutoff := s.now().UTC().AddDate(0, 0, -s.retentionDays)
	for _, tenantID := range s.tenants {
		if err := s.tasks.Retention(context.Background(), tenantID, cutoff); err != nil {
			log.Printf("[pipeline] retention tenant=%s: %v", tenantID, err)
		}
	}
}

func (s *Scheduler) refreshAll() {
	for _, tenantID := range s.tenants {
		if err := s.tasks.RefreshBaselines(context.Background(), tenantID, s.windowSize); err != nil {
			log.Printf("[pipeline] baseline refresh tenant=%s: %v", tenantID, err)
		}
	}
}
