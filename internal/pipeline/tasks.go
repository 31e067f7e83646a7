package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/meshdrift/meshdrift/internal/drift"
	"github.com/meshdrift/meshdrift/internal/graph"
	"github.com/meshdrift/meshdrift/internal/history"
	"github.com/meshdrift/meshdrift/internal/integration"
	"github.com/meshdrift/meshdrift/internal/ml"
	"github.com/meshdrift/meshdrift/internal/model"
	"github.com/meshdrift/meshdrift/internal/store"
	"github.com/meshdrift/meshdrift/internal/tenant"
)

// Tasks implements the three task handlers over the wired services.
type Tasks struct {
	store     *store.Store
	ingestor  integration.Ingestor
	notifiers []integration.Notifier
	publisher integration.Publisher
	scorer    *ml.SmartScorer
	history   *history.Tracker
	queue     *Queue
}

// NewTasks wires the task handlers and registers them on the queue.
func NewTasks(q *Queue, st *store.Store, ingestor integration.Ingestor, notifiers []integration.Notifier, publisher integration.Publisher, scorer *ml.SmartScorer, tracker *history.Tracker) *Tasks {
	t := &Tasks{
		store:     st,
		ingestor:  ingestor,
		notifiers: notifiers,
		publisher: publisher,
		scorer:    scorer,
		history:   tracker,
		queue:     q,
	}
	q.Register(TaskBuildSnapshot, t.HandleBuildSnapshot)
	q.Register(TaskDetectDrift, t.HandleDetectDrift)
	q.Register(TaskSendNotifications, t.HandleSendNotifications)
	return t
}

// HandleBuildSnapshot ingests records, builds the window's snapshot,
// persists it, and chains a drift detection. Each phase checks for
// cancellation before starting; nothing partial is written on abort.
func (t *Tasks) HandleBuildSnapshot(ctx context.Context, task Task) error {
	tctx := tenant.For(task.TenantID)

	records, err := t.ingestor.Ingest(ctx, task.SourceRef)
	if err != nil {
		return fmt.Errorf("build_snapshot ingest: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	snap, err := graph.BuildSnapshot(records, task.WindowStart, task.WindowEnd)
	if err != nil {
		return fmt.Errorf("build_snapshot build: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := t.store.Snapshots.Save(ctx, tctx, snap); err != nil {
		return fmt.Errorf("build_snapshot save: %w", err)
	}
	log.Printf("[pipeline] built snapshot %s tenant=%s nodes=%d edges=%d",
		snap.SnapshotID, task.TenantID, len(snap.Nodes), len(snap.Edges))

	return t.queue.Enqueue(Task{
		Kind:        TaskDetectDrift,
		TenantID:    task.TenantID,
		SnapshotID:  snap.SnapshotID,
		WindowStart: task.WindowStart,
	})
}

// HandleDetectDrift diffs the tenant's latest two snapshots, scores the
// events, persists and publishes the cards, and fans out notification
// tasks for critical/high findings. With fewer than two snapshots the
// task is skipped.
func (t *Tasks) HandleDetectDrift(ctx context.Context, task Task) error {
	tctx := tenant.For(task.TenantID)

	current, baseline, ok, err := t.store.Snapshots.GetLatestTwo(ctx, tctx)
	if err != nil {
		return fmt.Errorf("detect_drift load snapshots: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: fewer than two snapshots for tenant %s", ErrSkipped, task.TenantID)
	}

	events := drift.Detect(&baseline, &current)
	if err := ctx.Err(); err != nil {
		return err
	}

	scored, err := t.scorer.ScoreBatch(ctx, tctx, events, &current)
	if err != nil {
		return fmt.Errorf("detect_drift score: %w", err)
	}

	cards := make([]model.ExplainCard, 0, len(scored))
	for _, s := range scored {
		cards = append(cards, drift.Explain(task.TenantID, current.TimestampStart, s.ScoredEvent))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := t.store.Events.SaveCards(ctx, tctx, current.TimestampStart, cards); err != nil {
		return fmt.Errorf("detect_drift persist cards: %w", err)
	}
	t.history.Record(task.TenantID, cards)
	t.publishCards(task.TenantID, cards)

	var enqueueErrs []error
	for _, card := range cards {
		if card.Severity != model.SeverityCritical && card.Severity != model.SeverityHigh {
			continue
		}
		err := t.queue.Enqueue(Task{
			Kind:     TaskSendNotifications,
			TenantID: task.TenantID,
			EventIDs: []string{card.EventID},
		})
		if err != nil {
			enqueueErrs = append(enqueueErrs, err)
		}
	}
	log.Printf("[pipeline] detect_drift tenant=%s events=%d cards=%d", task.TenantID, len(events), len(cards))
	return errors.Join(enqueueErrs...)
}

// HandleSendNotifications delivers stored cards to every configured
// sink. A sink failure fails the task so the queue retries delivery.
func (t *Tasks) HandleSendNotifications(ctx context.Context, task Task) error {
	tctx := tenant.For(task.TenantID)

	var sendErrs []error
	for _, eventID := range task.EventIDs {
		card, err := t.store.Events.Get(ctx, tctx, eventID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				log.Printf("[pipeline] send_notifications: event %s gone, skipping", eventID)
				continue
			}
			return fmt.Errorf("send_notifications load %s: %w", eventID, err)
		}

		for _, sink := range t.notifiers {
			if err := sink.Send(ctx, task.TenantID, card); err != nil {
				log.Printf("[pipeline] sink %s failed for event %s: %v", sink.Name(), eventID, err)
				sendErrs = append(sendErrs, fmt.Errorf("sink %s: %w", sink.Name(), err))
				continue
			}
			log.Printf("[pipeline] sink %s delivered event %s tenant=%s", sink.Name(), eventID, task.TenantID)
		}
	}
	return errors.Join(sendErrs...)
}

// RefreshBaselines folds the tenant's recent snapshot history into the
// stored edge profiles, then evicts profiles for edges that have not
// been observed for a full window. Invoked by cron, never by the
// detect path.
func (t *Tasks) RefreshBaselines(ctx context.Context, tenantID string, windowSize int) error {
	tctx := tenant.For(tenantID)
	snaps, err := t.store.Snapshots.ListRecent(ctx, tctx, windowSize)
	if err != nil {
		return fmt.Errorf("refresh baselines: %w", err)
	}
	// ListRecent is newest-first; the baseliner wants chronological order.
	for i, j := 0, len(snaps)-1; i < j; i, j = i+1, j-1 {
		snaps[i], snaps[j] = snaps[j], snaps[i]
	}
	if err := t.scorer.Baseliner().Refresh(ctx, tctx, snaps); err != nil {
		return err
	}

	// Refresh stamps every surviving profile; anything older than W
	// hourly windows belongs to an edge that vanished from the mesh.
	cutoff := time.Now().UTC().Add(-time.Duration(windowSize) * time.Hour)
	pruned, err := t.store.Baselines.DeleteStale(ctx, tctx, cutoff)
	if err != nil {
		return fmt.Errorf("refresh baselines prune: %w", err)
	}
	if pruned > 0 {
		log.Printf("[pipeline] refresh_baselines tenant=%s: evicted %d stale profiles", tenantID, pruned)
	}
	return nil
}

// Retention removes snapshots and cards older than the cutoff.
func (t *Tasks) Retention(ctx context.Context, tenantID string, cutoff time.Time) error {
	tctx := tenant.For(tenantID)
	snaps, err := t.store.Snapshots.DeleteOlderThan(ctx, tctx, cutoff)
	if err != nil {
		return err
	}
	cards, err := t.store.Events.DeleteOlderThan(ctx, tctx, cutoff)
	if err != nil {
		return err
	}
	if snaps > 0 || cards > 0 {
		log.Printf("[pipeline] retention tenant=%s: dropped %d snapshots, %d cards", tenantID, snaps, cards)
	}
	return nil
}

func (t *Tasks) publishCards(tenantID string, cards []model.ExplainCard) {
	if t.publisher == nil || len(cards) == 0 {
		return
	}
	payload, err := json.Marshal(cards)
	if err != nil {
		log.Printf("[pipeline] marshal cards for publish: %v", err)
		return
	}
	t.publisher.Publish(integration.DriftTopic(tenantID), payload)
}
