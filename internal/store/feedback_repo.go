package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/meshdrift/meshdrift/internal/model"
	"github.com/meshdrift/meshdrift/internal/tenant"
)

// FeedbackRepo persists immutable operator verdicts, append-only.
type FeedbackRepo struct {
	db *sql.DB
	mu sync.Mutex
}

// NewFeedbackRepo creates a FeedbackRepo over the given connection.
func NewFeedbackRepo(db *sql.DB) *FeedbackRepo {
	return &FeedbackRepo{db: db}
}

// Insert appends a feedback record.
func (r *FeedbackRepo) Insert(ctx context.Context, tctx tenant.Context, record model.FeedbackRecord) error {
	tenantID, err := tctx.WriteTenant()
	if err != nil {
		return err
	}
	if record.DriftEventID == "" {
		return fmt.Errorf("%w: feedback needs a drift_event_id", ErrInvalidArgument)
	}
	if !record.Verdict.IsValid() {
		return fmt.Errorf("%w: unknown verdict %q", ErrInvalidArgument, record.Verdict)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO feedback (tenant_id, drift_event_id, source, destination,
		                      event_type, verdict, comment, user_id, created_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tenantID, record.DriftEventID, record.Source, record.Destination,
		string(record.EventType), string(record.Verdict), record.Comment, record.UserID,
		record.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert feedback for %s: %w", record.DriftEventID, err)
	}
	return nil
}

// LatestForEdge returns the most recent verdict for an edge and event
// type. found is false when the edge has no feedback history.
func (r *FeedbackRepo) LatestForEdge(ctx context.Context, tctx tenant.Context, source, destination string, eventType model.EventType) (model.FeedbackRecord, bool, error) {
	tenantID, all, err := tctx.ReadTenant()
	if err != nil {
		return model.FeedbackRecord{}, false, err
	}
	if all {
		return model.FeedbackRecord{}, false, fmt.Errorf("%w: feedback lookup requires a tenant", ErrInvalidArgument)
	}

	record, err := scanFeedback(r.db.QueryRowContext(ctx, `
		SELECT tenant_id, drift_event_id, source, destination, event_type, verdict, comment, user_id, created_at_ns
		FROM feedback
		WHERE tenant_id = ? AND source = ? AND destination = ? AND event_type = ?
		ORDER BY created_at_ns DESC, id DESC
		LIMIT 1
	`, tenantID, source, destination, string(eventType)))
	if errors.Is(err, sql.ErrNoRows) {
		return model.FeedbackRecord{}, false, nil
	}
	if err != nil {
		return model.FeedbackRecord{}, false, fmt.Errorf("load feedback %s->%s: %w", source, destination, err)
	}
	return record, true, nil
}

// ListForEvent returns all feedback on one drift event, newest first.
func (r *FeedbackRepo) ListForEvent(ctx context.Context, tctx tenant.Context, driftEventID string) ([]model.FeedbackRecord, error) {
	tenantID, all, err := tctx.ReadTenant()
	if err != nil {
		return nil, err
	}

	query := `
		SELECT tenant_id, drift_event_id, source, destination, event_type, verdict, comment, user_id, created_at_ns
		FROM feedback WHERE drift_event_id = ?`
	args := []any{driftEventID}
	if !all {
		query += " AND tenant_id = ?"
		args = append(args, tenantID)
	}
	query += " ORDER BY created_at_ns DESC, id DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list feedback for %s: %w", driftEventID, err)
	}
	defer rows.Close()

	var result []model.FeedbackRecord
	for rows.Next() {
		record, err := scanFeedback(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, record)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeedback(row rowScanner) (model.FeedbackRecord, error) {
	var record model.FeedbackRecord
	var eventType, verdict string
	var createdNs int64
	if err := row.Scan(&record.TenantID, &record.DriftEventID, &record.Source, &record.Destination,
		&eventType, &verdict, &record.Comment, &record.UserID, &createdNs); err != nil {
		return model.FeedbackRecord{}, err
	}
	record.EventType = model.EventType(eventType)
	record.Verdict = model.Verdict(verdict)
	record.CreatedAt = time.Unix(0, createdNs).UTC()
	return record, nil
}
