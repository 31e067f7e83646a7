package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/meshdrift/meshdrift/internal/model"
	"github.com/meshdrift/meshdrift/internal/tenant"
)

// EventRepo persists rendered explain cards keyed by their deterministic
// event ID, so re-running a detection window overwrites rather than
// duplicates.
type EventRepo struct {
	db *sql.DB
	mu sync.Mutex
}

// NewEventRepo creates an EventRepo over the given connection.
func NewEventRepo(db *sql.DB) *EventRepo {
	return &EventRepo{db: db}
}

// SaveCards upserts a detection run's cards in one transaction.
func (r *EventRepo) SaveCards(ctx context.Context, tctx tenant.Context, windowStart time.Time, cards []model.ExplainCard) error {
	tenantID, err := tctx.WriteTenant()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save cards: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixNano()
	for _, card := range cards {
		payload, err := json.Marshal(card)
		if err != nil {
			return fmt.Errorf("marshal card %s: %w", card.EventID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO drift_events (tenant_id, event_id, window_start_ns, event_type,
			                          source, destination, severity, risk_score, card_json, created_at_ns)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(tenant_id, event_id) DO UPDATE SET
				window_start_ns = excluded.window_start_ns,
				severity        = excluded.severity,
				risk_score      = excluded.risk_score,
				card_json       = excluded.card_json
		`, tenantID, card.EventID, windowStart.UnixNano(), string(card.EventType),
			card.Source, card.Destination, string(card.Severity), card.RiskScore,
			string(payload), now); err != nil {
			return fmt.Errorf("upsert card %s: %w", card.EventID, err)
		}
	}
	return tx.Commit()
}

// Get loads one card by event ID.
func (r *EventRepo) Get(ctx context.Context, tctx tenant.Context, eventID string) (model.ExplainCard, error) {
	tenantID, all, err := tctx.ReadTenant()
	if err != nil {
		return model.ExplainCard{}, err
	}

	query := "SELECT card_json FROM drift_events WHERE event_id = ?"
	args := []any{eventID}
	if !all {
		query += " AND tenant_id = ?"
		args = append(args, tenantID)
	}

	var payload string
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ExplainCard{}, fmt.Errorf("drift event %s: %w", eventID, ErrNotFound)
	}
	if err != nil {
		return model.ExplainCard{}, fmt.Errorf("load drift event %s: %w", eventID, err)
	}

	var card model.ExplainCard
	if err := json.Unmarshal([]byte(payload), &card); err != nil {
		return model.ExplainCard{}, fmt.Errorf("unmarshal drift event %s: %w", eventID, err)
	}
	return card, nil
}

// ListRecent returns the tenant's most recent cards, newest first.
func (r *EventRepo) ListRecent(ctx context.Context, tctx tenant.Context, limit int) ([]model.ExplainCard, error) {
	tenantID, all, err := tctx.ReadTenant()
	if err != nil {
		return nil, err
	}
	if all {
		return nil, fmt.Errorf("%w: recent drift events require a tenant", ErrInvalidArgument)
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT card_json FROM drift_events
		WHERE tenant_id = ?
		ORDER BY created_at_ns DESC, risk_score DESC, event_id
		LIMIT ?
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list drift events: %w", err)
	}
	defer rows.Close()

	var result []model.ExplainCard
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var card model.ExplainCard
		if err := json.Unmarshal([]byte(payload), &card); err != nil {
			return nil, fmt.Errorf("unmarshal drift event: %w", err)
		}
		result = append(result, card)
	}
	return result, rows.Err()
}

// DeleteOlderThan removes cards created before cutoff.
func (r *EventRepo) DeleteOlderThan(ctx context.Context, tctx tenant.Context, cutoff time.Time) (int64, error) {
	tenantID, err := tctx.WriteTenant()
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.ExecContext(ctx, "DELETE FROM drift_events WHERE tenant_id = ? AND created_at_ns < ?",
		tenantID, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune drift events: %w", err)
	}
	return res.RowsAffected()
}
