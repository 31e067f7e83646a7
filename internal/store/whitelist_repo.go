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

// WhitelistRepo persists allow-listed edges, one row per
// (tenant, source, destination).
type WhitelistRepo struct {
	db *sql.DB
	mu sync.Mutex
}

// NewWhitelistRepo creates a WhitelistRepo over the given connection.
func NewWhitelistRepo(db *sql.DB) *WhitelistRepo {
	return &WhitelistRepo{db: db}
}

// Upsert inserts or refreshes an allow-list entry. Re-adding an edge
// updates its reason and expiry but keeps the original created_at.
func (r *WhitelistRepo) Upsert(ctx context.Context, tctx tenant.Context, entry model.WhitelistEntry) error {
	tenantID, err := tctx.WriteTenant()
	if err != nil {
		return err
	}
	if entry.Source == "" || entry.Destination == "" {
		return fmt.Errorf("%w: whitelist entry must name source and destination", ErrInvalidArgument)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	var expiresNs int64
	if !entry.ExpiresAt.IsZero() {
		expiresNs = entry.ExpiresAt.UnixNano()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO whitelist (tenant_id, source, destination, reason, expires_at_ns, created_at_ns)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, source, destination) DO UPDATE SET
			reason        = excluded.reason,
			expires_at_ns = excluded.expires_at_ns
	`, tenantID, entry.Source, entry.Destination, entry.Reason, expiresNs, entry.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("upsert whitelist %s->%s: %w", entry.Source, entry.Destination, err)
	}
	return nil
}

// Remove drops an allow-list entry.
func (r *WhitelistRepo) Remove(ctx context.Context, tctx tenant.Context, source, destination string) error {
	tenantID, err := tctx.WriteTenant()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.ExecContext(ctx, "DELETE FROM whitelist WHERE tenant_id = ? AND source = ? AND destination = ?",
		tenantID, source, destination)
	if err != nil {
		return fmt.Errorf("remove whitelist %s->%s: %w", source, destination, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("whitelist %s->%s: %w", source, destination, ErrNotFound)
	}
	return nil
}

// IsWhitelisted reports whether an active entry covers the edge at the
// given time.
func (r *WhitelistRepo) IsWhitelisted(ctx context.Context, tctx tenant.Context, source, destination string, at time.Time) (bool, error) {
	tenantID, all, err := tctx.ReadTenant()
	if err != nil {
		return false, err
	}
	if all {
		return false, fmt.Errorf("%w: whitelist check requires a tenant", ErrInvalidArgument)
	}

	var expiresNs int64
	err = r.db.QueryRowContext(ctx, `
		SELECT expires_at_ns FROM whitelist
		WHERE tenant_id = ? AND source = ? AND destination = ?
	`, tenantID, source, destination).Scan(&expiresNs)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check whitelist %s->%s: %w", source, destination, err)
	}
	return expiresNs == 0 || expiresNs > at.UnixNano(), nil
}

// List returns the tenant's entries, newest first.
func (r *WhitelistRepo) List(ctx context.Context, tctx tenant.Context) ([]model.WhitelistEntry, error) {
	tenantID, all, err := tctx.ReadTenant()
	if err != nil {
		return nil, err
	}

	query := `SELECT tenant_id, source, destination, reason, expires_at_ns, created_at_ns FROM whitelist`
	args := []any{}
	if !all {
		query += " WHERE tenant_id = ?"
		args = append(args, tenantID)
	}
	query += " ORDER BY created_at_ns DESC, source, destination"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list whitelist: %w", err)
	}
	defer rows.Close()

	var result []model.WhitelistEntry
	for rows.Next() {
		var entry model.WhitelistEntry
		var expiresNs, createdNs int64
		if err := rows.Scan(&entry.TenantID, &entry.Source, &entry.Destination, &entry.Reason, &expiresNs, &createdNs); err != nil {
			return nil, err
		}
		if expiresNs != 0 {
			entry.ExpiresAt = time.Unix(0, expiresNs).UTC()
		}
		entry.CreatedAt = time.Unix(0, createdNs).UTC()
		result = append(result, entry)
	}
	return result, rows.Err()
}
