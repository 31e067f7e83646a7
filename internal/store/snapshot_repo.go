package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/maypok86/otter"

	"github.com/meshdrift/meshdrift/internal/model"
	"github.com/meshdrift/meshdrift/internal/tenant"
)

const snapshotCacheSize = 256

// SnapshotSummary is a snapshot header without its node and edge payload,
// used by list endpoints.
type SnapshotSummary struct {
	SnapshotID     string    `json:"snapshot_id"`
	TimestampStart time.Time `json:"timestamp_start"`
	TimestampEnd   time.Time `json:"timestamp_end"`
	NodeCount      int       `json:"node_count"`
	EdgeCount      int       `json:"edge_count"`
}

// SnapshotRepo persists call-graph snapshots. A snapshot writes
// atomically: header, nodes, and edges commit together or not at all.
// Writes are serialized by an internal mutex; reads go through a bounded
// otter cache keyed by (tenant, snapshot_id).
type SnapshotRepo struct {
	db    *sql.DB
	mu    sync.Mutex
	cache otter.Cache[string, model.Snapshot]
}

// NewSnapshotRepo creates a SnapshotRepo over the given connection.
func NewSnapshotRepo(db *sql.DB) *SnapshotRepo {
	cache, err := otter.MustBuilder[string, model.Snapshot](snapshotCacheSize).
		Cost(func(_ string, _ model.Snapshot) uint32 { return 1 }).
		Build()
	if err != nil {
		panic("store: failed to create snapshot cache: " + err.Error())
	}
	return &SnapshotRepo{db: db, cache: cache}
}

func snapshotCacheKey(tenantID, snapshotID string) string {
	return tenantID + "|" + snapshotID
}

// Save upserts a snapshot with all its nodes and edges in one transaction.
// Saving the same snapshot twice leaves the same observable state.
func (r *SnapshotRepo) Save(ctx context.Context, tctx tenant.Context, snap model.Snapshot) error {
	tenantID, err := tctx.WriteTenant()
	if err != nil {
		return err
	}
	if snap.SnapshotID == "" {
		return fmt.Errorf("%w: snapshot_id must not be empty", ErrInvalidArgument)
	}
	if snap.TimestampEnd.Before(snap.TimestampStart) {
		return fmt.Errorf("%w: snapshot window end before start", ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save snapshot: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (tenant_id, snapshot_id, window_start_ns, window_end_ns, created_at_ns)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, snapshot_id) DO UPDATE SET
			window_start_ns = excluded.window_start_ns,
			window_end_ns   = excluded.window_end_ns
	`, tenantID, snap.SnapshotID, snap.TimestampStart.UnixNano(), snap.TimestampEnd.UnixNano(), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", snap.SnapshotID, err)
	}

	// Replace payload wholesale; partial merges would break idempotence.
	if _, err := tx.ExecContext(ctx, "DELETE FROM snapshot_nodes WHERE tenant_id = ? AND snapshot_id = ?", tenantID, snap.SnapshotID); err != nil {
		return fmt.Errorf("clear nodes for %s: %w", snap.SnapshotID, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM snapshot_edges WHERE tenant_id = ? AND snapshot_id = ?", tenantID, snap.SnapshotID); err != nil {
		return fmt.Errorf("clear edges for %s: %w", snap.SnapshotID, err)
	}

	for _, n := range snap.Nodes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO snapshot_nodes (tenant_id, snapshot_id, name, namespace, node_type)
			VALUES (?, ?, ?, ?, ?)
		`, tenantID, snap.SnapshotID, n.Name, n.Namespace, string(n.NodeType)); err != nil {
			return fmt.Errorf("insert node %s: %w", n.Name, err)
		}
	}
	for _, e := range snap.Edges {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO snapshot_edges (tenant_id, snapshot_id, source, destination,
			                            request_count, error_count, avg_latency_ms, p99_latency_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, tenantID, snap.SnapshotID, e.Source, e.Destination,
			e.RequestCount, e.ErrorCount, e.AvgLatencyMs, e.P99LatencyMs); err != nil {
			return fmt.Errorf("insert edge %s->%s: %w", e.Source, e.Destination, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot %s: %w", snap.SnapshotID, err)
	}

	r.cache.Set(snapshotCacheKey(tenantID, snap.SnapshotID), snap)
	return nil
}

// Get loads a snapshot by ID. A snapshot owned by another tenant reads
// as ErrNotFound.
func (r *SnapshotRepo) Get(ctx context.Context, tctx tenant.Context, snapshotID string) (model.Snapshot, error) {
	tenantID, all, err := tctx.ReadTenant()
	if err != nil {
		return model.Snapshot{}, err
	}

	if !all {
		if snap, ok := r.cache.Get(snapshotCacheKey(tenantID, snapshotID)); ok {
			return snap, nil
		}
	}

	query := "SELECT tenant_id, snapshot_id, window_start_ns, window_end_ns FROM snapshots WHERE snapshot_id = ?"
	args := []any{snapshotID}
	if !all {
		query += " AND tenant_id = ?"
		args = append(args, tenantID)
	}

	var ownerID string
	var snap model.Snapshot
	var startNs, endNs int64
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&ownerID, &snap.SnapshotID, &startNs, &endNs)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Snapshot{}, fmt.Errorf("snapshot %s: %w", snapshotID, ErrNotFound)
	}
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("load snapshot %s: %w", snapshotID, err)
	}
	snap.TimestampStart = time.Unix(0, startNs).UTC()
	snap.TimestampEnd = time.Unix(0, endNs).UTC()

	if err := r.loadPayload(ctx, ownerID, &snap); err != nil {
		return model.Snapshot{}, err
	}
	if !all {
		r.cache.Set(snapshotCacheKey(tenantID, snapshotID), snap)
	}
	return snap, nil
}

// GetLatest loads the tenant's most recent snapshot by window start.
func (r *SnapshotRepo) GetLatest(ctx context.Context, tctx tenant.Context) (model.Snapshot, error) {
	snaps, err := r.latestN(ctx, tctx, 1)
	if err != nil {
		return model.Snapshot{}, err
	}
	if len(snaps) == 0 {
		return model.Snapshot{}, fmt.Errorf("latest snapshot: %w", ErrNotFound)
	}
	return snaps[0], nil
}

// GetLatestTwo returns the tenant's two most recent snapshots as
// (current, baseline). ok is false when fewer than two exist.
func (r *SnapshotRepo) GetLatestTwo(ctx context.Context, tctx tenant.Context) (current, baseline model.Snapshot, ok bool, err error) {
	snaps, err := r.latestN(ctx, tctx, 2)
	if err != nil {
		return model.Snapshot{}, model.Snapshot{}, false, err
	}
	if len(snaps) < 2 {
		return model.Snapshot{}, model.Snapshot{}, false, nil
	}
	return snaps[0], snaps[1], true, nil
}

func (r *SnapshotRepo) latestN(ctx context.Context, tctx tenant.Context, n int) ([]model.Snapshot, error) {
	tenantID, all, err := tctx.ReadTenant()
	if err != nil {
		return nil, err
	}
	if all {
		return nil, fmt.Errorf("%w: latest snapshots require a tenant", ErrInvalidArgument)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT snapshot_id FROM snapshots
		WHERE tenant_id = ?
		ORDER BY window_start_ns DESC, snapshot_id
		LIMIT ?
	`, tenantID, n)
	if err != nil {
		return nil, fmt.Errorf("list latest snapshots: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	snaps := make([]model.Snapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := r.Get(ctx, tctx, id)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// ListRecent loads up to n full snapshots, newest first.
func (r *SnapshotRepo) ListRecent(ctx context.Context, tctx tenant.Context, n int) ([]model.Snapshot, error) {
	if n <= 0 {
		n = 24
	}
	return r.latestN(ctx, tctx, n)
}

// List returns snapshot summaries newest-first, up to limit.
func (r *SnapshotRepo) List(ctx context.Context, tctx tenant.Context, limit int) ([]SnapshotSummary, error) {
	tenantID, all, err := tctx.ReadTenant()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT s.snapshot_id, s.window_start_ns, s.window_end_ns,
		       (SELECT COUNT(*) FROM snapshot_nodes n WHERE n.tenant_id = s.tenant_id AND n.snapshot_id = s.snapshot_id),
		       (SELECT COUNT(*) FROM snapshot_edges e WHERE e.tenant_id = s.tenant_id AND e.snapshot_id = s.snapshot_id)
		FROM snapshots s`
	args := []any{}
	if !all {
		query += " WHERE s.tenant_id = ?"
		args = append(args, tenantID)
	}
	query += " ORDER BY s.window_start_ns DESC, s.snapshot_id LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var result []SnapshotSummary
	for rows.Next() {
		var s SnapshotSummary
		var startNs, endNs int64
		if err := rows.Scan(&s.SnapshotID, &startNs, &endNs, &s.NodeCount, &s.EdgeCount); err != nil {
			return nil, err
		}
		s.TimestampStart = time.Unix(0, startNs).UTC()
		s.TimestampEnd = time.Unix(0, endNs).UTC()
		result = append(result, s)
	}
	return result, rows.Err()
}

// Delete removes a snapshot; nodes and edges cascade.
func (r *SnapshotRepo) Delete(ctx context.Context, tctx tenant.Context, snapshotID string) error {
	tenantID, err := tctx.WriteTenant()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.ExecContext(ctx, "DELETE FROM snapshots WHERE tenant_id = ? AND snapshot_id = ?", tenantID, snapshotID)
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", snapshotID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("snapshot %s: %w", snapshotID, ErrNotFound)
	}
	r.cache.Delete(snapshotCacheKey(tenantID, snapshotID))
	return nil
}

// DeleteOlderThan removes snapshots whose window ends before cutoff and
// returns how many were dropped. Used by the retention sweep.
func (r *SnapshotRepo) DeleteOlderThan(ctx context.Context, tctx tenant.Context, cutoff time.Time) (int64, error) {
	tenantID, err := tctx.WriteTenant()
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.ExecContext(ctx, "DELETE FROM snapshots WHERE tenant_id = ? AND window_end_ns < ?", tenantID, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("retention sweep: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected > 0 {
		r.cache.Clear()
	}
	return affected, nil
}

func (r *SnapshotRepo) loadPayload(ctx context.Context, tenantID string, snap *model.Snapshot) error {
	nodeRows, err := r.db.QueryContext(ctx, `
		SELECT name, namespace, node_type FROM snapshot_nodes
		WHERE tenant_id = ? AND snapshot_id = ? ORDER BY name
	`, tenantID, snap.SnapshotID)
	if err != nil {
		return fmt.Errorf("load nodes for %s: %w", snap.SnapshotID, err)
	}
	defer nodeRows.Close()
	for nodeRows.Next() {
		var n model.Node
		var nodeType string
		if err := nodeRows.Scan(&n.Name, &n.Namespace, &nodeType); err != nil {
			return err
		}
		n.NodeType = model.NodeType(nodeType)
		snap.Nodes = append(snap.Nodes, n)
	}
	if err := nodeRows.Err(); err != nil {
		return err
	}

	edgeRows, err := r.db.QueryContext(ctx, `
		SELECT source, destination, request_count, error_count, avg_latency_ms, p99_latency_ms
		FROM snapshot_edges
		WHERE tenant_id = ? AND snapshot_id = ? ORDER BY source, destination
	`, tenantID, snap.SnapshotID)
	if err != nil {
		return fmt.Errorf("load edges for %s: %w", snap.SnapshotID, err)
	}
	defer edgeRows.Close()
	for edgeRows.Next() {
		var e model.Edge
		if err := edgeRows.Scan(&e.Source, &e.Destination, &e.RequestCount, &e.ErrorCount, &e.AvgLatencyMs, &e.P99LatencyMs); err != nil {
			return err
		}
		snap.Edges = append(snap.Edges, e)
	}
	return edgeRows.Err()
}
