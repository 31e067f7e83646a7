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

// BaselineRepo persists per-edge rolling profiles, one row per
// (tenant, source, destination).
type BaselineRepo struct {
	db *sql.DB
	mu sync.Mutex
}

// NewBaselineRepo creates a BaselineRepo over the given connection.
func NewBaselineRepo(db *sql.DB) *BaselineRepo {
	return &BaselineRepo{db: db}
}

// Get loads the profile for an edge. found is false when none exists.
func (r *BaselineRepo) Get(ctx context.Context, tctx tenant.Context, source, destination string) (model.EdgeProfile, bool, error) {
	tenantID, all, err := tctx.ReadTenant()
	if err != nil {
		return model.EdgeProfile{}, false, err
	}
	if all {
		return model.EdgeProfile{}, false, fmt.Errorf("%w: baseline lookup requires a tenant", ErrInvalidArgument)
	}

	var p model.EdgeProfile
	var updatedNs int64
	err = r.db.QueryRowContext(ctx, `
		SELECT tenant_id, source, destination,
		       request_count_mean, request_count_std,
		       error_rate_mean, error_rate_std,
		       p99_latency_mean, p99_latency_std,
		       sample_count, last_updated_ns
		FROM baselines
		WHERE tenant_id = ? AND source = ? AND destination = ?
	`, tenantID, source, destination).Scan(
		&p.TenantID, &p.Source, &p.Destination,
		&p.RequestCountMean, &p.RequestCountStd,
		&p.ErrorRateMean, &p.ErrorRateStd,
		&p.P99LatencyMean, &p.P99LatencyStd,
		&p.SampleCount, &updatedNs,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.EdgeProfile{}, false, nil
	}
	if err != nil {
		return model.EdgeProfile{}, false, fmt.Errorf("load baseline %s->%s: %w", source, destination, err)
	}
	p.LastUpdated = time.Unix(0, updatedNs).UTC()
	return p, true, nil
}

// Upsert inserts or replaces the profile for its edge.
func (r *BaselineRepo) Upsert(ctx context.Context, tctx tenant.Context, p model.EdgeProfile) error {
	tenantID, err := tctx.WriteTenant()
	if err != nil {
		return err
	}
	if p.Source == "" || p.Destination == "" {
		return fmt.Errorf("%w: baseline edge must name source and destination", ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO baselines (tenant_id, source, destination,
		                       request_count_mean, request_count_std,
		                       error_rate_mean, error_rate_std,
		                       p99_latency_mean, p99_latency_std,
		                       sample_count, last_updated_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, source, destination) DO UPDATE SET
			request_count_mean = excluded.request_count_mean,
			request_count_std  = excluded.request_count_std,
			error_rate_mean    = excluded.error_rate_mean,
			error_rate_std     = excluded.error_rate_std,
			p99_latency_mean   = excluded.p99_latency_mean,
			p99_latency_std    = excluded.p99_latency_std,
			sample_count       = excluded.sample_count,
			last_updated_ns    = excluded.last_updated_ns
	`, tenantID, p.Source, p.Destination,
		p.RequestCountMean, p.RequestCountStd,
		p.ErrorRateMean, p.ErrorRateStd,
		p.P99LatencyMean, p.P99LatencyStd,
		p.SampleCount, p.LastUpdated.UnixNano())
	if err != nil {
		return fmt.Errorf("upsert baseline %s->%s: %w", p.Source, p.Destination, err)
	}
	return nil
}

// DeleteStale drops profiles not updated since cutoff.
func (r *BaselineRepo) DeleteStale(ctx context.Context, tctx tenant.Context, cutoff time.Time) (int64, error) {
	tenantID, err := tctx.WriteTenant()
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.ExecContext(ctx, "DELETE FROM baselines WHERE tenant_id = ? AND last_updated_ns < ?", tenantID, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune baselines: %w", err)
	}
	return res.RowsAffected()
}
