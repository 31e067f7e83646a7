// Package ml holds the statistical half of scoring: per-edge rolling
// baselines, z-score anomaly classification, batch pattern recognition,
// feedback/whitelist memory, and the smart scorer that combines them.
package ml

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/meshdrift/meshdrift/internal/model"
	"github.com/meshdrift/meshdrift/internal/tenant"
)

// minProfileSamples is the minimum number of observations before a
// profile is considered usable for classification.
const minProfileSamples = 3

// Anomaly weights. Error-rate and latency deviations only count upward;
// request volume counts in both directions.
const (
	weightErrorRate = 2.0
	weightLatency   = 1.5
	weightRequests  = 1.0
)

// AnomalyLabel classifies how far an edge sits from its baseline.
type AnomalyLabel string

const (
	LabelInsufficientData AnomalyLabel = "insufficient_data"
	LabelNormal           AnomalyLabel = "normal"
	LabelSuspicious       AnomalyLabel = "suspicious"
	LabelAnomaly          AnomalyLabel = "anomaly"
)

// AnomalyResult is the outcome of classifying one edge against its profile.
type AnomalyResult struct {
	Label        AnomalyLabel `json:"label"`
	Score        float64      `json:"score"`
	ZErrorRate   float64      `json:"z_error_rate"`
	ZLatency     float64      `json:"z_latency"`
	ZRequests    float64      `json:"z_requests"`
	Modifier     int          `json:"modifier"`
}

// Bands holds the classifier thresholds.
type Bands struct {
	Anomaly    float64
	Suspicious float64
}

// ProfileRepo is the persistence surface the baseliner needs.
type ProfileRepo interface {
	Get(ctx context.Context, tctx tenant.Context, source, destination string) (model.EdgeProfile, bool, error)
	Upsert(ctx context.Context, tctx tenant.Context, profile model.EdgeProfile) error
}

// Baseliner maintains per-edge rolling statistics over snapshot history.
type Baseliner struct {
	profiles   ProfileRepo
	windowSize int
	now        func() time.Time
}

// NewBaseliner builds a baseliner with the given EMA window size.
func NewBaseliner(profiles ProfileRepo, windowSize int) *Baseliner {
	if windowSize <= 0 {
		windowSize = 24
	}
	return &Baseliner{profiles: profiles, windowSize: windowSize, now: time.Now}
}

// Refresh folds snapshot history into stored profiles. Snapshots must be
// ordered oldest to newest. Edges without a stored profile get a bulk
// build when at least 3 samples exist; edges with one get an EMA update
// from the newest observation.
func (b *Baseliner) Refresh(ctx context.Context, tctx tenant.Context, snapshots []model.Snapshot) error {
	tenantID, err := tctx.WriteTenant()
	if err != nil {
		return err
	}
	if len(snapshots) > b.windowSize {
		snapshots = snapshots[len(snapshots)-b.windowSize:]
	}

	samples := make(map[model.EdgeKey][]model.Edge)
	for _, snap := range snapshots {
		for _, e := range snap.Edges {
			samples[e.Key()] = append(samples[e.Key()], e)
		}
	}
	keys := make([]model.EdgeKey, 0, len(samples))
	for k := range samples {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	for _, key := range keys {
		existing, found, err := b.profiles.Get(ctx, tctx, key.Source, key.Destination)
		if err != nil {
			return fmt.Errorf("load profile %s->%s: %w", key.Source, key.Destination, err)
		}

		var profile model.EdgeProfile
		if found && existing.SampleCount > 0 {
			newest := samples[key][len(samples[key])-1]
			profile = b.Update(existing, newest)
		} else {
			built, ok := b.Build(tenantID, key, samples[key])
			if !ok {
				continue
			}
			profile = built
		}
		if err := b.profiles.Upsert(ctx, tctx, profile); err != nil {
			return fmt.Errorf("store profile %s->%s: %w", key.Source, key.Destination, err)
		}
	}
	return nil
}

// Build computes a profile from raw samples. Returns false when fewer
// than 3 samples are available.
func (b *Baseliner) Build(tenantID string, key model.EdgeKey, edges []model.Edge) (model.EdgeProfile, bool) {
	if len(edges) < minProfileSamples {
		return model.EdgeProfile{}, false
	}
	if len(edges) > b.windowSize {
		edges = edges[len(edges)-b.windowSize:]
	}

	reqs := make([]float64, len(edges))
	errRates := make([]float64, len(edges))
	latencies := make([]float64, len(edges))
	for i, e := range edges {
		reqs[i] = float64(e.RequestCount)
		errRates[i] = e.ErrorRate()
		latencies[i] = e.P99LatencyMs
	}

	reqMean, reqStd := meanStd(reqs)
	errMean, errStd := meanStd(errRates)
	latMean, latStd := meanStd(latencies)

	return model.EdgeProfile{
		TenantID:         tenantID,
		Source:           key.Source,
		Destination:      key.Destination,
		RequestCountMean: reqMean,
		RequestCountStd:  reqStd,
		ErrorRateMean:    errMean,
		ErrorRateStd:     errStd,
		P99LatencyMean:   latMean,
		P99LatencyStd:    latStd,
		SampleCount:      len(edges),
		LastUpdated:      b.now().UTC(),
	}, true
}

// Update applies one observation to a profile via exponential moving
// averages with alpha = 2/(W+1). SampleCount saturates at the window size.
func (b *Baseliner) Update(p model.EdgeProfile, edge model.Edge) model.EdgeProfile {
	alpha := 2.0 / (float64(b.windowSize) + 1)

	p.RequestCountMean, p.RequestCountStd = emaStep(alpha, p.RequestCountMean, p.RequestCountStd, float64(edge.RequestCount))
	p.ErrorRateMean, p.ErrorRateStd = emaStep(alpha, p.ErrorRateMean, p.ErrorRateStd, edge.ErrorRate())
	p.P99LatencyMean, p.P99LatencyStd = emaStep(alpha, p.P99LatencyMean, p.P99LatencyStd, edge.P99LatencyMs)

	if p.SampleCount < b.windowSize {
		p.SampleCount++
	}
	p.LastUpdated = b.now().UTC()
	return p
}

// Classify scores the current edge against its profile and maps the
// combined deviation into a label and a score modifier.
func Classify(edge model.Edge, p model.EdgeProfile, bands Bands) AnomalyResult {
	if p.SampleCount < minProfileSamples {
		return AnomalyResult{Label: LabelInsufficientData}
	}

	zErr := zScore(edge.ErrorRate(), p.ErrorRateMean, p.ErrorRateStd)
	zLat := zScore(edge.P99LatencyMs, p.P99LatencyMean, p.P99LatencyStd)
	zReq := zScore(float64(edge.RequestCount), p.RequestCountMean, p.RequestCountStd)

	score := weightErrorRate*math.Max(0, zErr) +
		weightLatency*math.Max(0, zLat) +
		weightRequests*math.Abs(zReq)

	result := AnomalyResult{
		Score:      score,
		ZErrorRate: zErr,
		ZLatency:   zLat,
		ZRequests:  zReq,
	}
	switch {
	case score >= bands.Anomaly:
		result.Label, result.Modifier = LabelAnomaly, 20
	case score >= bands.Suspicious:
		result.Label, result.Modifier = LabelSuspicious, 10
	default:
		result.Label, result.Modifier = LabelNormal, -20
	}
	return result
}

func zScore(value, mean, std float64) float64 {
	if std <= 0 {
		return 0
	}
	return (value - mean) / std
}

func emaStep(alpha, mean, std, x float64) (newMean, newStd float64) {
	variance := std * std
	newMean = (1-alpha)*mean + alpha*x
	newVariance := (1-alpha)*variance + alpha*(x-newMean)*(x-newMean)
	return newMean, math.Sqrt(newVariance)
}

func meanStd(values []float64) (mean, std float64) {
	n := float64(len(values))
	if n == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= n

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= n
	return mean, math.Sqrt(variance)
}
