// Package graph builds call-graph snapshots from raw request records.
package graph

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/meshdrift/meshdrift/internal/model"
)

// BuildSnapshot folds records whose timestamps fall inside the half-open
// window [start, end) into an immutable snapshot. Records outside the
// window are dropped. Empty input yields an empty snapshot covering the
// window, not an error.
func BuildSnapshot(records []model.Record, start, end time.Time) (model.Snapshot, error) {
	if end.Before(start) {
		return model.Snapshot{}, fmt.Errorf("invalid window: end %s before start %s", end, start)
	}

	groups := make(map[model.EdgeKey][]model.Record)
	for _, rec := range records {
		if rec.Timestamp.Before(start) || !rec.Timestamp.Before(end) {
			continue
		}
		if rec.Source == "" || rec.Destination == "" {
			continue
		}
		key := model.EdgeKey{Source: rec.Source, Destination: rec.Destination}
		groups[key] = append(groups[key], rec)
	}

	edges := make([]model.Edge, 0, len(groups))
	nodeNames := make(map[string]struct{}, len(groups)*2)
	for key, recs := range groups {
		nodeNames[key.Source] = struct{}{}
		nodeNames[key.Destination] = struct{}{}

		latencies := make([]float64, 0, len(recs))
		var errorCount int64
		var latencySum float64
		for _, r := range recs {
			latencies = append(latencies, r.LatencyMs)
			latencySum += r.LatencyMs
			if r.StatusCode >= 500 {
				errorCount++
			}
		}

		edges = append(edges, model.Edge{
			Source:       key.Source,
			Destination:  key.Destination,
			RequestCount: int64(len(recs)),
			ErrorCount:   errorCount,
			AvgLatencyMs: round2(latencySum / float64(len(recs))),
			P99LatencyMs: round2(p99(latencies)),
		})
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].Key().Less(edges[j].Key()) })

	names := make([]string, 0, len(nodeNames))
	for n := range nodeNames {
		names = append(names, n)
	}
	sort.Strings(names)
	nodes := make([]model.Node, 0, len(names))
	for _, n := range names {
		nodes = append(nodes, model.Node{
			Name:      n,
			Namespace: "default",
			NodeType:  model.InferNodeType(n),
		})
	}

	return model.Snapshot{
		SnapshotID:     uuid.NewString(),
		TimestampStart: start,
		TimestampEnd:   end,
		Nodes:          nodes,
		Edges:          edges,
	}, nil
}

// p99 computes the nearest-rank 99th percentile of the values:
// idx = clamp(ceil(0.99*N)-1, 0, N-1) over the sorted slice.
func p99(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	idx := int(math.Ceil(0.99*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
