package graph

import (
	"testing"
	"time"

	"github.com/meshdrift/meshdrift/internal/model"
)

var (
	winStart = time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	winEnd   = time.Date(2026, 8, 24, 11, 0, 0, 0, time.UTC)
)

func rec(at time.Time, src, dst string, status int, latency float64) model.Record {
	return model.Record{Timestamp: at, Source: src, Destination: dst, StatusCode: status, LatencyMs: latency}
}

func TestBuildSnapshot_AggregatesPerEdge(t *testing.T) {
	records := []model.Record{
		rec(winStart.Add(5*time.Minute), "api-gateway", "order-svc", 200, 10),
		rec(winStart.Add(10*time.Minute), "api-gateway", "order-svc", 200, 30),
		rec(winStart.Add(15*time.Minute), "api-gateway", "order-svc", 503, 20),
		rec(winStart.Add(20*time.Minute), "order-svc", "orders-db", 200, 5),
	}

	snap, err := BuildSnapshot(records, winStart, winEnd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.SnapshotID == "" {
		t.Fatal("expected a generated snapshot id")
	}
	if len(snap.Edges) != 2 {
		t.Fatalf("expected 2 edges, got %d", len(snap.Edges))
	}

	e := snap.Edges[0]
	if e.Source != "api-gateway" || e.Destination != "order-svc" {
		t.Fatalf("unexpected first edge %s->%s", e.Source, e.Destination)
	}
	if e.RequestCount != 3 || e.ErrorCount != 1 {
		t.Fatalf("expected 3 requests 1 error, got %d/%d", e.RequestCount, e.ErrorCount)
	}
	if e.AvgLatencyMs != 20 {
		t.Fatalf("expected avg 20, got %v", e.AvgLatencyMs)
	}
	if e.P99LatencyMs != 30 {
		t.Fatalf("expected p99 30, got %v", e.P99LatencyMs)
	}
}

func TestBuildSnapshot_OnlyServerErrorsCount(t *testing.T) {
	records := []model.Record{
		rec(winStart, "a", "b", 200, 1),
		rec(winStart, "a", "b", 404, 1),
		rec(winStart, "a", "b", 429, 1),
		rec(winStart, "a", "b", 500, 1),
		rec(winStart, "a", "b", 503, 1),
	}

	snap, err := BuildSnapshot(records, winStart, winEnd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Edges[0].ErrorCount != 2 {
		t.Fatalf("expected 2 errors (5xx only), got %d", snap.Edges[0].ErrorCount)
	}
}

func TestBuildSnapshot_HalfOpenWindow(t *testing.T) {
	records := []model.Record{
		rec(winStart.Add(-time.Second), "a", "b", 200, 1), // before start: dropped
		rec(winStart, "a", "b", 200, 1),                   // at start: kept
		rec(winEnd.Add(-time.Second), "a", "b", 200, 1),   // inside: kept
		rec(winEnd, "a", "b", 200, 1),                     // at end: dropped
	}

	snap, err := BuildSnapshot(records, winStart, winEnd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Edges[0].RequestCount != 2 {
		t.Fatalf("expected 2 requests in [start,end), got %d", snap.Edges[0].RequestCount)
	}
}

func TestBuildSnapshot_EmptyInput(t *testing.T) {
	snap, err := BuildSnapshot(nil, winStart, winEnd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Nodes) != 0 || len(snap.Edges) != 0 {
		t.Fatalf("expected empty snapshot, got %d nodes %d edges", len(snap.Nodes), len(snap.Edges))
	}
	if !snap.TimestampStart.Equal(winStart) || !snap.TimestampEnd.Equal(winEnd) {
		t.Fatal("empty snapshot must still cover the window")
	}
}

func TestBuildSnapshot_RejectsInvertedWindow(t *testing.T) {
	if _, err := BuildSnapshot(nil, winEnd, winStart); err == nil {
		t.Fatal("expected error for end before start")
	}
}

func TestBuildSnapshot_NodesSortedAndTyped(t *testing.T) {
	records := []model.Record{
		rec(winStart, "order-svc", "orders-db", 200, 1),
		rec(winStart, "api-gateway", "order-svc", 200, 1),
	}

	snap, err := BuildSnapshot(records, winStart, winEnd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantNames := []string{"api-gateway", "order-svc", "orders-db"}
	wantTypes := []model.NodeType{model.NodeTypeGateway, model.NodeTypeService, model.NodeTypeDatabase}
	if len(snap.Nodes) != len(wantNames) {
		t.Fatalf("expected %d nodes, got %d", len(wantNames), len(snap.Nodes))
	}
	for i, n := range snap.Nodes {
		if n.Name != wantNames[i] || n.NodeType != wantTypes[i] {
			t.Fatalf("node %d: got %s/%s, want %s/%s", i, n.Name, n.NodeType, wantNames[i], wantTypes[i])
		}
	}
}

func TestP99_NearestRank(t *testing.T) {
	// 100 values 1..100: ceil(0.99*100)-1 = 98 -> value 99.
	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(i + 1)
	}
	if got := p99(values); got != 99 {
		t.Fatalf("expected 99, got %v", got)
	}

	// Small samples fall back to the max-ish rank.
	if got := p99([]float64{5}); got != 5 {
		t.Fatalf("expected 5, got %v", got)
	}
	if got := p99([]float64{1, 9}); got != 9 {
		t.Fatalf("expected 9, got %v", got)
	}
	if got := p99(nil); got != 0 {
		t.Fatalf("expected 0 for empty, got %v", got)
	}
}
