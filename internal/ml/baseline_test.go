package ml

import (
	"context"
	"math"
	"testing"

	"github.com/meshdrift/meshdrift/internal/model"
	"github.com/meshdrift/meshdrift/internal/tenant"
)

// fakeProfiles is an in-memory ProfileRepo for baseliner tests.
type fakeProfiles struct {
	profiles map[model.EdgeKey]model.EdgeProfile
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{profiles: make(map[model.EdgeKey]model.EdgeProfile)}
}

func (f *fakeProfiles) Get(_ context.Context, _ tenant.Context, source, destination string) (model.EdgeProfile, bool, error) {
	p, ok := f.profiles[model.EdgeKey{Source: source, Destination: destination}]
	return p, ok, nil
}

func (f *fakeProfiles) Upsert(_ context.Context, _ tenant.Context, p model.EdgeProfile) error {
	f.profiles[model.EdgeKey{Source: p.Source, Destination: p.Destination}] = p
	return nil
}

func almostEqual(t *testing.T, got, want float64, what string) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("%s: got %v, want %v", what, got, want)
	}
}

func sampleEdge(src, dst string, reqs, errs int64, p99 float64) model.Edge {
	return model.Edge{Source: src, Destination: dst, RequestCount: reqs, ErrorCount: errs, P99LatencyMs: p99}
}

func TestBuild_RequiresThreeSamples(t *testing.T) {
	b := NewBaseliner(newFakeProfiles(), 24)
	key := model.EdgeKey{Source: "a", Destination: "b"}

	if _, ok := b.Build("acme", key, []model.Edge{sampleEdge("a", "b", 10, 0, 5), sampleEdge("a", "b", 20, 0, 5)}); ok {
		t.Fatal("two samples must not build a profile")
	}
	if _, ok := b.Build("acme", key, []model.Edge{
		sampleEdge("a", "b", 10, 0, 5),
		sampleEdge("a", "b", 20, 0, 5),
		sampleEdge("a", "b", 30, 0, 5),
	}); !ok {
		t.Fatal("three samples must build a profile")
	}
}

func TestBuild_PopulationStats(t *testing.T) {
	b := NewBaseliner(newFakeProfiles(), 24)
	key := model.EdgeKey{Source: "a", Destination: "b"}

	p, ok := b.Build("acme", key, []model.Edge{
		sampleEdge("a", "b", 10, 1, 40),
		sampleEdge("a", "b", 20, 2, 50),
		sampleEdge("a", "b", 30, 3, 60),
	})
	if !ok {
		t.Fatal("expected a profile")
	}
	almostEqual(t, p.RequestCountMean, 20, "request mean")
	almostEqual(t, p.RequestCountStd, math.Sqrt(200.0/3), "request std")
	almostEqual(t, p.ErrorRateMean, 0.1, "error rate mean")
	almostEqual(t, p.ErrorRateStd, 0, "error rate std")
	almostEqual(t, p.P99LatencyMean, 50, "latency mean")
	if p.SampleCount != 3 {
		t.Fatalf("expected sample count 3, got %d", p.SampleCount)
	}
	if p.TenantID != "acme" {
		t.Fatalf("expected tenant acme, got %s", p.TenantID)
	}
}

func TestUpdate_EMAStep(t *testing.T) {
	b := NewBaseliner(newFakeProfiles(), 9) // alpha = 2/10 = 0.2

	p := model.EdgeProfile{
		TenantID: "acme", Source: "a", Destination: "b",
		RequestCountMean: 10, RequestCountStd: 0,
		SampleCount: 3,
	}
	got := b.Update(p, sampleEdge("a", "b", 20, 0, 0))

	// mean' = 0.8*10 + 0.2*20 = 12; var' = 0.8*0 + 0.2*(20-12)^2 = 12.8
	almostEqual(t, got.RequestCountMean, 12, "request mean")
	almostEqual(t, got.RequestCountStd, math.Sqrt(12.8), "request std")
	if got.SampleCount != 4 {
		t.Fatalf("expected sample count 4, got %d", got.SampleCount)
	}
}

func TestUpdate_SampleCountSaturates(t *testing.T) {
	b := NewBaseliner(newFakeProfiles(), 9)
	p := model.EdgeProfile{SampleCount: 9}
	if got := b.Update(p, sampleEdge("a", "b", 1, 0, 1)); got.SampleCount != 9 {
		t.Fatalf("sample count must saturate at the window size, got %d", got.SampleCount)
	}
}

func TestRefresh_BuildsAndUpdates(t *testing.T) {
	repo := newFakeProfiles()
	b := NewBaseliner(repo, 24)
	tctx := tenant.For("acme")
	ctx := context.Background()

	snap := func(reqs int64) model.Snapshot {
		return model.Snapshot{Edges: []model.Edge{sampleEdge("a", "b", reqs, 0, 10)}}
	}

	// Three snapshots: enough for a bulk build.
	if err := b.Refresh(ctx, tctx, []model.Snapshot{snap(10), snap(20), snap(30)}); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	p, ok, _ := repo.Get(ctx, tctx, "a", "b")
	if !ok {
		t.Fatal("expected a built profile")
	}
	if p.SampleCount != 3 {
		t.Fatalf("expected sample count 3, got %d", p.SampleCount)
	}
	almostEqual(t, p.RequestCountMean, 20, "built mean")

	// Second refresh EMA-updates from the newest sample only.
	if err := b.Refresh(ctx, tctx, []model.Snapshot{snap(10), snap(20), snap(30), snap(45)}); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	p, _, _ = repo.Get(ctx, tctx, "a", "b")
	if p.SampleCount != 4 {
		t.Fatalf("expected sample count 4 after update, got %d", p.SampleCount)
	}
	alpha := 2.0 / 25
	almostEqual(t, p.RequestCountMean, (1-alpha)*20+alpha*45, "updated mean")
}

func TestRefresh_SkipsThinEdges(t *testing.T) {
	repo := newFakeProfiles()
	b := NewBaseliner(repo, 24)
	tctx := tenant.For("acme")
	ctx := context.Background()

	snaps := []model.Snapshot{
		{Edges: []model.Edge{sampleEdge("a", "b", 10, 0, 1)}},
		{Edges: []model.Edge{sampleEdge("a", "b", 12, 0, 1)}},
	}
	if err := b.Refresh(ctx, tctx, snaps); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, ok, _ := repo.Get(ctx, tctx, "a", "b"); ok {
		t.Fatal("edge with two samples must not get a profile")
	}
}

func TestClassify(t *testing.T) {
	bands := Bands{Anomaly: 3.0, Suspicious: 2.0}
	profile := model.EdgeProfile{
		RequestCountMean: 100, RequestCountStd: 0,
		ErrorRateMean: 0.02, ErrorRateStd: 0.01,
		P99LatencyMean: 50, P99LatencyStd: 0,
		SampleCount: 10,
	}

	// Error rate 0.05: z = 3, score = 2*3 = 6 -> anomaly.
	res := Classify(sampleEdge("a", "b", 100, 5, 50), profile, bands)
	if res.Label != LabelAnomaly || res.Modifier != 20 {
		t.Fatalf("expected anomaly +20, got %s %d", res.Label, res.Modifier)
	}
	almostEqual(t, res.Score, 6, "anomaly score")

	// Error rate 0.032: z = 1.2, score = 2.4 -> suspicious.
	res = Classify(model.Edge{Source: "a", Destination: "b", RequestCount: 1000, ErrorCount: 32, P99LatencyMs: 50}, profile, bands)
	if res.Label != LabelSuspicious || res.Modifier != 10 {
		t.Fatalf("expected suspicious +10, got %s %d (score %v)", res.Label, res.Modifier, res.Score)
	}

	// On-baseline edge -> normal, -20.
	res = Classify(sampleEdge("a", "b", 100, 2, 50), profile, bands)
	if res.Label != LabelNormal || res.Modifier != -20 {
		t.Fatalf("expected normal -20, got %s %d (score %v)", res.Label, res.Modifier, res.Score)
	}
}

func TestClassify_InsufficientSamples(t *testing.T) {
	res := Classify(sampleEdge("a", "b", 100, 50, 900), model.EdgeProfile{SampleCount: 2}, Bands{Anomaly: 3, Suspicious: 2})
	if res.Label != LabelInsufficientData || res.Modifier != 0 {
		t.Fatalf("expected insufficient_data with no modifier, got %s %d", res.Label, res.Modifier)
	}
}

func TestClassify_ZeroStdYieldsZeroZ(t *testing.T) {
	profile := model.EdgeProfile{
		RequestCountMean: 100, RequestCountStd: 0,
		ErrorRateMean: 0, ErrorRateStd: 0,
		P99LatencyMean: 50, P99LatencyStd: 0,
		SampleCount: 5,
	}
	// Wildly different edge, but every std is zero: z-scores all zero.
	res := Classify(sampleEdge("a", "b", 100000, 9000, 5000), profile, Bands{Anomaly: 3, Suspicious: 2})
	if res.Label != LabelNormal {
		t.Fatalf("expected normal under zero stds, got %s", res.Label)
	}
	almostEqual(t, res.Score, 0, "score")
}

func TestClassify_DownwardErrorDeviationIgnored(t *testing.T) {
	profile := model.EdgeProfile{
		RequestCountMean: 100, RequestCountStd: 10,
		ErrorRateMean: 0.5, ErrorRateStd: 0.1,
		P99LatencyMean: 500, P99LatencyStd: 100,
		SampleCount: 5,
	}
	// Errors and latency far below baseline only; request count on mean.
	res := Classify(sampleEdge("a", "b", 100, 0, 100), profile, Bands{Anomaly: 3, Suspicious: 2})
	if res.ZErrorRate >= 0 || res.ZLatency >= 0 {
		t.Fatalf("expected negative z-scores, got %v/%v", res.ZErrorRate, res.ZLatency)
	}
	if res.Label != LabelNormal {
		t.Fatalf("improvement must classify normal, got %s (score %v)", res.Label, res.Score)
	}
}

func TestEmaStep(t *testing.T) {
	mean, std := emaStep(0.2, 10, 0, 20)
	almostEqual(t, mean, 12, "mean")
	almostEqual(t, std, math.Sqrt(12.8), "std")
}
