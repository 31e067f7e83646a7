package drift

import (
	"testing"

	"github.com/meshdrift/meshdrift/internal/config"
	"github.com/meshdrift/meshdrift/internal/model"
)

func newTestScorer() *Scorer {
	return NewScorer(config.DefaultRules(), config.DefaultScoring())
}

func TestScorer_BaseScores(t *testing.T) {
	s := newTestScorer()
	cases := map[model.EventType]int{
		model.EventNewEdge:             40,
		model.EventRemovedEdge:         20,
		model.EventErrorSpike:          35,
		model.EventLatencySpike:        25,
		model.EventTrafficSpike:        30,
		model.EventBlastRadiusIncrease: 35,
		model.EventType("unknown"):     10,
	}
	for typ, want := range cases {
		if got := s.BaseScore(typ); got != want {
			t.Fatalf("base score for %s: got %d, want %d", typ, got, want)
		}
	}
}

func TestScorer_ErrorSpikeWithHighRate(t *testing.T) {
	s := newTestScorer()
	ev := model.DriftEvent{
		EventType: model.EventErrorSpike,
		Source:    "order-svc", Destination: "inventory-svc",
		Details: model.EventDetails{BaselineValue: 0.02, CurrentValue: 0.12, ChangeFactor: 6.0},
	}

	scored := s.Score(ev)
	if scored.BaseScore != 35 {
		t.Fatalf("expected base 35, got %d", scored.BaseScore)
	}
	if scored.RiskScore != 55 {
		t.Fatalf("expected risk 55 (35 base + 20 high_error_rate), got %d", scored.RiskScore)
	}
	if scored.Event.Severity != model.SeverityMedium {
		t.Fatalf("expected medium, got %s", scored.Event.Severity)
	}
	if ev.Severity != "" {
		t.Fatal("Score must not mutate its input")
	}
}

func TestScorer_CriticalStack(t *testing.T) {
	s := newTestScorer()
	ev := model.DriftEvent{
		EventType: model.EventNewEdge,
		Source:    "marketing-svc", Destination: "payments-db",
	}

	scored := s.Score(ev)
	// 40 base + 30 sensitive + 20 bypass + 30 db access = 120, clamped.
	if scored.RiskScore != 100 {
		t.Fatalf("expected clamped 100, got %d", scored.RiskScore)
	}
	if scored.Event.Severity != model.SeverityCritical {
		t.Fatalf("expected critical, got %s", scored.Event.Severity)
	}
	if len(scored.RuleHits) != 3 {
		t.Fatalf("expected 3 rule hits, got %d", len(scored.RuleHits))
	}
}

func TestScoreAll_OrdersByScoreThenBaseThenKey(t *testing.T) {
	s := newTestScorer()
	events := []model.DriftEvent{
		{EventType: model.EventRemovedEdge, Source: "b", Destination: "x"},
		{EventType: model.EventNewEdge, Source: "api-gateway", Destination: "cart-svc"},
		{EventType: model.EventRemovedEdge, Source: "a", Destination: "x"},
	}

	scored := s.ScoreAll(events)
	if len(scored) != 3 {
		t.Fatalf("expected 3, got %d", len(scored))
	}
	// new_edge from the gateway fires no rules: 40 > 20, first.
	if scored[0].Event.EventType != model.EventNewEdge {
		t.Fatalf("expected new_edge first, got %s", scored[0].Event.EventType)
	}
	// Equal-score removed edges order by source.
	if scored[1].Event.Source != "a" || scored[2].Event.Source != "b" {
		t.Fatalf("tie break by key failed: %s then %s", scored[1].Event.Source, scored[2].Event.Source)
	}
}

func TestClamp(t *testing.T) {
	cases := []struct{ in, want int }{
		{-10, 0}, {0, 0}, {55, 55}, {100, 100}, {140, 100},
	}
	for _, tc := range cases {
		if got := Clamp(tc.in); got != tc.want {
			t.Fatalf("Clamp(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
