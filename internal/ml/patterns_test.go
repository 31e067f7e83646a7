package ml

import (
	"testing"

	"github.com/meshdrift/meshdrift/internal/model"
)

func reqCount(n float64) *float64 { return &n }

func TestCountBatch(t *testing.T) {
	events := []model.DriftEvent{
		{EventType: model.EventNewEdge},
		{EventType: model.EventNewEdge},
		{EventType: model.EventRemovedEdge},
		{EventType: model.EventErrorSpike},
		{EventType: model.EventLatencySpike},
		{EventType: model.EventTrafficSpike},
	}
	c := CountBatch(events)
	if c.NewEdges != 2 || c.RemovedEdges != 1 || c.ErrorSpikes != 1 {
		t.Fatalf("unexpected counts %+v", c)
	}
}

func TestRecognize_Rollback(t *testing.T) {
	focal := model.DriftEvent{EventType: model.EventRemovedEdge}

	res := Recognize(focal, BatchCounts{RemovedEdges: 2})
	if res.Pattern != PatternRollback || res.Modifier != -40 {
		t.Fatalf("expected rollback -40, got %s %d", res.Pattern, res.Modifier)
	}
	if res.Confidence != 0.4 {
		t.Fatalf("expected confidence 0.4, got %v", res.Confidence)
	}

	// Confidence caps at 1.
	if res := Recognize(focal, BatchCounts{RemovedEdges: 10}); res.Confidence != 1 {
		t.Fatalf("expected capped confidence 1, got %v", res.Confidence)
	}

	// One removed edge alone is not a rollback.
	if res := Recognize(focal, BatchCounts{RemovedEdges: 1}); res.Pattern != PatternUnknown {
		t.Fatalf("expected unknown, got %s", res.Pattern)
	}
}

func TestRecognize_Deployment(t *testing.T) {
	focal := model.DriftEvent{EventType: model.EventNewEdge}

	res := Recognize(focal, BatchCounts{NewEdges: 4})
	if res.Pattern != PatternDeployment || res.Modifier != -30 {
		t.Fatalf("expected deployment -30, got %s %d", res.Pattern, res.Modifier)
	}
	if res.Confidence != 0.4 {
		t.Fatalf("expected confidence 0.4, got %v", res.Confidence)
	}

	// Exactly three new edges sits on the confidence floor and still matches.
	if res := Recognize(focal, BatchCounts{NewEdges: 3}); res.Pattern != PatternDeployment {
		t.Fatalf("expected deployment at the floor, got %s", res.Pattern)
	}

	// Two new edges is below the trigger.
	focal.Details.RequestCount = nil
	if res := Recognize(focal, BatchCounts{NewEdges: 2}); res.Pattern != PatternUnknown {
		t.Fatalf("expected unknown, got %s", res.Pattern)
	}
}

func TestRecognize_ErrorCascade(t *testing.T) {
	focal := model.DriftEvent{EventType: model.EventErrorSpike}

	res := Recognize(focal, BatchCounts{ErrorSpikes: 3})
	if res.Pattern != PatternErrorCascade || res.Modifier != 10 {
		t.Fatalf("expected error_cascade +10, got %s %d", res.Pattern, res.Modifier)
	}
	if res.Confidence != 0.6 {
		t.Fatalf("expected confidence 0.6, got %v", res.Confidence)
	}

	if res := Recognize(focal, BatchCounts{ErrorSpikes: 1}); res.Pattern != PatternUnknown {
		t.Fatalf("expected unknown for a lone spike, got %s", res.Pattern)
	}
}

func TestRecognize_Canary(t *testing.T) {
	focal := model.DriftEvent{
		EventType: model.EventNewEdge,
		Details:   model.EventDetails{RequestCount: reqCount(5)},
	}

	res := Recognize(focal, BatchCounts{NewEdges: 1})
	if res.Pattern != PatternCanary || res.Modifier != -20 {
		t.Fatalf("expected canary -20, got %s %d", res.Pattern, res.Modifier)
	}
	if res.Confidence != 0.8 {
		t.Fatalf("expected confidence 0.8, got %v", res.Confidence)
	}

	// Ten or more requests is not canary traffic.
	focal.Details.RequestCount = reqCount(10)
	if res := Recognize(focal, BatchCounts{NewEdges: 1}); res.Pattern != PatternUnknown {
		t.Fatalf("expected unknown at 10 requests, got %s", res.Pattern)
	}

	// Zero requests carries no signal.
	focal.Details.RequestCount = reqCount(0)
	if res := Recognize(focal, BatchCounts{NewEdges: 1}); res.Pattern != PatternUnknown {
		t.Fatalf("expected unknown at 0 requests, got %s", res.Pattern)
	}
}

func TestRecognize_DeploymentOutranksCanary(t *testing.T) {
	focal := model.DriftEvent{
		EventType: model.EventNewEdge,
		Details:   model.EventDetails{RequestCount: reqCount(5)},
	}
	res := Recognize(focal, BatchCounts{NewEdges: 3})
	if res.Pattern != PatternDeployment {
		t.Fatalf("deployment must win over canary, got %s", res.Pattern)
	}
}

func TestRecognize_FocalTypeGates(t *testing.T) {
	// A latency spike in a deployment-shaped batch matches nothing.
	focal := model.DriftEvent{EventType: model.EventLatencySpike}
	res := Recognize(focal, BatchCounts{NewEdges: 5, RemovedEdges: 3, ErrorSpikes: 4})
	if res.Pattern != PatternUnknown || res.Modifier != 0 {
		t.Fatalf("expected unknown with no modifier, got %s %d", res.Pattern, res.Modifier)
	}
}
