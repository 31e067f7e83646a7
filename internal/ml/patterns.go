package ml

import "github.com/meshdrift/meshdrift/internal/model"

// Pattern labels the batch-level shape a drift event belongs to.
type Pattern string

const (
	PatternRollback     Pattern = "rollback"
	PatternDeployment   Pattern = "deployment"
	PatternErrorCascade Pattern = "error_cascade"
	PatternCanary       Pattern = "canary"
	PatternUnknown      Pattern = "unknown"
)

const patternConfidenceFloor = 0.3

// PatternResult is a recognized pattern with its confidence and the score
// modifier it contributes.
type PatternResult struct {
	Pattern    Pattern `json:"pattern"`
	Confidence float64 `json:"confidence"`
	Modifier   int     `json:"modifier"`
}

// BatchCounts aggregates event-type counters over one detection batch.
// Counting once up front keeps per-event recognition O(1).
type BatchCounts struct {
	NewEdges     int
	RemovedEdges int
	ErrorSpikes  int
}

// CountBatch tallies the batch counters in a single pass.
func CountBatch(events []model.DriftEvent) BatchCounts {
	var c BatchCounts
	for _, e := range events {
		switch e.EventType {
		case model.EventNewEdge:
			c.NewEdges++
		case model.EventRemovedEdge:
			c.RemovedEdges++
		case model.EventErrorSpike:
			c.ErrorSpikes++
		}
	}
	return c
}

// Recognize resolves the dominant pattern for a focal event given the
// batch counters. Patterns are checked in priority order; the first match
// above the confidence floor wins.
func Recognize(focal model.DriftEvent, counts BatchCounts) PatternResult {
	if focal.EventType == model.EventRemovedEdge && counts.RemovedEdges >= 2 {
		if conf := capConfidence(float64(counts.RemovedEdges) / 5); conf >= patternConfidenceFloor {
			return PatternResult{Pattern: PatternRollback, Confidence: conf, Modifier: -40}
		}
	}
	if focal.EventType == model.EventNewEdge && counts.NewEdges >= 3 {
		if conf := capConfidence(float64(counts.NewEdges) / 10); conf >= patternConfidenceFloor {
			return PatternResult{Pattern: PatternDeployment, Confidence: conf, Modifier: -30}
		}
	}
	if focal.EventType == model.EventErrorSpike && counts.ErrorSpikes >= 2 {
		if conf := capConfidence(float64(counts.ErrorSpikes) / 5); conf >= patternConfidenceFloor {
			return PatternResult{Pattern: PatternErrorCascade, Confidence: conf, Modifier: 10}
		}
	}
	if focal.EventType == model.EventNewEdge && focal.Details.RequestCount != nil {
		if n := *focal.Details.RequestCount; n > 0 && n < 10 {
			return PatternResult{Pattern: PatternCanary, Confidence: 0.8, Modifier: -20}
		}
	}
	return PatternResult{Pattern: PatternUnknown}
}

func capConfidence(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}
