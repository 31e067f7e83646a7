package ml

import (
	"context"
	"fmt"
	"sort"

	"github.com/meshdrift/meshdrift/internal/config"
	"github.com/meshdrift/meshdrift/internal/drift"
	"github.com/meshdrift/meshdrift/internal/model"
	"github.com/meshdrift/meshdrift/internal/tenant"
)

// ScoreBreakdown itemizes every contribution to a smart score. It is the
// object the UI renders and what tests assert on.
type ScoreBreakdown struct {
	Base              int             `json:"base"`
	RuleBoost         int             `json:"rule_boost"`
	RuleHits          []drift.RuleHit `json:"rule_hits,omitempty"`
	AnomalyModifier   int             `json:"anomaly_modifier"`
	Anomaly           AnomalyResult   `json:"anomaly"`
	PatternModifier   int             `json:"pattern_modifier"`
	Pattern           PatternResult   `json:"pattern"`
	HistoryModifier   int             `json:"history_modifier"`
	HistoryReason     string          `json:"history_reason,omitempty"`
	Final             int             `json:"final"`
}

// SmartScored is a drift event scored with the full modifier stack.
type SmartScored struct {
	drift.ScoredEvent
	Breakdown ScoreBreakdown `json:"breakdown"`
}

// SmartScorer layers anomaly, pattern, and history modifiers on top of
// the rule-based base score.
type SmartScorer struct {
	scorer    *drift.Scorer
	baseliner *Baseliner
	profiles  ProfileRepo
	memory    *Memory
	bands     Bands
}

// NewSmartScorer wires the scoring stack together.
func NewSmartScorer(rules config.Rules, scoring config.Scoring, profiles ProfileRepo, memory *Memory) *SmartScorer {
	return &SmartScorer{
		scorer:    drift.NewScorer(rules, scoring),
		baseliner: NewBaseliner(profiles, scoring.BaselineWindowSize),
		profiles:  profiles,
		memory:    memory,
		bands:     Bands{Anomaly: scoring.AnomalyThreshold, Suspicious: scoring.SuspiciousThreshold},
	}
}

// Baseliner exposes the underlying baseline maintainer for the refresh job.
func (s *SmartScorer) Baseliner() *Baseliner { return s.baseliner }

// ScoreBatch scores a detection batch against the current snapshot. The
// result is sorted by final score descending; ties break by base score
// descending, then by (source, destination).
func (s *SmartScorer) ScoreBatch(ctx context.Context, tctx tenant.Context, events []model.DriftEvent, current *model.Snapshot) ([]SmartScored, error) {
	counts := CountBatch(events)
	currEdges := current.EdgeMap()

	scored := make([]SmartScored, 0, len(events))
	for _, event := range events {
		one, err := s.scoreOne(ctx, tctx, event, counts, currEdges)
		if err != nil {
			return nil, err
		}
		scored = append(scored, one)
	}

	sortSmartScored(scored)
	return scored, nil
}

func (s *SmartScorer) scoreOne(ctx context.Context, tctx tenant.Context, event model.DriftEvent, counts BatchCounts, currEdges map[model.EdgeKey]model.Edge) (SmartScored, error) {
	ruleScored := s.scorer.Score(event)

	bd := ScoreBreakdown{
		Base:     ruleScored.BaseScore,
		RuleHits: ruleScored.RuleHits,
	}
	for _, h := range ruleScored.RuleHits {
		bd.RuleBoost += h.Boost
	}

	bd.Anomaly = s.classifyEdge(ctx, tctx, event, currEdges)
	bd.AnomalyModifier = bd.Anomaly.Modifier

	bd.Pattern = Recognize(event, counts)
	bd.PatternModifier = bd.Pattern.Modifier

	mod, reason, err := s.memory.HistoryModifier(ctx, tctx, event)
	if err != nil {
		return SmartScored{}, fmt.Errorf("history modifier for %s->%s: %w", event.Source, event.Destination, err)
	}
	bd.HistoryModifier, bd.HistoryReason = mod, reason

	bd.Final = drift.Clamp(bd.Base + bd.RuleBoost + bd.AnomalyModifier + bd.PatternModifier + bd.HistoryModifier)

	event.Severity = model.SeverityForScore(bd.Final)
	return SmartScored{
		ScoredEvent: drift.ScoredEvent{
			Event:     event,
			BaseScore: bd.Base,
			RuleHits:  bd.RuleHits,
			RiskScore: bd.Final,
		},
		Breakdown: bd,
	}, nil
}

// classifyEdge looks up the profile for the event's edge and classifies
// the current observation. Edges absent from the current snapshot, or
// without a stored profile, classify as insufficient data (modifier 0).
func (s *SmartScorer) classifyEdge(ctx context.Context, tctx tenant.Context, event model.DriftEvent, currEdges map[model.EdgeKey]model.Edge) AnomalyResult {
	edge, ok := currEdges[event.Key()]
	if !ok {
		return AnomalyResult{Label: LabelInsufficientData}
	}
	profile, found, err := s.profiles.Get(ctx, tctx, event.Source, event.Destination)
	if err != nil || !found {
		return AnomalyResult{Label: LabelInsufficientData}
	}
	return Classify(edge, profile, s.bands)
}

func sortSmartScored(scored []SmartScored) {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].RiskScore != scored[j].RiskScore {
			return scored[i].RiskScore > scored[j].RiskScore
		}
		if scored[i].BaseScore != scored[j].BaseScore {
			return scored[i].BaseScore > scored[j].BaseScore
		}
		return scored[i].Event.Key().Less(scored[j].Event.Key())
	})
}
