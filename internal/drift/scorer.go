package drift

import (
	"sort"

	"github.com/meshdrift/meshdrift/internal/config"
	"github.com/meshdrift/meshdrift/internal/model"
)

// ScoredEvent is a drift event with its rule hits and risk score attached.
// The embedded event is a copy; detector output stays untouched.
type ScoredEvent struct {
	Event     model.DriftEvent `json:"event"`
	BaseScore int              `json:"base_score"`
	RuleHits  []RuleHit        `json:"rule_hits,omitempty"`
	RiskScore int              `json:"risk_score"`
}

// Scorer assigns rule-based risk scores to drift events.
type Scorer struct {
	engine  *RuleEngine
	scoring config.Scoring
}

// NewScorer builds a scorer over the given policy and scoring tables.
func NewScorer(rules config.Rules, scoring config.Scoring) *Scorer {
	return &Scorer{engine: NewRuleEngine(rules), scoring: scoring}
}

// BaseScore returns the per-event-type base score from the scoring table.
func (s *Scorer) BaseScore(t model.EventType) int {
	if v, ok := s.scoring.BaseScores[string(t)]; ok {
		return v
	}
	return s.scoring.DefaultBaseScore
}

// Score evaluates the rules for one event and returns a scored copy with
// severity assigned from the clamped final score.
func (s *Scorer) Score(event model.DriftEvent) ScoredEvent {
	hits := s.engine.Evaluate(event)
	base := s.BaseScore(event.EventType)
	total := base
	for _, h := range hits {
		total += h.Boost
	}
	total = Clamp(total)

	event.Severity = model.SeverityForScore(total)
	return ScoredEvent{
		Event:     event,
		BaseScore: base,
		RuleHits:  hits,
		RiskScore: total,
	}
}

// ScoreAll scores a batch and sorts it by risk descending. Ties break by
// base score descending, then by (source, destination) for stability.
func (s *Scorer) ScoreAll(events []model.DriftEvent) []ScoredEvent {
	scored := make([]ScoredEvent, 0, len(events))
	for _, ev := range events {
		scored = append(scored, s.Score(ev))
	}
	SortScored(scored)
	return scored
}

// SortScored orders scored events by score descending with deterministic
// tie-breaking: base score descending, then (source, destination).
func SortScored(scored []ScoredEvent) {
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

// Clamp bounds a risk score to [0, 100].
func Clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
