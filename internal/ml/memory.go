package ml

import (
	"context"
	"fmt"
	"time"

	"github.com/meshdrift/meshdrift/internal/model"
	"github.com/meshdrift/meshdrift/internal/tenant"
)

// History modifiers. Whitelisting dominates feedback; both only ever
// lower the score.
const (
	whitelistModifier     = -40
	falsePositiveModifier = -40
	expectedModifier      = -30
)

// FeedbackSource supplies the most recent verdict for an edge.
type FeedbackSource interface {
	LatestForEdge(ctx context.Context, tctx tenant.Context, source, destination string, eventType model.EventType) (model.FeedbackRecord, bool, error)
}

// WhitelistSource answers whether an edge is actively allow-listed.
type WhitelistSource interface {
	IsWhitelisted(ctx context.Context, tctx tenant.Context, source, destination string, at time.Time) (bool, error)
}

// Memory folds past operator judgement into the score: an active
// whitelist entry, or failing that the latest feedback verdict.
type Memory struct {
	feedback  FeedbackSource
	whitelist WhitelistSource
	now       func() time.Time
}

// NewMemory builds a memory over the given feedback and whitelist sources.
func NewMemory(feedback FeedbackSource, whitelist WhitelistSource) *Memory {
	return &Memory{feedback: feedback, whitelist: whitelist, now: time.Now}
}

// HistoryModifier returns the score adjustment for an event together with
// a human-readable reason. An event with no history contributes 0.
func (m *Memory) HistoryModifier(ctx context.Context, tctx tenant.Context, event model.DriftEvent) (int, string, error) {
	listed, err := m.whitelist.IsWhitelisted(ctx, tctx, event.Source, event.Destination, m.now().UTC())
	if err != nil {
		return 0, "", fmt.Errorf("whitelist lookup: %w", err)
	}
	if listed {
		return whitelistModifier, "Edge is whitelisted", nil
	}

	record, found, err := m.feedback.LatestForEdge(ctx, tctx, event.Source, event.Destination, event.EventType)
	if err != nil {
		return 0, "", fmt.Errorf("feedback lookup: %w", err)
	}
	if !found {
		return 0, "", nil
	}
	switch record.Verdict {
	case model.VerdictFalsePositive:
		return falsePositiveModifier, "Previously marked false positive", nil
	case model.VerdictExpected:
		return expectedModifier, "Previously marked expected", nil
	default:
		return 0, "", nil
	}
}

// IsWhitelisted reports whether the edge is actively allow-listed now.
func (m *Memory) IsWhitelisted(ctx context.Context, tctx tenant.Context, source, destination string) (bool, error) {
	return m.whitelist.IsWhitelisted(ctx, tctx, source, destination, m.now().UTC())
}
