package drift

import (
	"fmt"
	"strconv"
	"time"

	"github.com/meshdrift/meshdrift/internal/model"
)

const fallbackWhyRisk = "Change recorded; manual review required"

// Explain renders a scored event into an explain card. why_risk carries
// the triggered rule reasons in order, with a fallback line when no rule
// fired. affected lists source then destination, skipping the "*" wildcard.
func Explain(tenantID string, windowStart time.Time, ev ScoredEvent) model.ExplainCard {
	card := model.ExplainCard{
		EventID:     model.EventID(tenantID, windowStart, ev.Event),
		EventType:   ev.Event.EventType,
		Source:      ev.Event.Source,
		Destination: ev.Event.Destination,
		Severity:    ev.Event.Severity,
		RiskScore:   ev.RiskScore,
		Details:     ev.Event.Details,
	}

	card.Title, card.WhatChanged, card.Recommendation = narrative(ev.Event)

	for _, hit := range ev.RuleHits {
		card.WhyRisk = append(card.WhyRisk, hit.Reason)
	}
	if len(card.WhyRisk) == 0 {
		card.WhyRisk = []string{fallbackWhyRisk}
	}

	card.Affected = append(card.Affected, ev.Event.Source)
	if ev.Event.Destination != "*" && ev.Event.Destination != ev.Event.Source {
		card.Affected = append(card.Affected, ev.Event.Destination)
	}

	return card
}

// ExplainAll renders a batch, preserving the input order.
func ExplainAll(tenantID string, windowStart time.Time, scored []ScoredEvent) []model.ExplainCard {
	cards := make([]model.ExplainCard, 0, len(scored))
	for _, ev := range scored {
		cards = append(cards, Explain(tenantID, windowStart, ev))
	}
	return cards
}

func narrative(ev model.DriftEvent) (title, what, rec string) {
	src, dst := ev.Source, ev.Destination
	d := ev.Details

	switch ev.EventType {
	case model.EventNewEdge:
		title = fmt.Sprintf("New connection: %s → %s", src, dst)
		what = fmt.Sprintf("%s started calling %s (%.0f requests)", src, dst, d.CurrentValue)
		rec = fmt.Sprintf("Verify this connection is intended; add a NetworkPolicy denying %s → %s if not", src, dst)
	case model.EventRemovedEdge:
		title = fmt.Sprintf("Removed connection: %s → %s", src, dst)
		what = fmt.Sprintf("%s stopped calling %s (was %.0f requests)", src, dst, d.BaselineValue)
		rec = fmt.Sprintf("Confirm %s no longer needs %s; expected during deploys and rollbacks", src, dst)
	case model.EventErrorSpike:
		title = fmt.Sprintf("Error spike: %s → %s", src, dst)
		what = fmt.Sprintf("Error rate rose from %.2f%% to %.2f%% (%s×)",
			d.BaselineValue*100, d.CurrentValue*100, trimFloat(d.ChangeFactor))
		rec = fmt.Sprintf("Inspect logs of %s; consider rate-limiting %s", dst, src)
	case model.EventLatencySpike:
		title = fmt.Sprintf("Latency spike: %s → %s", src, dst)
		what = fmt.Sprintf("P99 latency rose from %sms to %sms (%s×)",
			trimFloat(d.BaselineValue), trimFloat(d.CurrentValue), trimFloat(d.ChangeFactor))
		rec = fmt.Sprintf("Check %s for resource saturation or a slow downstream dependency", dst)
	case model.EventTrafficSpike:
		title = fmt.Sprintf("Traffic spike: %s → %s", src, dst)
		what = fmt.Sprintf("Request volume rose from %.0f to %.0f (%s×)",
			d.BaselineValue, d.CurrentValue, trimFloat(d.ChangeFactor))
		rec = fmt.Sprintf("Verify the volume increase toward %s is expected; check %s for retry storms", dst, src)
	case model.EventBlastRadiusIncrease:
		title = fmt.Sprintf("Blast radius increase: %s", src)
		what = fmt.Sprintf("%s now calls %.0f services (was %.0f)", src, d.CurrentValue, d.BaselineValue)
		rec = fmt.Sprintf("Review %s for compromise or scope creep; restrict its egress with a NetworkPolicy", src)
	default:
		title = fmt.Sprintf("Drift detected: %s → %s", src, dst)
		what = "An unclassified change was recorded on this edge"
		rec = "Review the edge manually"
	}
	return title, what, rec
}

// trimFloat formats a float without trailing zeros (7.50 -> "7.5").
func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
