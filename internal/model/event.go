package model

import (
	"fmt"
	"time"

	"github.com/zeebo/xxh3"
)

// EventType is the closed set of drift event kinds.
type EventType string

const (
	EventNewEdge             EventType = "new_edge"
	EventRemovedEdge         EventType = "removed_edge"
	EventErrorSpike          EventType = "error_spike"
	EventLatencySpike        EventType = "latency_spike"
	EventTrafficSpike        EventType = "traffic_spike"
	EventBlastRadiusIncrease EventType = "blast_radius_increase"
)

// IsValid reports whether the event type is one of the known values.
func (t EventType) IsValid() bool {
	switch t {
	case EventNewEdge, EventRemovedEdge, EventErrorSpike,
		EventLatencySpike, EventTrafficSpike, EventBlastRadiusIncrease:
		return true
	}
	return false
}

// Severity is the discrete risk label derived from the final score.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityForScore maps a risk score in [0,100] to its severity band.
func SeverityForScore(score int) Severity {
	switch {
	case score >= 80:
		return SeverityCritical
	case score >= 60:
		return SeverityHigh
	case score >= 40:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// EventDetails carries the numeric context of a drift event. RequestCount
// is set only for new_edge events (the current edge's traffic, used for
// canary recognition).
type EventDetails struct {
	BaselineValue float64  `json:"baseline_value"`
	CurrentValue  float64  `json:"current_value"`
	ChangeFactor  float64  `json:"change_factor"`
	RequestCount  *float64 `json:"request_count,omitempty"`
}

// DriftEvent is one structural or metric change between two snapshots.
// Destination is "*" for node-scoped events (blast radius). The detector
// emits events with empty Severity; scoring assigns it on the returned
// copies, never by mutating detector output.
type DriftEvent struct {
	EventType   EventType    `json:"event_type"`
	Source      string       `json:"source"`
	Destination string       `json:"destination"`
	Severity    Severity     `json:"severity,omitempty"`
	Details     EventDetails `json:"details"`
}

// Key returns the edge key the event refers to.
func (e DriftEvent) Key() EdgeKey {
	return EdgeKey{Source: e.Source, Destination: e.Destination}
}

// EventID derives a deterministic identifier for a drift event within a
// tenant's detection window. The same (tenant, window, event) always maps
// to the same ID, which keeps notification fan-out and feedback linkage
// idempotent under at-least-once task delivery.
func EventID(tenantID string, windowStart time.Time, e DriftEvent) string {
	payload := fmt.Sprintf("%s|%d|%s|%s|%s",
		tenantID, windowStart.Unix(), e.EventType, e.Source, e.Destination)
	h := xxh3.Hash128([]byte(payload))
	return fmt.Sprintf("%016x%016x", h.Hi, h.Lo)
}

// ExplainCard is the human-readable rendering of a scored drift event.
// Its JSON form is the wire object consumed by the publisher and the
// notification adapters.
type ExplainCard struct {
	EventID        string       `json:"event_id"`
	EventType      EventType    `json:"event_type"`
	Source         string       `json:"source"`
	Destination    string       `json:"destination"`
	Severity       Severity     `json:"severity"`
	RiskScore      int          `json:"risk_score"`
	Details        EventDetails `json:"details"`
	Title          string       `json:"title"`
	WhatChanged    string       `json:"what_changed"`
	WhyRisk        []string     `json:"why_risk"`
	Affected       []string     `json:"affected"`
	Recommendation string       `json:"recommendation"`
}

// Verdict is a user's judgement on a reported drift event.
type Verdict string

const (
	VerdictTruePositive  Verdict = "true_positive"
	VerdictFalsePositive Verdict = "false_positive"
	VerdictExpected      Verdict = "expected"
)

// IsValid reports whether the verdict is one of the known values.
func (v Verdict) IsValid() bool {
	switch v {
	case VerdictTruePositive, VerdictFalsePositive, VerdictExpected:
		return true
	}
	return false
}

// FeedbackRecord is an immutable user verdict on a drift event.
type FeedbackRecord struct {
	TenantID     string    `json:"tenant_id"`
	DriftEventID string    `json:"drift_event_id"`
	Source       string    `json:"source"`
	Destination  string    `json:"destination"`
	EventType    EventType `json:"event_type"`
	Verdict      Verdict   `json:"verdict"`
	Comment      string    `json:"comment,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// WhitelistEntry allow-lists an edge for a tenant. The entry is active
// when ExpiresAt is zero or in the future.
type WhitelistEntry struct {
	TenantID    string    `json:"tenant_id"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	Reason      string    `json:"reason"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Active reports whether the entry suppresses events at the given time.
func (w WhitelistEntry) Active(now time.Time) bool {
	return w.ExpiresAt.IsZero() || w.ExpiresAt.After(now)
}

// EdgeProfile holds the rolling per-edge statistics used for z-score
// anomaly classification. One row per (tenant, source, destination).
type EdgeProfile struct {
	TenantID         string    `json:"tenant_id"`
	Source           string    `json:"source"`
	Destination      string    `json:"destination"`
	RequestCountMean float64   `json:"request_count_mean"`
	RequestCountStd  float64   `json:"request_count_std"`
	ErrorRateMean    float64   `json:"error_rate_mean"`
	ErrorRateStd     float64   `json:"error_rate_std"`
	P99LatencyMean   float64   `json:"p99_latency_mean"`
	P99LatencyStd    float64   `json:"p99_latency_std"`
	SampleCount      int       `json:"sample_count"`
	LastUpdated      time.Time `json:"last_updated"`
}
