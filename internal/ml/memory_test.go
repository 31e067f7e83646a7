package ml

import (
	"context"
	"testing"
	"time"

	"github.com/meshdrift/meshdrift/internal/model"
	"github.com/meshdrift/meshdrift/internal/tenant"
)

type fakeFeedback struct {
	record model.FeedbackRecord
	found  bool
	calls  int
}

func (f *fakeFeedback) LatestForEdge(_ context.Context, _ tenant.Context, _, _ string, _ model.EventType) (model.FeedbackRecord, bool, error) {
	f.calls++
	return f.record, f.found, nil
}

type fakeWhitelist struct {
	listed bool
}

func (f *fakeWhitelist) IsWhitelisted(_ context.Context, _ tenant.Context, _, _ string, _ time.Time) (bool, error) {
	return f.listed, nil
}

func testEvent() model.DriftEvent {
	return model.DriftEvent{EventType: model.EventNewEdge, Source: "svc-a", Destination: "svc-b"}
}

func TestHistoryModifier_WhitelistDominates(t *testing.T) {
	fb := &fakeFeedback{record: model.FeedbackRecord{Verdict: model.VerdictTruePositive}, found: true}
	m := NewMemory(fb, &fakeWhitelist{listed: true})

	mod, reason, err := m.HistoryModifier(context.Background(), tenant.For("acme"), testEvent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mod != -40 || reason != "Edge is whitelisted" {
		t.Fatalf("expected -40 whitelist, got %d %q", mod, reason)
	}
	if fb.calls != 0 {
		t.Fatal("feedback must not be consulted for a whitelisted edge")
	}
}

func TestHistoryModifier_Verdicts(t *testing.T) {
	cases := []struct {
		verdict model.Verdict
		mod     int
		reason  string
	}{
		{model.VerdictFalsePositive, -40, "Previously marked false positive"},
		{model.VerdictExpected, -30, "Previously marked expected"},
		{model.VerdictTruePositive, 0, ""},
	}
	for _, tc := range cases {
		t.Run(string(tc.verdict), func(t *testing.T) {
			fb := &fakeFeedback{record: model.FeedbackRecord{Verdict: tc.verdict}, found: true}
			m := NewMemory(fb, &fakeWhitelist{})

			mod, reason, err := m.HistoryModifier(context.Background(), tenant.For("acme"), testEvent())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if mod != tc.mod || reason != tc.reason {
				t.Fatalf("got %d %q, want %d %q", mod, reason, tc.mod, tc.reason)
			}
		})
	}
}

func TestHistoryModifier_NoHistory(t *testing.T) {
	m := NewMemory(&fakeFeedback{}, &fakeWhitelist{})
	mod, reason, err := m.HistoryModifier(context.Background(), tenant.For("acme"), testEvent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mod != 0 || reason != "" {
		t.Fatalf("expected neutral history, got %d %q", mod, reason)
	}
}
