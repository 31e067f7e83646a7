package integration

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/meshdrift/meshdrift/internal/model"
)

func TestNetworkPolicyRenderer_CriticalNewEdge(t *testing.T) {
	r := NewNetworkPolicyRenderer("prod")
	card := model.ExplainCard{
		EventID:   "ev-1",
		EventType: model.EventNewEdge,
		Source:    "marketing-svc", Destination: "payments-db",
		Severity: model.SeverityCritical, RiskScore: 100,
		Title: "New connection: marketing-svc → payments-db",
	}

	out, err := r.Render(card)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out == nil {
		t.Fatal("expected a policy document")
	}

	var doc map[string]any
	if err := yaml.Unmarshal(out, &doc); err != nil {
		t.Fatalf("output is not valid yaml: %v", err)
	}
	if doc["apiVersion"] != "networking.k8s.io/v1" || doc["kind"] != "NetworkPolicy" {
		t.Fatalf("unexpected document header: %v", doc)
	}

	text := string(out)
	if !strings.Contains(text, "deny-marketing-svc-to-payments-db") {
		t.Fatalf("policy name missing:\n%s", text)
	}
	if !strings.Contains(text, "namespace: prod") {
		t.Fatalf("namespace missing:\n%s", text)
	}
	if !strings.Contains(text, "meshdrift.io/event-id: ev-1") {
		t.Fatalf("event annotation missing:\n%s", text)
	}
	if !strings.Contains(text, "app: payments-db") {
		t.Fatalf("pod selector must target the destination:\n%s", text)
	}
}

func TestNetworkPolicyRenderer_SkipsNonStructural(t *testing.T) {
	r := NewNetworkPolicyRenderer("")

	// Metric events render nothing regardless of severity.
	card := model.ExplainCard{EventType: model.EventErrorSpike, Severity: model.SeverityCritical}
	if out, err := r.Render(card); err != nil || out != nil {
		t.Fatalf("error spike must render nothing, got %q err %v", out, err)
	}

	// Low-severity new edges render nothing.
	card = model.ExplainCard{EventType: model.EventNewEdge, Severity: model.SeverityMedium}
	if out, err := r.Render(card); err != nil || out != nil {
		t.Fatalf("medium new_edge must render nothing, got %q err %v", out, err)
	}

	// High structural events do render.
	card = model.ExplainCard{EventType: model.EventNewEdge, Source: "a", Destination: "b", Severity: model.SeverityHigh}
	out, err := r.Render(card)
	if err != nil || out == nil {
		t.Fatalf("high new_edge must render, got %q err %v", out, err)
	}
	if !strings.Contains(string(out), "namespace: default") {
		t.Fatal("empty namespace must default")
	}
}
