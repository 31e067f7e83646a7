package integration

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/meshdrift/meshdrift/internal/model"
)

// NetworkPolicyRenderer proposes a Kubernetes NetworkPolicy that would
// block the edge behind a high-severity structural event. Metric events
// render nothing; blocking traffic is no fix for a latency spike.
type NetworkPolicyRenderer struct {
	Namespace string
}

// NewNetworkPolicyRenderer creates a renderer targeting the namespace.
func NewNetworkPolicyRenderer(namespace string) *NetworkPolicyRenderer {
	if namespace == "" {
		namespace = "default"
	}
	return &NetworkPolicyRenderer{Namespace: namespace}
}

type policyDoc struct {
	APIVersion string         `yaml:"apiVersion"`
	Kind       string         `yaml:"kind"`
	Metadata   policyMetadata `yaml:"metadata"`
	Spec       policySpec     `yaml:"spec"`
}

type policyMetadata struct {
	Name        string            `yaml:"name"`
	Namespace   string            `yaml:"namespace"`
	Annotations map[string]string `yaml:"annotations,omitempty"`
}

type policySpec struct {
	PodSelector map[string]map[string]string `yaml:"podSelector"`
	PolicyTypes []string                     `yaml:"policyTypes"`
	Ingress     []ingressRule                `yaml:"ingress"`
}

type ingressRule struct {
	From []ingressPeer `yaml:"from"`
}

type ingressPeer struct {
	PodSelector map[string]map[string]string `yaml:"podSelector"`
}

// Render emits a proposed lockdown for the destination: ingress limited
// to the mesh gateway, cutting off the unexpected caller. Only
// critical/high new_edge cards produce a document; the output is a
// proposal for review, never auto-applied.
func (r *NetworkPolicyRenderer) Render(card model.ExplainCard) ([]byte, error) {
	if card.EventType != model.EventNewEdge {
		return nil, nil
	}
	if card.Severity != model.SeverityCritical && card.Severity != model.SeverityHigh {
		return nil, nil
	}

	doc := policyDoc{
		APIVersion: "networking.k8s.io/v1",
		Kind:       "NetworkPolicy",
		Metadata: policyMetadata{
			Name:      fmt.Sprintf("deny-%s-to-%s", card.Source, card.Destination),
			Namespace: r.Namespace,
			Annotations: map[string]string{
				"meshdrift.io/event-id": card.EventID,
				"meshdrift.io/reason":   card.Title,
			},
		},
		Spec: policySpec{
			PodSelector: map[string]map[string]string{
				"matchLabels": {"app": card.Destination},
			},
			PolicyTypes: []string{"Ingress"},
			Ingress: []ingressRule{{
				From: []ingressPeer{{
					PodSelector: map[string]map[string]string{
						"matchLabels": {"meshdrift.io/role": "gateway"},
					},
				}},
			}},
		},
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("render policy for %s: %w", card.EventID, err)
	}
	return out, nil
}
