package drift

import (
	"fmt"
	"strings"

	"github.com/meshdrift/meshdrift/internal/config"
	"github.com/meshdrift/meshdrift/internal/model"
)

const highErrorRateFloor = 0.10

// RuleHit is one triggered risk rule with its score contribution.
type RuleHit struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
	Boost  int    `json:"boost"`
}

// RuleEngine evaluates the declarative risk rules against drift events.
// Rules are orthogonal; each either triggers or not, independently.
type RuleEngine struct {
	sensitive map[string]struct{}
	gateways  map[string]struct{}
	dbOwners  map[string]string
}

// NewRuleEngine builds an engine over the given policy tables.
func NewRuleEngine(rules config.Rules) *RuleEngine {
	eng := &RuleEngine{
		sensitive: make(map[string]struct{}, len(rules.SensitiveServices)),
		gateways:  make(map[string]struct{}, len(rules.Gateways)),
		dbOwners:  make(map[string]string, len(rules.DBOwners)),
	}
	for _, s := range rules.SensitiveServices {
		eng.sensitive[s] = struct{}{}
	}
	for _, g := range rules.Gateways {
		eng.gateways[g] = struct{}{}
	}
	for db, owner := range rules.DBOwners {
		eng.dbOwners[db] = owner
	}
	return eng
}

// Evaluate returns the rules the event triggers, in declaration order.
func (eng *RuleEngine) Evaluate(event model.DriftEvent) []RuleHit {
	var hits []RuleHit

	if _, ok := eng.sensitive[event.Destination]; ok {
		hits = append(hits, RuleHit{
			Name:   "sensitive_target",
			Reason: fmt.Sprintf("Connection to sensitive service %s", event.Destination),
			Boost:  30,
		})
	}

	if event.EventType == model.EventNewEdge {
		_, fromGateway := eng.gateways[event.Source]
		srcBase := strings.TrimSuffix(event.Source, "-svc")
		dstBase := strings.TrimSuffix(event.Destination, "-db")
		if !fromGateway && srcBase != dstBase {
			hits = append(hits, RuleHit{
				Name:   "bypass_gateway",
				Reason: fmt.Sprintf("Direct connection %s -> %s bypassing gateway", event.Source, event.Destination),
				Boost:  20,
			})
		}
	}

	if strings.Contains(event.Destination, "-db") {
		if owner, known := eng.dbOwners[event.Destination]; known && owner != event.Source {
			hits = append(hits, RuleHit{
				Name:   "database_direct_access",
				Reason: fmt.Sprintf("Unexpected access: %s is owned by %s, not by %s", event.Destination, owner, event.Source),
				Boost:  30,
			})
		}
	}

	if event.EventType == model.EventErrorSpike && event.Details.CurrentValue > highErrorRateFloor {
		hits = append(hits, RuleHit{
			Name:   "high_error_rate",
			Reason: fmt.Sprintf("Error rate %.1f%% above 10%%", event.Details.CurrentValue*100),
			Boost:  20,
		})
	}

	if event.EventType == model.EventBlastRadiusIncrease {
		hits = append(hits, RuleHit{
			Name:   "blast_radius",
			Reason: fmt.Sprintf("Attack surface of %s grew from %.0f to %.0f destinations",
				event.Source, event.Details.BaselineValue, event.Details.CurrentValue),
			Boost:  15,
		})
	}

	return hits
}
