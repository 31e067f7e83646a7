package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rules holds the policy tables consumed by the rule engine: the services
// considered sensitive, the known gateways, and the service that owns each
// database.
type Rules struct {
	SensitiveServices []string          `yaml:"sensitive_services"`
	Gateways          []string          `yaml:"gateways"`
	DBOwners          map[string]string `yaml:"db_owners"`
}

// Scoring holds the numeric knobs of the scorers: per-event-type base
// scores, anomaly classifier bands, and the baseline window size.
type Scoring struct {
	BaseScores         map[string]int `yaml:"base_scores"`
	DefaultBaseScore   int            `yaml:"default_base_score"`
	AnomalyThreshold   float64        `yaml:"anomaly_threshold"`
	SuspiciousThreshold float64       `yaml:"suspicious_threshold"`
	BaselineWindowSize int            `yaml:"baseline_window_size"`
}

// RulesFile is the on-disk shape of the optional rules override file.
type RulesFile struct {
	Rules   Rules   `yaml:"rules"`
	Scoring Scoring `yaml:"scoring"`
}

// DefaultRules returns the built-in policy tables.
func DefaultRules() Rules {
	return Rules{
		SensitiveServices: []string{"payments-db", "users-db", "orders-db", "auth-svc"},
		Gateways:          []string{"api-gateway"},
		DBOwners: map[string]string{
			"payments-db": "payment-svc",
			"users-db":    "user-svc",
			"orders-db":   "order-svc",
		},
	}
}

// DefaultScoring returns the built-in scoring tables.
func DefaultScoring() Scoring {
	return Scoring{
		BaseScores: map[string]int{
			"new_edge":              40,
			"removed_edge":          20,
			"error_spike":           35,
			"latency_spike":         25,
			"traffic_spike":         30,
			"blast_radius_increase": 35,
		},
		DefaultBaseScore:    10,
		AnomalyThreshold:    3.0,
		SuspiciousThreshold: 2.0,
		BaselineWindowSize:  24,
	}
}

// LoadRulesFile loads the YAML override file and merges it over the
// defaults. Empty sections keep their default values.
func LoadRulesFile(path string) (Rules, Scoring, error) {
	rules := DefaultRules()
	scoring := DefaultScoring()
	if path == "" {
		return rules, scoring, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return rules, scoring, fmt.Errorf("read rules file %s: %w", path, err)
	}
	var file RulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return rules, scoring, fmt.Errorf("parse rules file %s: %w", path, err)
	}

	if len(file.Rules.SensitiveServices) > 0 {
		rules.SensitiveServices = file.Rules.SensitiveServices
	}
	if len(file.Rules.Gateways) > 0 {
		rules.Gateways = file.Rules.Gateways
	}
	if len(file.Rules.DBOwners) > 0 {
		rules.DBOwners = file.Rules.DBOwners
	}
	if len(file.Scoring.BaseScores) > 0 {
		scoring.BaseScores = file.Scoring.BaseScores
	}
	if file.Scoring.DefaultBaseScore > 0 {
		scoring.DefaultBaseScore = file.Scoring.DefaultBaseScore
	}
	if file.Scoring.AnomalyThreshold > 0 {
		scoring.AnomalyThreshold = file.Scoring.AnomalyThreshold
	}
	if file.Scoring.SuspiciousThreshold > 0 {
		scoring.SuspiciousThreshold = file.Scoring.SuspiciousThreshold
	}
	if file.Scoring.BaselineWindowSize > 0 {
		scoring.BaselineWindowSize = file.Scoring.BaselineWindowSize
	}
	return rules, scoring, nil
}
