// Package config handles environment-based configuration loading and the
// rule/scoring tables used by the drift analyzers.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// EnvConfig holds all environment-variable-driven settings.
type EnvConfig struct {
	// Directories
	StateDir string

	// Network
	ListenAddress   string
	Port            int
	APIMaxBodyBytes int

	// Auth
	AdminToken string

	// Tenancy & ingest
	Tenants   []string
	SourceRef string

	// Analysis
	BaselineWindowSize int
	RetentionDays      int
	RulesFile          string

	// Schedules (cron expressions)
	SnapshotSchedule  string
	RetentionSchedule string
	BaselineSchedule  string

	// Pipeline
	QueueSize        int
	Workers          int
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	SnapshotDeadline time.Duration
	DriftDeadline    time.Duration
	NotifyDeadline   time.Duration

	// Sinks
	WebhookURL     string
	WebhookTimeout time.Duration
}

// LoadEnvConfig reads environment variables and returns a validated
// EnvConfig. Returns an error listing every invalid or missing value.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	// --- Directories ---
	cfg.StateDir = envStr("MESHDRIFT_STATE_DIR", "/var/lib/meshdrift")

	// --- Network ---
	cfg.ListenAddress = strings.TrimSpace(envStr("MESHDRIFT_LISTEN_ADDRESS", "0.0.0.0"))
	cfg.Port = envInt("MESHDRIFT_PORT", 8470, &errs)
	cfg.APIMaxBodyBytes = envInt("MESHDRIFT_API_MAX_BODY_BYTES", 1<<20, &errs)

	// --- Auth (must be defined; empty means auth disabled) ---
	adminToken, hasAdminToken := os.LookupEnv("MESHDRIFT_ADMIN_TOKEN")
	cfg.AdminToken = adminToken

	// --- Tenancy & ingest ---
	cfg.Tenants = envStringSlice("MESHDRIFT_TENANTS", []string{"default"}, &errs)
	cfg.SourceRef = envStr("MESHDRIFT_SOURCE_REF", "")

	// --- Analysis ---
	cfg.BaselineWindowSize = envInt("MESHDRIFT_BASELINE_WINDOW_SIZE", 24, &errs)
	cfg.RetentionDays = envInt("MESHDRIFT_RETENTION_DAYS", 30, &errs)
	cfg.RulesFile = envStr("MESHDRIFT_RULES_FILE", "")

	// --- Schedules ---
	cfg.SnapshotSchedule = envStr("MESHDRIFT_SNAPSHOT_SCHEDULE", "0 * * * *")
	cfg.RetentionSchedule = envStr("MESHDRIFT_RETENTION_SCHEDULE", "0 3 * * *")
	cfg.BaselineSchedule = envStr("MESHDRIFT_BASELINE_SCHEDULE", "*/30 * * * *")

	// --- Pipeline ---
	cfg.QueueSize = envInt("MESHDRIFT_QUEUE_SIZE", 1024, &errs)
	cfg.Workers = envInt("MESHDRIFT_WORKERS", 4, &errs)
	cfg.RetryMaxAttempts = envInt("MESHDRIFT_RETRY_MAX_ATTEMPTS", 3, &errs)
	cfg.RetryBaseDelay = envDuration("MESHDRIFT_RETRY_BASE_DELAY", 15*time.Second, &errs)
	cfg.SnapshotDeadline = envDuration("MESHDRIFT_SNAPSHOT_DEADLINE", 60*time.Second, &errs)
	cfg.DriftDeadline = envDuration("MESHDRIFT_DRIFT_DEADLINE", 30*time.Second, &errs)
	cfg.NotifyDeadline = envDuration("MESHDRIFT_NOTIFY_DEADLINE", 30*time.Second, &errs)

	// --- Sinks ---
	cfg.WebhookURL = envStr("MESHDRIFT_WEBHOOK_URL", "")
	cfg.WebhookTimeout = envDuration("MESHDRIFT_WEBHOOK_TIMEOUT", 10*time.Second, &errs)

	// --- Validation ---
	if !hasAdminToken {
		errs = append(errs, "MESHDRIFT_ADMIN_TOKEN must be defined (can be empty)")
	}
	if cfg.ListenAddress == "" {
		errs = append(errs, "MESHDRIFT_LISTEN_ADDRESS must not be empty")
	}
	validatePort("MESHDRIFT_PORT", cfg.Port, &errs)
	validatePositive("MESHDRIFT_API_MAX_BODY_BYTES", cfg.APIMaxBodyBytes, &errs)
	if len(cfg.Tenants) == 0 {
		errs = append(errs, "MESHDRIFT_TENANTS must list at least one tenant")
	}
	for _, t := range cfg.Tenants {
		if strings.TrimSpace(t) == "" {
			errs = append(errs, "MESHDRIFT_TENANTS must not contain empty tenant IDs")
			break
		}
	}
	validatePositive("MESHDRIFT_BASELINE_WINDOW_SIZE", cfg.BaselineWindowSize, &errs)
	validatePositive("MESHDRIFT_RETENTION_DAYS", cfg.RetentionDays, &errs)
	for _, sched := range []struct{ name, expr string }{
		{"MESHDRIFT_SNAPSHOT_SCHEDULE", cfg.SnapshotSchedule},
		{"MESHDRIFT_RETENTION_SCHEDULE", cfg.RetentionSchedule},
		{"MESHDRIFT_BASELINE_SCHEDULE", cfg.BaselineSchedule},
	} {
		if _, err := cron.ParseStandard(sched.expr); err != nil {
			errs = append(errs, fmt.Sprintf("%s: invalid cron expression %q: %v", sched.name, sched.expr, err))
		}
	}
	validatePositive("MESHDRIFT_QUEUE_SIZE", cfg.QueueSize, &errs)
	validatePositive("MESHDRIFT_WORKERS", cfg.Workers, &errs)
	validatePositive("MESHDRIFT_RETRY_MAX_ATTEMPTS", cfg.RetryMaxAttempts, &errs)
	if cfg.RetryBaseDelay <= 0 {
		errs = append(errs, "MESHDRIFT_RETRY_BASE_DELAY must be positive")
	}
	if cfg.SnapshotDeadline <= 0 {
		errs = append(errs, "MESHDRIFT_SNAPSHOT_DEADLINE must be positive")
	}
	if cfg.DriftDeadline <= 0 {
		errs = append(errs, "MESHDRIFT_DRIFT_DEADLINE must be positive")
	}
	if cfg.NotifyDeadline <= 0 {
		errs = append(errs, "MESHDRIFT_NOTIFY_DEADLINE must be positive")
	}
	if cfg.WebhookTimeout <= 0 {
		errs = append(errs, "MESHDRIFT_WEBHOOK_TIMEOUT must be positive")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func envStringSlice(key string, defaultVal []string, errs *[]string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid JSON string array %q", key, v))
		return defaultVal
	}
	if out == nil {
		return []string{}
	}
	return out
}

func validatePort(name string, value int, errs *[]string) {
	if value < 1 || value > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s: port must be 1-65535, got %d", name, value))
	}
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}
