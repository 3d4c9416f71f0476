package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"
)

// Integration modes.
const (
	ModeMock = "mock"
	ModeReal = "real"
)

// Pattern store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config adds sentinel-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string

	// Pipeline policy
	ConfidenceThreshold float64
	MaxPatchAttempts    int
	ToolRetryAttempts   int
	DedupeWindow        time.Duration
	AutonomousEnvs      string
	SupportedSignal     string
	CriticalRate        float64
	HighRate            float64
	MediumRate          float64
	LatencyThresholdMs  float64

	// Collaborators
	IntegrationMode    string
	TelemetryFixture   string
	PrometheusEndpoint string
	PrometheusTenantID string
	LokiEndpoint       string
	LokiTenantID       string
	TelemetryLookback  time.Duration
	ObservabilityURL   string
	ClaudeAPIKey       string
	ClaudeModel        string
	CIEndpoint         string
	CIToken            string
	GitHubToken        string
	GitHubOwner        string
	GitHubRepo         string
	GitHubBaseBranch   string
	GitHubAPIURL       string
	ForceTestFailure   bool
	ForceCanaryFailure bool
	PatternStore       string
	SQLitePath         string
	DatabaseURL        string
	SlowQueryThreshold time.Duration
	SlackWebhookURL    string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on mutating API routes (empty = no auth)")

	fs.Float64Var(&c.ConfidenceThreshold, "confidence-threshold", 0.65, "minimum investigation confidence to attempt a patch (0..1)")
	fs.IntVar(&c.MaxPatchAttempts, "max-patch-attempts", 2, "patch/verify iterations per run before escalating (>=1)")
	fs.IntVar(&c.ToolRetryAttempts, "tool-retry-attempts", 2, "investigation attempts before escalating on tool faults (>=1)")
	fs.DurationVar(&c.DedupeWindow, "dedupe-window", 20*time.Minute, "window in which an active incident suppresses same-fingerprint incidents")
	fs.StringVar(&c.AutonomousEnvs, "autonomous-envs", "prod,staging", "comma-separated environments eligible for autonomous remediation")
	fs.StringVar(&c.SupportedSignal, "supported-signal", "http_5xx_rate", "signal type handled autonomously")
	fs.Float64Var(&c.CriticalRate, "severity-critical-rate", 0.20, "error rate at or above which severity is critical")
	fs.Float64Var(&c.HighRate, "severity-high-rate", 0.12, "error rate at or above which severity is high")
	fs.Float64Var(&c.MediumRate, "severity-medium-rate", 0.05, "error rate at or above which severity is medium")
	fs.Float64Var(&c.LatencyThresholdMs, "latency-threshold-ms", 200, "canary latency delta that flags a regression")

	fs.StringVar(&c.IntegrationMode, "integration-mode", ModeMock, "collaborators to use: mock or real")
	fs.StringVar(&c.TelemetryFixture, "telemetry-fixture", "", "YAML telemetry fixture for mock mode (empty = built-in demo data)")
	fs.StringVar(&c.PrometheusEndpoint, "prometheus-endpoint", "", "Prometheus endpoint for metric and deployment evidence")
	fs.StringVar(&c.PrometheusTenantID, "prometheus-tenant-id", "", "Prometheus tenant ID for multi-tenant setups")
	fs.StringVar(&c.LokiEndpoint, "loki-endpoint", "", "Loki endpoint for log evidence")
	fs.StringVar(&c.LokiTenantID, "loki-tenant-id", "", "Loki tenant ID for multi-tenant setups")
	fs.DurationVar(&c.TelemetryLookback, "telemetry-lookback", time.Hour, "how far back evidence queries look")
	fs.StringVar(&c.ObservabilityURL, "observability-url", "https://grafana.example.com", "base URL for evidence links in approval packages")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for Claude patch generation (real mode)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.CIEndpoint, "ci-endpoint", "", "CI service endpoint for tests and canary replay (real mode)")
	fs.StringVar(&c.CIToken, "ci-token", "", "bearer token for the CI service")
	fs.StringVar(&c.GitHubToken, "github-token", "", "GitHub token for draft pull requests (real mode)")
	fs.StringVar(&c.GitHubOwner, "github-owner", "demo-org", "repository owner for pull requests")
	fs.StringVar(&c.GitHubRepo, "github-repo", "demo-service", "repository name for pull requests")
	fs.StringVar(&c.GitHubBaseBranch, "github-base-branch", "main", "base branch pull requests target")
	fs.StringVar(&c.GitHubAPIURL, "github-api-url", "https://api.github.com", "GitHub REST API base URL")
	fs.BoolVar(&c.ForceTestFailure, "force-test-failure", false, "mock mode: make every simulated test run fail")
	fs.BoolVar(&c.ForceCanaryFailure, "force-canary-failure", false, "mock mode: make every simulated canary replay regress")
	fs.StringVar(&c.PatternStore, "pattern-store", StoreMemory, "pattern store backend: memory, sqlite or postgres")
	fs.StringVar(&c.SQLitePath, "sqlite-path", "sentinel.db", "SQLite file for the sqlite pattern store")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for the postgres pattern store")
	fs.DurationVar(&c.SlowQueryThreshold, "slow-query-threshold", 500*time.Millisecond, "log database queries slower than this (0 = off)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for notifications")
}

// Envs returns the autonomous environment list, trimmed and without blanks.
func (c *Config) Envs() []string {
	var out []string
	for _, e := range strings.Split(c.AutonomousEnvs, ",") {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Pipeline policy
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("invalid CONFIDENCE_THRESHOLD %v (must be 0..1)", c.ConfidenceThreshold))
	}
	if c.MaxPatchAttempts < 1 {
		errs = append(errs, fmt.Errorf("invalid MAX_PATCH_ATTEMPTS %d (must be >= 1)", c.MaxPatchAttempts))
	}
	if c.ToolRetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("invalid TOOL_RETRY_ATTEMPTS %d (must be >= 1)", c.ToolRetryAttempts))
	}
	if c.DedupeWindow <= 0 {
		errs = append(errs, fmt.Errorf("invalid DEDUPE_WINDOW %s (must be positive)", c.DedupeWindow))
	}
	if len(c.Envs()) == 0 {
		errs = append(errs, errors.New("AUTONOMOUS_ENVS must name at least one environment"))
	}
	if c.SupportedSignal == "" {
		errs = append(errs, errors.New("SUPPORTED_SIGNAL is required"))
	}
	if !(c.MediumRate > 0 && c.MediumRate < c.HighRate && c.HighRate < c.CriticalRate && c.CriticalRate <= 1) {
		errs = append(errs, fmt.Errorf("severity rates must satisfy 0 < medium < high < critical <= 1 (got %v, %v, %v)", c.MediumRate, c.HighRate, c.CriticalRate))
	}
	if c.LatencyThresholdMs <= 0 {
		errs = append(errs, fmt.Errorf("invalid LATENCY_THRESHOLD_MS %v (must be positive)", c.LatencyThresholdMs))
	}

	// Collaborators
	switch c.IntegrationMode {
	case ModeMock:
	case ModeReal:
		if c.PrometheusEndpoint == "" {
			errs = append(errs, errors.New("PROMETHEUS_ENDPOINT is required in real mode"))
		}
		if c.LokiEndpoint == "" {
			errs = append(errs, errors.New("LOKI_ENDPOINT is required in real mode"))
		}
		if c.ClaudeAPIKey == "" {
			errs = append(errs, errors.New("CLAUDE_API_KEY is required in real mode"))
		}
		if c.ClaudeModel == "" {
			errs = append(errs, errors.New("CLAUDE_MODEL is required in real mode"))
		}
		if c.CIEndpoint == "" {
			errs = append(errs, errors.New("CI_ENDPOINT is required in real mode"))
		}
		if c.GitHubToken == "" {
			errs = append(errs, errors.New("GITHUB_TOKEN is required in real mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid INTEGRATION_MODE %q (must be %s or %s)", c.IntegrationMode, ModeMock, ModeReal))
	}
	if c.GitHubOwner == "" || c.GitHubRepo == "" {
		errs = append(errs, errors.New("GITHUB_OWNER and GITHUB_REPO are required"))
	}
	if c.GitHubBaseBranch == "" {
		errs = append(errs, errors.New("GITHUB_BASE_BRANCH is required"))
	}

	switch c.PatternStore {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite pattern store"))
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres pattern store"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid PATTERN_STORE %q (must be memory, sqlite or postgres)", c.PatternStore))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
