package cfg

import (
	"flag"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// defaults returns a Config populated from the registered flag defaults.
func defaults(t *testing.T) Config {
	t.Helper()
	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}
	return c
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	c := defaults(t)

	if c.DrainSeconds != 60 || c.ShutdownBudgetSeconds != 90 || c.APIPort != 8080 {
		t.Errorf("server defaults = %d/%d/%d", c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort)
	}
	if c.ConfidenceThreshold != 0.65 || c.MaxPatchAttempts != 2 || c.ToolRetryAttempts != 2 {
		t.Errorf("pipeline defaults = %v/%d/%d", c.ConfidenceThreshold, c.MaxPatchAttempts, c.ToolRetryAttempts)
	}
	if c.DedupeWindow != 20*time.Minute {
		t.Errorf("DedupeWindow = %s, want 20m", c.DedupeWindow)
	}
	if diff := cmp.Diff([]string{"prod", "staging"}, c.Envs()); diff != "" {
		t.Errorf("Envs (-want +got):\n%s", diff)
	}
	if c.IntegrationMode != ModeMock || c.PatternStore != StoreMemory {
		t.Errorf("mode/store = %q/%q", c.IntegrationMode, c.PatternStore)
	}
	if c.LatencyThresholdMs != 200 || c.GitHubBaseBranch != "main" {
		t.Errorf("latency/base = %v/%q", c.LatencyThresholdMs, c.GitHubBaseBranch)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-http-port", "9090",
		"-confidence-threshold", "0.8",
		"-dedupe-window", "5m",
		"-autonomous-envs", " prod , ,canary",
		"-integration-mode", "real",
		"-pattern-store", "sqlite",
		"-sqlite-path", "/var/lib/sentinel/patterns.db",
		"-force-canary-failure",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.APIPort != 9090 || c.ConfidenceThreshold != 0.8 || c.DedupeWindow != 5*time.Minute {
		t.Errorf("overrides = %d/%v/%s", c.APIPort, c.ConfidenceThreshold, c.DedupeWindow)
	}
	if diff := cmp.Diff([]string{"prod", "canary"}, c.Envs()); diff != "" {
		t.Errorf("Envs (-want +got):\n%s", diff)
	}
	if c.IntegrationMode != ModeReal || c.PatternStore != StoreSQLite || !c.ForceCanaryFailure {
		t.Errorf("config = %+v", c)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(*Config)
		errSubstr []string // substrings that must appear in error message
	}{
		{"defaults", func(*Config) {}, nil},
		{"drain zero", func(c *Config) { c.DrainSeconds = 0 }, []string{"DRAIN_SECONDS"}},
		{"drain above max", func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds = 301, 302 }, []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS 302"}},
		{"budget equals drain", func(c *Config) { c.ShutdownBudgetSeconds = 60 }, []string{"must be greater than"}},
		{"budget is drain plus one", func(c *Config) { c.ShutdownBudgetSeconds = 61 }, nil},
		{"port zero", func(c *Config) { c.APIPort = 0 }, []string{"HTTP_PORT"}},
		{"port above max", func(c *Config) { c.APIPort = 65536 }, []string{"HTTP_PORT"}},
		{"confidence above one", func(c *Config) { c.ConfidenceThreshold = 1.5 }, []string{"CONFIDENCE_THRESHOLD"}},
		{"confidence zero", func(c *Config) { c.ConfidenceThreshold = 0 }, nil},
		{"no patch attempts", func(c *Config) { c.MaxPatchAttempts = 0 }, []string{"MAX_PATCH_ATTEMPTS"}},
		{"no tool attempts", func(c *Config) { c.ToolRetryAttempts = 0 }, []string{"TOOL_RETRY_ATTEMPTS"}},
		{"zero dedupe window", func(c *Config) { c.DedupeWindow = 0 }, []string{"DEDUPE_WINDOW"}},
		{"blank envs", func(c *Config) { c.AutonomousEnvs = " , " }, []string{"AUTONOMOUS_ENVS"}},
		{"no signal", func(c *Config) { c.SupportedSignal = "" }, []string{"SUPPORTED_SIGNAL"}},
		{"severity out of order", func(c *Config) { c.HighRate = 0.3 }, []string{"severity rates"}},
		{"zero latency threshold", func(c *Config) { c.LatencyThresholdMs = 0 }, []string{"LATENCY_THRESHOLD_MS"}},
		{"unknown mode", func(c *Config) { c.IntegrationMode = "hybrid" }, []string{"INTEGRATION_MODE"}},
		{
			"real mode without endpoints",
			func(c *Config) { c.IntegrationMode = ModeReal },
			[]string{"PROMETHEUS_ENDPOINT", "LOKI_ENDPOINT", "CLAUDE_API_KEY", "CI_ENDPOINT", "GITHUB_TOKEN"},
		},
		{
			"real mode complete",
			func(c *Config) {
				c.IntegrationMode = ModeReal
				c.PrometheusEndpoint = "http://prom:9090"
				c.LokiEndpoint = "http://loki:3100"
				c.ClaudeAPIKey = "sk-test"
				c.CIEndpoint = "http://ci"
				c.GitHubToken = "ghp_test"
			},
			nil,
		},
		{"missing repo", func(c *Config) { c.GitHubRepo = "" }, []string{"GITHUB_REPO"}},
		{"unknown store", func(c *Config) { c.PatternStore = "redis" }, []string{"PATTERN_STORE"}},
		{"sqlite without path", func(c *Config) { c.PatternStore, c.SQLitePath = StoreSQLite, "" }, []string{"SQLITE_PATH"}},
		{"postgres without url", func(c *Config) { c.PatternStore = StorePostgres }, []string{"DATABASE_URL"}},
		{"postgres with url", func(c *Config) { c.PatternStore, c.DatabaseURL = StorePostgres, "postgres://localhost/sentinel" }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := defaults(t)
			tt.mutate(&c)
			err := c.Validate()

			if len(tt.errSubstr) == 0 {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			for _, s := range tt.errSubstr {
				if !strings.Contains(err.Error(), s) {
					t.Errorf("error %q does not contain %q", err, s)
				}
			}
		})
	}
}
