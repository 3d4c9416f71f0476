package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sentinel/internal/agent"
	sc "github.com/linnemanlabs/sentinel/internal/cfg"
	"github.com/linnemanlabs/sentinel/internal/incident/ledger"
	"github.com/linnemanlabs/sentinel/internal/notify/slack"
	"github.com/linnemanlabs/sentinel/internal/patchgen"
	"github.com/linnemanlabs/sentinel/internal/pattern"
	"github.com/linnemanlabs/sentinel/internal/pattern/memstore"
	"github.com/linnemanlabs/sentinel/internal/pattern/pgstore"
	"github.com/linnemanlabs/sentinel/internal/pattern/sqlitestore"
	"github.com/linnemanlabs/sentinel/internal/pipeline"
	"github.com/linnemanlabs/sentinel/internal/postgres"
	"github.com/linnemanlabs/sentinel/internal/pullrequest"
	"github.com/linnemanlabs/sentinel/internal/telemetry"
	"github.com/linnemanlabs/sentinel/internal/verify"
)

// Outbound call limits for real-mode collaborators. CI runs cover a full test
// suite plus a canary replay.
const (
	collaboratorTimeout = 30 * time.Second
	ciTimeout           = 10 * time.Minute
)

func tracedClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// buildEngine wires the pipeline from configuration. The returned cleanup
// releases the pattern store and must be called after the API has stopped.
func buildEngine(ctx context.Context, L log.Logger, c sc.Config, reg prometheus.Registerer) (*pipeline.Engine, func(), error) {
	patterns, closeStore, err := openPatternStore(ctx, L, c, reg)
	if err != nil {
		return nil, nil, err
	}

	policy := agent.TriagePolicy{
		SupportedSignal: c.SupportedSignal,
		AllowedEnvs:     c.Envs(),
		CriticalRate:    c.CriticalRate,
		HighRate:        c.HighRate,
		MediumRate:      c.MediumRate,
	}

	deps := pipeline.Deps{
		Ledger:    ledger.New(),
		Policy:    policy,
		Patterns:  patterns,
		Approvals: agent.NewApprovalBuilder(c.GitHubBaseBranch, c.ObservabilityURL, nil),
	}

	var (
		source telemetry.Source
		gen    patchgen.Generator
		runner verify.Runner
	)
	switch c.IntegrationMode {
	case sc.ModeReal:
		hc := tracedClient(collaboratorTimeout)
		source = telemetry.NewObservability(
			telemetry.NewPrometheusRange(c.PrometheusEndpoint, c.PrometheusTenantID, hc),
			telemetry.NewLokiRange(c.LokiEndpoint, c.LokiTenantID, hc),
			c.TelemetryLookback,
		)
		gen = patchgen.NewClaude(c.ClaudeAPIKey, c.ClaudeModel)
		runner = verify.NewHTTPRunner(c.CIEndpoint, c.CIToken, tracedClient(ciTimeout))
		gh, err := pullrequest.NewGitHub(c.GitHubAPIURL, c.GitHubOwner, c.GitHubRepo, c.GitHubToken, hc)
		if err != nil {
			closeStore()
			return nil, nil, fmt.Errorf("github client: %w", err)
		}
		deps.PullRequests = gh
		L.Info(ctx, "using real collaborators",
			"prometheus", c.PrometheusEndpoint,
			"loki", c.LokiEndpoint,
			"claude_model", c.ClaudeModel,
			"ci", c.CIEndpoint,
			"repo", c.GitHubOwner+"/"+c.GitHubRepo,
		)
	default:
		fixture := telemetry.DefaultFixture()
		if c.TelemetryFixture != "" {
			if fixture, err = telemetry.LoadFixture(c.TelemetryFixture); err != nil {
				closeStore()
				return nil, nil, fmt.Errorf("telemetry fixture: %w", err)
			}
		}
		source = fixture
		gen = patchgen.NewTemplate()
		runner = &verify.Simulator{
			ForceTestFailure:   c.ForceTestFailure,
			ForceCanaryFailure: c.ForceCanaryFailure,
		}
		deps.PullRequests = pullrequest.NewSimulated(c.GitHubOwner, c.GitHubRepo)
		L.Info(ctx, "using mock collaborators",
			"fixture", c.TelemetryFixture,
			"force_test_failure", c.ForceTestFailure,
			"force_canary_failure", c.ForceCanaryFailure,
		)
	}

	deps.Investigator = agent.NewInvestigator(L, source, patterns, c.SupportedSignal, agent.DefaultScoring())
	deps.Patcher = agent.NewPatchAgent(gen)
	deps.Verifier = verify.NewVerifier(runner, c.LatencyThresholdMs)

	if c.SlackWebhookURL != "" {
		deps.Notifier = slack.New(c.SlackWebhookURL, L)
		L.Info(ctx, "notifier enabled", "type", "slack")
	}

	engCfg := pipeline.Config{
		ConfidenceThreshold:   c.ConfidenceThreshold,
		MaxPatchAttempts:      c.MaxPatchAttempts,
		InvestigationAttempts: c.ToolRetryAttempts,
		DedupeWindow:          c.DedupeWindow,
	}

	var hooks pipeline.EngineHooks
	if reg != nil {
		hooks = pipeline.NewMetrics(reg).Hooks()
	}
	return pipeline.New(engCfg, deps, L, hooks), closeStore, nil
}

// openPatternStore opens the configured pattern backend. For postgres it also
// installs the per-query duration histogram on reg.
func openPatternStore(ctx context.Context, L log.Logger, c sc.Config, reg prometheus.Registerer) (pattern.Store, func(), error) {
	switch c.PatternStore {
	case sc.StoreSQLite:
		st, err := sqlitestore.New(ctx, c.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite pattern store: %w", err)
		}
		L.Info(ctx, "using sqlite pattern store", "path", c.SQLitePath)
		return st, func() { _ = st.Close() }, nil

	case sc.StorePostgres:
		pool, err := postgres.NewPool(ctx, c.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres pool: %w", err)
		}
		st, err := pgstore.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("pgstore init: %w", err)
		}

		postgres.SetSlowQueryThreshold(c.SlowQueryThreshold)
		if reg != nil {
			dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "sentinel_db_query_duration_seconds",
				Help:    "Duration of individual database queries.",
				Buckets: prometheus.DefBuckets,
			}, []string{"source", "caller", "outcome"})
			reg.MustRegister(dbQueryDuration)
			postgres.SetQueryObserver(postgres.QueryObserverFunc(
				func(_ context.Context, q postgres.Query, dur time.Duration) {
					dbQueryDuration.WithLabelValues(q.Source, q.Caller, q.Outcome).Observe(dur.Seconds())
				},
			))
		}
		L.Info(ctx, "using postgres pattern store")
		return st, pool.Close, nil

	default:
		L.Info(ctx, "using in-memory pattern store")
		return memstore.New(), func() {}, nil
	}
}
