package pipeline

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/linnemanlabs/sentinel/internal/incident"
)

func TestMetrics_Hooks(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	h := newHarness(t)
	h.engine.hooks = m.Hooks()

	mustIngest(t, h, checkoutEnvelope("inc-1"))
	low := checkoutEnvelope("inc-2")
	low.Service = "search-api"
	mustIngest(t, h, low)
	if _, err := h.engine.Approve(context.Background(), "inc-1", Approval{Decision: incident.DecisionApprove}); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	if got := testutil.ToFloat64(m.IngestedTotal); got != 2 {
		t.Errorf("ingested = %v, want 2", got)
	}
	for status, want := range map[string]float64{"pr_ready": 1, "escalated": 1, "approved": 1} {
		if got := testutil.ToFloat64(m.OutcomesTotal.WithLabelValues(status)); got != want {
			t.Errorf("outcomes{status=%q} = %v, want %v", status, got, want)
		}
	}
	if got := testutil.ToFloat64(m.EscalationTotal.WithLabelValues("investigation")); got != 1 {
		t.Errorf("escalations{stage=investigation} = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.StageDuration); got < 4 {
		t.Errorf("stage duration series = %d, want at least 4", got)
	}
	if n, err := testutil.GatherAndCount(reg, "sentinel_incidents_ingested_total"); err != nil || n != 1 {
		t.Errorf("gather ingested = %d, %v", n, err)
	}
}

func TestEngineHooks_NilSafe(t *testing.T) {
	t.Parallel()

	var h EngineHooks
	h.ingest()
	h.stage(incident.StageTriage, 0)
	h.investigation(0.5)
	h.outcome(incident.StatusEscalated, 1)
	h.escalation(incident.StagePatch)
}

func TestRun_CreatesSpans(t *testing.T) {
	// Not parallel: swaps the global OTel tracer provider.

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	h := newHarness(t)
	mustIngest(t, h, checkoutEnvelope("inc-span"))

	counts := make(map[string]int)
	for _, s := range exporter.GetSpans() {
		attrs := make(map[string]any)
		for _, a := range s.Attributes {
			attrs[string(a.Key)] = a.Value.AsInterface()
		}
		if attrs["sentinel.incident.id"] != "inc-span" {
			continue
		}
		counts[s.Name]++

		if v := attrs["sentinel.incident.fingerprint"]; v != "checkout-api:prod:http_5xx_rate:/checkout" {
			t.Errorf("%s fingerprint = %v", s.Name, v)
		}
		switch s.Name {
		case "pipeline.triage":
			if v := attrs["sentinel.triage.severity"]; v != "critical" {
				t.Errorf("triage severity = %v, want critical", v)
			}
		case "pipeline.investigation":
			if _, ok := attrs["sentinel.investigation.confidence"]; !ok {
				t.Error("investigation span missing confidence")
			}
		case "pipeline.approval":
			if _, ok := attrs["sentinel.pr.url"]; !ok {
				t.Error("approval span missing pr url")
			}
		}
	}

	for _, name := range []string{"pipeline.triage", "pipeline.investigation", "pipeline.patch_and_verify", "pipeline.approval"} {
		if counts[name] != 1 {
			t.Errorf("%s spans = %d, want 1", name, counts[name])
		}
	}
}
