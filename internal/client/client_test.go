package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sentinel/internal/agent"
	"github.com/linnemanlabs/sentinel/internal/incident"
	"github.com/linnemanlabs/sentinel/internal/incident/ledger"
	"github.com/linnemanlabs/sentinel/internal/incidentapi"
	"github.com/linnemanlabs/sentinel/internal/pattern/memstore"
	"github.com/linnemanlabs/sentinel/internal/patchgen"
	"github.com/linnemanlabs/sentinel/internal/pipeline"
	"github.com/linnemanlabs/sentinel/internal/pullrequest"
	"github.com/linnemanlabs/sentinel/internal/telemetry"
	"github.com/linnemanlabs/sentinel/internal/verify"
)

const testToken = "tok"

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	patterns := memstore.New()
	eng := pipeline.New(pipeline.DefaultConfig(), pipeline.Deps{
		Ledger:       ledger.New(),
		Policy:       agent.DefaultTriagePolicy(),
		Investigator: agent.NewInvestigator(nil, telemetry.DefaultFixture(), patterns, "http_5xx_rate", agent.DefaultScoring()),
		Patcher:      agent.NewPatchAgent(patchgen.NewTemplate()),
		Verifier:     verify.NewVerifier(&verify.Simulator{}, 200),
		PullRequests: pullrequest.NewSimulated("demo-org", "demo-service"),
		Patterns:     patterns,
		Approvals:    agent.NewApprovalBuilder("main", "https://grafana.example.com", nil),
	}, log.Nop(), pipeline.EngineHooks{})

	r := chi.NewRouter()
	incidentapi.New(nil, eng, testToken).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := New(newServer(t).URL+"/", WithToken(testToken))

	syn, err := c.Synthetic(ctx, incidentapi.SyntheticRequest{IncidentID: "inc-demo"})
	if err != nil {
		t.Fatalf("Synthetic: %v", err)
	}
	if syn.IncidentID != "inc-demo" || syn.Status != incident.StatusPRReady || syn.PRURL == "" {
		t.Fatalf("synthetic = %+v", syn)
	}

	list, err := c.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("List = %d, %v", len(list), err)
	}

	rec, err := c.Get(ctx, "inc-demo")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.LinkedArtifacts["pr_url"] != syn.PRURL {
		t.Errorf("pr_url = %q, want %q", rec.LinkedArtifacts["pr_url"], syn.PRURL)
	}

	pats, err := c.Patterns(ctx, 5)
	if err != nil || len(pats) != 1 {
		t.Fatalf("Patterns = %v, %v", pats, err)
	}

	retried, err := c.Retry(ctx, "inc-demo", "patch")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.Status != incident.StatusPRReady {
		t.Errorf("retry status = %s", retried.Status)
	}

	label, err := c.Decide(ctx, "inc-demo", incidentapi.ApproveRequest{Decision: "approve", ApprovedBy: "oncall"})
	if err != nil || label != pipeline.TransitionApproved {
		t.Fatalf("Decide = %q, %v", label, err)
	}
}

func TestClient_Ingest(t *testing.T) {
	t.Parallel()

	c := New(newServer(t).URL, WithToken(testToken))
	resp, err := c.Ingest(context.Background(), incident.Envelope{
		Service:       "checkout-api",
		Env:           "staging",
		SignalType:    "http_5xx_rate",
		SignalPayload: map[string]any{"error_rate": 0.3},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	// No fixture telemetry for staging.
	if resp.Status != incident.StatusEscalated || !strings.HasPrefix(resp.IncidentID, "inc-") {
		t.Errorf("resp = %+v", resp)
	}
}

func TestClient_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := newServer(t)

	_, err := New(srv.URL, WithToken(testToken)).Get(ctx, "missing")
	if !IsNotFound(err) {
		t.Errorf("Get missing = %v, want not found", err)
	}

	_, err = New(srv.URL).Synthetic(ctx, incidentapi.SyntheticRequest{})
	var ae *APIError
	if !errors.As(err, &ae) || ae.StatusCode != http.StatusUnauthorized || ae.Message != "missing or malformed authorization header" {
		t.Errorf("unauthenticated = %v", err)
	}

	_, err = New(srv.URL, WithToken(testToken)).Ingest(ctx, incident.Envelope{Env: "prod"})
	if !errors.As(err, &ae) || ae.StatusCode != http.StatusBadRequest || ae.Fields["service"] != "required" {
		t.Errorf("invalid ingest = %v", err)
	}
}

func TestClient_NonJSONError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL, WithHTTPClient(srv.Client())).List(context.Background())
	var ae *APIError
	if !errors.As(err, &ae) || ae.StatusCode != http.StatusBadGateway || ae.Message != "bad gateway" {
		t.Errorf("err = %v", err)
	}
}
