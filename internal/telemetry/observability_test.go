package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestObservability(t *testing.T, prom, loki http.HandlerFunc) *Observability {
	t.Helper()
	promSrv := httptest.NewServer(prom)
	t.Cleanup(promSrv.Close)
	lokiSrv := httptest.NewServer(loki)
	t.Cleanup(lokiSrv.Close)

	o := NewObservability(NewPrometheusRange(promSrv.URL, "tenant-a", nil), NewLokiRange(lokiSrv.URL, "tenant-a", nil), time.Hour)
	o.now = func() time.Time { return time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC) }
	return o
}

func unused(t *testing.T) http.HandlerFunc {
	return func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("unexpected request")
	}
}

func TestObservability_RecentDeployments(t *testing.T) {
	t.Parallel()

	o := newTestObservability(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Scope-OrgID"); got != "tenant-a" {
			t.Errorf("X-Scope-OrgID = %q, want tenant-a", got)
		}
		q := r.URL.Query().Get("query")
		if q != `sentinel_deployment_info{service="checkout-api",env="prod"}` {
			t.Errorf("query = %q", q)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"status":"success","data":{"resultType":"matrix","result":[
			{"metric":{"version":"v1","deployment_id":"dep-1","commit":"aaa"},"values":[[1771067700,"1"],[1771067760,"1"]]},
			{"metric":{"version":"v2","deployment_id":"dep-2","commit":"bbb"},"values":[[1771069320,"1"]]},
			{"metric":{"version":"v0"},"values":[]}
		]}}`)
	}, unused(t))

	deps, err := o.RecentDeployments(context.Background(), "checkout-api", "prod")
	if err != nil {
		t.Fatalf("RecentDeployments: %v", err)
	}
	if len(deps) != 2 {
		t.Fatalf("deployments = %d, want 2", len(deps))
	}
	if deps[0].Version != "v2" || deps[1].Version != "v1" {
		t.Errorf("order = %s, %s; want v2, v1", deps[0].Version, deps[1].Version)
	}
	if deps[1].Timestamp.Unix() != 1771067700 {
		t.Errorf("timestamp = %d, want first sample", deps[1].Timestamp.Unix())
	}
}

func TestObservability_QueryMetrics(t *testing.T) {
	t.Parallel()

	o := newTestObservability(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/query_range" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("step") != "60" {
			t.Errorf("step = %q, want 60", r.URL.Query().Get("step"))
		}
		_, _ = fmt.Fprint(w, `{"status":"success","data":{"resultType":"matrix","result":[
			{"metric":{"endpoint":"/checkout"},"values":[[1771069500,"0.18"],[1771069620,"0.21"]]},
			{"metric":{"endpoint":"/cart"},"values":[[1771069560,"0.02"],[1771069560,"NaNx"]]}
		]}}`)
	}, unused(t))

	pts, err := o.QueryMetrics(context.Background(), "checkout-api", "prod", "http_5xx_rate")
	if err != nil {
		t.Fatalf("QueryMetrics: %v", err)
	}
	if len(pts) != 3 {
		t.Fatalf("points = %d, want 3 (unparsable sample dropped)", len(pts))
	}
	if pts[1].Endpoint != "/cart" {
		t.Errorf("points not sorted by time: %+v", pts)
	}
	if pts[2].Value != 0.21 || pts[2].Name != "http_5xx_rate" {
		t.Errorf("last point = %+v", pts[2])
	}
}

func TestObservability_QueryLogs(t *testing.T) {
	t.Parallel()

	o := newTestObservability(t, unused(t), func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/loki/api/v1/query_range" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query().Get("query")
		if !strings.HasPrefix(q, `{service="checkout-api",env="prod"} |~ "(?i)`) {
			t.Errorf("query = %q", q)
		}
		if !strings.Contains(q, `time\\.out`) {
			t.Errorf("filter not regexp-quoted: %q", q)
		}
		_, _ = fmt.Fprint(w, `{"status":"success","data":{"resultType":"streams","result":[
			{"stream":{"level":"error"},"values":[["1771069590000000000","Upstream timeout"]]},
			{"stream":{},"values":[["1771069530000000000","CRITICAL pool exhausted"],["bad","skipped"]]}
		]}}`)
	})

	logs, err := o.QueryLogs(context.Background(), "checkout-api", "prod", "time.out")
	if err != nil {
		t.Fatalf("QueryLogs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("logs = %d, want 2", len(logs))
	}
	if logs[0].Level != "CRITICAL" || logs[1].Level != "ERROR" {
		t.Errorf("levels = %s, %s", logs[0].Level, logs[1].Level)
	}
}

func TestObservability_PropagatesErrors(t *testing.T) {
	t.Parallel()

	fail := func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("down"))
	}
	o := newTestObservability(t, fail, fail)
	ctx := context.Background()

	if _, err := o.RecentDeployments(ctx, "a", "b"); err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("RecentDeployments error = %v, want 503", err)
	}
	if _, err := o.QueryMetrics(ctx, "a", "b", "m"); err == nil {
		t.Error("QueryMetrics: expected error")
	}
	if _, err := o.QueryLogs(ctx, "a", "b", ""); err == nil {
		t.Error("QueryLogs: expected error")
	}
}

func TestPrometheusRange_RejectsNonMatrix(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"status":"success","data":{"resultType":"vector","result":[]}}`)
	}))
	defer srv.Close()

	p := NewPrometheusRange(srv.URL, "", nil)
	now := time.Now()
	if _, err := p.Query(context.Background(), "up", now.Add(-time.Hour), now, time.Minute); err == nil {
		t.Fatal("expected error for vector result")
	}
	if _, err := p.Query(context.Background(), "", now.Add(-time.Hour), now, time.Minute); err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestLineLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		line Line
		want string
	}{
		{"label", Line{Labels: map[string]string{"level": "warn"}, Text: "ERROR in text"}, "WARN"},
		{"detected label", Line{Labels: map[string]string{"detected_level": "error"}}, "ERROR"},
		{"text critical", Line{Text: "critical: disk"}, "CRITICAL"},
		{"text error", Line{Text: "level=error msg=boom"}, "ERROR"},
		{"none", Line{Text: "hello"}, "INFO"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := lineLevel(tt.line); got != tt.want {
				t.Errorf("lineLevel() = %q, want %q", got, tt.want)
			}
		})
	}
}

func FuzzLokiFlatten(f *testing.F) {
	f.Add("1771069590000000000", "line", 5)
	f.Add("", "", 0)
	f.Add("-1", "\x00\xff", 1)

	f.Fuzz(func(t *testing.T, ts, text string, limit int) {
		if limit <= 0 || limit > 500 {
			limit = 1
		}
		// Must not panic
		lines := flattenStreams([]lokiStream{{Values: [][]string{{ts, text}, {ts}}}}, limit)
		if len(lines) > limit {
			t.Fatalf("lines = %d, limit %d", len(lines), limit)
		}
	})
}
