package postgres

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sentinel/internal/origin"
)

var (
	queryObserver      atomic.Pointer[queryObserverHolder]
	slowQueryThreshold atomic.Int64
)

type ctxKey string

const ctxKeyQuery ctxKey = "pgx.query"

type queryObserverHolder struct{ QueryObserver }

// Query describes one finished statement as seen by a QueryObserver.
type Query struct {
	// Source is the origin tag on the context, the HTTP route pattern, or
	// "unknown".
	Source  string
	Caller  string
	Outcome string
}

// QueryObserver receives per-query metrics (wired by main for Prometheus).
type QueryObserver interface {
	ObserveQuery(ctx context.Context, q Query, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, q Query, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, q Query, dur time.Duration) {
	f(ctx, q, dur)
}

// SetQueryObserver sets the global query observer. nil disables it.
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		queryObserver.Store(nil)
		return
	}
	queryObserver.Store(&queryObserverHolder{QueryObserver: o})
}

// SetSlowQueryThreshold sets the duration below which successful queries
// are not logged. Zero logs every query.
func SetSlowQueryThreshold(d time.Duration) {
	slowQueryThreshold.Store(int64(d))
}

func getQueryObserver() QueryObserver {
	h := queryObserver.Load()
	if h == nil {
		return nil
	}
	return h.QueryObserver
}

func sourceFromContext(ctx context.Context) string {
	if v := origin.From(ctx); v != "" {
		return v
	}
	if rc := chi.RouteContext(ctx); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unknown"
}

type queryState struct {
	sql    string
	args   []any
	start  time.Time
	caller string
}

// loggingTracer wraps another pgx.QueryTracer (otelpgx in production) and
// adds a structured log line and an observer callback per query.
type loggingTracer struct {
	inner pgx.QueryTracer
}

func wrapQueryTracer(inner pgx.QueryTracer) pgx.QueryTracer {
	return loggingTracer{inner: inner}
}

func (t loggingTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	st := &queryState{sql: data.SQL, args: data.Args, start: time.Now(), caller: findDBCaller()}

	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}
	if span := trace.SpanFromContext(ctx); st.caller != "" && span.IsRecording() {
		span.SetAttributes(attribute.String("db.caller", st.caller))
	}
	return context.WithValue(ctx, ctxKeyQuery, st)
}

func (t loggingTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	st, ok := ctx.Value(ctxKeyQuery).(*queryState)
	if !ok {
		return
	}
	dur := time.Since(st.start)

	outcome := "ok"
	if data.Err != nil {
		outcome = "error"
	}
	if obs := getQueryObserver(); obs != nil {
		obs.ObserveQuery(ctx, Query{Source: sourceFromContext(ctx), Caller: st.caller, Outcome: outcome}, dur)
	}

	if threshold := time.Duration(slowQueryThreshold.Load()); threshold > 0 && dur < threshold && data.Err == nil {
		return
	}

	fields := []any{
		"db.statement", st.sql,
		"db.args", len(st.args),
		"db.duration", dur.Seconds(),
		"db.source", sourceFromContext(ctx),
	}
	if tag := strings.TrimSpace(data.CommandTag.String()); tag != "" {
		if parts := strings.Fields(tag); len(parts) > 0 {
			fields = append(fields, "db.operation.name", strings.ToUpper(parts[0]))
		}
		fields = append(fields, "db.rows", data.CommandTag.RowsAffected())
	}
	if st.caller != "" {
		fields = append(fields, "db.caller", st.caller)
	}

	L := log.FromContext(ctx)
	if data.Err != nil {
		var pgErr *pgconn.PgError
		if errors.As(data.Err, &pgErr) {
			fields = append(fields, "db.error_code", pgErr.Code, "db.error_constraint", pgErr.ConstraintName)
		}
		L.Error(ctx, data.Err, "db query failed", fields...)
		return
	}
	L.Info(ctx, "db query", fields...)
}

// findDBCaller returns the first application frame issuing the query.
func findDBCaller() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	for {
		fr, more := frames.Next()
		fn := fr.Function
		if fn != "" &&
			!strings.HasPrefix(fn, "runtime.") &&
			!strings.Contains(fn, "github.com/jackc/pgx/v5") &&
			!strings.Contains(fn, "github.com/exaring/otelpgx") &&
			!strings.Contains(fn, "github.com/linnemanlabs/sentinel/internal/postgres.") {
			return shortenFuncName(fn)
		}
		if !more {
			return ""
		}
	}
}

func shortenFuncName(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 && i+1 < len(fn) {
		fn = fn[i+1:]
	}
	if dot := strings.Index(fn, "."); dot >= 0 && dot+1 < len(fn) {
		fn = fn[dot+1:]
	}
	return fn
}
