package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/health"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sentinel/internal/incidentapi"
)

const (
	healthyPath = "/-/healthy"
	readyPath   = "/-/ready"

	maxRequestBody = 64 << 10
)

// apiHandlerOptions carries what the public listener needs besides the
// incident service itself.
type apiHandlerOptions struct {
	Token       string
	TrustedHops int
	Gate        *health.ShutdownGate
	// Instrument wraps the handler for request metrics; nil skips it.
	Instrument func(http.Handler) http.Handler
}

// newAPIHandler builds the public listener: chi routes for the incident API
// and health probes, wrapped in the request middleware chain. Wrappers run
// outermost first, so security headers and panic recovery see every request.
func newAPIHandler(L log.Logger, svc incidentapi.Service, o apiHandlerOptions) http.Handler {
	liveness := health.Fixed(true, "")
	readiness := health.All(o.Gate.Probe())

	r := chi.NewRouter()
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(httpmw.AccessLog())
	r.Use(httpmw.MaxBody(maxRequestBody))

	r.Get(healthyPath, health.HealthzHandler(liveness))
	r.Get(readyPath, health.ReadyzHandler(readiness))
	incidentapi.New(L, svc, o.Token).RegisterRoutes(r)

	var h http.Handler = r
	h = httpmw.WithLogger(L)(h)
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != healthyPath && r.URL.Path != readyPath
		}),
		// renamed to the chi route pattern by AnnotateHTTPRoute
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)
	if o.Instrument != nil {
		h = o.Instrument(h)
	}
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{TrustedHops: o.TrustedHops})(h)
	h = httpmw.RequestID("X-Request-Id")(h)
	h = httpmw.Recover(L, nil)(h)
	h = httpmw.SecurityHeaders(h)
	return h
}
