// Sentinel turns production incidents into verified, human-approved fixes.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linnemanlabs/go-core/health"
	"github.com/linnemanlabs/go-core/httpserver"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/otelx"
	"github.com/linnemanlabs/go-core/prof"
	v "github.com/linnemanlabs/go-core/version"
)

const (
	appName   = "sentinel"
	component = "server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v.AppName = appName
	v.Component = component
	vi := v.Get()

	opts, err := parseOptions(flag.CommandLine, os.Args[1:], os.Stderr)
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}
	app := opts.app

	lg, err := log.New(opts.log.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", vi.Component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "starting sentinel",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", app.APIPort,
		"admin_port", opts.ops.Port,
		"integration_mode", app.IntegrationMode,
		"pattern_store", app.PatternStore,
		"autonomous_envs", app.AutonomousEnvs,
		"confidence_threshold", app.ConfidenceThreshold,
		"max_patch_attempts", app.MaxPatchAttempts,
		"api_auth", app.APIToken != "",
		"enable_tracing", opts.trace.EnableTracing,
		"otlp_endpoint", opts.trace.OTLPEndpoint,
		"enable_pyroscope", opts.prof.EnablePyroscope,
		"trusted_proxy_hops", opts.mw.TrustedProxyHops,
	)

	// profiling first so the whole process lifetime is covered
	profOpts := opts.prof.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
	}
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", opts.prof.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	traceOpts := opts.trace.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version
	shutdownOtel, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, &vi)
	m.SetProfilingActive(profErr == nil && opts.prof.EnablePyroscope)

	eng, closeStore, err := buildEngine(ctx, L, app, m.Registry())
	if err != nil {
		return err
	}
	defer closeStore()

	var gate health.ShutdownGate

	opsOpts := opts.ops.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = health.Fixed(true, "")
	opsOpts.Readiness = health.All(gate.Probe())
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	// ops listener is for internal scrapers only; it rejects public and forwarded clients
	stopOps, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}

	h := newAPIHandler(L, eng, apiHandlerOptions{
		Token:       app.APIToken,
		TrustedHops: opts.mw.TrustedProxyHops,
		Gate:        &gate,
		Instrument:  m.Middleware,
	})
	apiOpts, err := opts.http.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		_ = stopOps(context.Background())
		return err
	}
	stopAPI, err := httpserver.Start(ctx, fmt.Sprintf(":%d", app.APIPort), h, L, apiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start incident api listener")
		_ = stopOps(context.Background())
		return err
	}

	if err := notifySystemd(); err != nil {
		// not fatal; systemd kills us after its own timeout if it was waiting
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	L.Info(context.Background(), "shutdown signal received")

	gate.Set("draining")
	drain(L, time.Duration(app.DrainSeconds)*time.Second)

	stopAll(L, time.Duration(app.ShutdownBudgetSeconds)*time.Second, []stopFn{
		{"incident api http server", stopAPI},
		{"ops http server", stopOps},
		{"otel", shutdownOtel},
	})

	L.Info(context.Background(), "shutdown complete")
	return nil
}

func notifySystemd() error {
	// NOTIFY_SOCKET is set by systemd for Type=notify units
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // G704: addr is from NOTIFY_SOCKET set by systemd not user input, no context support in net package for unixgram sockets
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
