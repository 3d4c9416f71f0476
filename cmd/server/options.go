package main

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/otelx"
	"github.com/linnemanlabs/go-core/prof"

	sc "github.com/linnemanlabs/sentinel/internal/cfg"
)

const envPrefix = "SENTINEL_"

// options is every flag-backed config block the server reads.
type options struct {
	app   sc.Config
	http  httpserver.Config
	mw    httpmw.Config
	log   log.Config
	ops   opshttp.Config
	prof  prof.Config
	trace otelx.Config

	showVersion bool
}

// parseOptions registers all config blocks on fs, parses args, then fills
// unset flags from SENTINEL_* environment variables. Command line wins.
func parseOptions(fs *flag.FlagSet, args []string, stderr io.Writer) (*options, error) {
	o := &options{}
	o.app.RegisterFlags(fs)
	o.http.RegisterFlags(fs)
	o.mw.RegisterFlags(fs)
	o.log.RegisterFlags(fs)
	o.ops.RegisterFlags(fs)
	o.prof.RegisterFlags(fs)
	o.trace.RegisterFlags(fs)
	fs.BoolVar(&o.showVersion, "V", false, "Print version+build information and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.showVersion {
		return o, nil
	}

	cfg.FillFromEnv(fs, envPrefix, func(format string, args ...any) {
		fmt.Fprintf(stderr, format+"\n", args...)
	})

	if err := errors.Join(
		o.app.Validate(),
		o.http.Validate(),
		o.mw.Validate(),
		o.log.Validate(),
		o.ops.Validate(),
		o.prof.Validate(),
		o.trace.Validate(),
	); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	if o.app.APIPort == o.ops.Port {
		return nil, fmt.Errorf("http and admin ports must differ (both %d)", o.app.APIPort)
	}
	return o, nil
}
