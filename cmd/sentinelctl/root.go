package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/sentinel/internal/client"
)

type globalFlags struct {
	server  string
	token   string
	timeout time.Duration
	json    bool
}

// newRootCmd builds the command tree. Flags live on the returned tree so
// tests can build independent instances.
func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "sentinelctl",
		Short: "Operate the sentinel incident remediation pipeline",
		Long: "sentinelctl lists incidents, inspects approval packages, records\n" +
			"approve/reject decisions and triggers retries against a sentinel server.",
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.server, "server", envOr("SENTINEL_SERVER", "http://localhost:8080"), "sentinel API base URL (env SENTINEL_SERVER)")
	pf.StringVar(&g.token, "token", os.Getenv("SENTINEL_API_TOKEN"), "bearer token for mutating calls (env SENTINEL_API_TOKEN)")
	pf.DurationVar(&g.timeout, "timeout", client.DefaultTimeout, "per-request timeout")
	pf.BoolVar(&g.json, "json", false, "print raw JSON instead of a summary")

	root.AddCommand(
		newListCmd(g),
		newGetCmd(g),
		newDecisionCmd(g, "approve"),
		newDecisionCmd(g, "reject"),
		newRetryCmd(g),
		newSyntheticCmd(g),
		newPatternsCmd(g),
	)
	return root
}

func (g *globalFlags) client() *client.Client {
	return client.New(g.server, client.WithToken(g.token))
}

func (g *globalFlags) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), g.timeout)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
