package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/sentinel/internal/incidentapi"
)

func newSyntheticCmd(g *globalFlags) *cobra.Command {
	var req incidentapi.SyntheticRequest
	cmd := &cobra.Command{
		Use:   "synthetic",
		Short: "Run a synthetic 5xx incident through the pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := g.context(cmd)
			defer cancel()

			resp, err := g.client().Synthetic(ctx, req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.json {
				return printJSON(out, resp)
			}
			fmt.Fprintf(out, "%s: %s\n", resp.IncidentID, resp.Status)
			if resp.PRURL != "" {
				fmt.Fprintf(out, "pull request: %s\n", resp.PRURL)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.IncidentID, "id", "", "incident id (default generated)")
	f.StringVar(&req.Service, "service", "", "service name (default checkout-api)")
	f.StringVar(&req.Env, "env", "", "environment (default prod)")
	f.Float64Var(&req.ErrorRate, "error-rate", 0, "observed 5xx rate (default 0.21)")
	f.StringVar(&req.Endpoint, "endpoint", "", "affected endpoint (default /checkout)")
	return cmd
}

func newPatternsCmd(g *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "List recently learned incident patterns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := g.context(cmd)
			defer cancel()

			recs, err := g.client().Patterns(ctx, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.json {
				return printJSON(out, recs)
			}
			if len(recs) == 0 {
				fmt.Fprintln(out, "No patterns.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tFINGERPRINT\tOUTCOME\tCREATED\tFIX")
			for _, p := range recs {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
					p.ID, p.Fingerprint, p.Outcome, p.CreatedAt.UTC().Format("2006-01-02 15:04"), p.FixSignature)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of patterns")
	return cmd
}
