package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/sentinel/internal/incident"
	"github.com/linnemanlabs/sentinel/internal/incidentapi"
)

func newListCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List incidents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := g.context(cmd)
			defer cancel()

			recs, err := g.client().List(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.json {
				return printJSON(out, recs)
			}
			if len(recs) == 0 {
				fmt.Fprintln(out, "No incidents.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSERVICE\tENV\tSTATUS\tSTAGE\tCONFIDENCE\tATTEMPTS")
			for _, r := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.2f\t%d\n",
					r.Incident.ID, r.Incident.Service, r.Incident.Env, r.Status, r.Stage, r.Confidence, r.PatchAttempts)
			}
			return tw.Flush()
		},
	}
}

func newGetCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one incident with its artifacts and event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := g.context(cmd)
			defer cancel()

			rec, err := g.client().Get(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.json {
				return printJSON(out, rec)
			}

			fmt.Fprintf(out, "Incident:    %s\n", rec.Incident.ID)
			fmt.Fprintf(out, "Service:     %s/%s\n", rec.Incident.Service, rec.Incident.Env)
			fmt.Fprintf(out, "Fingerprint: %s\n", rec.Fingerprint)
			fmt.Fprintf(out, "Status:      %s (%s)\n", rec.Status, rec.Stage)
			fmt.Fprintf(out, "Confidence:  %.2f\n", rec.Confidence)
			fmt.Fprintf(out, "Attempts:    %d\n", rec.PatchAttempts)
			if rec.LastError != "" {
				fmt.Fprintf(out, "Last error:  %s\n", rec.LastError)
			}
			if rec.Investigation != nil {
				fmt.Fprintf(out, "Root cause:  %s\n", rec.Investigation.Reason)
			}
			if len(rec.LinkedArtifacts) > 0 {
				fmt.Fprintln(out, "Links:")
				keys := make([]string, 0, len(rec.LinkedArtifacts))
				for k := range rec.LinkedArtifacts {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(out, "  %s: %s\n", k, rec.LinkedArtifacts[k])
				}
			}
			fmt.Fprintf(out, "Events: (%d)\n", len(rec.Events))
			for _, e := range rec.Events {
				fmt.Fprintf(out, "  %s %s\n", e.Timestamp.UTC().Format("15:04:05"), e.Kind)
			}
			return nil
		},
	}
}

func newDecisionCmd(g *globalFlags, decision string) *cobra.Command {
	var by, notes string
	cmd := &cobra.Command{
		Use:   decision + " <id>",
		Short: fmt.Sprintf("Record an %s decision on a pr_ready incident", decision),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := g.context(cmd)
			defer cancel()

			label, err := g.client().Decide(ctx, args[0], incidentapi.ApproveRequest{
				Decision:   decision,
				ApprovedBy: by,
				Notes:      notes,
			})
			if err != nil {
				return err
			}
			if g.json {
				return printJSON(cmd.OutOrStdout(), incidentapi.ApproveResponse{StateTransition: label})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], label)
			return nil
		},
	}
	if decision == string(incident.DecisionReject) {
		cmd.Short = "Record a reject decision on a pr_ready incident"
	}
	cmd.Flags().StringVar(&by, "by", envOr("USER", ""), "who is deciding")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes stored with the decision")
	return cmd
}

func newRetryCmd(g *globalFlags) *cobra.Command {
	var stage string
	cmd := &cobra.Command{
		Use:   "retry <id>",
		Short: "Rerun an incident from triage, investigation or patch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := g.context(cmd)
			defer cancel()

			resp, err := g.client().Retry(ctx, args[0], stage)
			if err != nil {
				return err
			}
			if g.json {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s)\n", resp.IncidentID, resp.Status, resp.Stage)
			return nil
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "stage to resume at: triage, investigation or patch (default triage)")
	return cmd
}
