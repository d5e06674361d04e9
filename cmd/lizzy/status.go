package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/example/lizzy/internal/config"
	"github.com/example/lizzy/internal/deployer"
	"github.com/example/lizzy/internal/store"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newStatusCommand(opts *config.Options) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "status [DEPLOYMENT_ID]",
		Short: "Show tracked deployments, or the status history of one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts, false)
			if err != nil {
				return err
			}
			defer a.Close()
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				if _, err := a.store.Get(ctx, args[0]); err != nil {
					return err
				}
				hist, err := a.store.History(ctx, args[0])
				if err != nil {
					return err
				}
				if output == "json" {
					return writeJSON(out, hist)
				}
				return renderHistory(out, hist)
			}
			deployments, err := a.store.List(ctx)
			if err != nil {
				return err
			}
			if output == "json" {
				return writeJSON(out, deployments)
			}
			return renderDeployments(out, deployments)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table or json")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusColor(s deployer.Status) *color.Color {
	raw, isCF := s.CloudFormationStatus()
	switch {
	case s == deployer.StatusRemoved:
		return color.New(color.Faint)
	case s == deployer.StatusDeploying, s == deployer.StatusDeployed:
		return color.New(color.FgCyan)
	case isCF && strings.HasSuffix(raw, "_COMPLETE") && !strings.Contains(raw, "ROLLBACK") && !strings.HasPrefix(raw, "DELETE"):
		return color.New(color.FgGreen)
	case isCF && strings.HasSuffix(raw, "_IN_PROGRESS"):
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

func renderDeployments(w io.Writer, deployments []*store.Deployment) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTACK\tVERSION\tIMAGE\tSTATUS\tUPDATED")
	for _, d := range deployments {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			d.ID, d.StackName, d.StackVersion, d.ImageVersion,
			statusColor(d.Status).Sprint(d.Status), d.UpdatedAt.Local().Format(time.RFC3339))
	}
	return tw.Flush()
}

func renderHistory(w io.Writer, hist []store.Transition) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tFROM\tTO")
	for _, h := range hist {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", h.At.Local().Format(time.RFC3339), h.From, statusColor(h.To).Sprint(h.To))
	}
	return tw.Flush()
}
