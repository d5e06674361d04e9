package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/example/lizzy/internal/config"
	"github.com/example/lizzy/internal/deployer"
	"github.com/spf13/cobra"
)

func newTrafficCommand(opts *config.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "traffic DEPLOYMENT_ID PERCENTAGE",
		Short: "Route a percentage of the stack traffic to a deployment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			percentage, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid percentage %q: %w", args[1], err)
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, opts, true)
			if err != nil {
				return err
			}
			defer a.Close()
			rec, err := a.store.Get(ctx, args[0])
			if err != nil {
				return err
			}
			weights, err := deployer.NewInstant(rec.Deployment, a.client, a.log).ChangeTraffic(ctx, percentage)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STACK\tVERSION\tIDENTIFIER\tWEIGHT")
			for _, w := range weights {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", w.Str("stack_name"), w.Str("version"), w.Str("identifier"), w.Str("new_weight%"))
			}
			return tw.Flush()
		},
	}
}

func newPatchCommand(opts *config.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "patch DEPLOYMENT_ID IMAGE",
		Short: "Replace the AMI image of a deployment and respawn its instances",
		Long:  "IMAGE is an AMI id or \"latest\".",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts, true)
			if err != nil {
				return err
			}
			defer a.Close()
			rec, err := a.store.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if err := deployer.NewInstant(rec.Deployment, a.client, a.log).UpdateAMIImage(ctx, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s patched to %s\n", rec.ID, args[1])
			return nil
		},
	}
}

func newDeleteCommand(opts *config.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete DEPLOYMENT_ID",
		Short: "Delete the stack of a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts, true)
			if err != nil {
				return err
			}
			defer a.Close()
			rec, err := a.store.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if !a.client.Remove(ctx, rec.StackName, rec.StackVersion) {
				return fmt.Errorf("senza delete %s failed", rec.ID)
			}
			if _, err := a.store.UpdateStatus(ctx, rec.ID, deployer.StatusRemoved); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", rec.ID, deployer.StatusRemoved)
			return nil
		},
	}
}
