package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/lizzy/internal/config"
	"github.com/example/lizzy/internal/scheduler"
	"github.com/spf13/cobra"
)

func newRunCommand(opts *config.Options) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Advance tracked deployments until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			sched := scheduler.New(scheduler.Options{
				Client:      a.client,
				Store:       a.store,
				Logger:      a.log,
				Interval:    opts.PollInterval,
				Concurrency: opts.Concurrency,
			})
			if once {
				res, err := sched.Tick(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "processed=%d changed=%d skipped=%d\n", res.Processed, res.Changed, res.Skipped)
				return nil
			}
			a.log.Info("Scheduler started.", "interval", opts.PollInterval.String(), "concurrency", opts.Concurrency, "db", a.store.Path())
			if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Run a single scheduler tick and exit")
	return cmd
}
