package main

import (
	"context"
	"os"

	"github.com/example/lizzy/internal/config"
	"github.com/example/lizzy/internal/logging"
	"github.com/example/lizzy/internal/senza"
	"github.com/example/lizzy/internal/store"
	"github.com/go-logr/logr"
	"github.com/pkg/errors"
)

// app bundles the collaborators a command needs.
type app struct {
	opts   *config.Options
	log    logr.Logger
	client *senza.Client
	store  *store.Store
}

func newApp(ctx context.Context, opts *config.Options, withClient bool) (*app, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	log, err := logging.New(opts.LogLevel, os.Stderr)
	if err != nil {
		return nil, err
	}
	a := &app{opts: opts, log: log}
	if withClient {
		if err := opts.ResolveRegion(ctx); err != nil {
			return nil, err
		}
		a.client = senza.New(senza.Options{
			Binary:    opts.SenzaBinary,
			Region:    opts.Region,
			ExtraArgs: opts.SenzaArgs,
			Timeout:   opts.CommandTimeout,
			Logger:    log,
		})
	}
	st, err := store.Open(ctx, opts.DatabasePath)
	if err != nil {
		return nil, errors.Wrap(err, "open deployment store")
	}
	a.store = st
	return a, nil
}

func (a *app) Close() {
	if a == nil {
		return
	}
	_ = a.store.Close()
}
