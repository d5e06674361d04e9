// File: internal/config/config.go
// Brief: Runtime options shared by lizzy commands.

// Package config defines the flag plumbing and runtime options shared by
// lizzy commands, translating Cobra/Viper flag values into a strongly typed
// struct that the senza client, store and scheduler consume.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/mattn/go-shellwords"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Options holds configuration common to every lizzy command.
type Options struct {
	Region         string
	SenzaBinary    string
	SenzaArgsRaw   string
	SenzaArgs      []string
	CommandTimeout time.Duration
	DatabasePath   string
	PollInterval   time.Duration
	Concurrency    int
	LogLevel       string
}

// NewOptions returns Options with defaults applied.
func NewOptions() *Options {
	return &Options{
		SenzaBinary:    "senza",
		CommandTimeout: 10 * time.Minute,
		DatabasePath:   "~/.lizzy/lizzy.sqlite",
		PollInterval:   30 * time.Second,
		Concurrency:    4,
		LogLevel:       "info",
	}
}

// AddFlags binds configuration flags to the provided Cobra command.
func (o *Options) AddFlags(cmd *cobra.Command) {
	o.BindFlags(cmd.PersistentFlags())
}

// BindFlags attaches the flags to an arbitrary FlagSet and returns their names.
func (o *Options) BindFlags(fs *pflag.FlagSet) []string {
	var names []string
	fs.StringVar(&o.Region, "region", o.Region, "AWS region passed to senza (defaults to the AWS shared config region)")
	names = append(names, "region")
	fs.StringVar(&o.SenzaBinary, "senza", o.SenzaBinary, "Path to the senza executable")
	names = append(names, "senza")
	fs.StringVar(&o.SenzaArgsRaw, "senza-args", o.SenzaArgsRaw, "Extra arguments appended to every senza invocation (shell quoted)")
	names = append(names, "senza-args")
	fs.DurationVar(&o.CommandTimeout, "command-timeout", o.CommandTimeout, "Timeout for a single senza invocation (0 disables)")
	names = append(names, "command-timeout")
	fs.StringVar(&o.DatabasePath, "db", o.DatabasePath, "Path to the deployment state database")
	names = append(names, "db")
	fs.DurationVar(&o.PollInterval, "poll-interval", o.PollInterval, "Interval between scheduler ticks")
	names = append(names, "poll-interval")
	fs.IntVar(&o.Concurrency, "concurrency", o.Concurrency, "Deployments advanced in parallel per tick")
	names = append(names, "concurrency")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "Log level (debug, info, warn, error)")
	names = append(names, "log-level")
	return names
}

// Validate normalises paths and parses compound flag values.
func (o *Options) Validate() error {
	o.Region = strings.TrimSpace(o.Region)
	if strings.TrimSpace(o.SenzaBinary) == "" {
		return fmt.Errorf("--senza must not be empty")
	}
	args, err := shellwords.Parse(o.SenzaArgsRaw)
	if err != nil {
		return fmt.Errorf("parse --senza-args: %w", err)
	}
	o.SenzaArgs = args
	if o.CommandTimeout < 0 {
		return fmt.Errorf("--command-timeout must not be negative")
	}
	if o.PollInterval <= 0 {
		return fmt.Errorf("--poll-interval must be positive")
	}
	if o.Concurrency < 1 {
		return fmt.Errorf("--concurrency must be at least 1")
	}
	if strings.TrimSpace(o.DatabasePath) == "" {
		return fmt.Errorf("--db must not be empty")
	}
	expanded, err := homedir.Expand(o.DatabasePath)
	if err != nil {
		return fmt.Errorf("expand --db: %w", err)
	}
	o.DatabasePath = expanded
	return nil
}

// ResolveRegion fills Region from the AWS shared configuration when it was
// not set explicitly.
func (o *Options) ResolveRegion(ctx context.Context) error {
	if o.Region != "" {
		return nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	if cfg.Region == "" {
		return fmt.Errorf("no AWS region configured; pass --region or set AWS_REGION")
	}
	o.Region = cfg.Region
	return nil
}
