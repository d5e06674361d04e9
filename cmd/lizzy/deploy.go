package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/example/lizzy/internal/config"
	"github.com/example/lizzy/internal/deployer"
	"github.com/example/lizzy/internal/senza"
	"github.com/example/lizzy/internal/store"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type deployOptions struct {
	definitionPath  string
	stackName       string
	stackVersion    string
	imageVersion    string
	parameters      []string
	disableRollback bool
}

func newDeployCommand(opts *config.Options) *cobra.Command {
	var o deployOptions
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Create a new stack version and start tracking it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			raw, err := readDefinition(o.definitionPath)
			if err != nil {
				return err
			}
			name := strings.TrimSpace(o.stackName)
			if name == "" {
				if name, err = stackNameFromDefinition(raw); err != nil {
					return err
				}
			}
			a, err := newApp(ctx, opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			d := deployer.Deployment{
				ID:           senza.StackID(name, o.stackVersion),
				StackName:    name,
				StackVersion: o.stackVersion,
				Status:       deployer.StatusDeploying,
			}
			if err := ensureRedeployable(ctx, a.store, d.ID); err != nil {
				return err
			}
			log := a.log.WithValues("deployment", d.ID)
			log.Info("Creating stack.", "image", o.imageVersion)
			if !a.client.Create(ctx, string(raw), o.stackVersion, o.imageVersion, o.parameters, o.disableRollback) {
				return fmt.Errorf("senza create %s failed", d.ID)
			}
			rec := &store.Deployment{
				Deployment:      d,
				ImageVersion:    o.imageVersion,
				Parameters:      o.parameters,
				DisableRollback: o.disableRollback,
			}
			if err := a.store.Put(ctx, rec); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", d.ID, d.Status)
			return nil
		},
	}
	cmd.Flags().StringVarP(&o.definitionPath, "definition", "f", "", "Senza definition file")
	cmd.Flags().StringVar(&o.stackName, "stack-name", "", "Stack name (defaults to SenzaInfo.StackName of the definition)")
	cmd.Flags().StringVar(&o.stackVersion, "version", "", "New stack version")
	cmd.Flags().StringVar(&o.imageVersion, "image", "", "Docker image version to deploy")
	cmd.Flags().StringArrayVarP(&o.parameters, "parameter", "p", nil, "Extra senza parameter (repeatable, e.g. MintBucket=bucket)")
	cmd.Flags().BoolVar(&o.disableRollback, "disable-rollback", false, "Keep a failed stack for inspection instead of rolling it back")
	_ = cmd.MarkFlagRequired("definition")
	_ = cmd.MarkFlagRequired("version")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}

type deploymentGetter interface {
	Get(ctx context.Context, id string) (*store.Deployment, error)
}

// ensureRedeployable allows a deployment id that is unknown or removed.
func ensureRedeployable(ctx context.Context, st deploymentGetter, id string) error {
	existing, err := st.Get(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("look up deployment %s: %w", id, err)
	case !existing.Status.Removed():
		return fmt.Errorf("deployment %s already exists with status %s", id, existing.Status)
	}
	return nil
}

func readDefinition(path string) ([]byte, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expand definition path: %w", err)
	}
	raw, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	return raw, nil
}

type senzaDefinition struct {
	SenzaInfo struct {
		StackName string `yaml:"StackName"`
	} `yaml:"SenzaInfo"`
}

func stackNameFromDefinition(raw []byte) (string, error) {
	var def senzaDefinition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return "", fmt.Errorf("parse definition: %w", err)
	}
	name := strings.TrimSpace(def.SenzaInfo.StackName)
	if name == "" {
		return "", fmt.Errorf("definition has no SenzaInfo.StackName; pass --stack-name")
	}
	return name, nil
}
