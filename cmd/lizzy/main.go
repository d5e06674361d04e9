// main.go bootstraps lizzy: it builds the root Cobra command and executes it with a signal-aware context.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/example/lizzy/internal/config"
	"github.com/example/lizzy/internal/deployer"
	"github.com/example/lizzy/internal/senza"
	"github.com/example/lizzy/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := newRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	handleError(err)
	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := config.NewOptions()
	cmd := &cobra.Command{
		Use:           "lizzy",
		Short:         "Blue/green deployments of senza stacks",
		Long:          "lizzy creates senza stacks, follows their CloudFormation status, retires old versions and moves traffic to new ones.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.AddFlags(cmd)
	cmd.AddCommand(
		newDeployCommand(opts),
		newRunCommand(opts),
		newStatusCommand(opts),
		newTrafficCommand(opts),
		newPatchCommand(opts),
		newDeleteCommand(opts),
		newVersionCommand(),
	)
	cmd.Example = `  # Create version 42 of the stack described in hello.yaml
  lizzy deploy --definition hello.yaml --version 42 --image 1.3.0

  # Advance deployments until interrupted
  lizzy run --poll-interval 1m

  # Send 25% of the traffic to hello-42
  lizzy traffic hello-42 25`
	bindViper(cmd)
	return cmd
}

func bindViper(root *cobra.Command) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix("LIZZY")
	v.AutomaticEnv()
	configFile := os.Getenv("LIZZY_CONFIG")
	configureConfigFile(v, configFile)

	cobra.OnInitialize(func() {
		if err := v.BindPFlags(root.PersistentFlags()); err != nil {
			cobra.CheckErr(err)
		}
		if err := readConfigFile(v, configFile != ""); err != nil {
			cobra.CheckErr(err)
		}
		root.PersistentFlags().VisitAll(func(f *pflag.Flag) {
			if f.Changed || !v.IsSet(f.Name) {
				return
			}
			val := fmt.Sprintf("%v", v.Get(f.Name))
			if val != "" {
				_ = f.Value.Set(val)
			}
		})
	})
}

func configureConfigFile(v *viper.Viper, explicitPath string) {
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
		return
	}
	v.SetConfigName("config")
	for _, dir := range configSearchDirs() {
		v.AddConfigPath(dir)
	}
}

func readConfigFile(v *viper.Viper, strict bool) error {
	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if errors.As(err, &cfgErr) && !strict {
			return nil
		}
		return err
	}
	return nil
}

func configSearchDirs() []string {
	var dirs []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		dirs = append(dirs, filepath.Join(xdg, "lizzy"))
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		dirs = append(dirs, filepath.Join(home, ".config", "lizzy"), filepath.Join(home, ".lizzy"))
	}
	return dirs
}

func handleError(err error) {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return
	}
	message := err.Error()
	var execErr *senza.ExecutionError
	switch {
	case errors.Is(err, context.Canceled):
		message = "interrupted"
	case errors.Is(err, store.ErrNotFound):
		message = fmt.Sprintf("%s\nHint: run 'lizzy status' to list known deployments.", err)
	case errors.Is(err, deployer.ErrTrafficNotUpdated), errors.Is(err, deployer.ErrAMIImageNotUpdated):
		message = fmt.Sprintf("%s\nHint: rerun with --log-level debug to see the senza invocations.", err)
	case errors.As(err, &execErr) && execErr.Output != "":
		message = fmt.Sprintf("%s\n%s", err, execErr.Output)
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", message)
}
