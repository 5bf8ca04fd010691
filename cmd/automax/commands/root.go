// Package commands wires the automax CLI: loading configuration and step
// definitions, building the plugin registry, and driving the run engine.
package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/automaxhq/automax/pkg/config"
	"github.com/automaxhq/automax/pkg/plugin"
	"github.com/automaxhq/automax/pkg/plugins"
	"github.com/automaxhq/automax/pkg/telemetry"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// exitError carries a process exit code through the cobra error path.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// ExitCode maps a command error onto a process exit code. Run failures exit
// with 2 so scripts can tell them from usage errors.
func ExitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "automax",
		Short: "Automax - YAML-driven workflow runner",
		Long: `Automax executes workflows defined as YAML step files: ordered steps of
sub-steps, each dispatching to a plugin, with templated parameters that can
reference configuration values, environment variables, and the outputs of
earlier sub-steps.

Features:
  - Two-phase parameter templating ({name} / $ENV, then {{ expressions }})
  - Output mapping with transform chains (select, filter, map, convert)
  - Per-sub-step retry policies with exponential backoff
  - Run selection by step or step:substep id
  - Dry-run resolution without execution`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "automax.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPluginsCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}

// bootstrap loads the configuration and builds the telemetry stack, applying
// the global flag overrides.
func bootstrap() (*config.Config, *telemetry.Telemetry, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if jsonOutput {
		cfg.Telemetry.Logging.Format = "json"
	}

	tel, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	return cfg, tel, nil
}

// buildRegistry assembles the plugin registry for the loaded configuration.
func buildRegistry(cfg *config.Config) (*plugin.Registry, error) {
	return plugins.NewRegistry(cfg.SSH)
}
