package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/automaxhq/automax/pkg/config"
	"github.com/automaxhq/automax/pkg/runner"
	"github.com/automaxhq/automax/pkg/steps"
	"github.com/automaxhq/automax/pkg/stores"
)

func newRunCommand() *cobra.Command {
	var (
		selector string
		dryRun   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the configured workflow",
		Long: `Load the step definitions from the configured steps directory and execute
them in order. Steps run sequentially; each sub-step dispatches to its plugin
with fully resolved parameters.

With --steps, only the listed steps or sub-steps run; everything else is
recorded as skipped. With --dry-run, parameters are resolved and validated
but no plugin executes.`,
		Example: `  # Run the whole workflow
  automax run

  # Run selected steps and sub-steps
  automax run --steps deploy,verify:health_check

  # Resolve and validate without executing
  automax run --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, tel, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tel.Shutdown(shutdownCtx)
			}()

			if err := tel.StartMetricsServer(); err != nil {
				tel.Logger.WithError(err).Warn("Metrics server failed to start")
			}

			defs, err := steps.LoadDir(cfg.StepsDir)
			if err != nil {
				return err
			}

			opts := runner.Options{DryRun: dryRun}
			if selector != "" {
				sel, err := steps.ParseSelector(selector)
				if err != nil {
					return err
				}
				opts.Selector = sel
			}

			registry, err := buildRegistry(cfg)
			if err != nil {
				return err
			}

			engine := runner.New(registry, tel)
			report, runErr := engine.Run(cmd.Context(), defs, cfg.Values, config.EnvSnapshot(), opts)

			if report != nil {
				printReport(report)
				if cfg.HistoryDB != "" {
					if err := saveHistory(cfg.HistoryDB, report); err != nil {
						tel.Logger.WithError(err).Warn("Failed to record run history")
					}
				}
			}
			if runErr != nil {
				return &exitError{code: 2, err: runErr}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&selector, "steps", "s", "", "comma-separated step or step:substep ids to run")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "resolve and validate without executing plugins")

	return cmd
}

// saveHistory records the finished run in the history database.
func saveHistory(path string, report *runner.Report) error {
	store, err := stores.NewHistoryStore(stores.Config{Path: path})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return err
	}
	defer store.Close()
	return store.SaveReport(ctx, report)
}

// printReport writes the run summary to stdout, as JSON when --json is set.
func printReport(report *runner.Report) {
	if jsonOutput {
		out := map[string]any{
			"run_id":      report.RunID,
			"status":      report.Status,
			"dry_run":     report.DryRun,
			"duration_ms": report.Duration.Milliseconds(),
			"results":     jsonResults(report),
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		return
	}

	for i := range report.Results {
		res := &report.Results[i]
		line := fmt.Sprintf("%-9s %s", res.State, res.QualifiedID())
		if res.State == runner.StateFailed {
			line += fmt.Sprintf("  (%s: %v)", res.ErrorKind, res.Err)
		} else if res.Attempts > 1 {
			line += fmt.Sprintf("  (attempts: %d)", res.Attempts)
		}
		fmt.Println(line)
	}
	fmt.Printf("\nrun %s: %s in %s\n", report.RunID, report.Status, report.Duration.Round(time.Millisecond))
	if failure := report.FirstFailure(); failure != nil {
		fmt.Printf("first failure: %s (%s)\n", failure.QualifiedID(), failure.ErrorKind)
	}
}

func jsonResults(report *runner.Report) []map[string]any {
	out := make([]map[string]any, 0, len(report.Results))
	for i := range report.Results {
		res := &report.Results[i]
		entry := map[string]any{
			"step_id":     res.StepID,
			"substep_id":  res.SubstepID,
			"plugin":      res.Plugin,
			"state":       res.State,
			"attempts":    res.Attempts,
			"duration_ms": res.Duration.Milliseconds(),
		}
		if res.Err != nil {
			entry["error"] = res.Err.Error()
			entry["error_kind"] = res.ErrorKind
		}
		out = append(out, entry)
	}
	return out
}
