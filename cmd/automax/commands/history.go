package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/automaxhq/automax/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit  int
		status string
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show past runs from the history database",
		Long: `List recorded runs, newest first, or show the sub-step outcomes of one
run. Requires history_db to be set in the configuration.`,
		Example: `  # List the last 20 runs
  automax history

  # Only failed runs
  automax history --status failed

  # Sub-step outcomes of one run
  automax history 2f6b9c1e-5a47-4a8e-9d17-31c2a6d0f84b`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, tel, err := bootstrap()
			if err != nil {
				return err
			}
			defer tel.Shutdown(cmd.Context())

			if cfg.HistoryDB == "" {
				return fmt.Errorf("history_db is not set in %s", cfg.Source)
			}

			store, err := stores.NewHistoryStore(stores.Config{Path: cfg.HistoryDB})
			if err != nil {
				return err
			}
			if err := store.Init(cmd.Context()); err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				return showRun(cmd, store, args[0])
			}

			records, err := store.ListRuns(cmd.Context(), stores.ListFilter{
				Status: status,
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}
			for _, record := range records {
				mode := ""
				if record.DryRun {
					mode = "  (dry run)"
				}
				fmt.Printf("%s  %-9s %s  %s%s\n",
					record.ID, record.Status,
					record.StartedAt.Local().Format(time.RFC3339),
					(time.Duration(record.DurationMS) * time.Millisecond).String(),
					mode)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to list")
	cmd.Flags().StringVar(&status, "status", "", "only list runs with this status (succeeded, failed)")

	return cmd
}

func showRun(cmd *cobra.Command, store *stores.HistoryStore, runID string) error {
	record, err := store.GetRun(cmd.Context(), runID)
	if err != nil {
		return err
	}
	results, err := store.GetSubstepResults(cmd.Context(), runID)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"run": record, "results": results})
	}

	fmt.Printf("run %s: %s in %s\n\n", record.ID, record.Status,
		(time.Duration(record.DurationMS) * time.Millisecond).String())
	for _, res := range results {
		line := fmt.Sprintf("%-9s %s:%s", res.State, res.StepID, res.SubstepID)
		if res.Error != nil {
			line += fmt.Sprintf("  (%s: %s)", *res.ErrorKind, *res.Error)
		} else if res.Attempts > 1 {
			line += fmt.Sprintf("  (attempts: %d)", res.Attempts)
		}
		fmt.Println(line)
	}
	return nil
}
