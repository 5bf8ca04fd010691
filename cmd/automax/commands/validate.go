package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/automaxhq/automax/pkg/steps"
)

func newValidateCommand() *cobra.Command {
	var selector string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and step definitions",
		Long: `Load the configuration and every step file from the steps directory and
report structural problems without executing anything.

This command checks:
  - YAML syntax of the config and every step file
  - Required fields, duplicate ids, retry policy sanity
  - That every referenced plugin is registered
  - That a --steps selector only names existing steps and sub-steps`,
		Example: `  # Validate everything
  automax validate

  # Validate a selector against the loaded steps
  automax validate --steps deploy:upload`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, tel, err := bootstrap()
			if err != nil {
				return err
			}
			defer tel.Shutdown(cmd.Context())

			defs, err := steps.LoadDir(cfg.StepsDir)
			if err != nil {
				return err
			}

			registry, err := buildRegistry(cfg)
			if err != nil {
				return err
			}
			for i := range defs {
				for j := range defs[i].Substeps {
					name := defs[i].Substeps[j].Plugin
					if !registry.Has(name) {
						return fmt.Errorf("step %s: sub-step %s references unknown plugin %q",
							defs[i].ID, defs[i].Substeps[j].ID, name)
					}
				}
			}

			if selector != "" {
				sel, err := steps.ParseSelector(selector)
				if err != nil {
					return err
				}
				if err := sel.Validate(defs); err != nil {
					return err
				}
			}

			substeps := 0
			for i := range defs {
				substeps += len(defs[i].Substeps)
			}
			fmt.Printf("ok: %d steps, %d sub-steps in %s\n", len(defs), substeps, cfg.StepsDir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&selector, "steps", "s", "", "selector to check against the loaded steps")

	return cmd
}
