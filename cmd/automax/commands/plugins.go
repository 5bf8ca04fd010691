package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newPluginsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "List the available plugins",
		Long: `List every registered plugin with its required and optional parameters
and its default execution timeout.`,
		Example: `  # Human-readable listing
  automax plugins

  # Machine-readable listing
  automax plugins --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, tel, err := bootstrap()
			if err != nil {
				return err
			}
			defer tel.Shutdown(cmd.Context())

			registry, err := buildRegistry(cfg)
			if err != nil {
				return err
			}

			if jsonOutput {
				out := make([]map[string]any, 0)
				for _, name := range registry.Names() {
					p, err := registry.Get(name)
					if err != nil {
						return err
					}
					meta := p.Metadata()
					out = append(out, map[string]any{
						"name":            meta.Name,
						"description":     meta.Description,
						"required":        meta.Required,
						"optional":        meta.Optional,
						"default_timeout": meta.DefaultTimeout.String(),
					})
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			for _, name := range registry.Names() {
				p, err := registry.Get(name)
				if err != nil {
					return err
				}
				meta := p.Metadata()
				fmt.Printf("%-22s %s\n", meta.Name, meta.Description)
				if len(meta.Required) > 0 {
					fmt.Printf("%-22s   required: %s\n", "", strings.Join(meta.Required, ", "))
				}
				if len(meta.Optional) > 0 {
					fmt.Printf("%-22s   optional: %s\n", "", strings.Join(meta.Optional, ", "))
				}
			}
			return nil
		},
	}

	return cmd
}
