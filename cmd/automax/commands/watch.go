package commands

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/automaxhq/automax/pkg/steps"
)

func newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the steps directory and re-validate on change",
		Long: `Watch the configured steps directory and re-run validation whenever a
step file is created, modified, or removed. Useful while authoring workflows.`,
		Example: `  automax watch`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, tel, err := bootstrap()
			if err != nil {
				return err
			}
			defer tel.Shutdown(cmd.Context())
			log := tel.Logger

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("creating watcher: %w", err)
			}
			defer watcher.Close()

			if err := watcher.Add(cfg.StepsDir); err != nil {
				return fmt.Errorf("watching %s: %w", cfg.StepsDir, err)
			}

			revalidate := func() {
				defs, err := steps.LoadDir(cfg.StepsDir)
				if err != nil {
					log.WithError(err).Error("Validation failed")
					return
				}
				log.WithField("steps", len(defs)).Info("Steps valid")
			}
			revalidate()

			// Editors fire bursts of events per save; coalesce them.
			var debounce *time.Timer
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					ext := strings.ToLower(filepath.Ext(event.Name))
					if ext != ".yaml" && ext != ".yml" {
						continue
					}
					if debounce != nil {
						debounce.Stop()
					}
					debounce = time.AfterFunc(250*time.Millisecond, revalidate)
				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					log.WithError(err).Warn("Watcher error")
				}
			}
		},
	}

	return cmd
}
