package main

import (
	"github.com/spf13/cobra"
)

func newBatchCmd(a *app) *cobra.Command {
	var (
		concurrency int
		dryRun      bool
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Translate the pending queue in-process with bounded concurrency, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("concurrency") {
				a.cfg.Worker.Concurrency = concurrency
			}
			if cmd.Flags().Changed("dry-run") {
				a.cfg.Worker.DryRun = dryRun
			}
			n := max(a.cfg.Worker.Concurrency, 1)
			wcfg := workerConfig(a.cfg.Worker)
			wcfg.Concurrency = n
			wcfg.BatchSize = n
			wcfg.MaxIdlePolls = 1
			return a.runWorker(cmd.Context(), wcfg)
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "papers translated at once (env BATCH_CONCURRENCY)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "skip the translation API and echo masked text")
	return cmd
}
