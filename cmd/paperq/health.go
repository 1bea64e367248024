package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/paper-translate/internal/common"
	"github.com/joseph-ayodele/paper-translate/internal/repository"
)

func newHealthCmd(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the job store is reachable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return a.withStore(ctx, func(store repository.JobStore) error {
				start := time.Now()
				if err := store.Ping(ctx, timeout); err != nil {
					fmt.Fprintf(a.out, "store %s: %s\n", a.cfg.Store.Backend, common.GRPCStatus(err).Code())
					return err
				}
				fmt.Fprintf(a.out, "store %s: ok (%dms)\n", a.cfg.Store.Backend, time.Since(start).Milliseconds())
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "ping timeout")
	return cmd
}
