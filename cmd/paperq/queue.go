package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/paper-translate/internal/ingest"
	"github.com/joseph-ayodele/paper-translate/internal/repository"
)

func newAddCmd(a *app) *cobra.Command {
	var (
		fromDir bool
		force   bool
		watch   bool
	)
	cmd := &cobra.Command{
		Use:   "add [paper-id...]",
		Short: "Queue papers for translation",
		Long: "Queue the given paper ids, or with --from-dir every valid record in the papers directory.\n" +
			"Existing jobs are left alone unless --force resets them to pending.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !fromDir && !watch && len(args) == 0 {
				return fmt.Errorf("no paper ids given (use --from-dir to scan %s)", a.cfg.Papers.InputDir)
			}
			ctx := cmd.Context()
			return a.withStore(ctx, func(store repository.JobStore) error {
				if len(args) > 0 {
					n, err := store.AddJobs(ctx, args, force)
					if err != nil {
						return err
					}
					fmt.Fprintf(a.out, "added %d of %d job(s)\n", n, len(args))
				}
				ing := ingest.NewFSIngestor(store, force, a.logger)
				if fromDir && !watch {
					_, st, err := ing.IngestDirectory(ctx, a.cfg.Papers.InputDir, true)
					if err != nil {
						return err
					}
					fmt.Fprintf(a.out, "scanned=%d valid=%d added=%d skipped=%d failed=%d\n",
						st.Scanned, st.Valid, st.Added, st.Skipped, st.Failed)
				}
				if watch {
					wctx, stop := signalContext(ctx)
					defer stop()
					err := ing.Watch(wctx, ingest.WatchConfig{
						Root:        a.cfg.Papers.InputDir,
						InitialScan: fromDir,
						Debounce:    500 * time.Millisecond,
					})
					if err != nil && wctx.Err() == nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&fromDir, "from-dir", false, "scan the papers directory for records")
	cmd.Flags().BoolVar(&force, "force", false, "reset existing jobs to pending")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and queue records as they appear")
	return cmd
}

func newClaimCmd(a *app) *cobra.Command {
	var (
		workerID string
		batch    int
	)
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Claim jobs for a worker and print their ids",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return a.withStore(ctx, func(store repository.JobStore) error {
				jobs, err := store.ClaimBatch(ctx, workerID, batch, a.cfg.Worker.MaxAttempts)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintln(a.out, "no claimable jobs")
				}
				for _, j := range jobs {
					fmt.Fprintf(a.out, "%s\tattempt=%d\n", j.PaperID, j.Attempts)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&workerID, "worker", "", "worker id recorded on the claimed jobs")
	cmd.Flags().IntVar(&batch, "batch", 1, "number of jobs to claim")
	_ = cmd.MarkFlagRequired("worker")
	return cmd
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print job counts by status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd.Context(), func(repository.JobStore) error { return nil })
		},
	}
}

func newResetStuckCmd(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "reset-stuck",
		Short: "Requeue in_progress jobs whose worker went away",
		Long: "Requeue in_progress jobs older than --timeout. Jobs that already used\n" +
			"WORKER_MAX_ATTEMPTS attempts are marked failed instead.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("timeout") {
				timeout = a.cfg.Worker.StuckTimeout
			}
			ctx := cmd.Context()
			return a.withStore(ctx, func(store repository.JobStore) error {
				n, err := store.ResetStuckJobs(ctx, timeout, a.cfg.Worker.MaxAttempts)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "reset %d stuck job(s) older than %s\n", n, timeout)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "age after which an in_progress job counts as stuck (env WORKER_STUCK_TIMEOUT)")
	return cmd
}

func newRetryFailedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-failed",
		Short: "Requeue every failed job with a fresh attempt budget",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return a.withStore(ctx, func(store repository.JobStore) error {
				n, err := store.ResetFailedJobs(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "requeued %d failed job(s)\n", n)
				return nil
			})
		},
	}
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
