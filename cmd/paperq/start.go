package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/paper-translate/internal/worker"
)

func newStartCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start N",
		Short: "Launch N independent worker processes and wait for them",
		Long: "Each worker is a separate \"paperq work\" process sharing only the job store.\n" +
			"Flags after -- are passed to every worker.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var n int
			if _, err := fmt.Sscanf(args[0], "%d", &n); err != nil || n <= 0 {
				return fmt.Errorf("worker count must be a positive integer, got %q", args[0])
			}
			passthrough := args[1:]
			if err := a.validateWorkers(passthrough); err != nil {
				return err
			}
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("locate executable: %w", err)
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			var g errgroup.Group
			for i := range n {
				id := worker.NewWorkerID()
				argv := append([]string{"work", "--worker", id}, passthrough...)
				c := exec.CommandContext(ctx, exe, argv...)
				c.Stdout = cmd.OutOrStdout()
				c.Stderr = cmd.ErrOrStderr()
				c.Env = a.childEnv()
				c.Cancel = func() error { return c.Process.Signal(syscall.SIGTERM) }
				c.WaitDelay = a.cfg.Worker.JobTimeout + 30*time.Second
				if err := c.Start(); err != nil {
					stop()
					_ = g.Wait()
					return fmt.Errorf("start worker %d: %w", i+1, err)
				}
				a.logger.Info("worker.process.started", "worker_id", id, "pid", c.Process.Pid)
				g.Go(func() error {
					err := c.Wait()
					a.logger.Info("worker.process.exited", "worker_id", id, "pid", c.Process.Pid, "error", err)
					if err != nil && ctx.Err() == nil {
						return fmt.Errorf("worker %s: %w", id, err)
					}
					return nil
				})
			}
			werr := g.Wait()

			store, err := a.openStore(context.WithoutCancel(ctx))
			if err != nil {
				return err
			}
			defer store.Close()
			if err := a.printStats(context.WithoutCancel(ctx), store); err != nil {
				return err
			}
			return werr
		},
	}
	return cmd
}

// childEnv carries resolved settings to worker processes. Listen addresses
// are dropped since N processes cannot share them.
func (a *app) childEnv() []string {
	return append(os.Environ(),
		"STORE_BACKEND="+a.cfg.Store.Backend,
		"STORE_PATH="+a.cfg.Store.Path,
		"DB_URL="+a.cfg.Store.DSN,
		"PAPERS_DIR="+a.cfg.Papers.InputDir,
		"TRANSLATIONS_DIR="+a.cfg.Papers.OutputDir,
		"LOG_LEVEL="+a.cfg.Log.Level,
		"LOG_FORMAT="+a.cfg.Log.Format,
		"METRICS_ADDR=",
		"GRPC_ADDR=",
	)
}

// validateWorkers checks the configuration with the work flags each child
// will receive applied, so a passthrough --dry-run needs no API key.
func (a *app) validateWorkers(passthrough []string) error {
	var wf workFlags
	child := &cobra.Command{Use: "work"}
	wf.register(child)
	child.Flags().ParseErrorsWhitelist.UnknownFlags = true
	if err := child.Flags().Parse(passthrough); err != nil {
		return fmt.Errorf("worker flags: %w", err)
	}
	cfg := *a.cfg
	wf.apply(child, &cfg.Worker)
	return cfg.ValidateForTranslation()
}
