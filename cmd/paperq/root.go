package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/paper-translate/internal/common"
	"github.com/joseph-ayodele/paper-translate/internal/entity"
	"github.com/joseph-ayodele/paper-translate/internal/repository"
)

// app is the state shared by every subcommand.
type app struct {
	cfg    *common.Config
	logger *slog.Logger
	out    io.Writer
}

type rootFlags struct {
	backend   string
	storePath string
	dbURL     string
	papersDir string
	outDir    string
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	a := &app{out: os.Stdout}
	var f rootFlags

	root := &cobra.Command{
		Use:          "paperq",
		Short:        "Queue and translate Chinese academic papers into English",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.cfg = common.LoadConfig()
			a.applyFlags(cmd, f)
			a.out = cmd.OutOrStdout()
			a.logger = buildLogger(a.cfg.Log.Level, a.cfg.Log.Format, cmd.ErrOrStderr())
			slog.SetDefault(a.logger)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.backend, "store", "", "job store backend: file | sqlite | postgres (env STORE_BACKEND)")
	pf.StringVar(&f.storePath, "store-path", "", "jobs.json or sqlite file (env STORE_PATH)")
	pf.StringVar(&f.dbURL, "db-url", "", "postgres DSN (env DB_URL)")
	pf.StringVar(&f.papersDir, "papers-dir", "", "harvested paper records (env PAPERS_DIR)")
	pf.StringVar(&f.outDir, "out-dir", "", "translated records (env TRANSLATIONS_DIR)")
	pf.StringVar(&f.logLevel, "log-level", "", "debug | info | warn | error (env LOG_LEVEL)")
	pf.StringVar(&f.logFormat, "log-format", "", "text | json (env LOG_FORMAT)")

	root.AddCommand(
		newAddCmd(a),
		newClaimCmd(a),
		newWorkCmd(a),
		newStartCmd(a),
		newBatchCmd(a),
		newStatsCmd(a),
		newResetStuckCmd(a),
		newRetryFailedCmd(a),
		newExportCmd(a),
		newHealthCmd(a),
	)
	return root
}

// applyFlags lets explicitly set flags override the environment.
func (a *app) applyFlags(cmd *cobra.Command, f rootFlags) {
	set := func(name string, dst *string, v string) {
		if cmd.Flags().Changed(name) {
			*dst = v
		}
	}
	set("store", &a.cfg.Store.Backend, f.backend)
	set("store-path", &a.cfg.Store.Path, f.storePath)
	set("db-url", &a.cfg.Store.DSN, f.dbURL)
	set("papers-dir", &a.cfg.Papers.InputDir, f.papersDir)
	set("out-dir", &a.cfg.Papers.OutputDir, f.outDir)
	set("log-level", &a.cfg.Log.Level, f.logLevel)
	set("log-format", &a.cfg.Log.Format, f.logFormat)
}

func (a *app) openStore(ctx context.Context) (repository.JobStore, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := repository.Open(ctx, a.cfg.Store, a.logger)
	if err != nil {
		a.logger.Error("store.open.failed", "backend", a.cfg.Store.Backend, "error", err)
		return nil, fmt.Errorf("open %s store: %w", a.cfg.Store.Backend, err)
	}
	return store, nil
}

// withStore opens the store, runs fn and prints the queue summary.
func (a *app) withStore(ctx context.Context, fn func(store repository.JobStore) error) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			a.logger.Warn("store.close.failed", "error", err)
		}
	}()
	ferr := fn(store)
	if err := a.printStats(context.WithoutCancel(ctx), store); err != nil {
		return errors.Join(ferr, err)
	}
	return ferr
}

func (a *app) printStats(ctx context.Context, store repository.JobStore) error {
	st, err := store.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("read stats: %w", err)
	}
	fmt.Fprintln(a.out, formatStats(st))
	return nil
}

func formatStats(st entity.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "total=%d pending=%d in_progress=%d completed=%d failed=%d qa_flagged=%d",
		st.Total, st.Pending, st.InProgress, st.Completed, st.Failed, st.QAFlagged)
	return b.String()
}

func buildLogger(level, format string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey || a.Key == slog.LevelKey {
				return slog.Attr{}
			}
			return a
		},
	}))
}
