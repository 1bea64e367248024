package main

import (
	"fmt"

	"github.com/google/renameio/v2"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/paper-translate/constants"
	"github.com/joseph-ayodele/paper-translate/internal/export"
	"github.com/joseph-ayodele/paper-translate/internal/papers"
	"github.com/joseph-ayodele/paper-translate/internal/repository"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		out      string
		statuses []string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the queue and per-record QA results to an XLSX workbook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := make([]constants.JobStatus, 0, len(statuses))
			for _, s := range statuses {
				st := constants.JobStatus(s)
				if !st.Valid() {
					return fmt.Errorf("unknown status %q", s)
				}
				filter = append(filter, st)
			}
			ctx := cmd.Context()
			return a.withStore(ctx, func(store repository.JobStore) error {
				svc := export.NewService(store, papers.NewDirSink(a.cfg.Papers.OutputDir, a.logger), a.logger)
				data, err := svc.ExportXLSX(ctx, filter...)
				if err != nil {
					return err
				}
				if err := renameio.WriteFile(out, data, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", out, err)
				}
				fmt.Fprintf(a.out, "wrote %s (%d bytes)\n", out, len(data))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", "jobs.xlsx", "output workbook")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "only export jobs with these statuses")
	return cmd
}
