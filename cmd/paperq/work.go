package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/paper-translate/internal/common"
	"github.com/joseph-ayodele/paper-translate/internal/llm"
	"github.com/joseph-ayodele/paper-translate/internal/llm/openai"
	"github.com/joseph-ayodele/paper-translate/internal/metrics"
	"github.com/joseph-ayodele/paper-translate/internal/papers"
	"github.com/joseph-ayodele/paper-translate/internal/pipeline"
	"github.com/joseph-ayodele/paper-translate/internal/qa"
	"github.com/joseph-ayodele/paper-translate/internal/repository"
	"github.com/joseph-ayodele/paper-translate/internal/translate"
	"github.com/joseph-ayodele/paper-translate/internal/worker"
)

type workFlags struct {
	workerID     string
	batch        int
	dryRun       bool
	maxIdlePolls int
}

func (f *workFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.workerID, "worker", "", "worker id (env WORKER_ID, default random)")
	cmd.Flags().IntVar(&f.batch, "batch", 0, "jobs claimed per poll (env WORKER_BATCH_SIZE)")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "skip the translation API and echo masked text (env WORKER_DRY_RUN)")
	cmd.Flags().IntVar(&f.maxIdlePolls, "max-idle-polls", 0, "empty polls before exiting (env WORKER_MAX_IDLE_POLLS)")
}

func (f *workFlags) apply(cmd *cobra.Command, cfg *common.WorkerConfig) {
	if cmd.Flags().Changed("worker") {
		cfg.ID = f.workerID
	}
	if cmd.Flags().Changed("batch") {
		cfg.BatchSize = f.batch
	}
	if cmd.Flags().Changed("dry-run") {
		cfg.DryRun = f.dryRun
	}
	if cmd.Flags().Changed("max-idle-polls") {
		cfg.MaxIdlePolls = f.maxIdlePolls
	}
}

func newWorkCmd(a *app) *cobra.Command {
	var f workFlags
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Run one worker until the queue stays empty or a signal arrives",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f.apply(cmd, &a.cfg.Worker)
			return a.runWorker(cmd.Context(), workerConfig(a.cfg.Worker))
		},
	}
	f.register(cmd)
	return cmd
}

func workerConfig(wc common.WorkerConfig) worker.Config {
	return worker.Config{
		WorkerID:       wc.ID,
		BatchSize:      wc.BatchSize,
		MaxAttempts:    wc.MaxAttempts,
		PollInterval:   wc.PollInterval,
		MaxIdlePolls:   wc.MaxIdlePolls,
		MaxStoreErrors: wc.MaxStoreErrors,
		JobTimeout:     wc.JobTimeout,
		Concurrency:    1,
	}
}

// runWorker wires the translation pipeline around a store and runs a worker
// until it stops. Metrics and gRPC health are served when configured.
func (a *app) runWorker(parent context.Context, wcfg worker.Config) error {
	if err := a.cfg.ValidateForTranslation(); err != nil {
		return err
	}
	ctx, stop := signalContext(parent)
	defer stop()

	proc, err := a.buildProcessor()
	if err != nil {
		return err
	}

	return a.withStore(ctx, func(store repository.JobStore) error {
		if a.cfg.Metrics.Addr != "" {
			metrics.StartMetricsServer(ctx, a.cfg.Metrics.Addr, a.logger)
		}
		if a.cfg.Metrics.GRPCAddr != "" {
			if err := startHealthServer(ctx, a.cfg.Metrics.GRPCAddr, store, a.logger); err != nil {
				return err
			}
		}

		w := worker.New(wcfg, store, proc, a.logger)
		runErr := w.Run(ctx)
		sum := w.Summary()
		fmt.Fprintf(a.out, "worker %s: claimed=%d completed=%d flagged=%d failed=%d released=%d\n",
			w.ID(), sum.Claimed, sum.Completed, sum.Flagged, sum.Failed, sum.Released)
		if errors.Is(runErr, worker.ErrFatalAPI) {
			a.logger.Error("worker.halted", "alert", true, "error", runErr)
		}
		return runErr
	})
}

func (a *app) buildProcessor() (*pipeline.Processor, error) {
	glossary, err := common.LoadGlossary(a.cfg.LLM.GlossaryFile)
	if err != nil {
		return nil, err
	}

	httpClient := llm.NewHTTPClient(a.cfg.LLM.ConnectTimeout, a.cfg.LLM.Timeout)
	client := openai.NewClient(openai.Config{
		APIKey:      a.cfg.LLM.APIKey,
		BaseURL:     a.cfg.LLM.BaseURL,
		Temperature: a.cfg.LLM.Temperature,
		MaxAttempts: a.cfg.LLM.MaxAttempts,
		BaseDelay:   a.cfg.LLM.BaseDelay,
		MaxDelay:    a.cfg.LLM.MaxDelay,
	}, httpClient, a.logger)

	svc := translate.NewService(translate.Config{
		Models:          a.cfg.LLM.Models,
		Glossary:        glossary,
		BatchParagraphs: a.cfg.LLM.BatchParagraphs,
	}, client, a.logger)

	return pipeline.NewProcessor(
		a.logger,
		papers.NewDirSource(a.cfg.Papers.InputDir, a.logger),
		svc,
		qa.DefaultThresholds(),
		papers.NewDirSink(a.cfg.Papers.OutputDir, a.logger),
		a.cfg.Worker.DryRun,
	), nil
}

// startHealthServer serves grpc.health.v1 and keeps the serving status in
// step with store reachability until ctx is done.
func startHealthServer(ctx context.Context, addr string, store repository.JobStore, logger *slog.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	go func() {
		logger.Info("grpc.health.start", "addr", addr)
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("grpc.health.error", "error", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		last := healthpb.HealthCheckResponse_SERVING
		for {
			select {
			case <-ctx.Done():
				healthServer.Shutdown()
				grpcServer.GracefulStop()
				return
			case <-ticker.C:
				next := healthpb.HealthCheckResponse_SERVING
				if err := store.Ping(ctx, 5*time.Second); err != nil {
					if ctx.Err() != nil {
						continue
					}
					next = healthpb.HealthCheckResponse_NOT_SERVING
					st := common.GRPCStatus(err)
					logger.Warn("grpc.health.store_unreachable", "code", st.Code().String(), "error", err)
				}
				if next != last {
					healthServer.SetServingStatus("", next)
					last = next
				}
			}
		}
	}()
	return nil
}
