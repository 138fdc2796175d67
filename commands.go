package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rtm0/era5sync/internal/archive"
	"github.com/rtm0/era5sync/internal/catalog"
	"github.com/rtm0/era5sync/internal/cds"
	"github.com/rtm0/era5sync/internal/era5"
	"github.com/rtm0/era5sync/internal/pipeline"
	"github.com/rtm0/era5sync/internal/scheduler"
	"github.com/rtm0/era5sync/internal/status"
)

// reconcile opens the archive and returns it with the units it lacks.
func reconcile(ctx context.Context) (archive.Store, []era5.Unit, error) {
	store, err := archive.Open(ctx, cfg.Archive.Location, cfg.ArchiveOptions())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", era5.ErrListing, err)
	}
	start, err := cfg.Start()
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	end, err := cfg.End(time.Now())
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	units, err := catalog.NewReconciler(logger, store, cfg.Vars()).Reconcile(ctx, start, end)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, units, nil
}

// synchronize runs one reconcile and orchestration pass. Unit failures are
// reported, not returned; only listing and setup errors are.
func synchronize(ctx context.Context, observers ...pipeline.Observer) (pipeline.Report, error) {
	if err := cfg.RequireUpstream(); err != nil {
		return pipeline.Report{}, err
	}
	cdsCli, err := cds.NewClient(logger, cfg.Upstream.URL, cfg.Upstream.Key, cfg.Upstream.MaxConnections, cfg.Upstream.PollInterval)
	if err != nil {
		return pipeline.Report{}, fmt.Errorf("could not create CDS client: %w", err)
	}

	store, units, err := reconcile(ctx)
	if err != nil {
		return pipeline.Report{}, err
	}
	defer store.Close()

	orch := pipeline.New(logger,
		pipeline.NewRetriever(cdsCli, cfg.Upstream.Dataset, cfg.HourStrings()),
		pipeline.NewExporter(logger, store),
		cfg.Vars(),
		pipeline.Options{
			Retries:     cfg.Retries,
			RetryDelay:  cfg.RetryDelay,
			Concurrency: cfg.Concurrency,
			ScratchDir:  cfg.ScratchDir,
		},
		observers...)
	return orch.Run(ctx, units), nil
}

func runMissing(cmd *cobra.Command, _ []string) error {
	store, units, err := reconcile(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	for _, u := range units {
		for _, key := range u.Keys() {
			fmt.Fprintln(out, key)
		}
	}
	return nil
}

func runOnce(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := synchronize(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, res := range report.Failed() {
		fmt.Fprintf(out, "FAILED %s after %d attempts: %v\n", res.Unit, res.Attempts, res.Err)
	}
	fmt.Fprintf(out, "%d units: %d done, %d failed\n",
		len(report.Results), report.Count(pipeline.StateDone), report.Count(pipeline.StateFailed))
	return nil
}

func serve(cmd *cobra.Command, _ []string) error {
	if err := cfg.RequireUpstream(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracker := status.NewTracker()
	sched := scheduler.New(logger, cfg.Schedule, runOnStart, func(ctx context.Context) {
		tracker.Begin()
		report, err := synchronize(ctx, tracker)
		if err != nil {
			logger.Error("synchronization failed", "err", err)
		}
		tracker.Finish(report)
	})
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	app := status.NewApp(logger, tracker)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving status", "addr", cfg.StatusAddr)
		errCh <- app.Listen(cfg.StatusAddr)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("status server stopped: %w", err)
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Error("error during shutdown", "err", err)
	}
	return nil
}
