package cli

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/querytrail/querytrail/internal/api"
	"github.com/querytrail/querytrail/internal/config"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP trigger surface and daily scheduler",
		Long: `Run querytrail as a long-lived service: an HTTP surface for manual runs and
state inspection, Prometheus metrics, config hot-reload, and an optional
daily scheduler that dispatches yesterday at serve.daily_run_at local time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, rootOpts)
		},
	}
	return cmd
}

func runServe(cmd *cobra.Command, opts *RootOptions) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	logger := slog.Default()

	loader, err := config.NewLoader(opts.ConfigPath)
	if err != nil {
		return err
	}
	cfg := loader.Config()
	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}

	handler := api.New(backendFor(rt), loader)

	// Hot-reload: rebuild the pipeline and swap it in atomically.
	loader.OnChange(func(newCfg *config.Config) {
		newRt, err := buildRuntime(ctx, newCfg, logger)
		if err != nil {
			logger.Warn("hot-reload skipped: config invalid", "err", err)
			return
		}
		handler.Swap(backendFor(newRt))
		logger.Info("pipeline hot-reloaded", "bucket", newCfg.Bucket, "output_type", newCfg.OutputType)
	})
	if opts.ConfigPath != "" {
		stopWatch, err := loader.Watch()
		if err != nil {
			logger.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
		} else {
			defer stopWatch()
		}
	}

	if cfg.Serve.DailyRunAt != "" {
		go runScheduler(ctx, handler, cfg.Serve.DailyRunAt, logger)
	}

	srv := &http.Server{
		Addr:         cfg.Serve.Addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Minute, // direct whole-day runs are slow
		IdleTimeout:  60 * time.Second,
	}

	errC := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.Serve.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errC <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errC:
		return err
	case <-quit:
	}
	logger.Info("shutting down")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	cancel()
	return nil
}

func backendFor(rt *runtime) *api.Backend {
	return &api.Backend{
		Dispatcher: rt.dispatcher,
		Runner:     rt.processor,
		States:     rt.states,
		Location:   rt.location,
	}
}

// runScheduler dispatches yesterday once per day at the given local time.
func runScheduler(ctx context.Context, handler *api.Handler, at string, logger *slog.Logger) {
	for {
		wait, loc := untilNext(at, handler)
		logger.Info("daily run scheduled", "in", wait)
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}

		date := time.Now().In(loc).AddDate(0, 0, -1)
		res, err := handler.Backend().Dispatcher.DispatchDay(ctx, date)
		if err != nil {
			logger.Error("scheduled dispatch failed", "date", date.Format("2006-01-02"), "err", err)
			continue
		}
		logger.Info("scheduled dispatch finished",
			"date", res.ReportDate, "execution", res.ExecutionARN, "failed", res.Failed)
	}
}

// untilNext computes the delay to the next occurrence of "HH:MM" local time.
func untilNext(at string, handler *api.Handler) (time.Duration, *time.Location) {
	loc := handler.Backend().Location
	now := time.Now().In(loc)
	target, _ := time.ParseInLocation("15:04", at, loc)
	next := time.Date(now.Year(), now.Month(), now.Day(), target.Hour(), target.Minute(), 0, 0, loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now), loc
}
