package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nbrandao/schemaflow/internal/pipeline"
	"github.com/nbrandao/schemaflow/pkg/config"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	deps, err := InitDependencies(cfg, logger)
	if err != nil {
		logger.Error("failed to init dependencies", slog.Any("error", err))
		os.Exit(1)
	}
	defer deps.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Observability.MetricsEnabled {
		go func() {
			if err := deps.Metrics.Serve(ctx, cfg.Observability.MetricsPort, logger); err != nil {
				logger.Error("metrics endpoint failed", slog.Any("error", err))
			}
		}()
	}

	if err := deps.Watcher.Start(ctx); err != nil {
		logger.Error("failed to start watcher", slog.Any("error", err))
		os.Exit(1)
	}
	if err := deps.Scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", slog.Any("error", err))
		os.Exit(1)
	}

	// Catch anything already sitting in the inbox before events arrive.
	deps.Scheduler.Sweep(ctx)

	logger.Info("importer running", slog.String("inbox", cfg.Directories.Inbox))
	<-ctx.Done()

	logger.Info("shutting down")
	deps.Watcher.Stop()
	<-deps.Scheduler.Stop().Done()
}

// handleFile runs one file through the pipeline with the configured
// operation timeout.
func (d *Dependencies) handleFile(ctx context.Context, path string) {
	if d.Config.Import.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Config.Import.OperationTimeout)
		defer cancel()
	}

	summary, err := d.Pipeline.ProcessFile(ctx, path)
	switch {
	case errors.Is(err, pipeline.ErrAwaitingApproval):
		d.Logger.Info("file parked for schema approval", slog.String("path", path))
	case err != nil:
		d.Logger.Error("import failed",
			slog.String("path", path), slog.Any("error", err))
	default:
		d.Logger.Info("import complete", slog.String("summary", summary.String()))
	}
}
