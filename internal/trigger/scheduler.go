package trigger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"
)

// Scheduler sweeps the inbox on a cron schedule. The watcher handles the
// common case; the sweep picks up files that arrived while the process was
// down or whose events were dropped.
type Scheduler struct {
	cron     *cron.Cron
	dir      string
	schedule string
	handle   HandleFunc
	logger   *slog.Logger
}

// NewScheduler creates a scheduler with a standard 5-field cron expression.
func NewScheduler(dir, schedule string, handle HandleFunc, logger *slog.Logger) *Scheduler {
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(
		slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	return &Scheduler{
		cron:     c,
		dir:      dir,
		schedule: schedule,
		handle:   handle,
		logger:   logger.With(slog.String("component", "scheduler")),
	}
}

// Start begins the scheduled sweeps.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		s.Sweep(context.Background())
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("scheduler started",
		slog.String("schedule", s.schedule),
		slog.Int("jobs", len(s.cron.Entries())),
	)
	return nil
}

// Stop gracefully stops the scheduler. The returned context is done when
// any in-flight sweep has finished.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("scheduler stopping")
	return s.cron.Stop()
}

// Sweep hands every importable file currently in the inbox to the handler,
// in name order.
func (s *Scheduler) Sweep(ctx context.Context) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.ErrorContext(ctx, "read inbox", slog.Any("error", err))
		return
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !watchedExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		files = append(files, filepath.Join(s.dir, entry.Name()))
	}
	sort.Strings(files)

	if len(files) == 0 {
		return
	}
	s.logger.InfoContext(ctx, "inbox sweep", slog.Int("files", len(files)))

	for _, path := range files {
		if ctx.Err() != nil {
			return
		}
		s.handle(ctx, path)
	}
}
