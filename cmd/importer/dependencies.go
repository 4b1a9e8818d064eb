package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nbrandao/schemaflow/internal/lock"
	"github.com/nbrandao/schemaflow/internal/notify"
	"github.com/nbrandao/schemaflow/internal/pipeline"
	"github.com/nbrandao/schemaflow/internal/store"
	"github.com/nbrandao/schemaflow/internal/trigger"
	"github.com/nbrandao/schemaflow/pkg/config"
	"github.com/nbrandao/schemaflow/pkg/db"
	"github.com/nbrandao/schemaflow/pkg/metrics"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	DB     *db.DB
	Logger *slog.Logger

	Records store.Batcher
	Schemas store.SchemaStore

	Locks    *lock.Manager
	Notifier *notify.Notifier
	Metrics  *metrics.Metrics

	Pipeline  *pipeline.Pipeline
	Watcher   *trigger.Watcher
	Scheduler *trigger.Scheduler
}

// InitDependencies initializes all application dependencies
func InitDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}
	deps.initPipeline()
	deps.initTriggers()

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the database connection, runs migrations and
// wires the Postgres-backed stores.
func (d *Dependencies) initDatabase() error {
	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}
	d.DB = database

	if err := d.DB.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	pg := store.NewPostgres(d.DB.Pool, d.Logger)
	d.Records = pg
	d.Schemas = pg

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

func (d *Dependencies) initPipeline() {
	d.Locks = lock.NewManager(
		d.Config.Locking.Dir,
		d.Config.Locking.WaitTimeout,
		d.Config.Locking.StaleAfter,
		d.Logger,
	)
	d.Notifier = notify.New(
		d.Config.Approval.ResendAPIKey,
		d.Config.Approval.ApproverEmail,
		d.Config.Approval.FromAddress,
		d.Logger,
	)
	d.Metrics = metrics.New()

	d.Pipeline = pipeline.New(
		d.Config,
		d.Records,
		d.Schemas,
		d.Locks,
		d.Notifier,
		d.Metrics,
		d.Logger,
	)
}

func (d *Dependencies) initTriggers() {
	d.Watcher = trigger.NewWatcher(d.Config.Directories.Inbox, d.handleFile, d.Logger)
	d.Scheduler = trigger.NewScheduler(
		d.Config.Directories.Inbox,
		d.Config.Import.ScanSchedule,
		d.handleFile,
		d.Logger,
	)
}

// Close releases long-lived resources.
func (d *Dependencies) Close() {
	if d.DB != nil {
		d.DB.Close()
	}
}
