// Package audit persists one import-log entry per processed row so a run
// can be replayed without double-counting. Entries key on the row
// fingerprint, so re-logging the same row is a no-op.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nbrandao/schemaflow/internal/store"
)

// LogSchema is the reserved schema name the import log lives under.
const LogSchema = "import_log"

// Entry describes the outcome of a single processed row.
type Entry struct {
	Fingerprint string
	SourceFile  string
	Schema      string
	RecordName  string
	Action      string
	Error       string
}

// Logger writes import-log entries to the record store.
type Logger struct {
	records store.RecordStore
	logger  *slog.Logger
	now     func() time.Time
}

func NewLogger(records store.RecordStore, logger *slog.Logger) *Logger {
	return &Logger{
		records: records,
		logger:  logger.With(slog.String("component", "audit")),
		now:     time.Now,
	}
}

// Record persists the entry under the row fingerprint. A fingerprint that
// was already logged is left untouched, so retried batches stay idempotent.
func (l *Logger) Record(ctx context.Context, e Entry) error {
	if e.Fingerprint == "" {
		return fmt.Errorf("audit entry without fingerprint")
	}

	exists, err := l.records.Exists(ctx, LogSchema, store.Predicate{"name": store.String(e.Fingerprint)})
	if err != nil {
		return fmt.Errorf("check import log: %w", err)
	}
	if exists {
		l.logger.DebugContext(ctx, "row already logged",
			slog.String("fingerprint", e.Fingerprint))
		return nil
	}

	rec := store.Record{
		"source_file": store.String(e.SourceFile),
		"schema":      store.String(e.Schema),
		"record_name": store.String(e.RecordName),
		"action":      store.String(e.Action),
		"logged_at":   store.Time(l.now()),
	}
	if e.Error != "" {
		rec["error"] = store.String(e.Error)
	}

	if err := l.records.Insert(ctx, LogSchema, e.Fingerprint, rec); err != nil {
		// A concurrent writer beat us to the same fingerprint.
		if errors.Is(err, store.ErrDuplicateName) {
			return nil
		}
		return fmt.Errorf("write import log: %w", err)
	}
	return nil
}

// Seen reports whether a fingerprint has already been logged.
func (l *Logger) Seen(ctx context.Context, fp string) (bool, error) {
	return l.records.Exists(ctx, LogSchema, store.Predicate{"name": store.String(fp)})
}
