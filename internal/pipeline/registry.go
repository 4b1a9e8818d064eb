package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nbrandao/schemaflow/internal/store"
)

// RegistrySchema is the reserved schema that maps header fingerprints to
// the schema a file layout was previously imported into.
const RegistrySchema = "schema_registry"

// Registry remembers which schema each header layout landed in, so a file
// with a known layout skips matching entirely.
type Registry struct {
	records store.RecordStore
	logger  *slog.Logger
}

func NewRegistry(records store.RecordStore, logger *slog.Logger) *Registry {
	return &Registry{
		records: records,
		logger:  logger.With(slog.String("component", "schema_registry")),
	}
}

// Lookup returns the schema name registered for a header fingerprint, or ""
// when the layout has not been seen.
func (r *Registry) Lookup(ctx context.Context, headerFP string) (string, error) {
	rec, err := r.records.Get(ctx, RegistrySchema,
		store.Predicate{"name": store.String(headerFP)}, []string{"schema"})
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("registry lookup: %w", err)
	}
	return rec.Fields["schema"].Text(), nil
}

// Register records the layout → schema association. Registering a layout
// that is already known is a no-op, even for a different schema: the first
// association wins, matching how the original resolved repeat files.
func (r *Registry) Register(ctx context.Context, headerFP, schemaName string) error {
	err := r.records.Insert(ctx, RegistrySchema, headerFP, store.Record{
		"schema":        store.String(schemaName),
		"registered_at": store.Time(time.Now()),
	})
	if errors.Is(err, store.ErrDuplicateName) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("register layout: %w", err)
	}
	r.logger.DebugContext(ctx, "layout registered",
		slog.String("fingerprint", headerFP),
		slog.String("schema", schemaName))
	return nil
}
