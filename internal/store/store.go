// Package store defines the record and schema persistence interfaces plus
// their in-memory and Postgres implementations. All predicates are structured
// values; no caller ever builds a query string.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/nbrandao/schemaflow/internal/schema"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrSchemaNotFound = errors.New("schema not found")
	ErrDuplicateName  = errors.New("record name already exists")
)

// distinctRatioSampleCap bounds how many records a uniqueness probe scans.
const distinctRatioSampleCap = 10000

// Record is one row's typed field values keyed by field name.
type Record map[string]Value

// Clone returns a shallow copy; Values are immutable so this is safe.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// StoredRecord is a persisted record plus its system metadata.
type StoredRecord struct {
	Name       string
	Fields     Record
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Predicate matches records whose named fields equal the given values.
type Predicate map[string]Value

// Batcher extends a RecordStore with batch-scoped writes: everything fn
// writes through the scoped store commits together when fn returns nil and
// is discarded when it returns an error.
type Batcher interface {
	RecordStore
	Batch(ctx context.Context, fn func(RecordStore) error) error
}

// RecordStore persists and queries typed records per schema.
type RecordStore interface {
	Exists(ctx context.Context, schemaName string, pred Predicate) (bool, error)
	// Get returns the first record matching pred, restricted to the named
	// fields (all fields when fields is nil). ErrNotFound when no match.
	Get(ctx context.Context, schemaName string, pred Predicate, fields []string) (*StoredRecord, error)
	// Insert persists a new record under the given name.
	// ErrDuplicateName when the name is taken.
	Insert(ctx context.Context, schemaName, name string, rec Record) error
	// Update applies changes to the named record's fields.
	Update(ctx context.Context, schemaName, name string, changes Record) error
	Count(ctx context.Context, schemaName string, pred Predicate) (int, error)
	// DistinctRatio samples up to 10,000 records and returns
	// distinct(field) / non_null(field); 0 when the field is never set.
	DistinctRatio(ctx context.Context, schemaName, field string) (float64, error)
}

// SchemaStore persists schema definitions.
type SchemaStore interface {
	// GetSchema returns ErrSchemaNotFound when the name is unknown.
	GetSchema(ctx context.Context, name string) (*schema.Schema, error)
	CreateSchema(ctx context.Context, s *schema.Schema) error
	AddField(ctx context.Context, schemaName string, f schema.Field) error
	// ListSchemas returns all schema names in a deterministic order.
	ListSchemas(ctx context.Context) ([]string, error)
}
