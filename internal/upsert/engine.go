package upsert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nbrandao/schemaflow/internal/identity"
	"github.com/nbrandao/schemaflow/internal/schema"
	"github.com/nbrandao/schemaflow/internal/store"
)

// Outcome is the terminal state of one row. Every row ends in exactly one.
type Outcome string

const (
	OutcomeInserted Outcome = "inserted"
	OutcomeUpdated  Outcome = "updated"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// RowInput is one source row ready for a decision.
type RowInput struct {
	Ordinal int
	// Raw holds the original cells keyed by source column name.
	Raw map[string]string
	// Mapping binds source columns to schema field names.
	Mapping     map[string]string
	Fingerprint string
	Source      string
	Batch       string
}

// RowResult records what happened to one row.
type RowResult struct {
	Ordinal     int
	Outcome     Outcome
	RecordName  string
	Fingerprint string
	Err         error
}

// Engine applies per-row upsert decisions.
type Engine struct {
	records  store.RecordStore
	resolver *identity.Resolver
	logger   *slog.Logger
	now      func() time.Time
}

func NewEngine(records store.RecordStore, resolver *identity.Resolver, logger *slog.Logger) *Engine {
	return &Engine{
		records:  records,
		resolver: resolver,
		logger:   logger.With(slog.String("component", "upsert_engine")),
		now:      time.Now,
	}
}

// ProcessRow runs the full decision for one row: validate, resolve, then
// insert, update or skip. Errors surface on the result, never as a panic or
// batch abort.
func (e *Engine) ProcessRow(ctx context.Context, s *schema.Schema, in RowInput) RowResult {
	result := RowResult{Ordinal: in.Ordinal, Fingerprint: in.Fingerprint}

	converted, err := e.convert(ctx, s, in)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Err = err
		return result
	}

	// Fingerprint fast path. A hit means the stored hash equals ours, so
	// the row is unchanged since its last import.
	if name, err := e.resolver.LookupFingerprint(ctx, s.Name, in.Fingerprint); err != nil {
		result.Outcome = OutcomeFailed
		result.Err = err
		return result
	} else if name != "" {
		result.Outcome = OutcomeSkipped
		result.RecordName = name
		return result
	}

	// Business-key fallback. No fingerprint was matched, so anything found
	// here carries different data and is always updated.
	name, err := e.resolver.ResolveByFields(ctx, s, converted)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Err = err
		return result
	}

	// Last resort: a high-confidence derived name pointing at an existing
	// record identifies the same entity even when its identity fields
	// changed value in this row.
	derived, hasDerived := DeriveName(converted)
	if name == "" && hasDerived {
		taken, err := e.records.Exists(ctx, s.Name, store.Predicate{"name": store.String(derived.Name)})
		if err == nil && taken {
			name = derived.Name
		}
	}

	if name != "" {
		if err := e.update(ctx, s, name, converted, in); err != nil {
			result.Outcome = OutcomeFailed
			result.Err = err
			return result
		}
		result.Outcome = OutcomeUpdated
		result.RecordName = name
		return result
	}

	insertedName, err := e.insert(ctx, s, converted, in, derived, hasDerived)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Err = err
		return result
	}
	result.Outcome = OutcomeInserted
	result.RecordName = insertedName
	return result
}

// convert coerces every mapped cell and validates the row against the
// schema: required fields present, values type-coercible, relationship
// targets existing, lengths within bounds.
func (e *Engine) convert(ctx context.Context, s *schema.Schema, in RowInput) (store.Record, error) {
	converted := make(store.Record, len(in.Mapping))
	var problems []string

	for column, fieldName := range in.Mapping {
		f := s.Field(fieldName)
		if f == nil {
			continue
		}
		v, err := Coerce(in.Raw[column], *f)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		if !v.IsEmpty() {
			converted[fieldName] = v
		}
	}

	for _, f := range s.DataFields() {
		if f.Required {
			if v, ok := converted[f.Name]; !ok || v.IsEmpty() {
				problems = append(problems, fmt.Sprintf("required field %s is missing", f.Name))
			}
		}
		if f.Relationship && f.TargetSchema != "" {
			v, ok := converted[f.Name]
			if !ok || v.IsEmpty() {
				continue
			}
			exists, err := e.records.Exists(ctx, f.TargetSchema, store.Predicate{"name": v})
			if err != nil {
				return nil, fmt.Errorf("check %s target: %w", f.Name, err)
			}
			if !exists {
				problems = append(problems,
					fmt.Sprintf("%s references missing %s %q", f.Name, f.TargetSchema, v.Text()))
			}
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return converted, nil
}

// update writes every non-empty incoming field over the existing record and
// refreshes the fingerprint and import bookkeeping. Empty incoming values
// never clear stored ones; they are simply absent from converted.
func (e *Engine) update(ctx context.Context, s *schema.Schema, name string, converted store.Record, in RowInput) error {
	changes := converted.Clone()
	changes[schema.FingerprintField] = store.String(in.Fingerprint)
	e.stampImport(changes, in)
	if err := e.records.Update(ctx, s.Name, name, changes); err != nil {
		return fmt.Errorf("update %s: %w", name, err)
	}
	e.logger.Debug("row updated",
		slog.Int("ordinal", in.Ordinal),
		slog.String("record", name))
	return nil
}

func (e *Engine) insert(ctx context.Context, s *schema.Schema, converted store.Record, in RowInput, derived NameSuggestion, hasDerived bool) (string, error) {
	base := derived.Name
	if !hasDerived {
		base = FallbackName(s.Name, converted)
	}
	name, err := EnsureUniqueName(ctx, e.records, s.Name, base)
	if err != nil {
		return "", fmt.Errorf("allocate name: %w", err)
	}

	rec := converted.Clone()
	rec[schema.FingerprintField] = store.String(in.Fingerprint)
	e.stampImport(rec, in)
	if err := e.records.Insert(ctx, s.Name, name, rec); err != nil {
		return "", fmt.Errorf("insert %s: %w", name, err)
	}
	e.logger.Debug("row inserted",
		slog.Int("ordinal", in.Ordinal),
		slog.String("record", name))
	return name, nil
}

func (e *Engine) stampImport(rec store.Record, in RowInput) {
	if in.Source != "" {
		rec[schema.ImportSourceField] = store.String(in.Source)
	}
	if in.Batch != "" {
		rec[schema.ImportBatchField] = store.String(in.Batch)
	}
	rec[schema.LastImportAtField] = store.Time(e.now())
}

// IsValidationError reports whether a row failed validation as opposed to a
// store fault.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}
