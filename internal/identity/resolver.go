package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/nbrandao/schemaflow/internal/schema"
	"github.com/nbrandao/schemaflow/internal/store"
)

// Uniqueness ratio buckets. The bucket score enters the total at half
// weight; observed data is a weaker signal than schema flags or naming.
const (
	ratioNearUnique = 0.98
	ratioHigh       = 0.90
	ratioModerate   = 0.75
	ratioForeignKey = 0.30

	uniquenessWeight = 0.5
	indexBonus       = 10
)

// Candidate is one scored identity-field candidate for a single row.
type Candidate struct {
	Field string
	Value store.Value
	Score int
	// Breakdown records each contributing signal for diagnostics.
	Breakdown map[string]int
}

// Resolver finds the existing record an incoming row refers to.
type Resolver struct {
	records store.RecordStore
	cutoff  int
	logger  *slog.Logger

	// Uniqueness probes are expensive; ratios are cached per schema and
	// field for the lifetime of the resolver. Callers that need ratios to
	// track store changes construct a fresh resolver.
	mu     sync.Mutex
	ratios map[string]float64
}

func NewResolver(records store.RecordStore, cutoff int, logger *slog.Logger) *Resolver {
	return &Resolver{
		records: records,
		cutoff:  cutoff,
		logger:  logger.With(slog.String("component", "identity_resolver")),
		ratios:  make(map[string]float64),
	}
}

// LookupFingerprint returns the name of the record with the given
// fingerprint, or "" when none exists.
func (r *Resolver) LookupFingerprint(ctx context.Context, schemaName, fp string) (string, error) {
	rec, err := r.records.Get(ctx, schemaName,
		store.Predicate{schema.FingerprintField: store.String(fp)}, []string{schema.FingerprintField})
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("fingerprint lookup: %w", err)
	}
	return rec.Name, nil
}

// Resolve finds an existing record for the row, trying the fingerprint fast
// path first and falling back to ranked field candidates. Returns "" when
// the row has no existing counterpart; the caller inserts.
func (r *Resolver) Resolve(ctx context.Context, s *schema.Schema, row store.Record, fp string) (string, error) {
	if fp != "" {
		name, err := r.LookupFingerprint(ctx, s.Name, fp)
		if err != nil {
			return "", err
		}
		if name != "" {
			return name, nil
		}
	}
	return r.ResolveByFields(ctx, s, row)
}

// ResolveByFields ranks the row's fields and probes the store for each
// candidate above the cutoff, best first. A lookup failure skips that
// candidate rather than failing the row.
func (r *Resolver) ResolveByFields(ctx context.Context, s *schema.Schema, row store.Record) (string, error) {
	candidates := r.RankCandidates(ctx, s, row)
	for _, c := range candidates {
		rec, err := r.records.Get(ctx, s.Name,
			store.Predicate{c.Field: c.Value}, []string{c.Field})
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			r.logger.Warn("candidate lookup failed, skipping",
				slog.String("field", c.Field),
				slog.Any("error", err))
			continue
		}
		r.logger.Debug("row resolved by field",
			slog.String("field", c.Field),
			slog.Int("score", c.Score),
			slog.String("record", rec.Name))
		return rec.Name, nil
	}
	return "", nil
}

// RankCandidates scores every non-empty field of the row and returns those
// at or above the cutoff, strongest first. Ties order by field name so the
// probe sequence is deterministic.
func (r *Resolver) RankCandidates(ctx context.Context, s *schema.Schema, row store.Record) []Candidate {
	var candidates []Candidate
	for field, value := range row {
		if value.IsEmpty() {
			continue
		}
		c, ok := r.scoreField(ctx, s, field, value)
		if !ok || c.Score < r.cutoff {
			continue
		}
		candidates = append(candidates, c)
	}

	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].Score != candidates[b].Score {
			return candidates[a].Score > candidates[b].Score
		}
		return candidates[a].Field < candidates[b].Field
	})
	return candidates
}

// scoreField computes the composite confidence for one field. ok is false
// when the field is excluded from resolution entirely.
func (r *Resolver) scoreField(ctx context.Context, s *schema.Schema, field string, value store.Value) (Candidate, bool) {
	c := Candidate{Field: field, Value: value, Breakdown: make(map[string]int)}

	def := s.Field(field)
	if def != nil {
		if def.Relationship {
			return c, false
		}
		if def.Unique {
			c.Score = scoreDeclaredUnique
			c.Breakdown["declared_unique"] = scoreDeclaredUnique
			return c, true
		}
	}

	nameScore := NameScore(field)
	if nameScore < 0 {
		return c, false
	}
	if nameScore > 0 {
		c.Score += nameScore
		c.Breakdown["name_pattern"] = nameScore
	}

	ratioScore := int(float64(r.uniquenessBucket(ctx, s.Name, field)) * uniquenessWeight)
	c.Score += ratioScore
	c.Breakdown["uniqueness"] = ratioScore

	if def != nil && def.Indexed {
		c.Score += indexBonus
		c.Breakdown["indexed"] = indexBonus
	}
	return c, true
}

func (r *Resolver) uniquenessBucket(ctx context.Context, schemaName, field string) int {
	ratio, err := r.distinctRatio(ctx, schemaName, field)
	if err != nil {
		r.logger.Warn("uniqueness probe failed",
			slog.String("field", field),
			slog.Any("error", err))
		return 0
	}
	switch {
	case ratio >= ratioNearUnique:
		return 90
	case ratio >= ratioHigh:
		return 70
	case ratio >= ratioModerate:
		return 40
	case ratio < ratioForeignKey:
		// Heavily repeated values look like a foreign key.
		return -50
	default:
		return 20
	}
}

func (r *Resolver) distinctRatio(ctx context.Context, schemaName, field string) (float64, error) {
	key := schemaName + "\x00" + field
	r.mu.Lock()
	if ratio, ok := r.ratios[key]; ok {
		r.mu.Unlock()
		return ratio, nil
	}
	r.mu.Unlock()

	ratio, err := r.records.DistinctRatio(ctx, schemaName, field)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	r.ratios[key] = ratio
	r.mu.Unlock()
	return ratio, nil
}
