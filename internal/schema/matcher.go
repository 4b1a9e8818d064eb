package schema

import (
	"log/slog"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

const (
	jaccardWeight  = 0.3
	coverageWeight = 0.5
	exactWeight    = 0.2
)

// fuzzyMapFloor is the minimum similarity for a fuzzy field mapping.
const fuzzyMapFloor = 0.6

// MatchResult is the outcome of matching a file's columns against the known
// schemas. Schema is nil when nothing cleared the threshold.
type MatchResult struct {
	Schema     *Schema
	Confidence float64
	// Scores holds the final score of every candidate, keyed by schema
	// name, for diagnostics and schema-creation requests.
	Scores map[string]float64
}

// ShouldCreate reports whether a new schema is needed.
func (r *MatchResult) ShouldCreate() bool {
	return r.Schema == nil
}

// Matcher scores incoming column sets against candidate schemas.
type Matcher struct {
	threshold float64
	logger    *slog.Logger
}

// NewMatcher creates a matcher with the given acceptance threshold. The
// threshold is assumed already clamped by config loading.
func NewMatcher(threshold float64, logger *slog.Logger) *Matcher {
	return &Matcher{
		threshold: threshold,
		logger:    logger.With(slog.String("component", "schema_matcher")),
	}
}

// FindMatch scores every candidate and returns the best one if it clears the
// threshold. Candidates are evaluated in slice order; on an exact tie the
// earlier candidate wins, so callers must enumerate deterministically.
func (m *Matcher) FindMatch(columns []string, candidates []*Schema) *MatchResult {
	incoming := compactNameSet(columns)
	result := &MatchResult{Scores: make(map[string]float64, len(candidates))}

	var best *Schema
	bestScore := -1.0

	for _, cand := range candidates {
		score := m.score(incoming, cand)
		result.Scores[cand.Name] = score
		if score > bestScore {
			bestScore = score
			best = cand
		}
	}

	if best != nil && bestScore >= m.threshold {
		result.Schema = best
		result.Confidence = bestScore
		m.logger.Debug("schema matched",
			slog.String("schema", best.Name),
			slog.Float64("confidence", bestScore))
	} else {
		result.Confidence = max(bestScore, 0)
		m.logger.Debug("no schema cleared threshold",
			slog.Float64("best", result.Confidence),
			slog.Float64("threshold", m.threshold))
	}
	return result
}

func (m *Matcher) score(incoming map[string]struct{}, cand *Schema) float64 {
	if len(incoming) == 0 {
		return 0
	}

	schemaSet := make(map[string]struct{})
	for _, f := range cand.DataFields() {
		schemaSet[compactName(f.Name)] = struct{}{}
	}
	if len(schemaSet) == 0 {
		return 0
	}

	intersection := 0
	exact := 0
	for name := range incoming {
		if _, ok := schemaSet[name]; ok {
			intersection++
			exact++
		}
	}

	union := len(incoming) + len(schemaSet) - intersection
	jaccard := float64(intersection) / float64(union)
	coverage := float64(intersection) / float64(len(incoming))
	exactRatio := float64(exact) / float64(len(incoming))

	return jaccard*jaccardWeight + coverage*coverageWeight + exactRatio*exactWeight
}

// MapFields maps incoming column names onto a schema's field names. Exact
// compact-form matches bind first; leftovers bind to the closest unclaimed
// field name by Levenshtein similarity, subject to a floor. Unmapped columns
// are absent from the result.
func MapFields(columns []string, s *Schema) map[string]string {
	mapping := make(map[string]string, len(columns))
	claimed := make(map[string]bool)

	fields := s.DataFields()
	byCompact := make(map[string]string, len(fields))
	for _, f := range fields {
		byCompact[compactName(f.Name)] = f.Name
	}

	var leftover []string
	for _, col := range columns {
		if field, ok := byCompact[compactName(col)]; ok && !claimed[field] {
			mapping[col] = field
			claimed[field] = true
			continue
		}
		leftover = append(leftover, col)
	}

	for _, col := range leftover {
		bestField := ""
		bestSim := 0.0
		for _, f := range fields {
			if claimed[f.Name] {
				continue
			}
			sim := similarity(compactName(col), compactName(f.Name))
			if sim > bestSim {
				bestSim = sim
				bestField = f.Name
			}
		}
		if bestField != "" && bestSim >= fuzzyMapFloor {
			mapping[col] = bestField
			claimed[bestField] = true
		}
	}
	return mapping
}

func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := max(len(a), len(b))
	if maxLen == 0 {
		return 0
	}
	distance := fuzzy.LevenshteinDistance(a, b)
	return float64(maxLen-distance) / float64(maxLen)
}

// compactName strips case, whitespace and separators so "Customer ID",
// "customer_id" and "customerid" all compare equal.
func compactName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func compactNameSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		if c := compactName(n); c != "" {
			set[c] = struct{}{}
		}
	}
	return set
}
