package upsert

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/nbrandao/schemaflow/internal/store"
)

const (
	// nameScoreCutoff is the minimum confidence for a field to name the
	// record; below it the fallback paths apply.
	nameScoreCutoff = 70

	// exactMatchBonus rewards a field name that IS the pattern rather
	// than merely containing it.
	exactMatchBonus = 10

	maxNameLength = 140

	// Collision suffixes run -1..-999, then a hash takes over.
	maxNameCollisions = 999
)

// Naming pattern families. Unlike identity resolution these carry no
// foreign-key exclusion: a reference value is still a fine display name.
var namingFamilies = []struct {
	score    int
	patterns []string
}{
	{100, []string{"vin", "code", "serial", "number", "id"}},
	{90, []string{"reference", "ref_no", "invoice", "order", "voucher", "receipt"}},
	{85, []string{"email", "phone", "mobile", "tax_id", "pan", "gstin"}},
	{70, []string{"name", "title", "label", "description"}},
}

// NameSuggestion is the outcome of scanning a row for a nameable field.
type NameSuggestion struct {
	Name  string
	Field string
	Score int
}

// DeriveName scans the row for the highest-confidence nameable field and
// slugs its value. ok is false when no field clears the cutoff; callers then
// use FallbackName.
func DeriveName(row store.Record) (NameSuggestion, bool) {
	type scored struct {
		field string
		value string
		score int
	}
	var best scored

	// Deterministic scan order regardless of map iteration.
	fields := make([]string, 0, len(row))
	for f := range row {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, field := range fields {
		value := row[field]
		if value.IsEmpty() {
			continue
		}
		compact := compactField(field)
		for _, family := range namingFamilies {
			for _, pattern := range family.patterns {
				pc := compactField(pattern)
				if !strings.Contains(compact, pc) && !strings.Contains(pc, compact) {
					continue
				}
				score := family.score
				if compact == pc {
					score += exactMatchBonus
				}
				if score > best.score {
					best = scored{field: field, value: value.Text(), score: score}
				}
			}
		}
	}

	if best.score < nameScoreCutoff {
		return NameSuggestion{}, false
	}
	slug := slugValue(best.value, maxNameLength)
	if len(slug) < 2 {
		return NameSuggestion{}, false
	}
	return NameSuggestion{Name: slug, Field: best.field, Score: best.score}, true
}

// FallbackName names a record from the first non-empty field, prefixed by
// the schema, and finally from a random identifier.
func FallbackName(schemaName string, row store.Record) string {
	prefix := schemaPrefix(schemaName)

	fields := make([]string, 0, len(row))
	for f := range row {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, field := range fields {
		value := row[field]
		if value.IsEmpty() {
			continue
		}
		slug := slugValue(value.Text(), 40)
		if len(slug) >= 2 {
			return prefix + "-" + slug
		}
	}
	return prefix + "-" + uuid.NewString()[:8]
}

// EnsureUniqueName appends -1, -2, ... until the name is free, with a hash
// suffix once the counter is exhausted.
func EnsureUniqueName(ctx context.Context, records store.RecordStore, schemaName, base string) (string, error) {
	if len(base) > maxNameLength-10 {
		base = strings.Trim(base[:maxNameLength-10], "-")
	}

	taken, err := records.Exists(ctx, schemaName, store.Predicate{"name": store.String(base)})
	if err != nil {
		return "", err
	}
	if !taken {
		return base, nil
	}

	for i := 1; i <= maxNameCollisions; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		taken, err := records.Exists(ctx, schemaName, store.Predicate{"name": store.String(candidate)})
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return fmt.Sprintf("%s-%s", base, uuid.NewString()[:6]), nil
}

// slugValue renders a field value as a record name: lowercase, hyphen
// separated, bounded length.
func slugValue(value string, limit int) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(value)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
		if b.Len() >= limit {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}

func schemaPrefix(schemaName string) string {
	compact := compactField(schemaName)
	if len(compact) > 5 {
		compact = compact[:5]
	}
	if compact == "" {
		compact = "rec"
	}
	return compact
}

func compactField(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
