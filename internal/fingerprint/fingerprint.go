// Package fingerprint derives stable content hashes for rows and header sets.
// Row fingerprints drive duplicate detection across repeated imports of the
// same file; header fingerprints key the schema registry so a file layout seen
// before maps straight to its target schema.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// RowHashLength is the number of hex characters kept from the full digest.
// 16 hex chars (64 bits) keeps collision odds negligible at realistic file
// sizes while staying short enough for an indexed column.
const RowHashLength = 16

// Options controls how row fingerprints are derived.
type Options struct {
	// ContentOnly drops the row ordinal from the hash input, so rows with
	// identical content collapse to one fingerprint regardless of position.
	ContentOnly bool
}

// Row computes the fingerprint of a single row. Fields are the column names
// after normalization, values the raw cell strings before any coercion, so
// the fingerprint is stable across type-inference changes. Empty values are
// excluded; remaining pairs are sorted by field name so column order never
// affects the hash.
func Row(ordinal int, fields []string, values []string, opts Options) string {
	n := len(fields)
	if len(values) < n {
		n = len(values)
	}

	pairs := make([]string, 0, n)
	for i := 0; i < n; i++ {
		v := strings.TrimSpace(values[i])
		if v == "" {
			continue
		}
		pairs = append(pairs, fields[i]+":"+v)
	}
	sort.Strings(pairs)

	var b strings.Builder
	if !opts.ContentOnly {
		fmt.Fprintf(&b, "ROW_%d", ordinal)
	}
	for _, p := range pairs {
		if b.Len() > 0 {
			b.WriteByte('|')
		}
		b.WriteString(p)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:RowHashLength]
}

// Headers computes a fingerprint over a header set. Headers are lowercased,
// trimmed and sorted before hashing, so cosmetic differences in casing or
// column order produce the same fingerprint. The full digest is returned;
// registry keys are not length constrained the way row hashes are.
func Headers(headers []string) string {
	normalized := make([]string, 0, len(headers))
	for _, h := range headers {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		normalized = append(normalized, h)
	}
	sort.Strings(normalized)

	sum := sha256.Sum256([]byte(strings.Join(normalized, "|")))
	return hex.EncodeToString(sum[:])
}
