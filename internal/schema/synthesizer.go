package schema

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nbrandao/schemaflow/internal/inference"
)

const (
	// Short text columns are sized to observed length plus headroom,
	// within these bounds.
	shortTextFloor = 30
	shortTextCap   = 140

	// Observed lengths past these move a text column to a wider type.
	mediumTextThreshold = 140
	longTextThreshold   = 255

	// Storage-engine row constraints. Past maxShortTextFields, further
	// text columns are forced to long text; past maxFieldCount the whole
	// schema degrades to the minimal form.
	maxShortTextFields = 30
	maxFieldCount      = 100
	maxRowWidth        = 65535

	// The minimal fallback keeps at most this many columns.
	minimalFieldCount = 20

	maxSchemaNameLength = 61
)

// Synthesizer builds new target schemas from column profiles.
type Synthesizer struct {
	logger *slog.Logger
}

func NewSynthesizer(logger *slog.Logger) *Synthesizer {
	return &Synthesizer{
		logger: logger.With(slog.String("component", "schema_synthesizer")),
	}
}

// Synthesize builds a schema for the given profiles. The fingerprint field
// always comes first, followed by hidden bookkeeping fields, then one field
// per profile. Wide inputs degrade per the size policy; inputs too wide even
// then fall back to a minimal all-long-text schema.
func (sy *Synthesizer) Synthesize(profiles []inference.Profile, suggestedName string) *Schema {
	s := &Schema{
		Name:   suggestedName,
		Fields: systemFields(),
	}

	if len(profiles) > maxFieldCount {
		sy.logger.Warn("column count exceeds field limit, degrading to minimal schema",
			slog.Int("columns", len(profiles)),
			slog.Int("limit", maxFieldCount))
		s.Fields = append(s.Fields, minimalFields(profiles)...)
		return s
	}

	shortTextCount := 0
	rowWidth := 0
	fields := make([]Field, 0, len(profiles))
	for i, p := range profiles {
		f := fieldFor(p, i)
		if f.Type == FieldShortText {
			shortTextCount++
			if shortTextCount > maxShortTextFields {
				f.Type = FieldLongText
				f.Length = 0
			}
		}
		rowWidth += fieldWidth(f)
		fields = append(fields, f)
	}

	if rowWidth > maxRowWidth {
		sy.logger.Warn("estimated row width exceeds limit, degrading to minimal schema",
			slog.Int("width", rowWidth))
		s.Fields = append(s.Fields, minimalFields(profiles)...)
		return s
	}

	sy.flagUniqueIdentifier(fields, profiles)
	s.Fields = append(s.Fields, fields...)
	return s
}

// uniqueFlagRatio is the observed-uniqueness floor for declaring an
// identifier column unique at schema creation.
const uniqueFlagRatio = 0.8

var uniqueIDPatterns = []string{"id", "code", "reference", "key"}

// flagUniqueIdentifier marks the first identifier-named column whose values
// are distinct across more than 80% of all rows as the schema's unique key.
// At most one field is flagged.
func (sy *Synthesizer) flagUniqueIdentifier(fields []Field, profiles []inference.Profile) {
	for i, p := range profiles {
		if p.UniqueCount == 0 || p.UniquenessRatio() <= uniqueFlagRatio {
			continue
		}
		name := strings.ToLower(p.NormalizedName)
		for _, pattern := range uniqueIDPatterns {
			if strings.Contains(name, pattern) {
				fields[i].Unique = true
				sy.logger.Info("identifier column flagged unique",
					slog.String("field", fields[i].Name),
					slog.Float64("uniqueness", p.UniquenessRatio()))
				return
			}
		}
	}
}

func systemFields() []Field {
	return []Field{
		fingerprintFieldDef(),
		{Name: ImportSourceField, Label: "Import Source", Type: FieldShortText, Length: shortTextCap, Hidden: true},
		{Name: ImportBatchField, Label: "Import Batch", Type: FieldShortText, Length: shortTextCap, Hidden: true},
		{Name: LastImportAtField, Label: "Last Import At", Type: FieldDatetime, Hidden: true},
	}
}

// fieldFor maps an inferred column type onto a storage field, applying the
// text size policy.
func fieldFor(p inference.Profile, position int) Field {
	f := Field{
		Name:  NormalizeFieldName(p.OriginalName, position),
		Label: strings.TrimSpace(p.OriginalName),
	}

	switch p.InferredType {
	case inference.TypeInteger:
		f.Type = FieldInt
	case inference.TypeFloat:
		f.Type = FieldFloat
	case inference.TypeCurrency:
		f.Type = FieldCurrency
	case inference.TypeDate:
		f.Type = FieldDate
	case inference.TypeBoolean:
		f.Type = FieldBool
	case inference.TypeEmail, inference.TypePhone, inference.TypeShortText:
		switch {
		case p.MaxLength > longTextThreshold:
			f.Type = FieldLongText
		case p.MaxLength > mediumTextThreshold:
			f.Type = FieldMediumText
		default:
			f.Type = FieldShortText
			f.Length = min(max(p.MaxLength+10, shortTextFloor), shortTextCap)
		}
	default:
		f.Type = FieldLongText
	}
	return f
}

func fieldWidth(f Field) int {
	switch f.Type {
	case FieldShortText:
		return f.Length * 4
	case FieldMediumText, FieldLongText:
		// Stored out of row, only the pointer counts.
		return 20
	case FieldInt, FieldFloat, FieldCurrency, FieldDate, FieldDatetime:
		return 8
	case FieldBool:
		return 1
	}
	return 8
}

// Name patterns that decide which columns survive minimal-schema degradation,
// most valuable first.
var minimalPriorities = []string{
	"id", "code", "sku", "name", "email", "phone", "amount",
	"price", "total", "date", "description",
}

// minimalFields keeps the most relevant columns, everything long text. The
// degradation is deliberate and logged by the caller, never silent.
func minimalFields(profiles []inference.Profile) []Field {
	type ranked struct {
		profile  inference.Profile
		position int
		score    int
	}

	rankedProfiles := make([]ranked, len(profiles))
	for i, p := range profiles {
		score := 0
		lower := strings.ToLower(p.NormalizedName)
		for j, pat := range minimalPriorities {
			if strings.Contains(lower, pat) {
				score = len(minimalPriorities) - j
				break
			}
		}
		rankedProfiles[i] = ranked{profile: p, position: i, score: score}
	}

	sort.SliceStable(rankedProfiles, func(a, b int) bool {
		return rankedProfiles[a].score > rankedProfiles[b].score
	})

	keep := rankedProfiles
	if len(keep) > minimalFieldCount {
		keep = keep[:minimalFieldCount]
	}
	// Restore source column order for the kept set.
	sort.Slice(keep, func(a, b int) bool {
		return keep[a].position < keep[b].position
	})

	fields := make([]Field, len(keep))
	for i, r := range keep {
		fields[i] = Field{
			Name:  NormalizeFieldName(r.profile.OriginalName, r.position),
			Label: strings.TrimSpace(r.profile.OriginalName),
			Type:  FieldLongText,
		}
	}
	return fields
}

// Suffixes frequently tacked onto export filenames that say nothing about
// the data.
var noisySuffixes = []string{
	"updated", "update", "copy", "final", "new", "latest",
	"export", "data", "file", "sheet", "v2", "v3",
}

// Exact-name aliases redirecting to a canonical schema name.
var schemaAliases = map[string]string{
	"vendor":    "Supplier",
	"vendors":   "Supplier",
	"client":    "Customer",
	"clients":   "Customer",
	"customers": "Customer",
	"suppliers": "Supplier",
	"product":   "Item",
	"products":  "Item",
	"items":     "Item",
}

// SuggestName derives a schema name from a source file path: extension
// stripped, separators spaced, title case, noisy suffixes removed. The result
// round-trips through its slug so the name is always URL safe.
func SuggestName(filePath string) string {
	base := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	base = strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', '.':
			return ' '
		}
		return r
	}, base)

	words := strings.Fields(strings.ToLower(base))
	for len(words) > 0 && isNoisySuffix(words[len(words)-1]) {
		words = words[:len(words)-1]
	}
	if len(words) == 0 {
		words = []string{"imported", "records"}
	}

	name := titleCase(words)
	if len(name) > maxSchemaNameLength {
		name = strings.TrimSpace(name[:maxSchemaNameLength])
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "Import " + name
	}

	// Re-derive from the slug when slugging is lossy, so the stored name
	// and its slug always agree.
	slug := Slugify(name)
	if rederived := titleCase(strings.Split(slug, "-")); rederived != name {
		name = rederived
	}
	return name
}

// ResolveAlias redirects a suggested name to a canonical schema when that
// schema already exists. exists is consulted only for the canonical target.
func ResolveAlias(name string, exists func(string) bool) string {
	canonical, ok := schemaAliases[strings.ToLower(name)]
	if !ok || canonical == name {
		return name
	}
	if exists(canonical) {
		return canonical
	}
	return name
}

// Slugify converts a name to a lowercase hyphen-separated identifier.
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
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
	}
	return strings.Trim(b.String(), "-")
}

func isNoisySuffix(word string) bool {
	for _, s := range noisySuffixes {
		if word == s {
			return true
		}
	}
	// Trailing date fragments like 2024 or 20240601 carry no meaning.
	if len(word) >= 4 && len(word) <= 8 {
		allDigits := true
		for _, r := range word {
			if r < '0' || r > '9' {
				allDigits = false
				break
			}
		}
		if allDigits {
			return true
		}
	}
	return false
}

func titleCase(words []string) string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w == "" {
			continue
		}
		out = append(out, strings.ToUpper(w[:1])+w[1:])
	}
	return strings.Join(out, " ")
}

// SchemaCreationRequest is emitted when no candidate cleared the threshold
// and approval is required before creating a schema.
type SchemaCreationRequest struct {
	SuggestedName      string
	Columns            []string
	SampleRow          map[string]string
	RejectedMatch      string
	RejectedConfidence float64
}

func (r *SchemaCreationRequest) String() string {
	return fmt.Sprintf("create schema %q for columns %s (best rejected match %q at %.2f)",
		r.SuggestedName, strings.Join(r.Columns, ", "), r.RejectedMatch, r.RejectedConfidence)
}
