// Package inference profiles source columns and infers a semantic type for
// each from its sample values. All input arrives as raw strings from the
// tabular reader; nothing here mutates the source data.
package inference

import (
	"regexp"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// SemanticType classifies a column by the kind of values observed in it.
type SemanticType string

const (
	TypeInteger   SemanticType = "integer"
	TypeFloat     SemanticType = "float"
	TypeCurrency  SemanticType = "currency"
	TypeDate      SemanticType = "date"
	TypeEmail     SemanticType = "email"
	TypePhone     SemanticType = "phone"
	TypeBoolean   SemanticType = "boolean"
	TypeShortText SemanticType = "short_text"
	TypeLongText  SemanticType = "long_text"
)

// voteThreshold is the fraction of non-empty samples a detector must match
// before its type is assigned to the column.
const voteThreshold = 0.8

// longTextThreshold is the max observed length above which an undetected
// column falls back to long text instead of short text.
const longTextThreshold = 140

// maxSampleValues caps how many raw values a profile retains for later
// display in schema-creation requests.
const maxSampleValues = 5

// Profile describes one source column after analysis. Immutable once built.
type Profile struct {
	OriginalName   string
	NormalizedName string
	InferredType   SemanticType
	SampleValues   []string
	TotalCount     int
	NullCount      int
	UniqueCount    int
	MaxLength      int
}

// UniquenessRatio is the share of all rows holding a distinct value.
func (p Profile) UniquenessRatio() float64 {
	if p.TotalCount == 0 {
		return 0
	}
	return float64(p.UniqueCount) / float64(p.TotalCount)
}

// ProfileColumn analyzes every value of a column and returns its profile.
func ProfileColumn(name string, values []string) Profile {
	p := Profile{
		OriginalName:   name,
		NormalizedName: NormalizeName(name),
		TotalCount:     len(values),
	}

	seen := make(map[string]struct{})
	nonEmpty := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			p.NullCount++
			continue
		}
		nonEmpty = append(nonEmpty, v)
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			if len(p.SampleValues) < maxSampleValues {
				p.SampleValues = append(p.SampleValues, v)
			}
		}
		if len(v) > p.MaxLength {
			p.MaxLength = len(v)
		}
	}
	p.UniqueCount = len(seen)
	p.InferredType = InferType(nonEmpty, p.MaxLength)
	return p
}

type detector struct {
	typ   SemanticType
	match func(string) bool
}

// Detector order is the tie-break priority: a value that satisfies several
// detectors counts for the earliest one only when votes tie.
var detectors = []detector{
	{TypeCurrency, isCurrency},
	{TypeFloat, isNumeric},
	{TypeDate, isDate},
	{TypeEmail, isEmail},
	{TypePhone, isPhone},
	{TypeBoolean, isBoolean},
}

// InferType picks the semantic type whose detector matches at least 80% of
// the non-empty samples, falling back to short or long text by observed
// length. Zero samples yields short text.
func InferType(samples []string, maxLength int) SemanticType {
	if len(samples) == 0 {
		return TypeShortText
	}

	need := int(float64(len(samples))*voteThreshold + 0.9999)
	if need < 1 {
		need = 1
	}

	for _, d := range detectors {
		var matched []string
		for _, s := range samples {
			if d.match(s) {
				matched = append(matched, s)
			}
		}
		if len(matched) < need {
			continue
		}
		// Only the numeric samples decide integer vs float; a stray
		// dotted outlier must not widen the type.
		if d.typ == TypeFloat && !anyHasDecimalPoint(matched) {
			return TypeInteger
		}
		return d.typ
	}

	if maxLength > longTextThreshold {
		return TypeLongText
	}
	return TypeShortText
}

// NormalizeName converts a raw column header into a storage field name:
// lowercase, underscore separated, stripped of anything non-alphanumeric.
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	lastUnderscore := true
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}

var currencySymbols = []string{"$", "€", "£", "¥", "₹", "₩", "R$", "kr"}

func isCurrency(s string) bool {
	s = strings.TrimSpace(s)
	for _, sym := range currencySymbols {
		if rest, ok := strings.CutPrefix(s, sym); ok {
			return isNumeric(rest)
		}
	}
	// "USD 12.50" style prefixes, validated against the ISO table.
	if len(s) > 3 {
		code := strings.ToUpper(s[:3])
		if money.GetCurrency(code) != nil {
			return isNumeric(s[3:])
		}
	}
	return false
}

func isNumeric(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	// Accounting negatives and percent suffixes still count as numbers.
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = s[1 : len(s)-1]
	}
	s = strings.TrimSuffix(s, "%")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	_, err := decimal.NewFromString(s)
	return err == nil
}

func anyHasDecimalPoint(samples []string) bool {
	for _, s := range samples {
		if strings.Contains(s, ".") {
			return true
		}
	}
	return false
}

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"01/02/2006",
	"02-01-2006",
	"2006/01/02",
	"02.01.2006",
}

var dateDigits = regexp.MustCompile(`^\d{1,4}[-/.]\d{1,2}[-/.]\d{1,4}$`)

func isDate(s string) bool {
	s = strings.TrimSpace(s)
	if !dateDigits.MatchString(s) {
		return false
	}
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

var emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

func isEmail(s string) bool {
	return emailRe.MatchString(strings.TrimSpace(s))
}

var phonePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\+?\d{7,15}$`),
	regexp.MustCompile(`^\+?\d{1,3}[ -]\d{3,4}[ -]\d{3,8}$`),
	regexp.MustCompile(`^\(\d{2,4}\)[ -]?\d{3,4}[ -]?\d{3,6}$`),
	regexp.MustCompile(`^\d{3,5}[ -]\d{5,8}$`),
}

func isPhone(s string) bool {
	s = strings.TrimSpace(s)
	for _, re := range phonePatterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

var booleanTokens = map[string]struct{}{
	"true": {}, "false": {},
	"yes": {}, "no": {},
	"y": {}, "n": {},
	"t": {}, "f": {},
}

func isBoolean(s string) bool {
	_, ok := booleanTokens[strings.ToLower(strings.TrimSpace(s))]
	return ok
}
