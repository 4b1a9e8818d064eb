// Package upsert converts validated rows into per-row insert, update or skip
// decisions and applies them against the record store.
package upsert

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nbrandao/schemaflow/internal/schema"
	"github.com/nbrandao/schemaflow/internal/store"
)

// ErrValidation marks per-row failures that reject the row without touching
// the store.
var ErrValidation = errors.New("validation failed")

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"01/02/2006",
	"02-01-2006",
	"2006/01/02",
	"02.01.2006",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// Coerce converts one raw cell into the typed value the field requires.
// Empty input coerces to null for every type.
func Coerce(raw string, f schema.Field) (store.Value, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return store.Null(), nil
	}

	switch f.Type {
	case schema.FieldInt:
		d, err := parseNumeric(raw)
		if err != nil {
			return store.Null(), fmt.Errorf("%w: %q is not an integer", ErrValidation, raw)
		}
		if !d.IsInteger() {
			return store.Null(), fmt.Errorf("%w: %q has a fractional part", ErrValidation, raw)
		}
		return store.Int(d.IntPart()), nil

	case schema.FieldFloat, schema.FieldCurrency:
		d, err := parseNumeric(raw)
		if err != nil {
			return store.Null(), fmt.Errorf("%w: %q is not a number", ErrValidation, raw)
		}
		return store.Float(d.InexactFloat64()), nil

	case schema.FieldDate, schema.FieldDatetime:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return store.Time(t), nil
			}
		}
		return store.Null(), fmt.Errorf("%w: %q is not a recognized date", ErrValidation, raw)

	case schema.FieldBool:
		switch strings.ToLower(raw) {
		case "true", "yes", "y", "t", "1":
			return store.Bool(true), nil
		case "false", "no", "n", "f", "0":
			return store.Bool(false), nil
		}
		return store.Null(), fmt.Errorf("%w: %q is not a boolean", ErrValidation, raw)

	case schema.FieldShortText:
		if f.Length > 0 && len(raw) > f.Length {
			return store.Null(), fmt.Errorf("%w: value exceeds %d character limit for %s",
				ErrValidation, f.Length, f.Name)
		}
		return store.String(raw), nil

	default:
		return store.String(raw), nil
	}
}

// parseNumeric accepts plain numbers plus the formatting seen in exports:
// thousands separators, accounting parentheses, percent suffixes and
// currency symbol or ISO code prefixes.
func parseNumeric(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = strings.TrimSuffix(s, "%")
	for _, sym := range []string{"$", "€", "£", "¥", "₹", "₩", "R$"} {
		s = strings.TrimPrefix(s, sym)
	}
	if len(s) > 3 && isLetters(s[:3]) && (s[3] == ' ' || s[3] >= '0' && s[3] <= '9') {
		s = s[3:]
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

func isLetters(s string) bool {
	for _, r := range s {
		if r < 'A' || (r > 'Z' && r < 'a') || r > 'z' {
			return false
		}
	}
	return true
}
