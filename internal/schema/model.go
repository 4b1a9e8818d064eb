// Package schema defines target schemas, matches incoming files against the
// known ones and synthesizes new schemas from column profiles when nothing
// matches.
package schema

import (
	"fmt"
	"strings"

	"github.com/nbrandao/schemaflow/internal/inference"
)

// FieldType is the storage type of a schema field.
type FieldType string

const (
	FieldInt        FieldType = "int"
	FieldFloat      FieldType = "float"
	FieldCurrency   FieldType = "currency"
	FieldDate       FieldType = "date"
	FieldBool       FieldType = "bool"
	FieldShortText  FieldType = "short_text"
	FieldMediumText FieldType = "medium_text"
	FieldLongText   FieldType = "long_text"
	FieldDatetime   FieldType = "datetime"
)

// System field names present on every synthesized schema.
const (
	FingerprintField  = "row_hash"
	ImportSourceField = "import_source"
	ImportBatchField  = "import_batch"
	LastImportAtField = "last_import_at"
)

// maxFieldNameLength bounds normalized field names.
const maxFieldNameLength = 140

// Field is one typed column of a target schema.
type Field struct {
	Name         string
	Label        string
	Type         FieldType
	Length       int
	Required     bool
	Unique       bool
	Hidden       bool
	ReadOnly     bool
	Indexed      bool
	Relationship bool
	// TargetSchema names the referenced schema for relationship fields.
	TargetSchema string
}

// Schema is a named, ordered set of typed fields.
type Schema struct {
	Name   string
	Fields []Field
}

// Field returns the named field, or nil.
func (s *Schema) Field(name string) *Field {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i]
		}
	}
	return nil
}

// HasField reports whether the named field exists.
func (s *Schema) HasField(name string) bool {
	return s.Field(name) != nil
}

// DataFields returns the non-system fields in declaration order.
func (s *Schema) DataFields() []Field {
	out := make([]Field, 0, len(s.Fields))
	for _, f := range s.Fields {
		if isSystemField(f.Name) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// HasFingerprintField reports whether the fingerprint field is present.
func (s *Schema) HasFingerprintField() bool {
	return s.HasField(FingerprintField)
}

// EnsureFingerprintField appends the fingerprint field if a schema that
// predates this pipeline lacks it.
func (s *Schema) EnsureFingerprintField() bool {
	if s.HasFingerprintField() {
		return false
	}
	s.Fields = append(s.Fields, fingerprintFieldDef())
	return true
}

func fingerprintFieldDef() Field {
	return Field{
		Name:     FingerprintField,
		Label:    "Row Hash",
		Type:     FieldShortText,
		Length:   32,
		Unique:   true,
		Hidden:   true,
		ReadOnly: true,
		Indexed:  true,
	}
}

func isSystemField(name string) bool {
	switch name {
	case FingerprintField, ImportSourceField, ImportBatchField, LastImportAtField:
		return true
	}
	return false
}

// Field names that collide with storage internals and must not be produced
// by normalization.
var reservedFieldNames = map[string]struct{}{
	"name": {}, "owner": {}, "idx": {}, "index": {}, "type": {},
	"order": {}, "group": {}, "select": {}, "table": {}, "column": {},
	"user": {}, "key": {}, "primary": {}, "default": {}, "status": {},
	"creation": {}, "modified": {}, "parent": {},
}

// NormalizeFieldName turns a raw column header into a valid storage field
// name. Reserved names and names starting with a digit get a prefix; empty
// results fall back to a positional name.
func NormalizeFieldName(raw string, position int) string {
	name := inference.NormalizeName(raw)
	if name == "" {
		return fmt.Sprintf("column_%d", position+1)
	}
	if len(name) > maxFieldNameLength {
		name = strings.Trim(name[:maxFieldNameLength], "_")
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "field_" + name
	}
	if _, reserved := reservedFieldNames[name]; reserved {
		name = "custom_" + name
	}
	return name
}
