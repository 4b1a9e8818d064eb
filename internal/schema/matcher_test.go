package schema

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func customerSchema() *Schema {
	return &Schema{
		Name: "Customer",
		Fields: []Field{
			fingerprintFieldDef(),
			{Name: "customer_id", Type: FieldShortText, Length: 30},
			{Name: "customer_name", Type: FieldShortText, Length: 60},
			{Name: "email", Type: FieldShortText, Length: 80},
		},
	}
}

func supplierSchema() *Schema {
	return &Schema{
		Name: "Supplier",
		Fields: []Field{
			fingerprintFieldDef(),
			{Name: "supplier_code", Type: FieldShortText, Length: 30},
			{Name: "supplier_name", Type: FieldShortText, Length: 60},
			{Name: "tax_id", Type: FieldShortText, Length: 30},
		},
	}
}

func TestMatcherFindMatch(t *testing.T) {
	t.Run("exact columns match with full confidence", func(t *testing.T) {
		m := NewMatcher(0.8, testLogger())
		result := m.FindMatch(
			[]string{"Customer ID", "Customer Name", "Email"},
			[]*Schema{customerSchema(), supplierSchema()},
		)
		require.NotNil(t, result.Schema)
		assert.Equal(t, "Customer", result.Schema.Name)
		assert.InDelta(t, 1.0, result.Confidence, 0.001)
		assert.False(t, result.ShouldCreate())
	})

	t.Run("unrelated columns signal schema creation", func(t *testing.T) {
		m := NewMatcher(0.8, testLogger())
		result := m.FindMatch(
			[]string{"warehouse", "bin", "stock_qty"},
			[]*Schema{customerSchema(), supplierSchema()},
		)
		assert.Nil(t, result.Schema)
		assert.True(t, result.ShouldCreate())
	})

	t.Run("partial overlap matches above a low threshold", func(t *testing.T) {
		m := NewMatcher(0.5, testLogger())
		result := m.FindMatch(
			[]string{"customer_id", "customer_name", "phone"},
			[]*Schema{customerSchema()},
		)
		// 2 of 3 incoming names known: jaccard 2/4, coverage 2/3, exact 2/3.
		require.NotNil(t, result.Schema)
		assert.InDelta(t, 0.5*0.3+(2.0/3)*0.5+(2.0/3)*0.2, result.Confidence, 0.001)
	})

	t.Run("threshold monotonicity", func(t *testing.T) {
		columns := []string{"customer_id", "customer_name", "phone"}
		low := NewMatcher(0.5, testLogger()).FindMatch(columns, []*Schema{customerSchema()})
		high := NewMatcher(0.9, testLogger()).FindMatch(columns, []*Schema{customerSchema()})
		require.NotNil(t, low.Schema)
		assert.Nil(t, high.Schema)
		// Accepted at 0.5 implies accepted at anything lower.
		lower := NewMatcher(0.5, testLogger()) // threshold floor
		assert.NotNil(t, lower.FindMatch(columns, []*Schema{customerSchema()}).Schema)
	})

	t.Run("tie goes to the first candidate", func(t *testing.T) {
		a := &Schema{Name: "A", Fields: []Field{{Name: "x", Type: FieldShortText}}}
		b := &Schema{Name: "B", Fields: []Field{{Name: "x", Type: FieldShortText}}}
		m := NewMatcher(0.8, testLogger())
		result := m.FindMatch([]string{"x"}, []*Schema{a, b})
		require.NotNil(t, result.Schema)
		assert.Equal(t, "A", result.Schema.Name)
	})

	t.Run("system fields excluded from scoring", func(t *testing.T) {
		m := NewMatcher(0.5, testLogger())
		result := m.FindMatch([]string{"row_hash"}, []*Schema{customerSchema()})
		assert.Nil(t, result.Schema)
	})

	t.Run("scores recorded per candidate", func(t *testing.T) {
		m := NewMatcher(0.8, testLogger())
		result := m.FindMatch(
			[]string{"customer_id", "email"},
			[]*Schema{customerSchema(), supplierSchema()},
		)
		assert.Len(t, result.Scores, 2)
		assert.Greater(t, result.Scores["Customer"], result.Scores["Supplier"])
	})
}

func TestMapFields(t *testing.T) {
	s := customerSchema()

	t.Run("exact compact matches", func(t *testing.T) {
		mapping := MapFields([]string{"Customer ID", "EMAIL"}, s)
		assert.Equal(t, "customer_id", mapping["Customer ID"])
		assert.Equal(t, "email", mapping["EMAIL"])
	})

	t.Run("fuzzy fallback", func(t *testing.T) {
		mapping := MapFields([]string{"customer_nam"}, s)
		assert.Equal(t, "customer_name", mapping["customer_nam"])
	})

	t.Run("unrelated column stays unmapped", func(t *testing.T) {
		mapping := MapFields([]string{"warehouse_location"}, s)
		_, ok := mapping["warehouse_location"]
		assert.False(t, ok)
	})

	t.Run("fields claimed once", func(t *testing.T) {
		mapping := MapFields([]string{"email", "e_mail"}, s)
		assert.Equal(t, "email", mapping["email"])
		_, ok := mapping["e_mail"]
		assert.False(t, ok)
	})
}
