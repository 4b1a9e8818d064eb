package upsert

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbrandao/schemaflow/internal/fingerprint"
	"github.com/nbrandao/schemaflow/internal/identity"
	"github.com/nbrandao/schemaflow/internal/schema"
	"github.com/nbrandao/schemaflow/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func contactSchema() *schema.Schema {
	return &schema.Schema{
		Name: "Contact",
		Fields: []schema.Field{
			{Name: schema.FingerprintField, Type: schema.FieldShortText, Length: 32, Unique: true, Hidden: true},
			{Name: schema.ImportSourceField, Type: schema.FieldShortText, Hidden: true},
			{Name: schema.ImportBatchField, Type: schema.FieldShortText, Hidden: true},
			{Name: schema.LastImportAtField, Type: schema.FieldDatetime, Hidden: true},
			{Name: "contact_code", Type: schema.FieldShortText, Length: 30},
			{Name: "full_name", Type: schema.FieldShortText, Length: 60},
			{Name: "email", Type: schema.FieldShortText, Length: 80},
		},
	}
}

func newEngine(mem *store.Memory) *Engine {
	resolver := identity.NewResolver(mem, 70, testLogger())
	return NewEngine(mem, resolver, testLogger())
}

func rowInput(ordinal int, code, name, email string) RowInput {
	columns := []string{"Contact Code", "Full Name", "Email"}
	values := []string{code, name, email}
	return RowInput{
		Ordinal: ordinal,
		Raw: map[string]string{
			"Contact Code": code,
			"Full Name":    name,
			"Email":        email,
		},
		Mapping: map[string]string{
			"Contact Code": "contact_code",
			"Full Name":    "full_name",
			"Email":        "email",
		},
		Fingerprint: fingerprint.Row(ordinal, columns, values, fingerprint.Options{}),
		Source:      "contacts.csv",
		Batch:       "batch-1",
	}
}

func TestProcessRowInsert(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	e := newEngine(mem)
	s := contactSchema()

	result := e.ProcessRow(ctx, s, rowInput(1, "CT-001", "Alice Jones", "alice@x.com"))
	require.NoError(t, result.Err)
	assert.Equal(t, OutcomeInserted, result.Outcome)
	assert.Equal(t, "ct-001", result.RecordName)

	rec, err := mem.Get(ctx, "Contact", store.Predicate{"name": store.String("ct-001")}, nil)
	require.NoError(t, err)
	assert.Equal(t, store.String(result.Fingerprint), rec.Fields[schema.FingerprintField])
	assert.Equal(t, store.String("contacts.csv"), rec.Fields[schema.ImportSourceField])
	assert.False(t, rec.Fields[schema.LastImportAtField].IsEmpty())
}

func TestProcessRowIdempotentReimport(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	e := newEngine(mem)
	s := contactSchema()

	rows := []RowInput{
		rowInput(1, "CT-001", "Alice", "alice@x.com"),
		rowInput(2, "CT-002", "Bob", "bob@x.com"),
		rowInput(3, "CT-003", "Cara", "cara@x.com"),
	}
	for _, r := range rows {
		res := e.ProcessRow(ctx, s, r)
		require.Equal(t, OutcomeInserted, res.Outcome)
	}

	// Second run: identical file, all rows resolve by fingerprint.
	for _, r := range rows {
		res := e.ProcessRow(ctx, s, r)
		assert.Equal(t, OutcomeSkipped, res.Outcome, "ordinal %d", r.Ordinal)
	}
	n, _ := mem.Count(ctx, "Contact", store.Predicate{})
	assert.Equal(t, 3, n)
}

func TestProcessRowUpdateOnChange(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	e := newEngine(mem)
	s := contactSchema()

	for _, r := range []RowInput{
		rowInput(1, "CT-001", "Alice", "alice@x.com"),
		rowInput(2, "CT-002", "Bob", "bob@x.com"),
		rowInput(3, "CT-003", "Cara", "cara@x.com"),
	} {
		require.Equal(t, OutcomeInserted, e.ProcessRow(ctx, s, r).Outcome)
	}

	// Row 2's email changes; rows 1 and 3 are untouched.
	results := []RowResult{
		e.ProcessRow(ctx, s, rowInput(1, "CT-001", "Alice", "alice@x.com")),
		e.ProcessRow(ctx, s, rowInput(2, "CT-002", "Bob", "bob@new.com")),
		e.ProcessRow(ctx, s, rowInput(3, "CT-003", "Cara", "cara@x.com")),
	}
	assert.Equal(t, OutcomeSkipped, results[0].Outcome)
	assert.Equal(t, OutcomeUpdated, results[1].Outcome)
	assert.Equal(t, "ct-002", results[1].RecordName)
	assert.Equal(t, OutcomeSkipped, results[2].Outcome)

	rec, err := mem.Get(ctx, "Contact", store.Predicate{"name": store.String("ct-002")}, nil)
	require.NoError(t, err)
	assert.Equal(t, store.String("bob@new.com"), rec.Fields["email"])
	assert.Equal(t, store.String("Bob"), rec.Fields["full_name"])

	n, _ := mem.Count(ctx, "Contact", store.Predicate{})
	assert.Equal(t, 3, n)
}

func TestProcessRowUpdateByBusinessKey(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	e := newEngine(mem)
	s := contactSchema()

	// Pre-existing record without any fingerprint, as if created by hand.
	require.NoError(t, mem.Insert(ctx, "Contact", "manual-entry", store.Record{
		"email":     store.String("dora@x.com"),
		"full_name": store.String("Dora"),
	}))
	// Seed more rows so the email uniqueness probe sees distinct values.
	for _, r := range []RowInput{
		rowInput(10, "CT-010", "Eve", "eve@x.com"),
		rowInput(11, "CT-011", "Finn", "finn@x.com"),
	} {
		require.Equal(t, OutcomeInserted, e.ProcessRow(ctx, s, r).Outcome)
	}

	res := e.ProcessRow(ctx, s, rowInput(12, "CT-012", "Dora Updated", "dora@x.com"))
	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeUpdated, res.Outcome)
	assert.Equal(t, "manual-entry", res.RecordName)

	rec, err := mem.Get(ctx, "Contact", store.Predicate{"name": store.String("manual-entry")}, nil)
	require.NoError(t, err)
	assert.Equal(t, store.String("Dora Updated"), rec.Fields["full_name"])
	assert.False(t, rec.Fields[schema.FingerprintField].IsEmpty())
}

func TestProcessRowNeverClearsWithEmpty(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	e := newEngine(mem)
	s := contactSchema()

	require.Equal(t, OutcomeInserted,
		e.ProcessRow(ctx, s, rowInput(1, "CT-001", "Alice", "alice@x.com")).Outcome)

	// Same ordinal, email now blank: data changed, record updates, but the
	// stored email survives.
	res := e.ProcessRow(ctx, s, rowInput(1, "CT-001", "Alice", ""))
	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeUpdated, res.Outcome)

	rec, err := mem.Get(ctx, "Contact", store.Predicate{"name": store.String("ct-001")}, nil)
	require.NoError(t, err)
	assert.Equal(t, store.String("alice@x.com"), rec.Fields["email"])
}

func TestProcessRowValidationFailure(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	e := newEngine(mem)

	s := contactSchema()
	s.Field("email").Required = true

	in := rowInput(1, "CT-001", "Alice", "")
	res := e.ProcessRow(ctx, s, in)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, IsValidationError(res.Err))

	n, _ := mem.Count(ctx, "Contact", store.Predicate{})
	assert.Zero(t, n)
}

func TestProcessRowMissingRelationshipTarget(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	e := newEngine(mem)

	s := contactSchema()
	s.Fields = append(s.Fields, schema.Field{
		Name: "company", Type: schema.FieldShortText,
		Relationship: true, TargetSchema: "Company",
	})

	in := rowInput(1, "CT-001", "Alice", "alice@x.com")
	in.Raw["Company"] = "Acme"
	in.Mapping["Company"] = "company"

	res := e.ProcessRow(ctx, s, in)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, IsValidationError(res.Err))

	// With the target present the same row inserts.
	require.NoError(t, mem.Insert(ctx, "Company", "Acme", store.Record{}))
	res = e.ProcessRow(ctx, s, in)
	assert.Equal(t, OutcomeInserted, res.Outcome)
}
