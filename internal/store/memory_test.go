package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbrandao/schemaflow/internal/schema"
)

func TestMemoryRecords(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Insert(ctx, "Customer", "alice", Record{
		"email":    String("alice@example.com"),
		"row_hash": String("abc123"),
	}))

	t.Run("insert rejects duplicate names", func(t *testing.T) {
		err := m.Insert(ctx, "Customer", "alice", Record{})
		assert.ErrorIs(t, err, ErrDuplicateName)
	})

	t.Run("exists by field predicate", func(t *testing.T) {
		ok, err := m.Exists(ctx, "Customer", Predicate{"row_hash": String("abc123")})
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = m.Exists(ctx, "Customer", Predicate{"row_hash": String("zzz")})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("get with projection", func(t *testing.T) {
		rec, err := m.Get(ctx, "Customer", Predicate{"email": String("alice@example.com")}, []string{"row_hash"})
		require.NoError(t, err)
		assert.Equal(t, "alice", rec.Name)
		assert.Len(t, rec.Fields, 1)
		assert.Equal(t, String("abc123"), rec.Fields["row_hash"])
	})

	t.Run("get by name predicate", func(t *testing.T) {
		rec, err := m.Get(ctx, "Customer", Predicate{"name": String("alice")}, nil)
		require.NoError(t, err)
		assert.Equal(t, String("alice@example.com"), rec.Fields["email"])
	})

	t.Run("get miss", func(t *testing.T) {
		_, err := m.Get(ctx, "Customer", Predicate{"email": String("nobody@x.com")}, nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("update merges changes", func(t *testing.T) {
		require.NoError(t, m.Update(ctx, "Customer", "alice", Record{
			"email": String("new@example.com"),
		}))
		rec, err := m.Get(ctx, "Customer", Predicate{"name": String("alice")}, nil)
		require.NoError(t, err)
		assert.Equal(t, String("new@example.com"), rec.Fields["email"])
		assert.Equal(t, String("abc123"), rec.Fields["row_hash"])
	})

	t.Run("update unknown name", func(t *testing.T) {
		assert.ErrorIs(t, m.Update(ctx, "Customer", "ghost", Record{}), ErrNotFound)
	})

	t.Run("count", func(t *testing.T) {
		require.NoError(t, m.Insert(ctx, "Customer", "bob", Record{"city": String("Lisbon")}))
		n, err := m.Count(ctx, "Customer", Predicate{})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}

func TestMemoryBatch(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Insert(ctx, "Customer", "alice", Record{
		"email": String("alice@example.com"),
	}))

	t.Run("commit keeps writes", func(t *testing.T) {
		err := m.Batch(ctx, func(tx RecordStore) error {
			return tx.Insert(ctx, "Customer", "bob", Record{"email": String("bob@x.com")})
		})
		require.NoError(t, err)
		n, err := m.Count(ctx, "Customer", Predicate{})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("error discards inserts and updates", func(t *testing.T) {
		batchErr := assert.AnError
		err := m.Batch(ctx, func(tx RecordStore) error {
			if err := tx.Insert(ctx, "Customer", "carol", Record{"email": String("c@x.com")}); err != nil {
				return err
			}
			if err := tx.Update(ctx, "Customer", "alice", Record{"email": String("clobbered@x.com")}); err != nil {
				return err
			}
			return batchErr
		})
		assert.ErrorIs(t, err, batchErr)

		n, err := m.Count(ctx, "Customer", Predicate{})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		rec, err := m.Get(ctx, "Customer", Predicate{"name": String("alice")}, nil)
		require.NoError(t, err)
		assert.Equal(t, String("alice@example.com"), rec.Fields["email"])

		_, err = m.Get(ctx, "Customer", Predicate{"name": String("carol")}, nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryDistinctRatio(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for i, email := range []string{"a@x.com", "b@x.com", "a@x.com", "c@x.com", ""} {
		require.NoError(t, m.Insert(ctx, "Customer", string(rune('a'+i)), Record{
			"email": String(email),
		}))
	}

	ratio, err := m.DistinctRatio(ctx, "Customer", "email")
	require.NoError(t, err)
	assert.InDelta(t, 3.0/4.0, ratio, 0.001)

	ratio, err = m.DistinctRatio(ctx, "Customer", "missing")
	require.NoError(t, err)
	assert.Zero(t, ratio)
}

func TestMemorySchemas(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	s := &schema.Schema{
		Name:   "Customer",
		Fields: []schema.Field{{Name: "email", Type: schema.FieldShortText}},
	}
	require.NoError(t, m.CreateSchema(ctx, s))

	t.Run("round trip", func(t *testing.T) {
		got, err := m.GetSchema(ctx, "Customer")
		require.NoError(t, err)
		assert.Equal(t, "Customer", got.Name)
		assert.True(t, got.HasField("email"))
	})

	t.Run("stored copy is isolated", func(t *testing.T) {
		got, _ := m.GetSchema(ctx, "Customer")
		got.Fields[0].Name = "mutated"
		again, _ := m.GetSchema(ctx, "Customer")
		assert.Equal(t, "email", again.Fields[0].Name)
	})

	t.Run("missing schema", func(t *testing.T) {
		_, err := m.GetSchema(ctx, "Nope")
		assert.ErrorIs(t, err, ErrSchemaNotFound)
	})

	t.Run("add field is idempotent", func(t *testing.T) {
		f := schema.Field{Name: "phone", Type: schema.FieldShortText}
		require.NoError(t, m.AddField(ctx, "Customer", f))
		require.NoError(t, m.AddField(ctx, "Customer", f))
		got, _ := m.GetSchema(ctx, "Customer")
		assert.Len(t, got.Fields, 2)
	})

	t.Run("list is sorted", func(t *testing.T) {
		require.NoError(t, m.CreateSchema(ctx, &schema.Schema{Name: "Asset"}))
		names, err := m.ListSchemas(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Asset", "Customer"}, names)
	})
}

func TestValueJSONRoundTrip(t *testing.T) {
	rec := Record{
		"s": String("hello"),
		"i": Int(42),
		"f": Float(3.25),
		"b": Bool(true),
		"n": Null(),
	}
	raw, err := rec["s"].MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"string","v":"hello"}`, string(raw))

	for key, v := range rec {
		data, err := v.MarshalJSON()
		require.NoError(t, err, key)
		var back Value
		require.NoError(t, back.UnmarshalJSON(data), key)
		assert.True(t, v.Equal(back), key)
	}
}

func TestValueIsEmpty(t *testing.T) {
	assert.True(t, Null().IsEmpty())
	assert.True(t, String("").IsEmpty())
	assert.True(t, String("   ").IsEmpty())
	assert.False(t, String("x").IsEmpty())
	assert.False(t, Int(0).IsEmpty())
	assert.False(t, Bool(false).IsEmpty())
}
