package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nbrandao/schemaflow/internal/schema"
)

// Memory is an in-process store used by tests and dry runs. It implements
// both RecordStore and SchemaStore.
type Memory struct {
	mu      sync.RWMutex
	schemas map[string]*schema.Schema
	// records[schemaName] keeps insertion order so sampling and Get are
	// deterministic.
	records map[string][]*StoredRecord
	byName  map[string]map[string]*StoredRecord
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		schemas: make(map[string]*schema.Schema),
		records: make(map[string][]*StoredRecord),
		byName:  make(map[string]map[string]*StoredRecord),
		now:     time.Now,
	}
}

// Batch runs fn against the store and discards its record writes when fn
// returns an error. Callers serialize batches; nothing guards the snapshot
// against concurrent writers outside fn.
func (m *Memory) Batch(ctx context.Context, fn func(RecordStore) error) error {
	snap := m.snapshotRecords()
	if err := fn(m); err != nil {
		m.restoreRecords(snap)
		return err
	}
	return nil
}

func (m *Memory) snapshotRecords() map[string][]*StoredRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := make(map[string][]*StoredRecord, len(m.records))
	for schemaName, recs := range m.records {
		cp := make([]*StoredRecord, len(recs))
		for i, rec := range recs {
			cp[i] = &StoredRecord{
				Name:       rec.Name,
				Fields:     rec.Fields.Clone(),
				CreatedAt:  rec.CreatedAt,
				ModifiedAt: rec.ModifiedAt,
			}
		}
		snap[schemaName] = cp
	}
	return snap
}

func (m *Memory) restoreRecords(snap map[string][]*StoredRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = snap
	m.byName = make(map[string]map[string]*StoredRecord, len(snap))
	for schemaName, recs := range snap {
		byName := make(map[string]*StoredRecord, len(recs))
		for _, rec := range recs {
			byName[rec.Name] = rec
		}
		m.byName[schemaName] = byName
	}
}

func (m *Memory) Exists(ctx context.Context, schemaName string, pred Predicate) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.records[schemaName] {
		if matches(rec, pred) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) Get(ctx context.Context, schemaName string, pred Predicate, fields []string) (*StoredRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.records[schemaName] {
		if !matches(rec, pred) {
			continue
		}
		return projectRecord(rec, fields), nil
	}
	return nil, ErrNotFound
}

func (m *Memory) Insert(ctx context.Context, schemaName, name string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.byName[schemaName] == nil {
		m.byName[schemaName] = make(map[string]*StoredRecord)
	}
	if _, taken := m.byName[schemaName][name]; taken {
		return ErrDuplicateName
	}

	now := m.now()
	stored := &StoredRecord{
		Name:       name,
		Fields:     rec.Clone(),
		CreatedAt:  now,
		ModifiedAt: now,
	}
	m.records[schemaName] = append(m.records[schemaName], stored)
	m.byName[schemaName][name] = stored
	return nil
}

func (m *Memory) Update(ctx context.Context, schemaName, name string, changes Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.byName[schemaName][name]
	if !ok {
		return ErrNotFound
	}
	for k, v := range changes {
		stored.Fields[k] = v
	}
	stored.ModifiedAt = m.now()
	return nil
}

func (m *Memory) Count(ctx context.Context, schemaName string, pred Predicate) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, rec := range m.records[schemaName] {
		if matches(rec, pred) {
			count++
		}
	}
	return count, nil
}

func (m *Memory) DistinctRatio(ctx context.Context, schemaName, field string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	distinct := make(map[string]struct{})
	nonNull := 0
	for i, rec := range m.records[schemaName] {
		if i >= distinctRatioSampleCap {
			break
		}
		v, ok := rec.Fields[field]
		if !ok || v.IsEmpty() {
			continue
		}
		nonNull++
		distinct[v.Text()] = struct{}{}
	}
	if nonNull == 0 {
		return 0, nil
	}
	return float64(len(distinct)) / float64(nonNull), nil
}

func (m *Memory) GetSchema(ctx context.Context, name string) (*schema.Schema, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schemas[name]
	if !ok {
		return nil, ErrSchemaNotFound
	}
	cp := *s
	cp.Fields = append([]schema.Field(nil), s.Fields...)
	return &cp, nil
}

func (m *Memory) CreateSchema(ctx context.Context, s *schema.Schema) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	cp.Fields = append([]schema.Field(nil), s.Fields...)
	m.schemas[s.Name] = &cp
	return nil
}

func (m *Memory) AddField(ctx context.Context, schemaName string, f schema.Field) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schemas[schemaName]
	if !ok {
		return ErrSchemaNotFound
	}
	if s.Field(f.Name) == nil {
		s.Fields = append(s.Fields, f)
	}
	return nil
}

func (m *Memory) ListSchemas(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.schemas))
	for name := range m.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func matches(rec *StoredRecord, pred Predicate) bool {
	for field, want := range pred {
		if field == "name" {
			if rec.Name != want.Text() {
				return false
			}
			continue
		}
		got, ok := rec.Fields[field]
		if !ok || !got.Equal(want) {
			return false
		}
	}
	return true
}

func projectRecord(rec *StoredRecord, fields []string) *StoredRecord {
	out := &StoredRecord{
		Name:       rec.Name,
		CreatedAt:  rec.CreatedAt,
		ModifiedAt: rec.ModifiedAt,
	}
	if fields == nil {
		out.Fields = rec.Fields.Clone()
		return out
	}
	out.Fields = make(Record, len(fields))
	for _, f := range fields {
		if v, ok := rec.Fields[f]; ok {
			out.Fields[f] = v
		}
	}
	return out
}
