package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sethvargo/go-retry"

	"github.com/nbrandao/schemaflow/internal/schema"
)

// PgxPool is the subset of pgxpool.Pool the store needs; satisfied by the
// real pool, pgxmock and pgx.Tx.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres persists records and schemas in two JSONB-backed tables. Records
// of every target schema share one table keyed by (schema_name, name); field
// values keep their kind tags through JSON, so types round-trip.
type Postgres struct {
	db     PgxPool
	logger *slog.Logger
	// inTx suppresses statement retries; a retry inside an aborted
	// transaction can never succeed.
	inTx bool
}

func NewPostgres(db PgxPool, logger *slog.Logger) *Postgres {
	return &Postgres{
		db:     db,
		logger: logger.With(slog.String("component", "postgres_store")),
	}
}

// Transient store failures are retried with bounded backoff; permanent
// outcomes (not found, duplicates, cancellation) pass straight through.
func (p *Postgres) withRetry(ctx context.Context, op func(context.Context) error) error {
	if p.inTx {
		return op(ctx)
	}
	backoff := retry.WithMaxRetries(4, retry.NewFibonacci(100*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := op(ctx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrNotFound),
			errors.Is(err, ErrSchemaNotFound),
			errors.Is(err, ErrDuplicateName),
			errors.Is(err, context.Canceled),
			errors.Is(err, context.DeadlineExceeded):
			return err
		}
		p.logger.Warn("retrying store operation", slog.Any("error", err))
		return retry.RetryableError(err)
	})
}

// Batch runs fn against a transaction-scoped store; fn's writes commit
// together when it returns nil and roll back when it returns an error.
func (p *Postgres) Batch(ctx context.Context, fn func(RecordStore) error) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	scoped := &Postgres{db: tx, logger: p.logger, inTx: true}
	if err := fn(scoped); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			p.logger.Error("batch rollback failed", slog.Any("error", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (p *Postgres) Exists(ctx context.Context, schemaName string, pred Predicate) (bool, error) {
	count, err := p.Count(ctx, schemaName, pred)
	return count > 0, err
}

func (p *Postgres) Get(ctx context.Context, schemaName string, pred Predicate, fields []string) (*StoredRecord, error) {
	where, args, err := predicateClause(schemaName, pred)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT name, fields, created_at, modified_at
		FROM records
		WHERE %s
		ORDER BY created_at
		LIMIT 1`, where)

	var rec *StoredRecord
	err = p.withRetry(ctx, func(ctx context.Context) error {
		var (
			name       string
			raw        []byte
			createdAt  time.Time
			modifiedAt time.Time
		)
		if err := p.db.QueryRow(ctx, query, args...).Scan(&name, &raw, &createdAt, &modifiedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		var stored Record
		if err := json.Unmarshal(raw, &stored); err != nil {
			return fmt.Errorf("decode record %s: %w", name, err)
		}
		rec = projectRecord(&StoredRecord{
			Name:       name,
			Fields:     stored,
			CreatedAt:  createdAt,
			ModifiedAt: modifiedAt,
		}, fields)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (p *Postgres) Insert(ctx context.Context, schemaName, name string, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return p.withRetry(ctx, func(ctx context.Context) error {
		_, err := p.db.Exec(ctx, `
			INSERT INTO records (schema_name, name, fields)
			VALUES ($1, $2, $3)`, schemaName, name, raw)
		if isUniqueViolation(err) {
			return ErrDuplicateName
		}
		return err
	})
}

func (p *Postgres) Update(ctx context.Context, schemaName, name string, changes Record) error {
	raw, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("encode changes: %w", err)
	}
	return p.withRetry(ctx, func(ctx context.Context) error {
		tag, err := p.db.Exec(ctx, `
			UPDATE records
			SET fields = fields || $3::jsonb, modified_at = now()
			WHERE schema_name = $1 AND name = $2`, schemaName, name, raw)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (p *Postgres) Count(ctx context.Context, schemaName string, pred Predicate) (int, error) {
	where, args, err := predicateClause(schemaName, pred)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`SELECT count(*) FROM records WHERE %s`, where)

	var count int
	err = p.withRetry(ctx, func(ctx context.Context) error {
		return p.db.QueryRow(ctx, query, args...).Scan(&count)
	})
	return count, err
}

func (p *Postgres) DistinctRatio(ctx context.Context, schemaName, field string) (float64, error) {
	query := `
		SELECT count(DISTINCT value), count(*)
		FROM (
			SELECT fields -> $2 ->> 'v' AS value
			FROM records
			WHERE schema_name = $1
			  AND btrim(coalesce(fields -> $2 ->> 'v', '')) <> ''
			LIMIT 10000
		) sample`

	var distinct, nonNull int
	err := p.withRetry(ctx, func(ctx context.Context) error {
		return p.db.QueryRow(ctx, query, schemaName, field).Scan(&distinct, &nonNull)
	})
	if err != nil {
		return 0, err
	}
	if nonNull == 0 {
		return 0, nil
	}
	return float64(distinct) / float64(nonNull), nil
}

func (p *Postgres) GetSchema(ctx context.Context, name string) (*schema.Schema, error) {
	var s *schema.Schema
	err := p.withRetry(ctx, func(ctx context.Context) error {
		var raw []byte
		err := p.db.QueryRow(ctx,
			`SELECT definition FROM schemas WHERE name = $1`, name).Scan(&raw)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrSchemaNotFound
			}
			return err
		}
		s = &schema.Schema{}
		if err := json.Unmarshal(raw, s); err != nil {
			return fmt.Errorf("decode schema %s: %w", name, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (p *Postgres) CreateSchema(ctx context.Context, s *schema.Schema) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	return p.withRetry(ctx, func(ctx context.Context) error {
		_, err := p.db.Exec(ctx, `
			INSERT INTO schemas (name, definition)
			VALUES ($1, $2)
			ON CONFLICT (name) DO UPDATE SET definition = EXCLUDED.definition`,
			s.Name, raw)
		return err
	})
}

func (p *Postgres) AddField(ctx context.Context, schemaName string, f schema.Field) error {
	s, err := p.GetSchema(ctx, schemaName)
	if err != nil {
		return err
	}
	if s.Field(f.Name) != nil {
		return nil
	}
	s.Fields = append(s.Fields, f)
	return p.CreateSchema(ctx, s)
}

func (p *Postgres) ListSchemas(ctx context.Context) ([]string, error) {
	var names []string
	err := p.withRetry(ctx, func(ctx context.Context) error {
		rows, err := p.db.Query(ctx, `SELECT name FROM schemas ORDER BY name`)
		if err != nil {
			return err
		}
		defer rows.Close()
		names = names[:0]
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return err
			}
			names = append(names, name)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// predicateClause renders a predicate as a parameterized WHERE clause. Field
// predicates use JSONB containment so the tagged kinds participate in the
// comparison; the reserved "name" key matches the record name column.
func predicateClause(schemaName string, pred Predicate) (string, []any, error) {
	where := "schema_name = $1"
	args := []any{schemaName}

	fieldPred := make(Record)
	for field, want := range pred {
		if field == "name" {
			args = append(args, want.Text())
			where += fmt.Sprintf(" AND name = $%d", len(args))
			continue
		}
		fieldPred[field] = want
	}
	if len(fieldPred) > 0 {
		raw, err := json.Marshal(fieldPred)
		if err != nil {
			return "", nil, fmt.Errorf("encode predicate: %w", err)
		}
		args = append(args, raw)
		where += fmt.Sprintf(" AND fields @> $%d::jsonb", len(args))
	}
	return where, args, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
