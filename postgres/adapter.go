// Package postgres applies migrations to a PostgreSQL database. Each migration
// runs in its own transaction, together with the row that marks it applied.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/influxdata/dagmigrate"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultTable is the table applied migrations are recorded in.
const DefaultTable = "_dagmigrate"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Migration is a migration that can be applied to and reverted from a
// PostgreSQL transaction.
type Migration[I comparable] interface {
	dagmigrate.Migration[I]
	Up(ctx context.Context, tx pgx.Tx) error
	Down(ctx context.Context, tx pgx.Tx) error
}

// Adapter is a dagmigrate.Adapter backed by a pgx connection pool.
type Adapter[I comparable] struct {
	pool  *pgxpool.Pool
	codec dagmigrate.Codec[I]
	table string
	clock clock.Clock
}

var _ dagmigrate.Adapter[string, Migration[string]] = (*Adapter[string])(nil)
var _ dagmigrate.HistoryAdapter[string] = (*Adapter[string])(nil)

// Option configures an Adapter.
type Option func(*options)

type options struct {
	table string
	clock clock.Clock
}

// WithTable sets the table applied migrations are recorded in.
func WithTable(name string) Option {
	return func(o *options) {
		o.table = name
	}
}

// WithClock sets the clock used to timestamp applied migrations.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// Connect opens a connection pool for dsn and checks it is reachable.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pg config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return pool, nil
}

// NewAdapter returns an adapter recording applied migrations in pool. IDs are
// persisted as bytea through codec.
func NewAdapter[I comparable](pool *pgxpool.Pool, codec dagmigrate.Codec[I], opts ...Option) (*Adapter[I], error) {
	o := options{
		table: DefaultTable,
		clock: clock.New(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if !tableName.MatchString(o.table) {
		return nil, fmt.Errorf("invalid migrations table name %q", o.table)
	}

	return &Adapter[I]{
		pool:  pool,
		codec: codec,
		table: o.table,
		clock: o.clock,
	}, nil
}

// Init creates the bookkeeping table. It is safe to call more than once.
func (a *Adapter[I]) Init(ctx context.Context) error {
	_, err := a.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BYTEA PRIMARY KEY,
			description TEXT NOT NULL DEFAULT '',
			applied_at TIMESTAMPTZ NOT NULL
		)`, pgx.Identifier{a.table}.Sanitize()))
	if err != nil {
		return fmt.Errorf("create %s table: %w", a.table, err)
	}
	return nil
}

// AppliedMigrations returns the IDs recorded in the bookkeeping table.
func (a *Adapter[I]) AppliedMigrations(ctx context.Context) (dagmigrate.IDSet[I], error) {
	rows, err := a.pool.Query(ctx, fmt.Sprintf(`SELECT id FROM %s`, pgx.Identifier{a.table}.Sanitize()))
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("scan applied migration: %w", err)
	}

	ids := make(dagmigrate.IDSet[I], len(keys))
	for _, k := range keys {
		id, err := a.codec.Decode(k)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", a.table, err)
		}
		ids.Add(id)
	}
	return ids, nil
}

// ApplyMigration runs m.Up and records m in the same transaction.
func (a *Adapter[I]) ApplyMigration(ctx context.Context, m Migration[I]) error {
	key, err := a.codec.Encode(m.ID())
	if err != nil {
		return err
	}

	return a.inTx(ctx, func(tx pgx.Tx) error {
		if err := m.Up(ctx, tx); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			fmt.Sprintf(`INSERT INTO %s (id, description, applied_at) VALUES ($1, $2, $3)`, pgx.Identifier{a.table}.Sanitize()),
			key, m.Description(), a.clock.Now().UTC())
		if err != nil {
			return fmt.Errorf("record migration %v: %w", m.ID(), err)
		}
		return nil
	})
}

// RevertMigration runs m.Down and removes its row in the same transaction.
func (a *Adapter[I]) RevertMigration(ctx context.Context, m Migration[I]) error {
	key, err := a.codec.Encode(m.ID())
	if err != nil {
		return err
	}

	return a.inTx(ctx, func(tx pgx.Tx) error {
		if err := m.Down(ctx, tx); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, pgx.Identifier{a.table}.Sanitize()), key)
		if err != nil {
			return fmt.Errorf("remove record of migration %v: %w", m.ID(), err)
		}
		return nil
	})
}

// History returns the records of the applied migrations, oldest first.
func (a *Adapter[I]) History(ctx context.Context) ([]dagmigrate.Record[I], error) {
	rows, err := a.pool.Query(ctx,
		fmt.Sprintf(`SELECT id, description, applied_at FROM %s`, pgx.Identifier{a.table}.Sanitize()))
	if err != nil {
		return nil, fmt.Errorf("query migration history: %w", err)
	}
	defer rows.Close()

	var records []dagmigrate.Record[I]
	for rows.Next() {
		var (
			key         []byte
			description string
			appliedAt   time.Time
		)
		if err := rows.Scan(&key, &description, &appliedAt); err != nil {
			return nil, fmt.Errorf("scan migration history: %w", err)
		}
		id, err := a.codec.Decode(key)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", a.table, err)
		}
		records = append(records, dagmigrate.Record[I]{
			ID:          id,
			Description: description,
			AppliedAt:   appliedAt.UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan migration history: %w", err)
	}

	dagmigrate.SortRecords(records)
	return records, nil
}

func (a *Adapter[I]) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
