// Package sqlite applies migrations to a sqlite database. Each migration runs
// in its own SQL transaction, together with the row that marks it applied.
package sqlite

import (
	"context"
	"fmt"
	"regexp"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/benbjohnson/clock"
	"github.com/influxdata/dagmigrate"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// DefaultTable is the table applied migrations are recorded in.
const DefaultTable = "_dagmigrate"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Migration is a migration that can be applied to and reverted from a sqlite
// transaction.
type Migration[I comparable] interface {
	dagmigrate.Migration[I]
	Up(ctx context.Context, tx *sqlx.Tx) error
	Down(ctx context.Context, tx *sqlx.Tx) error
}

// Adapter is a dagmigrate.Adapter backed by a SqlStore.
type Adapter[I comparable] struct {
	store *SqlStore
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

// NewAdapter returns an adapter recording applied migrations in store. IDs
// are persisted as blobs through codec.
func NewAdapter[I comparable](store *SqlStore, codec dagmigrate.Codec[I], opts ...Option) (*Adapter[I], error) {
	o := options{
		table: DefaultTable,
		clock: clock.New(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if !tableName.MatchString(o.table) {
		return nil, errors.Errorf("invalid migrations table name %q", o.table)
	}

	return &Adapter[I]{
		store: store,
		codec: codec,
		table: o.table,
		clock: o.clock,
	}, nil
}

// Init creates the bookkeeping table. It is safe to call more than once.
func (a *Adapter[I]) Init(ctx context.Context) error {
	return a.store.execTrans(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id BLOB NOT NULL PRIMARY KEY,
		description TEXT NOT NULL DEFAULT '',
		applied_at TIMESTAMP NOT NULL
	)`, a.table))
}

// AppliedMigrations returns the IDs recorded in the bookkeeping table.
func (a *Adapter[I]) AppliedMigrations(ctx context.Context) (dagmigrate.IDSet[I], error) {
	query, args, err := sq.Select("id").From(a.table).ToSql()
	if err != nil {
		return nil, err
	}

	var rows [][]byte
	if err := a.store.DB.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrapf(err, "reading %s", a.table)
	}

	ids := make(dagmigrate.IDSet[I], len(rows))
	for _, b := range rows {
		id, err := a.codec.Decode(b)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", a.table)
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

	query, args, err := sq.Insert(a.table).
		Columns("id", "description", "applied_at").
		Values(key, m.Description(), a.clock.Now().UTC()).
		ToSql()
	if err != nil {
		return err
	}

	return a.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := m.Up(ctx, tx); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, query, args...)
		return errors.Wrapf(err, "recording migration %v", m.ID())
	})
}

// RevertMigration runs m.Down and removes its row in the same transaction.
func (a *Adapter[I]) RevertMigration(ctx context.Context, m Migration[I]) error {
	key, err := a.codec.Encode(m.ID())
	if err != nil {
		return err
	}

	query, args, err := sq.Delete(a.table).Where(sq.Eq{"id": key}).ToSql()
	if err != nil {
		return err
	}

	return a.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := m.Down(ctx, tx); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, query, args...)
		return errors.Wrapf(err, "removing record of migration %v", m.ID())
	})
}

type historyRow struct {
	ID          []byte    `db:"id"`
	Description string    `db:"description"`
	AppliedAt   time.Time `db:"applied_at"`
}

// History returns the records of the applied migrations, oldest first.
func (a *Adapter[I]) History(ctx context.Context) ([]dagmigrate.Record[I], error) {
	query, args, err := sq.Select("id", "description", "applied_at").From(a.table).ToSql()
	if err != nil {
		return nil, err
	}

	var rows []historyRow
	if err := a.store.DB.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrapf(err, "reading %s", a.table)
	}

	records := make([]dagmigrate.Record[I], 0, len(rows))
	for _, r := range rows {
		id, err := a.codec.Decode(r.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", a.table)
		}
		records = append(records, dagmigrate.Record[I]{
			ID:          id,
			Description: r.Description,
			AppliedAt:   r.AppliedAt.UTC(),
		})
	}
	dagmigrate.SortRecords(records)
	return records, nil
}

func (a *Adapter[I]) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := a.store.DB.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return errors.Wrap(tx.Commit(), "committing transaction")
}
