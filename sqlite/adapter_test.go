package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/influxdata/dagmigrate"
	"github.com/influxdata/dagmigrate/migration"
	dagtesting "github.com/influxdata/dagmigrate/testing"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type testMigration[I comparable] struct {
	dagmigrate.Meta[I]
	up, down string
}

func (m testMigration[I]) Up(ctx context.Context, tx *sqlx.Tx) error {
	if m.up == "" {
		return nil
	}
	_, err := tx.ExecContext(ctx, m.up)
	return err
}

func (m testMigration[I]) Down(ctx context.Context, tx *sqlx.Tx) error {
	if m.down == "" {
		return nil
	}
	_, err := tx.ExecContext(ctx, m.down)
	return err
}

// tableMigration creates a table named after id on up and drops it on down.
func tableMigration(id string, deps ...string) testMigration[string] {
	return testMigration[string]{
		Meta: dagmigrate.NewMeta(id, "create table "+id, deps...),
		up:   fmt.Sprintf(`CREATE TABLE %s (id TEXT NOT NULL PRIMARY KEY)`, id),
		down: fmt.Sprintf(`DROP TABLE %s`, id),
	}
}

func NewTestStore(t *testing.T) *SqlStore {
	t.Helper()

	store, err := NewSqlStore(InmemPath, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestAdapter[I comparable](t *testing.T, store *SqlStore, codec dagmigrate.Codec[I], opts ...Option) *Adapter[I] {
	t.Helper()

	a, err := NewAdapter[I](store, codec, opts...)
	require.NoError(t, err)
	require.NoError(t, a.Init(context.Background()))
	return a
}

func TestAdapter(t *testing.T) {
	dagtesting.Adapter(t, dagtesting.AdapterFactory[string, Migration[string]]{
		New: func(t *testing.T) dagmigrate.Adapter[string, Migration[string]] {
			return newTestAdapter[string](t, NewTestStore(t), dagmigrate.StringCodec{})
		},
		Mock: func(id string, deps ...string) Migration[string] {
			return testMigration[string]{Meta: dagmigrate.NewMeta(id, "Test Migration", deps...)}
		},
		IDs: dagtesting.StringIDs,
	})
}

func TestAdapter_UUIDs(t *testing.T) {
	dagtesting.Adapter(t, dagtesting.AdapterFactory[uuid.UUID, Migration[uuid.UUID]]{
		New: func(t *testing.T) dagmigrate.Adapter[uuid.UUID, Migration[uuid.UUID]] {
			return newTestAdapter[uuid.UUID](t, NewTestStore(t), dagmigrate.UUIDCodec{})
		},
		Mock: func(id uuid.UUID, deps ...uuid.UUID) Migration[uuid.UUID] {
			return testMigration[uuid.UUID]{Meta: dagmigrate.NewMeta(id, "Test Migration", deps...)}
		},
		IDs: dagtesting.UUIDs,
	})
}

func TestAdapter_Init(t *testing.T) {
	ctx := context.Background()
	store := NewTestStore(t)

	a := newTestAdapter[string](t, store, dagmigrate.StringCodec{})
	require.NoError(t, a.Init(ctx), "init is safe to repeat")

	names, err := store.tableNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultTable}, names)

	_ = newTestAdapter[string](t, store, dagmigrate.StringCodec{}, WithTable("schema_versions"))
	names, err = store.tableNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultTable, "schema_versions"}, names)
}

func TestAdapter_InvalidTable(t *testing.T) {
	for _, name := range []string{"", "1abc", "users; DROP TABLE x", "a-b"} {
		_, err := NewAdapter[string](NewTestStore(t), dagmigrate.StringCodec{}, WithTable(name))
		assert.Error(t, err, "table name %q", name)
	}
}

func TestAdapter_AppliesInTransaction(t *testing.T) {
	ctx := context.Background()
	store := NewTestStore(t)
	a := newTestAdapter[string](t, store, dagmigrate.StringCodec{})

	m := migration.NewMigrator[string, Migration[string]](zaptest.NewLogger(t), a)
	require.NoError(t, m.RegisterMultiple(
		tableMigration("orgs", "users"),
		tableMigration("users"),
	))

	require.NoError(t, m.Up(ctx))
	names, err := store.tableNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultTable, "orgs", "users"}, names)

	require.NoError(t, m.DownTo(ctx, "users"))
	names, err = store.tableNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultTable, "users"}, names)
}

func TestAdapter_FailedMigrationRollsBack(t *testing.T) {
	ctx := context.Background()
	store := NewTestStore(t)
	a := newTestAdapter[string](t, store, dagmigrate.StringCodec{})

	broken := testMigration[string]{
		Meta: dagmigrate.NewMeta("broken", "half done"),
		up:   `CREATE TABLE partial (id TEXT); INSERT INTO nowhere VALUES (1);`,
	}
	require.Error(t, a.ApplyMigration(ctx, broken))

	names, err := store.tableNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultTable}, names)

	applied, err := a.AppliedMigrations(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestAdapter_MigrationErrorSurfaces(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter[string](t, NewTestStore(t), dagmigrate.StringCodec{})

	m := migration.NewMigrator[string, Migration[string]](zaptest.NewLogger(t), a)
	require.NoError(t, m.RegisterMultiple(
		tableMigration("users"),
		testMigration[string]{
			Meta: dagmigrate.NewMeta("dup", "create users again", "users"),
			up:   `CREATE TABLE users (id TEXT)`,
		},
	))

	err := m.Up(ctx)
	require.ErrorIs(t, err, dagmigrate.ErrMigration)

	var migErr *dagmigrate.MigrationError[string]
	require.True(t, errors.As(err, &migErr))
	assert.Equal(t, "dup", migErr.ID)

	applied, err := a.AppliedMigrations(ctx)
	require.NoError(t, err)
	assert.Equal(t, dagmigrate.NewIDSet("users"), applied)
}

func TestAdapter_History(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewMock()
	clk.Set(start)

	a := newTestAdapter[string](t, NewTestStore(t), dagmigrate.StringCodec{}, WithClock(clk))

	require.NoError(t, a.ApplyMigration(ctx, tableMigration("b")))
	clk.Add(time.Hour)
	require.NoError(t, a.ApplyMigration(ctx, tableMigration("a")))

	records, err := a.History(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "b", records[0].ID)
	assert.Equal(t, "create table b", records[0].Description)
	assert.True(t, start.Equal(records[0].AppliedAt), "got %s", records[0].AppliedAt)
	assert.Equal(t, "a", records[1].ID)
	assert.True(t, start.Add(time.Hour).Equal(records[1].AppliedAt), "got %s", records[1].AppliedAt)

	require.NoError(t, a.RevertMigration(ctx, tableMigration("b")))
	records, err = a.History(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0].ID)
}

func TestAdapter_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), DefaultFilename)

	store, err := NewSqlStore(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	a := newTestAdapter[string](t, store, dagmigrate.StringCodec{})
	require.NoError(t, a.ApplyMigration(ctx, tableMigration("users")))
	require.NoError(t, store.Close())

	store, err = NewSqlStore(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer store.Close()
	a = newTestAdapter[string](t, store, dagmigrate.StringCodec{})

	applied, err := a.AppliedMigrations(ctx)
	require.NoError(t, err)
	assert.Equal(t, dagmigrate.NewIDSet("users"), applied)
	assert.Equal(t, path, store.Path())
}
