package bolt_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/influxdata/dagmigrate"
	"github.com/influxdata/dagmigrate/bolt"
	"github.com/influxdata/dagmigrate/migration"
	dagtesting "github.com/influxdata/dagmigrate/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bbolt "go.etcd.io/bbolt"
	"go.uber.org/zap/zaptest"
)

type testMigration struct {
	dagmigrate.Meta[string]
	up   func(tx *bbolt.Tx) error
	down func(tx *bbolt.Tx) error
}

func (m testMigration) Up(tx *bbolt.Tx) error {
	if m.up == nil {
		return nil
	}
	return m.up(tx)
}

func (m testMigration) Down(tx *bbolt.Tx) error {
	if m.down == nil {
		return nil
	}
	return m.down(tx)
}

// bucketMigration creates a bucket named after its id on up and deletes it on
// down.
func bucketMigration(id string, deps ...string) testMigration {
	return testMigration{
		Meta: dagmigrate.NewMeta(id, "create bucket "+id, deps...),
		up: func(tx *bbolt.Tx) error {
			_, err := tx.CreateBucket([]byte(id))
			return err
		},
		down: func(tx *bbolt.Tx) error {
			return tx.DeleteBucket([]byte(id))
		},
	}
}

func newTestStore(t *testing.T) *bolt.KVStore {
	t.Helper()

	store := bolt.NewKVStore(zaptest.NewLogger(t), filepath.Join(t.TempDir(), "dagmigrate.bolt"))
	require.NoError(t, store.Open(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestAdapter(t *testing.T, store *bolt.KVStore, opts ...bolt.Option) *bolt.Adapter[string] {
	t.Helper()

	a := bolt.NewAdapter[string](store, dagmigrate.StringCodec{}, opts...)
	require.NoError(t, a.Init(context.Background()))
	return a
}

func hasBucket(t *testing.T, store *bolt.KVStore, name string) bool {
	t.Helper()

	var ok bool
	require.NoError(t, store.View(context.Background(), func(tx *bbolt.Tx) error {
		ok = tx.Bucket([]byte(name)) != nil
		return nil
	}))
	return ok
}

func TestAdapter(t *testing.T) {
	dagtesting.Adapter(t, dagtesting.AdapterFactory[string, bolt.Migration[string]]{
		New: func(t *testing.T) dagmigrate.Adapter[string, bolt.Migration[string]] {
			return newTestAdapter(t, newTestStore(t))
		},
		Mock: func(id string, deps ...string) bolt.Migration[string] {
			return testMigration{Meta: dagmigrate.NewMeta(id, "Test Migration", deps...)}
		},
		IDs: dagtesting.StringIDs,
	})
}

func TestAdapter_UUIDs(t *testing.T) {
	dagtesting.Adapter(t, dagtesting.AdapterFactory[uuid.UUID, bolt.Migration[uuid.UUID]]{
		New: func(t *testing.T) dagmigrate.Adapter[uuid.UUID, bolt.Migration[uuid.UUID]] {
			a := bolt.NewAdapter[uuid.UUID](newTestStore(t), dagmigrate.UUIDCodec{})
			require.NoError(t, a.Init(context.Background()))
			return a
		},
		Mock: func(id uuid.UUID, deps ...uuid.UUID) bolt.Migration[uuid.UUID] {
			return uuidMigration{Meta: dagmigrate.NewMeta(id, "Test Migration", deps...)}
		},
		IDs: dagtesting.UUIDs,
	})
}

type uuidMigration struct {
	dagmigrate.Meta[uuid.UUID]
}

func (uuidMigration) Up(*bbolt.Tx) error   { return nil }
func (uuidMigration) Down(*bbolt.Tx) error { return nil }

func TestAdapter_AppliesInTransaction(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	a := newTestAdapter(t, store)

	m := migration.NewMigrator[string, bolt.Migration[string]](zaptest.NewLogger(t), a)
	require.NoError(t, m.RegisterMultiple(bucketMigration("users"), bucketMigration("orgs", "users")))

	require.NoError(t, m.Up(ctx))
	assert.True(t, hasBucket(t, store, "users"))
	assert.True(t, hasBucket(t, store, "orgs"))

	require.NoError(t, m.DownTo(ctx, "users"))
	assert.True(t, hasBucket(t, store, "users"))
	assert.False(t, hasBucket(t, store, "orgs"))
}

func TestAdapter_FailedMigrationRollsBack(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	a := newTestAdapter(t, store)
	boom := errors.New("boom")

	broken := testMigration{
		Meta: dagmigrate.NewMeta("broken", "half done"),
		up: func(tx *bbolt.Tx) error {
			if _, err := tx.CreateBucket([]byte("partial")); err != nil {
				return err
			}
			return boom
		},
	}

	err := a.ApplyMigration(ctx, broken)
	require.ErrorIs(t, err, boom)

	assert.False(t, hasBucket(t, store, "partial"))
	applied, err := a.AppliedMigrations(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestAdapter_History(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewMock()
	clk.Set(start)

	a := newTestAdapter(t, newTestStore(t), bolt.WithClock(clk), bolt.WithBucket("history"))

	require.NoError(t, a.ApplyMigration(ctx, bucketMigration("b")))
	clk.Add(time.Minute)
	require.NoError(t, a.ApplyMigration(ctx, bucketMigration("a")))

	records, err := a.History(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "b", records[0].ID)
	assert.Equal(t, "create bucket b", records[0].Description)
	assert.True(t, start.Equal(records[0].AppliedAt))
	assert.Equal(t, "a", records[1].ID)
	assert.True(t, start.Add(time.Minute).Equal(records[1].AppliedAt))
}

func TestAdapter_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "persist.bolt")

	store := bolt.NewKVStore(zaptest.NewLogger(t), path)
	require.NoError(t, store.Open(ctx))
	a := bolt.NewAdapter[string](store, dagmigrate.StringCodec{})
	require.NoError(t, a.Init(ctx))
	require.NoError(t, a.ApplyMigration(ctx, bucketMigration("m1")))
	require.NoError(t, store.Close())

	store = bolt.NewKVStore(zaptest.NewLogger(t), path)
	require.NoError(t, store.Open(ctx))
	defer store.Close()
	a = bolt.NewAdapter[string](store, dagmigrate.StringCodec{})
	require.NoError(t, a.Init(ctx), "init is safe to repeat")

	applied, err := a.AppliedMigrations(ctx)
	require.NoError(t, err)
	assert.Equal(t, dagmigrate.NewIDSet("m1"), applied)
}

func TestAdapter_NotInitialized(t *testing.T) {
	ctx := context.Background()
	a := bolt.NewAdapter[string](newTestStore(t), dagmigrate.StringCodec{})

	_, err := a.AppliedMigrations(ctx)
	require.ErrorIs(t, err, bolt.ErrNotInitialized)

	require.ErrorIs(t, a.ApplyMigration(ctx, bucketMigration("m1")), bolt.ErrNotInitialized)
}
