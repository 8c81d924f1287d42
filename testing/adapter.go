package testing

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/influxdata/dagmigrate"
	"github.com/influxdata/dagmigrate/migration"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// AdapterFactory tells the conformance suite how to exercise an adapter.
type AdapterFactory[I comparable, M dagmigrate.Migration[I]] struct {
	// New returns an adapter with nothing applied. Each call must return
	// an adapter backed by fresh state.
	New func(t *testing.T) dagmigrate.Adapter[I, M]
	// Mock returns a migration with the given identity and dependencies
	// whose apply and revert have no effect besides bookkeeping.
	Mock func(id I, dependencies ...I) M
	// IDs returns n distinct identities.
	IDs func(n int) []I
}

// Adapter runs the adapter conformance suite.
func Adapter[I comparable, M dagmigrate.Migration[I]](t *testing.T, f AdapterFactory[I, M]) {
	tests := []struct {
		name string
		fn   func(*testing.T, AdapterFactory[I, M])
	}{
		{name: "single migration", fn: SingleMigration[I, M]},
		{name: "migration chain", fn: MigrationChain[I, M]},
		{name: "diamond", fn: Diamond[I, M]},
		{name: "idempotent", fn: Idempotent[I, M]},
		{name: "resume", fn: Resume[I, M]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, f)
		})
	}
}

// SingleMigration applies and reverts one migration without dependencies.
func SingleMigration[I comparable, M dagmigrate.Migration[I]](t *testing.T, f AdapterFactory[I, M]) {
	ctx := context.Background()
	ids := f.IDs(1)
	m, _ := newMigrator(t, f)

	require.NoError(t, m.Register(f.Mock(ids[0])))

	require.NoError(t, m.Up(ctx))
	requireApplied(t, m.Adapter(), ids[0])

	require.NoError(t, m.Down(ctx))
	requireApplied(t, m.Adapter())
}

// MigrationChain migrates up and down to targets within a chain of three
// migrations.
func MigrationChain[I comparable, M dagmigrate.Migration[I]](t *testing.T, f AdapterFactory[I, M]) {
	ctx := context.Background()
	ids := f.IDs(3)
	m, rec := newMigrator(t, f)

	require.NoError(t, m.RegisterMultiple(
		f.Mock(ids[0]),
		f.Mock(ids[1], ids[0]),
		f.Mock(ids[2], ids[1]),
	))

	require.NoError(t, m.UpTo(ctx, ids[1]))
	requireApplied(t, m.Adapter(), ids[0], ids[1])
	requireCalls(t, rec, call[I]{dagmigrate.Up, ids[0]}, call[I]{dagmigrate.Up, ids[1]})

	rec.reset()
	require.NoError(t, m.DownTo(ctx, ids[0]))
	requireApplied(t, m.Adapter(), ids[0])
	requireCalls(t, rec, call[I]{dagmigrate.Down, ids[1]})
}

// Diamond applies and reverts a fan-out followed by a fan-in and checks each
// migration is handled on the correct side of its dependencies.
func Diamond[I comparable, M dagmigrate.Migration[I]](t *testing.T, f AdapterFactory[I, M]) {
	ctx := context.Background()
	ids := f.IDs(4)
	root, left, right, leaf := ids[0], ids[1], ids[2], ids[3]
	m, rec := newMigrator(t, f)

	// Registered out of dependency order on purpose.
	require.NoError(t, m.RegisterMultiple(
		f.Mock(leaf, left, right),
		f.Mock(right, root),
		f.Mock(left, root),
		f.Mock(root),
	))

	require.NoError(t, m.Up(ctx))
	requireApplied(t, m.Adapter(), ids...)
	requireCalls(t, rec,
		call[I]{dagmigrate.Up, root},
		call[I]{dagmigrate.Up, right},
		call[I]{dagmigrate.Up, left},
		call[I]{dagmigrate.Up, leaf},
	)

	rec.reset()
	require.NoError(t, m.Down(ctx))
	requireApplied(t, m.Adapter())
	requireCalls(t, rec,
		call[I]{dagmigrate.Down, leaf},
		call[I]{dagmigrate.Down, left},
		call[I]{dagmigrate.Down, right},
		call[I]{dagmigrate.Down, root},
	)
}

// Idempotent checks that repeating up or down is a no-op.
func Idempotent[I comparable, M dagmigrate.Migration[I]](t *testing.T, f AdapterFactory[I, M]) {
	ctx := context.Background()
	ids := f.IDs(2)
	m, rec := newMigrator(t, f)

	require.NoError(t, m.RegisterMultiple(f.Mock(ids[0]), f.Mock(ids[1], ids[0])))

	require.NoError(t, m.Up(ctx))
	rec.reset()
	require.NoError(t, m.Up(ctx))
	requireCalls(t, rec)
	requireApplied(t, m.Adapter(), ids...)

	require.NoError(t, m.Down(ctx))
	rec.reset()
	require.NoError(t, m.Down(ctx))
	requireCalls(t, rec)
	requireApplied(t, m.Adapter())
}

// Resume checks that a second migrator over the same adapter only applies
// what the first one left out.
func Resume[I comparable, M dagmigrate.Migration[I]](t *testing.T, f AdapterFactory[I, M]) {
	ctx := context.Background()
	ids := f.IDs(3)
	adapter := f.New(t)
	migrations := func() []M {
		return []M{f.Mock(ids[0]), f.Mock(ids[1], ids[0]), f.Mock(ids[2], ids[0])}
	}

	first := migration.NewMigrator[I, M](zaptest.NewLogger(t), adapter)
	require.NoError(t, first.RegisterMultiple(migrations()...))
	require.NoError(t, first.UpTo(ctx, ids[1]))

	rec := &recorder[I, M]{adapter: adapter}
	second := migration.NewMigrator[I, M](zaptest.NewLogger(t), dagmigrate.Adapter[I, M](rec))
	require.NoError(t, second.RegisterMultiple(migrations()...))
	require.NoError(t, second.Up(ctx))

	requireCalls(t, rec, call[I]{dagmigrate.Up, ids[2]})
	requireApplied(t, adapter, ids...)
}

func newMigrator[I comparable, M dagmigrate.Migration[I]](t *testing.T, f AdapterFactory[I, M]) (*migration.Migrator[I, M], *recorder[I, M]) {
	t.Helper()

	rec := &recorder[I, M]{adapter: f.New(t)}
	return migration.NewMigrator[I, M](zaptest.NewLogger(t), dagmigrate.Adapter[I, M](rec)), rec
}

func requireApplied[I comparable, M dagmigrate.Migration[I]](t *testing.T, a dagmigrate.Adapter[I, M], want ...I) {
	t.Helper()

	got, err := a.AppliedMigrations(context.Background())
	require.NoError(t, err)
	require.Equal(t, dagmigrate.NewIDSet(want...), got)
}

func requireCalls[I comparable, M dagmigrate.Migration[I]](t *testing.T, rec *recorder[I, M], want ...call[I]) {
	t.Helper()

	got := rec.get()
	if len(want) == 0 && len(got) == 0 {
		return
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected adapter calls (-want +got):\n%s", diff)
	}
}

type call[I comparable] struct {
	Direction dagmigrate.Direction
	ID        I
}

func (c call[I]) String() string {
	return fmt.Sprintf("%s %v", c.Direction, c.ID)
}

// recorder wraps an adapter and records successful applies and reverts.
type recorder[I comparable, M dagmigrate.Migration[I]] struct {
	mu      sync.Mutex
	adapter dagmigrate.Adapter[I, M]
	calls   []call[I]
}

func (r *recorder[I, M]) AppliedMigrations(ctx context.Context) (dagmigrate.IDSet[I], error) {
	return r.adapter.AppliedMigrations(ctx)
}

func (r *recorder[I, M]) ApplyMigration(ctx context.Context, m M) error {
	if err := r.adapter.ApplyMigration(ctx, m); err != nil {
		return err
	}
	r.record(dagmigrate.Up, m.ID())
	return nil
}

func (r *recorder[I, M]) RevertMigration(ctx context.Context, m M) error {
	if err := r.adapter.RevertMigration(ctx, m); err != nil {
		return err
	}
	r.record(dagmigrate.Down, m.ID())
	return nil
}

func (r *recorder[I, M]) record(dir dagmigrate.Direction, id I) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call[I]{Direction: dir, ID: id})
}

func (r *recorder[I, M]) get() []call[I] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call[I](nil), r.calls...)
}

func (r *recorder[I, M]) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// StringIDs returns the identities "m1" through "mn".
func StringIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("m%d", i+1)
	}
	return ids
}

// UUIDs returns n distinct, deterministic UUIDs.
func UUIDs(n int) []uuid.UUID {
	ids := make([]uuid.UUID, n)
	for i := range ids {
		var b [16]byte
		binary.BigEndian.PutUint32(b[:4], uint32(i+1))
		ids[i] = uuid.UUID(b)
	}
	return ids
}
