// Package migration orders and runs migrations that declare dependencies on
// one another.
//
// A Migrator keeps every registered migration in a dependency graph and,
// on Up or Down, asks its adapter which migrations are currently applied and
// applies or reverts the difference, one migration at a time, in an order
// consistent with the declared dependencies.
package migration

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/RoaringBitmap/roaring"
	"github.com/influxdata/dagmigrate"
	"github.com/influxdata/dagmigrate/dag"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrInconsistentState is matched by the errors Check reports.
var ErrInconsistentState = errors.New("applied migrations are inconsistent with the dependency graph")

// MigrationState is a type for describing the state of a migration.
type MigrationState uint

const (
	// DownMigrationState is for a migration not yet applied.
	DownMigrationState MigrationState = iota
	// UpMigrationState is for a migration which has been applied.
	UpMigrationState
)

// String returns a string representation for a migration state.
func (s MigrationState) String() string {
	switch s {
	case DownMigrationState:
		return "down"
	case UpMigrationState:
		return "up"
	default:
		return "unknown"
	}
}

// Status is a registered migration along with its current state.
type Status[M any] struct {
	Migration M
	State     MigrationState
}

// Migrator is a type which manages migrations.
// Migrations are registered up front; edges between them are derived from
// their declared dependencies on every call that needs them, so migrations
// may be registered in any order and a missing dependency only surfaces once
// the graph is used.
//
// A Migrator is not safe for concurrent use.
type Migrator[I comparable, M dagmigrate.Migration[I]] struct {
	logger  *zap.Logger
	adapter dagmigrate.Adapter[I, M]

	graph *dag.Graph[M]
	ids   map[I]dag.NodeIndex
}

// NewMigrator constructs a Migrator which records migration state through
// adapter.
func NewMigrator[I comparable, M dagmigrate.Migration[I]](logger *zap.Logger, adapter dagmigrate.Adapter[I, M]) *Migrator[I, M] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator[I, M]{
		logger:  logger,
		adapter: adapter,
		graph:   dag.New[M](),
		ids:     make(map[I]dag.NodeIndex),
	}
}

// Adapter returns the adapter the migrator drives.
func (m *Migrator[I, M]) Adapter() dagmigrate.Adapter[I, M] {
	return m.adapter
}

// Len returns the number of registered migrations.
func (m *Migrator[I, M]) Len() int {
	return m.graph.Len()
}

// Migration returns the registered migration with the given id.
func (m *Migrator[I, M]) Migration(id I) (M, bool) {
	idx, ok := m.ids[id]
	if !ok {
		var zero M
		return zero, false
	}
	return m.graph.Node(idx), true
}

// Register adds a migration to the dependency graph. It fails with a
// DependencyError if a migration with the same id is already registered.
func (m *Migrator[I, M]) Register(mig M) error {
	id := mig.ID()
	m.logger.Debug("Registering migration", zap.Stringer("migration_id", idStringer[I]{id}))

	if _, ok := m.ids[id]; ok {
		return dagmigrate.NewDuplicateIDError(id)
	}

	m.ids[id] = m.graph.AddNode(mig)
	return nil
}

// RegisterMultiple registers each migration in turn. It stops at the first
// failure; migrations registered before it stay registered.
func (m *Migrator[I, M]) RegisterMultiple(ms ...M) error {
	for _, mig := range ms {
		if err := m.Register(mig); err != nil {
			return err
		}
	}
	return nil
}

// buildEdges adds an edge from every declared dependency to its dependent.
// Existing edges are skipped, so it is safe to call repeatedly.
func (m *Migrator[I, M]) buildEdges() error {
	for i := 0; i < m.graph.Len(); i++ {
		idx := dag.NodeIndex(i)
		mig := m.graph.Node(idx)

		for _, dep := range mig.Dependencies() {
			parent, ok := m.ids[dep]
			if !ok {
				return dagmigrate.NewUnknownIDError(dep)
			}

			if _, err := m.graph.AddEdge(parent, idx); err != nil {
				if errors.Is(err, dag.ErrWouldCycle) {
					return dagmigrate.NewCycleError(dep, mig.ID())
				}
				return err
			}
		}
	}
	return nil
}

// inducedStream collects the migrations reachable from target in direction
// dir: with dag.Incoming every dependency of target, with dag.Outgoing every
// dependent, target included. Without a target it starts from every sink or
// source respectively, which covers the whole graph.
func (m *Migrator[I, M]) inducedStream(target *I, dir dag.Direction) (*roaring.Bitmap, error) {
	var seeds []dag.NodeIndex
	if target != nil {
		idx, ok := m.ids[*target]
		if !ok {
			return nil, dagmigrate.NewUnknownIDError(*target)
		}
		seeds = []dag.NodeIndex{idx}
	} else {
		seeds = m.graph.Externals(dir.Opposite())
	}
	return m.graph.Induced(seeds, dir), nil
}

// Plan returns the migrations a call to Up (dir dagmigrate.Up) or Down
// (dir dagmigrate.Down) with the given target would apply or revert, in the
// order it would do so. A nil target means every migration.
//
// Plan has no side effects beyond asking the adapter for the applied
// migrations.
func (m *Migrator[I, M]) Plan(ctx context.Context, dir dagmigrate.Direction, target *I) ([]M, error) {
	if err := m.buildEdges(); err != nil {
		return nil, err
	}

	var (
		stream *roaring.Bitmap
		err    error
	)
	switch dir {
	case dagmigrate.Up:
		stream, err = m.inducedStream(target, dag.Incoming)
	case dagmigrate.Down:
		stream, err = m.inducedStream(target, dag.Outgoing)
		if err == nil && target != nil {
			// Migrating down to a target leaves the target applied.
			stream.Remove(uint32(m.ids[*target]))
		}
	default:
		return nil, fmt.Errorf("unknown migration direction %d", dir)
	}
	if err != nil {
		return nil, err
	}

	// The applied set is trusted to agree with the graph. Check verifies it.
	applied, err := m.adapter.AppliedMigrations(ctx)
	if err != nil {
		return nil, &dagmigrate.AdapterError{Op: dir.String(), Err: err}
	}

	order, err := m.graph.TopologicalSort()
	if err != nil {
		return nil, err
	}
	if dir == dagmigrate.Down {
		slices.Reverse(order)
	}

	var plan []M
	for _, idx := range order {
		if !stream.Contains(uint32(idx)) {
			continue
		}
		mig := m.graph.Node(idx)
		isApplied := applied.Has(mig.ID())
		if dir == dagmigrate.Up && isApplied || dir == dagmigrate.Down && !isApplied {
			continue
		}
		plan = append(plan, mig)
	}
	return plan, nil
}

// Up applies every migration that is not applied yet, each after all of its
// dependencies.
func (m *Migrator[I, M]) Up(ctx context.Context) error {
	m.logger.Info("Migrating everything up")
	return m.migrate(ctx, dagmigrate.Up, nil)
}

// UpTo applies the migration with the given id and every dependency of it
// that is not applied yet. Other migrations are left untouched.
func (m *Migrator[I, M]) UpTo(ctx context.Context, id I) error {
	m.logger.Info("Migrating up to target", zap.Stringer("migration_id", idStringer[I]{id}))
	return m.migrate(ctx, dagmigrate.Up, &id)
}

// Down reverts every applied migration, each before all of its
// dependencies.
func (m *Migrator[I, M]) Down(ctx context.Context) error {
	m.logger.Info("Migrating everything down")
	return m.migrate(ctx, dagmigrate.Down, nil)
}

// DownTo reverts every applied migration that depends on the migration with
// the given id. The migration itself stays applied.
func (m *Migrator[I, M]) DownTo(ctx context.Context, id I) error {
	m.logger.Info("Migrating down to target", zap.Stringer("migration_id", idStringer[I]{id}))
	return m.migrate(ctx, dagmigrate.Down, &id)
}

// migrate runs the plan for dir and target. It stops at the first migration
// that fails; migrations before it stay applied (or reverted).
func (m *Migrator[I, M]) migrate(ctx context.Context, dir dagmigrate.Direction, target *I) error {
	plan, err := m.Plan(ctx, dir, target)
	if err != nil {
		return err
	}

	if len(plan) > 0 {
		msg := "Bringing up migrations"
		if dir == dagmigrate.Down {
			msg = "Tearing down migrations"
		}
		m.logger.Info(msg, zap.Int("migration_count", len(plan)))
	}

	for _, mig := range plan {
		m.logMigrationEvent(dir, mig, "started")

		if dir == dagmigrate.Up {
			err = m.adapter.ApplyMigration(ctx, mig)
		} else {
			err = m.adapter.RevertMigration(ctx, mig)
		}
		if err != nil {
			return &dagmigrate.MigrationError[I]{
				ID:          mig.ID(),
				Description: mig.Description(),
				Direction:   dir,
				Err:         err,
			}
		}

		m.logMigrationEvent(dir, mig, "completed")
	}

	return nil
}

func (m *Migrator[I, M]) logMigrationEvent(dir dagmigrate.Direction, mig M, event string) {
	state := UpMigrationState
	if dir == dagmigrate.Down {
		state = DownMigrationState
	}
	m.logger.Debug(
		"Executing migration",
		zap.Stringer("migration_id", idStringer[I]{mig.ID()}),
		zap.String("migration_description", mig.Description()),
		zap.String("target_state", state.String()),
		zap.String("migration_event", event),
	)
}

// List returns every registered migration in the order Up would apply them,
// along with its state within the adapter.
func (m *Migrator[I, M]) List(ctx context.Context) ([]Status[M], error) {
	if err := m.buildEdges(); err != nil {
		return nil, err
	}

	applied, err := m.adapter.AppliedMigrations(ctx)
	if err != nil {
		return nil, &dagmigrate.AdapterError{Op: "list", Err: err}
	}

	order, err := m.graph.TopologicalSort()
	if err != nil {
		return nil, err
	}

	statuses := make([]Status[M], 0, len(order))
	for _, idx := range order {
		mig := m.graph.Node(idx)
		st := Status[M]{Migration: mig, State: DownMigrationState}
		if applied.Has(mig.ID()) {
			st.State = UpMigrationState
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// Check verifies that the adapter's applied migrations are consistent with
// the dependency graph: every applied migration must be registered and have
// all of its dependencies applied. All problems found are reported together;
// each of them matches ErrInconsistentState.
func (m *Migrator[I, M]) Check(ctx context.Context) error {
	if err := m.buildEdges(); err != nil {
		return err
	}

	applied, err := m.adapter.AppliedMigrations(ctx)
	if err != nil {
		return &dagmigrate.AdapterError{Op: "check", Err: err}
	}

	var unknown []I
	for id := range applied {
		if _, ok := m.ids[id]; !ok {
			unknown = append(unknown, id)
		}
	}
	slices.SortFunc(unknown, func(a, b I) int {
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	})

	var errs error
	for _, id := range unknown {
		errs = multierr.Append(errs, fmt.Errorf("applied migration %v is not registered: %w", id, ErrInconsistentState))
	}

	order, err := m.graph.TopologicalSort()
	if err != nil {
		return err
	}
	for _, idx := range order {
		mig := m.graph.Node(idx)
		if !applied.Has(mig.ID()) {
			continue
		}
		for _, dep := range mig.Dependencies() {
			if !applied.Has(dep) {
				errs = multierr.Append(errs, fmt.Errorf("migration %v is applied but its dependency %v is not: %w", mig.ID(), dep, ErrInconsistentState))
			}
		}
	}
	return errs
}

// Closure returns the migration with the given id together with all of its
// transitive dependencies (dir dag.Incoming) or dependents (dir
// dag.Outgoing). The result is in post order: every migration comes after
// everything it reaches in dir, so the requested migration is last.
func (m *Migrator[I, M]) Closure(id I, dir dag.Direction) ([]M, error) {
	if err := m.buildEdges(); err != nil {
		return nil, err
	}

	idx, ok := m.ids[id]
	if !ok {
		return nil, dagmigrate.NewUnknownIDError(id)
	}

	walk := dag.PostOrder(m.graph, dir, idx)
	out := make([]M, 0, len(walk))
	for _, n := range walk {
		out = append(out, m.graph.Node(n))
	}
	return out, nil
}

// idStringer defers formatting of an id until a log entry is written.
type idStringer[I comparable] struct{ id I }

func (s idStringer[I]) String() string { return fmt.Sprint(s.id) }
