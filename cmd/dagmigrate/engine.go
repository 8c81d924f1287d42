package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/influxdata/dagmigrate"
	"github.com/influxdata/dagmigrate/dag"
	"github.com/influxdata/dagmigrate/migration"
	"github.com/influxdata/dagmigrate/postgres"
	"github.com/influxdata/dagmigrate/source"
	"github.com/influxdata/dagmigrate/sqlite"
	"github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/xlab/treeprint"
	"go.uber.org/zap"
)

// engine runs commands against the configured database.
type engine interface {
	Migrate(ctx context.Context, w io.Writer, dir dagmigrate.Direction, target *uuid.UUID, dryRun bool) error
	Status(ctx context.Context, w io.Writer) error
	Graph(ctx context.Context, w io.Writer, id *uuid.UUID, dependents bool) error
	Validate(ctx context.Context, w io.Writer) error
	Close() error
}

// openEngine loads the migrations in cfg.MigrationsDir and connects to the
// configured database, creating the migrations table if needed.
func openEngine(ctx context.Context, cfg *Config, log *zap.Logger, reg prometheus.Registerer, tracer opentracing.Tracer) (engine, error) {
	ms, err := source.Load(os.DirFS(cfg.MigrationsDir), ".")
	if err != nil {
		return nil, err
	}

	switch cfg.Driver {
	case "sqlite":
		store, err := sqlite.NewSqlStore(cfg.DSN, log.With(zap.String("service", "sqlite")))
		if err != nil {
			return nil, err
		}
		a, err := sqlite.NewAdapter[uuid.UUID](store, dagmigrate.UUIDCodec{}, sqlite.WithTable(cfg.Table))
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		if err := a.Init(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return newDriverEngine[sqlite.Migration[uuid.UUID]](log, reg, tracer, a, a, source.ForSQLite(ms), store.Close)
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		closer := func() error {
			pool.Close()
			return nil
		}
		a, err := postgres.NewAdapter[uuid.UUID](pool, dagmigrate.UUIDCodec{}, postgres.WithTable(cfg.Table))
		if err != nil {
			_ = closer()
			return nil, err
		}
		if err := a.Init(ctx); err != nil {
			_ = closer()
			return nil, err
		}
		return newDriverEngine[postgres.Migration[uuid.UUID]](log, reg, tracer, a, a, source.ForPostgres(ms), closer)
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
}

type driverEngine[M dagmigrate.Migration[uuid.UUID]] struct {
	migrator *migration.Migrator[uuid.UUID, M]
	history  dagmigrate.HistoryAdapter[uuid.UUID]
	closer   func() error
}

func newDriverEngine[M dagmigrate.Migration[uuid.UUID]](
	log *zap.Logger,
	reg prometheus.Registerer,
	tracer opentracing.Tracer,
	adapter dagmigrate.Adapter[uuid.UUID, M],
	history dagmigrate.HistoryAdapter[uuid.UUID],
	ms []M,
	closer func() error,
) (*driverEngine[M], error) {
	var a dagmigrate.Adapter[uuid.UUID, M] = adapter
	a = migration.NewAdapterLogger[uuid.UUID, M](log.With(zap.String("service", "adapter")), a)
	if reg != nil {
		a = migration.NewAdapterMetrics[uuid.UUID, M](reg, a)
	}
	a = migration.NewAdapterTracer[uuid.UUID, M](tracer, a)

	m := migration.NewMigrator[uuid.UUID, M](log, a)
	if err := m.RegisterMultiple(ms...); err != nil {
		_ = closer()
		return nil, err
	}
	return &driverEngine[M]{migrator: m, history: history, closer: closer}, nil
}

func (e *driverEngine[M]) Close() error {
	return e.closer()
}

func (e *driverEngine[M]) Migrate(ctx context.Context, w io.Writer, dir dagmigrate.Direction, target *uuid.UUID, dryRun bool) error {
	plan, err := e.migrator.Plan(ctx, dir, target)
	if err != nil {
		return err
	}
	if len(plan) == 0 {
		fmt.Fprintln(w, "Nothing to migrate")
		return nil
	}

	verb := "Applying"
	switch {
	case dryRun && dir == dagmigrate.Up:
		verb = "Would apply"
	case dryRun:
		verb = "Would revert"
	case dir == dagmigrate.Down:
		verb = "Reverting"
	}
	for _, m := range plan {
		fmt.Fprintf(w, "%s %s %s\n", verb, m.ID(), m.Description())
	}
	if dryRun {
		return nil
	}

	switch {
	case dir == dagmigrate.Up && target == nil:
		err = e.migrator.Up(ctx)
	case dir == dagmigrate.Up:
		err = e.migrator.UpTo(ctx, *target)
	case target == nil:
		err = e.migrator.Down(ctx)
	default:
		err = e.migrator.DownTo(ctx, *target)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Migrated %s %d %s\n", dir, len(plan), plural(len(plan), "migration"))
	return nil
}

func (e *driverEngine[M]) Status(ctx context.Context, w io.Writer) error {
	statuses, err := e.migrator.List(ctx)
	if err != nil {
		return err
	}
	records, err := e.history.History(ctx)
	if err != nil {
		return err
	}
	appliedAt := make(map[uuid.UUID]time.Time, len(records))
	for _, r := range records {
		appliedAt[r.ID] = r.AppliedAt
	}

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tAPPLIED\tDESCRIPTION")
	for _, st := range statuses {
		applied := "-"
		if t, ok := appliedAt[st.Migration.ID()]; ok {
			applied = humanize.Time(t)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", st.Migration.ID(), st.State, applied, st.Migration.Description())
	}
	return tw.Flush()
}

// Graph prints the dependency graph as a tree. By default each migration's
// children are its dependencies and the roots are the migrations nothing
// depends on; with dependents the tree is flipped. Migrations reachable
// along several paths are printed once per path.
func (e *driverEngine[M]) Graph(ctx context.Context, w io.Writer, id *uuid.UUID, dependents bool) error {
	statuses, err := e.migrator.List(ctx)
	if err != nil {
		return err
	}

	states := make(map[uuid.UUID]migration.MigrationState, len(statuses))
	children := make(map[uuid.UUID][]uuid.UUID, len(statuses))
	hasParent := make(map[uuid.UUID]bool, len(statuses))
	for _, st := range statuses {
		mid := st.Migration.ID()
		states[mid] = st.State
		for _, dep := range st.Migration.Dependencies() {
			if dependents {
				children[dep] = append(children[dep], mid)
				hasParent[mid] = true
			} else {
				children[mid] = append(children[mid], dep)
				hasParent[dep] = true
			}
		}
	}
	for _, c := range children {
		sort.Slice(c, func(i, j int) bool { return c[i].String() < c[j].String() })
	}

	label := func(mid uuid.UUID) string {
		m, _ := e.migrator.Migration(mid)
		return fmt.Sprintf("%s %s [%s]", mid, m.Description(), states[mid])
	}
	var add func(t treeprint.Tree, mid uuid.UUID)
	add = func(t treeprint.Tree, mid uuid.UUID) {
		if len(children[mid]) == 0 {
			t.AddNode(label(mid))
			return
		}
		b := t.AddBranch(label(mid))
		for _, c := range children[mid] {
			add(b, c)
		}
	}

	tree := treeprint.New()
	if id != nil {
		dir := dag.Incoming
		if dependents {
			dir = dag.Outgoing
		}
		closure, err := e.migrator.Closure(*id, dir)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%d %s\n", len(closure), plural(len(closure), "migration"))
		add(tree, *id)
	} else {
		fmt.Fprintf(w, "%d %s\n", len(statuses), plural(len(statuses), "migration"))
		for _, st := range statuses {
			if mid := st.Migration.ID(); !hasParent[mid] {
				add(tree, mid)
			}
		}
	}
	_, err = io.WriteString(w, tree.String())
	return err
}

func (e *driverEngine[M]) Validate(ctx context.Context, w io.Writer) error {
	if err := e.migrator.Check(ctx); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d %s OK\n", e.migrator.Len(), plural(e.migrator.Len(), "migration"))
	return nil
}

func plural(n int, s string) string {
	if n == 1 {
		return s
	}
	return s + "s"
}
