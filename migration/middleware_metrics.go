package migration

import (
	"context"

	"github.com/influxdata/dagmigrate"
	"github.com/influxdata/dagmigrate/kit/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// AdapterMetrics is a metrics middleware for an adapter.
type AdapterMetrics[I comparable, M dagmigrate.Migration[I]] struct {
	// RED metrics
	rec *metric.REDClient

	adapter dagmigrate.Adapter[I, M]
}

var _ dagmigrate.Adapter[string, dagmigrate.Meta[string]] = (*AdapterMetrics[string, dagmigrate.Meta[string]])(nil)

// NewAdapterMetrics returns a metrics middleware for adapter whose
// collectors are registered with reg.
func NewAdapterMetrics[I comparable, M dagmigrate.Migration[I]](reg prometheus.Registerer, adapter dagmigrate.Adapter[I, M]) *AdapterMetrics[I, M] {
	return &AdapterMetrics[I, M]{
		rec:     metric.New(reg, "adapter"),
		adapter: adapter,
	}
}

func (a *AdapterMetrics[I, M]) AppliedMigrations(ctx context.Context) (dagmigrate.IDSet[I], error) {
	rec := a.rec.Record("applied_migrations")
	ids, err := a.adapter.AppliedMigrations(ctx)
	return ids, rec(err)
}

func (a *AdapterMetrics[I, M]) ApplyMigration(ctx context.Context, m M) error {
	rec := a.rec.Record("apply_migration")
	return rec(a.adapter.ApplyMigration(ctx, m))
}

func (a *AdapterMetrics[I, M]) RevertMigration(ctx context.Context, m M) error {
	rec := a.rec.Record("revert_migration")
	return rec(a.adapter.RevertMigration(ctx, m))
}
