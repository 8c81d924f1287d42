package migration

import (
	"context"
	"fmt"

	"github.com/influxdata/dagmigrate"
	"github.com/influxdata/dagmigrate/kit/tracing"
	"github.com/opentracing/opentracing-go"
)

// AdapterTracer starts a span around every call made to the adapter it wraps.
type AdapterTracer[I comparable, M dagmigrate.Migration[I]] struct {
	tracer  opentracing.Tracer
	adapter dagmigrate.Adapter[I, M]
}

var _ dagmigrate.Adapter[string, dagmigrate.Meta[string]] = (*AdapterTracer[string, dagmigrate.Meta[string]])(nil)

// NewAdapterTracer returns a tracing middleware for adapter. A nil tracer
// means the global tracer.
func NewAdapterTracer[I comparable, M dagmigrate.Migration[I]](tracer opentracing.Tracer, adapter dagmigrate.Adapter[I, M]) *AdapterTracer[I, M] {
	if tracer == nil {
		tracer = opentracing.GlobalTracer()
	}
	return &AdapterTracer[I, M]{
		tracer:  tracer,
		adapter: adapter,
	}
}

func (t *AdapterTracer[I, M]) AppliedMigrations(ctx context.Context) (dagmigrate.IDSet[I], error) {
	span, ctx := opentracing.StartSpanFromContextWithTracer(ctx, t.tracer, "Adapter.AppliedMigrations")
	defer span.Finish()

	ids, err := t.adapter.AppliedMigrations(ctx)
	if err != nil {
		return nil, tracing.LogError(span, err)
	}
	span.SetTag("count", len(ids))
	return ids, nil
}

func (t *AdapterTracer[I, M]) ApplyMigration(ctx context.Context, m M) error {
	span, ctx := opentracing.StartSpanFromContextWithTracer(ctx, t.tracer, "Adapter.ApplyMigration")
	defer span.Finish()

	span.SetTag("migration_id", fmt.Sprint(m.ID()))
	return tracing.LogError(span, t.adapter.ApplyMigration(ctx, m))
}

func (t *AdapterTracer[I, M]) RevertMigration(ctx context.Context, m M) error {
	span, ctx := opentracing.StartSpanFromContextWithTracer(ctx, t.tracer, "Adapter.RevertMigration")
	defer span.Finish()

	span.SetTag("migration_id", fmt.Sprint(m.ID()))
	return tracing.LogError(span, t.adapter.RevertMigration(ctx, m))
}
