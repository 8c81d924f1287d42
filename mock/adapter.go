package mock

import (
	"context"

	"github.com/influxdata/dagmigrate"
)

var _ dagmigrate.Adapter[string, dagmigrate.Meta[string]] = (*Adapter[string, dagmigrate.Meta[string]])(nil)

// Adapter is a mock dagmigrate.Adapter.
type Adapter[I comparable, M dagmigrate.Migration[I]] struct {
	AppliedMigrationsFn func(context.Context) (dagmigrate.IDSet[I], error)
	ApplyMigrationFn    func(context.Context, M) error
	RevertMigrationFn   func(context.Context, M) error
}

// NewAdapter returns a mock adapter that reports nothing applied and accepts
// every apply and revert.
func NewAdapter[I comparable, M dagmigrate.Migration[I]]() *Adapter[I, M] {
	return &Adapter[I, M]{
		AppliedMigrationsFn: func(context.Context) (dagmigrate.IDSet[I], error) {
			return dagmigrate.NewIDSet[I](), nil
		},
		ApplyMigrationFn:  func(context.Context, M) error { return nil },
		RevertMigrationFn: func(context.Context, M) error { return nil },
	}
}

// AppliedMigrations returns the set of applied migration IDs.
func (a *Adapter[I, M]) AppliedMigrations(ctx context.Context) (dagmigrate.IDSet[I], error) {
	return a.AppliedMigrationsFn(ctx)
}

// ApplyMigration applies a single migration.
func (a *Adapter[I, M]) ApplyMigration(ctx context.Context, m M) error {
	return a.ApplyMigrationFn(ctx, m)
}

// RevertMigration reverts a single migration.
func (a *Adapter[I, M]) RevertMigration(ctx context.Context, m M) error {
	return a.RevertMigrationFn(ctx, m)
}
