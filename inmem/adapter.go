// Package inmem provides an in-memory migration adapter. It performs no
// side effects beyond recording which migrations are applied, which makes it
// useful for tests and for dry runs against a known state.
package inmem

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/influxdata/dagmigrate"
)

// Event is one successful call to ApplyMigration or RevertMigration.
type Event[I comparable] struct {
	Direction dagmigrate.Direction
	ID        I
}

// Adapter is an in memory dagmigrate.Adapter.
type Adapter[I comparable, M dagmigrate.Migration[I]] struct {
	mu      sync.RWMutex
	applied map[I]dagmigrate.Record[I]
	events  []Event[I]
	clock   clock.Clock
}

var _ dagmigrate.Adapter[string, dagmigrate.Meta[string]] = (*Adapter[string, dagmigrate.Meta[string]])(nil)
var _ dagmigrate.HistoryAdapter[string] = (*Adapter[string, dagmigrate.Meta[string]])(nil)

// Option configures an Adapter.
type Option[I comparable, M dagmigrate.Migration[I]] func(*Adapter[I, M])

// WithClock sets the clock used to timestamp applied migrations.
func WithClock[I comparable, M dagmigrate.Migration[I]](c clock.Clock) Option[I, M] {
	return func(a *Adapter[I, M]) {
		a.clock = c
	}
}

// WithApplied marks ids as already applied, as if migrated by a previous
// process.
func WithApplied[I comparable, M dagmigrate.Migration[I]](ids ...I) Option[I, M] {
	return func(a *Adapter[I, M]) {
		for _, id := range ids {
			a.applied[id] = dagmigrate.Record[I]{ID: id, AppliedAt: a.clock.Now().UTC()}
		}
	}
}

// NewAdapter creates an empty in memory adapter.
func NewAdapter[I comparable, M dagmigrate.Migration[I]](opts ...Option[I, M]) *Adapter[I, M] {
	a := &Adapter[I, M]{
		applied: make(map[I]dagmigrate.Record[I]),
		clock:   clock.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AppliedMigrations returns a copy of the applied set.
func (a *Adapter[I, M]) AppliedMigrations(ctx context.Context) (dagmigrate.IDSet[I], error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	ids := make(dagmigrate.IDSet[I], len(a.applied))
	for id := range a.applied {
		ids.Add(id)
	}
	return ids, nil
}

// ApplyMigration marks m as applied.
func (a *Adapter[I, M]) ApplyMigration(ctx context.Context, m M) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := m.ID()
	a.applied[id] = dagmigrate.Record[I]{
		ID:          id,
		Description: m.Description(),
		AppliedAt:   a.clock.Now().UTC(),
	}
	a.events = append(a.events, Event[I]{Direction: dagmigrate.Up, ID: id})
	return nil
}

// RevertMigration marks m as not applied.
func (a *Adapter[I, M]) RevertMigration(ctx context.Context, m M) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := m.ID()
	delete(a.applied, id)
	a.events = append(a.events, Event[I]{Direction: dagmigrate.Down, ID: id})
	return nil
}

// History returns the records of the applied migrations, oldest first.
func (a *Adapter[I, M]) History(ctx context.Context) ([]dagmigrate.Record[I], error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	records := make([]dagmigrate.Record[I], 0, len(a.applied))
	for _, r := range a.applied {
		records = append(records, r)
	}
	dagmigrate.SortRecords(records)
	return records, nil
}

// Events returns every successful apply and revert in the order they
// happened.
func (a *Adapter[I, M]) Events() []Event[I] {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return append([]Event[I](nil), a.events...)
}

// ResetEvents clears the event log without touching the applied set.
func (a *Adapter[I, M]) ResetEvents() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.events = nil
}
