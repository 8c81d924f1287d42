package dagmigrate

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Migration describes the identity and dependency relations of a single
// migration. Backend adapters require additional methods on top of these to
// actually apply and revert it.
type Migration[I comparable] interface {
	// ID uniquely identifies the migration.
	ID() I
	// Dependencies returns the IDs of the migrations this one directly
	// depends on. Order is not significant and duplicates are ignored.
	Dependencies() []I
	// Description is a human readable description of the migration.
	Description() string
}

// Adapter binds migration management to a stateful backend.
//
// ApplyMigration and RevertMigration must update the backend and the
// adapter's own record of applied migrations atomically: after a successful
// ApplyMigration the ID must be reported by AppliedMigrations, and after a
// successful RevertMigration it must not be.
type Adapter[I comparable, M Migration[I]] interface {
	// AppliedMigrations returns the set of IDs currently applied.
	AppliedMigrations(ctx context.Context) (IDSet[I], error)
	// ApplyMigration applies a single migration.
	ApplyMigration(ctx context.Context, m M) error
	// RevertMigration reverts a single migration.
	RevertMigration(ctx context.Context, m M) error
}

// Record is an adapter's bookkeeping entry for an applied migration.
type Record[I comparable] struct {
	ID          I
	Description string
	AppliedAt   time.Time
}

// SortRecords orders records by the time they were applied, oldest first.
// Ties are broken on the formatted ID.
func SortRecords[I comparable](records []Record[I]) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.AppliedAt.Equal(b.AppliedAt) {
			return a.AppliedAt.Before(b.AppliedAt)
		}
		return fmt.Sprint(a.ID) < fmt.Sprint(b.ID)
	})
}

// HistoryAdapter is implemented by adapters that keep applied-at records.
type HistoryAdapter[I comparable] interface {
	History(ctx context.Context) ([]Record[I], error)
}

// Direction is the direction a migration is moved in.
type Direction int

const (
	// Up applies a migration.
	Up Direction = iota
	// Down reverts a migration.
	Down
)

// String returns a string representation for a direction.
func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return "unknown"
	}
}

// IDSet is a set of migration IDs.
type IDSet[I comparable] map[I]struct{}

// NewIDSet returns a set holding ids.
func NewIDSet[I comparable](ids ...I) IDSet[I] {
	s := make(IDSet[I], len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set.
func (s IDSet[I]) Has(id I) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id.
func (s IDSet[I]) Add(id I) { s[id] = struct{}{} }

// Delete removes id.
func (s IDSet[I]) Delete(id I) { delete(s, id) }

// Clone returns a copy of the set.
func (s IDSet[I]) Clone() IDSet[I] {
	c := make(IDSet[I], len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

// Meta is a trivial implementation of Migration, meant to be embedded in
// concrete migration types:
//
//	type CreateUsers struct {
//	    dagmigrate.Meta[uuid.UUID]
//	}
//
//	var createUsers = CreateUsers{
//	    Meta: dagmigrate.NewMeta(usersID, "Create users table", orgsID),
//	}
type Meta[I comparable] struct {
	id           I
	description  string
	dependencies []I
}

// NewMeta returns a Meta with the given identity, description and direct
// dependencies.
func NewMeta[I comparable](id I, description string, dependencies ...I) Meta[I] {
	return Meta[I]{
		id:           id,
		description:  description,
		dependencies: append([]I(nil), dependencies...),
	}
}

func (m Meta[I]) ID() I { return m.id }

func (m Meta[I]) Description() string { return m.description }

func (m Meta[I]) Dependencies() []I { return append([]I(nil), m.dependencies...) }
