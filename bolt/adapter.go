// Package bolt applies migrations to a boltdb file. Each migration runs in
// its own read-write transaction, together with the record that marks it
// applied.
package bolt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/influxdata/dagmigrate"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// DefaultBucket is the bucket applied migrations are recorded in.
const DefaultBucket = "_dagmigrate"

// ErrNotInitialized is returned when the bookkeeping bucket does not exist.
var ErrNotInitialized = errors.New("migrations bucket not found; call Init first")

// Migration is a migration that can be applied to and reverted from a bolt
// transaction.
type Migration[I comparable] interface {
	dagmigrate.Migration[I]
	Up(tx *bolt.Tx) error
	Down(tx *bolt.Tx) error
}

type record struct {
	Description string    `json:"description"`
	AppliedAt   time.Time `json:"applied_at"`
}

// Adapter is a dagmigrate.Adapter backed by a KVStore.
type Adapter[I comparable] struct {
	store  *KVStore
	codec  dagmigrate.Codec[I]
	bucket []byte
	clock  clock.Clock
}

var _ dagmigrate.Adapter[string, Migration[string]] = (*Adapter[string])(nil)
var _ dagmigrate.HistoryAdapter[string] = (*Adapter[string])(nil)

// Option configures an Adapter.
type Option func(*options)

type options struct {
	bucket string
	clock  clock.Clock
}

// WithBucket sets the bucket applied migrations are recorded in.
func WithBucket(name string) Option {
	return func(o *options) {
		o.bucket = name
	}
}

// WithClock sets the clock used to timestamp applied migrations.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// NewAdapter returns an adapter recording applied migrations in store. IDs
// are persisted as bucket keys through codec.
func NewAdapter[I comparable](store *KVStore, codec dagmigrate.Codec[I], opts ...Option) *Adapter[I] {
	o := options{
		bucket: DefaultBucket,
		clock:  clock.New(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Adapter[I]{
		store:  store,
		codec:  codec,
		bucket: []byte(o.bucket),
		clock:  o.clock,
	}
}

// Init creates the bookkeeping bucket. It is safe to call more than once.
func (a *Adapter[I]) Init(ctx context.Context) error {
	return a.store.Update(ctx, func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(a.bucket); err != nil {
			return errors.Wrapf(err, "creating bucket %q", a.bucket)
		}
		return nil
	})
}

// AppliedMigrations returns the IDs recorded in the bookkeeping bucket.
func (a *Adapter[I]) AppliedMigrations(ctx context.Context) (dagmigrate.IDSet[I], error) {
	ids := make(dagmigrate.IDSet[I])
	err := a.store.View(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(a.bucket)
		if b == nil {
			return ErrNotInitialized
		}
		return b.ForEach(func(k, _ []byte) error {
			id, err := a.codec.Decode(k)
			if err != nil {
				return errors.Wrapf(err, "reading %q", a.bucket)
			}
			ids.Add(id)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ApplyMigration runs m.Up and records m in the same transaction.
func (a *Adapter[I]) ApplyMigration(ctx context.Context, m Migration[I]) error {
	key, err := a.codec.Encode(m.ID())
	if err != nil {
		return err
	}
	v, err := json.Marshal(record{
		Description: m.Description(),
		AppliedAt:   a.clock.Now().UTC(),
	})
	if err != nil {
		return errors.Wrap(err, "encoding migration record")
	}

	return a.store.Update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(a.bucket)
		if b == nil {
			return ErrNotInitialized
		}
		if err := m.Up(tx); err != nil {
			return err
		}
		return errors.Wrapf(b.Put(key, v), "recording migration %v", m.ID())
	})
}

// RevertMigration runs m.Down and removes its record in the same
// transaction.
func (a *Adapter[I]) RevertMigration(ctx context.Context, m Migration[I]) error {
	key, err := a.codec.Encode(m.ID())
	if err != nil {
		return err
	}

	return a.store.Update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(a.bucket)
		if b == nil {
			return ErrNotInitialized
		}
		if err := m.Down(tx); err != nil {
			return err
		}
		return errors.Wrapf(b.Delete(key), "removing record of migration %v", m.ID())
	})
}

// History returns the records of the applied migrations, oldest first.
func (a *Adapter[I]) History(ctx context.Context) ([]dagmigrate.Record[I], error) {
	var records []dagmigrate.Record[I]
	err := a.store.View(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(a.bucket)
		if b == nil {
			return ErrNotInitialized
		}
		return b.ForEach(func(k, v []byte) error {
			id, err := a.codec.Decode(k)
			if err != nil {
				return errors.Wrapf(err, "reading %q", a.bucket)
			}
			var r record
			if err := json.Unmarshal(v, &r); err != nil {
				return errors.Wrapf(err, "decoding record of migration %v", id)
			}
			records = append(records, dagmigrate.Record[I]{
				ID:          id,
				Description: r.Description,
				AppliedAt:   r.AppliedAt,
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	dagmigrate.SortRecords(records)
	return records, nil
}
