package bolt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/influxdata/dagmigrate/kit/tracing"
	"github.com/opentracing/opentracing-go"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// KVStore owns a boltdb file that migrations are applied to.
type KVStore struct {
	path   string
	db     *bolt.DB
	logger *zap.Logger
}

// NewKVStore returns an instance of KVStore with the file at
// the provided path.
func NewKVStore(log *zap.Logger, path string) *KVStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &KVStore{
		path:   path,
		logger: log,
	}
}

// Open creates boltDB file it doesn't exists and opens it otherwise.
func (s *KVStore) Open(ctx context.Context) error {
	span, _ := tracing.StartSpanFromContext(ctx, opentracing.GlobalTracer())
	defer span.Finish()

	// Ensure the required directory structure exists.
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("unable to create directory %s: %v", s.path, err)
	}

	if _, err := os.Stat(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}

	// Open database file.
	db, err := bolt.Open(s.path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return fmt.Errorf("unable to open boltdb file %v", err)
	}
	s.db = db

	s.logger.Info("Resources opened", zap.String("path", s.path))
	return nil
}

// Close the connection to the bolt database
func (s *KVStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB returns the underlying bolt database.
func (s *KVStore) DB() *bolt.DB {
	return s.db
}

// View opens up a view transaction against the store.
func (s *KVStore) View(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	span, _ := tracing.StartSpanFromContext(ctx, opentracing.GlobalTracer())
	defer span.Finish()

	return s.db.View(fn)
}

// Update opens up an update transaction against the store.
func (s *KVStore) Update(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	span, _ := tracing.StartSpanFromContext(ctx, opentracing.GlobalTracer())
	defer span.Finish()

	return s.db.Update(fn)
}
