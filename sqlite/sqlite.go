package sqlite

import (
	"context"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultFilename = "dagmigrate.sqlite"
	InmemPath       = ":memory:"
)

// SqlStore is a wrapper around the db and provides basic functionality for
// maintaining the db.
type SqlStore struct {
	DB   *sqlx.DB
	log  *zap.Logger
	path string
}

// NewSqlStore opens the sqlite database at path, creating it if needed.
func NewSqlStore(path string, log *zap.Logger) (*SqlStore, error) {
	if log == nil {
		log = zap.NewNop()
	}

	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening sqlite database %q", path)
	}
	log.Info("Resources opened", zap.String("path", path))

	// A second connection to an in-memory database would see an empty
	// database, and sqlite only admits one writer anyway.
	db.SetMaxOpenConns(1)

	// foreign keys are disabled by default in sqlite.
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "enabling foreign keys")
	}

	return &SqlStore{
		DB:   db,
		log:  log,
		path: path,
	}, nil
}

// Close the connection to the sqlite database.
func (s *SqlStore) Close() error {
	if err := s.DB.Close(); err != nil {
		return errors.Wrap(err, "closing sqlite database")
	}
	return nil
}

// Path returns the path the store was opened with.
func (s *SqlStore) Path() string {
	return s.path
}

// tableNames returns the user tables of the database, excluding sqlite's own.
func (s *SqlStore) tableNames(ctx context.Context) ([]string, error) {
	var names []string
	err := s.DB.SelectContext(ctx, &names,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "listing tables")
	}
	return names, nil
}

// execTrans runs stmt in its own transaction.
func (s *SqlStore) execTrans(ctx context.Context, stmt string) error {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		_ = tx.Rollback()
		return errors.Wrapf(err, "executing %q", stmt)
	}

	return tx.Commit()
}
