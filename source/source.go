// Package source loads SQL migrations described by YAML manifests.
//
// Each manifest file holds a single migration:
//
//	id: 5b6f0a44-0d0c-4d1f-a4e4-91a2b1c1a3f0
//	description: Create users table
//	depends:
//	  - 0c3a52ab-6f3f-4c76-8a0c-4f4e1f6f8d2e
//	up: |
//	  CREATE TABLE users (id BIGINT PRIMARY KEY);
//	down: |
//	  DROP TABLE users;
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/influxdata/dagmigrate"
	"github.com/influxdata/dagmigrate/postgres"
	"github.com/influxdata/dagmigrate/sqlite"
	"github.com/jackc/pgx/v5"
	"github.com/jmoiron/sqlx"
	"gopkg.in/yaml.v3"
)

// ErrIrreversible is returned when reverting a migration without down SQL.
var ErrIrreversible = errors.New("migration has no down statements")

type manifest struct {
	ID          string   `yaml:"id"`
	Description string   `yaml:"description"`
	Depends     []string `yaml:"depends"`
	Up          string   `yaml:"up"`
	Down        string   `yaml:"down"`
}

// Migration is a migration loaded from a manifest file.
type Migration struct {
	dagmigrate.Meta[uuid.UUID]

	// Path is the manifest's path within the loaded file system.
	Path string
	// UpSQL and DownSQL are run to apply and revert the migration.
	UpSQL   string
	DownSQL string
}

// Load reads every .yaml and .yml manifest directly inside dir of fsys, in
// name order. All invalid manifests are reported together.
func Load(fsys fs.FS, dir string) ([]*Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var (
		migrations []*Migration
		errs       *multierror.Error
		seen       = make(map[uuid.UUID]string)
	)
	for _, e := range entries {
		if e.IsDir() || !isManifest(e.Name()) {
			continue
		}

		p := path.Join(dir, e.Name())
		m, err := load(fsys, p)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}

		if other, ok := seen[m.ID()]; ok {
			errs = multierror.Append(errs, fmt.Errorf("%s: id %s already used by %s", p, m.ID(), other))
			continue
		}
		seen[m.ID()] = p
		migrations = append(migrations, m)
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return migrations, nil
}

func isManifest(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

func load(fsys fs.FS, p string) (*Migration, error) {
	b, err := fs.ReadFile(fsys, p)
	if err != nil {
		return nil, err
	}

	var mf manifest
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&mf); err != nil {
		return nil, fmt.Errorf("%s: decoding manifest: %w", p, err)
	}

	var errs *multierror.Error
	id, err := uuid.Parse(mf.ID)
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: invalid id %q: %w", p, mf.ID, err))
	} else if id == uuid.Nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: id must not be the nil uuid", p))
	}

	deps := make([]uuid.UUID, 0, len(mf.Depends))
	for _, d := range mf.Depends {
		dep, err := uuid.Parse(d)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: invalid dependency %q: %w", p, d, err))
			continue
		}
		deps = append(deps, dep)
	}

	if strings.TrimSpace(mf.Up) == "" {
		errs = multierror.Append(errs, fmt.Errorf("%s: up statements are required", p))
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	description := mf.Description
	if description == "" {
		description = strings.TrimSuffix(path.Base(p), path.Ext(p))
	}

	return &Migration{
		Meta:    dagmigrate.NewMeta(id, description, deps...),
		Path:    p,
		UpSQL:   mf.Up,
		DownSQL: mf.Down,
	}, nil
}

func (m *Migration) down() (string, error) {
	if strings.TrimSpace(m.DownSQL) == "" {
		return "", fmt.Errorf("reverting %s: %w", m.Path, ErrIrreversible)
	}
	return m.DownSQL, nil
}

// SQLite runs a loaded migration against a sqlite transaction.
type SQLite struct {
	*Migration
}

var _ sqlite.Migration[uuid.UUID] = SQLite{}

func (m SQLite) Up(ctx context.Context, tx *sqlx.Tx) error {
	_, err := tx.ExecContext(ctx, m.UpSQL)
	return err
}

func (m SQLite) Down(ctx context.Context, tx *sqlx.Tx) error {
	stmt, err := m.down()
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, stmt)
	return err
}

// Postgres runs a loaded migration against a PostgreSQL transaction.
type Postgres struct {
	*Migration
}

var _ postgres.Migration[uuid.UUID] = Postgres{}

func (m Postgres) Up(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, m.UpSQL)
	return err
}

func (m Postgres) Down(ctx context.Context, tx pgx.Tx) error {
	stmt, err := m.down()
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, stmt)
	return err
}

// ForSQLite wraps ms for the sqlite adapter.
func ForSQLite(ms []*Migration) []sqlite.Migration[uuid.UUID] {
	out := make([]sqlite.Migration[uuid.UUID], 0, len(ms))
	for _, m := range ms {
		out = append(out, SQLite{m})
	}
	return out
}

// ForPostgres wraps ms for the postgres adapter.
func ForPostgres(ms []*Migration) []postgres.Migration[uuid.UUID] {
	out := make([]postgres.Migration[uuid.UUID], 0, len(ms))
	for _, m := range ms {
		out = append(out, Postgres{m})
	}
	return out
}
