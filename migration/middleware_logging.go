package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/influxdata/dagmigrate"
	"go.uber.org/zap"
)

// AdapterLogger logs every call made to the adapter it wraps.
type AdapterLogger[I comparable, M dagmigrate.Migration[I]] struct {
	logger  *zap.Logger
	adapter dagmigrate.Adapter[I, M]
}

var _ dagmigrate.Adapter[string, dagmigrate.Meta[string]] = (*AdapterLogger[string, dagmigrate.Meta[string]])(nil)

// NewAdapterLogger returns a logging middleware for adapter.
func NewAdapterLogger[I comparable, M dagmigrate.Migration[I]](log *zap.Logger, adapter dagmigrate.Adapter[I, M]) *AdapterLogger[I, M] {
	return &AdapterLogger[I, M]{
		logger:  log,
		adapter: adapter,
	}
}

func (l *AdapterLogger[I, M]) AppliedMigrations(ctx context.Context) (ids dagmigrate.IDSet[I], err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to find applied migrations", zap.Error(err), dur)
			return
		}
		l.logger.Debug("applied migrations find", zap.Int("count", len(ids)), dur)
	}(time.Now())
	return l.adapter.AppliedMigrations(ctx)
}

func (l *AdapterLogger[I, M]) ApplyMigration(ctx context.Context, m M) (err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			msg := fmt.Sprintf("failed to apply migration %v", m.ID())
			l.logger.Debug(msg, zap.Error(err), dur)
			return
		}
		l.logger.Debug("migration apply", zap.String("migration_id", fmt.Sprint(m.ID())), dur)
	}(time.Now())
	return l.adapter.ApplyMigration(ctx, m)
}

func (l *AdapterLogger[I, M]) RevertMigration(ctx context.Context, m M) (err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			msg := fmt.Sprintf("failed to revert migration %v", m.ID())
			l.logger.Debug(msg, zap.Error(err), dur)
			return
		}
		l.logger.Debug("migration revert", zap.String("migration_id", fmt.Sprint(m.ID())), dur)
	}(time.Now())
	return l.adapter.RevertMigration(ctx, m)
}
