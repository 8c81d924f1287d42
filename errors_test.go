package dagmigrate_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/influxdata/dagmigrate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDependencyError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		msg     string
		code    string
		matches []error
		misses  []error
	}{
		{
			name:    "duplicate",
			err:     dagmigrate.NewDuplicateIDError("m1"),
			msg:     "duplicate migration id m1",
			code:    dagmigrate.EDuplicateID,
			matches: []error{dagmigrate.ErrDependency, dagmigrate.ErrDuplicateID},
			misses:  []error{dagmigrate.ErrUnknownID, dagmigrate.ErrCycle, dagmigrate.ErrAdapter},
		},
		{
			name:    "unknown",
			err:     dagmigrate.NewUnknownIDError(7),
			msg:     "unknown migration id 7",
			code:    dagmigrate.EUnknownID,
			matches: []error{dagmigrate.ErrDependency, dagmigrate.ErrUnknownID},
			misses:  []error{dagmigrate.ErrDuplicateID, dagmigrate.ErrCycle},
		},
		{
			name:    "cycle",
			err:     dagmigrate.NewCycleError("a", "b"),
			msg:     "cyclic dependency caused by edge from migration a to b",
			code:    dagmigrate.ECycle,
			matches: []error{dagmigrate.ErrDependency, dagmigrate.ErrCycle},
			misses:  []error{dagmigrate.ErrUnknownID, dagmigrate.ErrMigration},
		},
		{
			name:    "wrapped",
			err:     fmt.Errorf("loading: %w", dagmigrate.NewUnknownIDError("x")),
			msg:     "loading: unknown migration id x",
			code:    dagmigrate.EUnknownID,
			matches: []error{dagmigrate.ErrDependency, dagmigrate.ErrUnknownID},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.EqualError(t, tt.err, tt.msg)
			assert.Equal(t, tt.code, dagmigrate.ErrorCode(tt.err))
			for _, target := range tt.matches {
				assert.ErrorIs(t, tt.err, target)
			}
			for _, target := range tt.misses {
				assert.NotErrorIs(t, tt.err, target)
			}
		})
	}
}

func TestAdapterError(t *testing.T) {
	cause := errors.New("database is locked")
	err := error(&dagmigrate.AdapterError{Op: "up", Err: cause})

	assert.EqualError(t, err, "up: interacting with adapter: database is locked")
	assert.ErrorIs(t, err, dagmigrate.ErrAdapter)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, dagmigrate.ErrDependency)
	assert.Equal(t, dagmigrate.EAdapter, dagmigrate.ErrorCode(err))

	assert.EqualError(t, &dagmigrate.AdapterError{Err: cause}, "interacting with adapter: database is locked")
}

func TestMigrationError(t *testing.T) {
	cause := errors.New("relation exists")
	id := uuid.MustParse("0b8a3bf2-3b60-4d7c-9a0e-0f6fb4d1f0a7")
	err := error(&dagmigrate.MigrationError[uuid.UUID]{
		ID:          id,
		Description: "Create users",
		Direction:   dagmigrate.Down,
		Err:         cause,
	})

	assert.EqualError(t, err, "migrating down 0b8a3bf2-3b60-4d7c-9a0e-0f6fb4d1f0a7 (Create users): relation exists")
	assert.ErrorIs(t, err, dagmigrate.ErrMigration)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, dagmigrate.EMigration, dagmigrate.ErrorCode(err))

	var migErr *dagmigrate.MigrationError[uuid.UUID]
	require.True(t, errors.As(err, &migErr))
	assert.Equal(t, id, migErr.ID)
}

func TestErrorCode_Uncoded(t *testing.T) {
	assert.Empty(t, dagmigrate.ErrorCode(nil))
	assert.Empty(t, dagmigrate.ErrorCode(errors.New("plain")))
}
