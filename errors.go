package dagmigrate

import (
	"errors"
	"fmt"
)

// Error codes carried by DependencyError. Callers that need to branch on the
// kind of failure should prefer errors.Is with the sentinels below, or
// ErrorCode for a string form suitable for logs.
const (
	EDuplicateID = "duplicate id"
	EUnknownID   = "unknown id"
	ECycle       = "cycle"
	EAdapter     = "adapter"
	EMigration   = "migration"
)

var (
	// ErrDependency matches any DependencyError.
	ErrDependency = errors.New("migration dependency error")

	// ErrDuplicateID is matched by a DependencyError raised when an identity is
	// registered twice.
	ErrDuplicateID = errors.New("duplicate migration id")

	// ErrUnknownID is matched by a DependencyError raised when a dependency or
	// target references an identity that was never registered.
	ErrUnknownID = errors.New("unknown migration id")

	// ErrCycle is matched by a DependencyError raised when adding a dependency
	// edge would close a cycle.
	ErrCycle = errors.New("cyclic migration dependency")

	// ErrAdapter matches any AdapterError.
	ErrAdapter = errors.New("adapter error")

	// ErrMigration matches any MigrationError.
	ErrMigration = errors.New("migration error")
)

// DependencyError is returned when the registered migrations do not form a
// valid dependency graph. ID is set for EDuplicateID and EUnknownID, From and
// To for ECycle.
type DependencyError[I comparable] struct {
	Code string
	ID   I
	From I
	To   I
}

// Error implements the error interface.
func (e *DependencyError[I]) Error() string {
	switch e.Code {
	case EDuplicateID:
		return fmt.Sprintf("duplicate migration id %v", e.ID)
	case EUnknownID:
		return fmt.Sprintf("unknown migration id %v", e.ID)
	case ECycle:
		return fmt.Sprintf("cyclic dependency caused by edge from migration %v to %v", e.From, e.To)
	}
	return fmt.Sprintf("<%s>", e.Code)
}

// Is reports whether target is ErrDependency or the sentinel for e.Code.
func (e *DependencyError[I]) Is(target error) bool {
	switch target {
	case ErrDependency:
		return true
	case ErrDuplicateID:
		return e.Code == EDuplicateID
	case ErrUnknownID:
		return e.Code == EUnknownID
	case ErrCycle:
		return e.Code == ECycle
	}
	return false
}

// ErrorCode returns the DependencyError code.
func (e *DependencyError[I]) ErrorCode() string { return e.Code }

// NewDuplicateIDError returns a DependencyError with code EDuplicateID.
func NewDuplicateIDError[I comparable](id I) *DependencyError[I] {
	return &DependencyError[I]{Code: EDuplicateID, ID: id}
}

// NewUnknownIDError returns a DependencyError with code EUnknownID.
func NewUnknownIDError[I comparable](id I) *DependencyError[I] {
	return &DependencyError[I]{Code: EUnknownID, ID: id}
}

// NewCycleError returns a DependencyError with code ECycle.
func NewCycleError[I comparable](from, to I) *DependencyError[I] {
	return &DependencyError[I]{Code: ECycle, From: from, To: to}
}

// AdapterError is returned when the adapter fails outside of a specific
// migration, i.e. while reporting the applied migrations.
type AdapterError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *AdapterError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: interacting with adapter: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("interacting with adapter: %v", e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

func (e *AdapterError) Is(target error) bool { return target == ErrAdapter }

// ErrorCode returns EAdapter.
func (e *AdapterError) ErrorCode() string { return EAdapter }

// MigrationError is returned when applying or reverting a single migration
// fails. Migrations processed before it in the same call remain in effect.
type MigrationError[I comparable] struct {
	ID          I
	Description string
	Direction   Direction
	Err         error
}

// Error implements the error interface.
func (e *MigrationError[I]) Error() string {
	return fmt.Sprintf("migrating %s %v (%s): %v", e.Direction, e.ID, e.Description, e.Err)
}

func (e *MigrationError[I]) Unwrap() error { return e.Err }

func (e *MigrationError[I]) Is(target error) bool { return target == ErrMigration }

// ErrorCode returns EMigration.
func (e *MigrationError[I]) ErrorCode() string { return EMigration }

// ErrorCode returns the code of the first error in err's chain that carries
// one, or the empty string.
func ErrorCode(err error) string {
	var coded interface{ ErrorCode() string }
	if errors.As(err, &coded) {
		return coded.ErrorCode()
	}
	return ""
}
