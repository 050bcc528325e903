package ingest

import (
	"fmt"
	"time"
)

// MappingError reports a result tree entry missing a required field, or
// carrying an invalid Value for it. The affected unit fails without writing
// anything.
type MappingError struct {
	Field string
	Value string
}

func (e *MappingError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("mapping: invalid %s %q", e.Field, e.Value)
	}

	return fmt.Sprintf("mapping: missing required field %q", e.Field)
}

// PersistenceError wraps a connectivity or transaction failure while
// writing one unit.
type PersistenceError struct {
	Table string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("writing %s: %v", e.Table, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// TimeoutError is recorded for every unit without an outcome when the run
// deadline elapses.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: unit did not complete within %s", e.After)
}
