// Package apperrors defines the error taxonomy shared across the audit and
// fix pipeline. Each error class maps to a distinct propagation policy:
// connection errors are fatal, catalog errors are recovered per category,
// plan validation errors abort before any statement runs, and statement
// errors are adjudicated by the operator during apply.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionClosed is returned when an operation is attempted on a
	// closed database session.
	ErrSessionClosed = errors.New("session is closed")
	// ErrSnapshotFrozen is returned on attempts to mutate a frozen snapshot.
	ErrSnapshotFrozen = errors.New("audit snapshot is frozen")
	// ErrBackupNotFound is returned when a backup id is not in the ledger.
	ErrBackupNotFound = errors.New("backup not found")
)

// ConnectionError indicates the session could not be established or was lost
// before any mutation occurred. Always fatal to the run.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// CatalogQueryError indicates a single audit category's introspection query
// failed. It never escalates past the aggregator: the category contributes
// nothing and the audit continues.
type CatalogQueryError struct {
	Category string
	Err      error
}

func (e *CatalogQueryError) Error() string {
	return fmt.Sprintf("catalog query failed for category %q: %v", e.Category, e.Err)
}

func (e *CatalogQueryError) Unwrap() error { return e.Err }

// PlanValidationError indicates a fix plan could not be generated. Raised
// before any statement executes, so the database is untouched.
type PlanValidationError struct {
	Reason string
}

func (e *PlanValidationError) Error() string {
	return fmt.Sprintf("invalid fix plan: %s", e.Reason)
}

// StatementExecutionError indicates a single change statement failed
// mid-transaction. The executor records it and the continue/abort policy
// decides the transaction's fate.
type StatementExecutionError struct {
	Index int
	SQL   string
	Err   error
}

func (e *StatementExecutionError) Error() string {
	return fmt.Sprintf("statement %d failed: %v", e.Index, e.Err)
}

func (e *StatementExecutionError) Unwrap() error { return e.Err }

// LedgerError indicates a backup ledger read or write failed. Fatal only to
// the ledger operation in progress.
type LedgerError struct {
	Op  string
	Err error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("backup ledger %s: %v", e.Op, e.Err)
}

func (e *LedgerError) Unwrap() error { return e.Err }
