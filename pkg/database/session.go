// Package database provides the session boundary the audit and fix pipeline
// runs on. The core never opens or closes the underlying connection pool
// machinery itself; it consumes a caller-owned Session and issues sequential
// statements on it.
package database

import "context"

// Row is one raw result row, values in column order.
type Row []any

// Session is one logical database session. All statements on a session
// execute sequentially; the protocol does not support concurrent in-flight
// statements, so callers must not share a session between goroutines.
type Session interface {
	// Query executes a read statement and returns all raw rows.
	Query(ctx context.Context, sql string, args ...any) ([]Row, error)

	// Exec executes a statement without returning rows. With autocommit
	// disabled, the first Exec or Query after Commit/Rollback implicitly
	// opens a transaction.
	Exec(ctx context.Context, sql string, args ...any) error

	// Begin explicitly opens a transaction.
	Begin(ctx context.Context) error

	// Commit commits the open transaction, if any.
	Commit(ctx context.Context) error

	// Rollback returns the session to a clean transactional state. It is
	// safe to call with no transaction open.
	Rollback(ctx context.Context) error

	// SetAutocommit switches implicit-transaction behavior. It must not be
	// called while a transaction is open.
	SetAutocommit(autocommit bool) error

	// Autocommit reports the current autocommit mode.
	Autocommit() bool

	// IsClosed reports whether the session can no longer execute statements.
	IsClosed() bool

	// Database returns the name of the connected database.
	Database() string
}
