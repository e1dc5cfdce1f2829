package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/dbsentry/pgauditor/pkg/apperrors"
	"github.com/dbsentry/pgauditor/pkg/logging"
	"github.com/dbsentry/pgauditor/pkg/retry"
)

// Config holds connection settings for one session.
type Config struct {
	URL              string
	ConnectTimeout   time.Duration
	StatementTimeout time.Duration
}

// PgxSession implements Session on a single *pgx.Conn. Autocommit off is
// emulated the way psycopg does it: the first statement after a commit or
// rollback implicitly opens a transaction that stays open until Commit or
// Rollback.
type PgxSession struct {
	conn       *pgx.Conn
	tx         pgx.Tx
	autocommit bool
	database   string
	logger     *zap.Logger
}

// Connect establishes a session with retry on transient connect failures.
// If logger is nil, a no-op logger is used.
func Connect(ctx context.Context, cfg *Config, logger *zap.Logger) (*PgxSession, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	connCfg, err := pgx.ParseConfig(cfg.URL)
	if err != nil {
		return nil, &apperrors.ConnectionError{Err: fmt.Errorf("parse connection url: %w", err)}
	}
	if cfg.ConnectTimeout > 0 {
		connCfg.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.StatementTimeout > 0 {
		if connCfg.RuntimeParams == nil {
			connCfg.RuntimeParams = map[string]string{}
		}
		connCfg.RuntimeParams["statement_timeout"] = fmt.Sprintf("%d", cfg.StatementTimeout.Milliseconds())
	}

	var conn *pgx.Conn
	err = retry.Do(ctx, retry.DefaultConfig(), func() error {
		var connectErr error
		conn, connectErr = pgx.ConnectConfig(ctx, connCfg)
		return connectErr
	})
	if err != nil {
		logger.Error("failed to connect",
			zap.String("url", logging.SanitizeConnectionString(cfg.URL)),
			zap.String("error", logging.SanitizeError(err)))
		return nil, &apperrors.ConnectionError{Err: err}
	}

	logger.Debug("session established",
		zap.String("database", connCfg.Database),
		zap.String("host", connCfg.Host))

	return &PgxSession{
		conn:       conn,
		autocommit: true,
		database:   connCfg.Database,
		logger:     logger,
	}, nil
}

// Close terminates the session. Any open transaction is rolled back by the
// server.
func (s *PgxSession) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}

// Query executes a read statement and collects all raw rows.
func (s *PgxSession) Query(ctx context.Context, sql string, args ...any) ([]Row, error) {
	if s.IsClosed() {
		return nil, apperrors.ErrSessionClosed
	}
	if err := s.ensureTx(ctx); err != nil {
		return nil, err
	}

	var rows pgx.Rows
	var err error
	if s.tx != nil {
		rows, err = s.tx.Query(ctx, sql, args...)
	} else {
		rows, err = s.conn.Query(ctx, sql, args...)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row values: %w", err)
		}
		result = append(result, Row(values))
	}
	return result, rows.Err()
}

// Exec executes a statement without returning rows.
func (s *PgxSession) Exec(ctx context.Context, sql string, args ...any) error {
	if s.IsClosed() {
		return apperrors.ErrSessionClosed
	}
	if err := s.ensureTx(ctx); err != nil {
		return err
	}

	var err error
	if s.tx != nil {
		_, err = s.tx.Exec(ctx, sql, args...)
	} else {
		_, err = s.conn.Exec(ctx, sql, args...)
	}
	return err
}

// Begin explicitly opens a transaction.
func (s *PgxSession) Begin(ctx context.Context) error {
	if s.IsClosed() {
		return apperrors.ErrSessionClosed
	}
	if s.tx != nil {
		return errors.New("transaction already open")
	}
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	s.tx = tx
	return nil
}

// Commit commits the open transaction. With no transaction open it is a no-op.
func (s *PgxSession) Commit(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Commit(ctx)
	s.tx = nil
	if err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Rollback returns the session to a clean transactional state. Safe to call
// with no transaction open, including after a failed statement.
func (s *PgxSession) Rollback(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback(ctx)
	s.tx = nil
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}

// SetAutocommit switches implicit-transaction behavior.
func (s *PgxSession) SetAutocommit(autocommit bool) error {
	if s.tx != nil {
		return errors.New("cannot change autocommit with a transaction open")
	}
	s.autocommit = autocommit
	return nil
}

// Autocommit reports the current autocommit mode.
func (s *PgxSession) Autocommit() bool { return s.autocommit }

// IsClosed reports whether the session can no longer execute statements.
func (s *PgxSession) IsClosed() bool { return s.conn.IsClosed() }

// Database returns the connected database name.
func (s *PgxSession) Database() string { return s.database }

// ensureTx opens the implicit transaction when autocommit is off.
func (s *PgxSession) ensureTx(ctx context.Context) error {
	if s.autocommit || s.tx != nil {
		return nil
	}
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin implicit transaction: %w", err)
	}
	s.tx = tx
	return nil
}

var _ Session = (*PgxSession)(nil)
