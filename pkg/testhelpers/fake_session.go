package testhelpers

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/dbsentry/pgauditor/pkg/apperrors"
	"github.com/dbsentry/pgauditor/pkg/database"
)

// FakeSession is an in-memory database.Session for unit tests. Queries are
// answered by QueryFunc; Exec statements are recorded and can be made to
// fail by SQL substring. It tracks the same implicit-transaction behavior
// as the real session so autocommit handling can be asserted.
type FakeSession struct {
	mu sync.Mutex

	// Name is returned by Database.
	Name string
	// QueryFunc answers Query calls. Nil means every query returns no rows.
	QueryFunc func(sql string, args ...any) ([]database.Row, error)
	// FailOn maps SQL substrings to errors returned by Exec.
	FailOn map[string]error

	// Executed records every Exec statement in order, including savepoints.
	Executed []string
	// Commits and Rollbacks count transaction terminations.
	Commits   int
	Rollbacks int

	Closed     bool
	autocommit bool
	inTx       bool
}

// NewFakeSession creates a fake session in autocommit mode, matching a
// freshly connected real session.
func NewFakeSession(name string) *FakeSession {
	return &FakeSession{Name: name, autocommit: true}
}

var _ database.Session = (*FakeSession)(nil)

func (f *FakeSession) Query(_ context.Context, sql string, args ...any) ([]database.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Closed {
		return nil, apperrors.ErrSessionClosed
	}
	if !f.autocommit {
		f.inTx = true
	}
	if f.QueryFunc == nil {
		return nil, nil
	}
	return f.QueryFunc(sql, args...)
}

func (f *FakeSession) Exec(_ context.Context, sql string, _ ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Closed {
		return apperrors.ErrSessionClosed
	}
	f.Executed = append(f.Executed, sql)
	if !f.autocommit {
		f.inTx = true
	}
	for substr, err := range f.FailOn {
		if strings.Contains(sql, substr) {
			return err
		}
	}
	return nil
}

func (f *FakeSession) Begin(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inTx = true
	return nil
}

func (f *FakeSession) Commit(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inTx {
		f.Commits++
		f.inTx = false
	}
	return nil
}

func (f *FakeSession) Rollback(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inTx {
		f.Rollbacks++
		f.inTx = false
	}
	return nil
}

func (f *FakeSession) SetAutocommit(autocommit bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inTx {
		return errors.New("cannot change autocommit with a transaction open")
	}
	f.autocommit = autocommit
	return nil
}

func (f *FakeSession) Autocommit() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.autocommit
}

func (f *FakeSession) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Closed
}

func (f *FakeSession) Database() string { return f.Name }

// Statements returns the executed statements excluding savepoint management,
// which is an executor implementation detail.
func (f *FakeSession) Statements() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, sql := range f.Executed {
		if strings.HasPrefix(sql, "SAVEPOINT") || strings.HasPrefix(sql, "ROLLBACK TO SAVEPOINT") {
			continue
		}
		out = append(out, sql)
	}
	return out
}
