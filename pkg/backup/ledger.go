// Package backup orchestrates pg_dump/pg_restore runs and keeps a JSON-file
// ledger of every backup taken. The ledger is the source of truth for
// restore and delete: a dump file without a ledger entry does not exist as
// far as pgauditor is concerned.
package backup

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/dbsentry/pgauditor/pkg/apperrors"
	"github.com/dbsentry/pgauditor/pkg/models"
)

// Ledger is an append-mostly record of backups persisted as a JSON file.
// All mutations rewrite the whole file under a single-writer mutex.
type Ledger struct {
	mu   sync.Mutex
	path string
}

// NewLedger creates a ledger backed by the given file. The file is created
// lazily on the first append.
func NewLedger(path string) *Ledger {
	return &Ledger{path: path}
}

// load reads all records. A missing file is an empty ledger.
func (l *Ledger) load() ([]models.BackupRecord, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &apperrors.LedgerError{Op: "read", Err: err}
	}
	var records []models.BackupRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, &apperrors.LedgerError{Op: "decode", Err: err}
	}
	return records, nil
}

// store rewrites the ledger file atomically via a temp file rename.
func (l *Ledger) store(records []models.BackupRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return &apperrors.LedgerError{Op: "encode", Err: err}
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &apperrors.LedgerError{Op: "write", Err: err}
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return &apperrors.LedgerError{Op: "write", Err: err}
	}
	return nil
}

// Append records one completed backup.
func (l *Ledger) Append(record models.BackupRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.load()
	if err != nil {
		return err
	}
	records = append(records, record)
	return l.store(records)
}

// List returns all records, newest first.
func (l *Ledger) List() ([]models.BackupRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.load()
	if err != nil {
		return nil, err
	}
	out := make([]models.BackupRecord, len(records))
	for i, r := range records {
		out[len(records)-1-i] = r
	}
	return out, nil
}

// Get returns the record with the given id, or ErrBackupNotFound.
func (l *Ledger) Get(id string) (models.BackupRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.load()
	if err != nil {
		return models.BackupRecord{}, err
	}
	for _, r := range records {
		if r.ID == id {
			return r, nil
		}
	}
	return models.BackupRecord{}, apperrors.ErrBackupNotFound
}

// Remove deletes the record with the given id from the ledger. The dump
// file itself is the manager's responsibility.
func (l *Ledger) Remove(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.load()
	if err != nil {
		return err
	}
	kept := records[:0]
	found := false
	for _, r := range records {
		if r.ID == id {
			found = true
			continue
		}
		kept = append(kept, r)
	}
	if !found {
		return apperrors.ErrBackupNotFound
	}
	return l.store(kept)
}
