package models

// BackupKind selects what a backup captures.
type BackupKind string

const (
	BackupFull        BackupKind = "full"
	BackupSchema      BackupKind = "schema"
	BackupPermissions BackupKind = "permissions"
)

// Valid reports whether the kind is one of the supported backup kinds.
func (k BackupKind) Valid() bool {
	switch k {
	case BackupFull, BackupSchema, BackupPermissions:
		return true
	}
	return false
}

// BackupRecord describes one completed backup as stored in the ledger.
type BackupRecord struct {
	ID        string            `json:"id"`
	Timestamp string            `json:"timestamp"`
	Database  string            `json:"database"`
	Kind      BackupKind        `json:"kind"`
	Path      string            `json:"path"`
	SizeBytes int64             `json:"size_bytes"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
