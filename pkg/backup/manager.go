package backup

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dbsentry/pgauditor/pkg/apperrors"
	"github.com/dbsentry/pgauditor/pkg/config"
	"github.com/dbsentry/pgauditor/pkg/models"
)

const fileTimestampLayout = "20060102_150405"

// Manager creates, restores, and deletes backups of the audited database.
// Full and schema backups shell out to pg_dump in custom format; permission
// backups are SQL scripts reconstructed from an audit snapshot's grant
// state, so they need no external tool to create.
type Manager struct {
	cfg    config.BackupConfig
	db     config.DatabaseConfig
	ledger *Ledger
	logger *zap.Logger
}

// NewManager creates a backup manager. A nil logger becomes a no-op.
func NewManager(cfg config.BackupConfig, db config.DatabaseConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:    cfg,
		db:     db,
		ledger: NewLedger(filepath.Join(cfg.Dir, cfg.LedgerFile)),
		logger: logger,
	}
}

// Ledger exposes the backup history.
func (m *Manager) Ledger() *Ledger { return m.ledger }

// Create takes a full or schema backup with pg_dump and records it in the
// ledger. Permission backups go through SnapshotPermissions instead.
func (m *Manager) Create(ctx context.Context, kind models.BackupKind) (models.BackupRecord, error) {
	switch kind {
	case models.BackupFull, models.BackupSchema:
	case models.BackupPermissions:
		return models.BackupRecord{}, fmt.Errorf("permission backups require an audit snapshot")
	default:
		return models.BackupRecord{}, fmt.Errorf("unknown backup kind %q", kind)
	}

	if err := os.MkdirAll(m.cfg.Dir, 0o755); err != nil {
		return models.BackupRecord{}, fmt.Errorf("creating backup directory: %w", err)
	}

	now := time.Now().UTC()
	path := filepath.Join(m.cfg.Dir, fmt.Sprintf("%s_%s_%s.dump", m.db.Database, kind, now.Format(fileTimestampLayout)))

	args := []string{
		"-Fc",
		"-f", path,
		"-h", m.db.Host,
		"-p", strconv.Itoa(m.db.Port),
		"-U", m.db.User,
	}
	if kind == models.BackupSchema {
		args = append(args, "--schema-only")
	}
	args = append(args, m.db.Database)

	if err := m.runTool(ctx, m.cfg.PgDumpPath, args); err != nil {
		return models.BackupRecord{}, err
	}

	record := models.BackupRecord{
		ID:        uuid.NewString(),
		Timestamp: now.Format(time.RFC3339),
		Database:  m.db.Database,
		Kind:      kind,
		Path:      path,
		SizeBytes: fileSize(path),
	}
	if err := m.ledger.Append(record); err != nil {
		return models.BackupRecord{}, err
	}
	m.logger.Info("backup created",
		zap.String("id", record.ID),
		zap.String("kind", string(kind)),
		zap.String("path", path),
		zap.Int64("size_bytes", record.SizeBytes))
	return record, nil
}

// SnapshotPermissions writes the grant state captured in a frozen snapshot
// as a replayable SQL script and records it as a permissions backup. The
// fix flow calls this before applying a plan when safety backups are on.
func (m *Manager) SnapshotPermissions(snap *models.AuditSnapshot) (models.BackupRecord, error) {
	if err := os.MkdirAll(m.cfg.Dir, 0o755); err != nil {
		return models.BackupRecord{}, fmt.Errorf("creating backup directory: %w", err)
	}

	now := time.Now().UTC()
	path := filepath.Join(m.cfg.Dir, fmt.Sprintf("%s_permissions_%s.sql", snap.Database, now.Format(fileTimestampLayout)))

	if err := os.WriteFile(path, []byte(permissionsScript(snap)), 0o644); err != nil {
		return models.BackupRecord{}, fmt.Errorf("writing permissions backup: %w", err)
	}

	record := models.BackupRecord{
		ID:        uuid.NewString(),
		Timestamp: now.Format(time.RFC3339),
		Database:  snap.Database,
		Kind:      models.BackupPermissions,
		Path:      path,
		SizeBytes: fileSize(path),
		Metadata: map[string]string{
			"schemas": strconv.Itoa(len(snap.Schemas)),
			"tables":  strconv.Itoa(len(snap.Tables)),
		},
	}
	if err := m.ledger.Append(record); err != nil {
		return models.BackupRecord{}, err
	}
	m.logger.Info("permissions backup created",
		zap.String("id", record.ID),
		zap.String("path", path))
	return record, nil
}

// Restore replays the backup with the given id. Dump files go through
// pg_restore, permission scripts through psql with ON_ERROR_STOP.
func (m *Manager) Restore(ctx context.Context, id string) error {
	record, err := m.ledger.Get(id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(record.Path); err != nil {
		return fmt.Errorf("backup file missing: %w", apperrors.ErrBackupNotFound)
	}

	connArgs := []string{
		"-h", m.db.Host,
		"-p", strconv.Itoa(m.db.Port),
		"-U", m.db.User,
		"-d", m.db.Database,
	}

	switch record.Kind {
	case models.BackupPermissions:
		args := append(connArgs, "-v", "ON_ERROR_STOP=1", "-f", record.Path)
		if err := m.runTool(ctx, m.cfg.PsqlPath, args); err != nil {
			return err
		}
	default:
		args := append([]string{"--clean", "--if-exists"}, connArgs...)
		args = append(args, record.Path)
		if err := m.runTool(ctx, m.cfg.PgRestore, args); err != nil {
			return err
		}
	}

	m.logger.Info("backup restored", zap.String("id", id), zap.String("kind", string(record.Kind)))
	return nil
}

// Delete removes a backup's dump file and its ledger entry. A file that is
// already gone does not block removal from the ledger.
func (m *Manager) Delete(id string) error {
	record, err := m.ledger.Get(id)
	if err != nil {
		return err
	}
	if err := os.Remove(record.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing backup file: %w", err)
	}
	return m.ledger.Remove(id)
}

// runTool invokes an external postgres client tool with the password passed
// through the environment only.
func (m *Manager) runTool(ctx context.Context, tool string, args []string) error {
	if m.cfg.DumpTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.DumpTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, tool, args...)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+m.db.Password)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w: %s", filepath.Base(tool), err, strings.TrimSpace(string(output)))
	}
	return nil
}

// permissionsScript renders the snapshot's schema and table grants as GRANT
// statements, one transaction, grantees and objects in sorted order.
func permissionsScript(snap *models.AuditSnapshot) string {
	var b strings.Builder
	b.WriteString("BEGIN;\n")
	for _, name := range snap.SortedSchemaNames() {
		schema := snap.Schemas[name]
		for _, grantee := range schema.Grants.Grantees() {
			for _, priv := range schema.Grants[grantee] {
				fmt.Fprintf(&b, "GRANT %s ON SCHEMA %s TO %s;\n", priv, name, grantee)
			}
		}
	}
	for _, name := range snap.SortedTableNames() {
		table := snap.Tables[name]
		for _, grantee := range table.Grants.Grantees() {
			for _, priv := range table.Grants[grantee] {
				fmt.Fprintf(&b, "GRANT %s ON TABLE %s TO %s;\n", priv, name, grantee)
			}
		}
	}
	b.WriteString("COMMIT;\n")
	return b.String()
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
