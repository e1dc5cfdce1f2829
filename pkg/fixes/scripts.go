package fixes

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dbsentry/pgauditor/pkg/models"
)

// scriptTimestampLayout is the filename timestamp format.
const scriptTimestampLayout = "20060102_150405"

// FixScript renders the forward statements of a plan as a reviewable SQL
// script wrapped in a single transaction.
func FixScript(plan []models.PermissionChange) string {
	var b strings.Builder
	b.WriteString("BEGIN;\n")
	for _, change := range plan {
		b.WriteString("\n-- ")
		b.WriteString(change.Description)
		b.WriteString("\n")
		b.WriteString(change.SQL)
		b.WriteString("\n")
	}
	b.WriteString("\nCOMMIT;\n")
	return b.String()
}

// RollbackScript renders the inverse statements of a plan in reverse order,
// so running it after the fix script restores the prior grant state.
func RollbackScript(plan []models.PermissionChange) string {
	var b strings.Builder
	b.WriteString("BEGIN;\n")
	for i := len(plan) - 1; i >= 0; i-- {
		change := plan[i]
		b.WriteString("\n-- Rollback: ")
		b.WriteString(change.Description)
		b.WriteString("\n")
		b.WriteString(change.RollbackSQL)
		b.WriteString("\n")
	}
	b.WriteString("\nCOMMIT;\n")
	return b.String()
}

// ExportScripts writes the paired fix and rollback scripts for a plan into
// dir, creating it if needed. Scripts are rendered from the planned change
// set as-is, regardless of what a later apply run commits or skips.
func ExportScripts(dir, database string, plan []models.PermissionChange, now time.Time) (fixPath, rollbackPath string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("creating export directory: %w", err)
	}

	stamp := now.UTC().Format(scriptTimestampLayout)
	fixPath = filepath.Join(dir, fmt.Sprintf("%s_fix_%s.sql", database, stamp))
	rollbackPath = filepath.Join(dir, fmt.Sprintf("%s_rollback_%s.sql", database, stamp))

	if err := os.WriteFile(fixPath, []byte(FixScript(plan)), 0o644); err != nil {
		return "", "", fmt.Errorf("writing fix script: %w", err)
	}
	if err := os.WriteFile(rollbackPath, []byte(RollbackScript(plan)), 0o644); err != nil {
		return "", "", fmt.Errorf("writing rollback script: %w", err)
	}
	return fixPath, rollbackPath, nil
}
