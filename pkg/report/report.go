// Package report renders audit snapshots and fix outcomes for humans and
// for machines. The JSON export shape is stable; the text summary is not a
// contract and may change between releases.
package report

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/dbsentry/pgauditor/pkg/models"
)

// riskOrder lists risk levels from most to least severe for display.
var riskOrder = []models.RiskLevel{
	models.RiskHigh,
	models.RiskMedium,
	models.RiskLow,
	models.RiskSafe,
}

// WriteSummary renders a human-readable audit summary. SAFE issues are
// omitted unless includeSafe is set.
func WriteSummary(w io.Writer, snap *models.AuditSnapshot, includeSafe bool) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Audit report for database %q at %s\n",
		snap.Database, snap.Timestamp.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "Roles: %d  Schemas: %d  Tables: %d\n",
		len(snap.Roles), len(snap.Schemas), len(snap.Tables))

	supers := snap.Superusers()
	if len(supers) > 0 {
		names := make([]string, 0, len(supers))
		for name := range supers {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(&b, "Superusers: %s\n", strings.Join(names, ", "))
	}

	counts := make(map[models.RiskLevel]int)
	for _, issue := range snap.Issues {
		counts[issue.RiskLevel]++
	}
	b.WriteString("\nFindings by risk:\n")
	for _, level := range riskOrder {
		if level == models.RiskSafe && !includeSafe {
			continue
		}
		fmt.Fprintf(&b, "  %-6s %d\n", level.String(), counts[level])
	}

	b.WriteString("\n")
	for _, level := range riskOrder {
		if level == models.RiskSafe && !includeSafe {
			continue
		}
		for _, issue := range snap.IssuesByRisk(level) {
			fmt.Fprintf(&b, "[%s] %s %s: %s granted to %s\n",
				strings.ToUpper(level.String()),
				issue.ObjectType, issue.ObjectName, issue.Permission, issue.Grantee)
			if issue.Recommendation != "" {
				fmt.Fprintf(&b, "       recommendation: %s\n", issue.Recommendation)
			}
		}
	}

	if len(snap.Warnings) > 0 {
		b.WriteString("\nWarnings (incomplete audit):\n")
		for _, warning := range snap.Warnings {
			fmt.Fprintf(&b, "  - %s\n", warning)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteJSON writes the stable snapshot export to path.
func WriteJSON(path string, snap *models.AuditSnapshot, includeSafe bool) error {
	data, err := snap.ExportJSON(includeSafe)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// WriteOutcome renders the result of one apply run.
func WriteOutcome(w io.Writer, outcome *models.FixOutcome) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Fix run %s: %d applied, %d skipped, %d errors\n",
		outcome.Status, len(outcome.Applied), len(outcome.Skipped), len(outcome.Errors))
	for _, change := range outcome.Applied {
		fmt.Fprintf(&b, "  applied: %s\n", change.Description)
	}
	for _, applyErr := range outcome.Errors {
		fmt.Fprintf(&b, "  failed [%d]: %s: %s\n", applyErr.Index, applyErr.Change.Description, applyErr.Message)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// WritePlan renders a plan preview with per-change risk annotations.
func WritePlan(w io.Writer, plan []models.PermissionChange) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Planned changes: %d\n", len(plan))
	for i, change := range plan {
		fmt.Fprintf(&b, "%3d. [%s] %s\n     %s\n", i+1, change.RiskLevel, change.Description, change.SQL)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
