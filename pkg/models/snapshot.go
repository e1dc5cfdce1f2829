package models

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/dbsentry/pgauditor/pkg/apperrors"
)

// AuditSnapshot is the immutable point-in-time record of roles, schemas,
// tables, and issues produced by one audit run. It is built once per run and
// never mutated after Freeze; filtering produces a new view, not an in-place
// edit.
type AuditSnapshot struct {
	Database  string                   `json:"database"`
	Timestamp time.Time                `json:"timestamp"`
	Roles     map[string]*Role         `json:"roles"`
	Schemas   map[string]*SchemaEntity `json:"schemas"`
	Tables    map[string]*TableEntity  `json:"tables"`
	Issues    []Issue                  `json:"issues"`
	Warnings  []string                 `json:"warnings,omitempty"`

	frozen bool
}

// NewAuditSnapshot creates an empty snapshot under construction.
func NewAuditSnapshot(database string) *AuditSnapshot {
	return &AuditSnapshot{
		Database:  database,
		Timestamp: time.Now().UTC(),
		Roles:     make(map[string]*Role),
		Schemas:   make(map[string]*SchemaEntity),
		Tables:    make(map[string]*TableEntity),
	}
}

// Freeze marks the snapshot immutable. Mutating calls fail afterwards.
func (s *AuditSnapshot) Freeze() { s.frozen = true }

// Frozen reports whether the snapshot has been frozen.
func (s *AuditSnapshot) Frozen() bool { return s.frozen }

// AddIssue appends an issue while the snapshot is under construction.
func (s *AuditSnapshot) AddIssue(issue Issue) error {
	if s.frozen {
		return apperrors.ErrSnapshotFrozen
	}
	if issue.Timestamp.IsZero() {
		issue.Timestamp = time.Now().UTC()
	}
	s.Issues = append(s.Issues, issue)
	return nil
}

// AddRole records a role. An existing entry for the same name is replaced,
// which lets the role-attributes category enrich roles first seen during
// superuser identification.
func (s *AuditSnapshot) AddRole(role *Role) error {
	if s.frozen {
		return apperrors.ErrSnapshotFrozen
	}
	s.Roles[role.Name] = role
	return nil
}

// AddSchema records a schema entity.
func (s *AuditSnapshot) AddSchema(schema *SchemaEntity) error {
	if s.frozen {
		return apperrors.ErrSnapshotFrozen
	}
	s.Schemas[schema.Name] = schema
	return nil
}

// AddTable records a table entity keyed by its schema-qualified name.
func (s *AuditSnapshot) AddTable(table *TableEntity) error {
	if s.frozen {
		return apperrors.ErrSnapshotFrozen
	}
	s.Tables[table.FullName()] = table
	return nil
}

// AddWarning records a non-fatal category failure.
func (s *AuditSnapshot) AddWarning(msg string) error {
	if s.frozen {
		return apperrors.ErrSnapshotFrozen
	}
	s.Warnings = append(s.Warnings, msg)
	return nil
}

// FilterByRisk returns a new frozen view whose issue list contains only the
// requested risk levels. Roles, schemas, and tables are shared with the
// original snapshot; neither view mutates them.
func (s *AuditSnapshot) FilterByRisk(levels ...RiskLevel) *AuditSnapshot {
	want := make(map[RiskLevel]bool, len(levels))
	for _, l := range levels {
		want[l] = true
	}
	filtered := &AuditSnapshot{
		Database:  s.Database,
		Timestamp: s.Timestamp,
		Roles:     s.Roles,
		Schemas:   s.Schemas,
		Tables:    s.Tables,
		Warnings:  s.Warnings,
		frozen:    true,
	}
	for _, issue := range s.Issues {
		if want[issue.RiskLevel] {
			filtered.Issues = append(filtered.Issues, issue)
		}
	}
	return filtered
}

// IssuesByRisk returns the issues at exactly the given level, in snapshot order.
func (s *AuditSnapshot) IssuesByRisk(level RiskLevel) []Issue {
	var out []Issue
	for _, issue := range s.Issues {
		if issue.RiskLevel == level {
			out = append(out, issue)
		}
	}
	return out
}

// SortedSchemaNames returns schema names in stable sorted order.
func (s *AuditSnapshot) SortedSchemaNames() []string {
	names := make([]string, 0, len(s.Schemas))
	for name := range s.Schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SortedTableNames returns schema-qualified table names in stable sorted order.
func (s *AuditSnapshot) SortedTableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SortedRoleNames returns role names in stable sorted order.
func (s *AuditSnapshot) SortedRoleNames() []string {
	names := make([]string, 0, len(s.Roles))
	for name := range s.Roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Superusers returns the set of role names known to be superusers.
func (s *AuditSnapshot) Superusers() map[string]bool {
	supers := make(map[string]bool)
	for name, role := range s.Roles {
		if role.IsSuperuser {
			supers[name] = true
		}
	}
	return supers
}

// snapshotExport is the stable JSON export shape.
type snapshotExport struct {
	Database             string                `json:"database"`
	Timestamp            time.Time             `json:"timestamp"`
	Roles                []exportRole          `json:"roles"`
	DangerousPermissions []DangerousPermission `json:"dangerous_permissions"`
	Schemas              []exportOwned         `json:"schemas"`
	Tables               []exportOwned         `json:"tables"`
}

type exportRole struct {
	Name        string `json:"name"`
	IsSuperuser bool   `json:"is_superuser"`
}

type exportOwned struct {
	Name  string `json:"name"`
	Owner string `json:"owner"`
}

// ExportJSON renders the snapshot in the stable report shape. SAFE issues
// are excluded unless includeSafe is set.
func (s *AuditSnapshot) ExportJSON(includeSafe bool) ([]byte, error) {
	out := snapshotExport{
		Database:             s.Database,
		Timestamp:            s.Timestamp,
		Roles:                []exportRole{},
		DangerousPermissions: []DangerousPermission{},
		Schemas:              []exportOwned{},
		Tables:               []exportOwned{},
	}
	for _, name := range s.SortedRoleNames() {
		out.Roles = append(out.Roles, exportRole{Name: name, IsSuperuser: s.Roles[name].IsSuperuser})
	}
	for _, issue := range s.Issues {
		if issue.RiskLevel == RiskSafe && !includeSafe {
			continue
		}
		out.DangerousPermissions = append(out.DangerousPermissions, issue.Flatten())
	}
	for _, name := range s.SortedSchemaNames() {
		out.Schemas = append(out.Schemas, exportOwned{Name: name, Owner: s.Schemas[name].Owner})
	}
	for _, name := range s.SortedTableNames() {
		out.Tables = append(out.Tables, exportOwned{Name: name, Owner: s.Tables[name].Owner})
	}
	return json.MarshalIndent(out, "", "  ")
}
