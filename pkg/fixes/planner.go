// Package fixes turns an audit snapshot into an ordered, reversible change
// plan and applies plans transactionally. Planning is a pure transform: the
// planner never touches the database, and validation failures surface before
// any plan is returned.
package fixes

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/dbsentry/pgauditor/pkg/apperrors"
	"github.com/dbsentry/pgauditor/pkg/models"
)

// Policy selects the fix strategy. The three policies are mutually exclusive.
type Policy string

const (
	PolicyRemoveDangerous Policy = "remove_dangerous"
	PolicyApplyTemplate   Policy = "apply_template"
	PolicyRestrictPublic  Policy = "restrict_public"
)

// dangerousTablePermissions are table permissions the remove_dangerous
// policy revokes outright.
var dangerousTablePermissions = map[string]bool{
	"DROP": true, "TRUNCATE": true, "DELETE": true,
}

// PlanRequest describes one plan to generate.
type PlanRequest struct {
	Policy Policy
	// Template names the permission profile for apply_template.
	Template string
	// Roles optionally restricts the plan. For remove_dangerous it keeps
	// only issues whose object or grantee is listed; for apply_template it
	// replaces the default target set.
	Roles []string
}

// Planner generates change plans from frozen snapshots.
type Planner struct {
	templates     map[string]models.Template
	bootstrapRole string
	logger        *zap.Logger
}

// NewPlanner creates a planner with the given permission templates. If
// templates is nil the built-ins are used; a nil logger becomes a no-op.
func NewPlanner(templates map[string]models.Template, bootstrapRole string, logger *zap.Logger) *Planner {
	if templates == nil {
		templates = models.BuiltinTemplates()
	}
	if bootstrapRole == "" {
		bootstrapRole = "postgres"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{templates: templates, bootstrapRole: bootstrapRole, logger: logger}
}

// Plan produces an ordered list of reversible changes for one snapshot.
// Plans are regenerated from the snapshot on every call, never reconciled
// against live grant state: running the same policy twice yields the same
// unconditional plan.
func (p *Planner) Plan(snap *models.AuditSnapshot, req PlanRequest) ([]models.PermissionChange, error) {
	switch req.Policy {
	case PolicyRemoveDangerous:
		return p.planRemoveDangerous(snap, req.Roles), nil
	case PolicyApplyTemplate:
		return p.planTemplate(snap, req.Template, req.Roles)
	case PolicyRestrictPublic:
		return p.planRestrictPublic(snap), nil
	}
	return nil, &apperrors.PlanValidationError{Reason: fmt.Sprintf("unknown fix policy %q", req.Policy)}
}

// planRemoveDangerous emits a revoke/grant inverse pair for every dangerous
// issue in the snapshot. The role filter restricts to issues whose object or
// grantee is in the filter set.
func (p *Planner) planRemoveDangerous(snap *models.AuditSnapshot, roleFilter []string) []models.PermissionChange {
	filter := toSet(roleFilter)
	var changes []models.PermissionChange

	for _, issue := range snap.Issues {
		if len(filter) > 0 && !filter[issue.ObjectName] && !filter[issue.Grantee] {
			continue
		}

		switch {
		case issue.ObjectType == models.ObjectTable && dangerousTablePermissions[issue.Permission]:
			changes = append(changes, models.PermissionChange{
				SQL:         fmt.Sprintf("REVOKE %s ON TABLE %s FROM %s;", issue.Permission, issue.ObjectName, issue.Grantee),
				RollbackSQL: fmt.Sprintf("GRANT %s ON TABLE %s TO %s;", issue.Permission, issue.ObjectName, issue.Grantee),
				TargetType:  models.ObjectTable,
				TargetName:  issue.ObjectName,
				Description: fmt.Sprintf("Revoke %s from %s on %s", issue.Permission, issue.Grantee, issue.ObjectName),
				RiskLevel:   models.RiskMedium,
			})

		case issue.ObjectType == models.ObjectSchema && issue.Permission == "CREATE":
			changes = append(changes, models.PermissionChange{
				SQL:         fmt.Sprintf("REVOKE CREATE ON SCHEMA %s FROM %s;", issue.ObjectName, issue.Grantee),
				RollbackSQL: fmt.Sprintf("GRANT CREATE ON SCHEMA %s TO %s;", issue.ObjectName, issue.Grantee),
				TargetType:  models.ObjectSchema,
				TargetName:  issue.ObjectName,
				Description: fmt.Sprintf("Revoke CREATE from %s on schema %s", issue.Grantee, issue.ObjectName),
				RiskLevel:   models.RiskMedium,
			})

		case issue.ObjectType == models.ObjectRole && issue.Permission == "SUPERUSER" && issue.ObjectName != p.bootstrapRole:
			changes = append(changes, models.PermissionChange{
				SQL:         fmt.Sprintf("ALTER ROLE %s NOSUPERUSER;", issue.ObjectName),
				RollbackSQL: fmt.Sprintf("ALTER ROLE %s SUPERUSER;", issue.ObjectName),
				TargetType:  models.ObjectRole,
				TargetName:  issue.ObjectName,
				Description: fmt.Sprintf("Remove superuser privilege from role %s", issue.ObjectName),
				RiskLevel:   models.RiskHigh,
			})
		}
	}

	return changes
}

// planTemplate emits the cross-product of target roles x known schemas and
// tables x template permissions, in stable sorted order. Plan size grows as
// roles x (schemas + tables) x permissions; callers should preview before
// applying against large catalogs.
func (p *Planner) planTemplate(snap *models.AuditSnapshot, templateName string, roleFilter []string) ([]models.PermissionChange, error) {
	tmpl, ok := p.templates[templateName]
	if !ok {
		available := strings.Join(models.TemplateNames(p.templates), ", ")
		return nil, &apperrors.PlanValidationError{
			Reason: fmt.Sprintf("unknown template %q, available: %s", templateName, available),
		}
	}

	targets, err := p.resolveTargets(snap, roleFilter)
	if err != nil {
		return nil, err
	}

	schemas := snap.SortedSchemaNames()
	tables := snap.SortedTableNames()

	var changes []models.PermissionChange
	for _, role := range targets {
		for _, schema := range schemas {
			for _, perm := range tmpl.Grant[models.ObjectSchema] {
				changes = append(changes, templateChange(models.ObjectSchema, "SCHEMA", schema, role, perm, true))
			}
			for _, perm := range tmpl.Revoke[models.ObjectSchema] {
				changes = append(changes, templateChange(models.ObjectSchema, "SCHEMA", schema, role, perm, false))
			}
		}
		for _, table := range tables {
			for _, perm := range tmpl.Grant[models.ObjectTable] {
				changes = append(changes, templateChange(models.ObjectTable, "TABLE", table, role, perm, true))
			}
			for _, perm := range tmpl.Revoke[models.ObjectTable] {
				changes = append(changes, templateChange(models.ObjectTable, "TABLE", table, role, perm, false))
			}
		}
	}
	return changes, nil
}

// resolveTargets picks the roles a template applies to: the explicit filter
// when given, otherwise every non-superuser role except the PUBLIC
// pseudo-role. An empty resolution is a validation error: applying a
// template to nobody is always a caller mistake.
func (p *Planner) resolveTargets(snap *models.AuditSnapshot, roleFilter []string) ([]string, error) {
	var targets []string
	if len(roleFilter) > 0 {
		for _, name := range roleFilter {
			if _, ok := snap.Roles[name]; !ok {
				p.logger.Warn("role filter entry not found in snapshot", zap.String("role", name))
				continue
			}
			targets = append(targets, name)
		}
		if len(targets) == 0 {
			return nil, &apperrors.PlanValidationError{Reason: "role filter matches no role in the snapshot"}
		}
	} else {
		for _, name := range snap.SortedRoleNames() {
			role := snap.Roles[name]
			if role.IsSuperuser || strings.EqualFold(name, models.PublicGrantee) {
				continue
			}
			targets = append(targets, name)
		}
		if len(targets) == 0 {
			return nil, &apperrors.PlanValidationError{Reason: "no non-superuser roles to apply template to"}
		}
	}
	sort.Strings(targets)
	return targets, nil
}

func templateChange(objType models.ObjectType, sqlKind, object, role, perm string, grant bool) models.PermissionChange {
	if grant {
		return models.PermissionChange{
			SQL:         fmt.Sprintf("GRANT %s ON %s %s TO %s;", perm, sqlKind, object, role),
			RollbackSQL: fmt.Sprintf("REVOKE %s ON %s %s FROM %s;", perm, sqlKind, object, role),
			TargetType:  objType,
			TargetName:  object,
			Description: fmt.Sprintf("Grant %s to %s on %s %s", perm, role, strings.ToLower(sqlKind), object),
			RiskLevel:   models.RiskLow,
		}
	}
	return models.PermissionChange{
		SQL:         fmt.Sprintf("REVOKE %s ON %s %s FROM %s;", perm, sqlKind, object, role),
		RollbackSQL: fmt.Sprintf("GRANT %s ON %s %s TO %s;", perm, sqlKind, object, role),
		TargetType:  objType,
		TargetName:  object,
		Description: fmt.Sprintf("Revoke %s from %s on %s %s", perm, role, strings.ToLower(sqlKind), object),
		RiskLevel:   models.RiskMedium,
	}
}

// planRestrictPublic emits the two fixed hardening steps: drop CREATE on the
// default public schema from PUBLIC, then drop ALL on every public-schema
// table from PUBLIC. The plan is derived from the snapshot, not a live diff,
// so re-running after apply regenerates the same unconditional plan.
func (p *Planner) planRestrictPublic(snap *models.AuditSnapshot) []models.PermissionChange {
	changes := []models.PermissionChange{{
		SQL:         "REVOKE CREATE ON SCHEMA public FROM PUBLIC;",
		RollbackSQL: "GRANT CREATE ON SCHEMA public TO PUBLIC;",
		TargetType:  models.ObjectSchema,
		TargetName:  "public",
		Description: "Revoke CREATE on public schema from PUBLIC role",
		RiskLevel:   models.RiskMedium,
	}}

	for _, name := range snap.SortedTableNames() {
		if snap.Tables[name].Schema != "public" {
			continue
		}
		changes = append(changes, models.PermissionChange{
			SQL:         fmt.Sprintf("REVOKE ALL ON TABLE %s FROM PUBLIC;", name),
			RollbackSQL: fmt.Sprintf("GRANT ALL ON TABLE %s TO PUBLIC;", name),
			TargetType:  models.ObjectTable,
			TargetName:  name,
			Description: fmt.Sprintf("Revoke all permissions on %s from PUBLIC role", name),
			RiskLevel:   models.RiskMedium,
		})
	}
	return changes
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
