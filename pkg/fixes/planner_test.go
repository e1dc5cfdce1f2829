package fixes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsentry/pgauditor/pkg/apperrors"
	"github.com/dbsentry/pgauditor/pkg/models"
)

func buildSnapshot(t *testing.T) *models.AuditSnapshot {
	t.Helper()
	snap := models.NewAuditSnapshot("appdb")

	require.NoError(t, snap.AddRole(&models.Role{Name: "postgres", IsSuperuser: true}))
	require.NoError(t, snap.AddRole(&models.Role{Name: "admin_user", IsSuperuser: true}))
	require.NoError(t, snap.AddRole(&models.Role{Name: "app_reader", CanLogin: true}))
	require.NoError(t, snap.AddRole(&models.Role{Name: "app_writer", CanLogin: true}))

	require.NoError(t, snap.AddSchema(models.NewSchemaEntity("public", "postgres")))
	require.NoError(t, snap.AddTable(models.NewTableEntity("public", "users", "postgres")))
	require.NoError(t, snap.AddTable(models.NewTableEntity("public", "orders", "postgres")))
	require.NoError(t, snap.AddTable(models.NewTableEntity("audit", "events", "postgres")))

	return snap
}

func TestPlanRemoveDangerous(t *testing.T) {
	snap := buildSnapshot(t)
	require.NoError(t, snap.AddIssue(models.Issue{
		ObjectType: models.ObjectTable, ObjectName: "public.users",
		Grantee: "PUBLIC", Permission: "DELETE", RiskLevel: models.RiskHigh,
	}))
	require.NoError(t, snap.AddIssue(models.Issue{
		ObjectType: models.ObjectSchema, ObjectName: "public",
		Grantee: "app_writer", Permission: "CREATE", RiskLevel: models.RiskMedium,
	}))
	require.NoError(t, snap.AddIssue(models.Issue{
		ObjectType: models.ObjectRole, ObjectName: "admin_user",
		Permission: "SUPERUSER", RiskLevel: models.RiskHigh,
	}))
	// Below the remediation bar: no change emitted.
	require.NoError(t, snap.AddIssue(models.Issue{
		ObjectType: models.ObjectTable, ObjectName: "public.orders",
		Grantee: "app_writer", Permission: "SELECT", RiskLevel: models.RiskSafe,
	}))
	snap.Freeze()

	planner := NewPlanner(nil, "postgres", nil)
	plan, err := planner.Plan(snap, PlanRequest{Policy: PolicyRemoveDangerous})
	require.NoError(t, err)
	require.Len(t, plan, 3)

	assert.Equal(t, "REVOKE DELETE ON TABLE public.users FROM PUBLIC;", plan[0].SQL)
	assert.Equal(t, "GRANT DELETE ON TABLE public.users TO PUBLIC;", plan[0].RollbackSQL)

	assert.Equal(t, "REVOKE CREATE ON SCHEMA public FROM app_writer;", plan[1].SQL)
	assert.Equal(t, "GRANT CREATE ON SCHEMA public TO app_writer;", plan[1].RollbackSQL)

	assert.Equal(t, "ALTER ROLE admin_user NOSUPERUSER;", plan[2].SQL)
	assert.Equal(t, "ALTER ROLE admin_user SUPERUSER;", plan[2].RollbackSQL)
	assert.Equal(t, models.RiskHigh, plan[2].RiskLevel)
}

func TestPlanRemoveDangerous_BootstrapRoleExempt(t *testing.T) {
	snap := buildSnapshot(t)
	require.NoError(t, snap.AddIssue(models.Issue{
		ObjectType: models.ObjectRole, ObjectName: "postgres",
		Permission: "SUPERUSER", RiskLevel: models.RiskHigh,
	}))
	snap.Freeze()

	planner := NewPlanner(nil, "postgres", nil)
	plan, err := planner.Plan(snap, PlanRequest{Policy: PolicyRemoveDangerous})
	require.NoError(t, err)
	assert.Empty(t, plan, "bootstrap role must never be demoted")
}

func TestPlanRemoveDangerous_RoleFilter(t *testing.T) {
	snap := buildSnapshot(t)
	require.NoError(t, snap.AddIssue(models.Issue{
		ObjectType: models.ObjectTable, ObjectName: "public.users",
		Grantee: "app_writer", Permission: "DELETE", RiskLevel: models.RiskHigh,
	}))
	require.NoError(t, snap.AddIssue(models.Issue{
		ObjectType: models.ObjectTable, ObjectName: "public.orders",
		Grantee: "app_reader", Permission: "TRUNCATE", RiskLevel: models.RiskMedium,
	}))
	snap.Freeze()

	planner := NewPlanner(nil, "postgres", nil)
	plan, err := planner.Plan(snap, PlanRequest{Policy: PolicyRemoveDangerous, Roles: []string{"app_writer"}})
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, "REVOKE DELETE ON TABLE public.users FROM app_writer;", plan[0].SQL)
}

func TestPlanTemplate_ReadOnly(t *testing.T) {
	snap := buildSnapshot(t)
	snap.Freeze()

	planner := NewPlanner(nil, "postgres", nil)
	plan, err := planner.Plan(snap, PlanRequest{
		Policy:   PolicyApplyTemplate,
		Template: "read_only",
		Roles:    []string{"app_reader"},
	})
	require.NoError(t, err)

	var sqls []string
	for _, change := range plan {
		sqls = append(sqls, change.SQL)
	}
	assert.Contains(t, sqls, "GRANT USAGE ON SCHEMA public TO app_reader;")
	assert.Contains(t, sqls, "REVOKE CREATE ON SCHEMA public FROM app_reader;")
	assert.Contains(t, sqls, "GRANT SELECT ON TABLE public.users TO app_reader;")
	assert.Contains(t, sqls, "REVOKE DELETE ON TABLE public.users FROM app_reader;")

	// One role, one schema with 1 grant + 1 revoke, three tables with
	// 1 grant + 6 revokes each.
	assert.Len(t, plan, 2+3*7)

	// Every change is reversible.
	for _, change := range plan {
		assert.NotEmpty(t, change.RollbackSQL)
	}
}

func TestPlanTemplate_DefaultTargetsSkipSuperusers(t *testing.T) {
	snap := buildSnapshot(t)
	snap.Freeze()

	planner := NewPlanner(nil, "postgres", nil)
	plan, err := planner.Plan(snap, PlanRequest{Policy: PolicyApplyTemplate, Template: "read_only"})
	require.NoError(t, err)

	for _, change := range plan {
		assert.NotContains(t, change.SQL, "admin_user")
		assert.NotContains(t, change.SQL, " postgres;")
	}
}

func TestPlanTemplate_DeterministicOrder(t *testing.T) {
	snap := buildSnapshot(t)
	snap.Freeze()

	planner := NewPlanner(nil, "postgres", nil)
	req := PlanRequest{Policy: PolicyApplyTemplate, Template: "read_write"}

	first, err := planner.Plan(snap, req)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := planner.Plan(snap, req)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestPlanTemplate_UnknownTemplate(t *testing.T) {
	snap := buildSnapshot(t)
	snap.Freeze()

	planner := NewPlanner(nil, "postgres", nil)
	_, err := planner.Plan(snap, PlanRequest{Policy: PolicyApplyTemplate, Template: "superpower"})

	var planErr *apperrors.PlanValidationError
	require.ErrorAs(t, err, &planErr)
	assert.Contains(t, planErr.Reason, "superpower")
	assert.Contains(t, planErr.Reason, "read_only", "error should list available templates")
}

func TestPlanTemplate_EmptyRoleFilter(t *testing.T) {
	snap := buildSnapshot(t)
	snap.Freeze()

	planner := NewPlanner(nil, "postgres", nil)
	_, err := planner.Plan(snap, PlanRequest{
		Policy:   PolicyApplyTemplate,
		Template: "read_only",
		Roles:    []string{"no_such_role"},
	})

	var planErr *apperrors.PlanValidationError
	require.ErrorAs(t, err, &planErr)
}

func TestPlanRestrictPublic(t *testing.T) {
	snap := buildSnapshot(t)
	snap.Freeze()

	planner := NewPlanner(nil, "postgres", nil)
	plan, err := planner.Plan(snap, PlanRequest{Policy: PolicyRestrictPublic})
	require.NoError(t, err)

	require.Len(t, plan, 3, "schema step plus the two public-schema tables")
	assert.Equal(t, "REVOKE CREATE ON SCHEMA public FROM PUBLIC;", plan[0].SQL)
	assert.Equal(t, "GRANT CREATE ON SCHEMA public TO PUBLIC;", plan[0].RollbackSQL)
	assert.Equal(t, "REVOKE ALL ON TABLE public.orders FROM PUBLIC;", plan[1].SQL)
	assert.Equal(t, "REVOKE ALL ON TABLE public.users FROM PUBLIC;", plan[2].SQL)

	// Regeneration is unconditional: a second run yields the same plan.
	again, err := planner.Plan(snap, PlanRequest{Policy: PolicyRestrictPublic})
	require.NoError(t, err)
	assert.Equal(t, plan, again)
}

func TestPlan_UnknownPolicy(t *testing.T) {
	snap := buildSnapshot(t)
	snap.Freeze()

	planner := NewPlanner(nil, "postgres", nil)
	_, err := planner.Plan(snap, PlanRequest{Policy: "drop_everything"})

	var planErr *apperrors.PlanValidationError
	require.ErrorAs(t, err, &planErr)
}
