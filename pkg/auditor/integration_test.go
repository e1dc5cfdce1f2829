package auditor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dbsentry/pgauditor/pkg/database"
	"github.com/dbsentry/pgauditor/pkg/fixes"
	"github.com/dbsentry/pgauditor/pkg/models"
	"github.com/dbsentry/pgauditor/pkg/testhelpers"
)

func connectIntegration(t *testing.T) *database.PgxSession {
	t.Helper()
	testDB := testhelpers.GetTestDB(t)

	sess, err := database.Connect(context.Background(), &database.Config{URL: testDB.ConnStr}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close(context.Background()) })
	return sess
}

func seedGrants(t *testing.T, sess *database.PgxSession) {
	t.Helper()
	ctx := context.Background()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS public.users (id serial PRIMARY KEY, email text)`,
		`CREATE TABLE IF NOT EXISTS public.orders (id serial PRIMARY KEY, total numeric)`,
		`DO $$ BEGIN CREATE ROLE app_writer LOGIN; EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
		`GRANT DELETE ON TABLE public.users TO PUBLIC`,
		`GRANT INSERT ON TABLE public.orders TO app_writer`,
	}
	for _, stmt := range statements {
		require.NoError(t, sess.Exec(ctx, stmt))
	}
}

func TestAuditIntegration_EndToEnd(t *testing.T) {
	sess := connectIntegration(t)
	seedGrants(t, sess)
	ctx := context.Background()

	agg := New(sess, zaptest.NewLogger(t), nil, Options{})
	snap, err := agg.Run(ctx)
	require.NoError(t, err)

	assert.True(t, snap.Frozen())
	assert.Equal(t, "audit_test", snap.Database)
	assert.True(t, snap.Superusers()["postgres"])
	require.Contains(t, snap.Tables, "public.users")
	assert.True(t, snap.Tables["public.users"].IsSensitive)

	publicDelete := findIssue(snap, "public.users", "PUBLIC", "DELETE")
	require.NotNil(t, publicDelete, "PUBLIC DELETE grant must be found")
	assert.Equal(t, models.RiskHigh, publicDelete.RiskLevel)
	require.NotNil(t, findIssue(snap, "public.orders", "app_writer", "INSERT"))

	// Remediate and verify the grant is gone on a fresh audit.
	planner := fixes.NewPlanner(nil, "postgres", zaptest.NewLogger(t))
	plan, err := planner.Plan(snap, fixes.PlanRequest{
		Policy: fixes.PolicyRemoveDangerous,
		Roles:  []string{"PUBLIC"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, plan)

	executor := fixes.NewExecutor(sess, zaptest.NewLogger(t))
	outcome, err := executor.Apply(ctx, plan, fixes.ApplyOptions{})
	require.NoError(t, err)
	require.Equal(t, models.OutcomeCommitted, outcome.Status)
	assert.True(t, sess.Autocommit())

	after, err := New(sess, zaptest.NewLogger(t), nil, Options{}).Run(ctx)
	require.NoError(t, err)
	assert.Nil(t, findIssue(after, "public.users", "PUBLIC", "DELETE"), "PUBLIC DELETE grant still present after fix")

	// Replaying the rollback statements in reverse restores the pre-fix grants.
	for i := len(plan) - 1; i >= 0; i-- {
		require.NoError(t, sess.Exec(ctx, plan[i].RollbackSQL))
	}

	restored, err := New(sess, zaptest.NewLogger(t), nil, Options{}).Run(ctx)
	require.NoError(t, err)
	reverted := findIssue(restored, "public.users", "PUBLIC", "DELETE")
	require.NotNil(t, reverted, "rollback must restore the PUBLIC DELETE grant")
	assert.Equal(t, models.RiskHigh, reverted.RiskLevel)
	assert.NotNil(t, findIssue(restored, "public.orders", "app_writer", "INSERT"))
	assert.Equal(t, len(snap.Issues), len(restored.Issues))
}

func findIssue(snap *models.AuditSnapshot, object, grantee, permission string) *models.Issue {
	for i := range snap.Issues {
		issue := snap.Issues[i]
		if issue.ObjectName == object && issue.Grantee == grantee && issue.Permission == permission {
			return &issue
		}
	}
	return nil
}

func TestAuditIntegration_DryRunTouchesNothing(t *testing.T) {
	sess := connectIntegration(t)
	seedGrants(t, sess)
	ctx := context.Background()

	snap, err := New(sess, zaptest.NewLogger(t), nil, Options{}).Run(ctx)
	require.NoError(t, err)

	planner := fixes.NewPlanner(nil, "postgres", zaptest.NewLogger(t))
	plan, err := planner.Plan(snap, fixes.PlanRequest{Policy: fixes.PolicyRemoveDangerous, Roles: []string{"PUBLIC"}})
	require.NoError(t, err)
	require.NotEmpty(t, plan)

	executor := fixes.NewExecutor(sess, zaptest.NewLogger(t))
	outcome, err := executor.Apply(ctx, plan, fixes.ApplyOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeDryRun, outcome.Status)

	after, err := New(sess, zaptest.NewLogger(t), nil, Options{}).Run(ctx)
	require.NoError(t, err)

	found := false
	for _, issue := range after.Issues {
		if issue.ObjectName == "public.users" && issue.Grantee == "PUBLIC" && issue.Permission == "DELETE" {
			found = true
		}
	}
	assert.True(t, found, "dry run must not change grant state")
}
