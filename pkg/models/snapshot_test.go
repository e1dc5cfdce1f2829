package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsentry/pgauditor/pkg/apperrors"
)

func sampleSnapshot(t *testing.T) *AuditSnapshot {
	t.Helper()
	snap := NewAuditSnapshot("appdb")
	require.NoError(t, snap.AddRole(&Role{Name: "postgres", IsSuperuser: true}))
	require.NoError(t, snap.AddRole(&Role{Name: "app_reader"}))
	require.NoError(t, snap.AddSchema(NewSchemaEntity("public", "postgres")))
	require.NoError(t, snap.AddTable(NewTableEntity("public", "users", "postgres")))
	require.NoError(t, snap.AddIssue(Issue{
		ObjectType: ObjectTable, ObjectName: "public.users",
		Grantee: "PUBLIC", Permission: "DELETE", RiskLevel: RiskHigh,
		Recommendation: "Revoke DELETE from PUBLIC on public.users",
	}))
	require.NoError(t, snap.AddIssue(Issue{
		ObjectType: ObjectTable, ObjectName: "public.users",
		Grantee: "app_reader", Permission: "SELECT", RiskLevel: RiskSafe,
	}))
	return snap
}

func TestSnapshotFreeze(t *testing.T) {
	snap := sampleSnapshot(t)
	assert.False(t, snap.Frozen())

	snap.Freeze()
	assert.True(t, snap.Frozen())

	assert.ErrorIs(t, snap.AddIssue(Issue{}), apperrors.ErrSnapshotFrozen)
	assert.ErrorIs(t, snap.AddRole(&Role{Name: "x"}), apperrors.ErrSnapshotFrozen)
	assert.ErrorIs(t, snap.AddSchema(NewSchemaEntity("x", "y")), apperrors.ErrSnapshotFrozen)
	assert.ErrorIs(t, snap.AddTable(NewTableEntity("x", "y", "z")), apperrors.ErrSnapshotFrozen)
	assert.ErrorIs(t, snap.AddWarning("late"), apperrors.ErrSnapshotFrozen)

	assert.Len(t, snap.Issues, 2, "failed mutations leave the snapshot unchanged")
}

func TestSnapshotFilterByRisk(t *testing.T) {
	snap := sampleSnapshot(t)
	snap.Freeze()

	filtered := snap.FilterByRisk(RiskHigh)
	assert.True(t, filtered.Frozen())
	require.Len(t, filtered.Issues, 1)
	assert.Equal(t, RiskHigh, filtered.Issues[0].RiskLevel)

	// Entities survive filtering untouched.
	assert.Len(t, filtered.Roles, 2)
	assert.Len(t, filtered.Tables, 1)

	// The original is unchanged.
	assert.Len(t, snap.Issues, 2)
}

func TestSnapshotSuperusers(t *testing.T) {
	snap := sampleSnapshot(t)
	supers := snap.Superusers()
	assert.True(t, supers["postgres"])
	assert.False(t, supers["app_reader"])
}

func TestSnapshotExportJSON(t *testing.T) {
	snap := sampleSnapshot(t)
	snap.Freeze()

	data, err := snap.ExportJSON(false)
	require.NoError(t, err)

	var out struct {
		Database             string                `json:"database"`
		Roles                []exportRole          `json:"roles"`
		DangerousPermissions []DangerousPermission `json:"dangerous_permissions"`
		Schemas              []exportOwned         `json:"schemas"`
		Tables               []exportOwned         `json:"tables"`
	}
	require.NoError(t, json.Unmarshal(data, &out))

	assert.Equal(t, "appdb", out.Database)
	require.Len(t, out.Roles, 2)
	assert.Equal(t, "app_reader", out.Roles[0].Name, "roles are sorted")

	require.Len(t, out.DangerousPermissions, 1, "safe issues excluded by default")
	assert.Equal(t, "high", out.DangerousPermissions[0].RiskLevel)
	assert.Equal(t, "public.users", out.DangerousPermissions[0].Name)

	require.Len(t, out.Tables, 1)
	assert.Equal(t, "public.users", out.Tables[0].Name)

	// includeSafe brings the safe finding back.
	data, err = snap.ExportJSON(true)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Len(t, out.DangerousPermissions, 2)
}

func TestGrantSetAdd(t *testing.T) {
	grants := make(GrantSet)
	grants.Add("app_reader", "SELECT")
	grants.Add("app_reader", "INSERT")
	grants.Add("app_reader", "SELECT")

	assert.Equal(t, []string{"INSERT", "SELECT"}, grants["app_reader"])
	assert.Equal(t, []string{"app_reader"}, grants.Grantees())
}
