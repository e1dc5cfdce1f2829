package auditor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dbsentry/pgauditor/pkg/apperrors"
	"github.com/dbsentry/pgauditor/pkg/catalog"
	"github.com/dbsentry/pgauditor/pkg/database"
	"github.com/dbsentry/pgauditor/pkg/models"
	"github.com/dbsentry/pgauditor/pkg/testhelpers"
)

// scriptedCatalog answers the categories' introspection queries by SQL
// fingerprint. Unmatched queries return no rows.
func scriptedCatalog(fail map[string]error) func(sql string, args ...any) ([]database.Row, error) {
	return func(sql string, _ ...any) ([]database.Row, error) {
		for marker, err := range fail {
			if strings.Contains(sql, marker) {
				return nil, err
			}
		}
		switch {
		case strings.Contains(sql, "rolsuper = true"):
			return []database.Row{{"admin_user"}, {"postgres"}}, nil
		case strings.Contains(sql, "role_usage_grants"):
			return []database.Row{{"PUBLIC", "USAGE"}}, nil
		case strings.Contains(sql, "FROM pg_tables"):
			return []database.Row{
				{"public", "orders", "postgres"},
				{"public", "users", "postgres"},
			}, nil
		case strings.Contains(sql, "role_table_grants"):
			return []database.Row{
				{"public", "orders", "app_writer", "INSERT"},
				{"public", "users", "PUBLIC", "DELETE"},
			}, nil
		case strings.Contains(sql, "aclexplode(n.nspacl)"):
			return []database.Row{{"public", "PUBLIC", "CREATE"}}, nil
		case strings.Contains(sql, "pg_get_userbyid"):
			return []database.Row{{"public", "postgres"}}, nil
		case strings.Contains(sql, "pg_proc"):
			return []database.Row{{"public", "check_password", "app_writer", "EXECUTE"}}, nil
		case strings.Contains(sql, "has_database_privilege"):
			return []database.Row{
				{"appdb", "app_reader", false, true},
				{"appdb", "app_writer", true, false},
			}, nil
		case strings.Contains(sql, "string_agg"):
			return []database.Row{
				{"admin_user", true, false, false, true, ""},
				{"app_reader", false, false, false, true, ""},
				{"app_writer", false, true, false, true, "app_group"},
				{"postgres", true, true, true, true, ""},
			}, nil
		}
		return nil, nil
	}
}

// recordingObserver captures category lifecycle callbacks.
type recordingObserver struct {
	started  []catalog.Category
	finished []catalog.Category
	failed   []catalog.Category
}

func (r *recordingObserver) CategoryStarted(c catalog.Category) { r.started = append(r.started, c) }
func (r *recordingObserver) CategoryFinished(c catalog.Category, _ int) {
	r.finished = append(r.finished, c)
}
func (r *recordingObserver) CategoryFailed(c catalog.Category, _ error) {
	r.failed = append(r.failed, c)
}

func TestAggregatorRun(t *testing.T) {
	sess := testhelpers.NewFakeSession("appdb")
	sess.QueryFunc = scriptedCatalog(nil)

	agg := New(sess, zaptest.NewLogger(t), nil, Options{})
	snap, err := agg.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, snap.Frozen())
	assert.Equal(t, "appdb", snap.Database)
	assert.Empty(t, snap.Warnings)

	// Roles from both superuser identification and role attributes.
	assert.Len(t, snap.Roles, 4)
	assert.True(t, snap.Roles["admin_user"].IsSuperuser)
	assert.Equal(t, []string{"app_group"}, snap.Roles["app_writer"].MemberOf)

	// Entities carry grant and sensitivity state.
	require.Contains(t, snap.Tables, "public.users")
	assert.True(t, snap.Tables["public.users"].IsSensitive)
	assert.False(t, snap.Tables["public.orders"].IsSensitive)
	assert.Equal(t, []string{"DELETE"}, snap.Tables["public.users"].Grants["PUBLIC"])
	require.Contains(t, snap.Schemas, "public")
	assert.Equal(t, "postgres", snap.Schemas["public"].Owner)

	// Every grant is classified and recorded, including safe ones.
	assert.Len(t, snap.Issues, 11)
	assert.Len(t, snap.IssuesByRisk(models.RiskHigh), 4)
	assert.Len(t, snap.IssuesByRisk(models.RiskMedium), 4)
	assert.Len(t, snap.IssuesByRisk(models.RiskSafe), 3)
}

func TestAggregatorRun_CategoryOrder(t *testing.T) {
	sess := testhelpers.NewFakeSession("appdb")
	sess.QueryFunc = scriptedCatalog(nil)
	observer := &recordingObserver{}

	agg := New(sess, zaptest.NewLogger(t), observer, Options{})
	_, err := agg.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []catalog.Category{
		catalog.CategorySuperusers,
		catalog.CategoryPublicSchema,
		catalog.CategoryTableGrants,
		catalog.CategorySchemaGrants,
		catalog.CategoryFunctionGrants,
		catalog.CategoryDatabaseGrants,
		catalog.CategoryRoleAttributes,
	}, observer.started)
	assert.Empty(t, observer.failed)
}

func TestAggregatorRun_CategoryFailureIsIsolated(t *testing.T) {
	sess := testhelpers.NewFakeSession("appdb")
	sess.QueryFunc = scriptedCatalog(map[string]error{
		"role_table_grants": errors.New("permission denied for view role_table_grants"),
	})
	observer := &recordingObserver{}

	agg := New(sess, zaptest.NewLogger(t), observer, Options{})
	snap, err := agg.Run(context.Background())
	require.NoError(t, err, "a category failure must not abort the audit")

	require.Len(t, snap.Warnings, 1)
	assert.Contains(t, snap.Warnings[0], "table_grants")
	assert.Equal(t, []catalog.Category{catalog.CategoryTableGrants}, observer.failed)

	// The table inventory query ran before the failing grants query.
	assert.Contains(t, snap.Tables, "public.users")
	// Later categories still contributed.
	assert.NotEmpty(t, snap.IssuesByRisk(models.RiskHigh))
	assert.Contains(t, snap.Roles, "app_writer")
}

func TestAggregatorRun_RiskFilter(t *testing.T) {
	sess := testhelpers.NewFakeSession("appdb")
	sess.QueryFunc = scriptedCatalog(nil)

	agg := New(sess, zaptest.NewLogger(t), nil, Options{
		RiskFilter: []models.RiskLevel{models.RiskHigh},
	})
	snap, err := agg.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, snap.Issues, 4)
	for _, issue := range snap.Issues {
		assert.Equal(t, models.RiskHigh, issue.RiskLevel)
	}
	// Entities are never filtered.
	assert.Len(t, snap.Roles, 4)
	assert.Len(t, snap.Tables, 2)
}

func TestAggregatorRun_BootstrapRoleOption(t *testing.T) {
	sess := testhelpers.NewFakeSession("appdb")
	sess.QueryFunc = scriptedCatalog(nil)

	agg := New(sess, zaptest.NewLogger(t), nil, Options{BootstrapRole: "admin_user"})
	snap, err := agg.Run(context.Background())
	require.NoError(t, err)

	// admin_user is exempt now; postgres's attributes get flagged instead.
	var flagged []string
	for _, issue := range snap.IssuesByRisk(models.RiskHigh) {
		if issue.ObjectType == models.ObjectRole {
			flagged = append(flagged, issue.ObjectName)
		}
	}
	assert.NotContains(t, flagged, "admin_user")
	assert.Contains(t, flagged, "postgres")
}

func TestAggregatorRun_ClosedSession(t *testing.T) {
	sess := testhelpers.NewFakeSession("appdb")
	sess.Closed = true

	agg := New(sess, zaptest.NewLogger(t), nil, Options{})
	_, err := agg.Run(context.Background())

	var connErr *apperrors.ConnectionError
	require.ErrorAs(t, err, &connErr)
}
