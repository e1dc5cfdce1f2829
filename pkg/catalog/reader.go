// Package catalog reads grant data out of the PostgreSQL system catalogs.
// Every category runs behind its own failure boundary: a failed query
// returns the session to a clean transactional state and yields empty
// results with a CatalogQueryError, never aborting the rest of the audit.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dbsentry/pgauditor/pkg/apperrors"
	"github.com/dbsentry/pgauditor/pkg/database"
	"github.com/dbsentry/pgauditor/pkg/logging"
)

// Category names the audit categories in the order the aggregator runs them.
type Category string

const (
	CategorySuperusers     Category = "superusers"
	CategoryPublicSchema   Category = "public_schema"
	CategoryTableGrants    Category = "table_grants"
	CategorySchemaGrants   Category = "schema_grants"
	CategoryFunctionGrants Category = "function_grants"
	CategoryDatabaseGrants Category = "database_grants"
	CategoryRoleAttributes Category = "role_attributes"
)

// SchemaGrant is one privilege on a schema.
type SchemaGrant struct {
	Schema    string
	Grantee   string
	Privilege string
}

// TableGrant is one privilege on a table.
type TableGrant struct {
	Schema    string
	Table     string
	Grantee   string
	Privilege string
}

// TableRow is one entry from the table inventory.
type TableRow struct {
	Schema string
	Name   string
	Owner  string
}

// SchemaRow is one entry from the schema inventory.
type SchemaRow struct {
	Name  string
	Owner string
}

// FunctionGrant is one privilege on a function.
type FunctionGrant struct {
	Schema    string
	Function  string
	Grantee   string
	Privilege string
}

// DatabaseGrant is one role's privileges on the current database.
type DatabaseGrant struct {
	Database  string
	Role      string
	CanCreate bool
	CanTemp   bool
}

// RoleRow is one role with its attributes and memberships.
type RoleRow struct {
	Name          string
	IsSuperuser   bool
	CanCreateDB   bool
	CanCreateRole bool
	CanLogin      bool
	MemberOf      []string
}

// Reader issues read-only introspection queries on a caller-owned session.
// It has no write side effects.
type Reader struct {
	sess   database.Session
	logger *zap.Logger
}

// NewReader creates a catalog reader. If logger is nil, a no-op logger is used.
func NewReader(sess database.Session, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{sess: sess, logger: logger}
}

// query runs one category query behind the failure boundary. On error the
// session is explicitly rolled back so the failure cannot poison later
// categories sharing the session.
func (r *Reader) query(ctx context.Context, category Category, sql string, args ...any) ([]database.Row, error) {
	rows, err := r.sess.Query(ctx, sql, args...)
	if err != nil {
		if rbErr := r.sess.Rollback(ctx); rbErr != nil {
			r.logger.Warn("rollback after failed catalog query",
				zap.String("category", string(category)),
				zap.String("error", logging.SanitizeError(rbErr)))
		}
		r.logger.Warn("catalog query failed",
			zap.String("category", string(category)),
			zap.String("query", logging.SanitizeStatement(sql)),
			zap.String("error", logging.SanitizeError(err)))
		return nil, &apperrors.CatalogQueryError{Category: string(category), Err: err}
	}
	return rows, nil
}

// Superusers returns the names of all superuser roles.
func (r *Reader) Superusers(ctx context.Context) ([]string, error) {
	rows, err := r.query(ctx, CategorySuperusers,
		`SELECT rolname FROM pg_roles WHERE rolsuper = true ORDER BY rolname`)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		names = append(names, asString(row[0]))
	}
	return names, nil
}

// PublicSchemaGrants returns usage-style grants on the default public schema.
func (r *Reader) PublicSchemaGrants(ctx context.Context) ([]SchemaGrant, error) {
	rows, err := r.query(ctx, CategoryPublicSchema, `
		SELECT grantee, privilege_type
		FROM information_schema.role_usage_grants
		WHERE object_schema = 'public'
		ORDER BY grantee, privilege_type`)
	if err != nil {
		return nil, err
	}
	grants := make([]SchemaGrant, 0, len(rows))
	for _, row := range rows {
		grants = append(grants, SchemaGrant{
			Schema:    "public",
			Grantee:   asString(row[0]),
			Privilege: asString(row[1]),
		})
	}
	return grants, nil
}

// Tables returns the user-table inventory (system schemas excluded).
func (r *Reader) Tables(ctx context.Context) ([]TableRow, error) {
	rows, err := r.query(ctx, CategoryTableGrants, `
		SELECT schemaname, tablename, tableowner
		FROM pg_tables
		WHERE schemaname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		ORDER BY schemaname, tablename`)
	if err != nil {
		return nil, err
	}
	tables := make([]TableRow, 0, len(rows))
	for _, row := range rows {
		tables = append(tables, TableRow{
			Schema: asString(row[0]),
			Name:   asString(row[1]),
			Owner:  asString(row[2]),
		})
	}
	return tables, nil
}

// TableGrants returns every table privilege outside system schemas,
// including grants to the PUBLIC pseudo-role.
func (r *Reader) TableGrants(ctx context.Context) ([]TableGrant, error) {
	rows, err := r.query(ctx, CategoryTableGrants, `
		SELECT table_schema, table_name, grantee, privilege_type
		FROM information_schema.role_table_grants
		WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
		ORDER BY table_schema, table_name, grantee, privilege_type`)
	if err != nil {
		return nil, err
	}
	grants := make([]TableGrant, 0, len(rows))
	for _, row := range rows {
		grants = append(grants, TableGrant{
			Schema:    asString(row[0]),
			Table:     asString(row[1]),
			Grantee:   asString(row[2]),
			Privilege: asString(row[3]),
		})
	}
	return grants, nil
}

// Schemas returns the schema inventory (system schemas excluded).
func (r *Reader) Schemas(ctx context.Context) ([]SchemaRow, error) {
	rows, err := r.query(ctx, CategorySchemaGrants, `
		SELECT n.nspname, pg_get_userbyid(n.nspowner)
		FROM pg_namespace n
		WHERE n.nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		ORDER BY n.nspname`)
	if err != nil {
		return nil, err
	}
	schemas := make([]SchemaRow, 0, len(rows))
	for _, row := range rows {
		schemas = append(schemas, SchemaRow{
			Name:  asString(row[0]),
			Owner: asString(row[1]),
		})
	}
	return schemas, nil
}

// SchemaGrants returns every explicit schema privilege outside system
// schemas. An ACL grantee of 0 is the PUBLIC pseudo-role.
func (r *Reader) SchemaGrants(ctx context.Context) ([]SchemaGrant, error) {
	rows, err := r.query(ctx, CategorySchemaGrants, `
		SELECT n.nspname, COALESCE(r.rolname, 'PUBLIC'), a.privilege_type
		FROM pg_namespace n
		CROSS JOIN LATERAL aclexplode(n.nspacl) a
		LEFT JOIN pg_roles r ON a.grantee = r.oid
		WHERE n.nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		ORDER BY n.nspname, 2, a.privilege_type`)
	if err != nil {
		return nil, err
	}
	grants := make([]SchemaGrant, 0, len(rows))
	for _, row := range rows {
		grants = append(grants, SchemaGrant{
			Schema:    asString(row[0]),
			Grantee:   asString(row[1]),
			Privilege: asString(row[2]),
		})
	}
	return grants, nil
}

// FunctionGrants returns every explicit function privilege outside system
// schemas, including grants to PUBLIC.
func (r *Reader) FunctionGrants(ctx context.Context) ([]FunctionGrant, error) {
	rows, err := r.query(ctx, CategoryFunctionGrants, `
		SELECT n.nspname, p.proname, COALESCE(r.rolname, 'PUBLIC'), a.privilege_type
		FROM pg_proc p
		JOIN pg_namespace n ON p.pronamespace = n.oid
		CROSS JOIN LATERAL aclexplode(p.proacl) a
		LEFT JOIN pg_roles r ON a.grantee = r.oid
		WHERE n.nspname NOT IN ('pg_catalog', 'information_schema')
		ORDER BY n.nspname, p.proname, 3, a.privilege_type`)
	if err != nil {
		return nil, err
	}
	grants := make([]FunctionGrant, 0, len(rows))
	for _, row := range rows {
		grants = append(grants, FunctionGrant{
			Schema:    asString(row[0]),
			Function:  asString(row[1]),
			Grantee:   asString(row[2]),
			Privilege: asString(row[3]),
		})
	}
	return grants, nil
}

// DatabaseGrants returns per-role privileges on the current database.
func (r *Reader) DatabaseGrants(ctx context.Context) ([]DatabaseGrant, error) {
	rows, err := r.query(ctx, CategoryDatabaseGrants, `
		SELECT d.datname,
		       r.rolname,
		       pg_catalog.has_database_privilege(r.oid, d.oid, 'CREATE'),
		       pg_catalog.has_database_privilege(r.oid, d.oid, 'TEMPORARY')
		FROM pg_catalog.pg_database d
		CROSS JOIN pg_catalog.pg_roles r
		WHERE d.datname = current_database()
		  AND r.rolname NOT LIKE 'pg\_%'
		ORDER BY r.rolname`)
	if err != nil {
		return nil, err
	}
	grants := make([]DatabaseGrant, 0, len(rows))
	for _, row := range rows {
		grants = append(grants, DatabaseGrant{
			Database:  asString(row[0]),
			Role:      asString(row[1]),
			CanCreate: asBool(row[2]),
			CanTemp:   asBool(row[3]),
		})
	}
	return grants, nil
}

// RoleAttributes returns every role with its attributes and memberships.
func (r *Reader) RoleAttributes(ctx context.Context) ([]RoleRow, error) {
	rows, err := r.query(ctx, CategoryRoleAttributes, `
		SELECT r.rolname,
		       r.rolsuper,
		       r.rolcreatedb,
		       r.rolcreaterole,
		       r.rolcanlogin,
		       COALESCE(string_agg(m.rolname, ',' ORDER BY m.rolname), '')
		FROM pg_catalog.pg_roles r
		LEFT JOIN pg_catalog.pg_auth_members am ON r.oid = am.member
		LEFT JOIN pg_catalog.pg_roles m ON am.roleid = m.oid
		WHERE r.rolname NOT LIKE 'pg\_%'
		GROUP BY r.rolname, r.rolsuper, r.rolcreatedb, r.rolcreaterole, r.rolcanlogin
		ORDER BY r.rolname`)
	if err != nil {
		return nil, err
	}
	roles := make([]RoleRow, 0, len(rows))
	for _, row := range rows {
		role := RoleRow{
			Name:          asString(row[0]),
			IsSuperuser:   asBool(row[1]),
			CanCreateDB:   asBool(row[2]),
			CanCreateRole: asBool(row[3]),
			CanLogin:      asBool(row[4]),
		}
		if members := asString(row[5]); members != "" {
			role.MemberOf = strings.Split(members, ",")
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// asString converts a raw row value to a string. Catalog name columns come
// back as string; defensively handle []byte from text-format results.
func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

// asBool converts a raw row value to a bool.
func asBool(v any) bool {
	b, ok := v.(bool)
	return ok && b
}
