// Package classify decides the risk level of a single grant. All risk rules
// live in one ordered table so precedence can be read, reasoned about, and
// tested in one place. Classification is pure: identical inputs always yield
// identical results, independent of call order.
package classify

import (
	"fmt"
	"strings"

	"github.com/dbsentry/pgauditor/pkg/models"
)

// DefaultSensitiveTablePatterns flags tables likely to hold personal or
// security-relevant data by name.
var DefaultSensitiveTablePatterns = []string{
	"user", "account", "auth", "password", "credential", "secret", "key",
	"token", "payment", "credit", "ssn", "customer", "employee", "salary",
	"address",
}

// DefaultSensitiveFunctionPatterns flags functions likely to handle secrets.
var DefaultSensitiveFunctionPatterns = []string{
	"password", "auth", "crypt", "key", "secret", "token", "hash",
}

// Role self-attribute pseudo-permissions evaluated by the role category.
const (
	PermSuperuser  = "SUPERUSER"
	PermCreateRole = "CREATEROLE"
	PermCreateDB   = "CREATEDB"
)

// writePermissions are the table permissions that can modify data.
var writePermissions = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "TRUNCATE": true,
}

// Input identifies one grant to classify.
type Input struct {
	ObjectType models.ObjectType
	ObjectName string
	Grantee    string
	Permission string
}

// Context is the audit-wide state classification depends on. It is treated
// as read-only by the classifier.
type Context struct {
	// Superusers is the set of role names known to be superusers. Superuser
	// grantees are exempt from the sensitive-table and schema-CREATE checks;
	// the exemption deliberately does not extend to other rules.
	Superusers map[string]bool
	// BootstrapRole is the administrative bootstrap role whose own
	// self-attributes are never flagged.
	BootstrapRole string
	// SensitiveTablePatterns and SensitiveFunctionPatterns override the
	// defaults when non-nil.
	SensitiveTablePatterns    []string
	SensitiveFunctionPatterns []string
}

// NewContext creates a classification context with default pattern sets and
// the conventional postgres bootstrap role.
func NewContext(superusers map[string]bool) *Context {
	if superusers == nil {
		superusers = map[string]bool{}
	}
	return &Context{
		Superusers:    superusers,
		BootstrapRole: "postgres",
	}
}

func (c *Context) tablePatterns() []string {
	if c.SensitiveTablePatterns != nil {
		return c.SensitiveTablePatterns
	}
	return DefaultSensitiveTablePatterns
}

func (c *Context) functionPatterns() []string {
	if c.SensitiveFunctionPatterns != nil {
		return c.SensitiveFunctionPatterns
	}
	return DefaultSensitiveFunctionPatterns
}

func (c *Context) isSuperuser(grantee string) bool {
	return c.Superusers[grantee]
}

// Result is a classification outcome.
type Result struct {
	RiskLevel      models.RiskLevel
	Recommendation string
	// Rule names the matched rule, for reporting and tests. Empty for SAFE.
	Rule string
}

// rule is one entry of the ordered rule table. The first matching rule wins.
type rule struct {
	name      string
	match     func(in Input, ctx *Context) bool
	risk      models.RiskLevel
	recommend func(in Input) string
}

// rules is evaluated top to bottom; order defines risk precedence.
var rules = []rule{
	{
		name: "table-write-public",
		match: func(in Input, _ *Context) bool {
			return in.ObjectType == models.ObjectTable &&
				writePermissions[in.Permission] &&
				in.Grantee == models.PublicGrantee
		},
		risk: models.RiskHigh,
		recommend: func(in Input) string {
			return fmt.Sprintf("Revoke %s from PUBLIC on %s", in.Permission, in.ObjectName)
		},
	},
	{
		name: "table-write-sensitive",
		match: func(in Input, ctx *Context) bool {
			return in.ObjectType == models.ObjectTable &&
				writePermissions[in.Permission] &&
				namedGrantee(in.Grantee) &&
				!ctx.isSuperuser(in.Grantee) &&
				matchesPattern(in.ObjectName, ctx.tablePatterns())
		},
		risk: models.RiskHigh,
		recommend: func(in Input) string {
			return fmt.Sprintf("Review %s for %s on sensitive table %s", in.Permission, in.Grantee, in.ObjectName)
		},
	},
	{
		name: "table-write-named",
		match: func(in Input, ctx *Context) bool {
			return in.ObjectType == models.ObjectTable &&
				writePermissions[in.Permission] &&
				namedGrantee(in.Grantee) &&
				!ctx.isSuperuser(in.Grantee)
		},
		risk: models.RiskMedium,
		recommend: func(in Input) string {
			return fmt.Sprintf("Review %s for %s on %s", in.Permission, in.Grantee, in.ObjectName)
		},
	},
	{
		name: "table-structural",
		match: func(in Input, _ *Context) bool {
			return in.ObjectType == models.ObjectTable &&
				(in.Permission == "REFERENCES" || in.Permission == "TRIGGER")
		},
		risk: models.RiskMedium,
		recommend: func(in Input) string {
			return fmt.Sprintf("Review %s for %s on %s", in.Permission, in.Grantee, in.ObjectName)
		},
	},
	{
		name: "schema-create-public",
		match: func(in Input, _ *Context) bool {
			return in.ObjectType == models.ObjectSchema &&
				in.Permission == "CREATE" &&
				in.Grantee == models.PublicGrantee
		},
		risk: models.RiskHigh,
		recommend: func(in Input) string {
			return fmt.Sprintf("Revoke CREATE from PUBLIC on schema %s", in.ObjectName)
		},
	},
	{
		name: "schema-create-named",
		match: func(in Input, ctx *Context) bool {
			return in.ObjectType == models.ObjectSchema &&
				in.Permission == "CREATE" &&
				namedGrantee(in.Grantee) &&
				!ctx.isSuperuser(in.Grantee)
		},
		risk: models.RiskMedium,
		recommend: func(in Input) string {
			return fmt.Sprintf("Review CREATE privilege for %s on schema %s", in.Grantee, in.ObjectName)
		},
	},
	{
		name: "schema-usage-public",
		match: func(in Input, _ *Context) bool {
			return in.ObjectType == models.ObjectSchema &&
				in.Permission == "USAGE" &&
				in.Grantee == models.PublicGrantee
		},
		risk: models.RiskMedium,
		recommend: func(in Input) string {
			return fmt.Sprintf("Restrict PUBLIC usage on schema %s if not needed", in.ObjectName)
		},
	},
	{
		name: "function-sensitive",
		match: func(in Input, ctx *Context) bool {
			return in.ObjectType == models.ObjectFunction &&
				namedGrantee(in.Grantee) &&
				!ctx.isSuperuser(in.Grantee) &&
				matchesPattern(in.ObjectName, ctx.functionPatterns())
		},
		risk: models.RiskHigh,
		recommend: func(in Input) string {
			return fmt.Sprintf("Review %s's %s access to sensitive function %s", in.Grantee, in.Permission, in.ObjectName)
		},
	},
	{
		name: "function-execute-public",
		match: func(in Input, _ *Context) bool {
			return in.ObjectType == models.ObjectFunction &&
				in.Permission == "EXECUTE" &&
				in.Grantee == models.PublicGrantee
		},
		risk: models.RiskMedium,
		recommend: func(in Input) string {
			return fmt.Sprintf("Review if PUBLIC should have EXECUTE on %s", in.ObjectName)
		},
	},
	{
		name: "role-superuser",
		match: func(in Input, ctx *Context) bool {
			return in.ObjectType == models.ObjectRole &&
				in.Permission == PermSuperuser &&
				in.ObjectName != ctx.BootstrapRole
		},
		risk: models.RiskHigh,
		recommend: func(in Input) string {
			return fmt.Sprintf("Remove SUPERUSER privilege from %s if not required", in.ObjectName)
		},
	},
	{
		name: "role-createrole",
		match: func(in Input, ctx *Context) bool {
			return in.ObjectType == models.ObjectRole &&
				in.Permission == PermCreateRole &&
				in.ObjectName != ctx.BootstrapRole
		},
		risk: models.RiskHigh,
		recommend: func(in Input) string {
			return fmt.Sprintf("Remove CREATEROLE privilege from %s if not required", in.ObjectName)
		},
	},
	{
		name: "role-createdb",
		match: func(in Input, ctx *Context) bool {
			return in.ObjectType == models.ObjectRole &&
				in.Permission == PermCreateDB &&
				in.ObjectName != ctx.BootstrapRole
		},
		risk: models.RiskMedium,
		recommend: func(in Input) string {
			return fmt.Sprintf("Remove CREATEDB privilege from %s if not required", in.ObjectName)
		},
	},
	{
		name: "database-create",
		match: func(in Input, _ *Context) bool {
			return in.ObjectType == models.ObjectDatabase && in.Permission == "CREATE"
		},
		risk: models.RiskMedium,
		recommend: func(in Input) string {
			return fmt.Sprintf("Review if %s needs CREATE permission on database %s", in.Grantee, in.ObjectName)
		},
	},
}

// Classify evaluates the rule table and returns the first match. Anything
// not matched is SAFE.
func Classify(in Input, ctx *Context) Result {
	for _, r := range rules {
		if r.match(in, ctx) {
			return Result{
				RiskLevel:      r.risk,
				Recommendation: r.recommend(in),
				Rule:           r.name,
			}
		}
	}
	return Result{RiskLevel: models.RiskSafe}
}

// IsSensitiveTable reports whether a table name trips the sensitive-pattern
// set, for marking TableEntity.IsSensitive.
func IsSensitiveTable(name string, ctx *Context) bool {
	return matchesPattern(name, ctx.tablePatterns())
}

// namedGrantee reports whether the grantee is a concrete role rather than
// the PUBLIC pseudo-role or the empty self-attribute marker.
func namedGrantee(grantee string) bool {
	return grantee != "" && grantee != models.PublicGrantee
}

// matchesPattern checks the unqualified object name against a pattern set.
func matchesPattern(objectName string, patterns []string) bool {
	name := objectName
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	name = strings.ToLower(name)
	for _, p := range patterns {
		if strings.Contains(name, p) {
			return true
		}
	}
	return false
}
