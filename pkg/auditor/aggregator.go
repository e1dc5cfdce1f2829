// Package auditor orchestrates the audit categories over one session and
// freezes the resulting snapshot. Categories run sequentially in a fixed
// order because later classifiers depend on the superuser set identified
// first; a category's failure contributes a warning and nothing else.
package auditor

import (
	"context"

	"go.uber.org/zap"

	"github.com/dbsentry/pgauditor/pkg/apperrors"
	"github.com/dbsentry/pgauditor/pkg/catalog"
	"github.com/dbsentry/pgauditor/pkg/classify"
	"github.com/dbsentry/pgauditor/pkg/database"
	"github.com/dbsentry/pgauditor/pkg/models"
)

// Options controls one audit run.
type Options struct {
	// BootstrapRole overrides the administrative bootstrap role exempt from
	// role self-attribute checks. Defaults to postgres.
	BootstrapRole string
	// RiskFilter, when non-empty, narrows the returned snapshot's issue
	// list to the given levels. Entities are never filtered.
	RiskFilter []models.RiskLevel
	// Pattern overrides for sensitivity matching; nil keeps the defaults.
	SensitiveTablePatterns    []string
	SensitiveFunctionPatterns []string
}

// Aggregator runs a full permission audit on one caller-owned session.
type Aggregator struct {
	sess     database.Session
	reader   *catalog.Reader
	logger   *zap.Logger
	observer Observer
	opts     Options
}

// New creates an aggregator. Nil logger and observer default to no-ops.
func New(sess database.Session, logger *zap.Logger, observer Observer, opts Options) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &Aggregator{
		sess:     sess,
		reader:   catalog.NewReader(sess, logger),
		logger:   logger,
		observer: observer,
		opts:     opts,
	}
}

// Run executes every audit category in order, freezes the snapshot, and
// returns it. A read-only session is sufficient. Only a closed session is
// fatal; category failures are collected as snapshot warnings.
func (a *Aggregator) Run(ctx context.Context) (*models.AuditSnapshot, error) {
	if a.sess.IsClosed() {
		return nil, &apperrors.ConnectionError{Err: apperrors.ErrSessionClosed}
	}

	snap := models.NewAuditSnapshot(a.sess.Database())
	cctx := classify.NewContext(nil)
	if a.opts.BootstrapRole != "" {
		cctx.BootstrapRole = a.opts.BootstrapRole
	}
	cctx.SensitiveTablePatterns = a.opts.SensitiveTablePatterns
	cctx.SensitiveFunctionPatterns = a.opts.SensitiveFunctionPatterns

	a.identifySuperusers(ctx, snap, cctx)
	a.checkPublicSchema(ctx, snap, cctx)
	a.auditTables(ctx, snap, cctx)
	a.auditSchemas(ctx, snap, cctx)
	a.auditFunctions(ctx, snap, cctx)
	a.auditDatabase(ctx, snap, cctx)
	a.auditRoles(ctx, snap, cctx)

	snap.Freeze()

	a.logger.Info("audit complete",
		zap.String("database", snap.Database),
		zap.Int("issues", len(snap.Issues)),
		zap.Int("warnings", len(snap.Warnings)))

	if len(a.opts.RiskFilter) > 0 {
		return snap.FilterByRisk(a.opts.RiskFilter...), nil
	}
	return snap, nil
}

// fail records a category failure as a snapshot warning.
func (a *Aggregator) fail(snap *models.AuditSnapshot, category catalog.Category, err error) {
	a.observer.CategoryFailed(category, err)
	_ = snap.AddWarning(err.Error())
}

func (a *Aggregator) classifyInto(snap *models.AuditSnapshot, cctx *classify.Context, in classify.Input) {
	res := classify.Classify(in, cctx)
	_ = snap.AddIssue(models.Issue{
		ObjectType:     in.ObjectType,
		ObjectName:     in.ObjectName,
		Grantee:        in.Grantee,
		Permission:     in.Permission,
		RiskLevel:      res.RiskLevel,
		Recommendation: res.Recommendation,
		Details:        map[string]string{"rule": res.Rule},
	})
}

func (a *Aggregator) identifySuperusers(ctx context.Context, snap *models.AuditSnapshot, cctx *classify.Context) {
	a.observer.CategoryStarted(catalog.CategorySuperusers)
	names, err := a.reader.Superusers(ctx)
	if err != nil {
		a.fail(snap, catalog.CategorySuperusers, err)
		return
	}
	for _, name := range names {
		cctx.Superusers[name] = true
		_ = snap.AddRole(&models.Role{Name: name, IsSuperuser: true})
	}
	a.observer.CategoryFinished(catalog.CategorySuperusers, 0)
}

func (a *Aggregator) checkPublicSchema(ctx context.Context, snap *models.AuditSnapshot, cctx *classify.Context) {
	a.observer.CategoryStarted(catalog.CategoryPublicSchema)
	grants, err := a.reader.PublicSchemaGrants(ctx)
	if err != nil {
		a.fail(snap, catalog.CategoryPublicSchema, err)
		return
	}
	issues := 0
	for _, g := range grants {
		a.ensureSchema(snap, g.Schema, "").Grants.Add(g.Grantee, g.Privilege)
		if g.Grantee == models.PublicGrantee {
			a.classifyInto(snap, cctx, classify.Input{
				ObjectType: models.ObjectSchema,
				ObjectName: g.Schema,
				Grantee:    g.Grantee,
				Permission: g.Privilege,
			})
			issues++
		}
	}
	a.observer.CategoryFinished(catalog.CategoryPublicSchema, issues)
}

func (a *Aggregator) auditTables(ctx context.Context, snap *models.AuditSnapshot, cctx *classify.Context) {
	a.observer.CategoryStarted(catalog.CategoryTableGrants)

	tables, err := a.reader.Tables(ctx)
	if err != nil {
		a.fail(snap, catalog.CategoryTableGrants, err)
		return
	}
	for _, t := range tables {
		entity := a.ensureTable(snap, t.Schema, t.Name)
		entity.Owner = t.Owner
		entity.IsSensitive = classify.IsSensitiveTable(t.Name, cctx)
	}

	grants, err := a.reader.TableGrants(ctx)
	if err != nil {
		a.fail(snap, catalog.CategoryTableGrants, err)
		return
	}
	issues := 0
	for _, g := range grants {
		a.ensureTable(snap, g.Schema, g.Table).Grants.Add(g.Grantee, g.Privilege)
		a.classifyInto(snap, cctx, classify.Input{
			ObjectType: models.ObjectTable,
			ObjectName: g.Schema + "." + g.Table,
			Grantee:    g.Grantee,
			Permission: g.Privilege,
		})
		issues++
	}
	a.observer.CategoryFinished(catalog.CategoryTableGrants, issues)
}

func (a *Aggregator) auditSchemas(ctx context.Context, snap *models.AuditSnapshot, cctx *classify.Context) {
	a.observer.CategoryStarted(catalog.CategorySchemaGrants)

	schemas, err := a.reader.Schemas(ctx)
	if err != nil {
		a.fail(snap, catalog.CategorySchemaGrants, err)
		return
	}
	for _, s := range schemas {
		a.ensureSchema(snap, s.Name, s.Owner)
	}

	grants, err := a.reader.SchemaGrants(ctx)
	if err != nil {
		a.fail(snap, catalog.CategorySchemaGrants, err)
		return
	}
	issues := 0
	for _, g := range grants {
		a.ensureSchema(snap, g.Schema, "").Grants.Add(g.Grantee, g.Privilege)
		a.classifyInto(snap, cctx, classify.Input{
			ObjectType: models.ObjectSchema,
			ObjectName: g.Schema,
			Grantee:    g.Grantee,
			Permission: g.Privilege,
		})
		issues++
	}
	a.observer.CategoryFinished(catalog.CategorySchemaGrants, issues)
}

func (a *Aggregator) auditFunctions(ctx context.Context, snap *models.AuditSnapshot, cctx *classify.Context) {
	a.observer.CategoryStarted(catalog.CategoryFunctionGrants)
	grants, err := a.reader.FunctionGrants(ctx)
	if err != nil {
		a.fail(snap, catalog.CategoryFunctionGrants, err)
		return
	}
	issues := 0
	for _, g := range grants {
		a.classifyInto(snap, cctx, classify.Input{
			ObjectType: models.ObjectFunction,
			ObjectName: g.Schema + "." + g.Function,
			Grantee:    g.Grantee,
			Permission: g.Privilege,
		})
		issues++
	}
	a.observer.CategoryFinished(catalog.CategoryFunctionGrants, issues)
}

func (a *Aggregator) auditDatabase(ctx context.Context, snap *models.AuditSnapshot, cctx *classify.Context) {
	a.observer.CategoryStarted(catalog.CategoryDatabaseGrants)
	grants, err := a.reader.DatabaseGrants(ctx)
	if err != nil {
		a.fail(snap, catalog.CategoryDatabaseGrants, err)
		return
	}
	issues := 0
	for _, g := range grants {
		if !g.CanCreate {
			continue
		}
		a.classifyInto(snap, cctx, classify.Input{
			ObjectType: models.ObjectDatabase,
			ObjectName: g.Database,
			Grantee:    g.Role,
			Permission: "CREATE",
		})
		issues++
	}
	a.observer.CategoryFinished(catalog.CategoryDatabaseGrants, issues)
}

func (a *Aggregator) auditRoles(ctx context.Context, snap *models.AuditSnapshot, cctx *classify.Context) {
	a.observer.CategoryStarted(catalog.CategoryRoleAttributes)
	roles, err := a.reader.RoleAttributes(ctx)
	if err != nil {
		a.fail(snap, catalog.CategoryRoleAttributes, err)
		return
	}
	issues := 0
	for _, r := range roles {
		_ = snap.AddRole(&models.Role{
			Name:          r.Name,
			IsSuperuser:   r.IsSuperuser,
			CanLogin:      r.CanLogin,
			CanCreateDB:   r.CanCreateDB,
			CanCreateRole: r.CanCreateRole,
			MemberOf:      r.MemberOf,
		})

		// Self-attribute checks use an empty grantee: the role itself is
		// the object. Bootstrap role exemption lives in the classifier.
		attrs := []struct {
			set  bool
			perm string
		}{
			{r.IsSuperuser, classify.PermSuperuser},
			{r.CanCreateRole, classify.PermCreateRole},
			{r.CanCreateDB, classify.PermCreateDB},
		}
		for _, attr := range attrs {
			if !attr.set {
				continue
			}
			a.classifyInto(snap, cctx, classify.Input{
				ObjectType: models.ObjectRole,
				ObjectName: r.Name,
				Permission: attr.perm,
			})
			issues++
		}
	}
	a.observer.CategoryFinished(catalog.CategoryRoleAttributes, issues)
}

func (a *Aggregator) ensureSchema(snap *models.AuditSnapshot, name, owner string) *models.SchemaEntity {
	if existing, ok := snap.Schemas[name]; ok {
		if owner != "" {
			existing.Owner = owner
		}
		return existing
	}
	entity := models.NewSchemaEntity(name, owner)
	_ = snap.AddSchema(entity)
	return entity
}

func (a *Aggregator) ensureTable(snap *models.AuditSnapshot, schema, name string) *models.TableEntity {
	key := schema + "." + name
	if existing, ok := snap.Tables[key]; ok {
		return existing
	}
	entity := models.NewTableEntity(schema, name, "")
	_ = snap.AddTable(entity)
	return entity
}
