// pgauditor audits PostgreSQL grant state, classifies findings by risk, and
// applies reversible remediation plans.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dbsentry/pgauditor/pkg/auditor"
	"github.com/dbsentry/pgauditor/pkg/backup"
	"github.com/dbsentry/pgauditor/pkg/config"
	"github.com/dbsentry/pgauditor/pkg/database"
	"github.com/dbsentry/pgauditor/pkg/fixes"
	"github.com/dbsentry/pgauditor/pkg/models"
	"github.com/dbsentry/pgauditor/pkg/report"
)

func main() {
	var (
		configPath  = flag.String("config", "config.yaml", "path to configuration file")
		mode        = flag.String("mode", "audit", "audit, fix, backup, or restore")
		policy      = flag.String("policy", "remove_dangerous", "fix policy: remove_dangerous, apply_template, restrict_public")
		template    = flag.String("template", "", "permission template for apply_template")
		roles       = flag.String("roles", "", "comma-separated role filter")
		riskFilter  = flag.String("risk", "", "comma-separated risk levels to report (high,medium,low,safe)")
		jsonPath    = flag.String("json", "", "write the audit report as JSON to this path")
		includeSafe = flag.Bool("include-safe", false, "include safe findings in reports")
		dryRun      = flag.Bool("dry-run", false, "log planned statements without executing")
		exportOnly  = flag.Bool("export-only", false, "write fix and rollback scripts without applying")
		interactive = flag.Bool("interactive", false, "prompt to continue or abort on a failed statement")
		backupKind  = flag.String("backup-kind", "full", "backup kind: full or schema")
		backupID    = flag.String("backup-id", "", "backup id for restore")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, runOptions{
		mode:        *mode,
		policy:      fixes.Policy(*policy),
		template:    *template,
		roles:       splitList(*roles),
		riskFilter:  *riskFilter,
		jsonPath:    *jsonPath,
		includeSafe: *includeSafe || cfg.Audit.IncludeSafe,
		dryRun:      *dryRun,
		exportOnly:  *exportOnly,
		interactive: *interactive,
		backupKind:  models.BackupKind(*backupKind),
		backupID:    *backupID,
	}); err != nil {
		logger.Error("run failed", zap.Error(err))
		os.Exit(1)
	}
}

type runOptions struct {
	mode        string
	policy      fixes.Policy
	template    string
	roles       []string
	riskFilter  string
	jsonPath    string
	includeSafe bool
	dryRun      bool
	exportOnly  bool
	interactive bool
	backupKind  models.BackupKind
	backupID    string
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts runOptions) error {
	switch opts.mode {
	case "backup":
		if !opts.backupKind.Valid() {
			return fmt.Errorf("unknown backup kind %q", opts.backupKind)
		}
		mgr := backup.NewManager(cfg.Backup, cfg.Database, logger)
		record, err := mgr.Create(ctx, opts.backupKind)
		if err != nil {
			return err
		}
		fmt.Printf("backup %s written to %s\n", record.ID, record.Path)
		return nil
	case "restore":
		if opts.backupID == "" {
			return fmt.Errorf("restore requires -backup-id")
		}
		mgr := backup.NewManager(cfg.Backup, cfg.Database, logger)
		return mgr.Restore(ctx, opts.backupID)
	}

	sess, err := database.Connect(ctx, &database.Config{
		URL:              cfg.Database.ConnectionString(),
		ConnectTimeout:   cfg.Database.ConnectTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		return err
	}
	defer sess.Close(context.Background()) //nolint:errcheck

	levels, err := parseRiskFilter(opts.riskFilter)
	if err != nil {
		return err
	}

	agg := auditor.New(sess, logger, nil, auditor.Options{
		BootstrapRole: cfg.Audit.BootstrapRole,
		RiskFilter:    levels,
	})
	snap, err := agg.Run(ctx)
	if err != nil {
		return err
	}

	switch opts.mode {
	case "audit":
		if err := report.WriteSummary(os.Stdout, snap, opts.includeSafe); err != nil {
			return err
		}
		if opts.jsonPath != "" {
			if err := report.WriteJSON(opts.jsonPath, snap, opts.includeSafe); err != nil {
				return err
			}
			fmt.Printf("report written to %s\n", opts.jsonPath)
		}
		return nil

	case "fix":
		return runFix(ctx, cfg, logger, sess, snap, opts)
	}

	return fmt.Errorf("unknown mode %q", opts.mode)
}

func runFix(ctx context.Context, cfg *config.Config, logger *zap.Logger, sess database.Session, snap *models.AuditSnapshot, opts runOptions) error {
	templates := models.BuiltinTemplates()
	if cfg.Templates != "" {
		var err error
		templates, err = models.LoadTemplates(cfg.Templates)
		if err != nil {
			return err
		}
	}

	planner := fixes.NewPlanner(templates, cfg.Audit.BootstrapRole, logger)
	plan, err := planner.Plan(snap, fixes.PlanRequest{
		Policy:   opts.policy,
		Template: opts.template,
		Roles:    opts.roles,
	})
	if err != nil {
		return err
	}
	if err := report.WritePlan(os.Stdout, plan); err != nil {
		return err
	}

	fixPath, rollbackPath, err := fixes.ExportScripts(cfg.Fix.ExportDir, snap.Database, plan, time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("scripts written: %s, %s\n", fixPath, rollbackPath)

	if opts.exportOnly {
		return nil
	}

	if cfg.Fix.SafetyBackup && !opts.dryRun {
		mgr := backup.NewManager(cfg.Backup, cfg.Database, logger)
		record, err := mgr.SnapshotPermissions(snap)
		if err != nil {
			return fmt.Errorf("safety backup: %w", err)
		}
		fmt.Printf("safety backup %s written to %s\n", record.ID, record.Path)
	}

	executor := fixes.NewExecutor(sess, logger)
	outcome, err := executor.Apply(ctx, plan, fixes.ApplyOptions{
		DryRun:      opts.dryRun,
		Interactive: opts.interactive,
		Decider:     stdinDecider{},
		Progress: func(i, total int, change models.PermissionChange) {
			fmt.Printf("[%d/%d] %s\n", i+1, total, change.Description)
		},
	})
	if outcome != nil {
		if werr := report.WriteOutcome(os.Stdout, outcome); werr != nil {
			return werr
		}
	}
	return err
}

// stdinDecider asks the operator whether to keep going after a failed
// statement.
type stdinDecider struct{}

func (stdinDecider) ContinueAfterError(index int, change models.PermissionChange, err error) bool {
	fmt.Printf("statement %d failed: %v\ncontinue with remaining changes? [y/N] ", index+1, err)
	reader := bufio.NewReader(os.Stdin)
	line, readErr := reader.ReadString('\n')
	if readErr != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// parseRiskFilter maps a comma-separated level list to a snapshot filter.
// "all" (or an empty string) means no filtering.
func parseRiskFilter(s string) ([]models.RiskLevel, error) {
	var levels []models.RiskLevel
	for _, name := range splitList(s) {
		if strings.EqualFold(name, "all") {
			return nil, nil
		}
		level, err := models.ParseRiskLevel(name)
		if err != nil {
			return nil, err
		}
		levels = append(levels, level)
	}
	return levels, nil
}
