// Package config loads pgauditor configuration from a YAML file with
// environment variable overrides. Secrets (PGPASSWORD) must only come from
// environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for pgauditor.
type Config struct {
	Database  DatabaseConfig `yaml:"database"`
	Audit     AuditConfig    `yaml:"audit"`
	Fix       FixConfig      `yaml:"fix"`
	Backup    BackupConfig   `yaml:"backup"`
	LogLevel  string         `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Templates string         `yaml:"templates" env:"TEMPLATES_FILE" env-default:""`
}

// DatabaseConfig holds connection settings for the audited database.
type DatabaseConfig struct {
	Host             string        `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port             int           `yaml:"port" env:"PGPORT" env-default:"5432"`
	User             string        `yaml:"user" env:"PGUSER" env-default:"postgres"`
	Password         string        `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database         string        `yaml:"database" env:"PGDATABASE" env-default:"postgres"`
	SSLMode          string        `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout" env:"PGCONNECT_TIMEOUT" env-default:"10s"`
	StatementTimeout time.Duration `yaml:"statement_timeout" env:"PGSTATEMENT_TIMEOUT" env-default:"30s"`
}

// AuditConfig holds audit behavior settings.
type AuditConfig struct {
	// BootstrapRole is the administrative bootstrap role exempt from role
	// self-attribute checks and from superuser demotion planning.
	BootstrapRole string `yaml:"bootstrap_role" env:"AUDIT_BOOTSTRAP_ROLE" env-default:"postgres"`
	// IncludeSafe keeps SAFE issues in reports. They are always retained in
	// the snapshot.
	IncludeSafe bool `yaml:"include_safe" env:"AUDIT_INCLUDE_SAFE" env-default:"false"`
}

// FixConfig holds fix execution settings.
type FixConfig struct {
	// ExportDir is where fix and rollback SQL scripts are written.
	ExportDir string `yaml:"export_dir" env:"FIX_EXPORT_DIR" env-default:"./fixes"`
	// SafetyBackup requests a permissions backup before applying changes.
	SafetyBackup bool `yaml:"safety_backup" env:"FIX_SAFETY_BACKUP" env-default:"true"`
}

// BackupConfig holds backup collaborator settings.
type BackupConfig struct {
	Dir         string        `yaml:"dir" env:"BACKUP_DIR" env-default:"./backups"`
	PgDumpPath  string        `yaml:"pg_dump_path" env:"PG_DUMP_PATH" env-default:"pg_dump"`
	PgRestore   string        `yaml:"pg_restore_path" env:"PG_RESTORE_PATH" env-default:"pg_restore"`
	PsqlPath    string        `yaml:"psql_path" env:"PSQL_PATH" env-default:"psql"`
	LedgerFile  string        `yaml:"ledger_file" env:"BACKUP_LEDGER_FILE" env-default:"backup_history.json"`
	DumpTimeout time.Duration `yaml:"dump_timeout" env:"BACKUP_DUMP_TIMEOUT" env-default:"10m"`
}

// Load reads configuration from the given YAML file with environment
// variable overrides. A missing file is not an error: configuration then
// comes from environment variables and defaults alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("read config from environment: %w", err)
		}
	}

	return cfg, nil
}

// ConnectionString returns a keyword/value conninfo string for the audited
// database.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
