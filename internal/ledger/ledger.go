// Package ledger persists backup records and restore operations in the database being
// protected. Records are only ever inserted and moved forward through their status; nothing
// is deleted.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"dbvault/internal/backup"
	"dbvault/internal/database"
	"dbvault/internal/logging"

	"github.com/jmoiron/sqlx"
)

const (
	DefaultBackupsTable  = "dbvault_backups"
	DefaultRestoresTable = "dbvault_restores"
)

// Config names the ledger tables
type Config struct {
	Namespace     string `mapstructure:"namespace" yaml:"namespace,omitempty"`
	BackupsTable  string `mapstructure:"backups_table" yaml:"backups_table"`
	RestoresTable string `mapstructure:"restores_table" yaml:"restores_table"`
}

// SetDefaults fills the default table names
func (c *Config) SetDefaults() {
	if c.BackupsTable == "" {
		c.BackupsTable = DefaultBackupsTable
	}
	if c.RestoresTable == "" {
		c.RestoresTable = DefaultRestoresTable
	}
}

// Validate rejects identical table names
func (c *Config) Validate() error {
	var errs backup.ValidationErrors
	if c.BackupsTable == "" {
		errs.Add("ledger.backups_table", "backups table name is required", nil)
	}
	if c.RestoresTable == "" {
		errs.Add("ledger.restores_table", "restores table name is required", nil)
	}
	if c.BackupsTable != "" && c.BackupsTable == c.RestoresTable {
		errs.Add("ledger.restores_table", "restores table must differ from backups table", c.RestoresTable)
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Ledger is the sqlx-backed operation ledger
type Ledger struct {
	db       *sqlx.DB
	dialect  database.Dialect
	backups  string
	restores string
	logger   *logging.Logger
}

// New wraps an open connection. Queries are written with ? placeholders and rebound for
// the dialect's driver.
func New(db *sql.DB, dialect database.Dialect, config Config, logger *logging.Logger) *Ledger {
	config.SetDefaults()
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Ledger{
		db:       sqlx.NewDb(db, dialect.DriverName()),
		dialect:  dialect,
		backups:  qualify(dialect, config.Namespace, config.BackupsTable),
		restores: qualify(dialect, config.Namespace, config.RestoresTable),
		logger:   logger,
	}
}

func qualify(dialect database.Dialect, namespace, table string) string {
	if namespace == "" {
		return dialect.QuoteIdentifier(table)
	}
	return dialect.QuoteIdentifier(namespace, table)
}

// EnsureSchema creates the ledger tables when missing
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(l.dialect, l.backups, l.restores) {
		start := time.Now()
		_, err := l.db.ExecContext(ctx, stmt)
		l.logger.LogSQLExecution(stmt, time.Since(start), 0, err)
		if err != nil {
			return fmt.Errorf("failed to create ledger schema: %w", err)
		}
	}
	return nil
}

func (l *Ledger) exec(ctx context.Context, query string, args ...any) (int64, error) {
	query = l.db.Rebind(query)
	start := time.Now()
	result, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		l.logger.LogSQLExecution(query, time.Since(start), 0, err)
		return 0, err
	}
	affected, err := result.RowsAffected()
	l.logger.LogSQLExecution(query, time.Since(start), affected, err)
	return affected, err
}
