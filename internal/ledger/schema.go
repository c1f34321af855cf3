package ledger

import (
	"fmt"
	"strings"

	"dbvault/internal/database"
)

const backupsColumns = `
	id VARCHAR(128) NOT NULL PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	backup_type VARCHAR(32) NOT NULL,
	scope VARCHAR(32) NOT NULL,
	status VARCHAR(32) NOT NULL,
	table_count INTEGER NOT NULL DEFAULT 0,
	record_count BIGINT NOT NULL DEFAULT 0,
	trigger_count INTEGER NOT NULL DEFAULT 0,
	index_count INTEGER NOT NULL DEFAULT 0,
	policy_count INTEGER NOT NULL DEFAULT 0,
	function_count INTEGER NOT NULL DEFAULT 0,
	enum_type_count INTEGER NOT NULL DEFAULT 0,
	view_count INTEGER NOT NULL DEFAULT 0,
	protected_tables TEXT NOT NULL,
	notes TEXT NOT NULL,
	error_message TEXT NOT NULL,
	created_by VARCHAR(255) NOT NULL,
	artifact_location TEXT NOT NULL,
	execution_time_ms BIGINT NOT NULL DEFAULT 0,
	created_at %[1]s NOT NULL,
	updated_at %[1]s NOT NULL`

const restoresColumns = `
	id VARCHAR(128) NOT NULL PRIMARY KEY,
	backup_id VARCHAR(128) NOT NULL,
	emergency_backup_id VARCHAR(128) NULL,
	name VARCHAR(255) NOT NULL,
	backup_type VARCHAR(32) NOT NULL,
	status VARCHAR(32) NOT NULL,
	forced BOOLEAN NOT NULL DEFAULT FALSE,
	rollback_of VARCHAR(128) NULL,
	tables_restored INTEGER NOT NULL DEFAULT 0,
	records_restored BIGINT NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL,
	created_at %[1]s NOT NULL,
	updated_at %[1]s NOT NULL,
	completed_at %[1]s NULL`

// schemaStatements returns the DDL for both ledger tables. MySQL has no CREATE INDEX IF NOT
// EXISTS, so its indexes are declared inline.
func schemaStatements(dialect database.Dialect, backups, restores string) []string {
	ts := dialect.TimestampType()
	backupCols := fmt.Sprintf(backupsColumns, ts)
	restoreCols := fmt.Sprintf(restoresColumns, ts)

	if dialect.Name() == database.DriverMySQL {
		return []string{
			fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s,\n\tKEY idx_created_at (created_at)\n)", backups, backupCols),
			fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s,\n\tKEY idx_backup_id (backup_id),\n\tKEY idx_created_at (created_at)\n)", restores, restoreCols),
		}
	}

	return []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s\n)", backups, backupCols),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s\n)", restores, restoreCols),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (created_at)", indexName(backups, "created_at"), backups),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (backup_id)", indexName(restores, "backup_id"), restores),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (created_at)", indexName(restores, "created_at"), restores),
	}
}

// indexName derives an unqualified index name from a quoted, possibly qualified table name
func indexName(quotedTable, column string) string {
	parts := strings.Split(quotedTable, ".")
	table := strings.Trim(parts[len(parts)-1], `"`+"`")
	return fmt.Sprintf(`"idx_%s_%s"`, table, column)
}
