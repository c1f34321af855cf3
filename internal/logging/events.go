package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

const maxLoggedSQL = 200

// finish logs a terminal event: at level with okMsg on success, at error with failMsg
// (and the error text) otherwise.
func (l *Logger) finish(fields logrus.Fields, err error, level logrus.Level, okMsg, failMsg string) {
	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error(failMsg)
		return
	}
	l.logger.WithFields(fields).Log(level, okMsg)
}

// LogDatabaseConnection records a connection attempt; host must not carry credentials
func (l *Logger) LogDatabaseConnection(driver, host, database string, success bool, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "database_connection",
		"driver":    driver,
		"host":      host,
		"database":  database,
		"duration":  duration.String(),
		"success":   success,
	}
	entry := l.logger.WithFields(fields)
	if success {
		entry.Info("Database connection established")
		return
	}
	if err != nil {
		entry = entry.WithField("error", err.Error())
	}
	entry.Error("Database connection failed")
}

// LogSQLExecution logs one statement, truncated, at debug level unless it failed
func (l *Logger) LogSQLExecution(sql string, duration time.Duration, rowsAffected int64, err error) {
	fields := logrus.Fields{
		"operation":     "sql_execution",
		"duration":      duration.String(),
		"rows_affected": rowsAffected,
		"sql":           sql,
	}
	if len(sql) > maxLoggedSQL {
		fields["sql"] = sql[:maxLoggedSQL] + "..."
		fields["sql_length"] = len(sql)
	}
	l.finish(fields, err, logrus.DebugLevel, "SQL executed", "SQL execution failed")
}

// LogDiscovery logs a catalog pass; any degraded object class raises it to a warning
func (l *Logger) LogDiscovery(namespace string, tableCount, warningCount int, duration time.Duration) {
	entry := l.logger.WithFields(logrus.Fields{
		"operation":   "catalog_discovery",
		"namespace":   namespace,
		"table_count": tableCount,
		"warnings":    warningCount,
		"duration":    duration.String(),
	})
	if warningCount == 0 {
		entry.Info("Catalog discovery completed")
		return
	}
	entry.Warn("Catalog discovery completed with warnings")
}

func (l *Logger) LogBackup(backupID, backupType, status string, tables int, records int64, duration time.Duration, err error) {
	l.finish(logrus.Fields{
		"operation":   "backup",
		"backup_id":   backupID,
		"backup_type": backupType,
		"status":      status,
		"tables":      tables,
		"records":     records,
		"duration":    duration.String(),
	}, err, logrus.InfoLevel, "Backup completed", "Backup failed")
}

func (l *Logger) LogRestore(restoreID, backupID, status string, tablesRestored int, recordsRestored int64, emergencyBackupID string, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation":        "restore",
		"restore_id":       restoreID,
		"backup_id":        backupID,
		"status":           status,
		"tables_restored":  tablesRestored,
		"records_restored": recordsRestored,
		"duration":         duration.String(),
	}
	if emergencyBackupID != "" {
		fields["emergency_backup_id"] = emergencyBackupID
	}
	l.finish(fields, err, logrus.InfoLevel, "Restore completed", "Restore failed")
}

// LogOperationStart logs operation at debug level and returns the function that logs its end
func (l *Logger) LogOperationStart(operation string, fields map[string]interface{}) func(error) {
	start := time.Now()
	base := logrus.Fields{"operation": operation}
	for k, v := range fields {
		base[k] = v
	}
	l.logger.WithFields(base).WithField("status", "started").Debug("Operation started")

	return func(err error) {
		done := logrus.Fields{
			"status":   "completed",
			"duration": time.Since(start).String(),
			"success":  err == nil,
		}
		for k, v := range base {
			done[k] = v
		}
		l.finish(done, err, logrus.DebugLevel, "Operation completed", "Operation failed")
	}
}
