package database

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Dialect captures the SQL differences between supported servers.
type Dialect interface {
	// Name is the configuration name of the dialect ("postgres" or "mysql")
	Name() string
	// DriverName is the database/sql driver name
	DriverName() string
	// QuoteIdentifier quotes a possibly qualified identifier
	QuoteIdentifier(parts ...string) string
	// Placeholder returns the bind placeholder for the n-th (1-based) argument
	Placeholder(n int) string
	// QuoteString renders a string literal for SQL text output
	QuoteString(s string) string
	// VersionQuery returns the statement reporting the server version
	VersionQuery() string
	// TimestampType is the column type used for ledger timestamps
	TimestampType() string
	// MaxBindParameters is the server limit on bind parameters per statement
	MaxBindParameters() int
}

// DialectFor returns the dialect for a configured driver
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case DriverPostgres, "pgx", "postgresql":
		return Postgres{}, nil
	case DriverMySQL:
		return MySQL{}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Postgres is the PostgreSQL dialect
type Postgres struct{}

func (Postgres) Name() string       { return DriverPostgres }
func (Postgres) DriverName() string { return "pgx" }

func (Postgres) QuoteIdentifier(parts ...string) string {
	return pgx.Identifier(parts).Sanitize()
}

func (Postgres) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (Postgres) QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (Postgres) VersionQuery() string   { return "SHOW server_version" }
func (Postgres) TimestampType() string  { return "TIMESTAMPTZ" }
func (Postgres) MaxBindParameters() int { return 65535 }

// MySQL is the MySQL dialect
type MySQL struct{}

func (MySQL) Name() string       { return DriverMySQL }
func (MySQL) DriverName() string { return "mysql" }

func (MySQL) QuoteIdentifier(parts ...string) string {
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = "`" + strings.ReplaceAll(p, "`", "``") + "`"
	}
	return strings.Join(quoted, ".")
}

func (MySQL) Placeholder(int) string { return "?" }

func (MySQL) QuoteString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (MySQL) VersionQuery() string   { return "SELECT VERSION()" }
func (MySQL) TimestampType() string  { return "DATETIME(6)" }
func (MySQL) MaxBindParameters() int { return 65535 }
