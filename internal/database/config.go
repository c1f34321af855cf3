package database

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

const (
	// DriverPostgres selects PostgreSQL through pgx's database/sql driver
	DriverPostgres = "postgres"
	// DriverMySQL selects MySQL through go-sql-driver/mysql
	DriverMySQL = "mysql"
)

// DatabaseConfig holds the configuration parameters for database connection
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" yaml:"driver"`
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	Username        string        `mapstructure:"username" yaml:"username"`
	Password        string        `mapstructure:"password" yaml:"password"`
	Database        string        `mapstructure:"database" yaml:"database"`
	Schema          string        `mapstructure:"schema" yaml:"schema"`
	SSLMode         string        `mapstructure:"ssl_mode" yaml:"ssl_mode"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// SetDefaults fills unset fields with driver-appropriate defaults
func (dc *DatabaseConfig) SetDefaults() {
	if dc.Driver == "" {
		dc.Driver = DriverPostgres
	}
	if dc.Port == 0 {
		if dc.Driver == DriverMySQL {
			dc.Port = 3306
		} else {
			dc.Port = 5432
		}
	}
	if dc.Schema == "" && dc.Driver == DriverPostgres {
		dc.Schema = "public"
	}
	if dc.SSLMode == "" && dc.Driver == DriverPostgres {
		dc.SSLMode = "prefer"
	}
	if dc.Timeout == 0 {
		dc.Timeout = 30 * time.Second
	}
	if dc.MaxOpenConns == 0 {
		dc.MaxOpenConns = 10
	}
	if dc.MaxIdleConns == 0 {
		dc.MaxIdleConns = 5
	}
	if dc.ConnMaxLifetime == 0 {
		dc.ConnMaxLifetime = 5 * time.Minute
	}
}

// Validate checks if the database configuration has all required parameters
func (dc *DatabaseConfig) Validate() error {
	var errs []error

	if dc.Driver != DriverPostgres && dc.Driver != DriverMySQL {
		errs = append(errs, fmt.Errorf("driver must be %q or %q", DriverPostgres, DriverMySQL))
	}

	if dc.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}

	if dc.Port <= 0 || dc.Port > 65535 {
		errs = append(errs, errors.New("port must be between 1 and 65535"))
	}

	if dc.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}

	if dc.Database == "" {
		errs = append(errs, errors.New("database name is required"))
	}

	if dc.Timeout <= 0 {
		dc.Timeout = 30 * time.Second
	}

	if len(errs) > 0 {
		return fmt.Errorf("database configuration validation failed: %v", errors.Join(errs...))
	}

	return nil
}

// Namespace returns the catalog namespace discovery runs against:
// the schema for PostgreSQL, the database itself for MySQL.
func (dc *DatabaseConfig) Namespace() string {
	if dc.Driver == DriverMySQL {
		return dc.Database
	}
	if dc.Schema == "" {
		return "public"
	}
	return dc.Schema
}

// Address returns host:port
func (dc *DatabaseConfig) Address() string {
	return net.JoinHostPort(dc.Host, strconv.Itoa(dc.Port))
}

// DSN returns the Data Source Name for the configured driver
func (dc *DatabaseConfig) DSN() string {
	if dc.Driver == DriverMySQL {
		return dc.mysqlDSN()
	}
	return dc.postgresDSN()
}

func (dc *DatabaseConfig) mysqlDSN() string {
	cfg := mysql.NewConfig()
	cfg.User = dc.Username
	cfg.Passwd = dc.Password
	cfg.Net = "tcp"
	cfg.Addr = dc.Address()
	cfg.DBName = dc.Database
	cfg.Timeout = dc.Timeout
	cfg.ParseTime = true
	cfg.MultiStatements = false
	return cfg.FormatDSN()
}

func (dc *DatabaseConfig) postgresDSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(dc.Username, dc.Password),
		Host:   dc.Address(),
		Path:   "/" + dc.Database,
	}

	q := url.Values{}
	if dc.SSLMode != "" {
		q.Set("sslmode", dc.SSLMode)
	}
	if dc.Timeout > 0 {
		secs := int(dc.Timeout / time.Second)
		if secs < 1 {
			secs = 1
		}
		q.Set("connect_timeout", strconv.Itoa(secs))
	}
	if dc.Schema != "" && !strings.EqualFold(dc.Schema, "public") {
		q.Set("search_path", dc.Schema)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Redacted returns a copy safe for logging and display
func (dc DatabaseConfig) Redacted() DatabaseConfig {
	if dc.Password != "" {
		dc.Password = "********"
	}
	return dc
}
