// Package config loads the dbvault configuration from a YAML file, a .env file and
// DBVAULT_* environment variables, in that order of increasing precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"dbvault/internal/backup"
	"dbvault/internal/database"
	"dbvault/internal/display"
	"dbvault/internal/ledger"
	"dbvault/internal/logging"
)

// Config is the complete dbvault configuration
type Config struct {
	Database    database.DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Engine      EngineConfig             `mapstructure:"engine" yaml:"engine"`
	Storage     backup.StorageConfig     `mapstructure:"storage" yaml:"storage"`
	Compression backup.CompressionConfig `mapstructure:"compression" yaml:"compression"`
	Encryption  backup.EncryptionConfig  `mapstructure:"encryption" yaml:"encryption"`
	Ledger      ledger.Config            `mapstructure:"ledger" yaml:"ledger"`
	Logging     LoggingConfig            `mapstructure:"logging" yaml:"logging"`
	Server      ServerConfig             `mapstructure:"server" yaml:"server"`
	Display     display.DisplayConfig    `mapstructure:"display" yaml:"display"`
}

// EngineConfig bounds backups and restores
type EngineConfig struct {
	// CriticalTables are the only tables schema_only backups and restores touch
	CriticalTables []string `mapstructure:"critical_tables" yaml:"critical_tables"`
	// RowCap limits rows captured per table; 0 captures everything
	RowCap int `mapstructure:"row_cap" yaml:"row_cap"`
	// ExcludedPrefixes hides tables from discovery. The ledger tables are always excluded.
	ExcludedPrefixes    []string      `mapstructure:"excluded_prefixes" yaml:"excluded_prefixes"`
	QueryTimeout        time.Duration `mapstructure:"query_timeout" yaml:"query_timeout"`
	TableTimeout        time.Duration `mapstructure:"table_timeout" yaml:"table_timeout"`
	OperationTimeout    time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`
	FinalizeTimeout     time.Duration `mapstructure:"finalize_timeout" yaml:"finalize_timeout"`
	MaxRowsPerStatement int           `mapstructure:"max_rows_per_statement" yaml:"max_rows_per_statement"`
	CreatedBy           string        `mapstructure:"created_by" yaml:"created_by,omitempty"`
}

// LoggingConfig selects level, format and destination of the logger
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file,omitempty"`
	ShowCaller bool   `mapstructure:"show_caller" yaml:"show_caller"`
}

// ServerConfig configures `dbvault serve`
type ServerConfig struct {
	Address         string        `mapstructure:"address" yaml:"address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

const (
	DefaultRowCap              = 10000
	DefaultMaxRowsPerStatement = 500
	DefaultServerAddress       = "127.0.0.1:8080"
)

// Default returns a configuration with every default applied and no database target
func Default() *Config {
	c := newConfig()
	c.SetDefaults()
	return c
}

// newConfig carries the defaults whose zero value is meaningful. SetDefaults cannot fill
// them because an explicit zero must survive.
func newConfig() *Config {
	return &Config{Engine: EngineConfig{RowCap: DefaultRowCap}}
}

// SetDefaults fills every unset field
func (c *Config) SetDefaults() {
	c.Database.SetDefaults()
	c.Engine.SetDefaults()
	c.Storage.SetDefaults()
	c.Compression.SetDefaults()
	c.Encryption.SetDefaults()
	c.Ledger.SetDefaults()
	c.Logging.SetDefaults()
	c.Server.SetDefaults()
	c.Display.SetDefaults()
}

// SetDefaults fills the engine defaults. RowCap is left alone since 0 means unbounded.
func (e *EngineConfig) SetDefaults() {
	if e.CriticalTables == nil {
		e.CriticalTables = append([]string(nil), backup.DefaultCriticalTables...)
	}
	if e.QueryTimeout == 0 {
		e.QueryTimeout = 30 * time.Second
	}
	if e.TableTimeout == 0 {
		e.TableTimeout = 5 * time.Minute
	}
	if e.OperationTimeout == 0 {
		e.OperationTimeout = 30 * time.Minute
	}
	if e.FinalizeTimeout == 0 {
		e.FinalizeTimeout = 30 * time.Second
	}
	if e.MaxRowsPerStatement == 0 {
		e.MaxRowsPerStatement = DefaultMaxRowsPerStatement
	}
}

// Validate checks the engine bounds
func (e *EngineConfig) Validate() error {
	var errs backup.ValidationErrors
	if e.RowCap < 0 {
		errs.Add("engine.row_cap", "row cap cannot be negative; use 0 for no cap", e.RowCap)
	}
	for _, t := range e.CriticalTables {
		if strings.TrimSpace(t) == "" {
			errs.Add("engine.critical_tables", "critical table names cannot be blank", t)
		}
	}
	if e.TableTimeout < 0 || e.OperationTimeout < 0 || e.QueryTimeout < 0 || e.FinalizeTimeout < 0 {
		errs.Add("engine", "timeouts cannot be negative", nil)
	}
	if e.MaxRowsPerStatement < 0 {
		errs.Add("engine.max_rows_per_statement", "cannot be negative", e.MaxRowsPerStatement)
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// SetDefaults fills the logging defaults
func (l *LoggingConfig) SetDefaults() {
	if l.Level == "" {
		l.Level = string(logging.LogLevelNormal)
	}
	if l.Format == "" {
		l.Format = "text"
	}
}

// Validate checks the level and format names
func (l *LoggingConfig) Validate() error {
	var errs backup.ValidationErrors
	switch logging.LogLevel(l.Level) {
	case logging.LogLevelQuiet, logging.LogLevelNormal, logging.LogLevelVerbose, logging.LogLevelDebug:
	default:
		errs.Add("logging.level", "must be one of quiet, normal, verbose, debug", l.Level)
	}
	if l.Format != "text" && l.Format != "json" {
		errs.Add("logging.format", "must be text or json", l.Format)
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// LoggerConfig converts the section into a logger configuration
func (l *LoggingConfig) LoggerConfig() logging.Config {
	return logging.Config{
		Level:      logging.LogLevel(l.Level),
		Format:     l.Format,
		LogFile:    l.File,
		ShowCaller: l.ShowCaller,
	}
}

// SetDefaults fills the server defaults
func (s *ServerConfig) SetDefaults() {
	if s.Address == "" {
		s.Address = DefaultServerAddress
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 30 * time.Second
	}
	// restores can run for the whole operation timeout
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 35 * time.Minute
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 30 * time.Second
	}
}

// ExcludedPrefixes returns the configured prefixes plus the ledger table names, so the
// ledger is never captured or restored as user data
func (c *Config) ExcludedPrefixes() []string {
	prefixes := append([]string(nil), c.Engine.ExcludedPrefixes...)
	return append(prefixes, c.Ledger.BackupsTable, c.Ledger.RestoresTable)
}

// Namespace is the catalog namespace of the target database
func (c *Config) Namespace() string {
	return c.Database.Namespace()
}

// Validate checks every section and reports all problems at once
func (c *Config) Validate() error {
	var errs []string
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	collect(c.Database.Validate())
	collect(c.Engine.Validate())
	collect(c.Storage.Validate())
	collect(c.Compression.Validate())
	collect(c.Encryption.Validate())
	collect(c.Ledger.Validate())
	collect(c.Logging.Validate())
	collect(c.Display.Validate())

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Redacted returns a copy with secrets masked, for `dbvault config show`
func (c Config) Redacted() Config {
	c.Database = c.Database.Redacted()
	if c.Storage.S3 != nil && c.Storage.S3.SecretKey != "" {
		s3 := *c.Storage.S3
		s3.SecretKey = "********"
		c.Storage.S3 = &s3
	}
	if c.Storage.Azure != nil && c.Storage.Azure.AccountKey != "" {
		az := *c.Storage.Azure
		az.AccountKey = "********"
		c.Storage.Azure = &az
	}
	return c
}
