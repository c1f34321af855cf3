package database

import (
	"context"
	"database/sql"
	"time"

	"dbvault/internal/errors"
	"dbvault/internal/logging"

	_ "github.com/go-sql-driver/mysql" // registers "mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
)

// Querier is the subset of *sql.DB and *sql.Tx used for reads
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Opener opens a connection pool; sql.Open by default
type Opener func(driverName, dsn string) (*sql.DB, error)

// Service opens and probes the target database
type Service struct {
	connectionTimeout time.Duration
	maxRetries        int
	retryDelay        time.Duration
	logger            *logging.Logger
	open              Opener
}

// Option configures a Service
type Option func(*Service)

func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithTimeout bounds each connection attempt and probe
func WithTimeout(timeout time.Duration) Option {
	return func(s *Service) { s.connectionTimeout = timeout }
}

// WithRetry sets the connection attempts and the first backoff delay
func WithRetry(attempts int, delay time.Duration) Option {
	return func(s *Service) {
		s.maxRetries = attempts
		s.retryDelay = delay
	}
}

func WithOpener(open Opener) Option {
	return func(s *Service) { s.open = open }
}

func NewService(opts ...Option) *Service {
	s := &Service{
		connectionTimeout: 30 * time.Second,
		maxRetries:        3,
		retryDelay:        2 * time.Second,
		open:              sql.Open,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.NewDefaultLogger()
	}
	return s
}

func (s *Service) retryHandler() *errors.RetryHandler {
	return errors.NewRetryHandler(errors.RetryConfig{
		MaxAttempts: s.maxRetries,
		BaseDelay:   s.retryDelay,
		MaxDelay:    30 * time.Second,
		Multiplier:  2,
	})
}

// Connect opens a pool for config and pings it, retrying recoverable failures with backoff.
// The whole sequence is bounded by the per-attempt timeout times the attempt count.
func (s *Service) Connect(ctx context.Context, config DatabaseConfig) (*sql.DB, error) {
	dialect, err := DialectFor(config.Driver)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrorTypeValidation, err.Error(), err)
	}

	timeout := s.connectionTimeout
	if config.Timeout > 0 {
		timeout = config.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout*time.Duration(max(s.maxRetries, 1)))
	defer cancel()

	s.logger.WithFields(map[string]interface{}{
		"driver":   config.Driver,
		"host":     config.Host,
		"port":     config.Port,
		"database": config.Database,
	}).Info("Connecting to database")

	start := time.Now()
	var db *sql.DB
	err = s.retryHandler().Retry(ctx, func() error {
		candidate, err := s.open(dialect.DriverName(), config.DSN())
		if err != nil {
			return errors.WrapError(err, "failed to open database connection")
		}
		configurePool(candidate, config)

		if err := s.TestConnection(ctx, candidate); err != nil {
			candidate.Close()
			return err
		}
		db = candidate
		return nil
	})

	s.logger.LogDatabaseConnection(config.Driver, config.Host, config.Database, err == nil, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func configurePool(db *sql.DB, config DatabaseConfig) {
	maxOpen, maxIdle, lifetime := config.MaxOpenConns, config.MaxIdleConns, config.ConnMaxLifetime
	if maxOpen <= 0 {
		maxOpen = 10
	}
	if maxIdle <= 0 {
		maxIdle = 5
	}
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)
}

// TestConnection pings db within the connection timeout
func (s *Service) TestConnection(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.NewAppError(errors.ErrorTypeValidation, "database connection is nil", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, s.connectionTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return errors.WrapError(err, "failed to ping database")
	}
	return nil
}

// Close closes db; a nil db is a no-op
func (s *Service) Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		s.logger.WithField("error", err.Error()).Error("Failed to close database connection")
		return errors.WrapError(err, "failed to close database connection")
	}
	s.logger.Debug("Database connection closed")
	return nil
}

// GetVersion returns the raw server version string
func (s *Service) GetVersion(ctx context.Context, db *sql.DB, dialect Dialect) (string, error) {
	if db == nil {
		return "", errors.NewAppError(errors.ErrorTypeValidation, "database connection is nil", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, s.connectionTimeout)
	defer cancel()

	query := dialect.VersionQuery()
	start := time.Now()
	var version string
	err := db.QueryRowContext(ctx, query).Scan(&version)
	s.logger.LogSQLExecution(query, time.Since(start), 1, err)
	if err != nil {
		return "", errors.WrapError(err, "failed to get database version")
	}
	return version, nil
}
