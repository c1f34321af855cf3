package database

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"testing"
	"time"

	"dbvault/internal/logging"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestNewService(t *testing.T) {
	service := NewService()
	if service.connectionTimeout != 30*time.Second {
		t.Errorf("Expected default timeout to be 30s, got %v", service.connectionTimeout)
	}
	if service.maxRetries != 3 {
		t.Errorf("Expected default max retries to be 3, got %d", service.maxRetries)
	}
	if service.logger == nil || service.open == nil {
		t.Error("Expected default logger and opener")
	}
}

func TestNewService_Options(t *testing.T) {
	logger := logging.NewNopLogger()
	service := NewService(WithLogger(logger), WithTimeout(10*time.Second), WithRetry(5, time.Second))

	if service.connectionTimeout != 10*time.Second {
		t.Errorf("Expected timeout to be 10s, got %v", service.connectionTimeout)
	}
	if service.maxRetries != 5 {
		t.Errorf("Expected max retries to be 5, got %d", service.maxRetries)
	}
	if service.retryDelay != time.Second {
		t.Errorf("Expected retry delay to be 1s, got %v", service.retryDelay)
	}
	if service.logger != logger {
		t.Error("Expected custom logger to be set")
	}
}

func TestConnect_RetriesRefusedConnection(t *testing.T) {
	refused, refusedMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	refusedMock.ExpectPing().WillReturnError(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")})
	refusedMock.ExpectClose()

	healthy, healthyMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer healthy.Close()
	healthyMock.ExpectPing()

	pools := []*sql.DB{refused, healthy}
	var drivers []string
	service := NewService(
		WithLogger(logging.NewNopLogger()),
		WithRetry(3, time.Millisecond),
		WithOpener(func(driverName, dsn string) (*sql.DB, error) {
			drivers = append(drivers, driverName)
			db := pools[0]
			pools = pools[1:]
			return db, nil
		}),
	)

	db, err := service.Connect(context.Background(), DatabaseConfig{Driver: DriverPostgres, Host: "localhost", Port: 5432, Database: "app"})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if db != healthy {
		t.Error("Expected the second pool to be returned")
	}
	if len(drivers) != 2 || drivers[0] != "pgx" {
		t.Errorf("Expected two pgx opens, got %v", drivers)
	}
	if err := refusedMock.ExpectationsWereMet(); err != nil {
		t.Errorf("refused pool: %v", err)
	}
	if err := healthyMock.ExpectationsWereMet(); err != nil {
		t.Errorf("healthy pool: %v", err)
	}
}

func TestConnect_PermanentFailureIsNotRetried(t *testing.T) {
	opens := 0
	service := NewService(
		WithLogger(logging.NewNopLogger()),
		WithRetry(3, time.Millisecond),
		WithOpener(func(string, string) (*sql.DB, error) {
			opens++
			return nil, errors.New("invalid dsn")
		}),
	)

	if _, err := service.Connect(context.Background(), DatabaseConfig{Driver: DriverMySQL, Host: "localhost", Database: "app"}); err == nil {
		t.Fatal("Expected open failure to surface")
	}
	if opens != 1 {
		t.Errorf("Expected a single attempt, got %d", opens)
	}
}

func TestConnect_UnsupportedDriver(t *testing.T) {
	service := NewService(WithLogger(logging.NewNopLogger()))

	_, err := service.Connect(context.Background(), DatabaseConfig{Driver: "oracle", Host: "localhost"})
	if err == nil {
		t.Fatal("Expected error for unsupported driver")
	}
}

func TestTestConnection(t *testing.T) {
	service := NewService(WithLogger(logging.NewNopLogger()))

	if err := service.TestConnection(context.Background(), nil); err == nil {
		t.Error("Expected error for nil connection")
	}

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectPing()
	if err := service.TestConnection(context.Background(), db); err != nil {
		t.Errorf("TestConnection() error = %v", err)
	}

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	if err := service.TestConnection(context.Background(), db); err == nil {
		t.Error("Expected ping failure to surface")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetVersion(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		query   string
		version string
	}{
		{"postgres", Postgres{}, "SHOW server_version", "16.2 (Debian 16.2-1.pgdg120+2)"},
		{"mysql", MySQL{}, `SELECT VERSION\(\)`, "8.0.36"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("sqlmock.New() error = %v", err)
			}
			defer db.Close()

			mock.ExpectQuery(tt.query).
				WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(tt.version))

			service := NewService(WithLogger(logging.NewNopLogger()))
			got, err := service.GetVersion(context.Background(), db, tt.dialect)
			if err != nil {
				t.Fatalf("GetVersion() error = %v", err)
			}
			if got != tt.version {
				t.Errorf("GetVersion() = %q, want %q", got, tt.version)
			}
		})
	}
}

func TestClose(t *testing.T) {
	service := NewService(WithLogger(logging.NewNopLogger()))
	if err := service.Close(nil); err != nil {
		t.Errorf("Close(nil) error = %v", err)
	}

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	mock.ExpectClose()
	if err := service.Close(db); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
