package config

import (
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbvault/internal/backup"
	"dbvault/internal/database"
)

const configPath = "/etc/dbvault/config.yaml"

const minimalYAML = `database:
  driver: postgres
  host: db.internal
  username: vault
  database: app
engine:
  row_cap: 250
  table_timeout: 2m
  critical_tables:
    - users
storage:
  provider: local
  local:
    base_path: /var/lib/dbvault
    permissions: "0700"
`

func memFsWith(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for path, content := range files {
		require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0644))
	}
	return fs
}

func TestLoader_LoadFromFile(t *testing.T) {
	fs := memFsWith(t, map[string]string{configPath: minimalYAML})

	cfg, err := NewLoaderWithFs(fs).Load(LoadOptions{ConfigFile: configPath})
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "public", cfg.Namespace())
	assert.Equal(t, 250, cfg.Engine.RowCap)
	assert.Equal(t, 2*time.Minute, cfg.Engine.TableTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Engine.OperationTimeout)
	assert.Equal(t, []string{"users"}, cfg.Engine.CriticalTables)
	require.NotNil(t, cfg.Storage.Local)
	assert.Equal(t, "/var/lib/dbvault", cfg.Storage.Local.BasePath)
	assert.Equal(t, os.FileMode(0700), cfg.Storage.Local.Permissions)
	assert.Equal(t, "public", cfg.Ledger.Namespace)
	assert.Equal(t, DefaultServerAddress, cfg.Server.Address)
}

func TestLoader_RowCap(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want int
	}{
		{"unset uses default", "database:\n  host: db\n  username: u\n  database: app\n", DefaultRowCap},
		{"explicit zero is unbounded", "database:\n  host: db\n  username: u\n  database: app\nengine:\n  row_cap: 0\n", 0},
		{"explicit value", "database:\n  host: db\n  username: u\n  database: app\nengine:\n  row_cap: 42\n", 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := memFsWith(t, map[string]string{configPath: tt.yaml})
			cfg, err := NewLoaderWithFs(fs).Load(LoadOptions{ConfigFile: configPath})
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.Engine.RowCap)
		})
	}
}

func TestLoader_EnvironmentOverridesFile(t *testing.T) {
	fs := memFsWith(t, map[string]string{configPath: minimalYAML})
	t.Setenv("DBVAULT_DATABASE_HOST", "replica.internal")
	t.Setenv("DBVAULT_DATABASE_PASSWORD", "s3cret")
	t.Setenv("DBVAULT_ENGINE_CRITICAL_TABLES", "accounts,payments")
	t.Setenv("DBVAULT_ENGINE_OPERATION_TIMEOUT", "45m")

	cfg, err := NewLoaderWithFs(fs).Load(LoadOptions{ConfigFile: configPath})
	require.NoError(t, err)

	assert.Equal(t, "replica.internal", cfg.Database.Host)
	assert.Equal(t, "s3cret", cfg.Database.Password)
	assert.Equal(t, []string{"accounts", "payments"}, cfg.Engine.CriticalTables)
	assert.Equal(t, 45*time.Minute, cfg.Engine.OperationTimeout)
}

func TestLoader_EnvFileDoesNotOverrideEnvironment(t *testing.T) {
	fs := memFsWith(t, map[string]string{
		configPath:  minimalYAML,
		"/app/.env": "DBVAULT_DATABASE_HOST=from-dotenv\nDBVAULT_DATABASE_USERNAME=dotenv-user\n",
	})
	t.Setenv("DBVAULT_DATABASE_HOST", "from-env")
	t.Cleanup(func() { os.Unsetenv("DBVAULT_DATABASE_USERNAME") })

	cfg, err := NewLoaderWithFs(fs).Load(LoadOptions{ConfigFile: configPath, EnvFile: "/app/.env"})
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Database.Host)
	assert.Equal(t, "dotenv-user", cfg.Database.Username)
}

func TestLoader_MissingFiles(t *testing.T) {
	tests := []struct {
		name    string
		opts    LoadOptions
		wantErr string
	}{
		{"explicit config file", LoadOptions{ConfigFile: "/nope/config.yaml"}, "error reading config file"},
		{"explicit env file", LoadOptions{ConfigFile: configPath, EnvFile: "/nope/.env"}, "failed to open env file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := memFsWith(t, map[string]string{configPath: minimalYAML})
			_, err := NewLoaderWithFs(fs).Load(tt.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoader_ValidationFailure(t *testing.T) {
	fs := memFsWith(t, map[string]string{configPath: "engine:\n  row_cap: -1\nlogging:\n  level: loud\n"})

	_, err := NewLoaderWithFs(fs).Load(LoadOptions{ConfigFile: configPath})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
	assert.Contains(t, err.Error(), "host is required")
	assert.Contains(t, err.Error(), "engine.row_cap")
	assert.Contains(t, err.Error(), "logging.level")
}

func TestEngineDefaults_KeepExplicitZeroRowCap(t *testing.T) {
	e := EngineConfig{RowCap: 0}
	e.SetDefaults()
	assert.Equal(t, 0, e.RowCap)
	assert.Equal(t, DefaultRowCap, Default().Engine.RowCap)
}

func TestConfig_ExcludedPrefixesIncludeLedgerTables(t *testing.T) {
	cfg := Default()
	cfg.Engine.ExcludedPrefixes = []string{"tmp_"}

	assert.Equal(t, []string{"tmp_", "dbvault_backups", "dbvault_restores"}, cfg.ExcludedPrefixes())
}

func TestConfig_Redacted(t *testing.T) {
	cfg := Default()
	cfg.Database.Password = "hunter2"
	cfg.Storage.S3 = &backup.S3Config{Bucket: "b", Region: "r", AccessKey: "AK", SecretKey: "SK"}

	redacted := cfg.Redacted()
	assert.Equal(t, "********", redacted.Database.Password)
	assert.Equal(t, "********", redacted.Storage.S3.SecretKey)
	assert.Equal(t, "hunter2", cfg.Database.Password)
	assert.Equal(t, "SK", cfg.Storage.S3.SecretKey)
}

func TestSampleYAML_LoadsBack(t *testing.T) {
	data, err := SampleYAML()
	require.NoError(t, err)
	assert.Contains(t, string(data), "table_timeout: 5m0s")
	assert.Contains(t, string(data), "0750")

	fs := afero.NewMemMapFs()
	require.NoError(t, WriteFile(fs, configPath, data, false))

	cfg, err := NewLoaderWithFs(fs).Load(LoadOptions{ConfigFile: configPath})
	require.NoError(t, err)

	want := Default()
	assert.Empty(t, cfg.Engine.ExcludedPrefixes)
	want.Engine.ExcludedPrefixes = cfg.Engine.ExcludedPrefixes
	assert.Equal(t, want.Engine, cfg.Engine)
	assert.Equal(t, want.Server, cfg.Server)
	assert.Equal(t, want.Storage.Local, cfg.Storage.Local)
	assert.Equal(t, want.Database.Timeout, cfg.Database.Timeout)
	assert.Equal(t, "localhost", cfg.Database.Host)
}

func TestWriteFile_RefusesOverwrite(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, WriteFile(fs, configPath, []byte("a: 1\n"), false))

	err := WriteFile(fs, configPath, []byte("a: 2\n"), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	require.NoError(t, WriteFile(fs, configPath, []byte("a: 2\n"), true))
	data, err := afero.ReadFile(fs, configPath)
	require.NoError(t, err)
	assert.Equal(t, "a: 2\n", string(data))
}

func TestSettingKeys(t *testing.T) {
	keys := settingKeys(reflect.TypeOf(Config{}), "")

	assert.Contains(t, keys, "database.password")
	assert.Contains(t, keys, "engine.table_timeout")
	assert.Contains(t, keys, "storage.s3.secret_key")
	assert.Contains(t, keys, "storage.local.permissions")
	assert.NotContains(t, keys, "encryption.key_retriever")
	assert.NotContains(t, keys, "display.writer")
}

func TestDatabaseDefaultsFollowDriver(t *testing.T) {
	fs := memFsWith(t, map[string]string{configPath: "database:\n  driver: mysql\n  host: h\n  username: u\n  database: shop\n"})

	cfg, err := NewLoaderWithFs(fs).Load(LoadOptions{ConfigFile: configPath})
	require.NoError(t, err)
	assert.Equal(t, database.DriverMySQL, cfg.Database.Driver)
	assert.Equal(t, 3306, cfg.Database.Port)
	assert.Equal(t, "shop", cfg.Namespace())
	assert.Equal(t, "shop", cfg.Ledger.Namespace)
}
