package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment override, e.g. DBVAULT_DATABASE_HOST
	EnvPrefix = "DBVAULT"
	// DefaultConfigName is looked up in the working directory and $HOME
	DefaultConfigName = ".dbvault"
	DefaultEnvFile    = ".env"
)

// LoadOptions selects the files to read. Empty paths fall back to the default lookups,
// which tolerate missing files; explicit paths must exist.
type LoadOptions struct {
	ConfigFile string
	EnvFile    string
}

// Loader reads configuration through viper
type Loader struct {
	v  *viper.Viper
	fs afero.Fs
}

// NewLoader creates a loader over the OS filesystem
func NewLoader() *Loader {
	return NewLoaderWithFs(afero.NewOsFs())
}

// NewLoaderWithFs creates a loader reading files from fs
func NewLoaderWithFs(fs afero.Fs) *Loader {
	v := viper.New()
	v.SetFs(fs)
	return &Loader{v: v, fs: fs}
}

// Viper exposes the underlying instance so commands can bind flags
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// ConfigFileUsed returns the configuration file that was read, if any
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Load reads the .env file, the configuration file and the environment, applies defaults
// and validates the result
func (l *Loader) Load(opts LoadOptions) (*Config, error) {
	if err := l.loadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}

	l.setupViper(opts.ConfigFile)

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := l.v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	config.SetDefaults()
	if config.Ledger.Namespace == "" {
		config.Ledger.Namespace = config.Namespace()
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// setupViper configures lookup paths and environment binding
func (l *Loader) setupViper(configFile string) {
	if configFile != "" {
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(DefaultConfigName)
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(home)
		}
	}

	l.v.SetDefault("engine.row_cap", DefaultRowCap)

	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	// Unmarshal only sees keys viper knows about, so every key is bound explicitly
	for _, key := range settingKeys(reflect.TypeOf(Config{}), "") {
		_ = l.v.BindEnv(key)
	}
}

// loadEnvFile exports the variables of a .env file that are not already set
func (l *Loader) loadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}

	f, err := l.fs.Open(filepath.Clean(path))
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to open env file %s: %w", path, err)
	}
	defer f.Close()

	values, err := godotenv.Parse(f)
	if err != nil {
		return fmt.Errorf("failed to parse env file %s: %w", path, err)
	}
	for key, value := range values {
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to export %s: %w", key, err)
		}
	}
	return nil
}
