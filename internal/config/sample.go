package config

import (
	"bytes"
	"fmt"
	"path/filepath"
	"reflect"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const sampleHeader = `# dbvault configuration
#
# Every key can be overridden with an environment variable: upper-case the dotted path,
# replace dots with underscores and prefix DBVAULT_, e.g. DBVAULT_DATABASE_PASSWORD.
# Variables from a .env file in the working directory are loaded first.
#
# Keep secrets (database.password, storage keys, encryption keys) out of this file.

`

// Marshal renders a configuration as YAML, keyed like the configuration file
func Marshal(c *Config) ([]byte, error) {
	data, err := yaml.Marshal(settingsMap(reflect.ValueOf(c)))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal configuration: %w", err)
	}
	return data, nil
}

// SampleYAML returns a commented configuration file holding every default
func SampleYAML() ([]byte, error) {
	c := Default()
	c.Database.Host = "localhost"
	c.Database.Username = "dbvault"
	c.Database.Database = "app"

	data, err := Marshal(c)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(sampleHeader)
	buf.Write(data)
	return buf.Bytes(), nil
}

// WriteFile writes a configuration file, refusing to overwrite an existing one unless
// force is set. The file is only readable by its owner.
func WriteFile(fs afero.Fs, path string, data []byte, force bool) error {
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", path, err)
	}
	if exists && !force {
		return fmt.Errorf("configuration file %s already exists", path)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := afero.WriteFile(fs, path, data, 0600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	return nil
}
