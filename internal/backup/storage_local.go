package backup

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

const tempSuffix = ".tmp"

// LocalStorageProvider implements StorageProvider on a filesystem
type LocalStorageProvider struct {
	fs          afero.Fs
	basePath    string
	permissions os.FileMode
}

// NewLocalStorageProvider creates a provider rooted at config.BasePath on the OS filesystem
func NewLocalStorageProvider(config *LocalConfig) (*LocalStorageProvider, error) {
	return NewLocalStorageProviderWithFs(afero.NewOsFs(), config)
}

// NewLocalStorageProviderWithFs creates a provider on an arbitrary afero filesystem
func NewLocalStorageProviderWithFs(fs afero.Fs, config *LocalConfig) (*LocalStorageProvider, error) {
	if config == nil || config.BasePath == "" {
		return nil, NewValidationError("local storage base path is required", nil)
	}

	permissions := config.Permissions
	if permissions == 0 {
		permissions = 0750
	}

	provider := &LocalStorageProvider{
		fs:          fs,
		basePath:    filepath.Clean(config.BasePath),
		permissions: permissions,
	}

	if err := fs.MkdirAll(provider.basePath, permissions); err != nil {
		return nil, NewStorageError("failed to create base directory", err)
	}

	return provider, nil
}

// Put writes an object atomically through a temporary file and rename
func (lsp *LocalStorageProvider) Put(ctx context.Context, key string, data []byte) error {
	if err := validateObjectKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return NewStorageError("put cancelled", err)
	}

	target := lsp.path(key)
	if err := lsp.fs.MkdirAll(filepath.Dir(target), lsp.permissions); err != nil {
		return NewStorageError("failed to create object directory", err)
	}

	tmp := target + tempSuffix
	if err := afero.WriteFile(lsp.fs, tmp, data, 0600); err != nil {
		return NewStorageError("failed to write object "+key, err)
	}
	if err := lsp.fs.Rename(tmp, target); err != nil {
		_ = lsp.fs.Remove(tmp)
		return NewStorageError("failed to commit object "+key, err)
	}
	return nil
}

// Get reads an object
func (lsp *LocalStorageProvider) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateObjectKey(key); err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(lsp.fs, lsp.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, objectNotFound(key, err)
		}
		return nil, NewStorageError("failed to read object "+key, err)
	}
	return data, nil
}

// Delete removes an object; a missing object is not an error
func (lsp *LocalStorageProvider) Delete(ctx context.Context, key string) error {
	if err := validateObjectKey(key); err != nil {
		return err
	}

	target := lsp.path(key)
	if err := lsp.fs.Remove(target); err != nil && !os.IsNotExist(err) {
		return NewStorageError("failed to delete object "+key, err)
	}

	// Drop the directory once its last object is gone
	dir := filepath.Dir(target)
	if dir != lsp.basePath {
		if entries, err := afero.ReadDir(lsp.fs, dir); err == nil && len(entries) == 0 {
			_ = lsp.fs.Remove(dir)
		}
	}
	return nil
}

// List walks the base directory and returns keys with the given prefix
func (lsp *LocalStorageProvider) List(ctx context.Context, prefix string) ([]string, error) {
	keys := []string{}
	err := afero.Walk(lsp.fs, lsp.basePath, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if info.IsDir() || strings.HasSuffix(p, tempSuffix) {
			return nil
		}

		rel, err := filepath.Rel(lsp.basePath, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) && !strings.HasPrefix(key, ".") {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, NewStorageError("failed to list objects", err)
	}

	sort.Strings(keys)
	return keys, nil
}

// Location returns the filesystem path of a key
func (lsp *LocalStorageProvider) Location(key string) string {
	return lsp.path(key)
}

// HealthCheck verifies that the base directory is writable
func (lsp *LocalStorageProvider) HealthCheck(ctx context.Context) error {
	testFile := filepath.Join(lsp.basePath, ".health_check")

	if err := afero.WriteFile(lsp.fs, testFile, []byte("health_check"), 0600); err != nil {
		return NewStorageError("storage provider health check failed: cannot write to base directory", err)
	}
	if _, err := afero.ReadFile(lsp.fs, testFile); err != nil {
		return NewStorageError("storage provider health check failed: cannot read from base directory", err)
	}
	_ = lsp.fs.Remove(testFile)
	return nil
}

func (lsp *LocalStorageProvider) path(key string) string {
	return filepath.Join(lsp.basePath, filepath.FromSlash(key))
}
