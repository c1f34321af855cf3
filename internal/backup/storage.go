package backup

import (
	"context"
	"path"
	"strings"
)

// StorageProvider is a flat blob namespace holding artifact objects. Keys use forward
// slashes; providers map them onto their own layout below a configured prefix.
type StorageProvider interface {
	Put(ctx context.Context, key string, data []byte) error
	// Get returns a NOT_FOUND_ERROR BackupError when the key does not exist
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// List returns the keys starting with prefix, in lexical order
	List(ctx context.Context, prefix string) ([]string, error)
	// Location returns a human-readable URI for a key
	Location(key string) string
	HealthCheck(ctx context.Context) error
}

// validateObjectKey rejects keys that could escape the provider's root
func validateObjectKey(key string) error {
	if key == "" {
		return NewValidationError("object key cannot be empty", nil)
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return NewValidationError("object key must be relative", nil).WithContext("key", key)
	}
	if clean := path.Clean(key); clean != key || clean == ".." || strings.HasPrefix(clean, "../") {
		return NewValidationError("object key is not canonical", nil).WithContext("key", key)
	}
	return nil
}

// normalizePrefix returns "" or a prefix ending in a single slash
func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

func objectNotFound(key string, cause error) *BackupError {
	return NewNotFoundError("object "+key+" not found", cause).WithContext("key", key)
}
