package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const backupIDTimeLayout = "20060102-150405"

// GenerateBackupID returns backup-<yyyymmdd-hhmmss>-<8 hex>, sortable by creation time
func GenerateBackupID() string {
	return GenerateBackupIDWithPrefix("backup")
}

// GenerateBackupIDWithPrefix is GenerateBackupID with another leading word, e.g. "emergency"
func GenerateBackupIDWithPrefix(prefix string) string {
	id := uuid.New()
	return prefix + "-" + time.Now().UTC().Format(backupIDTimeLayout) + "-" + hex.EncodeToString(id[:4])
}

// ValidateBackupID rejects IDs that could escape a storage prefix
func ValidateBackupID(id string) error {
	if id == "" {
		return NewValidationError("backup ID cannot be empty", nil)
	}
	if len(id) > 128 {
		return NewValidationError("backup ID is too long", nil).WithContext("backup_id", id)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return NewValidationError(fmt.Sprintf("backup ID contains invalid character %q", r), nil).
				WithContext("backup_id", id)
		}
	}
	return nil
}

// CalculateDataChecksum calculates a SHA-256 checksum for arbitrary data
func CalculateDataChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
