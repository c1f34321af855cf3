package backup

import (
	"errors"
	"fmt"
	"strings"
)

// BackupErrorType names a failure class of the backup and restore engine
type BackupErrorType string

const (
	BackupErrorTypeDiscoveryPartial BackupErrorType = "DISCOVERY_PARTIAL_FAILURE"
	BackupErrorTypeTableSnapshot    BackupErrorType = "TABLE_SNAPSHOT_FAILURE"
	BackupErrorTypePersist          BackupErrorType = "BACKUP_PERSIST_FAILURE"
	BackupErrorTypeRestoreTable     BackupErrorType = "RESTORE_TABLE_FAILURE"
	BackupErrorTypeNoRecoveryPoint  BackupErrorType = "NO_RECOVERY_POINT"

	BackupErrorTypeStorage       BackupErrorType = "STORAGE_ERROR"
	BackupErrorTypeValidation    BackupErrorType = "VALIDATION_ERROR"
	BackupErrorTypeCompression   BackupErrorType = "COMPRESSION_ERROR"
	BackupErrorTypeEncryption    BackupErrorType = "ENCRYPTION_ERROR"
	BackupErrorTypeCorruption    BackupErrorType = "CORRUPTION_ERROR"
	BackupErrorTypeConfiguration BackupErrorType = "CONFIGURATION_ERROR"
	BackupErrorTypeNotFound      BackupErrorType = "NOT_FOUND_ERROR"
	BackupErrorTypeConflict      BackupErrorType = "CONFLICT_ERROR"
)

// retryable lists the types whose cause is usually transient
var retryable = map[BackupErrorType]bool{
	BackupErrorTypeStorage:  true,
	BackupErrorTypeConflict: true,
}

// BackupError is an engine failure with a taxonomy type and structured context
type BackupError struct {
	Type    BackupErrorType        `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func (e *BackupError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, " (caused by: %v)", e.Cause)
	}
	return b.String()
}

func (e *BackupError) Unwrap() error { return e.Cause }

// WithContext records a key/value pair and returns e for chaining
func (e *BackupError) WithContext(key string, value interface{}) *BackupError {
	if e.Context == nil {
		e.Context = map[string]interface{}{}
	}
	e.Context[key] = value
	return e
}

func NewBackupError(errorType BackupErrorType, message string, cause error) *BackupError {
	return &BackupError{Type: errorType, Message: message, Cause: cause, Context: map[string]interface{}{}}
}

func NewTableSnapshotError(table string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeTableSnapshot, "failed to capture table "+table, cause).
		WithContext("table", table)
}

func NewRestoreTableError(table string, position int, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeRestoreTable, "failed to restore table "+table, cause).
		WithContext("table", table).
		WithContext("position", position)
}

func NewNoRecoveryPointError(restoreID string) *BackupError {
	msg := fmt.Sprintf("restore operation %s has no emergency backup to roll back to", restoreID)
	return NewBackupError(BackupErrorTypeNoRecoveryPoint, msg, nil).WithContext("restore_id", restoreID)
}

func NewPersistError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypePersist, message, cause)
}

func NewStorageError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeStorage, message, cause)
}

func NewValidationError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeValidation, message, cause)
}

func NewCompressionError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeCompression, message, cause)
}

func NewEncryptionError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeEncryption, message, cause)
}

func NewCorruptionError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeCorruption, message, cause)
}

func NewConfigurationError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeConfiguration, message, cause)
}

func NewNotFoundError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeNotFound, message, cause)
}

func NewConflictError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeConflict, message, cause)
}

// IsErrorType reports whether any BackupError in err's chain has the given type
func IsErrorType(err error, errorType BackupErrorType) bool {
	var backupErr *BackupError
	for errors.As(err, &backupErr) {
		if backupErr.Type == errorType {
			return true
		}
		err = backupErr.Cause
	}
	return false
}

// ErrorTypeOf returns the outermost BackupError type in err's chain, or ""
func ErrorTypeOf(err error) BackupErrorType {
	var backupErr *BackupError
	if errors.As(err, &backupErr) {
		return backupErr.Type
	}
	return ""
}

// IsRetryable reports whether the outermost BackupError is of a transient type
func IsRetryable(err error) bool {
	return retryable[ErrorTypeOf(err)]
}

// ValidationError is one rejected configuration field
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors accumulates every rejected field of one validation pass
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return "no validation errors"
	case 1:
		return e[0].Error()
	}
	return fmt.Sprintf("%d validation errors: %s (and %d more)", len(e), e[0].Error(), len(e)-1)
}

func (e *ValidationErrors) Add(field, message string, value interface{}) {
	*e = append(*e, ValidationError{Field: field, Message: message, Value: value})
}

func (e ValidationErrors) HasErrors() bool { return len(e) > 0 }
