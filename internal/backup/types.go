package backup

import (
	"sort"
	"strings"
	"time"

	"dbvault/internal/schema"
)

// BackupType identifies what a backup captures
type BackupType string

const (
	BackupTypeDataOnly   BackupType = "data_only"
	BackupTypeSchemaOnly BackupType = "schema_only"
	BackupTypeFull       BackupType = "full"
	BackupTypeEmergency  BackupType = "emergency"
)

// ParseBackupType parses a caller-supplied backup type; emergency is reserved for the engine
func ParseBackupType(s string) (BackupType, error) {
	switch t := BackupType(strings.ToLower(strings.TrimSpace(s))); t {
	case BackupTypeDataOnly, BackupTypeSchemaOnly, BackupTypeFull:
		return t, nil
	case BackupTypeEmergency:
		return "", NewValidationError("emergency backups are created only by restores", nil)
	default:
		return "", NewValidationError("invalid backup type: "+s, nil).WithContext("type", s)
	}
}

// BackupStatus represents the lifecycle state of a backup record
type BackupStatus string

const (
	BackupStatusInProgress BackupStatus = "in_progress"
	BackupStatusCompleted  BackupStatus = "completed"
	BackupStatusFailed     BackupStatus = "failed"
)

// Terminal reports whether the status can no longer change
func (s BackupStatus) Terminal() bool {
	return s == BackupStatusCompleted || s == BackupStatusFailed
}

// ObjectCounts records how many objects of each class a backup covered
type ObjectCounts struct {
	Tables    int   `json:"tables"`
	Records   int64 `json:"records"`
	Triggers  int   `json:"triggers"`
	Indexes   int   `json:"indexes"`
	Policies  int   `json:"policies"`
	Functions int   `json:"functions"`
	EnumTypes int   `json:"enum_types"`
	Views     int   `json:"views"`
}

// BackupRecord is the ledger entry describing one backup execution
type BackupRecord struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Type             BackupType    `json:"type"`
	Scope            BackupType    `json:"scope"`
	Status           BackupStatus  `json:"status"`
	Counts           ObjectCounts  `json:"counts"`
	ProtectedTables  []string      `json:"protected_tables,omitempty"`
	Notes            string        `json:"notes,omitempty"`
	Error            string        `json:"error,omitempty"`
	CreatedBy        string        `json:"created_by,omitempty"`
	ArtifactLocation string        `json:"artifact_location,omitempty"`
	ExecutionTime    time.Duration `json:"execution_time"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// TableSnapshot holds the captured rows of one table
type TableSnapshot struct {
	Name      string           `json:"name"`
	Columns   []string         `json:"columns"`
	RowCount  int64            `json:"row_count"`
	Rows      []map[string]any `json:"rows"`
	Truncated bool             `json:"truncated,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Captured reports whether the snapshot carries usable row data
func (t *TableSnapshot) Captured() bool {
	return t.Error == ""
}

// SchemaSnapshot holds the non-table catalog objects of a full backup
type SchemaSnapshot struct {
	Functions []schema.Function `json:"functions"`
	Triggers  []schema.Trigger  `json:"triggers"`
	Indexes   []schema.Index    `json:"indexes"`
	Policies  []schema.Policy   `json:"policies"`
	EnumTypes []schema.EnumType `json:"enum_types"`
	Views     []schema.View     `json:"views"`
}

// NewSchemaSnapshot copies the schema object classes out of a catalog
func NewSchemaSnapshot(catalog *schema.Catalog) *SchemaSnapshot {
	return &SchemaSnapshot{
		Functions: catalog.Functions,
		Triggers:  catalog.Triggers,
		Indexes:   catalog.Indexes,
		Policies:  catalog.Policies,
		EnumTypes: catalog.EnumTypes,
		Views:     catalog.Views,
	}
}

// Artifact is the durable payload of a backup, addressed by the record id
type Artifact struct {
	BackupID  string          `json:"backup_id"`
	Type      BackupType      `json:"type"`
	Scope     BackupType      `json:"scope"`
	Dialect   string          `json:"dialect"`
	Namespace string          `json:"namespace"`
	CreatedAt time.Time       `json:"created_at"`
	Tables    []TableSnapshot `json:"tables"`
	Schema    *SchemaSnapshot `json:"schema,omitempty"`
}

// Table returns the snapshot of the named table
func (a *Artifact) Table(name string) (*TableSnapshot, bool) {
	for i := range a.Tables {
		if a.Tables[i].Name == name {
			return &a.Tables[i], true
		}
	}
	return nil, false
}

// RecordCount sums the captured rows across all snapshots
func (a *Artifact) RecordCount() int64 {
	var total int64
	for _, t := range a.Tables {
		total += int64(len(t.Rows))
	}
	return total
}

// RestoreStatus represents the state of a restore operation
type RestoreStatus string

const (
	RestoreStatusRequested      RestoreStatus = "requested"
	RestoreStatusEmergencyTaken RestoreStatus = "emergency_taken"
	RestoreStatusRestoring      RestoreStatus = "restoring"
	RestoreStatusCompleted      RestoreStatus = "completed"
	RestoreStatusFailed         RestoreStatus = "failed"
)

// Terminal reports whether the status can no longer change
func (s RestoreStatus) Terminal() bool {
	return s == RestoreStatusCompleted || s == RestoreStatusFailed
}

// RestoreOperation is the ledger entry of one restore
type RestoreOperation struct {
	ID                string        `json:"id" db:"id"`
	BackupID          string        `json:"backup_id" db:"backup_id"`
	EmergencyBackupID *string       `json:"emergency_backup_id,omitempty" db:"emergency_backup_id"`
	Name              string        `json:"name" db:"name"`
	Type              BackupType    `json:"type" db:"backup_type"`
	Status            RestoreStatus `json:"status" db:"status"`
	Forced            bool          `json:"forced" db:"forced"`
	RollbackOf        *string       `json:"rollback_of,omitempty" db:"rollback_of"`
	TablesRestored    int           `json:"tables_restored" db:"tables_restored"`
	RecordsRestored   int64         `json:"records_restored" db:"records_restored"`
	Error             string        `json:"error,omitempty" db:"error_message"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at" db:"updated_at"`
	CompletedAt       *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
}

// HasRecoveryPoint reports whether an emergency backup was recorded
func (r *RestoreOperation) HasRecoveryPoint() bool {
	return r.EmergencyBackupID != nil && *r.EmergencyBackupID != ""
}

// BackupFilter narrows ledger and store listings
type BackupFilter struct {
	Type          BackupType   `json:"type,omitempty"`
	Status        BackupStatus `json:"status,omitempty"`
	CreatedAfter  *time.Time   `json:"created_after,omitempty"`
	CreatedBefore *time.Time   `json:"created_before,omitempty"`
	Limit         int          `json:"limit,omitempty"`
}

// Matches reports whether a record passes the filter, ignoring Limit
func (f BackupFilter) Matches(r *BackupRecord) bool {
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.CreatedAfter != nil && r.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && r.CreatedAt.After(*f.CreatedBefore) {
		return false
	}
	return true
}

// RestoreFilter narrows restore history listings
type RestoreFilter struct {
	BackupID                string        `json:"backup_id,omitempty"`
	Status                  RestoreStatus `json:"status,omitempty"`
	CreatedAfter            *time.Time    `json:"created_after,omitempty"`
	CreatedBefore           *time.Time    `json:"created_before,omitempty"`
	WithEmergencyBackupOnly bool          `json:"with_emergency_backup_only,omitempty"`
	Limit                   int           `json:"limit,omitempty"`
}

// CriticalTableSet is the immutable set of tables protected by schema_only operations
type CriticalTableSet struct {
	names map[string]struct{}
}

// DefaultCriticalTables are protected when no configuration is supplied
var DefaultCriticalTables = []string{"admin_users", "system_settings"}

// NewCriticalTableSet builds a set from table names; blanks are ignored
func NewCriticalTableSet(tables []string) CriticalTableSet {
	names := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		if t = strings.TrimSpace(t); t != "" {
			names[t] = struct{}{}
		}
	}
	return CriticalTableSet{names: names}
}

// Contains reports whether a table is critical
func (s CriticalTableSet) Contains(table string) bool {
	_, ok := s.names[table]
	return ok
}

// Len returns the number of critical tables
func (s CriticalTableSet) Len() int {
	return len(s.names)
}

// Names returns the critical tables in sorted order
func (s CriticalTableSet) Names() []string {
	names := make([]string, 0, len(s.names))
	for n := range s.names {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
