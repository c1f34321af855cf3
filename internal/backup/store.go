package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"dbvault/internal/database"
	"dbvault/internal/logging"
)

const (
	manifestObject     = "manifest.json"
	artifactJSONObject = "artifact.json"
	artifactSQLObject  = "artifact.sql"

	manifestFormatVersion = 1
)

// ObjectInfo describes how one stored object was encoded
type ObjectInfo struct {
	Key         string          `json:"key"`
	Checksum    string          `json:"checksum"` // SHA-256 of the plain payload
	Size        int64           `json:"size"`
	StoredSize  int64           `json:"stored_size"`
	Compression CompressionType `json:"compression"`
	Encrypted   bool            `json:"encrypted"`
}

// TableSummary is the per-table row count recorded in a manifest
type TableSummary struct {
	Name      string `json:"name"`
	Rows      int    `json:"rows"`
	RowCount  int64  `json:"row_count"`
	Truncated bool   `json:"truncated,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Manifest is the plain-text index of a stored artifact. It is written last, so its
// presence marks the artifact as complete.
type Manifest struct {
	FormatVersion int            `json:"format_version"`
	Record        *BackupRecord  `json:"record"`
	Dialect       string         `json:"dialect"`
	Namespace     string         `json:"namespace"`
	Tables        []TableSummary `json:"tables"`
	JSON          ObjectInfo     `json:"json"`
	SQL           ObjectInfo     `json:"sql"`
	StoredAt      time.Time      `json:"stored_at"`
}

// StoreOptions configures the artifact codec
type StoreOptions struct {
	Compression CompressionConfig
	Encryption  EncryptionConfig
}

// Store persists artifacts in a blob provider as a manifest plus a structured and a
// SQL-text rendering of the same data
type Store struct {
	provider    StorageProvider
	compression CompressionConfig
	compressor  *CompressionManager
	encryptor   *EncryptionManager
	logger      *logging.Logger
}

// NewStore creates an artifact store on top of a blob provider
func NewStore(provider StorageProvider, opts StoreOptions, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	encryption := opts.Encryption
	return &Store{
		provider:    provider,
		compression: opts.Compression,
		compressor:  NewCompressionManager(),
		encryptor:   NewEncryptionManager(&encryption),
		logger:      logger,
	}
}

// Provider returns the underlying blob provider
func (s *Store) Provider() StorageProvider {
	return s.provider
}

// Store writes the artifact of a record and returns the artifact id, which is the backup id.
//
// The SQL rendering is produced from the artifact decoded back out of the exact JSON bytes
// being stored, so both representations carry the same rows in the same order.
func (s *Store) Store(ctx context.Context, record *BackupRecord, artifact *Artifact) (string, error) {
	if record == nil || artifact == nil {
		return "", NewValidationError("record and artifact are required", nil)
	}
	if err := ValidateBackupID(record.ID); err != nil {
		return "", err
	}
	if artifact.BackupID != record.ID {
		return "", NewValidationError("artifact does not belong to record", nil).
			WithContext("backup_id", record.ID).
			WithContext("artifact_backup_id", artifact.BackupID)
	}

	dialect, err := database.DialectFor(artifact.Dialect)
	if err != nil {
		return "", NewValidationError("artifact has an unknown dialect", err)
	}

	jsonPayload, err := json.Marshal(artifact)
	if err != nil {
		return "", NewStorageError("failed to serialize artifact", err)
	}
	canonical, err := DecodeArtifact(jsonPayload)
	if err != nil {
		return "", err
	}
	sqlPayload, err := RenderSQL(canonical, dialect)
	if err != nil {
		return "", err
	}

	id := record.ID
	record.ArtifactLocation = s.provider.Location(id + "/")

	manifest := &Manifest{
		FormatVersion: manifestFormatVersion,
		Record:        record,
		Dialect:       artifact.Dialect,
		Namespace:     artifact.Namespace,
		Tables:        summarize(canonical),
		StoredAt:      time.Now().UTC(),
	}

	written := []string{}
	cleanup := func() {
		for _, key := range written {
			if err := s.provider.Delete(context.WithoutCancel(ctx), key); err != nil {
				s.logger.WithField("key", key).Warn("Failed to remove partial artifact object")
			}
		}
	}

	manifest.JSON, err = s.putObject(ctx, id+"/"+artifactJSONObject, jsonPayload)
	if err != nil {
		return "", err
	}
	written = append(written, manifest.JSON.Key)

	manifest.SQL, err = s.putObject(ctx, id+"/"+artifactSQLObject, sqlPayload)
	if err != nil {
		cleanup()
		return "", err
	}
	written = append(written, manifest.SQL.Key)

	manifestPayload, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		cleanup()
		return "", NewStorageError("failed to serialize manifest", err)
	}
	if err := s.provider.Put(ctx, id+"/"+manifestObject, manifestPayload); err != nil {
		cleanup()
		return "", err
	}

	s.logger.WithFields(map[string]interface{}{
		"backup_id":   id,
		"json_bytes":  manifest.JSON.Size,
		"sql_bytes":   manifest.SQL.Size,
		"compression": string(manifest.JSON.Compression),
		"encrypted":   manifest.JSON.Encrypted,
	}).Debug("Artifact stored")

	return id, nil
}

// FetchManifest loads the manifest of a stored artifact
func (s *Store) FetchManifest(ctx context.Context, id string) (*Manifest, error) {
	if err := ValidateBackupID(id); err != nil {
		return nil, err
	}

	data, err := s.provider.Get(ctx, id+"/"+manifestObject)
	if err != nil {
		if IsErrorType(err, BackupErrorTypeNotFound) {
			return nil, NewNotFoundError(fmt.Sprintf("artifact %s not found", id), err)
		}
		return nil, err
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, NewCorruptionError("failed to parse manifest of "+id, err)
	}
	if manifest.Record == nil || manifest.Record.ID != id {
		return nil, NewCorruptionError("manifest of "+id+" does not describe that backup", nil)
	}
	return &manifest, nil
}

// Fetch loads and verifies the structured artifact
func (s *Store) Fetch(ctx context.Context, id string) (*Artifact, error) {
	manifest, err := s.FetchManifest(ctx, id)
	if err != nil {
		return nil, err
	}
	payload, err := s.getObject(ctx, manifest.JSON)
	if err != nil {
		return nil, err
	}
	return DecodeArtifact(payload)
}

// FetchSQL loads and verifies the SQL-text rendering
func (s *Store) FetchSQL(ctx context.Context, id string) ([]byte, error) {
	manifest, err := s.FetchManifest(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.getObject(ctx, manifest.SQL)
}

// List returns the records of every stored artifact matching the filter, newest first
func (s *Store) List(ctx context.Context, filter BackupFilter) ([]*BackupRecord, error) {
	keys, err := s.provider.List(ctx, "")
	if err != nil {
		return nil, err
	}

	records := []*BackupRecord{}
	for _, key := range keys {
		id, ok := strings.CutSuffix(key, "/"+manifestObject)
		if !ok || strings.Contains(id, "/") {
			continue
		}
		manifest, err := s.FetchManifest(ctx, id)
		if err != nil {
			s.logger.WithFields(map[string]interface{}{
				"backup_id": id,
				"error":     err.Error(),
			}).Warn("Skipping unreadable manifest")
			continue
		}
		if filter.Matches(manifest.Record) {
			records = append(records, manifest.Record)
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if filter.Limit > 0 && len(records) > filter.Limit {
		records = records[:filter.Limit]
	}
	return records, nil
}

// Delete removes every object of an artifact, manifest first
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ValidateBackupID(id); err != nil {
		return err
	}
	for _, name := range []string{manifestObject, artifactJSONObject, artifactSQLObject} {
		if err := s.provider.Delete(ctx, id+"/"+name); err != nil {
			return err
		}
	}
	return nil
}

// HealthCheck checks the underlying provider
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.provider.HealthCheck(ctx)
}

// DecodeArtifact parses artifact JSON keeping numbers as json.Number
func DecodeArtifact(payload []byte) (*Artifact, error) {
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()

	var artifact Artifact
	if err := decoder.Decode(&artifact); err != nil {
		return nil, NewCorruptionError("failed to parse artifact", err)
	}
	return &artifact, nil
}

func (s *Store) putObject(ctx context.Context, key string, payload []byte) (ObjectInfo, error) {
	info := ObjectInfo{
		Key:         key,
		Checksum:    CalculateDataChecksum(payload),
		Size:        int64(len(payload)),
		Compression: CompressionTypeNone,
	}

	data := payload
	if s.compression.Enabled && s.compressor.ShouldCompress(info.Size, s.compression.Threshold) {
		compressed, stats, err := s.compressor.Compress(data, s.compression.Algorithm, s.compression.Level)
		if err != nil {
			return info, err
		}
		data = compressed
		info.Compression = stats.Algorithm
		s.logger.WithFields(map[string]interface{}{
			"key":       key,
			"algorithm": stats.Algorithm,
			"ratio":     fmt.Sprintf("%.2f", stats.CompressionRatio),
			"duration":  stats.Duration.String(),
		}).Debug("Compressed artifact object")
	}

	if s.encryptor.IsEnabled() {
		encrypted, _, err := s.encryptor.Encrypt(data)
		if err != nil {
			return info, err
		}
		data = encrypted
		info.Encrypted = true
	}

	info.StoredSize = int64(len(data))
	if err := s.provider.Put(ctx, key, data); err != nil {
		return info, err
	}
	return info, nil
}

func (s *Store) getObject(ctx context.Context, info ObjectInfo) ([]byte, error) {
	data, err := s.provider.Get(ctx, info.Key)
	if err != nil {
		return nil, err
	}

	if info.Encrypted {
		if !s.encryptor.IsEnabled() {
			return nil, NewConfigurationError("artifact object "+info.Key+" is encrypted but encryption is not configured", nil)
		}
		if data, err = s.encryptor.Decrypt(data); err != nil {
			return nil, err
		}
	}

	if data, err = s.compressor.Decompress(data, info.Compression); err != nil {
		return nil, err
	}

	if checksum := CalculateDataChecksum(data); checksum != info.Checksum {
		return nil, NewCorruptionError("checksum mismatch for "+info.Key, nil).
			WithContext("expected", info.Checksum).
			WithContext("actual", checksum)
	}
	return data, nil
}

func summarize(artifact *Artifact) []TableSummary {
	summaries := make([]TableSummary, len(artifact.Tables))
	for i, t := range artifact.Tables {
		summaries[i] = TableSummary{
			Name:      t.Name,
			Rows:      len(t.Rows),
			RowCount:  t.RowCount,
			Truncated: t.Truncated,
			Error:     t.Error,
		}
	}
	return summaries
}
