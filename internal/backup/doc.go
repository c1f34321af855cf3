// Package backup captures database state into durable artifacts.
//
// A backup is a ledger record plus an artifact. The record tracks the execution
// (type, status, object counts, error text); the artifact carries the captured rows
// and, for full backups, the non-table schema objects.
//
// Core Components:
//
// - Builder: discovers the catalog, snapshots tables under shared leases and persists
// the record and artifact
// - Store: writes each artifact as a manifest, a structured JSON form and a SQL-text
// rendering, with optional compression and encryption
// - StorageProvider: blob backends for artifacts (local, S3, Azure, GCS)
//
// Backup types:
//
// - data_only and full capture every discovered table; full also keeps the schema objects
// - schema_only captures rows of the critical tables only, but counts every table
// - emergency backups are taken by restores and follow the scope of the backup being restored
//
// Example usage:
//
//	provider, _ := backup.NewStorageProviderFactory().CreateStorageProvider(ctx, storageConfig)
//	store := backup.NewStore(provider, backup.StoreOptions{}, logger)
//	builder := backup.NewBuilder(db, dialect, inspector, ledger, store, leases, builderConfig, logger)
//
//	result, err := builder.Build(ctx, backup.BuildRequest{Type: backup.BackupTypeFull})
package backup
