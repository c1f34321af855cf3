package backup

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleArtifact(id string) (*BackupRecord, *Artifact) {
	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	record := &BackupRecord{
		ID:        id,
		Name:      "nightly",
		Type:      BackupTypeSchemaOnly,
		Scope:     BackupTypeSchemaOnly,
		Status:    BackupStatusCompleted,
		Counts:    ObjectCounts{Tables: 4, Records: 3},
		CreatedAt: created,
		UpdatedAt: created,
	}
	artifact := &Artifact{
		BackupID:  id,
		Type:      BackupTypeSchemaOnly,
		Scope:     BackupTypeSchemaOnly,
		Dialect:   "postgres",
		Namespace: "public",
		CreatedAt: created,
		Tables: []TableSnapshot{
			{
				Name:     "admin_users",
				Columns:  []string{"id", "email", "active", "balance"},
				RowCount: 2,
				Rows: []map[string]any{
					{"id": int64(1), "email": "root@example.com", "active": true, "balance": "12345678901234567890.01"},
					{"id": int64(9007199254740993), "email": "o'brien@example.com", "active": false, "balance": nil},
				},
			},
			{
				Name:     "system_settings",
				Columns:  []string{"key", "value"},
				RowCount: 1,
				Rows:     []map[string]any{{"key": "theme", "value": map[string]any{"mode": "dark"}}},
			},
		},
	}
	return record, artifact
}

func newMemStore(t *testing.T, opts StoreOptions) (*Store, afero.Fs) {
	t.Helper()
	provider, fs := newMemProvider(t)
	return NewStore(provider, opts, nil), fs
}

func TestStore_RoundTrip(t *testing.T) {
	store, _ := newMemStore(t, StoreOptions{})
	ctx := context.Background()
	record, artifact := sampleArtifact("backup-20260314-092653-aaaa0001")

	id, err := store.Store(ctx, record, artifact)
	require.NoError(t, err)
	assert.Equal(t, record.ID, id)
	assert.Equal(t, "/var/lib/dbvault/backup-20260314-092653-aaaa0001", record.ArtifactLocation)

	fetched, err := store.Fetch(ctx, id)
	require.NoError(t, err)
	require.Len(t, fetched.Tables, 2)

	admins := fetched.Tables[0]
	assert.Equal(t, []string{"id", "email", "active", "balance"}, admins.Columns)
	assert.Equal(t, json.Number("9007199254740993"), admins.Rows[1]["id"], "large integers keep full precision")
	assert.Equal(t, "12345678901234567890.01", admins.Rows[0]["balance"])
	assert.Nil(t, admins.Rows[1]["balance"])

	manifest, err := store.FetchManifest(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, BackupStatusCompleted, manifest.Record.Status)
	assert.Equal(t, []TableSummary{
		{Name: "admin_users", Rows: 2, RowCount: 2},
		{Name: "system_settings", Rows: 1, RowCount: 1},
	}, manifest.Tables)
	assert.Equal(t, CompressionTypeNone, manifest.JSON.Compression)
	assert.False(t, manifest.JSON.Encrypted)
}

func TestStore_SQLMatchesJSON(t *testing.T) {
	store, _ := newMemStore(t, StoreOptions{})
	ctx := context.Background()
	record, artifact := sampleArtifact("backup-20260314-092653-aaaa0002")

	id, err := store.Store(ctx, record, artifact)
	require.NoError(t, err)

	sqlText, err := store.FetchSQL(ctx, id)
	require.NoError(t, err)
	text := string(sqlText)

	adminsAt := strings.Index(text, `DELETE FROM "public"."admin_users";`)
	settingsAt := strings.Index(text, `DELETE FROM "public"."system_settings";`)
	require.NotEqual(t, -1, adminsAt)
	require.NotEqual(t, -1, settingsAt)
	assert.Less(t, adminsAt, settingsAt, "tables keep artifact order")

	assert.Contains(t, text, `INSERT INTO "public"."admin_users" ("id", "email", "active", "balance") VALUES (1, 'root@example.com', TRUE, '12345678901234567890.01');`)
	assert.Contains(t, text, `VALUES (9007199254740993, 'o''brien@example.com', FALSE, NULL);`)
	assert.Contains(t, text, `INSERT INTO "public"."system_settings" ("key", "value") VALUES ('theme', '{"mode":"dark"}');`)
	assert.Equal(t, 3, strings.Count(text, "INSERT INTO"))
}

func TestStore_CompressedAndEncrypted(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	store, fs := newMemStore(t, StoreOptions{
		Compression: CompressionConfig{Enabled: true, Algorithm: CompressionTypeZstd, Level: 3, Threshold: 1},
		Encryption:  EncryptionConfig{Enabled: true, KeyRetriever: func() ([]byte, error) { return key, nil }},
	})
	ctx := context.Background()
	record, artifact := sampleArtifact("backup-20260314-092653-aaaa0003")

	id, err := store.Store(ctx, record, artifact)
	require.NoError(t, err)

	raw, err := afero.ReadFile(fs, "/var/lib/dbvault/"+id+"/artifact.json")
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "admin_users", "stored payload is not plain text")

	manifest, err := store.FetchManifest(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, CompressionTypeZstd, manifest.JSON.Compression)
	assert.True(t, manifest.JSON.Encrypted)

	fetched, err := store.Fetch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "root@example.com", fetched.Tables[0].Rows[0]["email"])

	plain := NewStore(store.Provider(), StoreOptions{}, nil)
	_, err = plain.Fetch(ctx, id)
	require.Error(t, err)
	assert.True(t, IsErrorType(err, BackupErrorTypeConfiguration))
}

func TestStore_DetectsCorruption(t *testing.T) {
	store, fs := newMemStore(t, StoreOptions{})
	ctx := context.Background()
	record, artifact := sampleArtifact("backup-20260314-092653-aaaa0004")

	id, err := store.Store(ctx, record, artifact)
	require.NoError(t, err)

	path := "/var/lib/dbvault/" + id + "/artifact.json"
	raw, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	tampered := strings.Replace(string(raw), "root@example.com", "evil@example.com", 1)
	require.NoError(t, afero.WriteFile(fs, path, []byte(tampered), 0600))

	_, err = store.Fetch(ctx, id)
	require.Error(t, err)
	assert.True(t, IsErrorType(err, BackupErrorTypeCorruption))
}

func TestStore_Missing(t *testing.T) {
	store, _ := newMemStore(t, StoreOptions{})

	_, err := store.Fetch(context.Background(), "backup-missing")
	require.Error(t, err)
	assert.True(t, IsErrorType(err, BackupErrorTypeNotFound))

	_, err = store.Fetch(context.Background(), "../etc")
	require.Error(t, err)
	assert.True(t, IsErrorType(err, BackupErrorTypeValidation))
}

func TestStore_RejectsForeignArtifact(t *testing.T) {
	store, _ := newMemStore(t, StoreOptions{})
	record, artifact := sampleArtifact("backup-a")
	artifact.BackupID = "backup-b"

	_, err := store.Store(context.Background(), record, artifact)
	require.Error(t, err)
	assert.True(t, IsErrorType(err, BackupErrorTypeValidation))
}

func TestStore_ListFiltersAndSorts(t *testing.T) {
	store, _ := newMemStore(t, StoreOptions{})
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, typ := range []BackupType{BackupTypeFull, BackupTypeDataOnly, BackupTypeFull} {
		record, artifact := sampleArtifact("backup-list-" + string(rune('a'+i)))
		record.Type, artifact.Type = typ, typ
		record.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		_, err := store.Store(ctx, record, artifact)
		require.NoError(t, err)
	}

	all, err := store.List(ctx, BackupFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "backup-list-c", all[0].ID)
	assert.Equal(t, "backup-list-a", all[2].ID)

	fulls, err := store.List(ctx, BackupFilter{Type: BackupTypeFull, Limit: 1})
	require.NoError(t, err)
	require.Len(t, fulls, 1)
	assert.Equal(t, "backup-list-c", fulls[0].ID)
}

func TestStore_Delete(t *testing.T) {
	store, fs := newMemStore(t, StoreOptions{})
	ctx := context.Background()
	record, artifact := sampleArtifact("backup-delete-me")

	id, err := store.Store(ctx, record, artifact)
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, id))

	exists, err := afero.DirExists(fs, "/var/lib/dbvault/"+id)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.FetchManifest(ctx, id)
	assert.True(t, IsErrorType(err, BackupErrorTypeNotFound))
}
