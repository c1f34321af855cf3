package backup

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"dbvault/internal/database"
	"dbvault/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSQL_MySQL(t *testing.T) {
	artifact := &Artifact{
		BackupID:  "backup-render",
		Type:      BackupTypeFull,
		Scope:     BackupTypeFull,
		Dialect:   "mysql",
		Namespace: "shop",
		CreatedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		Tables: []TableSnapshot{
			{
				Name:      "orders",
				Columns:   []string{"id", "note"},
				RowCount:  10,
				Truncated: true,
				Rows:      []map[string]any{{"id": json.Number("7"), "note": `C:\tmp 'x'`}},
			},
			{Name: "audit", Error: "TABLE_SNAPSHOT_FAILURE: failed to capture table audit\n(caused by: denied)"},
			{Name: "empty", Columns: []string{"id"}, Rows: []map[string]any{}},
		},
		Schema: &SchemaSnapshot{
			Views:    []schema.View{{Name: "v_orders", Definition: "SELECT *\n  FROM orders"}},
			Triggers: []schema.Trigger{{Name: "trg", Table: "orders", Timing: "BEFORE", Event: "INSERT"}},
		},
	}

	out, err := RenderSQL(artifact, database.MySQL{})
	require.NoError(t, err)
	text := string(out)

	assert.True(t, strings.HasPrefix(text, "-- dbvault backup backup-render\n"))
	assert.Contains(t, text, "-- table orders: 1 of 10 rows (truncated)\n")
	assert.Contains(t, text, "DELETE FROM `shop`.`orders`;\n")
	assert.Contains(t, text, "INSERT INTO `shop`.`orders` (`id`, `note`) VALUES (7, 'C:\\\\tmp ''x''');\n")
	assert.Contains(t, text, "-- table audit skipped: TABLE_SNAPSHOT_FAILURE: failed to capture table audit (caused by: denied)\n")
	assert.NotContains(t, text, "DELETE FROM `shop`.`audit`")
	assert.Contains(t, text, "DELETE FROM `shop`.`empty`;\n")
	assert.Contains(t, text, "-- view v_orders: SELECT * FROM orders\n")
	assert.Contains(t, text, "-- trigger trg on orders: BEFORE INSERT\n")

	assert.Less(t, strings.Index(text, "BEGIN;"), strings.Index(text, "DELETE FROM"))
	assert.Less(t, strings.Index(text, "COMMIT;"), strings.Index(text, "-- schema objects"))
}

func TestRenderSQL_Validation(t *testing.T) {
	_, err := RenderSQL(nil, database.Postgres{})
	assert.Error(t, err)

	_, err = RenderSQL(&Artifact{}, nil)
	assert.Error(t, err)
}

func TestSnapshotColumns_FallsBackToSortedKeys(t *testing.T) {
	table := &TableSnapshot{Rows: []map[string]any{{"b": 1, "a": 2}}}
	assert.Equal(t, []string{"a", "b"}, SnapshotColumns(table))

	table.Columns = []string{"b", "a"}
	assert.Equal(t, []string{"b", "a"}, SnapshotColumns(table))
}

func TestBindValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"bool", true, true},
		{"string", "x", "x"},
		{"number keeps precision", json.Number("123456789012345678901234567890"), "123456789012345678901234567890"},
		{"bytes", []byte("raw"), "raw"},
		{"object", map[string]any{"k": "v"}, `{"k":"v"}`},
		{"array", []any{json.Number("1"), "two"}, `[1,"two"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BindValue(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
