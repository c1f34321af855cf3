package backup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"dbvault/internal/database"
)

// RenderSQL renders an artifact as SQL text: one transaction that replaces the rows of every
// captured table, in artifact order. Schema objects of full backups are appended as comments.
func RenderSQL(artifact *Artifact, dialect database.Dialect) ([]byte, error) {
	if artifact == nil {
		return nil, NewValidationError("artifact cannot be nil", nil)
	}
	if dialect == nil {
		return nil, NewValidationError("dialect cannot be nil", nil)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "-- dbvault backup %s\n", artifact.BackupID)
	fmt.Fprintf(&buf, "-- type: %s, scope: %s, dialect: %s, namespace: %s\n",
		artifact.Type, artifact.Scope, artifact.Dialect, artifact.Namespace)
	fmt.Fprintf(&buf, "-- created: %s\n\n", artifact.CreatedAt.UTC().Format(time.RFC3339))

	buf.WriteString("BEGIN;\n")
	for i := range artifact.Tables {
		table := &artifact.Tables[i]
		buf.WriteString("\n")
		if !table.Captured() {
			fmt.Fprintf(&buf, "-- table %s skipped: %s\n", table.Name, singleLine(table.Error))
			continue
		}

		qualified := dialect.QuoteIdentifier(artifact.Namespace, table.Name)
		fmt.Fprintf(&buf, "-- table %s: %d of %d rows", table.Name, len(table.Rows), table.RowCount)
		if table.Truncated {
			buf.WriteString(" (truncated)")
		}
		buf.WriteString("\n")
		fmt.Fprintf(&buf, "DELETE FROM %s;\n", qualified)

		columns := SnapshotColumns(table)
		if len(columns) == 0 {
			continue
		}
		quotedColumns := make([]string, len(columns))
		for c, col := range columns {
			quotedColumns[c] = dialect.QuoteIdentifier(col)
		}
		prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES (", qualified, strings.Join(quotedColumns, ", "))

		for _, row := range table.Rows {
			buf.WriteString(prefix)
			for c, col := range columns {
				if c > 0 {
					buf.WriteString(", ")
				}
				literal, err := sqlLiteral(row[col], dialect)
				if err != nil {
					return nil, NewValidationError(fmt.Sprintf("cannot render %s.%s", table.Name, col), err)
				}
				buf.WriteString(literal)
			}
			buf.WriteString(");\n")
		}
	}
	buf.WriteString("\nCOMMIT;\n")

	if artifact.Schema != nil {
		renderSchemaComments(&buf, artifact.Schema)
	}
	return buf.Bytes(), nil
}

// SnapshotColumns returns the column order of a snapshot, falling back to the sorted keys
// of the first row for snapshots captured without a column list
func SnapshotColumns(table *TableSnapshot) []string {
	if len(table.Columns) > 0 || len(table.Rows) == 0 {
		return table.Columns
	}
	columns := make([]string, 0, len(table.Rows[0]))
	for col := range table.Rows[0] {
		columns = append(columns, col)
	}
	sort.Strings(columns)
	return columns
}

// BindValue converts a decoded artifact value into a driver argument. Numbers are passed as
// text so the server parses them with full precision; nested JSON is passed as its encoding.
func BindValue(v any) (any, error) {
	switch val := v.(type) {
	case nil, bool, string, int64, float64, time.Time:
		return val, nil
	case json.Number:
		return val.String(), nil
	case []byte:
		return string(val), nil
	case map[string]any, []any:
		encoded, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		return string(encoded), nil
	default:
		return fmt.Sprint(val), nil
	}
}

func sqlLiteral(v any, dialect database.Dialect) (string, error) {
	switch val := v.(type) {
	case nil:
		return "NULL", nil
	case bool:
		if val {
			return "TRUE", nil
		}
		return "FALSE", nil
	case json.Number:
		return val.String(), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), nil
	case string:
		return dialect.QuoteString(val), nil
	default:
		bound, err := BindValue(val)
		if err != nil {
			return "", err
		}
		return dialect.QuoteString(fmt.Sprint(bound)), nil
	}
}

func renderSchemaComments(buf *bytes.Buffer, s *SchemaSnapshot) {
	buf.WriteString("\n-- schema objects (not executed)\n")
	for _, e := range s.EnumTypes {
		fmt.Fprintf(buf, "-- enum %s: %s\n", e.Name, strings.Join(e.Values, ", "))
	}
	for _, v := range s.Views {
		fmt.Fprintf(buf, "-- view %s: %s\n", v.Name, singleLine(v.Definition))
	}
	for _, f := range s.Functions {
		fmt.Fprintf(buf, "-- function %s\n", f.Signature)
	}
	for _, t := range s.Triggers {
		fmt.Fprintf(buf, "-- trigger %s on %s: %s %s\n", t.Name, t.Table, t.Timing, t.Event)
	}
	for _, idx := range s.Indexes {
		fmt.Fprintf(buf, "-- index %s: %s\n", idx.Name, singleLine(idx.Definition))
	}
	for _, p := range s.Policies {
		fmt.Fprintf(buf, "-- policy %s on %s for %s\n", p.Name, p.Table, p.Command)
	}
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
