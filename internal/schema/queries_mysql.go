package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"dbvault/internal/database"
)

// mysqlCatalog enumerates objects from INFORMATION_SCHEMA
type mysqlCatalog struct{}

func (mysqlCatalog) requirement(class ObjectClass) (string, bool) {
	if class == ClassPolicies {
		return "", false
	}
	return "", true
}

func (mysqlCatalog) tables(ctx context.Context, q database.Querier, ns string) ([]Table, error) {
	query := `
		SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME
	`

	rows, err := q.QueryContext(ctx, query, ns)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		var t Table
		if err := rows.Scan(&t.Name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

func (mysqlCatalog) views(ctx context.Context, q database.Querier, ns string) ([]View, error) {
	query := `
		SELECT TABLE_NAME, COALESCE(VIEW_DEFINITION, '')
		FROM INFORMATION_SCHEMA.VIEWS
		WHERE TABLE_SCHEMA = ?
		ORDER BY TABLE_NAME
	`

	rows, err := q.QueryContext(ctx, query, ns)
	if err != nil {
		return nil, fmt.Errorf("failed to query views: %w", err)
	}
	defer rows.Close()

	var views []View
	for rows.Next() {
		var v View
		if err := rows.Scan(&v.Name, &v.Definition); err != nil {
			return nil, fmt.Errorf("failed to scan view: %w", err)
		}
		views = append(views, v)
	}
	return views, rows.Err()
}

func (mysqlCatalog) functions(ctx context.Context, q database.Querier, ns string) ([]Function, error) {
	query := `
		SELECT r.ROUTINE_NAME,
		       COALESCE((
		           SELECT GROUP_CONCAT(CONCAT(p.PARAMETER_NAME, ' ', p.DTD_IDENTIFIER)
		                               ORDER BY p.ORDINAL_POSITION SEPARATOR ', ')
		           FROM INFORMATION_SCHEMA.PARAMETERS p
		           WHERE p.SPECIFIC_SCHEMA = r.ROUTINE_SCHEMA
		             AND p.SPECIFIC_NAME = r.SPECIFIC_NAME
		             AND p.ORDINAL_POSITION > 0
		       ), ''),
		       COALESCE(r.ROUTINE_DEFINITION, '')
		FROM INFORMATION_SCHEMA.ROUTINES r
		WHERE r.ROUTINE_SCHEMA = ? AND r.ROUTINE_TYPE = 'FUNCTION'
		ORDER BY r.ROUTINE_NAME
	`

	rows, err := q.QueryContext(ctx, query, ns)
	if err != nil {
		return nil, fmt.Errorf("failed to query functions: %w", err)
	}
	defer rows.Close()

	var functions []Function
	for rows.Next() {
		var f Function
		var args string
		if err := rows.Scan(&f.Name, &args, &f.Definition); err != nil {
			return nil, fmt.Errorf("failed to scan function: %w", err)
		}
		f.Signature = fmt.Sprintf("%s(%s)", f.Name, args)
		functions = append(functions, f)
	}
	return functions, rows.Err()
}

func (mysqlCatalog) triggers(ctx context.Context, q database.Querier, ns string) ([]Trigger, error) {
	query := `
		SELECT TRIGGER_NAME, EVENT_OBJECT_TABLE, ACTION_TIMING, EVENT_MANIPULATION, ACTION_STATEMENT
		FROM INFORMATION_SCHEMA.TRIGGERS
		WHERE TRIGGER_SCHEMA = ?
		ORDER BY EVENT_OBJECT_TABLE, TRIGGER_NAME
	`

	rows, err := q.QueryContext(ctx, query, ns)
	if err != nil {
		return nil, fmt.Errorf("failed to query triggers: %w", err)
	}
	defer rows.Close()

	var triggers []Trigger
	for rows.Next() {
		var t Trigger
		if err := rows.Scan(&t.Name, &t.Table, &t.Timing, &t.Event, &t.Definition); err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}
		triggers = append(triggers, t)
	}
	return triggers, rows.Err()
}

func (mysqlCatalog) indexes(ctx context.Context, q database.Querier, ns string) ([]Index, error) {
	query := `
		SELECT INDEX_NAME,
		       TABLE_NAME,
		       GROUP_CONCAT(COLUMN_NAME ORDER BY SEQ_IN_INDEX SEPARATOR ','),
		       MAX(NON_UNIQUE)
		FROM INFORMATION_SCHEMA.STATISTICS
		WHERE TABLE_SCHEMA = ?
		GROUP BY TABLE_NAME, INDEX_NAME
		ORDER BY TABLE_NAME, INDEX_NAME
	`

	rows, err := q.QueryContext(ctx, query, ns)
	if err != nil {
		return nil, fmt.Errorf("failed to query indexes: %w", err)
	}
	defer rows.Close()

	var indexes []Index
	for rows.Next() {
		var idx Index
		var columns sql.NullString
		var nonUnique int
		if err := rows.Scan(&idx.Name, &idx.Table, &columns, &nonUnique); err != nil {
			return nil, fmt.Errorf("failed to scan index: %w", err)
		}
		idx.Columns = splitColumns(columns.String)
		idx.IsPrimary = idx.Name == "PRIMARY"
		idx.IsUnique = nonUnique == 0
		idx.Definition = mysqlIndexDefinition(idx)
		indexes = append(indexes, idx)
	}
	return indexes, rows.Err()
}

func (mysqlCatalog) policies(context.Context, database.Querier, string) ([]Policy, error) {
	return nil, fmt.Errorf("row-level policies are not supported by mysql")
}

// enumTypes reports ENUM columns; MySQL has no standalone enum types, so each is named table.column
func (mysqlCatalog) enumTypes(ctx context.Context, q database.Querier, ns string) ([]EnumType, error) {
	query := `
		SELECT TABLE_NAME, COLUMN_NAME, COLUMN_TYPE
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND DATA_TYPE = 'enum'
		ORDER BY TABLE_NAME, ORDINAL_POSITION
	`

	rows, err := q.QueryContext(ctx, query, ns)
	if err != nil {
		return nil, fmt.Errorf("failed to query enum columns: %w", err)
	}
	defer rows.Close()

	var enums []EnumType
	for rows.Next() {
		var table, column, columnType string
		if err := rows.Scan(&table, &column, &columnType); err != nil {
			return nil, fmt.Errorf("failed to scan enum column: %w", err)
		}
		enums = append(enums, EnumType{
			Name:   table + "." + column,
			Values: parseEnumValues(columnType),
		})
	}
	return enums, rows.Err()
}

func mysqlIndexDefinition(idx Index) string {
	cols := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		cols[i] = "`" + c + "`"
	}
	switch {
	case idx.IsPrimary:
		return fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(cols, ", "))
	case idx.IsUnique:
		return fmt.Sprintf("UNIQUE INDEX `%s` ON `%s` (%s)", idx.Name, idx.Table, strings.Join(cols, ", "))
	default:
		return fmt.Sprintf("INDEX `%s` ON `%s` (%s)", idx.Name, idx.Table, strings.Join(cols, ", "))
	}
}

// parseEnumValues parses a COLUMN_TYPE such as enum('a','it”s','c')
func parseEnumValues(columnType string) []string {
	open := strings.IndexByte(columnType, '(')
	end := strings.LastIndexByte(columnType, ')')
	if open < 0 || end <= open {
		return []string{}
	}
	body := columnType[open+1 : end]

	values := []string{}
	var current strings.Builder
	inQuote := false
	for i := 0; i < len(body); i++ {
		ch := body[i]
		switch {
		case ch == '\'' && inQuote && i+1 < len(body) && body[i+1] == '\'':
			current.WriteByte('\'')
			i++
		case ch == '\'':
			if inQuote {
				values = append(values, current.String())
				current.Reset()
			}
			inQuote = !inQuote
		case inQuote:
			current.WriteByte(ch)
		}
	}
	return values
}
