package schema

import (
	"context"
	"fmt"
	"strings"

	"dbvault/internal/database"
)

// postgresCatalog enumerates objects from information_schema and pg_catalog
type postgresCatalog struct{}

func (postgresCatalog) requirement(class ObjectClass) (string, bool) {
	switch class {
	case ClassPolicies:
		return "9.5", true
	case ClassFunctions:
		// pg_proc.prokind
		return "11", true
	default:
		return "", true
	}
}

func (postgresCatalog) tables(ctx context.Context, q database.Querier, ns string) ([]Table, error) {
	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name
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

func (postgresCatalog) views(ctx context.Context, q database.Querier, ns string) ([]View, error) {
	query := `
		SELECT table_name, COALESCE(view_definition, '')
		FROM information_schema.views
		WHERE table_schema = $1
		ORDER BY table_name
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
		v.Definition = strings.TrimSpace(v.Definition)
		views = append(views, v)
	}
	return views, rows.Err()
}

func (postgresCatalog) functions(ctx context.Context, q database.Querier, ns string) ([]Function, error) {
	// Extension-owned functions belong to the extension, not the application schema.
	query := `
		SELECT p.proname,
		       pg_get_function_identity_arguments(p.oid),
		       pg_get_functiondef(p.oid)
		FROM pg_proc p
		JOIN pg_namespace n ON n.oid = p.pronamespace
		WHERE n.nspname = $1
		  AND p.prokind = 'f'
		  AND NOT EXISTS (
		      SELECT 1 FROM pg_depend d
		      WHERE d.objid = p.oid AND d.deptype = 'e'
		  )
		ORDER BY p.proname, 2
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

func (postgresCatalog) triggers(ctx context.Context, q database.Querier, ns string) ([]Trigger, error) {
	// tgtype bits: 2 BEFORE, 64 INSTEAD OF, 4 INSERT, 8 DELETE, 16 UPDATE, 32 TRUNCATE
	query := `
		SELECT t.tgname,
		       c.relname,
		       p.proname,
		       CASE
		           WHEN (t.tgtype::int & 2) <> 0 THEN 'BEFORE'
		           WHEN (t.tgtype::int & 64) <> 0 THEN 'INSTEAD OF'
		           ELSE 'AFTER'
		       END,
		       concat_ws(' OR ',
		           CASE WHEN (t.tgtype::int & 4) <> 0 THEN 'INSERT' END,
		           CASE WHEN (t.tgtype::int & 8) <> 0 THEN 'DELETE' END,
		           CASE WHEN (t.tgtype::int & 16) <> 0 THEN 'UPDATE' END,
		           CASE WHEN (t.tgtype::int & 32) <> 0 THEN 'TRUNCATE' END),
		       pg_get_triggerdef(t.oid)
		FROM pg_trigger t
		JOIN pg_class c ON c.oid = t.tgrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_proc p ON p.oid = t.tgfoid
		WHERE n.nspname = $1 AND NOT t.tgisinternal
		ORDER BY c.relname, t.tgname
	`

	rows, err := q.QueryContext(ctx, query, ns)
	if err != nil {
		return nil, fmt.Errorf("failed to query triggers: %w", err)
	}
	defer rows.Close()

	var triggers []Trigger
	for rows.Next() {
		var t Trigger
		if err := rows.Scan(&t.Name, &t.Table, &t.Function, &t.Timing, &t.Event, &t.Definition); err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}
		triggers = append(triggers, t)
	}
	return triggers, rows.Err()
}

func (postgresCatalog) indexes(ctx context.Context, q database.Querier, ns string) ([]Index, error) {
	query := `
		SELECT i.relname,
		       t.relname,
		       COALESCE((
		           SELECT array_to_string(array_agg(a.attname ORDER BY k.ord), ',')
		           FROM unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord)
		           JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
		       ), ''),
		       pg_get_indexdef(ix.indexrelid),
		       ix.indisprimary,
		       ix.indisunique
		FROM pg_index ix
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		WHERE n.nspname = $1 AND t.relkind IN ('r', 'p')
		ORDER BY t.relname, i.relname
	`

	rows, err := q.QueryContext(ctx, query, ns)
	if err != nil {
		return nil, fmt.Errorf("failed to query indexes: %w", err)
	}
	defer rows.Close()

	var indexes []Index
	for rows.Next() {
		var idx Index
		var columns string
		if err := rows.Scan(&idx.Name, &idx.Table, &columns, &idx.Definition, &idx.IsPrimary, &idx.IsUnique); err != nil {
			return nil, fmt.Errorf("failed to scan index: %w", err)
		}
		idx.Columns = splitColumns(columns)
		indexes = append(indexes, idx)
	}
	return indexes, rows.Err()
}

func (postgresCatalog) policies(ctx context.Context, q database.Querier, ns string) ([]Policy, error) {
	query := `
		SELECT policyname, tablename, cmd
		FROM pg_policies
		WHERE schemaname = $1
		ORDER BY tablename, policyname
	`

	rows, err := q.QueryContext(ctx, query, ns)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	var policies []Policy
	for rows.Next() {
		var p Policy
		if err := rows.Scan(&p.Name, &p.Table, &p.Command); err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

func (postgresCatalog) enumTypes(ctx context.Context, q database.Querier, ns string) ([]EnumType, error) {
	query := `
		SELECT t.typname, e.enumlabel
		FROM pg_type t
		JOIN pg_enum e ON e.enumtypid = t.oid
		JOIN pg_namespace n ON n.oid = t.typnamespace
		WHERE n.nspname = $1
		ORDER BY t.typname, e.enumsortorder
	`

	rows, err := q.QueryContext(ctx, query, ns)
	if err != nil {
		return nil, fmt.Errorf("failed to query enum types: %w", err)
	}
	defer rows.Close()

	var enums []EnumType
	for rows.Next() {
		var name, label string
		if err := rows.Scan(&name, &label); err != nil {
			return nil, fmt.Errorf("failed to scan enum label: %w", err)
		}
		if n := len(enums); n > 0 && enums[n-1].Name == name {
			enums[n-1].Values = append(enums[n-1].Values, label)
			continue
		}
		enums = append(enums, EnumType{Name: name, Values: []string{label}})
	}
	return enums, rows.Err()
}

func splitColumns(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}
