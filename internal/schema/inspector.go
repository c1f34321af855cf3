package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"dbvault/internal/database"
	"dbvault/internal/logging"

	"github.com/hashicorp/go-version"
)

// Config controls a discovery pass
type Config struct {
	Namespace        string
	ExcludedPrefixes []string
	QueryTimeout     time.Duration
}

// catalogQueries enumerates each object class for one dialect
type catalogQueries interface {
	tables(ctx context.Context, q database.Querier, ns string) ([]Table, error)
	views(ctx context.Context, q database.Querier, ns string) ([]View, error)
	functions(ctx context.Context, q database.Querier, ns string) ([]Function, error)
	triggers(ctx context.Context, q database.Querier, ns string) ([]Trigger, error)
	indexes(ctx context.Context, q database.Querier, ns string) ([]Index, error)
	policies(ctx context.Context, q database.Querier, ns string) ([]Policy, error)
	enumTypes(ctx context.Context, q database.Querier, ns string) ([]EnumType, error)
	// requirement returns the minimum server version for a class, or supported=false
	requirement(class ObjectClass) (minVersion string, supported bool)
}

// Inspector discovers the live catalog of one namespace
type Inspector struct {
	db      database.Querier
	dialect database.Dialect
	queries catalogQueries
	config  Config
	logger  *logging.Logger
}

// NewInspector creates an inspector for the given connection and dialect
func NewInspector(db database.Querier, dialect database.Dialect, config Config, logger *logging.Logger) *Inspector {
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	var queries catalogQueries = postgresCatalog{}
	if dialect != nil && dialect.Name() == database.DriverMySQL {
		queries = mysqlCatalog{}
	}

	return &Inspector{
		db:      db,
		dialect: dialect,
		queries: queries,
		config:  config,
		logger:  logger,
	}
}

// Namespace returns the namespace this inspector discovers
func (i *Inspector) Namespace() string {
	return i.config.Namespace
}

// Dialect returns the SQL dialect of the inspected server
func (i *Inspector) Dialect() database.Dialect {
	return i.dialect
}

// Excluded reports whether a table name matches the bookkeeping exclusion list
func (i *Inspector) Excluded(table string) bool {
	for _, prefix := range i.config.ExcludedPrefixes {
		if prefix != "" && strings.HasPrefix(table, prefix) {
			return true
		}
	}
	return false
}

// Discover enumerates every object class independently. A class that fails degrades to an
// empty set with a warning; only invalid input is returned as an error.
func (i *Inspector) Discover(ctx context.Context) (*Catalog, error) {
	if db, ok := i.db.(*sql.DB); i.db == nil || (ok && db == nil) || i.dialect == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if i.config.Namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}

	startTime := time.Now()
	ns := i.config.Namespace

	catalog := &Catalog{
		Dialect:      i.dialect.Name(),
		Namespace:    ns,
		DiscoveredAt: startTime.UTC(),
	}

	serverVersion := i.serverVersion(ctx, catalog)

	tables := runClass(ctx, i, catalog, serverVersion, ClassTables, func(ctx context.Context) ([]Table, error) {
		return i.queries.tables(ctx, i.db, ns)
	})
	catalog.Tables = filterTables(tables, i.Excluded)

	catalog.Views = runClass(ctx, i, catalog, serverVersion, ClassViews, func(ctx context.Context) ([]View, error) {
		return i.queries.views(ctx, i.db, ns)
	})
	catalog.Functions = runClass(ctx, i, catalog, serverVersion, ClassFunctions, func(ctx context.Context) ([]Function, error) {
		return i.queries.functions(ctx, i.db, ns)
	})

	triggers := runClass(ctx, i, catalog, serverVersion, ClassTriggers, func(ctx context.Context) ([]Trigger, error) {
		return i.queries.triggers(ctx, i.db, ns)
	})
	catalog.Triggers = filterByTable(triggers, func(t Trigger) string { return t.Table }, i.Excluded)

	indexes := runClass(ctx, i, catalog, serverVersion, ClassIndexes, func(ctx context.Context) ([]Index, error) {
		return i.queries.indexes(ctx, i.db, ns)
	})
	catalog.Indexes = filterByTable(indexes, func(x Index) string { return x.Table }, i.Excluded)

	policies := runClass(ctx, i, catalog, serverVersion, ClassPolicies, func(ctx context.Context) ([]Policy, error) {
		return i.queries.policies(ctx, i.db, ns)
	})
	catalog.Policies = filterByTable(policies, func(p Policy) string { return p.Table }, i.Excluded)

	catalog.EnumTypes = runClass(ctx, i, catalog, serverVersion, ClassEnumTypes, func(ctx context.Context) ([]EnumType, error) {
		return i.queries.enumTypes(ctx, i.db, ns)
	})

	catalog.attachPrimaryKeys()
	i.countRows(ctx, catalog)

	i.logger.LogDiscovery(ns, len(catalog.Tables), len(catalog.Warnings), time.Since(startTime))
	return catalog, nil
}

// CountRows returns the exact row count of one table
func (i *Inspector) CountRows(ctx context.Context, table string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, i.config.QueryTimeout)
	defer cancel()

	var count int64
	query := "SELECT COUNT(*) FROM " + i.dialect.QuoteIdentifier(i.config.Namespace, table)
	if err := i.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rows of %s: %w", table, err)
	}
	return count, nil
}

// countRows fills RowCount for every table; a failed count leaves -1 and a warning
func (i *Inspector) countRows(ctx context.Context, catalog *Catalog) {
	for idx := range catalog.Tables {
		count, err := i.CountRows(ctx, catalog.Tables[idx].Name)
		if err != nil {
			catalog.Tables[idx].RowCount = -1
			catalog.addWarning(ClassRowCounts, err.Error())
			i.logger.WithFields(map[string]interface{}{
				"table": catalog.Tables[idx].Name,
				"error": err.Error(),
			}).Warn("Row count failed")
			continue
		}
		catalog.Tables[idx].RowCount = count
	}
}

// serverVersion reads and parses the server version; failures are recorded and gating is skipped
func (i *Inspector) serverVersion(ctx context.Context, catalog *Catalog) *version.Version {
	ctx, cancel := context.WithTimeout(ctx, i.config.QueryTimeout)
	defer cancel()

	var raw string
	if err := i.db.QueryRowContext(ctx, i.dialect.VersionQuery()).Scan(&raw); err != nil {
		catalog.addWarning(ClassServerVersion, fmt.Sprintf("failed to read server version: %v", err))
		return nil
	}
	catalog.ServerVersion = raw

	v, err := ParseServerVersion(raw)
	if err != nil {
		catalog.addWarning(ClassServerVersion, err.Error())
		return nil
	}
	return v
}

// ParseServerVersion extracts the leading version token of a server version string,
// e.g. "16.2 (Debian 16.2-1.pgdg120+2)" or "8.0.36-0ubuntu0.22.04.1".
func ParseServerVersion(raw string) (*version.Version, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty server version")
	}
	token := fields[0]
	if idx := strings.IndexByte(token, '-'); idx > 0 {
		token = token[:idx]
	}
	v, err := version.NewVersion(token)
	if err != nil {
		return nil, fmt.Errorf("unparseable server version %q: %w", raw, err)
	}
	return v, nil
}

// gate returns a non-empty reason when the server cannot enumerate a class
func (i *Inspector) gate(class ObjectClass, serverVersion *version.Version) string {
	minVersion, supported := i.queries.requirement(class)
	if !supported {
		return fmt.Sprintf("%s are not supported by %s", class, i.dialect.Name())
	}
	if minVersion == "" || serverVersion == nil {
		return ""
	}
	constraint, err := version.NewConstraint(">= " + minVersion)
	if err != nil {
		return ""
	}
	if !constraint.Check(serverVersion) {
		return fmt.Sprintf("%s require server version %s or newer (found %s)", class, minVersion, serverVersion)
	}
	return ""
}

// runClass enumerates one class and folds a failure into the catalog's warnings
func runClass[T any](ctx context.Context, i *Inspector, catalog *Catalog, serverVersion *version.Version, class ObjectClass, fetch func(context.Context) ([]T, error)) []T {
	var result Result[T]
	if reason := i.gate(class, serverVersion); reason != "" {
		result = unsupported[T](class, reason)
	} else {
		qctx, cancel := context.WithTimeout(ctx, i.config.QueryTimeout)
		items, err := fetch(qctx)
		cancel()
		result = resultOf(class, items, err)
	}

	if !result.OK() {
		catalog.addWarning(class, result.Err.Error())
		catalog.markFailed(class)
		i.logger.WithFields(map[string]interface{}{
			"class": string(class),
			"error": result.Err.Cause.Error(),
		}).Warn("Catalog class degraded to empty set")
	}
	return result.Items
}

func filterTables(tables []Table, excluded func(string) bool) []Table {
	kept := make([]Table, 0, len(tables))
	for _, t := range tables {
		if !excluded(t.Name) {
			kept = append(kept, t)
		}
	}
	return kept
}

func filterByTable[T any](items []T, table func(T) string, excluded func(string) bool) []T {
	kept := make([]T, 0, len(items))
	for _, item := range items {
		if !excluded(table(item)) {
			kept = append(kept, item)
		}
	}
	return kept
}
