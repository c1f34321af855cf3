package schema

import "time"

// ObjectClass names one independently enumerated class of catalog objects
type ObjectClass string

const (
	ClassTables        ObjectClass = "tables"
	ClassViews         ObjectClass = "views"
	ClassFunctions     ObjectClass = "functions"
	ClassTriggers      ObjectClass = "triggers"
	ClassIndexes       ObjectClass = "indexes"
	ClassPolicies      ObjectClass = "policies"
	ClassEnumTypes     ObjectClass = "enum_types"
	ClassRowCounts     ObjectClass = "row_counts"
	ClassServerVersion ObjectClass = "server_version"
)

// Table represents a base table in the discovered namespace
type Table struct {
	Name       string   `json:"name"`
	RowCount   int64    `json:"row_count"`
	PrimaryKey []string `json:"primary_key,omitempty"`
}

// View represents a database view
type View struct {
	Name       string `json:"name"`
	Definition string `json:"definition"`
}

// Function represents a user-defined function or routine
type Function struct {
	Name       string `json:"name"`
	Signature  string `json:"signature"`
	Definition string `json:"definition,omitempty"`
}

// Trigger represents a table trigger
type Trigger struct {
	Name       string `json:"name"`
	Table      string `json:"table"`
	Function   string `json:"function,omitempty"`
	Timing     string `json:"timing"`
	Event      string `json:"event"`
	Definition string `json:"definition,omitempty"`
}

// Index represents a table index
type Index struct {
	Name       string   `json:"name"`
	Table      string   `json:"table"`
	Columns    []string `json:"columns"`
	Definition string   `json:"definition,omitempty"`
	IsPrimary  bool     `json:"is_primary"`
	IsUnique   bool     `json:"is_unique"`
}

// Policy represents a row-level security policy
type Policy struct {
	Name    string `json:"name"`
	Table   string `json:"table"`
	Command string `json:"command"`
}

// EnumType represents an enumerated type with its ordered labels
type EnumType struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// Warning records a class that could not be enumerated and was substituted with an empty set
type Warning struct {
	Class   ObjectClass `json:"class"`
	Message string      `json:"message"`
}

// Catalog is the result of one discovery pass
type Catalog struct {
	Dialect       string     `json:"dialect"`
	Namespace     string     `json:"namespace"`
	ServerVersion string     `json:"server_version,omitempty"`
	DiscoveredAt  time.Time  `json:"discovered_at"`
	Tables        []Table    `json:"tables"`
	Views         []View     `json:"views"`
	Functions     []Function `json:"functions"`
	Triggers      []Trigger  `json:"triggers"`
	Indexes       []Index    `json:"indexes"`
	Policies      []Policy   `json:"policies"`
	EnumTypes     []EnumType `json:"enum_types"`
	Warnings      []Warning  `json:"warnings,omitempty"`
	failed        map[ObjectClass]bool
}

// ObjectCounts summarises a catalog
type ObjectCounts struct {
	Tables    int `json:"tables"`
	Views     int `json:"views"`
	Functions int `json:"functions"`
	Triggers  int `json:"triggers"`
	Indexes   int `json:"indexes"`
	Policies  int `json:"policies"`
	EnumTypes int `json:"enum_types"`
}

// Counts returns the number of objects discovered per class
func (c *Catalog) Counts() ObjectCounts {
	return ObjectCounts{
		Tables:    len(c.Tables),
		Views:     len(c.Views),
		Functions: len(c.Functions),
		Triggers:  len(c.Triggers),
		Indexes:   len(c.Indexes),
		Policies:  len(c.Policies),
		EnumTypes: len(c.EnumTypes),
	}
}

// Table looks up a discovered table by name
func (c *Catalog) Table(name string) (Table, bool) {
	for _, t := range c.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// TableNames returns discovered table names in discovery order
func (c *Catalog) TableNames() []string {
	names := make([]string, len(c.Tables))
	for i, t := range c.Tables {
		names[i] = t.Name
	}
	return names
}

// Failed reports whether a class degraded to an empty set during discovery
func (c *Catalog) Failed(class ObjectClass) bool {
	return c.failed[class]
}

func (c *Catalog) addWarning(class ObjectClass, message string) {
	c.Warnings = append(c.Warnings, Warning{Class: class, Message: message})
}

func (c *Catalog) markFailed(class ObjectClass) {
	if c.failed == nil {
		c.failed = make(map[ObjectClass]bool)
	}
	c.failed[class] = true
}

// attachPrimaryKeys fills Table.PrimaryKey from the primary indexes
func (c *Catalog) attachPrimaryKeys() {
	pk := make(map[string][]string)
	for _, idx := range c.Indexes {
		if idx.IsPrimary {
			pk[idx.Table] = idx.Columns
		}
	}
	for i := range c.Tables {
		if cols, ok := pk[c.Tables[i].Name]; ok {
			c.Tables[i].PrimaryKey = cols
		}
	}
}
