package db

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// TableKind identifies which fixed schema a fetched table uses.
type TableKind string

const (
	KindEvents   TableKind = "events"
	KindProfiles TableKind = "profiles"
)

// Column describes one column of a fetched table.
type Column struct {
	Name string
	Type string // DuckDB type
}

// Row holds one record's values in the column order of its TableKind.
type Row []any

var kindColumns = map[TableKind][]Column{
	KindEvents: {
		{Name: "event_name", Type: "VARCHAR"},
		{Name: "event_time", Type: "TIMESTAMP"},
		{Name: "distinct_id", Type: "VARCHAR"},
		{Name: "insert_id", Type: "VARCHAR"},
		{Name: "properties", Type: "VARCHAR"}, // JSON text
	},
	KindProfiles: {
		{Name: "distinct_id", Type: "VARCHAR"},
		{Name: "last_seen", Type: "TIMESTAMP"},
		{Name: "properties", Type: "VARCHAR"}, // JSON text
	},
}

// Columns returns the schema of kind, or an error for unknown kinds.
func Columns(kind TableKind) ([]Column, error) {
	cols, ok := kindColumns[kind]
	if !ok {
		return nil, fmt.Errorf("unknown table kind %q", kind)
	}
	return cols, nil
}

// TableMetadata describes how and when a table was fetched. One row per table in _metadata.
type TableMetadata struct {
	Kind      TableKind `json:"kind"`
	RunID     string    `json:"run_id"`
	FetchedAt time.Time `json:"fetched_at"`
	FromDate  string    `json:"from_date,omitempty"` // events only, YYYY-MM-DD
	ToDate    string    `json:"to_date,omitempty"`
	Events    []string  `json:"names,omitempty"` // event names filter (events) or output properties (profiles)
	Where     string    `json:"where,omitempty"`
	Filter    string    `json:"filter,omitempty"` // free-form description of profile scope
	RowCount  int64     `json:"row_count"`
}

// TableInfo is a fetched table as listed by ListTables.
type TableInfo struct {
	Name     string        `json:"name"`
	Metadata TableMetadata `json:"metadata"`
}

const metadataTable = "_metadata"

const schemaMetadataSQL = `
CREATE TABLE IF NOT EXISTS _metadata (
    table_name   VARCHAR PRIMARY KEY,
    kind         VARCHAR NOT NULL,      -- 'events' or 'profiles'
    run_id       VARCHAR,
    fetched_at   TIMESTAMP NOT NULL,
    from_date    VARCHAR,
    to_date      VARCHAR,
    names        VARCHAR,               -- JSON array of event names / output properties
    where_clause VARCHAR,
    filter       VARCHAR,
    row_count    BIGINT NOT NULL DEFAULT 0
);
`

var tableNameRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ValidateTableName rejects names that are not plain identifiers.
// A leading underscore is reserved for internal tables such as _metadata.
func ValidateTableName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidTableName)
	}
	if strings.HasPrefix(name, "_") {
		return fmt.Errorf("%w: %q (leading underscore is reserved)", ErrInvalidTableName, name)
	}
	if len(name) > 255 || !tableNameRegex.MatchString(name) {
		return fmt.Errorf("%w: %q (use letters, digits and underscores, starting with a letter)", ErrInvalidTableName, name)
	}
	return nil
}

// quoteIdent quotes an identifier for DuckDB.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func createTableSQL(name string, cols []Column) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = fmt.Sprintf("%s %s", quoteIdent(c.Name), c.Type)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s);", quoteIdent(name), strings.Join(defs, ", "))
}
