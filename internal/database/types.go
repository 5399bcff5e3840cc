package database

// Table kinds as reported by ListTables.
const (
	KindTable = "table"
	KindView  = "view"
)

// Table is a single entry in a table listing.
type Table struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// Column describes one column as reported by the engine's live catalog.
type Column struct {
	Name       string  `json:"name"`
	DataType   string  `json:"data_type"`
	Nullable   bool    `json:"nullable"`
	Default    *string `json:"default,omitempty"`
	PrimaryKey bool    `json:"primary_key"`
}

// Index describes one index. Columns is in catalog ordinal order; for
// composite indexes that order determines which queries the index can
// satisfy, so it must never be re-sorted.
type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

// ForeignKey is a single-column edge from Column to RefTable.RefColumn.
// Composite foreign keys are reported as multiple single-column edges
// sharing the same source and target table.
type ForeignKey struct {
	Column    string `json:"column"`
	RefTable  string `json:"ref_table"`
	RefColumn string `json:"ref_column"`
}

// TableSchema is the result of DescribeTable.
type TableSchema struct {
	Columns     []Column     `json:"columns"`
	Indexes     []Index      `json:"indexes"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
}

// TableStats holds per-table row and column counts. RowCount is exact on
// SQLite (COUNT(*) per table) and a planner estimate on PostgreSQL
// (pg_class.reltuples, which can lag the true count under heavy write or
// vacuum activity). Callers comparing counts across backends must account
// for this.
type TableStats struct {
	Table       string `json:"table"`
	RowCount    int64  `json:"row_count"`
	ColumnCount int    `json:"column_count"`
}

// QueryResult holds the rows returned by Query. Truncated is true only
// when the row cap injected by the safety guard cut the result short; a
// query that returns exactly the cap through its own LIMIT clause reports
// Truncated=false.
type QueryResult struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	Truncated bool             `json:"truncated"`
}

// Relationship is one foreign-key edge in the database graph. The full
// edge set returned by GetRelationships equals the union of ForeignKeys
// across every table's DescribeTable result.
type Relationship struct {
	FromTable  string `json:"from_table"`
	FromColumn string `json:"from_column"`
	ToTable    string `json:"to_table"`
	ToColumn   string `json:"to_column"`
}
