package database

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"

	_ "modernc.org/sqlite"
)

// sqliteDialect extends the allow-list with PRAGMA reads, SQLite's own
// catalog-introspection statement kind, and refuses the functions that
// can reach the filesystem or load code.
var sqliteDialect = statementDialect{
	extraKeywords: []string{"pragma"},
	blockedPatterns: []blockedPattern{
		{regexp.MustCompile(`(?i)\bload_extension\s*\(`), "load_extension()"},
		{regexp.MustCompile(`(?i)\bwritefile\s*\(`), "writefile()"},
		{regexp.MustCompile(`(?i)\bedit\s*\(`), "edit()"},
		{regexp.MustCompile(`(?i)\bfts3_tokenizer\s*\(`), "fts3_tokenizer()"},
		{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])ATTACH(?:[^a-zA-Z_]|$)`), "ATTACH"},
		{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])DETACH(?:[^a-zA-Z_]|$)`), "DETACH"},
		{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])REINDEX(?:[^a-zA-Z_]|$)`), "REINDEX"},
		{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])VACUUM(?:[^a-zA-Z_]|$)`), "VACUUM"},
		{regexp.MustCompile(`(?i)\bPRAGMA\s+\w+\s*=`), "PRAGMA write"},
	},
	backtickIdents: true,
	bracketIdents:  true,
}

// SQLiteDriver implements Driver against a single-file SQLite database.
// All access serializes through one connection; concurrent calls queue at
// the engine rather than executing in parallel.
type SQLiteDriver struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens path read-only and verifies it is reachable. A missing
// or unreadable file is fatal here.
func OpenSQLite(ctx context.Context, path string) (*SQLiteDriver, error) {
	path = strings.TrimPrefix(path, "file:")
	path = strings.TrimPrefix(path, "//")
	if path == "" {
		return nil, &ConnectionError{Descriptor: path, Cause: fmt.Errorf("database file path is required")}
	}

	dsn := "file:" + path
	if !strings.Contains(path, "?") {
		dsn += "?mode=ro"
	} else if !strings.Contains(path, "mode=") {
		dsn += "&mode=ro"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &ConnectionError{Descriptor: path, Cause: err}
	}

	// One connection: the engine is single-file and access serializes
	// through it.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &ConnectionError{Descriptor: path, Cause: err}
	}

	// mode=ro in the DSN is the primary guard; query_only backs it up.
	if _, err := db.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		db.Close()
		return nil, &ConnectionError{Descriptor: path, Cause: err}
	}

	return &SQLiteDriver{db: db, path: path}, nil
}

func (d *SQLiteDriver) ListTables(ctx context.Context) ([]Table, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT name, type FROM sqlite_master
		 WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'
		 ORDER BY name`)
	if err != nil {
		return nil, &IntrospectionError{Cause: err}
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		var t Table
		if err := rows.Scan(&t.Name, &t.Kind); err != nil {
			return nil, &IntrospectionError{Cause: err}
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &IntrospectionError{Cause: err}
	}
	return tables, nil
}

func (d *SQLiteDriver) DescribeTable(ctx context.Context, table string) (*TableSchema, error) {
	columns, err := d.tableColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		// PRAGMA table_info on an unknown table yields zero rows, not an
		// engine error.
		return nil, &IntrospectionError{Table: table}
	}

	indexes, err := d.tableIndexes(ctx, table)
	if err != nil {
		return nil, err
	}

	fks, err := d.tableForeignKeys(ctx, table)
	if err != nil {
		return nil, err
	}

	return &TableSchema{Columns: columns, Indexes: indexes, ForeignKeys: fks}, nil
}

// tableInfoRow mirrors one PRAGMA table_info result row.
type tableInfoRow struct {
	cid       int
	name      string
	dataType  string
	notNull   int
	dfltValue sql.NullString
	pk        int
}

func (d *SQLiteDriver) tableColumns(ctx context.Context, table string) ([]Column, error) {
	rows, err := d.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, &IntrospectionError{Table: table, Cause: err}
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var r tableInfoRow
		if err := rows.Scan(&r.cid, &r.name, &r.dataType, &r.notNull, &r.dfltValue, &r.pk); err != nil {
			return nil, &IntrospectionError{Table: table, Cause: err}
		}
		col := Column{
			Name:       r.name,
			DataType:   r.dataType,
			Nullable:   r.notNull == 0 && r.pk == 0,
			PrimaryKey: r.pk > 0,
		}
		if r.dfltValue.Valid {
			v := r.dfltValue.String
			col.Default = &v
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

// indexListRow mirrors one PRAGMA index_list result row.
type indexListRow struct {
	seq     int
	name    string
	unique  int
	origin  string
	partial int
}

func (d *SQLiteDriver) tableIndexes(ctx context.Context, table string) ([]Index, error) {
	rows, err := d.db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_list(%s)", quoteIdent(table)))
	if err != nil {
		return nil, &IntrospectionError{Table: table, Cause: err}
	}
	defer rows.Close()

	var listed []indexListRow
	for rows.Next() {
		var r indexListRow
		if err := rows.Scan(&r.seq, &r.name, &r.unique, &r.origin, &r.partial); err != nil {
			return nil, &IntrospectionError{Table: table, Cause: err}
		}
		listed = append(listed, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &IntrospectionError{Table: table, Cause: err}
	}

	var indexes []Index
	for _, l := range listed {
		cols, err := d.indexColumns(ctx, l.name)
		if err != nil {
			return nil, err
		}
		indexes = append(indexes, Index{Name: l.name, Columns: cols, Unique: l.unique == 1})
	}
	return indexes, nil
}

// indexColumns recovers an index's column list from a nested PRAGMA
// index_info call. Order comes from the call's own seqno field, not from
// declaration order; for composite indexes that ordering is load-bearing.
func (d *SQLiteDriver) indexColumns(ctx context.Context, index string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_info(%s)", quoteIdent(index)))
	if err != nil {
		return nil, &IntrospectionError{Table: index, Cause: err}
	}
	defer rows.Close()

	type indexCol struct {
		seqno int
		name  string
	}
	var cols []indexCol
	for rows.Next() {
		var seqno, cid int
		var name sql.NullString
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, &IntrospectionError{Table: index, Cause: err}
		}
		cols = append(cols, indexCol{seqno: seqno, name: name.String})
	}
	if err := rows.Err(); err != nil {
		return nil, &IntrospectionError{Table: index, Cause: err}
	}

	sort.Slice(cols, func(i, j int) bool { return cols[i].seqno < cols[j].seqno })
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	return names, nil
}

func (d *SQLiteDriver) tableForeignKeys(ctx context.Context, table string) ([]ForeignKey, error) {
	rows, err := d.db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", quoteIdent(table)))
	if err != nil {
		return nil, &IntrospectionError{Table: table, Cause: err}
	}
	defer rows.Close()

	var fks []ForeignKey
	for rows.Next() {
		var id, seq int
		var refTable, from string
		var to, onUpdate, onDelete, match sql.NullString
		if err := rows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return nil, &IntrospectionError{Table: table, Cause: err}
		}
		fks = append(fks, ForeignKey{Column: from, RefTable: refTable, RefColumn: to.String})
	}
	return fks, rows.Err()
}

func (d *SQLiteDriver) Query(ctx context.Context, sqlQuery string, limit int) (*QueryResult, error) {
	g, err := guardStatement(sqlQuery, limit, sqliteDialect)
	if err != nil {
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx, g.SQL)
	if err != nil {
		return nil, &QueryExecutionError{Query: sqlQuery, Cause: err}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, &QueryExecutionError{Query: sqlQuery, Cause: err}
	}

	result := &QueryResult{Columns: cols, Rows: []map[string]any{}}
	for rows.Next() {
		// The cap holds even if the injected clause never reached the
		// engine, e.g. swallowed by an unterminated comment.
		if g.truncated(len(result.Rows)) {
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &QueryExecutionError{Query: sqlQuery, Cause: err}
		}

		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = values[i]
			}
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryExecutionError{Query: sqlQuery, Cause: err}
	}

	result.RowCount = len(result.Rows)
	result.Truncated = g.truncated(result.RowCount)
	return result, nil
}

// GetSchema returns the verbatim creation statement stored by the engine
// for every table and view. SQLite keeps the text exactly as submitted,
// whitespace and comments included, and this method preserves it
// byte-for-byte.
func (d *SQLiteDriver) GetSchema(ctx context.Context) (string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT sql FROM sqlite_master
		 WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%' AND sql IS NOT NULL
		 ORDER BY name`)
	if err != nil {
		return "", &IntrospectionError{Cause: err}
	}
	defer rows.Close()

	var stmts []string
	for rows.Next() {
		var ddl string
		if err := rows.Scan(&ddl); err != nil {
			return "", &IntrospectionError{Cause: err}
		}
		stmts = append(stmts, ddl+";")
	}
	if err := rows.Err(); err != nil {
		return "", &IntrospectionError{Cause: err}
	}
	return strings.Join(stmts, "\n\n"), nil
}

// GetStats counts rows exactly with one COUNT(*) per table. The engine is
// a local file at small-to-medium scale, so the full scan is acceptable;
// the PostgreSQL adapter deliberately does not work this way.
func (d *SQLiteDriver) GetStats(ctx context.Context) ([]TableStats, error) {
	tables, err := d.baseTables(ctx)
	if err != nil {
		return nil, err
	}

	var stats []TableStats
	for _, t := range tables {
		var rowCount int64
		if err := d.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(t))).Scan(&rowCount); err != nil {
			return nil, &IntrospectionError{Table: t, Cause: err}
		}
		cols, err := d.tableColumns(ctx, t)
		if err != nil {
			return nil, err
		}
		stats = append(stats, TableStats{Table: t, RowCount: rowCount, ColumnCount: len(cols)})
	}
	return stats, nil
}

// GetRelationships enumerates every base table and flattens its
// foreign_key_list, with the enumerating table as FromTable.
func (d *SQLiteDriver) GetRelationships(ctx context.Context) ([]Relationship, error) {
	tables, err := d.baseTables(ctx)
	if err != nil {
		return nil, err
	}

	var edges []Relationship
	for _, t := range tables {
		fks, err := d.tableForeignKeys(ctx, t)
		if err != nil {
			return nil, err
		}
		for _, fk := range fks {
			edges = append(edges, Relationship{
				FromTable:  t,
				FromColumn: fk.Column,
				ToTable:    fk.RefTable,
				ToColumn:   fk.RefColumn,
			})
		}
	}
	return edges, nil
}

func (d *SQLiteDriver) baseTables(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master
		 WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		 ORDER BY name`)
	if err != nil {
		return nil, &IntrospectionError{Cause: err}
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &IntrospectionError{Cause: err}
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (d *SQLiteDriver) Close() error {
	return d.db.Close()
}

// quoteIdent safely quotes a table or index name for SQLite. PRAGMA
// statements cannot use ? placeholders, so names are embedded quoted.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
