package database

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

// postgresDialect handles dollar-quoted literals and refuses the server
// functions that reach the filesystem, sleep, or take locks, plus the
// statement kinds PostgreSQL layers on top of plain DML.
var postgresDialect = statementDialect{
	blockedPatterns: []blockedPattern{
		{regexp.MustCompile(`(?i)\bpg_read_file\s*\(`), "pg_read_file()"},
		{regexp.MustCompile(`(?i)\bpg_read_binary_file\s*\(`), "pg_read_binary_file()"},
		{regexp.MustCompile(`(?i)\bpg_ls_dir\s*\(`), "pg_ls_dir()"},
		{regexp.MustCompile(`(?i)\blo_import\s*\(`), "lo_import()"},
		{regexp.MustCompile(`(?i)\blo_export\s*\(`), "lo_export()"},
		{regexp.MustCompile(`(?i)\bpg_sleep\s*\(`), "pg_sleep()"},
		{regexp.MustCompile(`(?i)\bpg_sleep_for\s*\(`), "pg_sleep_for()"},
		{regexp.MustCompile(`(?i)\bpg_sleep_until\s*\(`), "pg_sleep_until()"},
		{regexp.MustCompile(`(?i)\bpg_advisory_lock\s*\(`), "pg_advisory_lock()"},
		{regexp.MustCompile(`(?i)\bpg_advisory_xact_lock\s*\(`), "pg_advisory_xact_lock()"},
		{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])COPY(?:[^a-zA-Z_]|$)`), "COPY"},
		{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])CALL(?:[^a-zA-Z_]|$)`), "CALL"},
		{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])EXECUTE(?:[^a-zA-Z_]|$)`), "EXECUTE"},
		{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])LISTEN(?:[^a-zA-Z_]|$)`), "LISTEN"},
		{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])NOTIFY(?:[^a-zA-Z_]|$)`), "NOTIFY"},
		{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])PREPARE(?:[^a-zA-Z_]|$)`), "PREPARE"},
		{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])DEALLOCATE(?:[^a-zA-Z_]|$)`), "DEALLOCATE"},
		{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])VACUUM(?:[^a-zA-Z_]|$)`), "VACUUM"},
		{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])REINDEX(?:[^a-zA-Z_]|$)`), "REINDEX"},
		{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])CLUSTER(?:[^a-zA-Z_]|$)`), "CLUSTER"},
	},
	dollarQuotes: true,
}

// PostgresDriver implements Driver against a PostgreSQL server through a
// small bounded connection pool; a handful of calls can run concurrently,
// each on its own connection.
type PostgresDriver struct {
	pool *pgxpool.Pool
}

const maxPoolConns = 5

// OpenPostgres connects to dsn and verifies the server is reachable. An
// unreachable host or failed authentication is fatal here.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresDriver, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, &ConnectionError{Descriptor: dsn, Cause: err}
	}

	cfg.MaxConns = maxPoolConns
	cfg.MinConns = 1
	// The guard is the real gate; read-only transactions on every pooled
	// connection back it up at the server.
	cfg.ConnConfig.RuntimeParams["default_transaction_read_only"] = "on"

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, &ConnectionError{Descriptor: dsn, Cause: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &ConnectionError{Descriptor: dsn, Cause: err}
	}

	return &PostgresDriver{pool: pool}, nil
}

const queryListTables = `
	SELECT table_name,
	       CASE table_type WHEN 'VIEW' THEN 'view' ELSE 'table' END AS kind
	FROM information_schema.tables
	WHERE table_schema = 'public'
	ORDER BY table_name`

const queryTableColumns = `
	SELECT c.column_name,
	       c.data_type,
	       c.is_nullable,
	       c.column_default,
	       pk.column_name IS NOT NULL AS is_primary
	FROM information_schema.columns c
	LEFT JOIN (
		SELECT ku.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage ku
			ON tc.constraint_name = ku.constraint_name
			AND tc.table_schema = ku.table_schema
			AND tc.table_name = ku.table_name
		WHERE tc.constraint_type = 'PRIMARY KEY'
			AND tc.table_schema = 'public'
			AND tc.table_name = $1
	) pk ON c.column_name = pk.column_name
	WHERE c.table_schema = 'public'
	  AND c.table_name = $1
	ORDER BY c.ordinal_position`

// queryTableIndexes unnests the index's column-number array WITH
// ORDINALITY and orders by that rank. Joining pg_attribute without the
// rank would silently scramble composite index column order.
const queryTableIndexes = `
	SELECT i.relname,
	       a.attname,
	       ix.indisunique,
	       k.ord
	FROM pg_class t
	JOIN pg_namespace n ON n.oid = t.relnamespace
	JOIN pg_index ix ON ix.indrelid = t.oid
	JOIN pg_class i ON i.oid = ix.indexrelid
	CROSS JOIN LATERAL unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord)
	JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
	WHERE n.nspname = 'public'
	  AND t.relname = $1
	ORDER BY i.relname, k.ord`

// queryTableForeignKeys unnests conkey and confkey together so source
// and referenced columns pair up positionally. Joining the standardized
// column-usage views instead cross-products the columns of a composite
// constraint. Composite keys come back as one single-column edge per
// position, in declaration order.
const queryTableForeignKeys = `
	SELECT src.attname,
	       ref_tbl.relname AS ref_table,
	       ref.attname AS ref_column
	FROM pg_constraint con
	JOIN pg_class tbl ON tbl.oid = con.conrelid
	JOIN pg_namespace n ON n.oid = tbl.relnamespace
	JOIN pg_class ref_tbl ON ref_tbl.oid = con.confrelid
	CROSS JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS k(attnum, fattnum, ord)
	JOIN pg_attribute src ON src.attrelid = con.conrelid AND src.attnum = k.attnum
	JOIN pg_attribute ref ON ref.attrelid = con.confrelid AND ref.attnum = k.fattnum
	WHERE con.contype = 'f'
	  AND n.nspname = 'public'
	  AND tbl.relname = $1
	ORDER BY con.conname, k.ord`

const queryAllForeignKeys = `
	SELECT tbl.relname,
	       src.attname,
	       ref_tbl.relname AS ref_table,
	       ref.attname AS ref_column
	FROM pg_constraint con
	JOIN pg_class tbl ON tbl.oid = con.conrelid
	JOIN pg_namespace n ON n.oid = tbl.relnamespace
	JOIN pg_class ref_tbl ON ref_tbl.oid = con.confrelid
	CROSS JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS k(attnum, fattnum, ord)
	JOIN pg_attribute src ON src.attrelid = con.conrelid AND src.attnum = k.attnum
	JOIN pg_attribute ref ON ref.attrelid = con.confrelid AND ref.attnum = k.fattnum
	WHERE con.contype = 'f'
	  AND n.nspname = 'public'
	ORDER BY tbl.relname, con.conname, k.ord`

// queryTableStats reads the planner-maintained estimate instead of
// counting. reltuples can lag the true count under heavy write or vacuum
// activity; that inaccuracy is the price of never scanning a large table.
const queryTableStats = `
	SELECT c.relname,
	       GREATEST(c.reltuples, 0)::bigint AS row_estimate,
	       (SELECT COUNT(*) FROM information_schema.columns col
	         WHERE col.table_schema = n.nspname AND col.table_name = c.relname)::int AS column_count
	FROM pg_class c
	JOIN pg_namespace n ON n.oid = c.relnamespace
	WHERE n.nspname = 'public'
	  AND c.relkind = 'r'
	ORDER BY c.relname`

func (d *PostgresDriver) ListTables(ctx context.Context) ([]Table, error) {
	rows, err := d.pool.Query(ctx, queryListTables)
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

func (d *PostgresDriver) DescribeTable(ctx context.Context, table string) (*TableSchema, error) {
	columns, err := d.tableColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
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

func (d *PostgresDriver) tableColumns(ctx context.Context, table string) ([]Column, error) {
	rows, err := d.pool.Query(ctx, queryTableColumns, table)
	if err != nil {
		return nil, &IntrospectionError{Table: table, Cause: err}
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var col Column
		var nullable string
		if err := rows.Scan(&col.Name, &col.DataType, &nullable, &col.Default, &col.PrimaryKey); err != nil {
			return nil, &IntrospectionError{Table: table, Cause: err}
		}
		col.Nullable = nullable == "YES"
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

func (d *PostgresDriver) tableIndexes(ctx context.Context, table string) ([]Index, error) {
	rows, err := d.pool.Query(ctx, queryTableIndexes, table)
	if err != nil {
		return nil, &IntrospectionError{Table: table, Cause: err}
	}
	defer rows.Close()

	var indexes []Index
	byName := map[string]int{}
	for rows.Next() {
		var name, column string
		var unique bool
		var ord int64
		if err := rows.Scan(&name, &column, &unique, &ord); err != nil {
			return nil, &IntrospectionError{Table: table, Cause: err}
		}
		i, ok := byName[name]
		if !ok {
			i = len(indexes)
			byName[name] = i
			indexes = append(indexes, Index{Name: name, Unique: unique})
		}
		// Rows arrive ordered by (index name, ordinality), so appending
		// preserves composite column order.
		indexes[i].Columns = append(indexes[i].Columns, column)
	}
	return indexes, rows.Err()
}

func (d *PostgresDriver) tableForeignKeys(ctx context.Context, table string) ([]ForeignKey, error) {
	rows, err := d.pool.Query(ctx, queryTableForeignKeys, table)
	if err != nil {
		return nil, &IntrospectionError{Table: table, Cause: err}
	}
	defer rows.Close()

	var fks []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.Column, &fk.RefTable, &fk.RefColumn); err != nil {
			return nil, &IntrospectionError{Table: table, Cause: err}
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

func (d *PostgresDriver) Query(ctx context.Context, sqlQuery string, limit int) (*QueryResult, error) {
	g, err := guardStatement(sqlQuery, limit, postgresDialect)
	if err != nil {
		return nil, err
	}

	rows, err := d.pool.Query(ctx, g.SQL)
	if err != nil {
		return nil, &QueryExecutionError{Query: sqlQuery, Cause: err}
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}

	result := &QueryResult{Columns: cols, Rows: []map[string]any{}}
	for rows.Next() {
		// The cap holds even if the injected clause never reached the
		// engine, e.g. swallowed by an unterminated comment.
		if g.truncated(len(result.Rows)) {
			break
		}
		values, err := rows.Values()
		if err != nil {
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

// GetSchema synthesizes CREATE TABLE text from the live catalog.
// PostgreSQL does not retain original creation statements, so unlike the
// SQLite adapter this text is reconstructed and is not guaranteed to be
// byte-identical to anything a user actually ran.
func (d *PostgresDriver) GetSchema(ctx context.Context) (string, error) {
	tables, err := d.baseTables(ctx)
	if err != nil {
		return "", err
	}

	var stmts []string
	for _, t := range tables {
		columns, err := d.tableColumns(ctx, t)
		if err != nil {
			return "", err
		}
		fks, err := d.tableForeignKeys(ctx, t)
		if err != nil {
			return "", err
		}
		stmts = append(stmts, renderCreateTable(t, columns, fks))
	}
	return strings.Join(stmts, "\n\n"), nil
}

// renderCreateTable formats one synthesized CREATE TABLE statement from
// already-collected column and foreign-key metadata.
func renderCreateTable(table string, columns []Column, fks []ForeignKey) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", pq.QuoteIdentifier(table))

	lines := make([]string, 0, len(columns)+len(fks))
	for _, col := range columns {
		line := fmt.Sprintf("    %s %s", pq.QuoteIdentifier(col.Name), col.DataType)
		if !col.Nullable {
			line += " NOT NULL"
		}
		if col.Default != nil {
			line += " DEFAULT " + *col.Default
		}
		if col.PrimaryKey {
			line += " PRIMARY KEY"
		}
		lines = append(lines, line)
	}
	for _, fk := range fks {
		lines = append(lines, fmt.Sprintf("    FOREIGN KEY (%s) REFERENCES %s (%s)",
			pq.QuoteIdentifier(fk.Column), pq.QuoteIdentifier(fk.RefTable), pq.QuoteIdentifier(fk.RefColumn)))
	}

	b.WriteString(strings.Join(lines, ",\n"))
	b.WriteString("\n);")
	return b.String()
}

func (d *PostgresDriver) GetStats(ctx context.Context) ([]TableStats, error) {
	rows, err := d.pool.Query(ctx, queryTableStats)
	if err != nil {
		return nil, &IntrospectionError{Cause: err}
	}
	defer rows.Close()

	var stats []TableStats
	for rows.Next() {
		var s TableStats
		if err := rows.Scan(&s.Table, &s.RowCount, &s.ColumnCount); err != nil {
			return nil, &IntrospectionError{Cause: err}
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// GetRelationships produces the full edge list from a single joined
// catalog query; no per-table enumeration is needed on this backend.
func (d *PostgresDriver) GetRelationships(ctx context.Context) ([]Relationship, error) {
	rows, err := d.pool.Query(ctx, queryAllForeignKeys)
	if err != nil {
		return nil, &IntrospectionError{Cause: err}
	}
	defer rows.Close()

	var edges []Relationship
	for rows.Next() {
		var e Relationship
		if err := rows.Scan(&e.FromTable, &e.FromColumn, &e.ToTable, &e.ToColumn); err != nil {
			return nil, &IntrospectionError{Cause: err}
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (d *PostgresDriver) baseTables(ctx context.Context) ([]string, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		 ORDER BY table_name`)
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

func (d *PostgresDriver) Close() error {
	d.pool.Close()
	return nil
}
