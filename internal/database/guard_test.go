package database

import (
	"errors"
	"strings"
	"testing"
)

func TestGuardStatement_AllowedQueries(t *testing.T) {
	allowed := []string{
		"SELECT * FROM users",
		"SELECT id, name FROM users WHERE id = 1",
		"select * from users",
		"WITH recent AS (SELECT * FROM orders) SELECT * FROM recent",
		"EXPLAIN SELECT * FROM users",
		"SELECT * FROM settings",
		"SELECT * FROM user_settings WHERE setting_name = 'theme'",
		"SELECT created_at FROM orders",
		"SELECT updated_at FROM products",
		"SELECT deleted FROM items",
		"SELECT * FROM users WHERE name = 'DROP TABLE users'", // keyword in string literal
	}

	for _, query := range allowed {
		t.Run(query, func(t *testing.T) {
			if _, err := guardStatement(query, 0, sqliteDialect); err != nil {
				t.Errorf("Expected query to be allowed, but got error: %v", err)
			}
			if _, err := guardStatement(query, 0, postgresDialect); err != nil {
				t.Errorf("Expected query to be allowed on postgres dialect, but got error: %v", err)
			}
		})
	}
}

func TestGuardStatement_BlockedQueries(t *testing.T) {
	blocked := []struct {
		query       string
		shouldBlock string
	}{
		{"INSERT INTO users VALUES (1, 'test')", "INSERT"},
		{"UPDATE users SET name = 'test'", "UPDATE"},
		{"DELETE FROM users", "DELETE"},
		{"DROP TABLE users", "DROP"},
		{"CREATE TABLE test (id INT)", "CREATE"},
		{"ALTER TABLE users ADD COLUMN age INT", "ALTER"},
		{"TRUNCATE TABLE users", "TRUNCATE"},
		{"GRANT ALL ON users TO bob", "GRANT"},
		{"REVOKE ALL ON users FROM bob", "REVOKE"},
		{"SET search_path = foo", "SET"},
		{"BEGIN", "BEGIN"},
		{"SELECT 1; DROP TABLE users", "multiple statements"},
		{"WITH doomed AS (DELETE FROM users RETURNING *) SELECT * FROM doomed", "DELETE inside CTE"},
	}

	for _, tc := range blocked {
		t.Run(tc.query, func(t *testing.T) {
			_, err := guardStatement(tc.query, 0, sqliteDialect)
			if err == nil {
				t.Fatalf("Expected query to be blocked for %s, but it was allowed", tc.shouldBlock)
			}
			var unsupported *UnsupportedStatementError
			if !errors.As(err, &unsupported) {
				t.Errorf("Expected UnsupportedStatementError, got %T: %v", err, err)
			}
		})
	}
}

func TestGuardStatement_SQLiteBlockedPatterns(t *testing.T) {
	blocked := []string{
		"SELECT load_extension('hack.so')",
		"SELECT writefile('/tmp/data', content)",
		"ATTACH DATABASE '/tmp/other.db' AS other",
		"VACUUM",
		"PRAGMA journal_mode = WAL",
	}

	for _, query := range blocked {
		t.Run(query, func(t *testing.T) {
			if _, err := guardStatement(query, 0, sqliteDialect); err == nil {
				t.Errorf("Expected query to be blocked: %s", query)
			}
		})
	}
}

func TestGuardStatement_PostgresBlockedPatterns(t *testing.T) {
	blocked := []string{
		"SELECT pg_sleep(10)",
		"SELECT pg_read_file('/etc/passwd')",
		"SELECT lo_import('/etc/passwd')",
		"COPY users TO '/tmp/data.csv'",
		"CALL some_procedure()",
		"LISTEN channel",
		"VACUUM users",
		"PRAGMA table_info(users)", // catalog statement unique to SQLite
	}

	for _, query := range blocked {
		t.Run(query, func(t *testing.T) {
			if _, err := guardStatement(query, 0, postgresDialect); err == nil {
				t.Errorf("Expected query to be blocked: %s", query)
			}
		})
	}
}

func TestGuardStatement_PragmaReadsAllowedOnSQLite(t *testing.T) {
	g, err := guardStatement("PRAGMA table_info(users)", 0, sqliteDialect)
	if err != nil {
		t.Fatalf("Expected PRAGMA read to be allowed: %v", err)
	}
	if strings.Contains(g.SQL, "LIMIT") {
		t.Errorf("PRAGMA statement must not receive an injected LIMIT: %s", g.SQL)
	}
}

func TestGuardStatement_EmptyQuery(t *testing.T) {
	for _, query := range []string{"", "   "} {
		if _, err := guardStatement(query, 0, sqliteDialect); err == nil {
			t.Errorf("Expected empty query to be rejected: %q", query)
		}
	}
}

func TestGuardStatement_LimitInjection(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		limit   int
		wantSQL string
		wantCap int
		wantOwn bool
	}{
		{
			name:    "default cap appended",
			query:   "SELECT * FROM t",
			limit:   0,
			wantSQL: "SELECT * FROM t\nLIMIT 500",
			wantCap: 500,
		},
		{
			name:    "caller limit below ceiling",
			query:   "SELECT * FROM t",
			limit:   10,
			wantSQL: "SELECT * FROM t\nLIMIT 10",
			wantCap: 10,
		},
		{
			name:    "caller limit clamped to ceiling",
			query:   "SELECT * FROM t",
			limit:   10000,
			wantSQL: "SELECT * FROM t\nLIMIT 500",
			wantCap: 500,
		},
		{
			name:    "trailing semicolon removed before append",
			query:   "SELECT * FROM t;",
			limit:   0,
			wantSQL: "SELECT * FROM t\nLIMIT 500",
			wantCap: 500,
		},
		{
			name:    "trailing line comment cannot absorb the clause",
			query:   "SELECT * FROM t -- all of them",
			limit:   0,
			wantSQL: "SELECT * FROM t -- all of them\nLIMIT 500",
			wantCap: 500,
		},
		{
			name:    "own LIMIT left untouched",
			query:   "SELECT * FROM t LIMIT 42",
			limit:   0,
			wantSQL: "SELECT * FROM t LIMIT 42",
			wantCap: 500,
			wantOwn: true,
		},
		{
			name:    "lowercase limit detected",
			query:   "select * from t limit 3",
			limit:   0,
			wantSQL: "select * from t limit 3",
			wantCap: 500,
			wantOwn: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g, err := guardStatement(tc.query, tc.limit, sqliteDialect)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if g.SQL != tc.wantSQL {
				t.Errorf("SQL: expected %q, got %q", tc.wantSQL, g.SQL)
			}
			if g.Cap != tc.wantCap {
				t.Errorf("Cap: expected %d, got %d", tc.wantCap, g.Cap)
			}
			if g.OwnLimit != tc.wantOwn {
				t.Errorf("OwnLimit: expected %v, got %v", tc.wantOwn, g.OwnLimit)
			}
		})
	}
}

func TestGuardStatement_LeadingComment(t *testing.T) {
	allowed := []string{
		"-- note\nSELECT 1",
		"/* note */ SELECT 1",
	}
	for _, query := range allowed {
		if _, err := guardStatement(query, 0, sqliteDialect); err != nil {
			t.Errorf("Expected query starting with a comment to be allowed: %q: %v", query, err)
		}
	}

	blocked := []string{
		"-- note\nDROP TABLE users",
		"-- only a comment",
	}
	for _, query := range blocked {
		if _, err := guardStatement(query, 0, sqliteDialect); err == nil {
			t.Errorf("Expected query to be blocked: %q", query)
		}
	}
}

func TestGuardStatement_LimitWordBoundary(t *testing.T) {
	// A column named "limitless" must not count as a LIMIT clause.
	g, err := guardStatement("SELECT limitless FROM t", 0, sqliteDialect)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.OwnLimit {
		t.Error("expected OwnLimit=false for column name containing 'limit'")
	}
	if !strings.HasSuffix(g.SQL, "LIMIT 500") {
		t.Errorf("expected injected LIMIT, got %q", g.SQL)
	}
}

func TestGuardedQuery_Truncated(t *testing.T) {
	tests := []struct {
		name     string
		g        guardedQuery
		rowCount int
		want     bool
	}{
		{"under cap, injected limit", guardedQuery{Cap: 500}, 499, false},
		{"at cap, injected limit", guardedQuery{Cap: 500}, 500, true},
		{"at cap, own limit", guardedQuery{Cap: 500, OwnLimit: true}, 500, false},
		{"under caller cap", guardedQuery{Cap: 10}, 9, false},
		{"at caller cap", guardedQuery{Cap: 10}, 10, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.g.truncated(tc.rowCount); got != tc.want {
				t.Errorf("truncated(%d) = %v, expected %v", tc.rowCount, got, tc.want)
			}
		})
	}
}

func TestGuardStatement_CommentInjection(t *testing.T) {
	queries := []string{
		"SELECT 1 -- ; DROP TABLE users",
		"SELECT 1 /* ; DROP TABLE users */",
	}

	for _, query := range queries {
		t.Run(query, func(t *testing.T) {
			_, err := guardStatement(query, 0, sqliteDialect)
			if err != nil && strings.Contains(err.Error(), "multiple statements") {
				t.Errorf("False positive on comment: %v", err)
			}
		})
	}
}

func TestStripLiterals(t *testing.T) {
	tests := []struct {
		name     string
		dialect  statementDialect
		input    string
		expected string
	}{
		{
			name:     "single-quoted string stripped",
			dialect:  sqliteDialect,
			input:    "SELECT * FROM users WHERE name = 'DROP TABLE'",
			expected: "SELECT * FROM users WHERE name = ''",
		},
		{
			name:     "-- comment stripped",
			dialect:  sqliteDialect,
			input:    "SELECT * FROM users -- comment",
			expected: "SELECT * FROM users  ",
		},
		{
			name:     "block comment stripped",
			dialect:  sqliteDialect,
			input:    "SELECT * FROM users /* comment */",
			expected: "SELECT * FROM users  ",
		},
		{
			name:     "backtick identifier preserved",
			dialect:  sqliteDialect,
			input:    "SELECT * FROM `table_name`",
			expected: "SELECT * FROM `table_name`",
		},
		{
			name:     "bracket identifier preserved",
			dialect:  sqliteDialect,
			input:    "SELECT * FROM [table_name]",
			expected: "SELECT * FROM [table_name]",
		},
		{
			name:     "double-quoted identifier preserved",
			dialect:  postgresDialect,
			input:    `SELECT * FROM "table_name"`,
			expected: `SELECT * FROM "table_name"`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := stripLiterals(tc.input, tc.dialect); got != tc.expected {
				t.Errorf("Expected %q, got %q", tc.expected, got)
			}
		})
	}
}

func TestStripLiterals_DollarQuoting(t *testing.T) {
	input := "SELECT * FROM t WHERE body = $$DROP TABLE users$$"
	if got := stripLiterals(input, postgresDialect); strings.Contains(got, "DROP") {
		t.Errorf("Dollar-quoted string content was not stripped: %s", got)
	}

	input = "SELECT * FROM t WHERE body = $tag$DROP TABLE users$tag$"
	if got := stripLiterals(input, postgresDialect); strings.Contains(got, "DROP") {
		t.Errorf("Tagged dollar-quoted string content was not stripped: %s", got)
	}
}

func TestStripLiterals_NoHashComment(t *testing.T) {
	// # is a comment in neither SQLite nor PostgreSQL.
	input := "SELECT # FROM users"
	for _, d := range []statementDialect{sqliteDialect, postgresDialect} {
		if got := stripLiterals(input, d); !strings.Contains(got, "#") {
			t.Errorf("# should not be treated as a comment: %s", got)
		}
	}
}
