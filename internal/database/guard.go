package database

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxQueryRows is the hard ceiling on rows returned by Query. A caller
// limit above it is clamped down, never up.
const MaxQueryRows = 500

// readOnlyKeywords are the leading keywords every backend accepts.
// Adapters may extend the set (SQLite additionally allows PRAGMA reads).
var readOnlyKeywords = []string{"select", "with", "explain"}

// dangerousKeywords are DML/DDL keywords refused inside any statement,
// even one that leads with an allowed keyword. Matched against text with
// string literals and comments stripped.
var dangerousKeywords = []struct {
	pattern *regexp.Regexp
	desc    string
}{
	{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])INSERT(?:[^a-zA-Z_]|$)`), "INSERT"},
	{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])UPDATE(?:[^a-zA-Z_]|$)`), "UPDATE"},
	{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])DELETE(?:[^a-zA-Z_]|$)`), "DELETE"},
	{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])DROP(?:[^a-zA-Z_]|$)`), "DROP"},
	{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])CREATE(?:[^a-zA-Z_]|$)`), "CREATE"},
	{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])ALTER(?:[^a-zA-Z_]|$)`), "ALTER"},
	{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])TRUNCATE(?:[^a-zA-Z_]|$)`), "TRUNCATE"},
	{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])REPLACE(?:[^a-zA-Z_]|$)`), "REPLACE"},
	{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])GRANT(?:[^a-zA-Z_]|$)`), "GRANT"},
	{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])REVOKE(?:[^a-zA-Z_]|$)`), "REVOKE"},
}

var limitClauseRE = regexp.MustCompile(`(?i)\blimit\b`)

// guardedQuery is the outcome of running a statement through the guard:
// the text to execute (original casing, possibly with a LIMIT appended),
// the effective row cap, and whether the statement carried its own LIMIT.
type guardedQuery struct {
	SQL      string
	Cap      int
	OwnLimit bool
}

// statementDialect tunes classification for one backend: which extra
// leading keywords it accepts, which engine functions are refused, and
// how its string literals quote.
type statementDialect struct {
	extraKeywords   []string
	blockedPatterns []blockedPattern
	dollarQuotes    bool // $$...$$ and $tag$...$tag$ literals
	backtickIdents  bool // `ident`
	bracketIdents   bool // [ident]
}

type blockedPattern struct {
	pattern *regexp.Regexp
	desc    string
}

// guardStatement validates sqlQuery against the read-only policy and
// determines the row cap. It never touches the engine: rejection happens
// entirely on the statement text. limit <= 0 means no caller limit.
func guardStatement(sqlQuery string, limit int, d statementDialect) (*guardedQuery, error) {
	trimmed := strings.TrimSpace(sqlQuery)
	if trimmed == "" {
		return nil, &UnsupportedStatementError{Reason: "empty query"}
	}

	// Classification runs on text with comments and literals stripped, so
	// a leading comment cannot hide the first keyword. The original casing
	// executes.
	cleaned := stripLiterals(trimmed, d)
	body := strings.TrimSpace(cleaned)
	if body == "" {
		return nil, &UnsupportedStatementError{Reason: "empty query"}
	}

	leading := strings.ToLower(firstWord(body))
	if !containsKeyword(readOnlyKeywords, leading) && !containsKeyword(d.extraKeywords, leading) {
		allowed := strings.ToUpper(strings.Join(append(append([]string{}, readOnlyKeywords...), d.extraKeywords...), ", "))
		return nil, &UnsupportedStatementError{
			Reason: fmt.Sprintf("only %s statements are allowed, got %q", allowed, strings.ToUpper(leading)),
		}
	}

	// A second statement after the first terminator is refused; a bare
	// trailing semicolon is fine.
	if idx := strings.Index(cleaned, ";"); idx >= 0 {
		if strings.TrimSpace(cleaned[idx+1:]) != "" {
			return nil, &UnsupportedStatementError{Reason: "multiple statements are not allowed"}
		}
	}

	for _, dk := range dangerousKeywords {
		if dk.pattern.MatchString(cleaned) {
			return nil, &UnsupportedStatementError{Reason: "statement contains forbidden keyword: " + dk.desc}
		}
	}
	for _, bp := range d.blockedPatterns {
		if bp.pattern.MatchString(cleaned) {
			return nil, &UnsupportedStatementError{Reason: "statement contains forbidden pattern: " + bp.desc}
		}
	}

	rowCap := MaxQueryRows
	if limit > 0 && limit < MaxQueryRows {
		rowCap = limit
	}

	g := &guardedQuery{SQL: trimmed, Cap: rowCap, OwnLimit: limitClauseRE.MatchString(cleaned)}

	// PRAGMA output is bounded by the catalog itself and the statement
	// form does not take a LIMIT clause.
	if leading == "pragma" {
		g.OwnLimit = true
		return g, nil
	}

	if !g.OwnLimit {
		// On its own line so a trailing line comment cannot absorb the
		// clause.
		g.SQL = strings.TrimRight(trimmed, "; \t\r\n") + fmt.Sprintf("\nLIMIT %d", g.Cap)
	}
	return g, nil
}

// truncated reports whether a result of rowCount rows was cut off by the
// guard's cap rather than by the query's own semantics.
func (g *guardedQuery) truncated(rowCount int) bool {
	return !g.OwnLimit && rowCount >= g.Cap
}

func firstWord(s string) string {
	for i, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '(' || r == ';' {
			return s[:i]
		}
	}
	return s
}

func containsKeyword(set []string, kw string) bool {
	for _, k := range set {
		if k == kw {
			return true
		}
	}
	return false
}

// stripLiterals replaces string literals and comments with placeholders
// so keyword scanning cannot false-positive on quoted text. Identifier
// quoting is preserved; only literal content is removed.
func stripLiterals(sql string, d statementDialect) string {
	var result strings.Builder
	i := 0
	n := len(sql)

	for i < n {
		// -- line comment
		if i+1 < n && sql[i] == '-' && sql[i+1] == '-' {
			for i < n && sql[i] != '\n' {
				i++
			}
			result.WriteByte(' ')
			continue
		}

		// /* */ block comment
		if i+1 < n && sql[i] == '/' && sql[i+1] == '*' {
			i += 2
			for i+1 < n && !(sql[i] == '*' && sql[i+1] == '/') {
				i++
			}
			i += 2
			result.WriteByte(' ')
			continue
		}

		// $tag$...$tag$ dollar-quoted literal
		if d.dollarQuotes && sql[i] == '$' {
			if tagEnd := strings.Index(sql[i+1:], "$"); tagEnd >= 0 {
				tag := sql[i : i+tagEnd+2]
				if closeIdx := strings.Index(sql[i+len(tag):], tag); closeIdx >= 0 {
					i += len(tag) + closeIdx + len(tag)
					result.WriteString("''")
					continue
				}
			}
		}

		// 'single-quoted literal', '' escapes the quote
		if sql[i] == '\'' {
			i++
			for i < n {
				if sql[i] == '\'' {
					if i+1 < n && sql[i+1] == '\'' {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
			result.WriteString("''")
			continue
		}

		// "double-quoted identifier" is kept, "" escapes the quote
		if sql[i] == '"' {
			result.WriteByte('"')
			i++
			for i < n {
				if sql[i] == '"' {
					if i+1 < n && sql[i+1] == '"' {
						result.WriteString(`""`)
						i += 2
						continue
					}
					result.WriteByte('"')
					i++
					break
				}
				result.WriteByte(sql[i])
				i++
			}
			continue
		}

		if d.backtickIdents && sql[i] == '`' {
			result.WriteByte('`')
			i++
			for i < n && sql[i] != '`' {
				result.WriteByte(sql[i])
				i++
			}
			if i < n {
				result.WriteByte('`')
				i++
			}
			continue
		}

		if d.bracketIdents && sql[i] == '[' {
			result.WriteByte('[')
			i++
			for i < n && sql[i] != ']' {
				result.WriteByte(sql[i])
				i++
			}
			if i < n {
				result.WriteByte(']')
				i++
			}
			continue
		}

		result.WriteByte(sql[i])
		i++
	}

	return result.String()
}
