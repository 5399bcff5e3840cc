package database

import "fmt"

// ConnectionError reports a failure to reach the database at construction
// time. It is fatal and never retried internally.
type ConnectionError struct {
	Descriptor string
	Cause      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error: %v", e.Cause)
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// UnsupportedStatementError is raised by the safety guard before any
// engine I/O when a statement is not on the read-only allow-list.
type UnsupportedStatementError struct {
	Reason string
}

func (e *UnsupportedStatementError) Error() string {
	return fmt.Sprintf("unsupported statement: %s", e.Reason)
}

// QueryExecutionError wraps an engine-side failure of a statement the
// guard permitted. Cause carries the engine's original error unmodified.
type QueryExecutionError struct {
	Query string
	Cause error
}

func (e *QueryExecutionError) Error() string {
	return fmt.Sprintf("query error: %v", e.Cause)
}

func (e *QueryExecutionError) Unwrap() error {
	return e.Cause
}

// IntrospectionError reports a failed catalog-query step, e.g. describing
// a table that does not exist.
type IntrospectionError struct {
	Table string
	Cause error
}

func (e *IntrospectionError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("introspection error: no such table %q", e.Table)
	}
	return fmt.Sprintf("introspection error: %v", e.Cause)
}

func (e *IntrospectionError) Unwrap() error {
	return e.Cause
}
