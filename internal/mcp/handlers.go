package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

func (s *Server) handleInitialize(params json.RawMessage) (*InitializeResult, *Error) {
	var initParams InitializeParams
	if params != nil {
		if err := json.Unmarshal(params, &initParams); err != nil {
			return nil, &Error{
				Code:    InvalidParams,
				Message: "Invalid initialize parameters",
				Data:    err.Error(),
			}
		}
	}

	s.initialized = true

	return &InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: ServerCapabilities{
			Tools:     &ToolsCapability{},
			Resources: &ResourcesCapability{},
		},
		ServerInfo: ServerInfo{Name: ServerName, Version: ServerVersion},
	}, nil
}

func (s *Server) handleListTools() (*ListToolsResult, *Error) {
	noArgs := InputSchema{Type: "object", Properties: map[string]Property{}, Required: []string{}}

	return &ListToolsResult{
		Tools: []Tool{
			{
				Name:        "query",
				Description: "Execute a read-only SQL query (SELECT, WITH, EXPLAIN; PRAGMA reads on SQLite). Results are capped at 500 rows unless the query carries its own LIMIT.",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"sql":   {Type: "string", Description: "The SQL statement to execute"},
						"limit": {Type: "number", Description: "Optional row cap; clamped to 500"},
					},
					Required: []string{"sql"},
				},
			},
			{
				Name:        "list_tables",
				Description: "List every user table and view in the database",
				InputSchema: noArgs,
			},
			{
				Name:        "describe_table",
				Description: "Describe one table: columns, indexes and foreign keys from the live catalog",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"table": {Type: "string", Description: "Name of the table to describe"},
					},
					Required: []string{"table"},
				},
			},
			{
				Name:        "get_schema",
				Description: "Full DDL text for all tables and views: verbatim creation statements on SQLite, synthesized CREATE TABLE text on PostgreSQL",
				InputSchema: noArgs,
			},
			{
				Name:        "get_stats",
				Description: "Per-table row and column counts. Row counts are exact on SQLite and planner estimates on PostgreSQL; do not compare them across backends as equals.",
				InputSchema: noArgs,
			},
			{
				Name:        "get_relationships",
				Description: "Every foreign-key relationship in the database as (from_table, from_column, to_table, to_column) edges",
				InputSchema: noArgs,
			},
		},
	}, nil
}

func (s *Server) handleCallTool(params json.RawMessage) (*CallToolResult, *Error) {
	var callParams CallToolParams
	if err := json.Unmarshal(params, &callParams); err != nil {
		return nil, &Error{Code: InvalidParams, Message: "Invalid parameters", Data: err.Error()}
	}

	ctx, cancel := context.WithTimeout(s.ctx, QueryTimeout)
	defer cancel()

	switch callParams.Name {
	case "query":
		return s.callQuery(ctx, callParams.Arguments)
	case "list_tables":
		tables, err := s.driver.ListTables(ctx)
		return jsonToolResult(tables, err)
	case "describe_table":
		table, ok := callParams.Arguments["table"].(string)
		if !ok || table == "" {
			return nil, &Error{Code: InvalidParams, Message: "Missing or invalid 'table' parameter"}
		}
		schema, err := s.driver.DescribeTable(ctx, table)
		return jsonToolResult(schema, err)
	case "get_schema":
		ddl, err := s.driver.GetSchema(ctx)
		if err != nil {
			return errorToolResult(err), nil
		}
		return &CallToolResult{Content: []Content{{Type: "text", Text: ddl}}}, nil
	case "get_stats":
		stats, err := s.driver.GetStats(ctx)
		return jsonToolResult(stats, err)
	case "get_relationships":
		edges, err := s.driver.GetRelationships(ctx)
		return jsonToolResult(edges, err)
	default:
		return nil, &Error{Code: MethodNotFound, Message: fmt.Sprintf("Unknown tool: %s", callParams.Name)}
	}
}

func (s *Server) callQuery(ctx context.Context, args map[string]any) (*CallToolResult, *Error) {
	sqlQuery, ok := args["sql"].(string)
	if !ok || sqlQuery == "" {
		return nil, &Error{Code: InvalidParams, Message: "Missing or invalid 'sql' parameter"}
	}

	limit := 0
	if v, ok := args["limit"].(float64); ok {
		limit = int(v)
	}

	result, err := s.driver.Query(ctx, sqlQuery, limit)
	return jsonToolResult(result, err)
}

// jsonToolResult serializes a driver result into MCP text content. Driver
// errors become isError results with the typed error message unmodified.
func jsonToolResult(v any, err error) (*CallToolResult, *Error) {
	if err != nil {
		return errorToolResult(err), nil
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, &Error{Code: InternalError, Message: fmt.Sprintf("Failed to marshal result: %v", err)}
	}
	return &CallToolResult{Content: []Content{{Type: "text", Text: string(data)}}}, nil
}

func errorToolResult(err error) *CallToolResult {
	return &CallToolResult{
		Content: []Content{{Type: "text", Text: err.Error()}},
		IsError: true,
	}
}

func (s *Server) handleListResources() (*ListResourcesResult, *Error) {
	ctx, cancel := context.WithTimeout(s.ctx, QueryTimeout)
	defer cancel()

	tables, err := s.driver.ListTables(ctx)
	if err != nil {
		return nil, &Error{Code: InternalError, Message: fmt.Sprintf("Failed to list tables: %v", err)}
	}

	resources := make([]Resource, 0, len(tables))
	for _, t := range tables {
		resources = append(resources, Resource{
			URI:      fmt.Sprintf("db://%s/schema", t.Name),
			Name:     fmt.Sprintf("Schema for %s '%s'", t.Kind, t.Name),
			MimeType: "application/json",
		})
	}
	return &ListResourcesResult{Resources: resources}, nil
}

// parseResourceURI extracts the table name from a db://tablename/schema URI.
func parseResourceURI(uri string) (string, bool) {
	rest, ok := strings.CutPrefix(uri, "db://")
	if !ok {
		return "", false
	}
	table, ok := strings.CutSuffix(rest, "/schema")
	if !ok || table == "" {
		return "", false
	}
	return table, true
}

func (s *Server) handleReadResource(params json.RawMessage) (*ReadResourceResult, *Error) {
	var readParams ReadResourceParams
	if err := json.Unmarshal(params, &readParams); err != nil {
		return nil, &Error{Code: InvalidParams, Message: "Invalid parameters", Data: err.Error()}
	}

	table, ok := parseResourceURI(readParams.URI)
	if !ok {
		return nil, &Error{
			Code:    InvalidParams,
			Message: "Invalid resource URI format: expected db://tablename/schema",
		}
	}

	ctx, cancel := context.WithTimeout(s.ctx, QueryTimeout)
	defer cancel()

	schema, err := s.driver.DescribeTable(ctx, table)
	if err != nil {
		return nil, &Error{Code: InternalError, Message: fmt.Sprintf("Failed to describe table: %v", err)}
	}

	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, &Error{Code: InternalError, Message: fmt.Sprintf("Failed to marshal schema: %v", err)}
	}

	return &ReadResourceResult{
		Contents: []ResourceContent{
			{URI: readParams.URI, MimeType: "application/json", Text: string(schemaJSON)},
		},
	}, nil
}
