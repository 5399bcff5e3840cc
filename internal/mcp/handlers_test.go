package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/jcanizalez/sqlgateway/internal/database"
)

// stubDriver is a no-op engine: it records calls and returns canned
// results, which lets transport behavior be tested without a database.
type stubDriver struct {
	tables      []database.Table
	schema      *database.TableSchema
	queryResult *database.QueryResult
	queryErr    error

	lastSQL   string
	lastLimit int
	closed    int
}

func (s *stubDriver) ListTables(ctx context.Context) ([]database.Table, error) {
	return s.tables, nil
}

func (s *stubDriver) DescribeTable(ctx context.Context, table string) (*database.TableSchema, error) {
	if s.schema == nil {
		return nil, &database.IntrospectionError{Table: table}
	}
	return s.schema, nil
}

func (s *stubDriver) Query(ctx context.Context, sql string, limit int) (*database.QueryResult, error) {
	s.lastSQL = sql
	s.lastLimit = limit
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.queryResult, nil
}

func (s *stubDriver) GetSchema(ctx context.Context) (string, error) {
	return "CREATE TABLE t (id INTEGER PRIMARY KEY);", nil
}

func (s *stubDriver) GetStats(ctx context.Context) ([]database.TableStats, error) {
	return []database.TableStats{{Table: "t", RowCount: 1, ColumnCount: 1}}, nil
}

func (s *stubDriver) GetRelationships(ctx context.Context) ([]database.Relationship, error) {
	return nil, nil
}

func (s *stubDriver) Close() error {
	s.closed++
	return nil
}

func newTestServer(stub *stubDriver) *Server {
	return NewServer(context.Background(), stub)
}

func callTool(t *testing.T, s *Server, name string, args map[string]any) (*CallToolResult, *Error) {
	t.Helper()
	params, err := json.Marshal(CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return s.handleCallTool(params)
}

func TestHandleMessage_ParseError(t *testing.T) {
	s := newTestServer(&stubDriver{})
	resp := s.handleMessage([]byte("{not json"))
	if resp == nil || resp.Error == nil || resp.Error.Code != ParseError {
		t.Errorf("expected parse error response, got %+v", resp)
	}
}

func TestHandleMessage_WrongVersion(t *testing.T) {
	s := newTestServer(&stubDriver{})
	resp := s.handleMessage([]byte(`{"jsonrpc":"1.0","id":1,"method":"ping"}`))
	if resp == nil || resp.Error == nil || resp.Error.Code != InvalidRequest {
		t.Errorf("expected invalid request response, got %+v", resp)
	}
}

func TestHandleRequest_UnknownMethod(t *testing.T) {
	s := newTestServer(&stubDriver{})
	resp := s.handleMessage([]byte(`{"jsonrpc":"2.0","id":1,"method":"nope"}`))
	if resp == nil || resp.Error == nil || resp.Error.Code != MethodNotFound {
		t.Errorf("expected method not found, got %+v", resp)
	}
}

func TestListTools_AllSixExposed(t *testing.T) {
	s := newTestServer(&stubDriver{})
	result, errResp := s.handleListTools()
	if errResp != nil {
		t.Fatalf("handleListTools: %+v", errResp)
	}

	want := map[string]bool{
		"query": false, "list_tables": false, "describe_table": false,
		"get_schema": false, "get_stats": false, "get_relationships": false,
	}
	for _, tool := range result.Tools {
		if _, ok := want[tool.Name]; !ok {
			t.Errorf("unexpected tool %q", tool.Name)
			continue
		}
		want[tool.Name] = true
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("tool %q not exposed", name)
		}
	}
}

func TestCallQuery_ForwardsArgs(t *testing.T) {
	stub := &stubDriver{
		queryResult: &database.QueryResult{
			Columns:  []string{"id"},
			Rows:     []map[string]any{{"id": int64(1)}},
			RowCount: 1,
		},
	}
	s := newTestServer(stub)

	result, errResp := callTool(t, s, "query", map[string]any{"sql": "SELECT id FROM t", "limit": float64(5)})
	if errResp != nil {
		t.Fatalf("unexpected protocol error: %+v", errResp)
	}
	if stub.lastSQL != "SELECT id FROM t" || stub.lastLimit != 5 {
		t.Errorf("driver received sql=%q limit=%d", stub.lastSQL, stub.lastLimit)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %+v", result)
	}
	if !strings.Contains(result.Content[0].Text, `"row_count": 1`) {
		t.Errorf("result not serialized as expected: %s", result.Content[0].Text)
	}
}

func TestCallQuery_MissingSQL(t *testing.T) {
	s := newTestServer(&stubDriver{})
	_, errResp := callTool(t, s, "query", map[string]any{})
	if errResp == nil || errResp.Code != InvalidParams {
		t.Errorf("expected InvalidParams, got %+v", errResp)
	}
}

func TestCallQuery_DriverErrorBecomesToolError(t *testing.T) {
	stub := &stubDriver{queryErr: &database.UnsupportedStatementError{Reason: "statement contains forbidden keyword: DELETE"}}
	s := newTestServer(stub)

	result, errResp := callTool(t, s, "query", map[string]any{"sql": "DELETE FROM t"})
	if errResp != nil {
		t.Fatalf("driver errors must become tool results, not protocol errors: %+v", errResp)
	}
	if !result.IsError {
		t.Fatal("expected isError result")
	}
	if !strings.Contains(result.Content[0].Text, "unsupported statement") {
		t.Errorf("typed error message not surfaced: %s", result.Content[0].Text)
	}
}

func TestCallDescribeTable_MissingArg(t *testing.T) {
	s := newTestServer(&stubDriver{})
	_, errResp := callTool(t, s, "describe_table", map[string]any{})
	if errResp == nil || errResp.Code != InvalidParams {
		t.Errorf("expected InvalidParams, got %+v", errResp)
	}
}

func TestCallUnknownTool(t *testing.T) {
	s := newTestServer(&stubDriver{})
	_, errResp := callTool(t, s, "drop_everything", nil)
	if errResp == nil || errResp.Code != MethodNotFound {
		t.Errorf("expected MethodNotFound, got %+v", errResp)
	}
}

func TestListResources_OnePerTable(t *testing.T) {
	stub := &stubDriver{tables: []database.Table{
		{Name: "users", Kind: database.KindTable},
		{Name: "user_emails", Kind: database.KindView},
	}}
	s := newTestServer(stub)

	result, errResp := s.handleListResources()
	if errResp != nil {
		t.Fatalf("handleListResources: %+v", errResp)
	}
	if len(result.Resources) != 2 {
		t.Fatalf("expected 2 resources, got %+v", result.Resources)
	}
	if result.Resources[0].URI != "db://users/schema" {
		t.Errorf("unexpected URI: %s", result.Resources[0].URI)
	}
}

func TestParseResourceURI(t *testing.T) {
	tests := []struct {
		uri   string
		table string
		ok    bool
	}{
		{"db://users/schema", "users", true},
		{"db://users", "", false},
		{"gopher://users/schema", "", false},
		{"db:///schema", "", false},
	}
	for _, tc := range tests {
		table, ok := parseResourceURI(tc.uri)
		if table != tc.table || ok != tc.ok {
			t.Errorf("parseResourceURI(%q) = (%q, %v), expected (%q, %v)", tc.uri, table, ok, tc.table, tc.ok)
		}
	}
}

func TestClose_ReleasesDriver(t *testing.T) {
	stub := &stubDriver{}
	s := newTestServer(stub)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if stub.closed != 1 {
		t.Errorf("expected driver closed once, got %d", stub.closed)
	}
}
