package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jcanizalez/sqlgateway/internal/database"
)

// QueryTimeout bounds every database call issued on behalf of a request.
const QueryTimeout = 30 * time.Second

// Server speaks MCP over stdio and forwards tool calls to one Driver,
// created by the caller and closed at shutdown.
type Server struct {
	driver      database.Driver
	initialized bool
	ctx         context.Context
	cancel      context.CancelFunc
	in          io.Reader
	out         io.Writer
}

// NewServer wraps an already-opened driver. The server takes ownership:
// Close releases the driver.
func NewServer(ctx context.Context, driver database.Driver) *Server {
	serverCtx, serverCancel := context.WithCancel(ctx)
	return &Server{
		driver: driver,
		ctx:    serverCtx,
		cancel: serverCancel,
		in:     os.Stdin,
		out:    os.Stdout,
	}
}

// Run reads JSON-RPC requests line by line from stdin and writes
// responses to stdout until EOF or cancellation.
func (s *Server) Run() error {
	reader := bufio.NewReader(s.in)

	for {
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		response := s.handleMessage([]byte(line))
		if response != nil {
			responseBytes, err := json.Marshal(response)
			if err != nil {
				slog.Error("failed to marshal response", "error", err)
				continue
			}
			fmt.Fprintln(s.out, string(responseBytes))
		}
	}
}

func (s *Server) handleMessage(data []byte) *JSONRPCResponse {
	var req JSONRPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      nil,
			Error:   &Error{Code: ParseError, Message: "Parse error", Data: err.Error()},
		}
	}

	if req.JSONRPC != "2.0" {
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &Error{Code: InvalidRequest, Message: "Invalid JSON-RPC version"},
		}
	}

	return s.handleRequest(&req)
}

func (s *Server) handleRequest(req *JSONRPCRequest) *JSONRPCResponse {
	var result any
	var err *Error

	switch req.Method {
	case "initialize":
		result, err = s.handleInitialize(req.Params)
	case "initialized":
		// Notification, no response needed
		return nil
	case "tools/list":
		result, err = s.handleListTools()
	case "tools/call":
		result, err = s.handleCallTool(req.Params)
	case "resources/list":
		result, err = s.handleListResources()
	case "resources/read":
		result, err = s.handleReadResource(req.Params)
	case "ping":
		result = map[string]any{}
	default:
		err = &Error{Code: MethodNotFound, Message: fmt.Sprintf("Method not found: %s", req.Method)}
	}

	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  result,
		Error:   err,
	}
}

// Shutdown cancels in-flight request contexts.
func (s *Server) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Close releases the driver.
func (s *Server) Close() error {
	s.Shutdown()
	if s.driver != nil {
		return s.driver.Close()
	}
	return nil
}
