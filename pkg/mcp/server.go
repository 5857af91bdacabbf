// Package mcp serves read-only budget tools over stdio using JSON-RPC 2.0.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/pario-ai/budgeteer/pkg/ledger"
	"github.com/pario-ai/budgeteer/pkg/models"
	"github.com/pario-ai/budgeteer/pkg/tracker"
	"github.com/pario-ai/budgeteer/pkg/workflow"
)

// EventSearcher queries the budget event log without coupling to its storage.
type EventSearcher interface {
	Query(ctx context.Context, opts models.EventQueryOpts) ([]models.Event, error)
}

// RunLister lists workflow runs.
type RunLister interface {
	List(ctx context.Context, f workflow.Filter) ([]models.WorkflowRun, error)
}

// Deps are the data sources behind the tools. Nil fields disable their tools'
// output with a "not configured" message.
type Deps struct {
	Ledger  *ledger.Ledger
	Tracker tracker.Tracker
	Runs    RunLister
	Events  EventSearcher
}

// Server is a minimal MCP server.
type Server struct {
	deps    Deps
	version string
}

// New creates a new MCP Server.
func New(deps Deps, version string) *Server {
	return &Server{deps: deps, version: version}
}

// Run reads JSON-RPC requests from r line-by-line and writes responses to w.
// It blocks until r is closed or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(w, *errorResponse(nil, CodeParseError, "parse error"))
			continue
		}
		if req.JSONRPC != jsonRPCVersion || req.Method == "" {
			s.writeResponse(w, *errorResponse(req.ID, CodeInvalidRequest, "invalid request"))
			continue
		}

		resp := s.dispatch(ctx, &req)
		if resp != nil && !req.IsNotification() {
			s.writeResponse(w, *resp)
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return resultResponse(req.ID, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      ServerInfo{Name: ServerName, Version: s.version},
		})
	case "notifications/initialized":
		return nil
	case "ping":
		return resultResponse(req.ID, map[string]any{})
	case "tools/list":
		return resultResponse(req.ID, ToolsListResult{Tools: allTools})
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid params")
	}

	handler, ok := toolHandlers[params.Name]
	if !ok {
		return resultResponse(req.ID, errorResult(fmt.Sprintf("unknown tool: %s", params.Name)))
	}
	log.Debug().Str("tool", params.Name).Msg("mcp tool call")
	return resultResponse(req.ID, handler(ctx, s, params.Arguments))
}

func (s *Server) writeResponse(w io.Writer, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Msg("mcp: marshal response")
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		log.Error().Err(err).Msg("mcp: write response")
	}
}
