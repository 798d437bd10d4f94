package mcp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/litesql/tablegate/internal/dispatch"
)

// NewServer registers one tool per dispatcher operation.
func NewServer(d *dispatch.Dispatcher, name, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil)
	addTool(server, dispatch.OpListTables, d.ListTables)
	addTool(server, dispatch.OpQueryTable, d.QueryTable)
	addTool(server, dispatch.OpInsertRow, d.InsertRow)
	addTool(server, dispatch.OpUpdateRows, d.UpdateRows)
	addTool(server, dispatch.OpDeleteRows, d.DeleteRows)
	addTool(server, dispatch.OpRunSQL, d.RunSQL)
	addTool(server, dispatch.OpGetStats, d.GetStats)
	return server
}

// addTool answers every call with one text block. Operation failures are
// reported in the result, not as protocol errors.
func addTool[In, Out any](server *mcp.Server, name string, op func(context.Context, In) (Out, error)) {
	tool := &mcp.Tool{Name: name, Description: dispatch.Describe(name)}
	mcp.AddTool(server, tool, func(ctx context.Context, req *mcp.CallToolRequest, input In) (*mcp.CallToolResult, any, error) {
		out, err := op(ctx, input)
		env := dispatch.Translate(out, err)
		if env.Failed() {
			slog.DebugContext(ctx, "tool call failed", "tool", name, "status", env.Status, "error", env.Error)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: env.Text()}},
			IsError: env.Failed(),
		}, nil, nil
	})
}

// NewSSEHandler serves the SSE transport. Each GET opens a session announced
// with an endpoint event; POSTs are routed by their sessionid parameter.
func NewSSEHandler(server *mcp.Server) *mcp.SSEHandler {
	return mcp.NewSSEHandler(func(r *http.Request) *mcp.Server {
		return server
	}, nil)
}

func NewHTTPHandler(server *mcp.Server) *mcp.StreamableHTTPHandler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return server
	}, nil)
}

// Register mounts the SSE transport on /sse and /messages and the streamable
// transport on /mcp.
func Register(mux *http.ServeMux, server *mcp.Server) {
	sse := NewSSEHandler(server)
	mux.Handle("GET /sse", sse)
	mux.Handle("POST /sse", sse)
	mux.Handle("POST /messages", sse)
	mux.Handle("/mcp", NewHTTPHandler(server))
}
