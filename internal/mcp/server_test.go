package mcp_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/litesql/tablegate/internal/backend"
	"github.com/litesql/tablegate/internal/backend/backendtest"
	"github.com/litesql/tablegate/internal/dispatch"
	tgmcp "github.com/litesql/tablegate/internal/mcp"
)

func connect(t *testing.T, client backend.Client) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	server := tgmcp.NewServer(dispatch.New(client, dispatch.Config{}), "tablegate-test", "v0.0.1")
	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	if _, err := server.Connect(ctx, serverTransport, nil); err != nil {
		t.Fatal(err)
	}
	c := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "v0.0.1"}, nil)
	session, err := c.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("want one content block, got %d", len(res.Content))
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("want text content, got %T", res.Content[0])
	}
	return tc.Text
}

func TestTools(t *testing.T) {
	session := connect(t, new(backendtest.Fake))
	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	names := make(map[string]bool)
	for _, tool := range res.Tools {
		names[tool.Name] = true
		if tool.Description == "" {
			t.Errorf("tool %s has no description", tool.Name)
		}
	}
	for _, op := range dispatch.Operations() {
		if !names[op.Name] {
			t.Errorf("missing tool %s", op.Name)
		}
	}
	if len(res.Tools) != len(dispatch.Operations()) {
		t.Errorf("want %d tools, got %d", len(dispatch.Operations()), len(res.Tools))
	}
}

func TestQueryTableTool(t *testing.T) {
	client := backendtest.SQLite(t,
		"CREATE TABLE users(id INTEGER PRIMARY KEY, name TEXT)",
		"INSERT INTO users(id, name) VALUES (5, 'eve'), (6, 'mallory')",
	)
	session := connect(t, client)
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      dispatch.OpQueryTable,
		Arguments: map[string]any{"table": "users", "filters": map[string]any{"id": 5}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected error %s", text(t, res))
	}
	var rows []map[string]any
	if err := json.Unmarshal([]byte(text(t, res)), &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0]["name"] != "eve" {
		t.Errorf("unexpected rows %v", rows)
	}
}

func TestRunSQLRejected(t *testing.T) {
	fake := new(backendtest.Fake)
	session := connect(t, fake)
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      dispatch.OpRunSQL,
		Arguments: map[string]any{"query": "DROP TABLE x"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("want error result")
	}
	if got, want := text(t, res), "Erreur: invalid query: only SELECT queries are allowed"; got != want {
		t.Errorf("want %q, got %q", want, got)
	}
	if len(fake.Calls) != 0 {
		t.Errorf("backend must not be called, got %v", fake.Methods())
	}
}

func TestGetStatsTool(t *testing.T) {
	session := connect(t, &backendtest.Fake{CountResult: 3})
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      dispatch.OpGetStats,
		Arguments: map[string]any{"table": "users"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := text(t, res); !strings.Contains(got, `"count": 3`) {
		t.Errorf("unexpected stats %s", got)
	}
}

func newSSEServer(t *testing.T, client backend.Client) *httptest.Server {
	t.Helper()
	server := tgmcp.NewServer(dispatch.New(client, dispatch.Config{}), "tablegate-test", "v0.0.1")
	mux := http.NewServeMux()
	tgmcp.Register(mux, server)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSSESessions(t *testing.T) {
	ctx := context.Background()
	client := backendtest.SQLite(t,
		"CREATE TABLE a(id INTEGER PRIMARY KEY)",
		"CREATE TABLE b(id INTEGER PRIMARY KEY)",
		"INSERT INTO a(id) VALUES (1)",
		"INSERT INTO b(id) VALUES (1), (2)",
	)
	srv := newSSEServer(t, client)

	open := func() *mcp.ClientSession {
		c := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "v0.0.1"}, nil)
		session, err := c.Connect(ctx, &mcp.SSEClientTransport{Endpoint: srv.URL + "/sse"}, nil)
		if err != nil {
			t.Fatal(err)
		}
		return session
	}
	count := func(session *mcp.ClientSession, table string) string {
		res, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name:      dispatch.OpGetStats,
			Arguments: map[string]any{"table": table},
		})
		if err != nil {
			t.Fatal(err)
		}
		return text(t, res)
	}

	first, second := open(), open()
	defer second.Close()
	if got := count(second, "b"); !strings.Contains(got, `"count": 2`) {
		t.Errorf("unexpected answer on second session %s", got)
	}
	if got := count(first, "a"); !strings.Contains(got, `"count": 1`) {
		t.Errorf("unexpected answer on first session %s", got)
	}

	first.Close()
	if got := count(second, "b"); !strings.Contains(got, `"count": 2`) {
		t.Errorf("second session must survive the first one, got %s", got)
	}
}

func TestSSEMessageRouting(t *testing.T) {
	srv := newSSEServer(t, new(backendtest.Fake))
	body := `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`

	type testCase struct {
		path   string
		status int
	}
	tests := map[string]testCase{
		"missing session id": {path: "/messages", status: http.StatusBadRequest},
		"unknown session id": {path: "/messages?sessionid=nope", status: http.StatusNotFound},
		"unknown on sse":     {path: "/sse?sessionid=nope", status: http.StatusNotFound},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			res, err := http.Post(srv.URL+tc.path, "application/json", strings.NewReader(body))
			if err != nil {
				t.Fatal(err)
			}
			res.Body.Close()
			if res.StatusCode != tc.status {
				t.Errorf("want status %d, got %d", tc.status, res.StatusCode)
			}
		})
	}
}
