// Package backendtest provides backends for tests of the packages built on
// top of internal/backend.
package backendtest

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/litesql/tablegate/internal/backend"
)

// SQLite opens a file backed sqlite backend in a temporary directory and
// runs the given statements on it.
func SQLite(t testing.TB, statements ...string) *backend.SQLite {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "tablegate.db")
	client, err := backend.OpenSQLite(context.Background(), dsn)
	if err != nil {
		t.Fatalf("open sqlite backend: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	for _, stmt := range statements {
		if _, err := client.DB().Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}
	return client
}

// Call records one invocation of a Fake method.
type Call struct {
	Method   string
	Query    any
	Function string
	Args     []backend.Field
}

// Fake records every call and answers with the configured rows or errors.
type Fake struct {
	mu    sync.Mutex
	Calls []Call

	Rows        *backend.Rows
	CountResult int64
	// Errs maps a method name to the error it returns.
	Errs map[string]error
}

func (f *Fake) record(c Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, c)
	return f.Errs[c.Method]
}

func (f *Fake) rows() *backend.Rows {
	if f.Rows == nil {
		return &backend.Rows{Columns: []string{}, Values: [][]any{}}
	}
	return f.Rows
}

// Methods returns the names of the recorded calls in order.
func (f *Fake) Methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := make([]string, len(f.Calls))
	for i, c := range f.Calls {
		list[i] = c.Method
	}
	return list
}

func (f *Fake) Tables(_ context.Context, schema string) (*backend.Rows, error) {
	if err := f.record(Call{Method: "Tables", Query: schema}); err != nil {
		return nil, err
	}
	return f.rows(), nil
}

func (f *Fake) Select(_ context.Context, q backend.SelectQuery) (*backend.Rows, error) {
	if err := f.record(Call{Method: "Select", Query: q}); err != nil {
		return nil, err
	}
	return f.rows(), nil
}

func (f *Fake) Insert(_ context.Context, q backend.InsertQuery) (*backend.Rows, error) {
	if err := f.record(Call{Method: "Insert", Query: q}); err != nil {
		return nil, err
	}
	return f.rows(), nil
}

func (f *Fake) Update(_ context.Context, q backend.UpdateQuery) (*backend.Rows, error) {
	if err := f.record(Call{Method: "Update", Query: q}); err != nil {
		return nil, err
	}
	return f.rows(), nil
}

func (f *Fake) Delete(_ context.Context, q backend.DeleteQuery) (*backend.Rows, error) {
	if err := f.record(Call{Method: "Delete", Query: q}); err != nil {
		return nil, err
	}
	return f.rows(), nil
}

func (f *Fake) Count(_ context.Context, q backend.CountQuery) (int64, error) {
	if err := f.record(Call{Method: "Count", Query: q}); err != nil {
		return 0, err
	}
	return f.CountResult, nil
}

func (f *Fake) Call(_ context.Context, function string, args []backend.Field) (*backend.Rows, error) {
	if err := f.record(Call{Method: "Call", Function: function, Args: args}); err != nil {
		return nil, err
	}
	return f.rows(), nil
}

func (f *Fake) QueryReadOnly(_ context.Context, sql string) (*backend.Rows, error) {
	if err := f.record(Call{Method: "QueryReadOnly", Query: sql}); err != nil {
		return nil, err
	}
	return f.rows(), nil
}

func (f *Fake) Close() error {
	return nil
}
