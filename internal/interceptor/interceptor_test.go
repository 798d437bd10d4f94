package interceptor_test

import (
	"context"
	"errors"
	"testing"

	"github.com/litesql/tablegate/internal/backend/backendtest"
	"github.com/litesql/tablegate/internal/dispatch"
	"github.com/litesql/tablegate/internal/interceptor"
)

func TestLoad(t *testing.T) {
	ctx := context.Background()
	i, err := interceptor.Load("./testdata/readonly_audit.go")
	if err != nil {
		t.Fatal(err)
	}
	if err := i.Before(ctx, "delete_rows", "audit"); err == nil {
		t.Error("expect delete on audit to be rejected")
	}
	if err := i.Before(ctx, "query_table", "audit"); err != nil {
		t.Errorf("expect nil error, got %v", err)
	}
	if err := i.After(ctx, "list_tables", "", errors.New(`function get_tables() does not exist`)); err != nil {
		t.Errorf("expect nil error, got %v", err)
	}
	if err := i.After(ctx, "query_table", "users", errors.New("test")); err == nil {
		t.Error("expect error to be kept")
	}
}

func TestLoadBeforeOnly(t *testing.T) {
	ctx := context.Background()
	i, err := interceptor.Load("./testdata/before_only.go")
	if err != nil {
		t.Fatal(err)
	}
	want := errors.New("test")
	if err := i.After(ctx, "insert_row", "users", want); err != want {
		t.Errorf("expect error to pass through, got %v", err)
	}

	d := dispatch.New(new(backendtest.Fake), dispatch.Config{Interceptor: i})
	_, err = d.DeleteRows(ctx, dispatch.DeleteRowsRequest{Table: "users", Match: map[string]any{"id": 1}})
	var rejected *dispatch.RejectedError
	if !errors.As(err, &rejected) {
		t.Errorf("expect rejected error, got %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	i, err := interceptor.Load("./testdata/no_hooks.go")
	if err != nil {
		t.Fatal(err)
	}
	if i != nil {
		t.Error("expect nil interceptor without hooks")
	}
	if _, err := interceptor.Load("./testdata/bad_signature.go"); err == nil {
		t.Error("expect signature error")
	}
	if _, err := interceptor.Load("./testdata/missing.go"); err == nil {
		t.Error("expect error for missing file")
	}
}
