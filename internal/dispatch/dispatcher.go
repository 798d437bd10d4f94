package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/litesql/tablegate/internal/backend"
)

const (
	OpListTables = "list_tables"
	OpQueryTable = "query_table"
	OpInsertRow  = "insert_row"
	OpUpdateRows = "update_rows"
	OpDeleteRows = "delete_rows"
	OpRunSQL     = "run_sql"
	OpGetStats   = "get_stats"
)

// Operation describes one action offered by every transport.
type Operation struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

var operations = []Operation{
	{Name: OpListTables, Description: "List the tables of the database"},
	{Name: OpQueryTable, Description: "Select rows from a table with optional equality filters"},
	{Name: OpInsertRow, Description: "Insert one row into a table"},
	{Name: OpUpdateRows, Description: "Update the rows of a table matching equality filters"},
	{Name: OpDeleteRows, Description: "Delete the rows of a table matching equality filters"},
	{Name: OpRunSQL, Description: "Run a read-only SELECT statement"},
	{Name: OpGetStats, Description: "Count the rows of a table"},
}

func Operations() []Operation {
	list := make([]Operation, len(operations))
	copy(list, operations)
	return list
}

func Describe(name string) string {
	for _, op := range operations {
		if op.Name == name {
			return op.Description
		}
	}
	return ""
}

// Interceptor runs around every operation. Before may refuse the operation,
// After may replace the backend error.
type Interceptor interface {
	Before(ctx context.Context, operation, table string) error
	After(ctx context.Context, operation, table string, err error) error
}

// Publisher receives a change event after every successful write.
type Publisher interface {
	Publish(ctx context.Context, event *ChangeEvent) error
}

type ChangeEvent struct {
	Operation string        `json:"operation"`
	Table     string        `json:"table"`
	Rows      *backend.Rows `json:"rows"`
	Time      time.Time     `json:"time"`
}

type Config struct {
	// Schema listed by list_tables. Defaults to public.
	Schema string
	// TablesFunction is called when table introspection fails. Defaults to get_tables.
	TablesFunction string
	// SQLFunction receives run_sql statements as its query argument. When
	// empty the statement runs directly in a read only transaction.
	SQLFunction string
	MaxLimit    int
	Interceptor Interceptor
	Publishers  []Publisher
}

type Dispatcher struct {
	backend backend.Client
	cfg     Config
}

func New(client backend.Client, cfg Config) *Dispatcher {
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}
	if cfg.TablesFunction == "" {
		cfg.TablesFunction = "get_tables"
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = DefaultMaxLimit
	}
	return &Dispatcher{backend: client, cfg: cfg}
}

// ListTables tries schema introspection first and falls back to the tables
// function. The error of the last attempt is returned.
func (d *Dispatcher) ListTables(ctx context.Context, _ ListTablesRequest) (*backend.Rows, error) {
	return run(ctx, d, OpListTables, "", func(ctx context.Context) (*backend.Rows, error) {
		rows, err := d.backend.Tables(ctx, d.cfg.Schema)
		if err == nil {
			return rows, nil
		}
		slog.WarnContext(ctx, "table introspection failed, calling tables function", "function", d.cfg.TablesFunction, "error", err)
		return d.backend.Call(ctx, d.cfg.TablesFunction, nil)
	})
}

func (d *Dispatcher) QueryTable(ctx context.Context, req QueryTableRequest) (*backend.Rows, error) {
	if err := ValidateTable(req.Table); err != nil {
		return nil, err
	}
	columns, err := parseSelect(req.Select)
	if err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 0 || limit > d.cfg.MaxLimit {
		return nil, invalid("limit", fmt.Sprintf("must be between 1 and %d", d.cfg.MaxLimit))
	}
	filters, err := filterFields("filters", req.Filters)
	if err != nil {
		return nil, err
	}
	return run(ctx, d, OpQueryTable, req.Table, func(ctx context.Context) (*backend.Rows, error) {
		return d.backend.Select(ctx, backend.SelectQuery{
			Table:   req.Table,
			Columns: columns,
			Filters: filters,
			Limit:   limit,
		})
	})
}

func (d *Dispatcher) InsertRow(ctx context.Context, req InsertRowRequest) (*backend.Rows, error) {
	if err := ValidateTable(req.Table); err != nil {
		return nil, err
	}
	row, err := rowFields("row", req.Row)
	if err != nil {
		return nil, err
	}
	rows, err := run(ctx, d, OpInsertRow, req.Table, func(ctx context.Context) (*backend.Rows, error) {
		return d.backend.Insert(ctx, backend.InsertQuery{Table: req.Table, Row: row})
	})
	if err != nil {
		return nil, err
	}
	d.publish(ctx, OpInsertRow, req.Table, rows)
	return rows, nil
}

func (d *Dispatcher) UpdateRows(ctx context.Context, req UpdateRowsRequest) (*backend.Rows, error) {
	if err := ValidateTable(req.Table); err != nil {
		return nil, err
	}
	if len(req.Row) == 0 {
		return nil, invalid("row", "must not be empty")
	}
	if len(req.Match) == 0 {
		return nil, invalid("match", "must not be empty")
	}
	set, err := rowFields("row", req.Row)
	if err != nil {
		return nil, err
	}
	match, err := filterFields("match", req.Match)
	if err != nil {
		return nil, err
	}
	rows, err := run(ctx, d, OpUpdateRows, req.Table, func(ctx context.Context) (*backend.Rows, error) {
		return d.backend.Update(ctx, backend.UpdateQuery{Table: req.Table, Set: set, Match: match})
	})
	if err != nil {
		return nil, err
	}
	d.publish(ctx, OpUpdateRows, req.Table, rows)
	return rows, nil
}

func (d *Dispatcher) DeleteRows(ctx context.Context, req DeleteRowsRequest) (*backend.Rows, error) {
	if err := ValidateTable(req.Table); err != nil {
		return nil, err
	}
	if len(req.Match) == 0 {
		return nil, invalid("match", "must not be empty")
	}
	match, err := filterFields("match", req.Match)
	if err != nil {
		return nil, err
	}
	rows, err := run(ctx, d, OpDeleteRows, req.Table, func(ctx context.Context) (*backend.Rows, error) {
		return d.backend.Delete(ctx, backend.DeleteQuery{Table: req.Table, Match: match})
	})
	if err != nil {
		return nil, err
	}
	d.publish(ctx, OpDeleteRows, req.Table, rows)
	return rows, nil
}

// RunSQL only checks that the statement starts with SELECT. It does not parse
// it, a chained statement after the SELECT is left to the backend to refuse.
func (d *Dispatcher) RunSQL(ctx context.Context, req RunSQLRequest) (*backend.Rows, error) {
	if !isSelect(req.Query) {
		return nil, ErrSelectOnly
	}
	return run(ctx, d, OpRunSQL, "", func(ctx context.Context) (*backend.Rows, error) {
		if d.cfg.SQLFunction == "" {
			return d.backend.QueryReadOnly(ctx, req.Query)
		}
		return d.backend.Call(ctx, d.cfg.SQLFunction, []backend.Field{{Column: "query", Value: req.Query}})
	})
}

func (d *Dispatcher) GetStats(ctx context.Context, req GetStatsRequest) (*StatsResult, error) {
	if err := ValidateTable(req.Table); err != nil {
		return nil, err
	}
	return run(ctx, d, OpGetStats, req.Table, func(ctx context.Context) (*StatsResult, error) {
		n, err := d.backend.Count(ctx, backend.CountQuery{Table: req.Table})
		if err != nil {
			return nil, err
		}
		return &StatsResult{Table: req.Table, Count: n}, nil
	})
}

func run[T any](ctx context.Context, d *Dispatcher, op, table string, call func(context.Context) (*T, error)) (*T, error) {
	if i := d.cfg.Interceptor; i != nil {
		if err := i.Before(ctx, op, table); err != nil {
			slog.WarnContext(ctx, "operation rejected", "operation", op, "table", table, "error", err)
			return nil, &RejectedError{Operation: op, Err: err}
		}
	}
	res, err := call(ctx)
	if i := d.cfg.Interceptor; i != nil {
		err = i.After(ctx, op, table, err)
	}
	if err != nil {
		slog.ErrorContext(ctx, "operation failed", "operation", op, "table", table, "error", err)
		return nil, err
	}
	if res == nil {
		res = new(T)
	}
	slog.DebugContext(ctx, "operation done", "operation", op, "table", table)
	return res, nil
}

func (d *Dispatcher) publish(ctx context.Context, op, table string, rows *backend.Rows) {
	if len(d.cfg.Publishers) == 0 {
		return
	}
	event := &ChangeEvent{
		Operation: op,
		Table:     table,
		Rows:      rows,
		Time:      time.Now().UTC(),
	}
	for _, p := range d.cfg.Publishers {
		if err := p.Publish(ctx, event); err != nil {
			slog.WarnContext(ctx, "failed to publish change event", "operation", op, "table", table, "error", err)
		}
	}
}

// IsValidation reports whether err was raised before reaching the backend.
func IsValidation(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}
