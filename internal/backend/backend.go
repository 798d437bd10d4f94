package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var ErrUnsupported = errors.New("not supported by backend")

// Field is a column/value pair. In filters it is an equality predicate,
// in row data it is an assignment.
type Field struct {
	Column string
	Value  any
}

type SelectQuery struct {
	Table   string
	Columns []string
	Filters []Field
	Limit   int
}

type InsertQuery struct {
	Table string
	Row   []Field
}

type UpdateQuery struct {
	Table string
	Set   []Field
	Match []Field
}

type DeleteQuery struct {
	Table string
	Match []Field
}

type CountQuery struct {
	Table   string
	Filters []Field
}

// Client is the capability the dispatcher needs from a database. Every
// method issues exactly one round trip and relays the driver error as is.
type Client interface {
	Tables(ctx context.Context, schema string) (*Rows, error)
	Select(ctx context.Context, q SelectQuery) (*Rows, error)
	Insert(ctx context.Context, q InsertQuery) (*Rows, error)
	Update(ctx context.Context, q UpdateQuery) (*Rows, error)
	Delete(ctx context.Context, q DeleteQuery) (*Rows, error)
	Count(ctx context.Context, q CountQuery) (int64, error)
	Call(ctx context.Context, function string, args []Field) (*Rows, error)
	QueryReadOnly(ctx context.Context, sql string) (*Rows, error)
	Close() error
}

type Rows struct {
	Columns []string
	Values  [][]any
}

func (r *Rows) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Values)
}

// Records returns one map per row keyed by column name. It never returns nil.
func (r *Rows) Records() []map[string]any {
	if r == nil {
		return []map[string]any{}
	}
	list := make([]map[string]any, 0, len(r.Values))
	for _, values := range r.Values {
		record := make(map[string]any, len(r.Columns))
		for i, col := range r.Columns {
			if i < len(values) {
				record[col] = values[i]
			}
		}
		list = append(list, record)
	}
	return list
}

func (r *Rows) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Records())
}

// UnmarshalJSON reads an array of objects. Columns are the sorted union of
// the object keys.
func (r *Rows) UnmarshalJSON(b []byte) error {
	var records []map[string]any
	if err := json.Unmarshal(b, &records); err != nil {
		return err
	}
	*r = *rowsOf(records)
	return nil
}

// rowsOf builds rows from records. Columns are the sorted union of the keys.
func rowsOf(records []map[string]any) *Rows {
	seen := make(map[string]bool)
	columns := make([]string, 0)
	for _, record := range records {
		for col := range record {
			if !seen[col] {
				seen[col] = true
				columns = append(columns, col)
			}
		}
	}
	sort.Strings(columns)
	values := make([][]any, len(records))
	for i, record := range records {
		row := make([]any, len(columns))
		for j, col := range columns {
			row[j] = record[col]
		}
		values[i] = row
	}
	return &Rows{Columns: columns, Values: values}
}

// Open returns a client for the named driver.
func Open(ctx context.Context, driver, url, password string) (Client, error) {
	switch driver {
	case "postgres", "postgresql", "":
		return OpenPostgres(ctx, url, password)
	case "sqlite", "sqlite3":
		return OpenSQLite(ctx, url)
	default:
		return nil, fmt.Errorf("unknown backend %q", driver)
	}
}
