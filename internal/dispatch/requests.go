package dispatch

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/litesql/tablegate/internal/backend"
)

const (
	DefaultSelect   = "*"
	DefaultLimit    = 20
	DefaultMaxLimit = 1000
)

var (
	identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)
	tableRE = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_$]*\.)?[A-Za-z_][A-Za-z0-9_$]*$`)
)

type ListTablesRequest struct{}

type QueryTableRequest struct {
	Table   string         `json:"table" jsonschema:"Name of the table, optionally schema qualified"`
	Select  string         `json:"select,omitempty" jsonschema:"Comma separated list of columns to return. Defaults to *."`
	Limit   int            `json:"limit,omitempty" jsonschema:"Maximum number of rows to return. Defaults to 20."`
	Filters map[string]any `json:"filters,omitempty" jsonschema:"Equality filters combined with AND keyed by column name"`
}

type InsertRowRequest struct {
	Table string         `json:"table" jsonschema:"Name of the table."`
	Row   map[string]any `json:"row" jsonschema:"Column values of the row to insert."`
}

type UpdateRowsRequest struct {
	Table string         `json:"table" jsonschema:"Name of the table."`
	Row   map[string]any `json:"row" jsonschema:"Column values to set."`
	Match map[string]any `json:"match" jsonschema:"Equality filters combined with AND selecting the rows to update."`
}

type DeleteRowsRequest struct {
	Table string         `json:"table" jsonschema:"Name of the table."`
	Match map[string]any `json:"match" jsonschema:"Equality filters combined with AND selecting the rows to delete."`
}

type RunSQLRequest struct {
	Query string `json:"query" jsonschema:"A single SELECT statement"`
}

type GetStatsRequest struct {
	Table string `json:"table" jsonschema:"Name of the table."`
}

type StatsResult struct {
	Table string `json:"table"`
	Count int64  `json:"count"`
}

// ValidateTable checks a [schema.]table name.
func ValidateTable(table string) error {
	if table == "" {
		return invalid("table", "is required")
	}
	if !tableRE.MatchString(table) {
		return invalid("table", fmt.Sprintf("%q is not a valid table name", table))
	}
	return nil
}

func parseSelect(sel string) ([]string, error) {
	sel = strings.TrimSpace(sel)
	if sel == "" || sel == DefaultSelect {
		return nil, nil
	}
	parts := strings.Split(sel, ",")
	columns := make([]string, 0, len(parts))
	for _, p := range parts {
		col := strings.TrimSpace(p)
		if col != "*" && !identRE.MatchString(col) {
			return nil, invalid("select", fmt.Sprintf("%q is not a valid column name", col))
		}
		columns = append(columns, col)
	}
	return columns, nil
}

// filterFields turns an equality map into fields sorted by column. Only
// scalar values are accepted.
func filterFields(field string, m map[string]any) ([]backend.Field, error) {
	list, err := fields(field, m)
	if err != nil {
		return nil, err
	}
	for _, f := range list {
		switch f.Value.(type) {
		case nil, string, bool, int64, float64:
		default:
			return nil, invalid(field, fmt.Sprintf("value of %q must be a string, number, boolean or null", f.Column))
		}
	}
	return list, nil
}

// rowFields turns row data into fields sorted by column. Objects and arrays
// are stored as their JSON text.
func rowFields(field string, m map[string]any) ([]backend.Field, error) {
	list, err := fields(field, m)
	if err != nil {
		return nil, err
	}
	for i, f := range list {
		switch f.Value.(type) {
		case nil, string, bool, int64, float64:
		default:
			b, err := json.Marshal(f.Value)
			if err != nil {
				return nil, invalid(field, fmt.Sprintf("value of %q: %v", f.Column, err))
			}
			list[i].Value = string(b)
		}
	}
	return list, nil
}

func fields(field string, m map[string]any) ([]backend.Field, error) {
	list := make([]backend.Field, 0, len(m))
	for col, v := range m {
		if !identRE.MatchString(col) {
			return nil, invalid(field, fmt.Sprintf("%q is not a valid column name", col))
		}
		value, err := scalar(v)
		if err != nil {
			return nil, invalid(field, fmt.Sprintf("value of %q: %v", col, err))
		}
		list = append(list, backend.Field{Column: col, Value: value})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Column < list[j].Column })
	return list, nil
}

// scalar maps decoded JSON numbers to int64 when they are integral.
func scalar(v any) (any, error) {
	switch v := v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		return v.Float64()
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
			return int64(v), nil
		}
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float32:
		return scalar(float64(v))
	default:
		return v, nil
	}
}

func isSelect(query string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT")
}
