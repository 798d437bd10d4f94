package backend

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// callResult relays what a scalar function returned. SELECT * FROM f() puts
// a scalar result in a single column named after the function: a JSON
// object, an array of objects or null held there replaces the wrapping row.
func callResult(function string, rows *Rows) *Rows {
	name := function
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	if rows.Len() != 1 || len(rows.Columns) != 1 || rows.Columns[0] != name {
		return rows
	}
	switch v := rows.Values[0][0].(type) {
	case nil:
		return &Rows{Columns: []string{}, Values: [][]any{}}
	case map[string]any:
		return rowsOf([]map[string]any{v})
	case []any:
		records := make([]map[string]any, len(v))
		for i, elem := range v {
			record, ok := elem.(map[string]any)
			if !ok {
				return rows
			}
			records[i] = record
		}
		return rowsOf(records)
	}
	return rows
}

// TextValue renders a column value the way a SQL client shows it. NULL stays
// nil, database types use their text encoding and composite values are JSON.
func TextValue(v any) any {
	switch v := v.(type) {
	case nil:
		return nil
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case driver.Valuer:
		dv, err := v.Value()
		if err != nil {
			return fmt.Sprint(v)
		}
		return TextValue(dv)
	case fmt.Stringer:
		return v.String()
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
	return fmt.Sprint(v)
}
