package backend

import (
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

type dialect struct {
	placeholder func(n int) string
}

var (
	postgresDialect = dialect{placeholder: func(n int) string { return "$" + strconv.Itoa(n) }}
	sqliteDialect   = dialect{placeholder: func(int) string { return "?" }}
)

type statement struct {
	sql  string
	args []any
}

// quoteTable quotes a possibly schema qualified table name.
func quoteTable(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func (d dialect) selectStmt(q SelectQuery) statement {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(selectList(q.Columns))
	sb.WriteString(" FROM ")
	sb.WriteString(quoteTable(q.Table))
	args := d.where(&sb, q.Filters, nil)
	if q.Limit > 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(q.Limit))
	}
	return statement{sql: sb.String(), args: args}
}

func (d dialect) insertStmt(q InsertQuery) statement {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(quoteTable(q.Table))
	if len(q.Row) == 0 {
		sb.WriteString(" DEFAULT VALUES RETURNING *")
		return statement{sql: sb.String()}
	}
	args := make([]any, 0, len(q.Row))
	cols := make([]string, 0, len(q.Row))
	params := make([]string, 0, len(q.Row))
	for _, f := range q.Row {
		args = append(args, f.Value)
		cols = append(cols, quoteIdent(f.Column))
		params = append(params, d.placeholder(len(args)))
	}
	sb.WriteString(" (")
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString(") VALUES (")
	sb.WriteString(strings.Join(params, ", "))
	sb.WriteString(") RETURNING *")
	return statement{sql: sb.String(), args: args}
}

func (d dialect) updateStmt(q UpdateQuery) statement {
	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(quoteTable(q.Table))
	sb.WriteString(" SET ")
	args := make([]any, 0, len(q.Set)+len(q.Match))
	for i, f := range q.Set {
		if i > 0 {
			sb.WriteString(", ")
		}
		args = append(args, f.Value)
		sb.WriteString(quoteIdent(f.Column))
		sb.WriteString(" = ")
		sb.WriteString(d.placeholder(len(args)))
	}
	args = d.where(&sb, q.Match, args)
	sb.WriteString(" RETURNING *")
	return statement{sql: sb.String(), args: args}
}

func (d dialect) deleteStmt(q DeleteQuery) statement {
	var sb strings.Builder
	sb.WriteString("DELETE FROM ")
	sb.WriteString(quoteTable(q.Table))
	args := d.where(&sb, q.Match, nil)
	sb.WriteString(" RETURNING *")
	return statement{sql: sb.String(), args: args}
}

func (d dialect) countStmt(q CountQuery) statement {
	var sb strings.Builder
	sb.WriteString("SELECT count(*) FROM ")
	sb.WriteString(quoteTable(q.Table))
	args := d.where(&sb, q.Filters, nil)
	return statement{sql: sb.String(), args: args}
}

// callStmt invokes a set returning or scalar function with named arguments.
func (d dialect) callStmt(function string, args []Field) statement {
	var sb strings.Builder
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(quoteTable(function))
	sb.WriteString("(")
	values := make([]any, 0, len(args))
	for i, f := range args {
		if i > 0 {
			sb.WriteString(", ")
		}
		values = append(values, f.Value)
		sb.WriteString(quoteIdent(f.Column))
		sb.WriteString(" => ")
		sb.WriteString(d.placeholder(len(values)))
	}
	sb.WriteString(")")
	return statement{sql: sb.String(), args: values}
}

// where appends a conjunction of equality predicates. A nil value matches NULL.
func (d dialect) where(sb *strings.Builder, filters []Field, args []any) []any {
	for i, f := range filters {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		sb.WriteString(quoteIdent(f.Column))
		if f.Value == nil {
			sb.WriteString(" IS NULL")
			continue
		}
		args = append(args, f.Value)
		sb.WriteString(" = ")
		sb.WriteString(d.placeholder(len(args)))
	}
	return args
}

func selectList(columns []string) string {
	if len(columns) == 0 {
		return "*"
	}
	quoted := make([]string, len(columns))
	for i, col := range columns {
		if col == "*" {
			quoted[i] = col
			continue
		}
		quoted[i] = quoteIdent(col)
	}
	return strings.Join(quoted, ", ")
}
