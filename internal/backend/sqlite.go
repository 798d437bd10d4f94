package backend

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

const sqliteTablesQuery = `SELECT name AS table_name FROM sqlite_schema WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`

// SQLite is an embedded backend for local development. It has no stored
// procedures, so Call always fails with ErrUnsupported.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping backend: %w", err)
	}
	slog.Info("using sqlite backend", "dsn", dsn)
	return &SQLite{db: db}, nil
}

func (s *SQLite) DB() *sql.DB {
	return s.db
}

// Tables ignores schema, sqlite has a single namespace per database file.
func (s *SQLite) Tables(ctx context.Context, _ string) (*Rows, error) {
	return s.query(ctx, s.db, statement{sql: sqliteTablesQuery})
}

func (s *SQLite) Select(ctx context.Context, q SelectQuery) (*Rows, error) {
	return s.query(ctx, s.db, sqliteDialect.selectStmt(q))
}

func (s *SQLite) Insert(ctx context.Context, q InsertQuery) (*Rows, error) {
	return s.query(ctx, s.db, sqliteDialect.insertStmt(q))
}

func (s *SQLite) Update(ctx context.Context, q UpdateQuery) (*Rows, error) {
	return s.query(ctx, s.db, sqliteDialect.updateStmt(q))
}

func (s *SQLite) Delete(ctx context.Context, q DeleteQuery) (*Rows, error) {
	return s.query(ctx, s.db, sqliteDialect.deleteStmt(q))
}

func (s *SQLite) Count(ctx context.Context, q CountQuery) (int64, error) {
	stmt := sqliteDialect.countStmt(q)
	var n int64
	err := s.db.QueryRowContext(ctx, stmt.sql, stmt.args...).Scan(&n)
	return n, err
}

func (s *SQLite) Call(_ context.Context, function string, _ []Field) (*Rows, error) {
	return nil, fmt.Errorf("call %s: %w", function, ErrUnsupported)
}

// QueryReadOnly pins a connection and switches it to query_only for the
// duration of the statement.
func (s *SQLite) QueryReadOnly(ctx context.Context, query string) (*Rows, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		return nil, err
	}
	defer conn.ExecContext(context.Background(), "PRAGMA query_only = OFF")
	return s.query(ctx, conn, statement{sql: query})
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLite) query(ctx context.Context, q querier, stmt statement) (*Rows, error) {
	slog.DebugContext(ctx, "executing statement", "sql", stmt.sql, "args", len(stmt.args))
	rows, err := q.QueryContext(ctx, stmt.sql, stmt.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	res := &Rows{
		Columns: columns,
		Values:  make([][]any, 0),
	}
	for rows.Next() {
		values := make([]any, len(columns))
		for i := range values {
			values[i] = &values[i]
		}
		if err := rows.Scan(values...); err != nil {
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		res.Values = append(res.Values, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}
