package backend

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const tablesQuery = `SELECT table_name FROM information_schema.tables WHERE table_schema = $1 AND table_type = 'BASE TABLE' ORDER BY table_name`

type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects a pool to url. A non empty password overrides the
// one carried by the url.
func OpenPostgres(ctx context.Context, url, password string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if password != "" {
		config.ConnConfig.Password = password
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping backend: %w", err)
	}
	slog.Info("connected to postgres backend", "host", config.ConnConfig.Host, "database", config.ConnConfig.Database)
	return NewPostgres(pool), nil
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Tables(ctx context.Context, schema string) (*Rows, error) {
	rows, err := p.pool.Query(ctx, tablesQuery, schema)
	if err != nil {
		return nil, err
	}
	return collectRows(rows)
}

func (p *Postgres) Select(ctx context.Context, q SelectQuery) (*Rows, error) {
	return p.query(ctx, postgresDialect.selectStmt(q))
}

func (p *Postgres) Insert(ctx context.Context, q InsertQuery) (*Rows, error) {
	return p.query(ctx, postgresDialect.insertStmt(q))
}

func (p *Postgres) Update(ctx context.Context, q UpdateQuery) (*Rows, error) {
	return p.query(ctx, postgresDialect.updateStmt(q))
}

func (p *Postgres) Delete(ctx context.Context, q DeleteQuery) (*Rows, error) {
	return p.query(ctx, postgresDialect.deleteStmt(q))
}

func (p *Postgres) Count(ctx context.Context, q CountQuery) (int64, error) {
	stmt := postgresDialect.countStmt(q)
	var n int64
	err := p.pool.QueryRow(ctx, stmt.sql, textArgs(stmt.args)...).Scan(&n)
	return n, err
}

func (p *Postgres) Call(ctx context.Context, function string, args []Field) (*Rows, error) {
	rows, err := p.query(ctx, postgresDialect.callStmt(function, args))
	if err != nil {
		return nil, err
	}
	return callResult(function, rows), nil
}

// QueryReadOnly runs sql inside a read only transaction that is always rolled back.
func (p *Postgres) QueryReadOnly(ctx context.Context, sql string) (*Rows, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	rows, err := tx.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	return collectRows(rows)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) query(ctx context.Context, stmt statement) (*Rows, error) {
	slog.DebugContext(ctx, "executing statement", "sql", stmt.sql, "args", len(stmt.args))
	rows, err := p.pool.Query(ctx, stmt.sql, textArgs(stmt.args)...)
	if err != nil {
		return nil, err
	}
	return collectRows(rows)
}

func collectRows(rows pgx.Rows) (*Rows, error) {
	defer rows.Close()
	fds := rows.FieldDescriptions()
	res := &Rows{
		Columns: make([]string, len(fds)),
		Values:  make([][]any, 0),
	}
	for i, fd := range fds {
		res.Columns[i] = fd.Name
	}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		for i, v := range values {
			values[i] = normalize(v)
		}
		res.Values = append(res.Values, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// textArgs sends every scalar in text format so the server parses it with
// the type it inferred for the parameter.
func textArgs(args []any) []any {
	out := make([]any, len(args))
	for i, arg := range args {
		switch v := arg.(type) {
		case nil:
			out[i] = nil
		case string:
			out[i] = v
		case bool:
			out[i] = strconv.FormatBool(v)
		case int64:
			out[i] = strconv.FormatInt(v, 10)
		case float64:
			out[i] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			out[i] = fmt.Sprint(v)
		}
	}
	return out
}

func normalize(v any) any {
	switch v := v.(type) {
	case [16]byte:
		return fmt.Sprintf("%x-%x-%x-%x-%x", v[0:4], v[4:6], v[6:8], v[8:10], v[10:16])
	default:
		return v
	}
}
