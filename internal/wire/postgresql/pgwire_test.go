package postgresql_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/litesql/tablegate/internal/backend/backendtest"
	"github.com/litesql/tablegate/internal/dispatch"
	"github.com/litesql/tablegate/internal/wire/postgresql"
)

func startServer(t *testing.T) int {
	t.Helper()
	client := backendtest.SQLite(t,
		"CREATE TABLE users(id INTEGER PRIMARY KEY, name TEXT, note TEXT)",
		"INSERT INTO users(id, name) VALUES (1, 'User 1'), (2, 'User 2')",
	)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	server, err := postgresql.NewServer(postgresql.Config{User: "test", Pass: "test"}, dispatch.New(client, dispatch.Config{}))
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	t.Cleanup(func() {
		server.Close()
		listener.Close()
	})
	go server.Serve(listener)
	return listener.Addr().(*net.TCPAddr).Port
}

func connect(t *testing.T, port int, pass string) *pgxpool.Pool {
	t.Helper()
	connString := fmt.Sprintf("postgresql://test:%s@127.0.0.1:%d/tablegate?sslmode=disable&default_query_exec_mode=simple_protocol", pass, port)
	pool, err := pgxpool.New(context.TODO(), connString)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestServe(t *testing.T) {
	type testCase struct {
		sql      string
		wantRows [][]string
		wantCode string
	}

	tt := map[string]testCase{
		"select": {
			sql:      "SELECT name FROM users ORDER BY id",
			wantRows: [][]string{{"User 1"}, {"User 2"}},
		},
		"select where": {
			sql:      "select id, name from users where id = 2",
			wantRows: [][]string{{"2", "User 2"}},
		},
		"select nothing": {
			sql: "SELECT name FROM users WHERE id = 99",
		},
		"delete": {
			sql:      "DELETE FROM users",
			wantCode: "42000",
		},
		"drop": {
			sql:      "DROP TABLE users",
			wantCode: "42000",
		},
	}

	pool := connect(t, startServer(t), "test")
	for name, tc := range tt {
		t.Run(name, func(t *testing.T) {
			var got [][]string
			rows, err := pool.Query(context.TODO(), tc.sql)
			if err == nil {
				for rows.Next() {
					values, err := rows.Values()
					if err != nil {
						t.Fatalf("values: %v", err)
					}
					row := make([]string, len(values))
					for i, v := range values {
						row[i] = fmt.Sprint(v)
					}
					got = append(got, row)
				}
				err = rows.Err()
			}
			if tc.wantCode != "" {
				var pgErr *pgconn.PgError
				if !errors.As(err, &pgErr) {
					t.Fatalf("want pg error, got %v", err)
				}
				if pgErr.Code != tc.wantCode {
					t.Errorf("want code %s, got %s", tc.wantCode, pgErr.Code)
				}
				return
			}
			if err != nil {
				t.Fatalf("rows: %v", err)
			}
			if fmt.Sprint(got) != fmt.Sprint(tc.wantRows) {
				t.Errorf("want rows %v, got %v", tc.wantRows, got)
			}
		})
	}

	var count string
	if err := pool.QueryRow(context.TODO(), "SELECT count(*) FROM users").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != "2" {
		t.Errorf("write statements must not have changed the table, count is %s", count)
	}
}

func TestSessionCommands(t *testing.T) {
	pool := connect(t, startServer(t), "test")
	for _, sql := range []string{"-- PING", "SET search_path TO public", "BEGIN", "COMMIT", "ROLLBACK"} {
		if _, err := pool.Exec(context.TODO(), sql); err != nil {
			t.Errorf("%s: %v", sql, err)
		}
	}
}

func TestAuthentication(t *testing.T) {
	pool := connect(t, startServer(t), "wrong")
	if err := pool.Ping(context.TODO()); err == nil {
		t.Error("expect authentication error")
	}
}

func TestSessionParameters(t *testing.T) {
	pool := connect(t, startServer(t), "test")
	conn, err := pool.Acquire(context.TODO())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer conn.Release()
	if got := conn.Conn().PgConn().ParameterStatus("standard_conforming_strings"); got != "on" {
		t.Errorf("want standard_conforming_strings on, got %q", got)
	}
	var name string
	if err := conn.QueryRow(context.TODO(), "SELECT name FROM users WHERE name = 'User 1'").Scan(&name); err != nil {
		t.Fatalf("simple protocol query with a string literal: %v", err)
	}
	if name != "User 1" {
		t.Errorf("unexpected name %q", name)
	}
}
