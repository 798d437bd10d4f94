package postgresql

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgtype"
	wire "github.com/jeroenrinzema/psql-wire"
	"github.com/jeroenrinzema/psql-wire/codes"
	psqlerr "github.com/jeroenrinzema/psql-wire/errors"

	"github.com/litesql/tablegate/internal/backend"
	"github.com/litesql/tablegate/internal/dispatch"
)

type Config struct {
	User    string
	Pass    string
	TLSCert string
	TLSKey  string
}

const columnWidth = 256

var reTxControl = regexp.MustCompile(`(?i)^(BEGIN|START\s+TRANSACTION|COMMIT|END|ROLLBACK|ABORT)\b`)

// Server is a read-only PostgreSQL front door. Every statement is run
// through the dispatcher's run_sql operation.
type Server struct {
	*wire.Server
	dispatch *dispatch.Dispatcher
}

func NewServer(cfg Config, d *dispatch.Dispatcher) (*Server, error) {
	server := Server{dispatch: d}
	opts := []wire.OptionFn{
		wire.Version("17.0"),
		wire.GlobalParameters(wire.Parameters{
			"standard_conforming_strings": "on",
			"DateStyle":                   "ISO, MDY",
			"TimeZone":                    "UTC",
		}),
		wire.SessionMiddleware(server.session),
		wire.TerminateConn(server.terminateConn),
		wire.Logger(slog.Default()),
		wire.SessionAuthStrategy(
			wire.ClearTextPassword(func(ctx context.Context, database, username, password string) (context.Context, bool, error) {
				if username == cfg.User && password == cfg.Pass {
					slog.InfoContext(ctx, "pg-wire: authenticated", "database", database, "user", username, "remote", wire.RemoteAddress(ctx))
					return ctx, true, nil
				}
				slog.WarnContext(ctx, "pg-wire: authentication failed", "user", username, "remote", wire.RemoteAddress(ctx))
				return ctx, false, nil
			})),
	}

	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return nil, err
		}
		opts = append(opts, wire.TLSConfig(&tls.Config{Certificates: []tls.Certificate{cert}}))
	}

	wireServer, err := wire.NewServer(server.parse, opts...)
	if err != nil {
		return nil, err
	}
	server.Server = wireServer
	return &server, nil
}

func (s *Server) ListenAndServe(port int) error {
	return s.Server.ListenAndServe(fmt.Sprintf(":%d", port))
}

func (s *Server) Serve(l net.Listener) error {
	return s.Server.Serve(l)
}

func (s *Server) session(ctx context.Context) (context.Context, error) {
	slog.InfoContext(ctx, "pg-wire: new session established", "remote", wire.RemoteAddress(ctx))
	return ctx, nil
}

func (s *Server) terminateConn(ctx context.Context) error {
	slog.InfoContext(ctx, "pg-wire: session terminated", "remote", wire.RemoteAddress(ctx))
	return nil
}

func (s *Server) parse(ctx context.Context, sql string) (wire.PreparedStatements, error) {
	slog.DebugContext(ctx, "pg-wire: query received", "remote", wire.RemoteAddress(ctx), "sql", sql)
	trimmed := strings.TrimSpace(sql)
	upper := strings.ToUpper(trimmed)
	switch {
	case trimmed == "" || trimmed == ";":
		return complete(""), nil
	case strings.HasPrefix(upper, "-- PING"):
		return complete("pong"), nil
	case strings.HasPrefix(upper, "SET "):
		return complete("SET"), nil
	case reTxControl.MatchString(trimmed):
		tag := strings.Fields(upper)[0]
		switch tag {
		case "START":
			tag = "BEGIN"
		case "END":
			tag = "COMMIT"
		case "ABORT":
			tag = "ROLLBACK"
		}
		return complete(tag), nil
	}

	req := dispatch.RunSQLRequest{Query: sql}
	rows, err := s.dispatch.RunSQL(ctx, req)
	if err != nil {
		return nil, wireError(err)
	}

	columns := make(wire.Columns, len(rows.Columns))
	for i, col := range rows.Columns {
		columns[i] = wire.Column{
			Table: 0,
			Name:  col,
			Oid:   pgtype.TextOID,
			Width: columnWidth,
		}
	}

	// the rows fetched while describing the statement answer its first
	// execution, later executions run the query again
	var mu sync.Mutex
	pending := rows
	handle := func(ctx context.Context, writer wire.DataWriter, parameters []wire.Parameter) error {
		mu.Lock()
		current := pending
		pending = nil
		mu.Unlock()
		if current == nil {
			var err error
			current, err = s.dispatch.RunSQL(ctx, req)
			if err != nil {
				return wireError(err)
			}
		}
		for _, values := range current.Values {
			if err := writer.Row(textValues(values)); err != nil {
				slog.ErrorContext(ctx, "pg-wire: write row", "error", err)
				return err
			}
		}
		return writer.Complete(fmt.Sprintf("SELECT %d", current.Len()))
	}
	return wire.Prepared(wire.NewStatement(handle, wire.WithColumns(columns))), nil
}

func complete(tag string) wire.PreparedStatements {
	return wire.Prepared(wire.NewStatement(func(ctx context.Context, writer wire.DataWriter, parameters []wire.Parameter) error {
		if tag == "" {
			return writer.Empty()
		}
		return writer.Complete(tag)
	}))
}

func wireError(err error) error {
	var (
		validationErr *dispatch.ValidationError
		rejectedErr   *dispatch.RejectedError
	)
	switch {
	case errors.As(err, &validationErr):
		return psqlerr.WithCode(err, codes.SyntaxErrorOrAccessRuleViolation)
	case errors.As(err, &rejectedErr):
		return psqlerr.WithCode(err, codes.InsufficientPrivilege)
	case errors.Is(err, backend.ErrUnsupported):
		return psqlerr.WithCode(err, codes.FeatureNotSupported)
	}
	return err
}

func textValues(values []any) []any {
	strs := make([]any, len(values))
	for i, v := range values {
		strs[i] = backend.TextValue(v)
	}
	return strs
}
