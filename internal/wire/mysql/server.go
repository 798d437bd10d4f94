package mysql

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/go-mysql-org/go-mysql/server"

	"github.com/litesql/tablegate/internal/dispatch"
)

type Config struct {
	Port int
	User string
	Pass string
}

// Server is a read-only MySQL front door backed by the dispatcher.
type Server struct {
	Port int
	User string
	Pass string

	dispatch *dispatch.Dispatcher
	mu       sync.Mutex
	listener net.Listener
	closed   atomic.Bool
}

func NewServer(cfg Config, d *dispatch.Dispatcher) (*Server, error) {
	if cfg.User == "" {
		return nil, fmt.Errorf("mysql: user is required")
	}
	return &Server{
		Port:     cfg.Port,
		User:     cfg.User,
		Pass:     cfg.Pass,
		dispatch: d,
	}, nil
}

func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", s.Port))
	if err != nil {
		return err
	}
	slog.Info("MySQL server listening", "port", s.Port)
	go s.Serve(l)
	return nil
}

// Serve accepts connections on l until Close is called.
func (s *Server) Serve(l net.Listener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	mysqlServer := server.NewDefaultServer()
	for {
		c, err := l.Accept()
		if err != nil {
			if s.closed.Load() {
				return
			}
			slog.Error("Accept conn", "error", err)
			continue
		}

		go func(c net.Conn) {
			defer c.Close()

			slog.Debug("New mysql connection", "remote", c.RemoteAddr().String())
			conn, err := mysqlServer.NewConn(c, s.User, s.Pass, &Handler{dispatch: s.dispatch})
			if err != nil {
				slog.Warn("New conn", "error", err, "remote", c.RemoteAddr().String())
				return
			}
			for {
				if err := conn.HandleCommand(); err != nil {
					if conn.Closed() {
						slog.Debug("mysql connection closed", "remote", c.RemoteAddr().String())
					} else {
						slog.Error("HandleCommand", "error", err)
					}
					return
				}
			}
		}(c)
	}
}

func (s *Server) Close() error {
	s.closed.Store(true)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
