package nats

import (
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Connect dials a NATS server and logs connection state changes.
func Connect(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("tablegate"),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("reconnected to NATS server", "url", c.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			slog.Warn("disconnected from NATS server", "url", c.ConnectedUrl(), "error", err)
		}),
		nats.ClosedHandler(func(c *nats.Conn) {
			slog.Info("NATS connection closed permanently")
		}))
}

// Drain flushes pending publishes and waits up to timeout for the connection
// to close.
func Drain(nc *nats.Conn, timeout time.Duration) error {
	if err := nc.Drain(); err != nil {
		nc.Close()
		return err
	}
	deadline := time.Now().Add(timeout)
	for !nc.IsClosed() {
		if time.Now().After(deadline) {
			nc.Close()
			return nats.ErrDrainTimeout
		}
		time.Sleep(20 * time.Millisecond)
	}
	return nil
}

// Subject returns the subject carrying the change events of table.
func Subject(stream, table string) string {
	if table == "" {
		return stream + ".>"
	}
	return stream + "." + table
}
