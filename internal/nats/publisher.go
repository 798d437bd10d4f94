package nats

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/litesql/tablegate/internal/dispatch"
)

type StreamConfig struct {
	Name     string
	Replicas int
	MaxAge   time.Duration
	Timeout  time.Duration
}

// ChangePublisher writes change events to a JetStream stream, one subject
// per table.
type ChangePublisher struct {
	js      jetstream.JetStream
	stream  string
	timeout time.Duration
}

func NewChangePublisher(ctx context.Context, nc *nats.Conn, cfg StreamConfig) (*ChangePublisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Replicas <= 0 {
		cfg.Replicas = 1
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Name,
		Replicas:  cfg.Replicas,
		Subjects:  []string{Subject(cfg.Name, "")},
		Storage:   jetstream.FileStorage,
		MaxAge:    cfg.MaxAge,
		Discard:   jetstream.DiscardOld,
		Retention: jetstream.LimitsPolicy,
	})
	if err != nil {
		if nc.ConnectedClusterName() == "" {
			return nil, err
		}
		slog.Warn("failed to create or update stream", "stream", cfg.Name, "error", err)
	}
	return &ChangePublisher{
		js:      js,
		stream:  cfg.Name,
		timeout: cfg.Timeout,
	}, nil
}

func (p *ChangePublisher) Publish(ctx context.Context, event *dispatch.ChangeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	pubAck, err := p.js.Publish(ctx, Subject(p.stream, event.Table), data)
	if err != nil {
		return err
	}
	slog.Debug("published change event", "stream", pubAck.Stream, "seq", pubAck.Sequence, "operation", event.Operation, "table", event.Table)
	return nil
}
