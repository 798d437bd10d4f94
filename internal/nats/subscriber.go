package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/litesql/tablegate/internal/dispatch"
)

var (
	startSeqRE  = regexp.MustCompile(`^by_start_sequence=\d+$`)
	startTimeRE = regexp.MustCompile(`^by_start_time=.+$`)
)

// ChangeSubscriber replays and follows the change events of a stream.
type ChangeSubscriber struct {
	js     jetstream.JetStream
	stream string
}

func NewChangeSubscriber(nc *nats.Conn, stream string) (*ChangeSubscriber, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, err
	}
	return &ChangeSubscriber{js: js, stream: stream}, nil
}

// Follow calls fn for every change event of table (all tables when empty)
// until ctx is done. policy is one of all, last, new, by_start_sequence=N or
// by_start_time=YYYY-MM-DD HH:MM:SS.
func (s *ChangeSubscriber) Follow(ctx context.Context, table, policy string, fn func(*dispatch.ChangeEvent)) error {
	cfg, err := consumerConfig(policy)
	if err != nil {
		return err
	}
	cfg.FilterSubjects = []string{Subject(s.stream, table)}
	consumer, err := s.js.OrderedConsumer(ctx, s.stream, cfg)
	if err != nil {
		return err
	}
	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var event dispatch.ChangeEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			slog.Error("failed to unmarshal change event", "subject", msg.Subject(), "error", err)
			return
		}
		fn(&event)
	})
	if err != nil {
		return err
	}
	<-ctx.Done()
	cc.Stop()
	return nil
}

func consumerConfig(policy string) (jetstream.OrderedConsumerConfig, error) {
	var cfg jetstream.OrderedConsumerConfig
	switch {
	case policy == "all" || policy == "":
		cfg.DeliverPolicy = jetstream.DeliverAllPolicy
	case policy == "last":
		cfg.DeliverPolicy = jetstream.DeliverLastPolicy
	case policy == "new":
		cfg.DeliverPolicy = jetstream.DeliverNewPolicy
	case startSeqRE.MatchString(policy):
		cfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		if _, err := fmt.Sscanf(policy, "by_start_sequence=%d", &cfg.OptStartSeq); err != nil {
			return cfg, fmt.Errorf("invalid start sequence: %w", err)
		}
	case startTimeRE.MatchString(policy):
		cfg.DeliverPolicy = jetstream.DeliverByStartTimePolicy
		t, err := time.Parse(time.DateTime, strings.TrimPrefix(policy, "by_start_time="))
		if err != nil {
			return cfg, fmt.Errorf("invalid start time: %w", err)
		}
		cfg.OptStartTime = &t
	default:
		return cfg, fmt.Errorf("invalid deliver policy: %s", policy)
	}
	return cfg, nil
}
