package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/litesql/tablegate/internal/dispatch"
)

// MinTimeout is the shortest record delivery timeout franz-go accepts.
const MinTimeout = time.Second

// ChangePublisher produces change events to a Kafka topic keyed by table.
type ChangePublisher struct {
	client *kgo.Client
	topic  string
}

func NewChangePublisher(brokers []string, topic string, timeout time.Duration) (*ChangePublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no seed brokers")
	}
	if topic == "" {
		return nil, errors.New("kafka: topic is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if timeout < MinTimeout {
		return nil, fmt.Errorf("kafka: publish timeout %s is below the %s minimum", timeout, MinTimeout)
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.AllowAutoTopicCreation(),
		kgo.ProduceRequestTimeout(timeout),
		kgo.RecordDeliveryTimeout(timeout),
		kgo.ClientID("tablegate"),
	)
	if err != nil {
		return nil, err
	}
	slog.Info("kafka change publisher ready", "brokers", brokers, "topic", topic)
	return &ChangePublisher{client: client, topic: topic}, nil
}

func (p *ChangePublisher) Publish(ctx context.Context, event *dispatch.ChangeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	rec := &kgo.Record{
		Key:   []byte(event.Table),
		Value: data,
		Headers: []kgo.RecordHeader{
			{Key: "operation", Value: []byte(event.Operation)},
		},
	}
	return p.client.ProduceSync(ctx, rec).FirstErr()
}

func (p *ChangePublisher) Close() {
	p.client.Close()
}
