package kafka_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/litesql/tablegate/internal/dispatch"
	"github.com/litesql/tablegate/internal/kafka"
)

func TestNewChangePublisherErrors(t *testing.T) {
	if _, err := kafka.NewChangePublisher(nil, "changes", 0); err == nil {
		t.Error("expect error without brokers")
	}
	if _, err := kafka.NewChangePublisher([]string{"localhost:9092"}, "", 0); err == nil {
		t.Error("expect error without topic")
	}
	_, err := kafka.NewChangePublisher([]string{"localhost:9092"}, "changes", 200*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "below the 1s minimum") {
		t.Errorf("expect minimum timeout error, got %v", err)
	}
}

func TestPublishUnreachableBroker(t *testing.T) {
	pub, err := kafka.NewChangePublisher([]string{"127.0.0.1:1"}, "changes", kafka.MinTimeout)
	if err != nil {
		t.Fatal(err)
	}
	defer pub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	err = pub.Publish(ctx, &dispatch.ChangeEvent{Operation: dispatch.OpDeleteRows, Table: "users"})
	if err == nil {
		t.Error("expect error publishing to an unreachable broker")
	}
}
