package nats_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/litesql/tablegate/internal/backend"
	"github.com/litesql/tablegate/internal/dispatch"
	tgnats "github.com/litesql/tablegate/internal/nats"
)

func TestChangePublisher(t *testing.T) {
	nc, ns, err := tgnats.RunEmbeddedNATSServer(tgnats.Config{
		Name:     "test",
		Port:     -1,
		StoreDir: t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
	})

	ctx := context.Background()
	pub, err := tgnats.NewChangePublisher(ctx, nc, tgnats.StreamConfig{Name: "CHANGES"})
	if err != nil {
		t.Fatal(err)
	}
	err = pub.Publish(ctx, &dispatch.ChangeEvent{
		Operation: dispatch.OpInsertRow,
		Table:     "users",
		Rows:      &backend.Rows{Columns: []string{"id"}, Values: [][]any{{int64(1)}}},
		Time:      time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatal(err)
	}
	stream, err := js.Stream(ctx, "CHANGES")
	if err != nil {
		t.Fatal(err)
	}
	msg, err := stream.GetLastMsgForSubject(ctx, "CHANGES.users")
	if err != nil {
		t.Fatal(err)
	}
	if want := `"operation":"insert_row"`; !strings.Contains(string(msg.Data), want) {
		t.Errorf("expect %s in %s", want, msg.Data)
	}

	sub, err := tgnats.NewChangeSubscriber(nc, "CHANGES")
	if err != nil {
		t.Fatal(err)
	}
	followCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	events := make(chan *dispatch.ChangeEvent, 1)
	go func() {
		err := sub.Follow(followCtx, "users", "all", func(e *dispatch.ChangeEvent) {
			select {
			case events <- e:
			default:
			}
		})
		if err != nil {
			t.Errorf("follow: %v", err)
		}
	}()
	select {
	case e := <-events:
		if e.Operation != dispatch.OpInsertRow || e.Table != "users" {
			t.Errorf("unexpected event %+v", e)
		}
	case <-followCtx.Done():
		t.Fatal("timeout waiting for change event")
	}
}

func TestFollowInvalidPolicy(t *testing.T) {
	nc, ns, err := tgnats.RunEmbeddedNATSServer(tgnats.Config{Port: -1, StoreDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
	})
	sub, err := tgnats.NewChangeSubscriber(nc, "CHANGES")
	if err != nil {
		t.Fatal(err)
	}
	for _, policy := range []string{"oldest", "by_start_sequence=x", "by_start_time=yesterday"} {
		if err := sub.Follow(context.Background(), "", policy, nil); err == nil {
			t.Errorf("expect error for policy %q", policy)
		}
	}
}

func TestEmbeddedServerWithUser(t *testing.T) {
	nc, ns, err := tgnats.RunEmbeddedNATSServer(tgnats.Config{
		Port:     -1,
		StoreDir: t.TempDir(),
		User:     "gate",
		Pass:     "secret",
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
	})

	ctx := context.Background()
	pub, err := tgnats.NewChangePublisher(ctx, nc, tgnats.StreamConfig{Name: "CHANGES"})
	if err != nil {
		t.Fatalf("jetstream not usable with credentials: %v", err)
	}
	err = pub.Publish(ctx, &dispatch.ChangeEvent{
		Operation: dispatch.OpDeleteRows,
		Table:     "users",
		Rows:      &backend.Rows{Columns: []string{"id"}, Values: [][]any{{int64(7)}}},
		Time:      time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := nats.Connect(ns.ClientURL(), nats.UserInfo("gate", "wrong")); err == nil {
		t.Fatal("expect authorization error for wrong password")
	}
}

func TestDrain(t *testing.T) {
	nc, ns, err := tgnats.RunEmbeddedNATSServer(tgnats.Config{Port: -1, StoreDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(ns.Shutdown)

	ctx := context.Background()
	pub, err := tgnats.NewChangePublisher(ctx, nc, tgnats.StreamConfig{Name: "CHANGES"})
	if err != nil {
		t.Fatal(err)
	}
	if err := pub.Publish(ctx, &dispatch.ChangeEvent{Operation: dispatch.OpInsertRow, Table: "users"}); err != nil {
		t.Fatal(err)
	}
	if err := tgnats.Drain(nc, 5*time.Second); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if !nc.IsClosed() {
		t.Error("expect connection closed after drain")
	}
}
