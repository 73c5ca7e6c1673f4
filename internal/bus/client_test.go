package bus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-robin/internal/config"
	"github.com/loqalabs/loqa-robin/internal/natsserver"
	"github.com/nats-io/nats.go"
)

type ping struct {
	Word string `json:"word"`
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, logger)
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	c, err := Connect(context.Background(), "bus-test", config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 1000}, logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestPublishAndSubscribeJSON(t *testing.T) {
	c := newTestClient(t)
	if !c.Healthy() {
		t.Fatal("expected healthy connection")
	}
	got := make(chan ping, 2)
	if _, err := SubscribeJSON(c, "robin.test", func(p ping, _ *nats.Msg) { got <- p }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := c.Conn().Publish("robin.test", []byte("not json")); err != nil {
		t.Fatal(err)
	}
	if err := c.PublishJSON("robin.test", ping{Word: "forecast"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case p := <-got:
		if p.Word != "forecast" {
			t.Fatalf("unexpected message %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestRequestJSON(t *testing.T) {
	c := newTestClient(t)
	_, err := c.Conn().Subscribe("robin.echo", func(msg *nats.Msg) {
		var p ping
		_ = json.Unmarshal(msg.Data, &p)
		data, _ := json.Marshal(ping{Word: p.Word + "!"})
		_ = msg.Respond(data)
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var reply ping
	if err := c.RequestJSON(ctx, "robin.echo", ping{Word: "history"}, &reply); err != nil {
		t.Fatalf("request: %v", err)
	}
	if reply.Word != "history!" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if err := c.RequestJSON(ctx, "robin.echo", ping{}, nil); err != nil {
		t.Fatalf("request without reply body: %v", err)
	}
}

func TestConnectRequiresServers(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := Connect(context.Background(), "", config.BusConfig{}, logger); err == nil {
		t.Fatal("expected error without servers")
	}
}

func TestEmbeddedDisabled(t *testing.T) {
	srv, err := natsserver.Start(config.BusConfig{Embedded: false}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil || srv != nil {
		t.Fatalf("expected no server, got %v err=%v", srv, err)
	}
	if srv.ClientURL() != "" {
		t.Fatal("nil server must report no url")
	}
	srv.Shutdown()
}
