package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/omniswap/swapd/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type busStub struct {
	mu    sync.Mutex
	chans map[string]chan []byte
}

func newBusStub() *busStub {
	return &busStub{chans: make(map[string]chan []byte)}
}

func (b *busStub) channel(name string) chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.chans[name]
	if !ok {
		ch = make(chan []byte, 16)
		b.chans[name] = ch
	}
	return ch
}

func (b *busStub) Publish(_ context.Context, channel string, payload []byte) error {
	b.channel(channel) <- payload
	return nil
}

func (b *busStub) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	return b.channel(channel), nil
}

func (b *busStub) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *busStub) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestRoutingKeys(t *testing.T) {
	evt, _ := json.Marshal(domain.BusEvent{
		Type:        domain.EventStepConfirmed,
		SwapID:      "s1",
		UserAddress: "0xuser",
	})
	keys := routingKeys(domain.ChannelSwaps, evt)
	want := []string{"swaps", "swap:s1", "user:0xuser"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys = %v, want %v", keys, want)
		}
	}

	tick := []byte(`{"event":"price_tick","token":"0xeth","price":2500}`)
	keys = routingKeys(domain.ChannelPrices, tick)
	if len(keys) != 2 || keys[1] != "price:0xeth" {
		t.Fatalf("price keys = %v", keys)
	}

	keys = routingKeys(domain.ChannelTriggers, []byte("not json"))
	if len(keys) != 1 || keys[0] != "triggers" {
		t.Fatalf("garbage payload keys = %v", keys)
	}
}

func TestClientMatchesWildcard(t *testing.T) {
	c := &client{subs: map[string]bool{
		"swap:*":    true,
		"user:0xme": true,
	}}

	if !c.matches([]string{"swaps", "swap:s1"}) {
		t.Fatal("swap:* should match swap:s1")
	}
	if !c.matches([]string{"user:0xme"}) {
		t.Fatal("exact key should match")
	}
	if c.matches([]string{"triggers", "user:0xother"}) {
		t.Fatal("unrelated keys should not match")
	}
}

func dialHub(t *testing.T, serverURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(serverURL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn, wait time.Duration) ([]byte, error) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(wait))
	_, data, err := conn.ReadMessage()
	return data, err
}

func TestHubDeliversToSubscribedClient(t *testing.T) {
	bus := newBusStub()
	hub := NewHub(bus, discardLogger(), Config{Mode: "api"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer server.Close()

	subscribed := dialHub(t, server.URL)
	defer subscribed.Close()
	bystander := dialHub(t, server.URL)
	defer bystander.Close()

	// Both receive the hello frame first.
	for _, conn := range []*websocket.Conn{subscribed, bystander} {
		data, err := readFrame(t, conn, 2*time.Second)
		if err != nil {
			t.Fatalf("hello frame: %v", err)
		}
		var hello struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &hello); err != nil || hello.Type != "hello" {
			t.Fatalf("first frame = %s", data)
		}
	}

	sub := `{"action":"subscribe","channels":["swap:s1"]}`
	if err := subscribed.WriteMessage(websocket.TextMessage, []byte(sub)); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	other := `{"action":"subscribe","channels":["user:0xother"]}`
	if err := bystander.WriteMessage(websocket.TextMessage, []byte(other)); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// Give the read pumps a moment to register the subscriptions.
	time.Sleep(100 * time.Millisecond)

	evt, _ := json.Marshal(domain.BusEvent{
		Type:        domain.EventStepConfirmed,
		SwapID:      "s1",
		UserAddress: "0xuser",
		At:          time.Now().UTC(),
	})
	if err := bus.Publish(context.Background(), domain.ChannelSwaps, evt); err != nil {
		t.Fatalf("publish: %v", err)
	}

	data, err := readFrame(t, subscribed, 2*time.Second)
	if err != nil {
		t.Fatalf("subscribed client frame: %v", err)
	}
	var got domain.BusEvent
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode frame %s: %v", data, err)
	}
	if got.SwapID != "s1" || got.Type != domain.EventStepConfirmed {
		t.Fatalf("frame = %+v", got)
	}

	if data, err := readFrame(t, bystander, 200*time.Millisecond); err == nil {
		t.Fatalf("bystander unexpectedly received %s", data)
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop after cancel")
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	bus := newBusStub()
	hub := NewHub(bus, discardLogger(), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer server.Close()

	conn := dialHub(t, server.URL)
	defer conn.Close()

	if _, err := readFrame(t, conn, 2*time.Second); err != nil {
		t.Fatalf("hello frame: %v", err)
	}

	conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"subscribe","channels":["triggers"]}`))
	time.Sleep(100 * time.Millisecond)

	evt, _ := json.Marshal(domain.BusEvent{Type: domain.EventTriggerFired, TriggerID: "trig-1"})
	bus.Publish(context.Background(), domain.ChannelTriggers, evt)
	if _, err := readFrame(t, conn, 2*time.Second); err != nil {
		t.Fatalf("subscribed frame: %v", err)
	}

	conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"unsubscribe","channels":["triggers"]}`))
	time.Sleep(100 * time.Millisecond)

	bus.Publish(context.Background(), domain.ChannelTriggers, evt)
	if data, err := readFrame(t, conn, 200*time.Millisecond); err == nil {
		t.Fatalf("received after unsubscribe: %s", data)
	}
}
