package natsbus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"regcollab/internal/config"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	bus, err := New(config.NATSConfig{
		Port:    0, // Random port
		DataDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	t.Cleanup(bus.Close)
	return bus
}

func TestBusStartStop(t *testing.T) {
	bus := newTestBus(t)
	if bus.ClientURL() == "" {
		t.Fatal("expected non-empty client URL")
	}
	// Configured with port 0, Port must report the bound port.
	if bus.Port() == 0 {
		t.Error("expected the actually bound port")
	}
}

func TestBusJetStreamEnabled(t *testing.T) {
	bus, err := New(config.NATSConfig{
		Port:      0,
		DataDir:   t.TempDir(),
		JetStream: true,
	})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	t.Cleanup(bus.Close)

	if !bus.server.JetStreamEnabled() {
		t.Error("expected JetStream to be enabled")
	}
}

func TestPubSub(t *testing.T) {
	bus := newTestBus(t)

	client, err := NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	received := make(chan string, 1)
	_, err = client.Subscribe("test.topic", func(msg *nats.Msg) {
		received <- string(msg.Data)
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	if err := client.Publish("test.topic", []byte("hello")); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	client.Flush()

	select {
	case data := <-received:
		if data != "hello" {
			t.Errorf("expected 'hello', got '%s'", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishEvent(t *testing.T) {
	bus := newTestBus(t)

	client, err := NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	received := make(chan []byte, 1)
	_, err = client.Subscribe(TopicSessionEvents("s1"), func(msg *nats.Msg) {
		received <- msg.Data
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	err = client.PublishEvent(TopicSessionEvents("s1"), "turn", map[string]any{"speaker": "Liam_Patel"})
	if err != nil {
		t.Fatalf("publish event error: %v", err)
	}
	client.Flush()

	select {
	case data := <-received:
		var event struct {
			Type      string         `json:"type"`
			Timestamp string         `json:"timestamp"`
			Data      map[string]any `json:"data"`
		}
		if err := json.Unmarshal(data, &event); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if event.Type != "turn" {
			t.Errorf("expected type 'turn', got '%s'", event.Type)
		}
		if event.Timestamp == "" {
			t.Error("expected a timestamp")
		}
		if event.Data["speaker"] != "Liam_Patel" {
			t.Errorf("unexpected event data: %v", event.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestTopicNames(t *testing.T) {
	if got := TopicSessionEvents("s1"); got != "events.session.s1" {
		t.Errorf("expected events.session.s1, got %s", got)
	}
	if got := TopicPipelineEvents("r1"); got != "events.pipeline.r1" {
		t.Errorf("expected events.pipeline.r1, got %s", got)
	}
	if TopicTasksIPC != "tasks.ipc" {
		t.Errorf("expected tasks.ipc, got %s", TopicTasksIPC)
	}
}
