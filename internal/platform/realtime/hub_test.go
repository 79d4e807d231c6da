package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newTestClient(topics ...string) *Client {
	return &Client{
		ID:     uuid.New().String(),
		Topics: topics,
		Send:   make(chan []byte, 16),
	}
}

func newTestHub() *Hub {
	return NewHub(zerolog.Nop())
}

func TestHub_RegisterAndBroadcast(t *testing.T) {
	hub := newTestHub()
	convID := uuid.New()
	topic := ConversationTopic(convID)

	client := newTestClient(topic)
	hub.Register(client)

	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}

	hub.Broadcast(Event{Op: "insert", Topic: topic, Timestamp: time.Now()})

	select {
	case data := <-client.Send:
		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			t.Fatalf("unmarshal broadcast: %v", err)
		}
		if evt.Op != "insert" || evt.Topic != topic {
			t.Errorf("unexpected event: %+v", evt)
		}
	default:
		t.Fatal("expected event in client send buffer")
	}
}

func TestHub_BroadcastOnlyToSubscribers(t *testing.T) {
	hub := newTestHub()
	topicA := ConversationTopic(uuid.New())
	topicB := ConversationTopic(uuid.New())

	a := newTestClient(topicA)
	b := newTestClient(topicB)
	hub.Register(a)
	hub.Register(b)

	hub.Broadcast(Event{Op: "insert", Topic: topicA})

	if len(a.Send) != 1 {
		t.Errorf("expected subscriber to receive event, got %d", len(a.Send))
	}
	if len(b.Send) != 0 {
		t.Errorf("expected non-subscriber to receive nothing, got %d", len(b.Send))
	}
}

func TestHub_UnsubscribeStopsFlow(t *testing.T) {
	hub := newTestHub()
	topic := ConversationTopic(uuid.New())

	client := newTestClient(topic)
	hub.Register(client)
	hub.Unsubscribe(client, []string{topic})

	hub.Broadcast(Event{Op: "insert", Topic: topic})

	if len(client.Send) != 0 {
		t.Errorf("expected no events after unsubscribe, got %d", len(client.Send))
	}
	if len(client.Topics) != 0 {
		t.Errorf("expected client topics cleared, got %v", client.Topics)
	}
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	hub := newTestHub()
	client := newTestClient(ReminderTopic(uuid.New()))
	hub.Register(client)
	hub.Unregister(client)

	if _, open := <-client.Send; open {
		t.Error("expected send channel to be closed")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}

	// Double unregister must be a no-op, not a panic.
	hub.Unregister(client)
}

func TestHub_SlowClientDropped(t *testing.T) {
	hub := newTestHub()
	topic := ConversationTopic(uuid.New())
	client := &Client{ID: "slow", Topics: []string{topic}, Send: make(chan []byte)} // no buffer
	hub.Register(client)

	// Must not block even though nobody reads from Send.
	done := make(chan struct{})
	go func() {
		hub.Broadcast(Event{Op: "insert", Topic: topic})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on slow client")
	}
}

func TestHub_ProcessMessage(t *testing.T) {
	hub := newTestHub()
	topic := ConversationTopic(uuid.New())
	client := newTestClient()
	hub.Register(client)

	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{topic}})
	if hub.TopicCount(topic) != 1 {
		t.Fatalf("expected 1 subscriber after subscribe, got %d", hub.TopicCount(topic))
	}

	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Topics: []string{topic}})
	if hub.TopicCount(topic) != 0 {
		t.Fatalf("expected 0 subscribers after unsubscribe, got %d", hub.TopicCount(topic))
	}
}

func TestHub_PublishImplementsPublisher(t *testing.T) {
	hub := newTestHub()
	var _ Publisher = hub

	topic := ReminderTopic(uuid.New())
	client := newTestClient(topic)
	hub.Register(client)

	if err := hub.Publish(context.Background(), Event{Op: "reminder", Topic: topic}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.Send) != 1 {
		t.Errorf("expected 1 event, got %d", len(client.Send))
	}
}
