package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/mbd888/safedrive/internal/telemetry"
)

func testHub() *Hub {
	return NewHub(slog.Default(), nil, nil)
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventAlert, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventAlert, EventSessionClosed},
	}}

	alertEvent := &Event{Type: EventAlert}
	closedEvent := &Event{Type: EventSessionClosed}
	rewardEvent := &Event{Type: EventRewardMinted}

	if !h.shouldSend(client, alertEvent) {
		t.Error("Should receive alert events")
	}
	if !h.shouldSend(client, closedEvent) {
		t.Error("Should receive session_closed events")
	}
	if h.shouldSend(client, rewardEvent) {
		t.Error("Should NOT receive reward_minted events")
	}
}

func TestShouldSend_DriverFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		DriverIDs: []string{"driver-1"},
	}}

	matching := &Event{Type: EventAlert, DriverID: "driver-1"}
	notMatching := &Event{Type: EventAlert, DriverID: "driver-2"}

	if !h.shouldSend(client, matching) {
		t.Error("Should match the watched driver")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match other drivers")
	}
}

func TestShouldSend_CombinedFilters(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventAlert},
		DriverIDs:  []string{"driver-1"},
	}}

	if !h.shouldSend(client, &Event{Type: EventAlert, DriverID: "driver-1"}) {
		t.Error("Should receive matching type and driver")
	}
	if h.shouldSend(client, &Event{Type: EventSessionClosed, DriverID: "driver-1"}) {
		t.Error("Should NOT receive wrong type even for the watched driver")
	}
	if h.shouldSend(client, &Event{Type: EventAlert, DriverID: "driver-2"}) {
		t.Error("Should NOT receive the watched type for another driver")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()

	// No filters, not AllEvents
	client := &Client{sub: Subscription{}}

	event := &Event{Type: EventAlert}
	if !h.shouldSend(client, event) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&Event{Type: EventAlert, Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_BroadcastToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.BroadcastAlert("driver-1", map[string]any{"severity": "high"})

	select {
	case msg := <-client.send:
		var event Event
		if err := json.Unmarshal(msg, &event); err != nil {
			t.Fatalf("Broadcast frame not JSON: %v", err)
		}
		if event.Type != EventAlert || event.DriverID != "driver-1" {
			t.Errorf("Unexpected event %+v", event)
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for broadcast")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants reward events
	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{EventTypes: []EventType{EventRewardMinted}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	// An alert should be filtered out
	h.BroadcastAlert("driver-1", nil)
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive alert event")
	default:
		// Good - filtered out
	}

	// A reward event should be received
	h.BroadcastRewardMinted("driver-1", map[string]any{"amount": "9.00"})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive reward event")
	}
}

func TestShutdown_ConcurrentRepliesDoNotPanic(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Tiny buffer and no reader, so replies contend with the channel close.
	client := &Client{hub: h, send: make(chan []byte, 1), sub: Subscription{AllEvents: true}}
	h.register <- client

	stop := make(chan struct{})
	go func() {
		defer close(stop)
		for i := 0; i < 1000; i++ {
			client.reply(EventError, "driver-1", nil)
		}
	}()

	// Shutdown closes the client's send channel while replies are in flight.
	cancel()
	<-stop

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("Hub did not stop")
	}
}

func TestSlowClientEviction_ConcurrentRepliesDoNotPanic(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{hub: h, send: make(chan []byte, 1), sub: Subscription{AllEvents: true}}
	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stop := make(chan struct{})
	go func() {
		defer close(stop)
		for i := 0; i < 1000; i++ {
			client.reply(EventError, "driver-1", nil)
		}
	}()

	// The undrained buffer fills, the hub evicts the client and closes its
	// channel while the reply loop is still running.
	for i := 0; i < 10; i++ {
		h.Broadcast(&Event{Type: EventAlert, Timestamp: time.Now()})
	}
	<-stop
}

func TestClient_CloseSendIdempotent(t *testing.T) {
	client := &Client{send: make(chan []byte, 1)}

	client.closeSend()
	client.closeSend() // second close must be a no-op

	// Sends after close are dropped, not panicked on.
	client.trySend([]byte(`{}`))
}

func TestDisconnect_AfterHubStoppedDoesNotBlock(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-h.done

	client := &Client{hub: h, send: make(chan []byte, 1)}
	released := make(chan struct{})
	go func() {
		client.disconnect()
		close(released)
	}()

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Error("Disconnect must not block once the hub has stopped")
	}
}

// ---------------------------------------------------------------------------
// Inbound sample routing
// ---------------------------------------------------------------------------

type fakeIngestor struct {
	driverID string
	sample   telemetry.Sample
	err      error
}

func (f *fakeIngestor) Ingest(_ context.Context, driverID string, s telemetry.Sample) (*telemetry.Session, error) {
	f.driverID = driverID
	f.sample = s
	if f.err != nil {
		return nil, f.err
	}
	return &telemetry.Session{ID: "sess_1", DriverID: driverID, SampleCount: 1}, nil
}

func TestHandleSample_AcksAcceptedSample(t *testing.T) {
	ingestor := &fakeIngestor{}
	h := NewHub(slog.Default(), ingestor, nil)
	client := &Client{hub: h, send: make(chan []byte, 4)}

	client.handleSample(inboundFrame{
		Type:     "sample",
		DriverID: "driver-1",
		Sample:   &telemetry.Sample{Timestamp: time.Now(), Drowsiness: 0.2, Stress: 0.3},
	})

	if ingestor.driverID != "driver-1" {
		t.Fatalf("Sample not routed, ingestor saw driver %q", ingestor.driverID)
	}

	select {
	case msg := <-client.send:
		var event Event
		if err := json.Unmarshal(msg, &event); err != nil {
			t.Fatalf("Ack frame not JSON: %v", err)
		}
		if event.Type != EventSampleAck {
			t.Errorf("Expected sample_ack, got %s", event.Type)
		}
	default:
		t.Error("Expected an ack frame")
	}
}

func TestHandleSample_RejectsInvalidDriverID(t *testing.T) {
	ingestor := &fakeIngestor{}
	h := NewHub(slog.Default(), ingestor, nil)
	client := &Client{hub: h, send: make(chan []byte, 4)}

	client.handleSample(inboundFrame{
		Type:     "sample",
		DriverID: "not a valid id!",
		Sample:   &telemetry.Sample{Timestamp: time.Now()},
	})

	if ingestor.driverID != "" {
		t.Error("Invalid driver id must not reach the ingestor")
	}

	select {
	case msg := <-client.send:
		var event Event
		_ = json.Unmarshal(msg, &event)
		if event.Type != EventError {
			t.Errorf("Expected error frame, got %s", event.Type)
		}
	default:
		t.Error("Expected an error frame")
	}
}

func TestHandleSample_MissingSample(t *testing.T) {
	h := NewHub(slog.Default(), &fakeIngestor{}, nil)
	client := &Client{hub: h, send: make(chan []byte, 4)}

	client.handleSample(inboundFrame{Type: "sample", DriverID: "driver-1"})

	select {
	case msg := <-client.send:
		var event Event
		_ = json.Unmarshal(msg, &event)
		if event.Type != EventError {
			t.Errorf("Expected error frame, got %s", event.Type)
		}
	default:
		t.Error("Expected an error frame")
	}
}
