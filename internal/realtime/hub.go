// Package realtime provides WebSocket streaming for live wellness activity.
//
// Vehicle gateways push telemetry samples over the socket instead of per-sample
// HTTP requests, and fleet dashboards subscribe to events as they happen:
// alerts firing, sessions closing, rewards minting.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbd888/safedrive/internal/metrics"
	"github.com/mbd888/safedrive/internal/telemetry"
	"github.com/mbd888/safedrive/internal/validation"
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // vehicle gateways are not browsers
		}
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// EventType for real-time events.
type EventType string

const (
	EventAlert         EventType = "alert"
	EventSessionClosed EventType = "session_closed"
	EventRewardMinted  EventType = "reward_minted"
	EventSampleAck     EventType = "sample_ack"
	EventError         EventType = "error"
)

// Event is one outbound frame.
type Event struct {
	Type      EventType `json:"type"`
	DriverID  string    `json:"driverId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Subscription filters for a client. A dashboard watching one driver sets
// DriverIDs; a fleet view leaves AllEvents on.
type Subscription struct {
	AllEvents  bool        `json:"allEvents"`
	EventTypes []EventType `json:"eventTypes"`
	DriverIDs  []string    `json:"driverIds"`
}

// inboundFrame is what clients send: either a subscription update or a
// telemetry sample.
type inboundFrame struct {
	Type     string            `json:"type"`
	DriverID string            `json:"driverId"`
	Sample   *telemetry.Sample `json:"sample"`

	Subscription
}

// Ingestor accepts a telemetry sample pushed over the socket.
type Ingestor interface {
	Ingest(ctx context.Context, driverID string, s telemetry.Sample) (*telemetry.Session, error)
}

// Client represents a WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex // guards sub and closed
	sub    Subscription
	closed bool
}

// trySend queues a frame for writePump, dropping it when the client is slow
// or its channel already closed. Safe against a concurrent closeSend.
func (c *Client) trySend(payload []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

// closeSend closes the outbound channel exactly once. Only the hub loop calls
// this; the lock keeps it ordered against in-flight trySend calls.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// disconnect hands the client back to the hub for removal, or gives up when
// the hub has already stopped and drained its channels.
func (c *Client) disconnect() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
}

// MaxClients is the maximum number of concurrent WebSocket connections.
const MaxClients = 10000

// Hub manages all WebSocket connections.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
	ingestor   Ingestor
	metrics    *metrics.Metrics
	done       chan struct{} // closed when Run exits; prevents upgrade race
	maxClients int

	totalEvents  atomic.Int64
	totalClients atomic.Int64
	peakClients  atomic.Int64
}

// NewHub creates a WebSocket hub. The ingestor receives samples pushed over
// the socket; nil disables inbound samples.
func NewHub(logger *slog.Logger, ingestor Ingestor, m *metrics.Metrics) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		ingestor:   ingestor,
		metrics:    m,
		done:       make(chan struct{}),
		maxClients: MaxClients,
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("realtime hub shutting down, closing client connections")
			h.mu.Lock()
			for client := range h.clients {
				client.closeSend() // writePump sends CloseMessage on closed channel
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.setClientGauge(0)
			h.logger.Info("realtime hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.totalClients.Add(1)
			if current := int64(len(h.clients)); current > h.peakClients.Load() {
				h.peakClients.Store(current)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.setClientGauge(n)
			h.logger.Info("realtime client connected", "total", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.closeSend()
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.setClientGauge(n)
			h.logger.Info("realtime client disconnected", "total", n)

		case event := <-h.broadcast:
			h.totalEvents.Add(1)
			h.mu.RLock()
			var slow []*Client
			for client := range h.clients {
				if h.shouldSend(client, event) {
					select {
					case client.send <- h.serialize(event):
					default:
						slow = append(slow, client)
					}
				}
			}
			h.mu.RUnlock()
			// Remove slow clients under write lock
			if len(slow) > 0 {
				h.mu.Lock()
				for _, client := range slow {
					if _, ok := h.clients[client]; ok {
						client.closeSend()
						delete(h.clients, client)
					}
				}
				h.mu.Unlock()
			}
		}
	}
}

func (h *Hub) setClientGauge(n int) {
	if h.metrics != nil {
		h.metrics.WebsocketClients.Set(float64(n))
	}
}

// shouldSend checks if event matches the client's subscription.
func (h *Hub) shouldSend(client *Client, event *Event) bool {
	client.mu.RLock()
	sub := client.sub
	client.mu.RUnlock()

	if sub.AllEvents {
		return true
	}

	if len(sub.EventTypes) > 0 {
		matched := false
		for _, t := range sub.EventTypes {
			if t == event.Type {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if len(sub.DriverIDs) > 0 {
		matched := false
		for _, id := range sub.DriverIDs {
			if id == event.DriverID {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	return true
}

func (h *Hub) serialize(event *Event) []byte {
	data, _ := json.Marshal(event)
	return data
}

// Broadcast sends an event to all matching clients. Never blocks.
func (h *Hub) Broadcast(event *Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("broadcast channel full, dropping event",
			"event_type", event.Type)
	}
}

// BroadcastAlert publishes a fired alert.
func (h *Hub) BroadcastAlert(driverID string, alert any) {
	h.Broadcast(&Event{
		Type:      EventAlert,
		DriverID:  driverID,
		Timestamp: time.Now().UTC(),
		Data:      alert,
	})
}

// BroadcastSessionClosed publishes a closed session with its safety score.
func (h *Hub) BroadcastSessionClosed(driverID string, session any) {
	h.Broadcast(&Event{
		Type:      EventSessionClosed,
		DriverID:  driverID,
		Timestamp: time.Now().UTC(),
		Data:      session,
	})
}

// BroadcastRewardMinted publishes a settlement.
func (h *Hub) BroadcastRewardMinted(driverID string, settlement any) {
	h.Broadcast(&Event{
		Type:      EventRewardMinted,
		DriverID:  driverID,
		Timestamp: time.Now().UTC(),
		Data:      settlement,
	})
}

// Stats returns hub statistics.
func (h *Hub) Stats() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]any{
		"connectedClients": len(h.clients),
		"totalEvents":      h.totalEvents.Load(),
		"totalClients":     h.totalClients.Load(),
		"peakClients":      h.peakClients.Load(),
	}
}

// HandleWebSocket upgrades HTTP to WebSocket.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Reject upgrades after the hub has stopped to prevent orphaned connections.
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump reads inbound frames: subscription updates and telemetry samples.
func (c *Client) readPump() {
	defer func() {
		c.disconnect()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			break
		}

		var frame inboundFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.reply(EventError, "", map[string]string{"message": "malformed frame"})
			continue
		}

		switch frame.Type {
		case "sample":
			c.handleSample(frame)
		case "subscribe", "":
			c.mu.Lock()
			c.sub = frame.Subscription
			c.mu.Unlock()
		default:
			c.reply(EventError, frame.DriverID,
				map[string]string{"message": "unknown frame type " + frame.Type})
		}
	}
}

// handleSample routes a pushed sample into the aggregation pipeline and acks
// or rejects it on the same connection.
func (c *Client) handleSample(frame inboundFrame) {
	if c.hub.ingestor == nil {
		c.reply(EventError, frame.DriverID,
			map[string]string{"message": "sample ingestion not enabled"})
		return
	}
	if !validation.IsValidDriverID(frame.DriverID) {
		c.reply(EventError, frame.DriverID,
			map[string]string{"message": "invalid driver id"})
		return
	}
	if frame.Sample == nil {
		c.reply(EventError, frame.DriverID,
			map[string]string{"message": "missing sample"})
		return
	}

	session, err := c.hub.ingestor.Ingest(context.Background(), frame.DriverID, *frame.Sample)
	if err != nil {
		c.reply(EventError, frame.DriverID, map[string]string{"message": err.Error()})
		return
	}

	if c.hub.metrics != nil {
		c.hub.metrics.SamplesIngested.WithLabelValues("websocket").Inc()
	}
	c.reply(EventSampleAck, frame.DriverID, map[string]any{
		"sessionId":   session.ID,
		"sampleCount": session.SampleCount,
	})
}

// reply sends a frame to this client only, dropping it if the client is slow.
func (c *Client) reply(eventType EventType, driverID string, data any) {
	payload := c.hub.serialize(&Event{
		Type:      eventType,
		DriverID:  driverID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
	c.trySend(payload)
}

// writePump writes messages to the WebSocket.
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Warn("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}
