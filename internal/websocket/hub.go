package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"isxlicense/internal/infrastructure"
	"isxlicense/internal/license"
)

// TypeConnection is sent to a client right after it registers
const TypeConnection = "connection"

// broadcastQueueSize bounds events waiting for the hub loop
const broadcastQueueSize = 64

// Message is the JSON envelope written to clients
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

type outbound struct {
	msgType string
	payload []byte
}

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	clients map[*Client]bool

	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client

	mu     sync.RWMutex
	logger *slog.Logger

	metrics          *hubMetrics
	totalConnections int64
	messagesSent     int64
	droppedMessages  int64

	quit    chan struct{}
	done    chan struct{}
	running bool
	stopped bool
}

// NewHub creates a Hub. Call Start before publishing.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	logger = logger.With(slog.String("component", "websocket.hub"))

	metrics, err := newHubMetrics()
	if err != nil {
		logger.Warn("WebSocket metrics unavailable", slog.String("error", err.Error()))
	}

	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, broadcastQueueSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		metrics:    metrics,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the hub loop in a new goroutine
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running || h.stopped {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.run()
}

func (h *Hub) run() {
	defer close(h.done)
	ctx := context.Background()
	for {
		select {
		case <-h.quit:
			h.logger.Info("Hub shutting down")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.totalConnections++
			count := len(h.clients)
			h.mu.Unlock()

			h.metrics.connected(ctx)
			h.logger.InfoContext(client.context(), "Client registered",
				slog.Int("total_clients", count),
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr))

			h.greet(client)

		case client := <-h.unregister:
			h.remove(client, "normal")

		case msg := <-h.broadcast:
			h.fanOut(ctx, msg)
		}
	}
}

func (h *Hub) greet(client *Client) {
	data, err := json.Marshal(Message{
		Type: TypeConnection,
		Data: map[string]string{
			"status":    "connected",
			"client_id": client.id,
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		TraceID:   client.traceID,
	})
	if err != nil {
		return
	}
	select {
	case client.send <- data:
	default:
		h.logger.WarnContext(client.context(), "Failed to send connection message - client buffer full",
			slog.String("client_id", client.id))
	}
}

// fanOut queues msg on every client. Clients whose buffer is full are
// disconnected.
func (h *Hub) fanOut(ctx context.Context, msg outbound) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	sent := 0
	for _, client := range clients {
		select {
		case client.send <- msg.payload:
			sent++
		default:
			h.metrics.dropped(ctx, "client")
			h.logger.WarnContext(client.context(), "Client send buffer full, disconnecting",
				slog.String("client_id", client.id))
			h.remove(client, "slow_consumer")
		}
	}

	h.mu.Lock()
	h.messagesSent += int64(sent)
	h.mu.Unlock()
	h.metrics.sent(ctx, msg.msgType, sent)

	h.logger.Debug("Broadcast message to clients",
		slog.String("message_type", msg.msgType),
		slog.Int("client_count", len(clients)),
		slog.Int("delivered", sent))
}

func (h *Hub) remove(client *Client, reason string) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	close(client.send)
	count := len(h.clients)
	h.mu.Unlock()

	h.metrics.disconnected(context.Background(), reason)
	h.logger.InfoContext(client.context(), "Client unregistered",
		slog.Int("total_clients", count),
		slog.String("client_id", client.id),
		slog.String("reason", reason),
		slog.Duration("connection_duration", time.Since(client.connectedAt)))
}

// Publish broadcasts a license event. It never blocks; the event is dropped
// when the queue is full or the hub is stopped.
func (h *Hub) Publish(event license.Event) {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	h.send(Message{
		Type:      event.Type,
		Data:      event,
		Timestamp: ts.UTC().Format(time.RFC3339),
	})
}

// Broadcast sends an arbitrary message to every client
func (h *Hub) Broadcast(messageType string, data interface{}) {
	h.send(Message{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Hub) send(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Error marshaling message",
			slog.String("error", err.Error()),
			slog.String("message_type", msg.Type))
		return
	}

	select {
	case <-h.quit:
		return
	default:
	}

	select {
	case h.broadcast <- outbound{msgType: msg.Type, payload: payload}:
	default:
		h.mu.Lock()
		h.droppedMessages++
		h.mu.Unlock()
		h.metrics.dropped(context.Background(), "broadcast")
		h.logger.Warn("Broadcast queue full, dropping message",
			slog.String("message_type", msg.Type))
	}
}

// Register adds a client to the hub. It reports false once the hub is
// stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.quit:
		return false
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop stops the loop and closes every client
func (h *Hub) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	wasRunning := h.running
	h.running = false
	close(h.quit)
	h.mu.Unlock()

	// client channels are only closed by the loop goroutine while it runs
	if wasRunning {
		<-h.done
	}

	h.mu.Lock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()
}

// GetHubMetrics returns current hub counters
func (h *Hub) GetHubMetrics() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]interface{}{
		"active_clients":    len(h.clients),
		"total_connections": h.totalConnections,
		"messages_sent":     h.messagesSent,
		"dropped_messages":  h.droppedMessages,
	}
}
