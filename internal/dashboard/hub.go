// Package dashboard streams sync activity to WebSocket clients.
//
// The Hub owns the client connections and fans messages out to them; the
// Handler turns sync notifications into messages. Mount the Hub on any HTTP
// router at /ws.
package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeTaskUpdate indicates a pushed record was created or updated
	MessageTypeTaskUpdate MessageType = "task_update"

	// MessageTypeSyncComplete indicates a push batch finished
	MessageTypeSyncComplete MessageType = "sync_complete"

	// MessageTypeStats carries per-source task counts
	MessageTypeStats MessageType = "stats"

	// MessageTypeSyncCleared indicates an administrative clear
	MessageTypeSyncCleared MessageType = "sync_cleared"
)

// Message represents a dashboard broadcast message
type Message struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage builds a message with a fresh id, marshaling data as its payload.
func NewMessage(typ MessageType, data interface{}) (Message, error) {
	msg := Message{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: time.Now().UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Message{}, err
		}
		msg.Data = raw
	}
	return msg, nil
}

// Config holds hub configuration
type Config struct {
	// BufferSize is the number of queued broadcasts (default: 100)
	BufferSize int

	// WriteTimeout bounds a single client write (default: 5s)
	WriteTimeout time.Duration

	// Logger for hub activity (default: slog.Default())
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		BufferSize:   100,
		WriteTimeout: 5 * time.Second,
		Logger:       slog.Default(),
	}
}

// Hub manages WebSocket connections and broadcasts dashboard messages
type Hub struct {
	// WebSocket client management
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	// Message broadcasting
	broadcast    chan Message
	writeTimeout time.Duration

	// welcome produces the first message a new client receives
	welcome   func(ctx context.Context) (Message, error)
	welcomeMu sync.RWMutex

	// Lifecycle management
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	startMu sync.Mutex

	logger *slog.Logger
}

// NewHub creates a new dashboard hub. Call Start before broadcasting.
func NewHub(config *Config) *Hub {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bufferSize := config.BufferSize
	if bufferSize <= 0 {
		bufferSize = 100
	}
	writeTimeout := config.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		clients:      make(map[*websocket.Conn]bool),
		broadcast:    make(chan Message, bufferSize),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger.With("component", "dashboard"),
	}
}

// SetWelcome registers the producer of the first message sent to each new
// client. Without one, clients receive an empty stats message.
func (h *Hub) SetWelcome(fn func(ctx context.Context) (Message, error)) {
	h.welcomeMu.Lock()
	h.welcome = fn
	h.welcomeMu.Unlock()
}

// Start begins the broadcast loop. It is safe to call more than once.
func (h *Hub) Start() {
	h.startMu.Lock()
	defer h.startMu.Unlock()
	if h.started {
		return
	}
	h.started = true

	h.wg.Add(1)
	go h.broadcastLoop()
}

// Stop closes every client connection and waits for the hub's goroutines.
func (h *Hub) Stop() {
	h.logger.Info("stopping dashboard hub")

	// Signal shutdown
	h.cancel()

	// Close all WebSocket connections
	h.clientsMu.Lock()
	for conn := range h.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(h.clients, conn)
	}
	h.clientsMu.Unlock()

	h.wg.Wait()
}

// Broadcast queues a message for all connected clients without blocking.
// The message is dropped when the queue is full.
func (h *Hub) Broadcast(msg Message) {
	select {
	case <-h.ctx.Done():
		return
	default:
	}

	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "type", msg.Type)
	}
}

// broadcastLoop handles message broadcasting to all clients
func (h *Hub) broadcastLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return

		case msg := <-h.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now().UTC()
			}
			if msg.ID == "" {
				msg.ID = uuid.NewString()
			}

			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Error("failed to marshal message", "error", err)
				continue
			}

			h.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				clients = append(clients, conn)
			}
			h.clientsMu.RUnlock()

			// Send to clients outside the read lock so slow clients don't block registration
			for _, conn := range clients {
				if err := h.write(conn, data); err != nil {
					h.logger.Debug("failed to send to client", "error", err)
					h.removeClient(conn)
				}
			}
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(h.ctx, h.writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// ServeHTTP upgrades the request to a WebSocket and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	// Welcome goes out before registration so it is always the first message.
	welcome := h.welcomeMessage(r.Context())
	if data, err := json.Marshal(welcome); err == nil {
		_ = h.write(conn, data)
	}

	h.clientsMu.Lock()
	h.clients[conn] = true
	clientCount := len(h.clients)
	h.clientsMu.Unlock()

	h.logger.Info("client connected", "clients", clientCount)

	// Keep connection alive (read loop)
	go h.readLoop(conn)
}

func (h *Hub) welcomeMessage(ctx context.Context) Message {
	h.welcomeMu.RLock()
	fn := h.welcome
	h.welcomeMu.RUnlock()

	if fn != nil {
		msg, err := fn(ctx)
		if err == nil {
			return msg
		}
		h.logger.Warn("failed to build welcome message", "error", err)
	}
	msg, _ := NewMessage(MessageTypeStats, nil)
	return msg
}

// readLoop keeps the WebSocket connection alive and handles client disconnects
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.removeClient(conn)

	for {
		// Client messages are ignored
		if _, _, err := conn.Read(h.ctx); err != nil {
			return
		}
	}
}

// removeClient safely removes a client connection
func (h *Hub) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	if _, exists := h.clients[conn]; exists {
		delete(h.clients, conn)
		clientCount := len(h.clients)
		h.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		h.logger.Info("client disconnected", "clients", clientCount)
	} else {
		h.clientsMu.Unlock()
	}
}

// ClientCount returns the current number of connected clients
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}
