package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/voice/domain"
	"github.com/satriahrh/arunika/voice/domain/entities"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 16 * 1024

	// Time allowed for a command to finish.
	commandTimeout = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Controller is the part of the session the UI may drive
type Controller interface {
	Start(ctx context.Context) error
	Stop() error
	SendText(ctx context.Context, text string) error
	Snapshot() entities.Snapshot
}

// Hub maintains the set of active UI clients and broadcasts snapshots to them.
type Hub struct {
	// Registered clients.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Snapshots to fan out.
	broadcast chan []byte

	// Closed when Run returns.
	done chan struct{}

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	controller Controller
	logger     *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(controller Controller, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 16),
		done:       make(chan struct{}),
		controller: controller,
		logger:     logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				delete(h.clients, id)
				client.closeSend()
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.logger.Info("Client registered", zap.String("clientID", client.id))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				client.closeSend()
			}
			h.mu.Unlock()
			h.logger.Info("Client unregistered", zap.String("clientID", client.id))

		case payload := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				if !client.enqueue(payload) {
					// slow consumer; it reconnects and gets a fresh snapshot
					delete(h.clients, id)
					client.closeSend()
					h.logger.Warn("Dropping slow client", zap.String("clientID", id))
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues a payload for every client. Never blocks; a full queue
// drops the payload since a newer snapshot follows.
func (h *Hub) Broadcast(payload []byte) bool {
	select {
	case h.broadcast <- payload:
		return true
	default:
		return false
	}
}

// ClientCount returns the number of registered clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages. Closed once, under mu.
	send   chan []byte
	mu     sync.Mutex
	closed bool

	id     string
	logger *zap.Logger
}

// HandleWebSocket upgrades the request and attaches a UI client to the hub.
func HandleWebSocket(hub *Hub, c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 64),
		id:     uuid.NewString(),
		logger: hub.logger,
	}

	// the first frame is always the current state
	client.reply(NewSnapshotMessage(hub.controller.Snapshot()))

	select {
	case client.hub.register <- client:
	case <-hub.done:
		conn.Close()
		return nil
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

// readPump pumps commands from the websocket connection to the controller.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}
		if messageType != websocket.TextMessage {
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
			continue
		}
		c.processMessage(message)
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processMessage runs one UI command against the controller
func (c *Client) processMessage(message []byte) {
	cmd, err := ParseCommand(message)
	if err != nil {
		c.logger.Warn("Invalid command", zap.String("clientID", c.id), zap.Error(err))
		c.reply(NewErrorMessage("invalid_command", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch cmd.Type {
	case MessageTypeStart:
		err = c.hub.controller.Start(ctx)
	case MessageTypeStop:
		err = c.hub.controller.Stop()
	case MessageTypeText:
		err = c.hub.controller.SendText(ctx, cmd.Text)
	}
	if err != nil {
		c.logger.Warn("Command failed",
			zap.String("clientID", c.id),
			zap.String("command", string(cmd.Type)),
			zap.Error(err))
		c.reply(NewErrorMessage(ErrorCode(err), err.Error()))
		return
	}
	c.reply(NewAckMessage(cmd.Type))
}

// reply queues a message for this client only
func (c *Client) reply(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to encode message", zap.Error(err))
		return
	}
	if !c.enqueue(payload) {
		c.logger.Warn("Client send buffer full, dropping reply", zap.String("clientID", c.id))
	}
}

// enqueue never blocks. It reports false when the buffer is full; a closed
// client silently discards.
func (c *Client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ErrorCode maps session errors onto stable codes for the UI
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, domain.ErrChannel):
		return "channel_error"
	case errors.Is(err, domain.ErrAlreadyActive):
		return "already_active"
	case errors.Is(err, domain.ErrNotConnected):
		return "not_connected"
	case errors.Is(err, domain.ErrEmptyText):
		return "empty_text"
	case errors.Is(err, domain.ErrQueueFull):
		return "busy"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal_error"
	}
}

// StatusCode maps session errors onto HTTP statuses
func StatusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrEmptyText):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAlreadyActive), errors.Is(err, domain.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, domain.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrChannel):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
