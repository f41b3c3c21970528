package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/voice/domain"
	"github.com/satriahrh/arunika/voice/domain/entities"
	"github.com/satriahrh/arunika/voice/domain/repositories"
	"github.com/satriahrh/arunika/voice/internal/pcm"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1024 * 1024
)

// Outbound relay frame types. Inbound frames use the agent message kinds.
const (
	relayTypeAudio = "audio"
	relayTypeText  = "text"
)

// relayFrame is the JSON envelope exchanged with the relay
type relayFrame struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"`
	Error    string `json:"error,omitempty"`
}

// RelayConfig configures the relay agent
type RelayConfig struct {
	URL   string
	Token string
}

// ValidateRelayConfig validates the RelayConfig
func ValidateRelayConfig(config RelayConfig) error {
	if config.URL == "" {
		return fmt.Errorf("relay URL is required")
	}
	return nil
}

// Relay talks to a speech-to-speech agent behind a WebSocket relay
type Relay struct {
	config RelayConfig
	dialer *websocket.Dialer
	logger *zap.Logger
}

var _ repositories.AgentConnector = (*Relay)(nil)

// NewRelay creates a new relay agent
func NewRelay(config RelayConfig, logger *zap.Logger) (*Relay, error) {
	if err := ValidateRelayConfig(config); err != nil {
		return nil, err
	}
	return &Relay{
		config: config,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		logger: logger,
	}, nil
}

// Connect dials the relay
func (r *Relay) Connect(ctx context.Context) (repositories.AgentChannel, error) {
	header := http.Header{}
	if r.config.Token != "" {
		header.Set("Authorization", "Bearer "+r.config.Token)
	}

	conn, _, err := r.dialer.DialContext(ctx, r.config.URL, header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial relay: %w", err)
	}

	ch := &relayChannel{
		conn:       conn,
		logger:     r.logger,
		send:       make(chan []byte, 256),
		messages:   make(chan entities.AgentMessage, 64),
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	go ch.writePump()
	go ch.readPump()

	r.logger.Info("Relay agent connected", zap.String("url", r.config.URL))
	return ch, nil
}

type relayChannel struct {
	conn   *websocket.Conn
	logger *zap.Logger

	// Buffered channel of outbound frames.
	send     chan []byte
	messages chan entities.AgentMessage

	closeOnce  sync.Once
	done       chan struct{}
	readerDone chan struct{}
	writerDone chan struct{}
}

func (c *relayChannel) Messages() <-chan entities.AgentMessage {
	return c.messages
}

func (c *relayChannel) SendAudio(ctx context.Context, chunk entities.TransportChunk) error {
	return c.enqueue(ctx, relayFrame{
		Type:     relayTypeAudio,
		MIMEType: chunk.MIMEType,
		Data:     pcm.EncodeBase64(chunk.Data),
	})
}

func (c *relayChannel) SendText(ctx context.Context, text string) error {
	return c.enqueue(ctx, relayFrame{Type: relayTypeText, Text: text})
}

func (c *relayChannel) enqueue(ctx context.Context, frame relayFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	select {
	case <-c.done:
		return domain.ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	case c.send <- payload:
		return nil
	}
}

// readPump turns relay frames into agent messages. It owns the messages
// channel and closes it after the final closed or error message.
func (c *relayChannel) readPump() {
	defer close(c.readerDone)
	defer close(c.messages)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}
		if messageType != websocket.TextMessage {
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
			continue
		}

		msg := decodeRelayFrame(message)
		if msg.Kind == entities.AgentClosed || msg.Kind == entities.AgentError {
			c.deliver(msg)
			return
		}
		if !c.deliver(msg) {
			return
		}
	}
}

// finish reports how the connection ended
func (c *relayChannel) finish(err error) {
	select {
	case <-c.done:
		c.tryDeliver(entities.AgentMessage{Kind: entities.AgentClosed})
		return
	default:
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Info("Relay closed the connection")
		c.deliver(entities.AgentMessage{Kind: entities.AgentClosed})
		return
	}
	c.logger.Error("Relay connection failed", zap.Error(err))
	c.deliver(entities.AgentMessage{
		Kind: entities.AgentError,
		Err:  fmt.Errorf("%w: %v", domain.ErrChannel, err),
	})
}

func (c *relayChannel) deliver(msg entities.AgentMessage) bool {
	select {
	case c.messages <- msg:
		return true
	case <-c.done:
		c.tryDeliver(entities.AgentMessage{Kind: entities.AgentClosed})
		return false
	}
}

func (c *relayChannel) tryDeliver(msg entities.AgentMessage) {
	select {
	case c.messages <- msg:
	default:
	}
}

// writePump pumps queued frames to the relay.
func (c *relayChannel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(c.writerDone)
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				c.conn.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

// Close sends a close frame and tears the connection down
func (c *relayChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		<-c.writerDone
		if cerr := c.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
		<-c.readerDone
		c.logger.Info("Relay agent closed")
	})
	return err
}

func decodeRelayFrame(message []byte) entities.AgentMessage {
	var frame relayFrame
	if err := json.Unmarshal(message, &frame); err != nil || frame.Type == "" {
		return entities.AgentMessage{
			Kind: entities.AgentMessageKind("malformed"),
			Err:  domain.ErrMalformedMessage,
		}
	}

	msg := entities.AgentMessage{Kind: entities.AgentMessageKind(frame.Type)}
	switch msg.Kind {
	case entities.AgentInputTranscript, entities.AgentOutputTranscript:
		msg.Text = frame.Text
	case entities.AgentAudio:
		msg.Audio = frame.Data
	case entities.AgentError:
		reason := frame.Error
		if reason == "" {
			reason = "relay reported an error"
		}
		msg.Err = fmt.Errorf("%w: %s", domain.ErrChannel, reason)
	}
	return msg
}
