package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Default client configuration constants.
const (
	defaultPingInterval   = 30 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultWriteWait      = 10 * time.Second
	defaultMaxMessageSize = 4096
	defaultSendBufferSize = 256
	defaultReloadTimeout  = 5 * time.Second
)

// Client message types.
const (
	MessageTypePing   = "ping"
	MessageTypePong   = "pong"
	MessageTypeReload = "reload"
	MessageTypeAck    = "ack"
	MessageTypeError  = "error"
)

// Reloader schedules a fresh list load.
// Declared on the consumer side per project guidelines.
type Reloader interface {
	Reload(ctx context.Context) error
}

// ClientConfig holds configuration for WebSocket clients.
type ClientConfig struct {
	// PingInterval is the interval for sending ping messages.
	PingInterval time.Duration

	// PongWait is the maximum time to wait for a pong response.
	PongWait time.Duration

	// WriteWait is the maximum time to wait for a write operation.
	WriteWait time.Duration

	// MaxMessageSize is the maximum allowed inbound message size.
	MaxMessageSize int64

	// SendBufferSize is how many outbound messages may queue per client.
	SendBufferSize int
}

// DefaultClientConfig returns sensible default configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval:   defaultPingInterval,
		PongWait:       defaultPongWait,
		WriteWait:      defaultWriteWait,
		MaxMessageSize: defaultMaxMessageSize,
		SendBufferSize: defaultSendBufferSize,
	}
}

// ClientMessage represents a message from client to server.
type ClientMessage struct {
	Type string `json:"type"`
}

// Client represents a single WebSocket connection.
type Client struct {
	id       string
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	reloader Reloader
	config   ClientConfig
	logger   *slog.Logger

	// closedMu guards closed and the send channel against a concurrent Close.
	closed   bool
	closedMu sync.RWMutex

	// holdMu guards held and pending. While held, Send buffers into pending
	// so that Release can put its first message ahead of them.
	held    bool
	pending [][]byte
	holdMu  sync.Mutex
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientConfig sets the client configuration.
func WithClientConfig(config ClientConfig) ClientOption {
	return func(c *Client) {
		c.config = config
	}
}

// WithClientLogger sets the logger for the client.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithReloader lets the client trigger list reloads.
func WithReloader(reloader Reloader) ClientOption {
	return func(c *Client) {
		c.reloader = reloader
	}
}

// WithHeldSends makes the client buffer every Send until Release is called.
func WithHeldSends() ClientOption {
	return func(c *Client) {
		c.held = true
	}
}

// NewClient creates a new WebSocket client.
func NewClient(hub *Hub, conn *websocket.Conn, opts ...ClientOption) *Client {
	c := &Client{
		id:     uuid.New().String(),
		hub:    hub,
		conn:   conn,
		config: DefaultClientConfig(),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.config.SendBufferSize <= 0 {
		c.config.SendBufferSize = defaultSendBufferSize
	}
	c.send = make(chan []byte, c.config.SendBufferSize)

	return c
}

// ID returns the connection identifier used in logs.
func (c *Client) ID() string {
	return c.id
}

// IsClosed returns whether the client connection has been closed.
func (c *Client) IsClosed() bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	return c.closed
}

// ReadPump reads messages from the WebSocket connection.
// It should be run as a goroutine.
func (c *Client) ReadPump() {
	defer c.hub.Unregister(c)

	c.conn.SetReadLimit(c.config.MaxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait)); err != nil {
		c.logger.Error("failed to set read deadline", slog.String("error", err.Error()))
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error",
					slog.String("client_id", c.id),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		c.handleClientMessage(message)
	}
}

// WritePump writes messages to the WebSocket connection.
// It should be run as a goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait)); err != nil {
				return
			}

			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn("websocket write error",
					slog.String("client_id", c.id),
					slog.String("error", err.Error()),
				)
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait)); err != nil {
				return
			}

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleClientMessage(message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Warn("invalid client message",
			slog.String("client_id", c.id),
			slog.String("error", err.Error()),
		)
		c.sendJSON(map[string]string{"type": MessageTypeError, "message": "invalid message format"})
		return
	}

	switch msg.Type {
	case MessageTypePing:
		c.sendJSON(map[string]string{"type": MessageTypePong})

	case MessageTypeReload:
		c.reload()

	default:
		c.logger.Debug("unknown message type",
			slog.String("client_id", c.id),
			slog.String("type", msg.Type),
		)
		c.sendJSON(map[string]string{"type": MessageTypeError, "message": "unknown message type: " + msg.Type})
	}
}

func (c *Client) reload() {
	if c.reloader == nil {
		c.sendJSON(map[string]string{"type": MessageTypeError, "message": "reload is not supported"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultReloadTimeout)
	defer cancel()

	if err := c.reloader.Reload(ctx); err != nil {
		c.sendJSON(map[string]string{"type": MessageTypeError, "message": err.Error()})
		return
	}
	c.sendJSON(map[string]string{"type": MessageTypeAck, "action": MessageTypeReload})
}

func (c *Client) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.Send(data)
}

// Send queues a message for the client without blocking. It reports false
// when the client is closed or its buffer is full.
func (c *Client) Send(message []byte) bool {
	c.holdMu.Lock()
	defer c.holdMu.Unlock()

	if c.held {
		// One slot stays free for the message passed to Release.
		if c.IsClosed() || len(c.pending) >= c.config.SendBufferSize-1 {
			return false
		}
		c.pending = append(c.pending, message)
		return true
	}

	return c.enqueue(message)
}

// Release queues first, when non-nil, followed by every message buffered
// while the client was held, and stops holding. Messages sent concurrently
// with Release are queued after them.
func (c *Client) Release(first []byte) {
	c.holdMu.Lock()
	defer c.holdMu.Unlock()

	if !c.held {
		if first != nil {
			c.enqueue(first)
		}
		return
	}

	if first != nil && !c.enqueue(first) {
		c.logger.Warn("client not accepting messages, dropping first message",
			slog.String("client_id", c.id),
		)
	}
	for _, message := range c.pending {
		if !c.enqueue(message) {
			c.logger.Warn("client not accepting messages, dropping held message",
				slog.String("client_id", c.id),
			)
		}
	}
	c.pending = nil
	c.held = false
}

func (c *Client) enqueue(message []byte) bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// Close closes the client connection. It is safe to call more than once.
func (c *Client) Close() {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	close(c.send)
	_ = c.conn.Close()

	c.logger.Debug("client connection closed", slog.String("client_id", c.id))
}
