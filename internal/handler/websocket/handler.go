// Package websocket provides HTTP handlers for WebSocket connections.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/lllypuk/userfeed/internal/infrastructure/httpserver"
	ws "github.com/lllypuk/userfeed/internal/infrastructure/websocket"
	"github.com/lllypuk/userfeed/internal/service"
)

// Handler configuration constants.
const (
	defaultHandlerReadBufferSize  = 1024
	defaultHandlerWriteBufferSize = 1024
)

// MessageTypeSnapshot is the first message a new connection receives.
const MessageTypeSnapshot = "snapshot"

// Feed is the part of the feed service a live connection needs.
// Declared on the consumer side per project guidelines.
type Feed interface {
	Snapshot(ctx context.Context) (service.Snapshot, error)
	Reload(ctx context.Context) error
}

// Handler handles WebSocket HTTP requests.
type Handler struct {
	hub          *ws.Hub
	feed         Feed
	upgrader     websocket.Upgrader
	logger       *slog.Logger
	clientConfig ws.ClientConfig
}

// HandlerConfig holds configuration for the WebSocket handler.
type HandlerConfig struct {
	// ReadBufferSize is the size of the read buffer for WebSocket connections.
	ReadBufferSize int

	// WriteBufferSize is the size of the write buffer for WebSocket connections.
	WriteBufferSize int

	// CheckOrigin is a function that returns true if the request origin is acceptable.
	// If nil, a default function allowing all origins is used.
	CheckOrigin func(r *http.Request) bool

	// Logger is the structured logger for the handler.
	Logger *slog.Logger

	// ClientConfig is the configuration for WebSocket clients.
	ClientConfig ws.ClientConfig
}

// DefaultHandlerConfig returns a default configuration.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		ReadBufferSize:  defaultHandlerReadBufferSize,
		WriteBufferSize: defaultHandlerWriteBufferSize,
		CheckOrigin:     nil,
		Logger:          slog.Default(),
		ClientConfig:    ws.DefaultClientConfig(),
	}
}

// HandlerOption configures the Handler.
type HandlerOption func(*Handler)

// WithHandlerLogger sets the logger for the handler.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithFeed sends a snapshot on connect and lets clients request reloads.
func WithFeed(feed Feed) HandlerOption {
	return func(h *Handler) {
		h.feed = feed
	}
}

// WithHandlerConfig sets the handler configuration.
func WithHandlerConfig(config HandlerConfig) HandlerOption {
	return func(h *Handler) {
		if config.ReadBufferSize > 0 {
			h.upgrader.ReadBufferSize = config.ReadBufferSize
		}
		if config.WriteBufferSize > 0 {
			h.upgrader.WriteBufferSize = config.WriteBufferSize
		}
		if config.CheckOrigin != nil {
			h.upgrader.CheckOrigin = config.CheckOrigin
		}
		if config.Logger != nil {
			h.logger = config.Logger
		}
		h.clientConfig = config.ClientConfig
	}
}

// NewHandler creates a new WebSocket handler.
func NewHandler(hub *ws.Hub, opts ...HandlerOption) *Handler {
	h := &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  defaultHandlerReadBufferSize,
			WriteBufferSize: defaultHandlerWriteBufferSize,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		logger:       slog.Default(),
		clientConfig: ws.DefaultClientConfig(),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// HandleWebSocket upgrades the connection and registers the client with the hub.
// With a feed configured, the client first receives the current snapshot.
// The client is registered before the snapshot is taken and its sends are held
// until the snapshot is queued, so every event published after the snapshot
// reaches the client behind it. Events already reflected in the snapshot may
// follow it too.
func (h *Handler) HandleWebSocket(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed",
			slog.String("remote_ip", c.RealIP()),
			slog.String("error", err.Error()),
		)
		return nil // Upgrade already sent an error response
	}

	opts := []ws.ClientOption{
		ws.WithClientConfig(h.clientConfig),
		ws.WithClientLogger(h.logger),
		ws.WithHeldSends(),
	}
	if h.feed != nil {
		opts = append(opts, ws.WithReloader(h.feed))
	}
	client := ws.NewClient(h.hub, conn, opts...)

	if !h.hub.Register(client) {
		h.logger.Warn("websocket connection rejected: hub stopped",
			slog.String("remote_ip", c.RealIP()),
		)
		client.Close()
		return nil
	}

	client.Release(h.snapshotMessage(c.Request().Context(), client))

	h.logger.Info("websocket connection established",
		slog.String("client_id", client.ID()),
		slog.String("remote_ip", c.RealIP()),
	)

	go client.WritePump()
	go client.ReadPump()

	return nil
}

// snapshotMessage encodes the current feed snapshot, or returns nil when
// there is no feed or it is unavailable.
func (h *Handler) snapshotMessage(ctx context.Context, client *ws.Client) []byte {
	if h.feed == nil {
		return nil
	}

	snap, err := h.feed.Snapshot(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "websocket snapshot unavailable",
			slog.String("client_id", client.ID()),
			slog.String("error", err.Error()),
		)
		return nil
	}

	data, err := json.Marshal(ws.OutboundMessage{Type: MessageTypeSnapshot, Data: snap})
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to encode websocket snapshot",
			slog.String("client_id", client.ID()),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return data
}

// RegisterRoutes registers the WebSocket endpoint outside the versioned API group.
func (h *Handler) RegisterRoutes(r *httpserver.Router) {
	r.Echo().GET("/ws", h.HandleWebSocket)
}
