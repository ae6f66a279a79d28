package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/lllypuk/userfeed/internal/domain/errs"
	"github.com/lllypuk/userfeed/internal/domain/event"
)

// EventSource publishes feed events.
// Declared on the consumer side per project guidelines.
type EventSource interface {
	Subscribe(listener func(event.Event)) func()
}

// OutboundMessage represents a message to be sent over WebSocket.
type OutboundMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// ListData is the payload of list.finished.
type ListData struct {
	Count      int    `json:"count"`
	Generation string `json:"generation"`
}

// ImageData is the payload of image.* messages.
type ImageData struct {
	Index      int    `json:"index"`
	Generation string `json:"generation,omitempty"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
}

// ErrorData is the payload of list.error.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Broadcaster forwards feed events to every WebSocket client.
type Broadcaster struct {
	hub    *Hub
	source EventSource
	logger *slog.Logger

	mu          sync.Mutex
	unsubscribe func()
}

// BroadcasterOption configures a Broadcaster.
type BroadcasterOption func(*Broadcaster)

// WithBroadcasterLogger sets the logger for the broadcaster.
func WithBroadcasterLogger(logger *slog.Logger) BroadcasterOption {
	return func(b *Broadcaster) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBroadcaster creates a new Broadcaster.
func NewBroadcaster(hub *Hub, source EventSource, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		hub:    hub,
		source: source,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Start subscribes to the event source. It does not block.
func (b *Broadcaster) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.unsubscribe != nil {
		return
	}
	b.unsubscribe = b.source.Subscribe(b.handleEvent)

	b.logger.DebugContext(ctx, "websocket broadcaster started")
}

// Stop unsubscribes from the event source.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.unsubscribe == nil {
		return
	}
	b.unsubscribe()
	b.unsubscribe = nil
}

// IsRunning returns whether the broadcaster is subscribed.
func (b *Broadcaster) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unsubscribe != nil
}

// handleEvent runs on the main loop, so it only encodes and queues.
func (b *Broadcaster) handleEvent(evt event.Event) {
	data, err := json.Marshal(ToOutboundMessage(evt))
	if err != nil {
		b.logger.Error("failed to encode websocket message",
			slog.String("type", evt.Type),
			slog.String("error", err.Error()),
		)
		return
	}

	b.hub.Broadcast(data)
}

// ToOutboundMessage converts a feed event into its wire form.
func ToOutboundMessage(evt event.Event) OutboundMessage {
	msg := OutboundMessage{Type: evt.Type}

	switch evt.Type {
	case event.ListFinished:
		msg.Data = ListData{Count: evt.Count, Generation: evt.Generation}
	case event.ListError:
		msg.Data = listError(evt.Err)
	case event.ImageLoading, event.ImageFinished, event.ImageError:
		data := ImageData{Index: evt.Index, Generation: evt.Generation}
		if evt.Err != nil {
			data.Code = errs.CodeOf(evt.Err)
			data.Message = evt.Err.Error()
		}
		msg.Data = data
	}

	return msg
}

func listError(err error) ErrorData {
	if err == nil {
		return ErrorData{Code: errs.CodeUnknown, Message: errs.ErrUnknown.Error()}
	}
	return ErrorData{Code: errs.CodeOf(err), Message: err.Error()}
}
