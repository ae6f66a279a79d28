package testutil

import (
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lllypuk/userfeed/internal/domain/event"
)

const eventWaitTimeout = 5 * time.Second

// EventRecorder collects feed events. Its Record method is a listener and is
// safe to call from the main loop while the test goroutine reads.
type EventRecorder struct {
	mu     sync.Mutex
	events []event.Event
}

// NewEventRecorder creates an empty recorder.
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

// Record appends evt.
func (r *EventRecorder) Record(evt event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

// Events returns a copy of everything recorded so far.
func (r *EventRecorder) Events() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// Types returns the recorded event types in order.
func (r *EventRecorder) Types() []string {
	events := r.Events()
	types := make([]string, len(events))
	for i, evt := range events {
		types[i] = evt.Type
	}
	return types
}

// WaitFor blocks until an event of eventType is recorded and returns the first one.
func (r *EventRecorder) WaitFor(t *testing.T, eventType string) event.Event {
	t.Helper()

	var found event.Event
	require.Eventually(t, func() bool {
		for _, evt := range r.Events() {
			if evt.Type == eventType {
				found = evt
				return true
			}
		}
		return false
	}, eventWaitTimeout, 5*time.Millisecond, "expected event %q, got %v", eventType, r.Types())

	return found
}

// AssertEventPublished checks that an event of eventType was recorded.
func AssertEventPublished(t *testing.T, events []event.Event, eventType string) event.Event {
	t.Helper()

	for _, evt := range events {
		if evt.Type == eventType {
			return evt
		}
	}

	t.Fatalf("Expected event of type %q, but it was not found. Got %d events", eventType, len(events))
	return event.Event{}
}

// AssertEventCount checks how many events of eventType were recorded.
func AssertEventCount(t *testing.T, events []event.Event, eventType string, expected int) {
	t.Helper()

	count := 0
	for _, evt := range events {
		if evt.Type == eventType {
			count++
		}
	}
	if count != expected {
		t.Fatalf("Expected %d %q events, but got %d", expected, eventType, count)
	}
}
