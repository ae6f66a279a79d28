// Package event defines the notifications the feed publishes to its consumers.
package event

import "time"

// Event types.
const (
	ListLoading   = "list.loading"
	ListFinished  = "list.finished"
	ListError     = "list.error"
	ImageLoading  = "image.loading"
	ImageFinished = "image.finished"
	ImageError    = "image.error"
)

// NoIndex marks list-level events.
const NoIndex = -1

// Event is one feed notification.
type Event struct {
	Type       string
	Index      int
	Count      int
	Generation string
	Err        error
	OccurredAt time.Time
}

// NewListEvent creates a list-level event.
func NewListEvent(eventType string, count int, generation string, err error) Event {
	return Event{
		Type:       eventType,
		Index:      NoIndex,
		Count:      count,
		Generation: generation,
		Err:        err,
		OccurredAt: time.Now(),
	}
}

// NewImageEvent creates an event about the icon of the item at index.
func NewImageEvent(eventType string, index int, generation string, err error) Event {
	return Event{
		Type:       eventType,
		Index:      index,
		Generation: generation,
		Err:        err,
		OccurredAt: time.Now(),
	}
}

// IsImage reports whether the event concerns a single item's icon.
func (e Event) IsImage() bool {
	return e.Index != NoIndex
}
