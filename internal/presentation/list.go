// Package presentation holds the view state consumed by the presentation layer:
// the user list and one item per user.
//
// Nothing here is safe for concurrent use. Every method and every notification
// runs on the main loop.
package presentation

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/lllypuk/userfeed/internal/domain/user"
	"github.com/lllypuk/userfeed/internal/infrastructure/imagecache"
	"github.com/lllypuk/userfeed/internal/infrastructure/metrics"
)

// Kind is the kind of a list notification.
type Kind int

// List notification kinds.
const (
	KindIdle Kind = iota
	KindLoading
	KindFinished
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindIdle:
		return "idle"
	case KindLoading:
		return "loading"
	case KindFinished:
		return "finished"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// State is a list notification. Generation identifies the load that
// produced a Finished state.
type State struct {
	Kind       Kind
	Err        error
	Generation string
}

// Loader loads the user list and reports on the main loop.
// Declared on the consumer side per project guidelines.
type Loader interface {
	Load(ctx context.Context, onSuccess func([]*user.User), onFailure func(error))
}

// CacheFactory creates the image cache of a new item.
type CacheFactory func() *imagecache.Cache

// List owns the user sequence and the index-aligned item sequence.
type List struct {
	loader   Loader
	newCache CacheFactory
	perItem  bool
	metrics  *metrics.FeedMetrics
	logger   *slog.Logger

	users       []*user.User
	items       []*Item
	state       State
	loadSeq     uint64
	subscribers map[uint64]func(State)
	nextSubID   uint64
}

// Option configures a List.
type Option func(*List)

// WithPerItemNotifications emits one Finished per appended user instead of one
// per batch, for consumers that redraw on every Finished.
func WithPerItemNotifications() Option {
	return func(l *List) {
		l.perItem = true
	}
}

// WithLogger sets the logger for the list.
func WithLogger(logger *slog.Logger) Option {
	return func(l *List) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.FeedMetrics) Option {
	return func(l *List) {
		l.metrics = m
	}
}

// NewList creates an empty list.
func NewList(loader Loader, newCache CacheFactory, opts ...Option) *List {
	l := &List{
		loader:      loader,
		newCache:    newCache,
		logger:      slog.Default(),
		subscribers: make(map[uint64]func(State)),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Subscribe registers fn for every state change and returns a func that
// removes it.
func (l *List) Subscribe(fn func(State)) func() {
	id := l.nextSubID
	l.nextSubID++
	l.subscribers[id] = fn

	return func() {
		delete(l.subscribers, id)
	}
}

// Load emits Loading, clears both sequences and requests a fresh list.
// Completions of an older Load that arrive after a newer one started are ignored.
func (l *List) Load(ctx context.Context) {
	l.loadSeq++
	seq := l.loadSeq

	l.reset()
	l.setState(State{Kind: KindLoading})

	l.loader.Load(ctx,
		func(users []*user.User) {
			if seq != l.loadSeq {
				l.logger.DebugContext(ctx, "discarding stale list load", slog.Int("count", len(users)))
				return
			}
			l.populate(seq, users)
		},
		func(err error) {
			if seq != l.loadSeq {
				l.logger.DebugContext(ctx, "discarding stale list failure", slog.String("error", err.Error()))
				return
			}
			l.reset()
			l.setState(State{Kind: KindError, Err: err})
		},
	)
}

// populate appends the batch of load seq. In per-item mode a subscriber may
// start a new Load from its callback, which ends this batch.
func (l *List) populate(seq uint64, users []*user.User) {
	generation := uuid.NewString()

	for _, u := range users {
		l.users = append(l.users, u)
		l.items = append(l.items, newItem(u, l.newCache()))
		if l.perItem {
			l.setState(State{Kind: KindFinished, Generation: generation})
			if seq != l.loadSeq {
				return
			}
		}
	}
	l.metrics.SetListItems(len(l.users))

	if !l.perItem || len(users) == 0 {
		l.setState(State{Kind: KindFinished, Generation: generation})
	}
}

func (l *List) reset() {
	l.users = nil
	l.items = nil
	l.metrics.SetListItems(0)
}

func (l *List) setState(s State) {
	l.state = s
	for _, fn := range l.subscribers {
		fn(s)
	}
}

// State returns the most recent notification.
func (l *List) State() State {
	return l.state
}

// ItemCount returns the number of users, which always equals len(Items()).
func (l *List) ItemCount() int {
	return len(l.users)
}

// Items returns a copy of the item sequence.
func (l *List) Items() []*Item {
	items := make([]*Item, len(l.items))
	copy(items, l.items)
	return items
}

// Item returns the item at index.
func (l *List) Item(index int) (*Item, bool) {
	if index < 0 || index >= len(l.items) {
		return nil, false
	}
	return l.items[index], true
}

// Users returns a copy of the user sequence.
func (l *List) Users() []*user.User {
	users := make([]*user.User, len(l.users))
	copy(users, l.users)
	return users
}
