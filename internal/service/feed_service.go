package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/url"
	"sync"

	"github.com/lllypuk/userfeed/internal/domain/errs"
	"github.com/lllypuk/userfeed/internal/domain/event"
	"github.com/lllypuk/userfeed/internal/infrastructure/imagecache"
	"github.com/lllypuk/userfeed/internal/presentation"
)

// ErrUnavailable is returned when the main loop no longer accepts work.
var ErrUnavailable = errors.New("feed unavailable")

// Loop runs tasks on the main loop.
// Declared on the consumer side per project guidelines.
type Loop interface {
	Post(task func()) bool
	Do(ctx context.Context, task func()) error
	IsRunning() bool
}

// Listener receives feed events on the main loop. It must not block.
type Listener = func(event.Event)

// ItemView is the read model of one list row.
type ItemView struct {
	Index       int    `json:"index"`
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
	ProfileURL  string `json:"profile_url,omitempty"`
	IconURL     string `json:"icon_url"`
	ImageState  string `json:"image_state"`
}

// Snapshot is a consistent read of the list.
type Snapshot struct {
	State      string     `json:"state"`
	ErrorCode  string     `json:"error_code,omitempty"`
	Error      string     `json:"error,omitempty"`
	Generation string     `json:"generation,omitempty"`
	Count      int        `json:"count"`
	Items      []ItemView `json:"items"`
}

// FeedService exposes the list to callers on any goroutine by running every
// operation on the main loop.
type FeedService struct {
	loop   Loop
	list   *presentation.List
	logger *slog.Logger

	mu        sync.RWMutex
	listeners map[uint64]Listener
	nextID    uint64
}

// FeedServiceOption configures a FeedService.
type FeedServiceOption func(*FeedService)

// WithLogger sets the logger for the service.
func WithLogger(logger *slog.Logger) FeedServiceOption {
	return func(s *FeedService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewFeedService creates a FeedService. The list subscription is posted to the
// loop, so the loop does not need to be running yet.
func NewFeedService(loop Loop, list *presentation.List, opts ...FeedServiceOption) *FeedService {
	s := &FeedService{
		loop:      loop,
		list:      list,
		logger:    slog.Default(),
		listeners: make(map[uint64]Listener),
	}

	for _, opt := range opts {
		opt(s)
	}

	loop.Post(func() {
		list.Subscribe(s.onListState)
	})

	return s
}

// Subscribe registers listener for every feed event and returns a func that
// removes it.
func (s *FeedService) Subscribe(listener Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Ready reports whether the main loop is accepting work.
func (s *FeedService) Ready() bool {
	return s.loop.IsRunning()
}

// Reload starts a fresh list load. It returns once the load is scheduled;
// the outcome is published as list events.
func (s *FeedService) Reload(ctx context.Context) error {
	loadCtx := context.WithoutCancel(ctx)
	if !s.loop.Post(func() { s.list.Load(loadCtx) }) {
		return ErrUnavailable
	}

	s.logger.DebugContext(ctx, "list reload scheduled")
	return nil
}

// Snapshot returns the current list state.
func (s *FeedService) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, func() {
		state := s.list.State()
		snap = Snapshot{
			State:      state.Kind.String(),
			Generation: state.Generation,
			Count:      s.list.ItemCount(),
			Items:      make([]ItemView, 0, s.list.ItemCount()),
		}
		if state.Err != nil {
			snap.ErrorCode = errs.CodeOf(state.Err)
			snap.Error = state.Err.Error()
		}
		for i, item := range s.list.Items() {
			snap.Items = append(snap.Items, itemView(i, item))
		}
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Icon resolves the icon of the item at index and waits for the outcome.
// A cached icon is returned without network activity.
func (s *FeedService) Icon(ctx context.Context, index int) (image.Image, error) {
	results := make(chan imagecache.Progress, 1)

	var lookupErr error
	err := s.do(ctx, func() {
		item, ok := s.list.Item(index)
		if !ok {
			lookupErr = fmt.Errorf("%w: item %d", errs.ErrNotFound, index)
			return
		}
		generation := s.list.State().Generation
		item.RequestImage(ctx, func(p imagecache.Progress) {
			s.onImageProgress(index, generation, p)
			if p.Kind != imagecache.KindLoading {
				results <- p
			}
		})
	})
	if err != nil {
		return nil, err
	}
	if lookupErr != nil {
		return nil, lookupErr
	}

	select {
	case p := <-results:
		if p.Kind == imagecache.KindError {
			return nil, p.Err
		}
		return p.Image, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ProfileURL returns the navigation target of the item at index, or nil when
// the item has none.
func (s *FeedService) ProfileURL(ctx context.Context, index int) (*url.URL, error) {
	var target *url.URL
	var lookupErr error
	err := s.do(ctx, func() {
		item, ok := s.list.Item(index)
		if !ok {
			lookupErr = fmt.Errorf("%w: item %d", errs.ErrNotFound, index)
			return
		}
		target = item.ProfileURL()
	})
	if err != nil {
		return nil, err
	}
	return target, lookupErr
}

func (s *FeedService) do(ctx context.Context, task func()) error {
	if err := s.loop.Do(ctx, task); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (s *FeedService) onListState(state presentation.State) {
	switch state.Kind {
	case presentation.KindLoading:
		s.publish(event.NewListEvent(event.ListLoading, 0, "", nil))
	case presentation.KindFinished:
		s.publish(event.NewListEvent(event.ListFinished, s.list.ItemCount(), state.Generation, nil))
	case presentation.KindError:
		s.logger.Warn("list load failed",
			slog.String("code", errs.CodeOf(state.Err)),
			slog.String("error", state.Err.Error()),
		)
		s.publish(event.NewListEvent(event.ListError, 0, "", state.Err))
	case presentation.KindIdle:
	}
}

func (s *FeedService) onImageProgress(index int, generation string, p imagecache.Progress) {
	switch p.Kind {
	case imagecache.KindLoading:
		s.publish(event.NewImageEvent(event.ImageLoading, index, generation, nil))
	case imagecache.KindFinished:
		s.publish(event.NewImageEvent(event.ImageFinished, index, generation, nil))
	case imagecache.KindError:
		s.publish(event.NewImageEvent(event.ImageError, index, generation, p.Err))
	}
}

func (s *FeedService) publish(evt event.Event) {
	s.mu.RLock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.RUnlock()

	for _, l := range listeners {
		l(evt)
	}
}

func itemView(index int, item *presentation.Item) ItemView {
	view := ItemView{
		Index:       index,
		ID:          item.User().ID(),
		DisplayName: item.DisplayName(),
		IconURL:     item.User().IconURL(),
		ImageState:  item.ImageState().String(),
	}
	if profile := item.ProfileURL(); profile != nil {
		view.ProfileURL = profile.String()
	}
	return view
}
