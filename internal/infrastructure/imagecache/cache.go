// Package imagecache resolves a single remote image per owner with in-flight
// de-duplication and memoization of the first successful decode.
//
// A Cache is not safe for concurrent use: every method and every callback it
// issues runs on the main loop.
package imagecache

import (
	"context"
	"image"
	"log/slog"

	"github.com/lllypuk/userfeed/internal/domain/errs"
	"github.com/lllypuk/userfeed/internal/infrastructure/metrics"
)

// Kind is the kind of a progress event.
type Kind int

// Progress event kinds.
const (
	KindLoading Kind = iota
	KindFinished
	KindError
)

func (k Kind) String() string {
	switch k {
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

// Progress is one event of an image request.
// Image is set for Loading (the placeholder) and Finished; Err for Error.
type Progress struct {
	Kind  Kind
	Image image.Image
	Err   error
}

// State is the lifecycle state of a Cache.
type State int

// Cache states.
const (
	StateIdle State = iota
	StateLoading
	StateCached
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateCached:
		return "cached"
	default:
		return "unknown"
	}
}

// Fetcher downloads raw bytes and reports the outcome on the main loop.
// Declared on the consumer side per project guidelines.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, onSuccess func([]byte), onFailure func(error))
}

// Cache holds at most one decoded image. Once cached the image is never
// invalidated and no further network activity happens.
type Cache struct {
	fetcher     Fetcher
	placeholder image.Image
	metrics     *metrics.FeedMetrics
	logger      *slog.Logger

	state   State
	cached  image.Image
	waiters []func(Progress)
}

// Option configures a Cache.
type Option func(*Cache)

// WithPlaceholder sets the image emitted with the Loading event.
func WithPlaceholder(placeholder image.Image) Option {
	return func(c *Cache) {
		if placeholder != nil {
			c.placeholder = placeholder
		}
	}
}

// WithLogger sets the logger for the cache.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.FeedMetrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// New creates an idle cache that downloads through fetcher.
func New(fetcher Fetcher, opts ...Option) *Cache {
	c := &Cache{
		fetcher:     fetcher,
		placeholder: DefaultPlaceholder(),
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// RequestImage resolves rawURL for this cache's owner.
//
//   - Idle: emits Loading(placeholder) synchronously and starts one download.
//   - Loading: emits nothing synchronously and starts nothing; onProgress is
//     attached to the download in flight and receives its terminal event.
//   - Cached: emits Finished(image) synchronously with no network activity.
//
// A successful decode moves the cache to Cached. Any failure returns it to
// Idle so a later call retries.
func (c *Cache) RequestImage(ctx context.Context, rawURL string, onProgress func(Progress)) {
	switch c.state {
	case StateCached:
		c.metrics.ObserveImage(metrics.ImageCached)
		onProgress(Progress{Kind: KindFinished, Image: c.cached})
		return
	case StateLoading:
		c.metrics.ObserveImage(metrics.ImageJoined)
		c.waiters = append(c.waiters, onProgress)
		return
	case StateIdle:
	}

	c.metrics.ObserveImage(metrics.ImageFetch)
	c.state = StateLoading
	c.waiters = append(c.waiters, onProgress)
	onProgress(Progress{Kind: KindLoading, Image: c.placeholder})

	c.fetcher.Fetch(ctx, rawURL,
		func(data []byte) {
			img, err := Decode(data)
			if err != nil {
				c.logger.DebugContext(ctx, "image decode failed",
					slog.String("url", rawURL),
					slog.String("error", err.Error()),
				)
				c.fail(&errs.DecodeError{Kind: errs.DecodeInvalidImage, Index: -1, Cause: err})
				return
			}
			c.succeed(img)
		},
		func(err error) {
			c.logger.DebugContext(ctx, "image fetch failed",
				slog.String("url", rawURL),
				slog.String("error", err.Error()),
			)
			c.fail(err)
		},
	)
}

// State returns the current lifecycle state.
func (c *Cache) State() State {
	return c.state
}

// Cached returns the memoized image, if any.
func (c *Cache) Cached() (image.Image, bool) {
	return c.cached, c.state == StateCached
}

// Placeholder returns the image emitted with Loading events.
func (c *Cache) Placeholder() image.Image {
	return c.placeholder
}

func (c *Cache) succeed(img image.Image) {
	c.cached = img
	c.state = StateCached
	c.emit(Progress{Kind: KindFinished, Image: img})
}

func (c *Cache) fail(err error) {
	c.state = StateIdle
	c.emit(Progress{Kind: KindError, Err: err})
}

// emit hands a terminal event to every waiter. The state is already settled,
// so a waiter calling RequestImage again sees the new state.
func (c *Cache) emit(p Progress) {
	waiters := c.waiters
	c.waiters = nil
	for _, w := range waiters {
		w(p)
	}
}
