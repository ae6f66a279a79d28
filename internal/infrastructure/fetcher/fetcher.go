// Package fetcher performs single HTTP GET requests off the main loop and
// delivers their outcome back onto it.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lllypuk/userfeed/internal/domain/errs"
	"github.com/lllypuk/userfeed/internal/infrastructure/imagestore"
	"github.com/lllypuk/userfeed/internal/infrastructure/metrics"
)

const (
	defaultFetchTimeout = 30 * time.Second
	defaultMaxBodyBytes = 10 << 20 // 10MB
)

// Poster delivers a completion onto the coordination context.
// Declared on the consumer side per project guidelines.
type Poster interface {
	// Post enqueues task without blocking and reports whether it will run.
	Post(task func()) bool
}

// Store is a shared byte store consulted before the network.
// Declared on the consumer side per project guidelines.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte) error
}

// Config contains configuration for Fetcher.
type Config struct {
	// Endpoint labels metrics and logs (e.g. "list", "image").
	Endpoint string

	// Timeout bounds one request including reading the body.
	Timeout time.Duration

	// UserAgent is sent with every request when set.
	UserAgent string

	// Accept is sent with every request when set.
	Accept string

	// MaxBodyBytes caps the response body size.
	MaxBodyBytes int64

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client
}

// Fetcher issues GET requests and reports success or failure exactly once per call.
type Fetcher struct {
	config     Config
	httpClient *http.Client
	poster     Poster
	store      Store
	group      *singleflight.Group
	metrics    *metrics.FeedMetrics
	logger     *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the logger for the fetcher.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithStore enables a read-through shared byte store.
func WithStore(store Store) Option {
	return func(f *Fetcher) {
		f.store = store
	}
}

// WithCoalescing merges concurrent requests for the same URL into one download.
func WithCoalescing() Option {
	return func(f *Fetcher) {
		f.group = &singleflight.Group{}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.FeedMetrics) Option {
	return func(f *Fetcher) {
		f.metrics = m
	}
}

// New creates a Fetcher that delivers completions through poster.
func New(config Config, poster Poster, opts ...Option) *Fetcher {
	if config.Timeout <= 0 {
		config.Timeout = defaultFetchTimeout
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaultMaxBodyBytes
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: config.Timeout,
		}
	}

	f := &Fetcher{
		config:     config,
		httpClient: httpClient,
		poster:     poster,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fetch downloads rawURL in the background. Exactly one of onSuccess or
// onFailure is called, always through the poster and never before Fetch returns.
// Failures are errs.ErrInvalidURL, *errs.TransportError or errs.ErrEmptyResponse.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, onSuccess func([]byte), onFailure func(error)) {
	target, err := ValidateURL(rawURL)
	if err != nil {
		f.deliver(ctx, func() { onFailure(err) })
		return
	}

	go func() {
		data, getErr := f.get(ctx, target.String())
		if getErr != nil {
			f.deliver(ctx, func() { onFailure(getErr) })
			return
		}
		f.deliver(ctx, func() { onSuccess(data) })
	}()
}

// deliver hands a completion to the poster, logging if it was dropped.
func (f *Fetcher) deliver(ctx context.Context, completion func()) {
	if !f.poster.Post(completion) {
		f.logger.WarnContext(ctx, "fetch completion dropped: main loop stopped",
			slog.String("endpoint", f.config.Endpoint),
		)
	}
}

// get resolves url through the optional coalescing group.
func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	if f.group == nil {
		return f.load(ctx, rawURL)
	}

	v, err, shared := f.group.Do(rawURL, func() (any, error) {
		return f.load(ctx, rawURL)
	})
	if shared {
		f.logger.DebugContext(ctx, "fetch coalesced",
			slog.String("endpoint", f.config.Endpoint),
			slog.String("url", rawURL),
		)
	}
	if err != nil {
		return nil, err
	}
	data, _ := v.([]byte)
	return data, nil
}

// load consults the store, then the network, filling the store on success.
func (f *Fetcher) load(ctx context.Context, rawURL string) ([]byte, error) {
	if f.store != nil {
		data, err := f.store.Get(ctx, rawURL)
		switch {
		case err == nil:
			f.metrics.ObserveStore(f.config.Endpoint, metrics.StoreHit)
			return data, nil
		case errors.Is(err, imagestore.ErrMiss):
			f.metrics.ObserveStore(f.config.Endpoint, metrics.StoreMiss)
		default:
			f.metrics.ObserveStore(f.config.Endpoint, metrics.StoreError)
			f.logger.WarnContext(ctx, "image store lookup failed",
				slog.String("url", rawURL),
				slog.String("error", err.Error()),
			)
		}
	}

	data, err := f.download(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	if f.store != nil {
		if setErr := f.store.Set(ctx, rawURL, data); setErr != nil {
			f.logger.WarnContext(ctx, "image store write failed",
				slog.String("url", rawURL),
				slog.String("error", setErr.Error()),
			)
		}
	}

	return data, nil
}

// download performs the HTTP round trip.
func (f *Fetcher) download(ctx context.Context, rawURL string) ([]byte, error) {
	start := time.Now()
	data, err := f.roundTrip(ctx, rawURL)
	elapsed := time.Since(start)
	f.metrics.ObserveRequest(f.config.Endpoint, err, elapsed)

	if err != nil {
		f.logger.DebugContext(ctx, "fetch failed",
			slog.String("endpoint", f.config.Endpoint),
			slog.String("url", rawURL),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	f.logger.DebugContext(ctx, "fetch completed",
		slog.String("endpoint", f.config.Endpoint),
		slog.String("url", rawURL),
		slog.Duration("elapsed", elapsed),
		slog.Int("bytes", len(data)),
	)
	return data, nil
}

func (f *Fetcher) roundTrip(ctx context.Context, rawURL string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrInvalidURL, err)
	}
	if f.config.UserAgent != "" {
		req.Header.Set("User-Agent", f.config.UserAgent)
	}
	if f.config.Accept != "" {
		req.Header.Set("Accept", f.config.Accept)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, errs.NewTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, f.config.MaxBodyBytes))
		return nil, errs.NewTransportError(&errs.StatusError{Code: resp.StatusCode})
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodyBytes))
	if err != nil {
		return nil, errs.NewTransportError(err)
	}
	if len(data) == 0 {
		return nil, errs.ErrEmptyResponse
	}

	return data, nil
}

// ValidateURL checks that rawURL is an absolute http(s) URL with a host.
func ValidateURL(rawURL string) (*url.URL, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("%w: empty url", errs.ErrInvalidURL)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", errs.ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", errs.ErrInvalidURL)
	}

	return u, nil
}
