// Package github loads the public user list from the GitHub REST API.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/lllypuk/userfeed/internal/domain/errs"
	"github.com/lllypuk/userfeed/internal/domain/user"
)

// DefaultBaseURL is the public GitHub REST API root.
// The loader itself does not fall back to it; configuration does.
const DefaultBaseURL = "https://api.github.com"

const usersPath = "/users"

// Fetcher downloads raw bytes and reports the outcome on the main loop.
// Declared on the consumer side per project guidelines.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, onSuccess func([]byte), onFailure func(error))
}

// ListLoaderConfig contains configuration for ListLoader.
type ListLoaderConfig struct {
	// BaseURL is the API root; the loader requests BaseURL + "/users".
	// An empty or malformed BaseURL makes every Load fail with errs.ErrInvalidURL.
	BaseURL string
}

// ListLoader fetches and decodes the user list.
type ListLoader struct {
	endpoint string
	fetcher  Fetcher
	logger   *slog.Logger
}

// ListLoaderOption configures a ListLoader.
type ListLoaderOption func(*ListLoader)

// WithLogger sets the logger for the list loader.
func WithLogger(logger *slog.Logger) ListLoaderOption {
	return func(l *ListLoader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewListLoader creates a new list loader on top of fetcher.
func NewListLoader(config ListLoaderConfig, fetcher Fetcher, opts ...ListLoaderOption) *ListLoader {
	l := &ListLoader{
		endpoint: strings.TrimSuffix(config.BaseURL, "/") + usersPath,
		fetcher:  fetcher,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Endpoint returns the absolute URL of the list endpoint.
func (l *ListLoader) Endpoint() string {
	return l.endpoint
}

// Load requests the user list. Exactly one of onSuccess or onFailure is
// called on the main loop. One malformed record fails the whole load.
func (l *ListLoader) Load(ctx context.Context, onSuccess func([]*user.User), onFailure func(error)) {
	l.fetcher.Fetch(ctx, l.endpoint,
		func(body []byte) {
			users, err := DecodeUsers(body)
			if err != nil {
				l.logger.WarnContext(ctx, "failed to decode user list",
					slog.String("url", l.endpoint),
					slog.String("error", err.Error()),
				)
				onFailure(err)
				return
			}

			l.logger.DebugContext(ctx, "user list loaded",
				slog.Int("count", len(users)),
			)
			onSuccess(users)
		},
		func(err error) {
			l.logger.WarnContext(ctx, "failed to fetch user list",
				slog.String("url", l.endpoint),
				slog.String("error", err.Error()),
			)
			onFailure(err)
		},
	)
}

// DecodeUsers decodes a JSON array of user objects.
// A body that is not an array of objects yields errs.ErrInvalidResponse; a
// malformed record yields a *errs.DecodeError carrying the record index.
func DecodeUsers(body []byte) ([]*user.User, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()

	var raw []json.RawMessage
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrInvalidResponse, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: expected array", errs.ErrInvalidResponse)
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: unexpected data after array", errs.ErrInvalidResponse)
	}

	users := make([]*user.User, 0, len(raw))
	for i, item := range raw {
		attrs, err := decodeObject(item)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %w", errs.ErrInvalidResponse, i, err)
		}

		u, err := user.FromAttributes(attrs)
		if err != nil {
			return nil, atIndex(err, i)
		}
		users = append(users, u)
	}

	return users, nil
}

func decodeObject(item json.RawMessage) (map[string]any, error) {
	decoder := json.NewDecoder(bytes.NewReader(item))
	decoder.UseNumber()

	var attrs map[string]any
	if err := decoder.Decode(&attrs); err != nil {
		return nil, err
	}
	if attrs == nil {
		return nil, errors.New("expected object")
	}
	return attrs, nil
}

func atIndex(err error, index int) error {
	var decodeErr *errs.DecodeError
	if !errors.As(err, &decodeErr) {
		return err
	}
	indexed := *decodeErr
	indexed.Index = index
	return &indexed
}
