package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// Rate limit defaults.
const (
	DefaultRateLimit        = 10
	DefaultRateLimitWindow  = time.Minute
	DefaultRateLimitMaxKeys = 10000
)

// Rate limit response headers.
const (
	HeaderRateLimitLimit     = "X-Ratelimit-Limit"
	HeaderRateLimitRemaining = "X-Ratelimit-Remaining"
	HeaderRateLimitReset     = "X-Ratelimit-Reset"
)

// ErrRateLimitExceeded is reported in logs when a client exceeds its budget.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// RateLimitStore counts requests per key over fixed windows.
type RateLimitStore interface {
	// Increment increments the counter for key and returns the new count.
	// The window starts with the first increment.
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)

	// GetTTL returns the remaining time in the current window for key.
	GetTTL(ctx context.Context, key string) (time.Duration, error)
}

// RateLimitConfig holds configuration for the rate limit middleware.
type RateLimitConfig struct {
	// Logger is the structured logger for rate limit events.
	Logger *slog.Logger

	// Store is the counter backend. A nil store disables limiting.
	Store RateLimitStore

	// Limit is the maximum number of requests allowed per window.
	Limit int

	// Window is the time window for rate limiting.
	Window time.Duration

	// KeyFunc generates the counter key. Defaults to the client IP.
	KeyFunc func(c echo.Context) string

	// Message is the error message returned when rate limit is exceeded.
	Message string
}

// DefaultRateLimitConfig returns a RateLimitConfig with sensible defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Logger:  slog.Default(),
		Limit:   DefaultRateLimit,
		Window:  DefaultRateLimitWindow,
		Message: "Too many requests. Please try again later.",
	}
}

// RateLimit returns a rate limiting middleware with the given configuration.
// Store failures let the request through.
func RateLimit(config RateLimitConfig) echo.MiddlewareFunc {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Limit <= 0 {
		config.Limit = DefaultRateLimit
	}
	if config.Window <= 0 {
		config.Window = DefaultRateLimitWindow
	}
	if config.Message == "" {
		config.Message = "Too many requests. Please try again later."
	}
	if config.KeyFunc == nil {
		config.KeyFunc = ipKey
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if config.Store == nil {
				return next(c)
			}

			ctx := c.Request().Context()
			key := config.KeyFunc(c)

			count, err := config.Store.Increment(ctx, key, config.Window)
			if err != nil {
				config.Logger.ErrorContext(ctx, "failed to increment rate limit counter",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
				return next(c)
			}

			limit := int64(config.Limit)
			remaining := max(limit-count, 0)

			header := c.Response().Header()
			header.Set(HeaderRateLimitLimit, strconv.FormatInt(limit, 10))
			header.Set(HeaderRateLimitRemaining, strconv.FormatInt(remaining, 10))

			ttl, err := config.Store.GetTTL(ctx, key)
			if err == nil && ttl > 0 {
				header.Set(HeaderRateLimitReset, strconv.FormatInt(time.Now().Add(ttl).Unix(), 10))
			}

			if count > limit {
				config.Logger.WarnContext(ctx, ErrRateLimitExceeded.Error(),
					slog.String("key", key),
					slog.Int64("count", count),
					slog.Int64("limit", limit),
					slog.String("path", c.Request().URL.Path),
					slog.String("remote_ip", c.RealIP()),
				)
				return respondRateLimitError(c, config.Message, ttl)
			}

			return next(c)
		}
	}
}

// RateLimitByEndpoint limits each client separately on every route.
func RateLimitByEndpoint(config RateLimitConfig) echo.MiddlewareFunc {
	config.KeyFunc = func(c echo.Context) string {
		return fmt.Sprintf("ratelimit:endpoint:%s:%s:ip:%s", c.Request().Method, c.Path(), c.RealIP())
	}
	return RateLimit(config)
}

func ipKey(c echo.Context) string {
	return "ratelimit:ip:" + c.RealIP()
}

// respondRateLimitError sends a rate limit exceeded error response.
func respondRateLimitError(c echo.Context, message string, retryAfter time.Duration) error {
	if retryAfter > 0 {
		c.Response().Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
	}

	return c.JSON(http.StatusTooManyRequests, map[string]any{
		"success": false,
		"error": map[string]any{
			"code":        "RATE_LIMIT_EXCEEDED",
			"message":     message,
			"retry_after": int64(retryAfter.Seconds()),
		},
	})
}

type rateLimitEntry struct {
	count     int64
	expiresAt time.Time
}

// MemoryRateLimitStore is a bounded in-process store. The least recently
// used keys are evicted once maxKeys is reached.
type MemoryRateLimitStore struct {
	mu      sync.Mutex
	entries *expirable.LRU[string, *rateLimitEntry]
}

// NewMemoryRateLimitStore creates a store holding at most maxKeys counters,
// each dropped after window.
func NewMemoryRateLimitStore(maxKeys int, window time.Duration) *MemoryRateLimitStore {
	if maxKeys <= 0 {
		maxKeys = DefaultRateLimitMaxKeys
	}
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	return &MemoryRateLimitStore{
		entries: expirable.NewLRU[string, *rateLimitEntry](maxKeys, nil, window),
	}
}

// Increment increments the counter for the given key.
func (s *MemoryRateLimitStore) Increment(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if entry, ok := s.entries.Get(key); ok && now.Before(entry.expiresAt) {
		entry.count++
		return entry.count, nil
	}

	s.entries.Add(key, &rateLimitEntry{count: 1, expiresAt: now.Add(window)})
	return 1, nil
}

// GetTTL returns the remaining TTL for the given key.
func (s *MemoryRateLimitStore) GetTTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries.Peek(key)
	if !ok {
		return 0, nil
	}
	return max(time.Until(entry.expiresAt), 0), nil
}

// RedisRateLimitStore shares counters between instances through Redis.
type RedisRateLimitStore struct {
	client    redis.Cmdable
	keyPrefix string
}

// NewRedisRateLimitStore creates a new Redis-based rate limit store.
func NewRedisRateLimitStore(client redis.Cmdable, keyPrefix string) *RedisRateLimitStore {
	if keyPrefix == "" {
		keyPrefix = "userfeed:"
	}
	return &RedisRateLimitStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Increment increments the counter for the given key.
func (s *RedisRateLimitStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	fullKey := s.keyPrefix + key

	count, err := s.client.Incr(ctx, fullKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}

	if count == 1 {
		if expireErr := s.client.Expire(ctx, fullKey, window).Err(); expireErr != nil {
			return count, fmt.Errorf("failed to set expiration: %w", expireErr)
		}
	}

	return count, nil
}

// GetTTL returns the remaining TTL for the given key.
func (s *RedisRateLimitStore) GetTTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, s.keyPrefix+key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read ttl: %w", err)
	}
	return max(ttl, 0), nil
}
