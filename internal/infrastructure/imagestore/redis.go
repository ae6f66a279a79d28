package imagestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "userfeed:image:"
)

// RedisStoreConfig contains configuration for RedisStore.
type RedisStoreConfig struct {
	Client    *redis.Client
	KeyPrefix string
	TTL       time.Duration
}

// RedisStore keeps image bytes in Redis so several presenters can share them.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore creates a new Redis-backed store.
func NewRedisStore(cfg RedisStoreConfig) *RedisStore {
	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}

	return &RedisStore{
		client:    cfg.Client,
		keyPrefix: keyPrefix,
		ttl:       cfg.TTL,
	}
}

// key hashes the URL so arbitrary query strings stay out of the key space.
func (s *RedisStore) key(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return s.keyPrefix + hex.EncodeToString(sum[:])
}

// Get returns the stored bytes for rawURL.
func (s *RedisStore) Get(ctx context.Context, rawURL string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(rawURL)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("failed to get image bytes: %w", err)
	}
	return data, nil
}

// Set stores data for rawURL with the configured TTL.
func (s *RedisStore) Set(ctx context.Context, rawURL string, data []byte) error {
	if len(data) == 0 {
		return errors.New("data is required")
	}

	if err := s.client.Set(ctx, s.key(rawURL), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store image bytes: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
