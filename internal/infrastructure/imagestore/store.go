// Package imagestore provides shared, bounded byte stores that sit in front of
// the image endpoint so that rebuilt items do not always hit the network.
package imagestore

import (
	"context"
	"errors"
)

// ErrMiss is returned by Get when the key is not stored.
var ErrMiss = errors.New("image store miss")

// Store is a byte store keyed by resource URL.
// Returned slices are shared and must not be modified.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte) error
}
