package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when a key is absent or its TTL has elapsed.
var ErrNotFound = errors.New("cache: key not found")

// Store is a key-value store with per-key TTL. Values are structured records
// that must round-trip losslessly through Set and Get.
type Store interface {
	// Get decodes the value stored under key into dest.
	// It returns ErrNotFound when the key does not exist.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores value under key. A ttl of zero means the key never expires.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error
	// Keys lists every live key starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
