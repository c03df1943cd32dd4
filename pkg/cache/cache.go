package cache

import (
	"github.com/c360/dynbus/errors"
)

// Cache is a string-keyed cache of V
type Cache[V any] interface {
	// Get returns the value for key and marks it recently used
	Get(key string) (V, bool)

	// Set stores value under key. It reports whether a new entry was created.
	Set(key string, value V) (bool, error)

	// Delete removes key and reports whether it existed
	Delete(key string) bool

	// Clear removes every entry
	Clear()

	// Size returns the number of entries
	Size() int

	// Stats returns the cache counters
	Stats() *Statistics
}

// EvictCallback is called with each entry pushed out by capacity
type EvictCallback[V any] func(key string, value V)

// Option configures a cache
type Option[V any] func(*options[V])

type options[V any] struct {
	onEvict EvictCallback[V]
}

// WithEvictionCallback sets the eviction callback. It runs with the cache
// lock held and must not call back into the cache.
func WithEvictionCallback[V any](fn EvictCallback[V]) Option[V] {
	return func(o *options[V]) { o.onEvict = fn }
}

func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
