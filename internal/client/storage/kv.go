package storage

import "context"

// KVStorage defines the durable key-value store backing caches, mirrors and
// the pending-acknowledgment registry. All access is serialized by the
// implementation, so callers never observe a half-applied multi-key write.
type KVStorage interface {
	// Get returns the value stored under key.
	// Returns ErrKeyNotFound if the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, overwriting any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns all keys with the given prefix in lexicographic order.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// PutBatch stores all entries in a single atomic write.
	// Either every entry is applied or none is.
	PutBatch(ctx context.Context, entries map[string][]byte) error
}
