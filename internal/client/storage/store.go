package storage

import "context"

//go:generate moq -out durablestore_mock.go . DurableStore

// Persisted collections. Each one is an independent JSON document loaded
// eagerly at startup.
const (
	KeyPendingOperations = "pending_operations"
	KeyCacheEntries      = "cache_entries"
	KeyPendingConflicts  = "pending_conflicts"
)

// DurableStore is the key/value persistence the offline engine writes through.
// Implementations must be safe for concurrent use.
type DurableStore interface {
	// Load returns the bytes stored under key.
	// Returns ErrKeyNotFound if nothing is stored.
	Load(ctx context.Context, key string) ([]byte, error)

	// Save stores data under key, replacing any previous value
	Save(ctx context.Context, key string, data []byte) error

	// Remove deletes the key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}
