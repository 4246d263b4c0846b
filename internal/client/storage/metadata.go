package storage

import "context"

// SyncStateStorage defines interface for storing sync bookkeeping
type SyncStateStorage interface {
	// SaveLastSyncTimestamp saves the timestamp (unix ms) of the last successful drain
	SaveLastSyncTimestamp(ctx context.Context, timestamp int64) error

	// GetLastSyncTimestamp retrieves the timestamp of the last successful drain
	// Returns 0 if no sync has been performed yet
	GetLastSyncTimestamp(ctx context.Context) (int64, error)
}
