package storage

import (
	"context"
	"time"
)

//go:generate moq -out metadata_mock.go . MetadataStorage

// MetadataStorage defines interface for storing client sync metadata
type MetadataStorage interface {
	// SaveLastSyncTime saves the time of the last drain pass that delivered at least one operation
	SaveLastSyncTime(ctx context.Context, t time.Time) error

	// GetLastSyncTime retrieves the time of the last successful sync
	// Returns zero time if no sync has been performed yet
	GetLastSyncTime(ctx context.Context) (time.Time, error)
}
