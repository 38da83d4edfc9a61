package filestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/offsync/internal/client/storage"
)

const keyLastSyncTime = "last_sync_time"

var _ storage.MetadataStorage = (*Store)(nil)

// SaveLastSyncTime stores t as RFC 3339 text.
func (s *Store) SaveLastSyncTime(ctx context.Context, t time.Time) error {
	return s.Save(ctx, keyLastSyncTime, []byte(t.UTC().Format(time.RFC3339Nano)))
}

// GetLastSyncTime returns the zero time if no drain has completed yet.
func (s *Store) GetLastSyncTime(ctx context.Context) (time.Time, error) {
	data, err := s.Load(ctx, keyLastSyncTime)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}

	t, err := time.Parse(time.RFC3339Nano, string(data))
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupted last sync time: %w", err)
	}
	return t, nil
}
