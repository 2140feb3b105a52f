package physical

import (
	"context"

	sdklogical "github.com/openbao/openbao/sdk/v2/logical"
)

// LogicalStorage exposes a physical Storage as the logical storage
// interface consumed by backends.
type LogicalStorage struct {
	underlying Storage
}

var _ sdklogical.Storage = (*LogicalStorage)(nil)

func NewLogicalStorage(underlying Storage) *LogicalStorage {
	return &LogicalStorage{underlying: underlying}
}

func (s *LogicalStorage) Get(ctx context.Context, key string) (*sdklogical.StorageEntry, error) {
	entry, err := s.underlying.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	return &sdklogical.StorageEntry{
		Key:   entry.Key,
		Value: entry.Value,
	}, nil
}

func (s *LogicalStorage) Put(ctx context.Context, entry *sdklogical.StorageEntry) error {
	return s.underlying.Put(ctx, &Entry{
		Key:   entry.Key,
		Value: entry.Value,
	})
}

func (s *LogicalStorage) Delete(ctx context.Context, key string) error {
	return s.underlying.Delete(ctx, key)
}

func (s *LogicalStorage) List(ctx context.Context, prefix string) ([]string, error) {
	return s.underlying.List(ctx, prefix)
}

func (s *LogicalStorage) ListPage(ctx context.Context, prefix string, after string, limit int) ([]string, error) {
	return s.underlying.ListPage(ctx, prefix, after, limit)
}

// Underlying returns the wrapped physical storage.
func (s *LogicalStorage) Underlying() Storage {
	return s.underlying
}
