package roomfile

import (
	"context"
	"fmt"
	"time"

	"viewsync/internal/app/storage"
)

// Listing is the registry for hosted blob storage. The asset store is the only state:
// lookups list the room's prefix and pick the newest upload. Nothing is ever deleted,
// so a room's files outlive its occupants.
type Listing struct {
	assets storage.AssetStore
}

// NewListing creates a listing registry over assets.
func NewListing(assets storage.AssetStore) *Listing {
	return &Listing{assets: assets}
}

// RecordUpload is a no-op: the stored asset is the record.
func (l *Listing) RecordUpload(context.Context, string, Record) error {
	return nil
}

// Lookup returns the room's most recently uploaded asset. Upload time is the store's
// modification time, falling back to the time encoded in the key; with clock skew
// between uploaders this is last-listed, not last-written.
func (l *Listing) Lookup(ctx context.Context, roomID string) (Record, error) {
	objs, err := l.assets.List(ctx, storage.RoomPrefix(roomID))
	if err != nil {
		return Record{}, fmt.Errorf("list room assets: %w", err)
	}

	var (
		best   Record
		bestAt time.Time
		found  bool
	)
	for _, obj := range objs {
		_, name, keyAt, ok := storage.ParseObjectKey(obj.Key)
		if !ok {
			continue
		}
		at := obj.LastModified
		if at.IsZero() {
			at = keyAt
		}
		if !found || at.After(bestAt) || (at.Equal(bestAt) && obj.Key > best.StoragePath) {
			best = NewRecord(obj.Key, name, at)
			bestAt = at
			found = true
		}
	}

	if !found {
		return Record{}, ErrNotFound
	}
	return best, nil
}

// OnRoomEmptied is a no-op: the listing realization never deletes.
func (l *Listing) OnRoomEmptied(context.Context, string, time.Time) {}
