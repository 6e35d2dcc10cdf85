package roomfile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"viewsync/internal/app/db"
	"viewsync/internal/app/storage"
	"viewsync/internal/pkg/logx"
)

// RecordStore is the durable side of the authoritative registry. db.RoomFileStore
// implements it.
type RecordStore interface {
	Save(ctx context.Context, rf db.RoomFile) error
	Delete(ctx context.Context, roomID string, uploadedAt time.Time) error
	LoadAll(ctx context.Context) ([]db.RoomFile, error)
}

// Authoritative is the registry for self-hosted storage. The mutex is held across the
// durable write of an upload and across a whole teardown, so a lookup never observes a
// half-removed room.
type Authoritative struct {
	mu      sync.Mutex
	records map[string]Record

	// recordedAt is when each record was registered, read from now. Teardown compares it
	// with the emptying time: an upload whose body was still streaming when the room
	// emptied registers afterwards and survives.
	recordedAt map[string]time.Time
	now        func() time.Time

	// store may be nil; the registry is then memory-only.
	store  RecordStore
	assets storage.AssetStore

	logger zerolog.Logger
}

// NewAuthoritative loads every persisted association from store.
func NewAuthoritative(ctx context.Context, store RecordStore, assets storage.AssetStore) (*Authoritative, error) {
	a := &Authoritative{
		records:    make(map[string]Record),
		recordedAt: make(map[string]time.Time),
		now:        time.Now,
		store:      store,
		assets:     assets,
		logger:     logx.Component("RoomFileRegistry"),
	}

	if store == nil {
		return a, nil
	}

	rows, err := store.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load room files: %w", err)
	}
	for _, rf := range rows {
		a.records[rf.RoomID] = Record{
			FileURL:     rf.FileURL,
			Filename:    rf.Filename,
			StoragePath: rf.StoragePath,
			UploadedAt:  rf.UploadedAt,
		}
		a.recordedAt[rf.RoomID] = rf.UploadedAt
	}

	a.logger.Info().Int("rooms", len(rows)).Msg("Room-file associations loaded.")
	return a, nil
}

// RecordUpload overwrites the room's record and writes it through to the store. A failed
// durable write is logged; the in-memory record still takes effect.
func (a *Authoritative) RecordUpload(ctx context.Context, roomID string, rec Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.records[roomID] = rec
	a.recordedAt[roomID] = a.now()

	if a.store != nil {
		err := a.store.Save(ctx, db.RoomFile{
			RoomID:      roomID,
			FileURL:     rec.FileURL,
			Filename:    rec.Filename,
			StoragePath: rec.StoragePath,
			UploadedAt:  rec.UploadedAt,
		})
		if err != nil {
			a.logger.Error().Err(err).Str("room_id", roomID).Msg("Failed to persist room file.")
		}
	}

	a.logger.Info().Str("room_id", roomID).Str("key", rec.StoragePath).Msg("Room file recorded.")
	return nil
}

// Lookup returns the room's record or ErrNotFound.
func (a *Authoritative) Lookup(_ context.Context, roomID string) (Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.records[roomID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// OnRoomEmptied drops the room's record, its durable row and its stored asset. A record
// registered at or after emptiedAt belongs to a later occupancy and is kept. Store and
// asset failures are logged; the record is removed regardless.
func (a *Authoritative) OnRoomEmptied(ctx context.Context, roomID string, emptiedAt time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.records[roomID]
	if !ok {
		return
	}
	if !a.recordedAt[roomID].Before(emptiedAt) {
		a.logger.Info().Str("room_id", roomID).Msg("Room file uploaded after the room emptied. Keeping it.")
		return
	}

	delete(a.records, roomID)
	delete(a.recordedAt, roomID)

	if a.store != nil {
		if err := a.store.Delete(ctx, roomID, rec.UploadedAt); err != nil {
			a.logger.Error().Err(err).Str("room_id", roomID).Msg("Failed to delete persisted room file.")
		}
	}

	if a.assets != nil {
		a.deleteAssets(ctx, roomID, rec)
	}

	a.logger.Info().Str("room_id", roomID).Str("key", rec.StoragePath).Msg("Room file torn down.")
}

// deleteAssets removes the current asset and any uploads to the room stamped strictly
// earlier, which later uploads replaced. A key from the same millisecond may belong to an
// upload still in flight and is left alone.
func (a *Authoritative) deleteAssets(ctx context.Context, roomID string, rec Record) {
	if err := a.assets.Delete(ctx, rec.StoragePath); err != nil {
		a.logger.Error().Err(err).Str("key", rec.StoragePath).Msg("Failed to delete room asset.")
	}

	objs, err := a.assets.List(ctx, storage.RoomPrefix(roomID))
	if err != nil {
		a.logger.Warn().Err(err).Str("room_id", roomID).Msg("Failed to list superseded room assets.")
		return
	}
	for _, obj := range objs {
		_, _, uploadedAt, ok := storage.ParseObjectKey(obj.Key)
		if !ok || !uploadedAt.Before(rec.UploadedAt) {
			continue
		}
		if err := a.assets.Delete(ctx, obj.Key); err != nil {
			a.logger.Warn().Err(err).Str("key", obj.Key).Msg("Failed to delete superseded room asset.")
		}
	}
}
