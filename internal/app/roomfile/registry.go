/*
Package roomfile maps each room to the model file most recently uploaded to it.

Two realizations share the Registry interface. Authoritative keeps the mapping in memory
with write-through to a durable store and tears it down when the room empties; it backs
self-hosted storage. Listing has no state of its own and answers lookups by listing the
asset store under the room's prefix; it backs hosted blob storage and never deletes.
*/
package roomfile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"viewsync/internal/app/event"
	"viewsync/internal/app/storage"
)

// ErrNotFound is the normal "no file for this room" outcome of Lookup.
var ErrNotFound = errors.New("room file not found")

// Record is a room's current file.
type Record struct {
	FileURL  string
	Filename string

	// StoragePath is the asset store key.
	StoragePath string

	UploadedAt time.Time
}

// Payload is the record as announced to clients.
func (r Record) Payload() event.FileUploadedPayload {
	return event.FileUploadedPayload{FileURL: r.FileURL, Filename: r.Filename}
}

// Registry is the room-file registry.
type Registry interface {
	// RecordUpload makes rec the room's current file, replacing any earlier one.
	RecordUpload(ctx context.Context, roomID string, rec Record) error

	// Lookup returns the room's current file or ErrNotFound.
	Lookup(ctx context.Context, roomID string) (Record, error)

	// OnRoomEmptied releases the room's file once its last member left at emptiedAt.
	OnRoomEmptied(ctx context.Context, roomID string, emptiedAt time.Time)
}

// FilePathPrefix is the URL prefix under which stored assets are served.
const FilePathPrefix = "/api/file/"

// FileURL is the download URL of a stored asset.
func FileURL(storageKey string) string {
	return FilePathPrefix + storageKey
}

// NewRecord builds the record of an asset stored under key.
func NewRecord(key, filename string, uploadedAt time.Time) Record {
	return Record{
		FileURL:     FileURL(key),
		Filename:    filename,
		StoragePath: key,
		UploadedAt:  uploadedAt,
	}
}

// HubFiles adapts a Registry to the socket-room hub, which pushes the current file to
// joining members and reports emptied rooms.
type HubFiles struct {
	Registry
}

// CurrentFile returns the room's file payload, if any. Lookup failures other than
// "not found" count as no file.
func (h HubFiles) CurrentFile(ctx context.Context, roomID string) (event.FileUploadedPayload, bool) {
	rec, err := h.Lookup(ctx, roomID)
	if err != nil {
		return event.FileUploadedPayload{}, false
	}
	return rec.Payload(), true
}

// Registry modes.
const (
	ModeAuthoritative = "authoritative"
	ModeListing       = "listing"
)

// New builds the registry for mode. The listing mode ignores store.
func New(ctx context.Context, mode string, store RecordStore, assets storage.AssetStore) (Registry, error) {
	switch mode {
	case ModeListing:
		return NewListing(assets), nil
	case ModeAuthoritative, "":
		return NewAuthoritative(ctx, store, assets)
	default:
		return nil, fmt.Errorf("unknown room-file registry mode %q", mode)
	}
}
