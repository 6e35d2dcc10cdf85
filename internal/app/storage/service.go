/*
Package storage holds uploaded model files.

An AssetStore is a flat key space. Keys have the form "<roomId>/<unixMillis>-<name>", so
a room's uploads share a prefix and the upload time can be read back from the key. Two
realizations exist: a directory on local disk and an S3-compatible bucket. Stores that
can hand out time-limited download links also implement Presigner.
*/
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Storage drivers.
const (
	DriverLocal = "local"
	DriverS3    = "s3"
)

// ErrNotFound is returned by Open for a missing key.
var ErrNotFound = errors.New("asset not found")

// ErrInvalidKey is returned for keys that are empty, absolute or climb out of the store.
var ErrInvalidKey = errors.New("invalid asset key")

// Object describes one stored asset.
type Object struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// AssetStore stores and retrieves uploaded files.
type AssetStore interface {
	// Put stores body under key, replacing any existing asset.
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error

	// Open returns a reader for key. The caller closes it.
	Open(ctx context.Context, key string) (io.ReadCloser, Object, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns every asset whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]Object, error)
}

// Presigner is implemented by stores that can issue temporary download URLs.
type Presigner interface {
	PresignDownload(ctx context.Context, key string, duration time.Duration) (string, error)
}

// ServiceConfig holds the configuration required to build an AssetStore.
type ServiceConfig struct {
	Driver string

	// UploadDir is the root directory of the local driver.
	UploadDir string

	S3BucketName      string
	S3Endpoint        string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string
}

// NewAssetStore is the factory function for AssetStore.
func NewAssetStore(ctx context.Context, cfg ServiceConfig) (AssetStore, error) {
	switch cfg.Driver {
	case DriverLocal, "":
		return NewLocal(cfg.UploadDir)
	case DriverS3:
		return newS3Client(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// ObjectKey builds the key of a file uploaded to roomID at the given time.
func ObjectKey(roomID, filename string, at time.Time) string {
	return fmt.Sprintf("%s/%d-%s", roomID, at.UnixMilli(), filename)
}

// RoomPrefix is the key prefix shared by all of roomID's uploads.
func RoomPrefix(roomID string) string {
	return roomID + "/"
}

// ParseObjectKey splits a key built by ObjectKey.
func ParseObjectKey(key string) (roomID, filename string, uploadedAt time.Time, ok bool) {
	roomID, rest, found := strings.Cut(key, "/")
	if !found || roomID == "" {
		return "", "", time.Time{}, false
	}
	ts, name, found := strings.Cut(rest, "-")
	if !found || name == "" {
		return "", "", time.Time{}, false
	}
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", "", time.Time{}, false
	}
	return roomID, name, time.UnixMilli(ms), true
}

// SanitizeFilename reduces an uploaded file name to a safe base name: path elements are
// stripped and anything outside letters, digits, '.', '-' and '_' becomes '_'.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))

	var b strings.Builder
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	return strings.Trim(b.String(), ".")
}

// validKey rejects keys that could escape the store root.
func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}
