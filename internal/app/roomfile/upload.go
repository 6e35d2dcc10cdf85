package roomfile

import (
	"mime"
	"path"
	"path/filepath"
	"strings"

	"viewsync/internal/app/storage"
	"viewsync/internal/pkg/errs"
)

// DefaultRoomID is used for uploads that name no room.
const DefaultRoomID = "default-room"

// DefaultContentType is served for files whose extension maps to no known type. Model
// formats such as IFC rarely have a registered MIME type.
const DefaultContentType = "application/octet-stream"

// ValidateFileSize checks if the provided file size is within acceptable limits.
func ValidateFileSize(fileSize, maxBytes int64) *errs.CustomError {
	if fileSize <= 0 {
		return errs.NewError(errs.ErrNoFileUploaded)
	}

	if maxBytes > 0 && fileSize > maxBytes {
		return errs.NewError(errs.ErrFileSizeTooLarge, maxBytes>>20)
	}

	return nil
}

// CleanFilename returns the display name and the storage-safe name of an uploaded file.
// Any file type is accepted; only names that sanitize to nothing are rejected.
func CleanFilename(name string) (display, safe string, customErr *errs.CustomError) {
	display = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	safe = storage.SanitizeFilename(display)

	if safe == "" || display == "." || display == "/" {
		return "", "", errs.NewError(errs.ErrFileNameInvalid)
	}

	return display, safe, nil
}

// ContentType guesses the MIME type of name from its extension.
func ContentType(name string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		return t
	}
	return DefaultContentType
}
