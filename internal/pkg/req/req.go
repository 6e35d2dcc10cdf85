/*
Package req provides helper functions for HTTP request parsing and data binding.

It covers the two body shapes the server accepts: small JSON documents (relay triggers,
room creation) and multipart uploads carrying a model file plus form fields.
*/
package req

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"viewsync/internal/pkg/errs"
)

const (
	// MaxFormMemory is the amount of memory ParseMultipartForm may use before spilling
	// file parts to temporary files.
	MaxFormMemory int64 = 32 << 20

	// MaxJSONBodySize bounds JSON request bodies. Relay events carry camera poses and chat
	// lines, never files.
	MaxJSONBodySize int64 = 64 << 10
)

// BindJSON decodes the JSON request body into dst, rejecting unknown fields and trailing data.
func BindJSON(r *http.Request, dst any) *errs.CustomError {
	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/json") {
		return errs.NewError(errs.ErrUnsupportedMediaType)
	}

	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, MaxJSONBodySize))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errs.NewError(errs.ErrRequestEntityTooLarge)
		}
		return errs.NewError(errs.ErrInvalidJSONFormat)
	}

	if decoder.More() {
		return errs.NewError(errs.ErrExtraContentInBody)
	}

	return nil
}

// SetupMultipart limits the request body to maxBytes and parses the multipart form.
func SetupMultipart(w http.ResponseWriter, r *http.Request, maxBytes int64) *errs.CustomError {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	if err := r.ParseMultipartForm(MaxFormMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
			return errs.NewError(errs.ErrRequestEntityTooLarge)
		}

		return errs.NewError(errs.ErrFormParseFailed)
	}

	return nil
}
