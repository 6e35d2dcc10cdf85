package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"viewsync/internal/app/event"
	"viewsync/internal/app/roomfile"
	"viewsync/internal/app/storage"
	"viewsync/internal/pkg/errs"
	"viewsync/internal/pkg/logx"
	"viewsync/internal/pkg/randx"
	"viewsync/internal/pkg/req"
	"viewsync/internal/pkg/resp"
)

const (
	// PresignedURLDuration is the lifetime of a download redirect URL.
	PresignedURLDuration = 15 * time.Minute

	// multipartOverhead is allowed on top of the file size limit for form fields and
	// part headers.
	multipartOverhead = 1 << 20
)

// HandleUpload stores an uploaded model, makes it the room's current file and announces
// it with file-uploaded to everyone in the room.
func HandleUpload(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		maxBytes := deps.Config.MaxUploadBytes()

		if customErr := req.SetupMultipart(w, r, maxBytes+multipartOverhead); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrNoFileUploaded))
			return
		}
		defer file.Close()

		if customErr := roomfile.ValidateFileSize(header.Size, maxBytes); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		roomID := r.FormValue("roomId")
		if roomID == "" {
			roomID = roomfile.DefaultRoomID
		}
		if !randx.IsValidRoomID(roomID) {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		displayName, safeName, customErr := roomfile.CleanFilename(header.Filename)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		uploadedAt := time.UnixMilli(time.Now().UnixMilli())
		key := storage.ObjectKey(roomID, safeName, uploadedAt)

		if err := deps.Assets.Put(r.Context(), key, file, header.Size, roomfile.ContentType(displayName)); err != nil {
			logx.Error(err, "Failed to store uploaded file", "room_id", roomID, "key", key)
			resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		rec := roomfile.NewRecord(key, displayName, uploadedAt)
		if err := deps.Files.RecordUpload(r.Context(), roomID, rec); err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
			return
		}

		logx.Info("File uploaded", "room_id", roomID, "key", key, "size", header.Size)

		deps.publishRoom(roomID, event.FileUploaded, rec.Payload())

		resp.RespondSuccess(w, r, rec.Payload())
	}
}

// HandleRoomFile returns the room's current file.
func HandleRoomFile(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := r.URL.Query().Get("roomId")
		if roomID == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrRoomIDRequired))
			return
		}

		rec, err := deps.Files.Lookup(r.Context(), roomID)
		if err != nil {
			if errors.Is(err, roomfile.ErrNotFound) {
				resp.RespondError(w, r, errs.NewError(errs.ErrRoomFileNotFound))
				return
			}
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
			return
		}

		resp.RespondSuccess(w, r, rec.Payload())
	}
}

// HandleDownload serves a stored asset. Stores that can presign answer with a redirect to
// a time-limited URL; the rest are streamed.
func HandleDownload(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "roomId") + "/" + chi.URLParam(r, "name")

		if _, _, _, ok := storage.ParseObjectKey(key); !ok {
			resp.RespondError(w, r, errs.NewError(errs.ErrAssetNotFound))
			return
		}

		if presigner, ok := deps.Assets.(storage.Presigner); ok {
			url, err := presigner.PresignDownload(r.Context(), key, PresignedURLDuration)
			if err != nil {
				logx.Error(err, "Failed to presign download", "key", key)
				resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
				return
			}

			http.Redirect(w, r, url, http.StatusFound)
			return
		}

		body, obj, err := deps.Assets.Open(r.Context(), key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidKey) {
				resp.RespondError(w, r, errs.NewError(errs.ErrAssetNotFound))
				return
			}
			logx.Error(err, "Failed to open stored file", "key", key)
			resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
			return
		}
		defer body.Close()

		contentType := obj.ContentType
		if contentType == "" {
			contentType = roomfile.DefaultContentType
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("X-Content-Type-Options", "nosniff")

		if rs, ok := body.(io.ReadSeeker); ok {
			http.ServeContent(w, r, obj.Key, obj.LastModified, rs)
			return
		}

		if obj.Size > 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
		}
		if _, err := io.Copy(w, body); err != nil {
			logx.Debug("Download aborted", "key", key, "error", err.Error())
		}
	}
}
