/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to standardize
HTTP responses and internal error handling.
*/
package errs

import "net/http"

// errorMap stores the CustomError template for every application error code.
// Entries without an explicit Status are client errors (HTTP 400).
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:         {Code: ErrInvalidParams, Message: "Invalid request parameters."},
	ErrUnsupportedMediaType:  {Code: ErrUnsupportedMediaType, Message: "Unsupported request format.", Status: http.StatusUnsupportedMediaType},
	ErrInvalidJSONFormat:     {Code: ErrInvalidJSONFormat, Message: "Unsupported request format."},
	ErrExtraContentInBody:    {Code: ErrExtraContentInBody, Message: "Request contains unexpected data."},
	ErrFormParseFailed:       {Code: ErrFormParseFailed, Message: "Failed to process uploaded data."},
	ErrRequestEntityTooLarge: {Code: ErrRequestEntityTooLarge, Message: "Request size is too large.", Status: http.StatusRequestEntityTooLarge},
	ErrRateLimitExceeded:     {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx: Room and File Errors
	ErrRoomIDRequired:   {Code: ErrRoomIDRequired, Message: "roomId required"},
	ErrRoomFileNotFound: {Code: ErrRoomFileNotFound, Message: "No file found for this room.", Status: http.StatusNotFound},
	ErrNoFileUploaded:   {Code: ErrNoFileUploaded, Message: "No file uploaded"},
	ErrFileSizeTooLarge: {Code: ErrFileSizeTooLarge, Message: "File is too large (limit %d MB).", Status: http.StatusRequestEntityTooLarge},
	ErrFileNameInvalid:  {Code: ErrFileNameInvalid, Message: "Invalid file name."},
	ErrAssetNotFound:    {Code: ErrAssetNotFound, Message: "File not found", Status: http.StatusNotFound},

	// 3xxx: Relay Errors
	ErrPublishFieldsMissing: {Code: ErrPublishFieldsMissing, Message: "Missing channel, event, or data"},
	ErrEventNotAllowed:      {Code: ErrEventNotAllowed, Message: "Event %q is not part of the presence protocol."},
	ErrRelayUnavailable:     {Code: ErrRelayUnavailable, Message: "Real-time relay is not configured.", Status: http.StatusServiceUnavailable},
	ErrRelayKeyInvalid:      {Code: ErrRelayKeyInvalid, Message: "Unknown relay application key.", Status: http.StatusUnauthorized},
	ErrEventPayloadTooLarge: {Code: ErrEventPayloadTooLarge, Message: "Event payload is too large.", Status: http.StatusRequestEntityTooLarge},

	// 5xxx: Internal System Errors
	ErrUnknown:            {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrFileStorageFailed:  {Code: ErrFileStorageFailed, Message: "Upload failed", Status: http.StatusInternalServerError},
	ErrRelayPublishFailed: {Code: ErrRelayPublishFailed, Message: "Failed to trigger event", Status: http.StatusInternalServerError},
}
