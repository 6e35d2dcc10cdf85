/*
Package errs provides custom error types and application-level error code constants.

These error codes identify specific business or system errors both internally within the
server and in HTTP responses sent to viewer clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect (e.g., syntax error).
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrFormParseFailed indicates failure to parse multipart or URL-encoded form data.
	ErrFormParseFailed = 1005

	// ErrRequestEntityTooLarge indicates that the request body size exceeded the server limit.
	ErrRequestEntityTooLarge = 1006

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007
)

// 2xxx: Room and File Errors
const (
	// ErrRoomIDRequired indicates that a room-scoped request did not name a room.
	ErrRoomIDRequired = 2101

	// ErrRoomFileNotFound indicates that no file has been uploaded to the room (or it was torn down).
	ErrRoomFileNotFound = 2102

	// ErrNoFileUploaded indicates that an upload request carried no file part.
	ErrNoFileUploaded = 2201

	// ErrFileSizeTooLarge indicates that the uploaded model exceeds the configured size limit.
	ErrFileSizeTooLarge = 2202

	// ErrFileNameInvalid indicates that the uploaded file name is empty or unusable as a storage key.
	ErrFileNameInvalid = 2203

	// ErrAssetNotFound indicates that a download referenced a stored asset that does not exist.
	ErrAssetNotFound = 2204
)

// 3xxx: Relay Errors
const (
	// ErrPublishFieldsMissing indicates that a relay trigger request lacked channel, event or data.
	ErrPublishFieldsMissing = 3001

	// ErrEventNotAllowed indicates that a relay trigger named an event outside the presence protocol.
	ErrEventNotAllowed = 3002

	// ErrRelayUnavailable indicates that the relay is not configured on this deployment.
	ErrRelayUnavailable = 3003

	// ErrRelayKeyInvalid indicates that a relay subscription presented the wrong application key.
	ErrRelayKeyInvalid = 3004

	// ErrEventPayloadTooLarge indicates that a relay trigger's event would not fit in one frame.
	ErrEventPayloadTooLarge = 3005
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrFileStorageFailed indicates that the asset store rejected a write or read.
	ErrFileStorageFailed = 5001

	// ErrRelayPublishFailed indicates that the relay could not accept the event.
	ErrRelayPublishFailed = 5002
)
