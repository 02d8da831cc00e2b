package media

import "errors"

var (
	// ErrHandleExpired indicates the source file handle no longer resolves.
	// It is not retried inline; the record is flagged for a later re-drive.
	ErrHandleExpired = errors.New("file handle expired")
	// ErrNoMedia indicates the inbound message carries no media attachment.
	ErrNoMedia = errors.New("no media present")
	// ErrValidation indicates required identifiers are missing; rejected
	// before any network call.
	ErrValidation = errors.New("media content validation failed")
	// ErrPermanent marks a failure that no retry can recover, such as a
	// rejected request. Wrapping it skips the remaining attempts.
	ErrPermanent = errors.New("permanent transfer failure")
)
