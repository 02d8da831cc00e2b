// Package media implements the media ingestion pipeline: content
// extraction from inbound messages, MIME and storage-path resolution,
// duplicate detection, and the download/upload transfer engine.
package media

import (
	"context"
)

// Kind classifies the media attached to a message.
type Kind string

const (
	KindPhoto    Kind = "photo"
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
)

// Content is the normalized descriptor of the media carried by one
// inbound message. FileUniqueID is the stable content identifier and the
// sole deduplication key; FileHandle is the short-lived retrieval token
// and may expire independently.
type Content struct {
	FileUniqueID    string `validate:"required"`
	FileHandle      string `validate:"required"`
	Kind            Kind   `validate:"required,oneof=photo video document"`
	Width           int
	Height          int
	DurationSeconds int
	DeclaredMime    string
	DeclaredSize    int64
	FileName        string
}

// ErrorClass classifies the outcome of a transfer attempt.
type ErrorClass string

const (
	ClassOK            ErrorClass = "ok"
	ClassHandleExpired ErrorClass = "handle_expired"
	ClassTransient     ErrorClass = "transient"
	ClassFatal         ErrorClass = "fatal"
)

// TransferResult is the outcome of one download+upload run.
type TransferResult struct {
	OK           bool
	StoragePath  string
	MimeType     string
	PublicURL    string
	AttemptsMade int
	Class        ErrorClass
	Err          error
}

// FileLocation is the resolved retrieval location for a file handle.
type FileLocation struct {
	// Path is the platform-relative retrieval path; its filename carries
	// an extension usable for MIME inference.
	Path string
}

// FileSource is the source platform's file API.
type FileSource interface {
	// DescribeFile resolves a short-lived file handle to a retrieval
	// location. An invalid or expired handle yields ErrHandleExpired.
	DescribeFile(ctx context.Context, handle string) (FileLocation, error)
	// Download fetches the file bytes and reports the transport's
	// declared content type (may be empty or generic).
	Download(ctx context.Context, location FileLocation) ([]byte, string, error)
}
