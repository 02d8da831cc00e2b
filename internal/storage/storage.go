// Package storage abstracts the object storage backend that holds
// transferred media bytes.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrPathTraversal indicates a storage key attempted directory traversal.
var ErrPathTraversal = errors.New("path traversal is forbidden")

// Disposition controls how browsers render a stored object.
type Disposition string

const (
	DispositionInline     Disposition = "inline"
	DispositionAttachment Disposition = "attachment"
)

// PutOptions carries object metadata applied at upload time.
type PutOptions struct {
	ContentType  string
	Disposition  Disposition
	CacheControl string
}

// Backend abstracts object storage operations.
type Backend interface {
	// Upload writes data to storage under the given key.
	Upload(ctx context.Context, key string, reader io.Reader, opts PutOptions) error
	// Exists reports whether an object is present at key.
	Exists(ctx context.Context, key string) (bool, error)
	// Open returns a reader for the given storage key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object at key.
	Delete(ctx context.Context, key string) error
	// PublicURL returns a consumer-accessible URL for a storage key.
	PublicURL(key string) string
}
