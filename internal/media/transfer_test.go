package media

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/chatvault/chatvault/internal/storage"
)

type fakeSource struct {
	describeCalls int
	describeFn    func(call int) (FileLocation, error)
	downloadCalls int
	downloadFn    func(call int) ([]byte, string, error)
}

func (f *fakeSource) DescribeFile(_ context.Context, _ string) (FileLocation, error) {
	f.describeCalls++
	return f.describeFn(f.describeCalls)
}

func (f *fakeSource) Download(_ context.Context, _ FileLocation) ([]byte, string, error) {
	f.downloadCalls++
	if f.downloadFn == nil {
		return []byte("payload"), "", nil
	}
	return f.downloadFn(f.downloadCalls)
}

type fakeBackend struct {
	uploadCalls int
	uploadFn    func(call int) error
	existsFn    func(key string) (bool, error)
	uploads     map[string]storage.PutOptions
}

func (f *fakeBackend) Upload(_ context.Context, key string, _ io.Reader, opts storage.PutOptions) error {
	f.uploadCalls++
	if f.uploadFn != nil {
		if err := f.uploadFn(f.uploadCalls); err != nil {
			return err
		}
	}
	if f.uploads == nil {
		f.uploads = map[string]storage.PutOptions{}
	}
	f.uploads[key] = opts
	return nil
}

func (f *fakeBackend) Exists(_ context.Context, key string) (bool, error) {
	if f.existsFn != nil {
		return f.existsFn(key)
	}
	_, ok := f.uploads[key]
	return ok, nil
}

func (f *fakeBackend) Open(_ context.Context, _ string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBackend) Delete(_ context.Context, _ string) error { return nil }

func (f *fakeBackend) PublicURL(key string) string { return "https://cdn.test/" + key }

func newTestEngine(t *testing.T, source FileSource, backend storage.Backend) *Engine {
	t.Helper()
	engine := NewEngine(nil, source, backend, EngineConfig{MaxAttempts: 3})
	engine.sleep = func(context.Context, time.Duration) error { return nil }
	engine.jitter = func(d time.Duration) time.Duration { return d }
	return engine
}

func testContent() Content {
	return Content{
		FileUniqueID: "abc123",
		FileHandle:   "handle-1",
		Kind:         KindPhoto,
		DeclaredMime: PhotoMime,
	}
}

func TestTransferRetryCeiling(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		describeFn: func(int) (FileLocation, error) {
			return FileLocation{}, errors.New("connection reset")
		},
	}
	engine := newTestEngine(t, source, &fakeBackend{})

	result := engine.Transfer(context.Background(), testContent())
	if result.OK {
		t.Fatal("expected failure")
	}
	if result.Class != ClassTransient {
		t.Fatalf("unexpected class: %s", result.Class)
	}
	if result.AttemptsMade != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", result.AttemptsMade)
	}
	if source.describeCalls != 3 {
		t.Fatalf("expected 3 describe calls, got %d", source.describeCalls)
	}
}

func TestTransferExpiredHandleShortCircuits(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		describeFn: func(int) (FileLocation, error) {
			return FileLocation{}, ErrHandleExpired
		},
	}
	engine := newTestEngine(t, source, &fakeBackend{})

	result := engine.Transfer(context.Background(), testContent())
	if result.Class != ClassHandleExpired {
		t.Fatalf("unexpected class: %s", result.Class)
	}
	if result.AttemptsMade >= 3 {
		t.Fatalf("expected short-circuit below the ceiling, got %d attempts", result.AttemptsMade)
	}
	if !errors.Is(result.Err, ErrHandleExpired) {
		t.Fatalf("expected wrapped ErrHandleExpired, got %v", result.Err)
	}
}

func TestTransferPermanentRejectionIsFatal(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		describeFn: func(int) (FileLocation, error) {
			return FileLocation{Path: "photos/file_3.jpg"}, nil
		},
		downloadFn: func(int) ([]byte, string, error) {
			return nil, "", ErrPermanent
		},
	}
	engine := newTestEngine(t, source, &fakeBackend{})

	result := engine.Transfer(context.Background(), testContent())
	if result.Class != ClassFatal {
		t.Fatalf("unexpected class: %s", result.Class)
	}
	if source.downloadCalls != 1 {
		t.Fatalf("permanent failure was retried: %d calls", source.downloadCalls)
	}
	if !errors.Is(result.Err, ErrPermanent) {
		t.Fatalf("expected wrapped ErrPermanent, got %v", result.Err)
	}
}

func TestTransferPathTraversalIsFatal(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		describeFn: func(int) (FileLocation, error) {
			return FileLocation{Path: "photos/file_4.jpg"}, nil
		},
	}
	backend := &fakeBackend{
		uploadFn: func(int) error { return storage.ErrPathTraversal },
	}
	engine := newTestEngine(t, source, backend)

	result := engine.Transfer(context.Background(), testContent())
	if result.Class != ClassFatal {
		t.Fatalf("unexpected class: %s", result.Class)
	}
	if backend.uploadCalls != 1 {
		t.Fatalf("traversal rejection was retried: %d calls", backend.uploadCalls)
	}
}

func TestTransferMimeFallbackChain(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		describeFn: func(int) (FileLocation, error) {
			return FileLocation{Path: "videos/file_42"}, nil
		},
		downloadFn: func(int) ([]byte, string, error) {
			return []byte("bytes"), "application/octet-stream", nil
		},
	}
	backend := &fakeBackend{}
	engine := newTestEngine(t, source, backend)

	content := Content{
		FileUniqueID: "vid1",
		FileHandle:   "handle-2",
		Kind:         KindVideo,
		DeclaredMime: "video/mp4",
	}
	result := engine.Transfer(context.Background(), content)
	if !result.OK {
		t.Fatalf("transfer failed: %v", result.Err)
	}
	if result.MimeType != "video/mp4" {
		t.Fatalf("expected declared mime to win, got %s", result.MimeType)
	}
	if result.StoragePath != "vid1.mp4" {
		t.Fatalf("unexpected storage path: %s", result.StoragePath)
	}
	opts := backend.uploads["vid1.mp4"]
	if opts.Disposition != storage.DispositionInline {
		t.Fatalf("expected inline disposition, got %s", opts.Disposition)
	}
}

func TestTransferMimeFromLocationExtension(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		describeFn: func(int) (FileLocation, error) {
			return FileLocation{Path: "documents/file_7.pdf"}, nil
		},
		downloadFn: func(int) ([]byte, string, error) {
			return []byte("bytes"), "", nil
		},
	}
	engine := newTestEngine(t, source, &fakeBackend{})

	content := Content{FileUniqueID: "doc1", FileHandle: "h", Kind: KindDocument}
	result := engine.Transfer(context.Background(), content)
	if !result.OK {
		t.Fatalf("transfer failed: %v", result.Err)
	}
	if result.MimeType != "application/pdf" {
		t.Fatalf("expected extension inference, got %s", result.MimeType)
	}
}

func TestTransferUploadRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		describeFn: func(int) (FileLocation, error) {
			return FileLocation{Path: "photos/file_9.jpg"}, nil
		},
	}
	backend := &fakeBackend{
		uploadFn: func(call int) error {
			if call == 1 {
				return errors.New("upstream 503")
			}
			return nil
		},
	}
	engine := newTestEngine(t, source, backend)

	result := engine.Transfer(context.Background(), testContent())
	if !result.OK {
		t.Fatalf("transfer failed: %v", result.Err)
	}
	if result.AttemptsMade != 2 {
		t.Fatalf("expected 2 upload attempts, got %d", result.AttemptsMade)
	}
	if result.PublicURL != "https://cdn.test/abc123.jpeg" {
		t.Fatalf("unexpected public url: %s", result.PublicURL)
	}
}

func TestTransferRejectsMissingIdentifiers(t *testing.T) {
	t.Parallel()

	source := &fakeSource{describeFn: func(int) (FileLocation, error) {
		t.Fatal("describe must not be called")
		return FileLocation{}, nil
	}}
	engine := newTestEngine(t, source, &fakeBackend{})

	result := engine.Transfer(context.Background(), Content{Kind: KindPhoto})
	if result.Class != ClassFatal {
		t.Fatalf("unexpected class: %s", result.Class)
	}
	if !errors.Is(result.Err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", result.Err)
	}
}
