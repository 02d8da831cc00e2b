package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/chatvault/chatvault/internal/storage"
)

var validate = validator.New()

const (
	stageDescribe = "describe"
	stageDownload = "download"
	stageUpload   = "upload"

	// mediaCacheControl is applied to every stored object; content-addressed
	// keys never change their bytes, so long-lived caching is safe.
	mediaCacheControl = "public, max-age=31536000, immutable"
)

// EngineConfig bounds the retry behavior of the transfer engine.
type EngineConfig struct {
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	AttemptTimeout time.Duration
}

// Engine downloads a file from the source platform and uploads it to the
// storage backend with bounded retry and explicit expired-handle handling.
type Engine struct {
	source  FileSource
	backend storage.Backend
	logger  *slog.Logger
	cfg     EngineConfig

	// sleep and jitter are seams for tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(d time.Duration) time.Duration
}

// NewEngine creates a transfer engine.
func NewEngine(log *slog.Logger, source FileSource, backend storage.Backend, cfg EngineConfig) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 8 * time.Second
	}
	return &Engine{
		source:  source,
		backend: backend,
		logger:  log.With(slog.String("service", "transfer")),
		cfg:     cfg,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
		jitter: func(d time.Duration) time.Duration {
			return d + time.Duration(rand.Int64N(int64(d)/4+1))
		},
	}
}

// Transfer resolves the file handle, downloads the bytes, and uploads them
// under the deterministic storage path. AttemptsMade counts the attempts of
// the phase that decided the outcome.
func (e *Engine) Transfer(ctx context.Context, content Content) TransferResult {
	if err := validate.Struct(content); err != nil {
		return TransferResult{
			Class: ClassFatal,
			Err:   fmt.Errorf("%w: %v", ErrValidation, err),
		}
	}

	var location FileLocation
	attempts, err := e.withRetry(ctx, stageDescribe, func(ctx context.Context) error {
		var describeErr error
		location, describeErr = e.source.DescribeFile(ctx, content.FileHandle)
		return describeErr
	})
	if err != nil {
		return e.failure(content, stageDescribe, attempts, err)
	}

	var payload []byte
	var transportMime string
	attempts, err = e.withRetry(ctx, stageDownload, func(ctx context.Context) error {
		var downloadErr error
		payload, transportMime, downloadErr = e.source.Download(ctx, location)
		return downloadErr
	})
	if err != nil {
		return e.failure(content, stageDownload, attempts, err)
	}

	mimeType := e.resolveMime(transportMime, content, location)
	storagePath := ResolvePath(content.FileUniqueID, mimeType)

	disposition := storage.DispositionAttachment
	if IsInlineViewable(mimeType) {
		disposition = storage.DispositionInline
	}
	attempts, err = e.withRetry(ctx, stageUpload, func(ctx context.Context) error {
		return e.backend.Upload(ctx, storagePath, bytes.NewReader(payload), storage.PutOptions{
			ContentType:  mimeType,
			Disposition:  disposition,
			CacheControl: mediaCacheControl,
		})
	})
	if err != nil {
		return e.failure(content, stageUpload, attempts, err)
	}

	e.logger.Info("transfer complete",
		slog.String("file_unique_id", content.FileUniqueID),
		slog.String("storage_path", storagePath),
		slog.String("mime_type", mimeType),
		slog.Int("bytes", len(payload)),
	)
	return TransferResult{
		OK:           true,
		StoragePath:  storagePath,
		MimeType:     mimeType,
		PublicURL:    e.backend.PublicURL(storagePath),
		AttemptsMade: attempts,
		Class:        ClassOK,
	}
}

// resolveMime applies the fallback chain: transport content type unless
// generic, then the declared MIME from the message, then extension-based
// inference from the resolved location, then the photo/document default.
func (e *Engine) resolveMime(transportMime string, content Content, location FileLocation) string {
	if !IsGenericMime(transportMime) {
		return transportMime
	}
	if !IsGenericMime(content.DeclaredMime) {
		return content.DeclaredMime
	}
	if inferred := MimeFromLocation(location); inferred != "" {
		return inferred
	}
	if content.Kind == KindPhoto {
		return PhotoMime
	}
	return "application/octet-stream"
}

// withRetry runs fn up to MaxAttempts times with capped exponential
// backoff and jitter between attempts. An expired handle stops the loop
// immediately; it is a permanent condition, not a transient one.
func (e *Engine) withRetry(ctx context.Context, stage string, fn func(ctx context.Context) error) (int, error) {
	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, e.backoffDelay(attempt)); err != nil {
				return attempt, err
			}
		}
		attemptCtx := ctx
		cancel := func() {}
		if e.cfg.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, e.cfg.AttemptTimeout)
		}
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return attempt + 1, nil
		}
		lastErr = err
		if errors.Is(err, ErrHandleExpired) || !isRetryable(err) {
			return attempt + 1, err
		}
		if ctx.Err() != nil {
			return attempt + 1, err
		}
		e.logger.Warn("attempt failed",
			slog.String("stage", stage),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err),
		)
	}
	return e.cfg.MaxAttempts, lastErr
}

func (e *Engine) backoffDelay(attempt int) time.Duration {
	delay := e.cfg.BackoffBase << (attempt - 1)
	if delay > e.cfg.BackoffCap {
		delay = e.cfg.BackoffCap
	}
	return e.jitter(delay)
}

// isRetryable reports whether another attempt could change the outcome.
// Rejected requests, storage path violations, and caller cancellation
// stay failed no matter how often they are retried.
func isRetryable(err error) bool {
	return !errors.Is(err, ErrPermanent) &&
		!errors.Is(err, storage.ErrPathTraversal) &&
		!errors.Is(err, context.Canceled)
}

func (e *Engine) failure(content Content, stage string, attempts int, err error) TransferResult {
	class := ClassTransient
	switch {
	case errors.Is(err, ErrHandleExpired):
		class = ClassHandleExpired
	case !isRetryable(err):
		class = ClassFatal
	}
	e.logger.Warn("transfer failed",
		slog.String("file_unique_id", content.FileUniqueID),
		slog.String("stage", stage),
		slog.String("class", string(class)),
		slog.Int("attempts", attempts),
		slog.Any("error", err),
	)
	return TransferResult{
		AttemptsMade: attempts,
		Class:        class,
		Err:          fmt.Errorf("%s %s: %w", stage, content.FileUniqueID, err),
	}
}
