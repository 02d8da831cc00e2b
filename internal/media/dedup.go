package media

import (
	"context"
	"errors"
	"log/slog"

	"github.com/chatvault/chatvault/internal/record"
	"github.com/chatvault/chatvault/internal/storage"
)

// RecordFinder is the subset of the record repository the detector needs.
type RecordFinder interface {
	FindByFileUniqueID(ctx context.Context, fileUniqueID string) (*record.MessageRecord, error)
	FindByPlatformMessage(ctx context.Context, chatID, platformMessageID int64) (*record.MessageRecord, error)
}

// CheckResult describes the outcome of a duplicate probe.
type CheckResult struct {
	// Exists is true when a record already claims this file identity.
	Exists bool
	// Record is the existing record, when one was found.
	Record *record.MessageRecord
	// StoragePath is the canonical object key for the file identity,
	// whether or not an object is present there.
	StoragePath string
	// ObjectPresent is true when the backing store holds an object at
	// StoragePath. A record without an object means the earlier transfer
	// never finished and the file should be fetched again.
	ObjectPresent bool
}

// Detector answers "have we seen this file before" using two levels of
// evidence: the record store and the object store. A record alone is not
// enough to skip a transfer.
type Detector struct {
	records RecordFinder
	backend storage.Backend
	logger  *slog.Logger
}

// NewDetector creates a duplicate detector.
func NewDetector(log *slog.Logger, records RecordFinder, backend storage.Backend) *Detector {
	if log == nil {
		log = slog.Default()
	}
	return &Detector{
		records: records,
		backend: backend,
		logger:  log.With(slog.String("service", "dedup")),
	}
}

// Check probes both levels for the given file identity. declaredMime is
// used to derive the canonical object key when no record exists yet.
func (d *Detector) Check(ctx context.Context, fileUniqueID, declaredMime string) (CheckResult, error) {
	res := CheckResult{}

	rec, err := d.records.FindByFileUniqueID(ctx, fileUniqueID)
	switch {
	case err == nil:
		res.Exists = true
		res.Record = rec
		res.StoragePath = rec.StoragePath
	case errors.Is(err, record.ErrNotFound):
		// No record. Fall through to the storage probe on the derived key.
	default:
		return res, err
	}

	if res.StoragePath == "" {
		res.StoragePath = ResolvePath(fileUniqueID, declaredMime)
	}

	present, err := d.backend.Exists(ctx, res.StoragePath)
	if err != nil {
		d.logger.Warn("storage existence probe failed",
			slog.String("file_unique_id", fileUniqueID),
			slog.String("path", res.StoragePath),
			slog.String("error", err.Error()))
		return res, err
	}
	res.ObjectPresent = present
	return res, nil
}

// CheckDuplicateMessage reports whether the exact platform message was
// already ingested, which catches webhook redeliveries.
func (d *Detector) CheckDuplicateMessage(ctx context.Context, chatID, platformMessageID int64) (*record.MessageRecord, error) {
	rec, err := d.records.FindByPlatformMessage(ctx, chatID, platformMessageID)
	if errors.Is(err, record.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}
