// Package ingest coordinates the media ingestion pipeline: one
// orchestrator invocation per inbound message, composing extraction,
// duplicate detection, transfer, persistence, edit tracking, and
// media-group synchronization.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/chatvault/chatvault/internal/audit"
	"github.com/chatvault/chatvault/internal/media"
	"github.com/chatvault/chatvault/internal/record"
)

// Transferer runs the download+upload cycle for one media content.
type Transferer interface {
	Transfer(ctx context.Context, content media.Content) media.TransferResult
}

// Deduplicator probes for prior ingestion of a file or message.
type Deduplicator interface {
	Check(ctx context.Context, fileUniqueID, declaredMime string) (media.CheckResult, error)
	CheckDuplicateMessage(ctx context.Context, chatID, platformMessageID int64) (*record.MessageRecord, error)
}

// EditTracker appends history entries when record content changes.
type EditTracker interface {
	RecordEdits(ctx context.Context, rec *record.MessageRecord, next record.Snapshot) (bool, error)
}

// GroupScheduler defers media-group caption convergence.
type GroupScheduler interface {
	Schedule(mediaGroupID string)
}

// Error is a pipeline failure carrying the correlation id of the
// failed invocation for cross-system lookup.
type Error struct {
	CorrelationID string
	Err           error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ingest failed (correlation %s): %v", e.CorrelationID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Result is the outcome of one orchestrator invocation.
type Result struct {
	Record        *record.MessageRecord
	TextRecord    *record.TextRecord
	Duplicate     bool
	CorrelationID string
}

// Orchestrator drives the pipeline for each inbound message. It holds
// no per-message state; every invocation is independent.
type Orchestrator struct {
	records  record.Repository
	texts    record.TextRepository
	transfer Transferer
	dedup    Deduplicator
	tracker  EditTracker
	groups   GroupScheduler
	sink     audit.Sink
	logger   *slog.Logger
	now      func() time.Time
}

// NewOrchestrator wires the pipeline. A nil sink disables auditing.
func NewOrchestrator(
	log *slog.Logger,
	records record.Repository,
	texts record.TextRepository,
	transfer Transferer,
	dedup Deduplicator,
	tracker EditTracker,
	groups GroupScheduler,
	sink audit.Sink,
) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Orchestrator{
		records:  records,
		texts:    texts,
		transfer: transfer,
		dedup:    dedup,
		tracker:  tracker,
		groups:   groups,
		sink:     sink,
		logger:   log.With(slog.String("service", "ingest")),
		now:      time.Now,
	}
}

// HandleMessage ingests one new inbound message. Media messages go
// through dedup and transfer; text-only messages are persisted as text
// records. Redelivered messages return the existing record unchanged.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg *tgbotapi.Message) (Result, error) {
	correlationID := uuid.NewString()
	res := Result{CorrelationID: correlationID}
	log := o.logger.With(
		slog.String("correlation_id", correlationID),
		slog.Int64("chat_id", msg.Chat.ID),
		slog.Int("message_id", msg.MessageID))

	content, hasMedia := media.ExtractContent(msg)
	if !hasMedia {
		if msg.Text == "" {
			return res, &Error{CorrelationID: correlationID, Err: media.ErrNoMedia}
		}
		return o.handleText(ctx, log, res, msg)
	}

	// Platform-level redelivery of the same webhook event.
	existing, err := o.dedup.CheckDuplicateMessage(ctx, msg.Chat.ID, int64(msg.MessageID))
	if err != nil {
		return res, &Error{CorrelationID: correlationID, Err: err}
	}
	if existing != nil {
		log.Info("message redelivered", slog.String("record_id", existing.ID))
		o.sink.Record(ctx, audit.Event{
			Type:          audit.EventDuplicate,
			EntityID:      existing.ID,
			CorrelationID: correlationID,
			Metadata:      map[string]any{"reason": "message_redelivery"},
		})
		res.Record = existing
		res.Duplicate = true
		return res, nil
	}

	check, err := o.dedup.Check(ctx, content.FileUniqueID, content.DeclaredMime)
	if err != nil {
		return res, &Error{CorrelationID: correlationID, Err: err}
	}

	switch {
	case check.Exists && check.ObjectPresent:
		// Same file delivered in a different message. Record the new
		// message as a duplicate marker pointing at the original; the
		// object is not transferred again.
		return o.insertDuplicate(ctx, log, res, msg, content, check.Record)

	case !check.Exists && check.ObjectPresent:
		// Object survived but its record was lost. Re-adopt it.
		log.Info("adopting orphaned object", slog.String("path", check.StoragePath))
		mimeType := media.MimeForExtension(path.Ext(check.StoragePath))
		if mimeType == "" {
			mimeType = content.DeclaredMime
		}
		return o.insertIngested(ctx, log, res, msg, content, media.TransferResult{
			OK:          true,
			StoragePath: check.StoragePath,
			MimeType:    mimeType,
			PublicURL:   "",
		})
	}

	// check.Exists && !check.ObjectPresent falls through: the earlier
	// transfer never finished, so run it again and update in place.
	outcome := o.transfer.Transfer(ctx, content)

	if check.Exists {
		return o.refreshExisting(ctx, log, res, check.Record, outcome)
	}

	switch outcome.Class {
	case media.ClassOK:
		return o.insertIngested(ctx, log, res, msg, content, outcome)

	case media.ClassHandleExpired:
		// Partial success: the caption and metadata are still usable, so
		// persist a record flagged for a later re-drive.
		rec := o.newRecord(msg, content)
		rec.State = record.StateError
		rec.NeedsRedownload = true
		rec.RedownloadReason = string(media.ClassHandleExpired)
		rec.RetryCount = outcome.AttemptsMade
		inserted, err := o.records.Insert(ctx, rec)
		if err != nil {
			return res, &Error{CorrelationID: correlationID, Err: err}
		}
		log.Warn("file handle expired, record flagged for redownload",
			slog.String("record_id", inserted.ID),
			slog.String("file_unique_id", content.FileUniqueID))
		o.sink.Record(ctx, audit.Event{
			Type:          audit.EventTransferFailed,
			EntityID:      inserted.ID,
			CorrelationID: correlationID,
			Metadata:      map[string]any{"class": string(outcome.Class), "attempts": outcome.AttemptsMade},
			ErrorMessage:  outcome.Err.Error(),
		})
		o.scheduleGroup(inserted.MediaGroupID)
		res.Record = &inserted
		return res, nil

	default:
		o.sink.Record(ctx, audit.Event{
			Type:          audit.EventTransferFailed,
			EntityID:      content.FileUniqueID,
			CorrelationID: correlationID,
			Metadata:      map[string]any{"class": string(outcome.Class), "attempts": outcome.AttemptsMade},
			ErrorMessage:  outcome.Err.Error(),
		})
		return res, &Error{CorrelationID: correlationID, Err: outcome.Err}
	}
}

func (o *Orchestrator) insertIngested(ctx context.Context, log *slog.Logger, res Result, msg *tgbotapi.Message, content media.Content, outcome media.TransferResult) (Result, error) {
	rec := o.newRecord(msg, content)
	rec.StoragePath = outcome.StoragePath
	rec.PublicURL = outcome.PublicURL
	rec.MimeType = outcome.MimeType
	rec.State = record.InitialState(rec.Caption != "")

	inserted, err := o.records.Insert(ctx, rec)
	if err != nil {
		return res, &Error{CorrelationID: res.CorrelationID, Err: err}
	}
	log.Info("media ingested",
		slog.String("record_id", inserted.ID),
		slog.String("file_unique_id", inserted.FileUniqueID),
		slog.String("storage_path", inserted.StoragePath),
		slog.String("state", string(inserted.State)))
	o.sink.Record(ctx, audit.Event{
		Type:          audit.EventIngested,
		EntityID:      inserted.ID,
		CorrelationID: res.CorrelationID,
		Metadata: map[string]any{
			"file_unique_id": inserted.FileUniqueID,
			"storage_path":   inserted.StoragePath,
			"media_kind":     inserted.MediaKind,
		},
	})
	o.scheduleGroup(inserted.MediaGroupID)
	res.Record = &inserted
	return res, nil
}

func (o *Orchestrator) insertDuplicate(ctx context.Context, log *slog.Logger, res Result, msg *tgbotapi.Message, content media.Content, original *record.MessageRecord) (Result, error) {
	rec := o.newRecord(msg, content)
	rec.StoragePath = original.StoragePath
	rec.PublicURL = original.PublicURL
	rec.MimeType = original.MimeType
	rec.IsDuplicateOf = original.ID
	rec.State = record.InitialState(rec.Caption != "")

	inserted, err := o.records.Insert(ctx, rec)
	if err != nil {
		return res, &Error{CorrelationID: res.CorrelationID, Err: err}
	}
	log.Info("duplicate file detected",
		slog.String("record_id", inserted.ID),
		slog.String("original_id", original.ID),
		slog.String("file_unique_id", content.FileUniqueID))
	o.sink.Record(ctx, audit.Event{
		Type:          audit.EventDuplicate,
		EntityID:      inserted.ID,
		CorrelationID: res.CorrelationID,
		Metadata:      map[string]any{"original_id": original.ID, "reason": "file_content"},
	})
	o.scheduleGroup(inserted.MediaGroupID)
	res.Record = &inserted
	res.Duplicate = true
	return res, nil
}

// refreshExisting re-runs the transfer for a record whose object went
// missing and patches the outcome in.
func (o *Orchestrator) refreshExisting(ctx context.Context, log *slog.Logger, res Result, rec *record.MessageRecord, outcome media.TransferResult) (Result, error) {
	switch outcome.Class {
	case media.ClassOK:
		patch := record.Patch{
			StoragePath:      record.Ptr(outcome.StoragePath),
			PublicURL:        record.Ptr(outcome.PublicURL),
			MimeType:         record.Ptr(outcome.MimeType),
			NeedsRedownload:  record.Ptr(false),
			RedownloadReason: record.Ptr(""),
		}
		if err := o.records.Update(ctx, rec.ID, patch); err != nil {
			return res, &Error{CorrelationID: res.CorrelationID, Err: err}
		}
		rec.StoragePath = outcome.StoragePath
		rec.PublicURL = outcome.PublicURL
		rec.MimeType = outcome.MimeType
		rec.NeedsRedownload = false
		rec.RedownloadReason = ""
		log.Info("missing object restored", slog.String("record_id", rec.ID))
		res.Record = rec
		res.Duplicate = true
		return res, nil

	case media.ClassHandleExpired:
		patch := record.Patch{
			State:            record.Ptr(record.StateError),
			NeedsRedownload:  record.Ptr(true),
			RedownloadReason: record.Ptr(string(media.ClassHandleExpired)),
			RetryCount:       record.Ptr(rec.RetryCount + outcome.AttemptsMade),
		}
		if err := o.records.Update(ctx, rec.ID, patch); err != nil {
			return res, &Error{CorrelationID: res.CorrelationID, Err: err}
		}
		rec.State = record.StateError
		rec.NeedsRedownload = true
		rec.RedownloadReason = string(media.ClassHandleExpired)
		res.Record = rec
		res.Duplicate = true
		return res, nil

	default:
		return res, &Error{CorrelationID: res.CorrelationID, Err: outcome.Err}
	}
}

func (o *Orchestrator) handleText(ctx context.Context, log *slog.Logger, res Result, msg *tgbotapi.Message) (Result, error) {
	existing, err := o.texts.FindTextByPlatformMessage(ctx, msg.Chat.ID, int64(msg.MessageID))
	if err != nil && !errors.Is(err, record.ErrNotFound) {
		return res, &Error{CorrelationID: res.CorrelationID, Err: err}
	}
	if existing != nil {
		res.TextRecord = existing
		res.Duplicate = true
		return res, nil
	}

	inserted, err := o.texts.InsertText(ctx, record.TextRecord{
		PlatformMessageID: int64(msg.MessageID),
		ChatID:            msg.Chat.ID,
		Content:           msg.Text,
		EditHistory:       []record.EditHistoryEntry{},
	})
	if err != nil {
		return res, &Error{CorrelationID: res.CorrelationID, Err: err}
	}
	log.Info("text ingested", slog.String("record_id", inserted.ID))
	o.sink.Record(ctx, audit.Event{
		Type:          audit.EventTextIngested,
		EntityID:      inserted.ID,
		CorrelationID: res.CorrelationID,
	})
	res.TextRecord = &inserted
	return res, nil
}

func (o *Orchestrator) newRecord(msg *tgbotapi.Message, content media.Content) record.MessageRecord {
	return record.MessageRecord{
		PlatformMessageID: int64(msg.MessageID),
		ChatID:            msg.Chat.ID,
		FileUniqueID:      content.FileUniqueID,
		FileHandle:        content.FileHandle,
		MediaKind:         string(content.Kind),
		Caption:           msg.Caption,
		MediaGroupID:      msg.MediaGroupID,
		EditHistory:       []record.EditHistoryEntry{},
	}
}

func (o *Orchestrator) scheduleGroup(mediaGroupID string) {
	if mediaGroupID != "" && o.groups != nil {
		o.groups.Schedule(mediaGroupID)
	}
}
