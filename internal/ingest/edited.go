package ingest

import (
	"context"
	"errors"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/chatvault/chatvault/internal/audit"
	"github.com/chatvault/chatvault/internal/media"
	"github.com/chatvault/chatvault/internal/record"
)

// HandleEditedMessage processes an edit to a previously delivered
// message: caption changes, media replacement, and cross-kind
// transitions between media and text. Edits to messages never seen
// before fall back to fresh ingestion.
func (o *Orchestrator) HandleEditedMessage(ctx context.Context, msg *tgbotapi.Message) (Result, error) {
	correlationID := uuid.NewString()
	res := Result{CorrelationID: correlationID}
	log := o.logger.With(
		slog.String("correlation_id", correlationID),
		slog.Int64("chat_id", msg.Chat.ID),
		slog.Int("message_id", msg.MessageID))

	content, hasMedia := media.ExtractContent(msg)

	rec, err := o.records.FindByPlatformMessage(ctx, msg.Chat.ID, int64(msg.MessageID))
	if err != nil && !errors.Is(err, record.ErrNotFound) {
		return res, &Error{CorrelationID: correlationID, Err: err}
	}
	if rec != nil {
		if hasMedia {
			return o.editMediaRecord(ctx, log, res, rec, msg, content)
		}
		return o.editMediaToText(ctx, log, res, rec, msg)
	}

	text, err := o.texts.FindTextByPlatformMessage(ctx, msg.Chat.ID, int64(msg.MessageID))
	if err != nil && !errors.Is(err, record.ErrNotFound) {
		return res, &Error{CorrelationID: correlationID, Err: err}
	}
	if text != nil {
		if hasMedia {
			return o.editTextToMedia(ctx, log, res, text, msg, content)
		}
		return o.editTextRecord(ctx, log, res, text, msg)
	}

	// Never seen this message. Treat the edit as the first delivery.
	log.Info("edit for unknown message, ingesting as new")
	return o.HandleMessage(ctx, msg)
}

// editMediaRecord applies a media or caption edit to an existing media
// record. A changed file identity triggers a fresh transfer for the new
// object before the history entry is written.
func (o *Orchestrator) editMediaRecord(ctx context.Context, log *slog.Logger, res Result, rec *record.MessageRecord, msg *tgbotapi.Message, content media.Content) (Result, error) {
	if content.FileUniqueID != rec.FileUniqueID {
		outcome := o.transfer.Transfer(ctx, content)
		if outcome.Class != media.ClassOK {
			o.sink.Record(ctx, audit.Event{
				Type:          audit.EventTransferFailed,
				EntityID:      rec.ID,
				CorrelationID: res.CorrelationID,
				Metadata:      map[string]any{"class": string(outcome.Class), "reason": "media_replaced"},
				ErrorMessage:  outcome.Err.Error(),
			})
			return res, &Error{CorrelationID: res.CorrelationID, Err: outcome.Err}
		}
		patch := record.Patch{
			FileHandle:  record.Ptr(content.FileHandle),
			StoragePath: record.Ptr(outcome.StoragePath),
			PublicURL:   record.Ptr(outcome.PublicURL),
			MimeType:    record.Ptr(outcome.MimeType),
		}
		if err := o.records.Update(ctx, rec.ID, patch); err != nil {
			return res, &Error{CorrelationID: res.CorrelationID, Err: err}
		}
		rec.FileHandle = content.FileHandle
		rec.StoragePath = outcome.StoragePath
		rec.PublicURL = outcome.PublicURL
		rec.MimeType = outcome.MimeType
	}

	changed, err := o.tracker.RecordEdits(ctx, rec, record.Snapshot{
		Caption:      msg.Caption,
		FileUniqueID: content.FileUniqueID,
	})
	if err != nil {
		return res, &Error{CorrelationID: res.CorrelationID, Err: err}
	}
	if changed {
		log.Info("media record edited",
			slog.String("record_id", rec.ID),
			slog.Int("edit_count", rec.EditCount))
		o.sink.Record(ctx, audit.Event{
			Type:          audit.EventEdited,
			EntityID:      rec.ID,
			CorrelationID: res.CorrelationID,
			Metadata:      map[string]any{"edit_count": rec.EditCount},
		})
		o.scheduleGroup(rec.MediaGroupID)
	}
	res.Record = rec
	return res, nil
}

// editMediaToText handles a media message edited into a text-only one.
// The media record is kept and a linked text record is created; the two
// stores are disjoint, so the link is an explicit back-reference.
func (o *Orchestrator) editMediaToText(ctx context.Context, log *slog.Logger, res Result, rec *record.MessageRecord, msg *tgbotapi.Message) (Result, error) {
	var text *record.TextRecord
	if rec.TextRecordID != "" {
		// The message already flipped to text once; update the linked
		// record in place.
		if err := o.texts.UpdateText(ctx, rec.TextRecordID, record.TextPatch{
			Content: record.Ptr(msg.Text),
		}); err != nil {
			return res, &Error{CorrelationID: res.CorrelationID, Err: err}
		}
	} else {
		inserted, err := o.texts.InsertText(ctx, record.TextRecord{
			PlatformMessageID: rec.PlatformMessageID,
			ChatID:            rec.ChatID,
			Content:           msg.Text,
			MediaRecordID:     rec.ID,
			EditHistory:       []record.EditHistoryEntry{},
		})
		if err != nil {
			return res, &Error{CorrelationID: res.CorrelationID, Err: err}
		}
		text = &inserted
	}

	if _, err := o.tracker.RecordEdits(ctx, rec, record.Snapshot{Text: msg.Text}); err != nil {
		return res, &Error{CorrelationID: res.CorrelationID, Err: err}
	}
	if text != nil {
		if err := o.records.Update(ctx, rec.ID, record.Patch{TextRecordID: record.Ptr(text.ID)}); err != nil {
			return res, &Error{CorrelationID: res.CorrelationID, Err: err}
		}
		rec.TextRecordID = text.ID
	}

	log.Info("media message became text",
		slog.String("record_id", rec.ID),
		slog.String("text_record_id", rec.TextRecordID))
	o.sink.Record(ctx, audit.Event{
		Type:          audit.EventEdited,
		EntityID:      rec.ID,
		CorrelationID: res.CorrelationID,
		Metadata:      map[string]any{"kind": string(record.EditMediaToText)},
	})
	res.Record = rec
	res.TextRecord = text
	return res, nil
}

// editTextToMedia handles a text message edited to carry media: the
// new file goes through the normal transfer path and the records are
// linked in both directions.
func (o *Orchestrator) editTextToMedia(ctx context.Context, log *slog.Logger, res Result, text *record.TextRecord, msg *tgbotapi.Message, content media.Content) (Result, error) {
	outcome := o.transfer.Transfer(ctx, content)
	if outcome.Class != media.ClassOK {
		o.sink.Record(ctx, audit.Event{
			Type:          audit.EventTransferFailed,
			EntityID:      text.ID,
			CorrelationID: res.CorrelationID,
			Metadata:      map[string]any{"class": string(outcome.Class), "reason": "text_became_media"},
			ErrorMessage:  outcome.Err.Error(),
		})
		return res, &Error{CorrelationID: res.CorrelationID, Err: outcome.Err}
	}

	rec := o.newRecord(msg, content)
	rec.StoragePath = outcome.StoragePath
	rec.PublicURL = outcome.PublicURL
	rec.MimeType = outcome.MimeType
	rec.TextRecordID = text.ID
	rec.State = record.InitialState(rec.Caption != "")
	rec.EditHistory = []record.EditHistoryEntry{{
		Timestamp:     o.now().UTC(),
		Kind:          record.EditTextToMedia,
		PreviousValue: text.Content,
		NewValue:      content.FileUniqueID,
	}}
	rec.EditCount = 1

	inserted, err := o.records.Insert(ctx, rec)
	if err != nil {
		return res, &Error{CorrelationID: res.CorrelationID, Err: err}
	}
	if err := o.texts.UpdateText(ctx, text.ID, record.TextPatch{
		MediaRecordID: record.Ptr(inserted.ID),
	}); err != nil {
		return res, &Error{CorrelationID: res.CorrelationID, Err: err}
	}

	log.Info("text message became media",
		slog.String("record_id", inserted.ID),
		slog.String("text_record_id", text.ID))
	o.sink.Record(ctx, audit.Event{
		Type:          audit.EventEdited,
		EntityID:      inserted.ID,
		CorrelationID: res.CorrelationID,
		Metadata:      map[string]any{"kind": string(record.EditTextToMedia)},
	})
	o.scheduleGroup(inserted.MediaGroupID)
	res.Record = &inserted
	res.TextRecord = text
	return res, nil
}

// editTextRecord applies a plain text edit with its own history entry.
func (o *Orchestrator) editTextRecord(ctx context.Context, log *slog.Logger, res Result, text *record.TextRecord, msg *tgbotapi.Message) (Result, error) {
	if text.Content == msg.Text {
		res.TextRecord = text
		return res, nil
	}

	entry := record.EditHistoryEntry{
		Timestamp:     o.now().UTC(),
		Kind:          record.EditText,
		PreviousValue: text.Content,
		NewValue:      msg.Text,
	}
	history := append(append([]record.EditHistoryEntry{}, text.EditHistory...), entry)
	count := text.EditCount + 1

	if err := o.texts.UpdateText(ctx, text.ID, record.TextPatch{
		Content:     record.Ptr(msg.Text),
		EditHistory: record.Ptr(history),
		EditCount:   record.Ptr(count),
	}); err != nil {
		return res, &Error{CorrelationID: res.CorrelationID, Err: err}
	}
	text.Content = msg.Text
	text.EditHistory = history
	text.EditCount = count

	log.Info("text record edited",
		slog.String("record_id", text.ID),
		slog.Int("edit_count", count))
	o.sink.Record(ctx, audit.Event{
		Type:          audit.EventEdited,
		EntityID:      text.ID,
		CorrelationID: res.CorrelationID,
		Metadata:      map[string]any{"kind": string(record.EditText)},
	})
	res.TextRecord = text
	return res, nil
}
