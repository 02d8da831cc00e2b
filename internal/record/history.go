package record

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Snapshot is the edit-relevant slice of a message's content: the caption,
// the media identity, and the plain text (for text-only messages).
type Snapshot struct {
	Caption      string
	FileUniqueID string
	Text         string
}

// DiffEdits compares two snapshots and returns the history entries the
// change produces. Cross-kind transitions (media gained or lost) yield
// their own entry kinds; entries are never produced for identical content.
func DiffEdits(prev, next Snapshot, now time.Time) []EditHistoryEntry {
	var entries []EditHistoryEntry

	prevHasMedia := prev.FileUniqueID != ""
	nextHasMedia := next.FileUniqueID != ""
	switch {
	case prevHasMedia && !nextHasMedia:
		entries = append(entries, EditHistoryEntry{
			Timestamp:     now,
			Kind:          EditMediaToText,
			PreviousValue: prev.FileUniqueID,
			NewValue:      next.Text,
		})
	case !prevHasMedia && nextHasMedia:
		entries = append(entries, EditHistoryEntry{
			Timestamp:     now,
			Kind:          EditTextToMedia,
			PreviousValue: prev.Text,
			NewValue:      next.FileUniqueID,
		})
	case prevHasMedia && nextHasMedia && prev.FileUniqueID != next.FileUniqueID:
		entries = append(entries, EditHistoryEntry{
			Timestamp:     now,
			Kind:          EditMedia,
			PreviousValue: prev.FileUniqueID,
			NewValue:      next.FileUniqueID,
		})
	}

	if prev.Caption != next.Caption {
		entries = append(entries, EditHistoryEntry{
			Timestamp:     now,
			Kind:          EditCaption,
			PreviousValue: prev.Caption,
			NewValue:      next.Caption,
		})
	}
	if !prevHasMedia && !nextHasMedia && prev.Text != next.Text {
		entries = append(entries, EditHistoryEntry{
			Timestamp:     now,
			Kind:          EditText,
			PreviousValue: prev.Text,
			NewValue:      next.Text,
		})
	}
	return entries
}

// HistoryTracker appends edit-history entries to records when their
// content changes, preserving prior state. Entries are append-only.
type HistoryTracker struct {
	records Repository
	logger  *slog.Logger
	now     func() time.Time
}

// NewHistoryTracker creates an edit-history tracker.
func NewHistoryTracker(log *slog.Logger, records Repository) *HistoryTracker {
	if log == nil {
		log = slog.Default()
	}
	return &HistoryTracker{
		records: records,
		logger:  log.With(slog.String("service", "history")),
		now:     time.Now,
	}
}

// RecordEdits diffs the existing record against the new content and, when
// something changed, appends the history entries, bumps the edit count,
// moves completed records to edited, and persists the patch. The passed
// record is updated in place. Returns whether a change was recorded.
func (t *HistoryTracker) RecordEdits(ctx context.Context, rec *MessageRecord, next Snapshot) (bool, error) {
	prev := Snapshot{Caption: rec.Caption, FileUniqueID: rec.FileUniqueID}
	now := t.now().UTC()
	entries := DiffEdits(prev, next, now)
	if len(entries) == 0 {
		return false, nil
	}

	history := append(rec.EditHistory, entries...)
	count := rec.EditCount + len(entries)
	state := rec.State
	if moved, err := Transition(rec.State, StateEdited); err == nil {
		state = moved
	}

	patch := Patch{
		Caption:     Ptr(next.Caption),
		EditHistory: &history,
		EditCount:   Ptr(count),
		State:       Ptr(state),
		EditedAt:    Ptr(now),
	}
	if err := t.records.Update(ctx, rec.ID, patch); err != nil {
		return false, fmt.Errorf("persist edit history: %w", err)
	}

	rec.Caption = next.Caption
	rec.EditHistory = history
	rec.EditCount = count
	rec.State = state
	rec.EditedAt = now

	t.logger.Info("edits recorded",
		slog.String("record_id", rec.ID),
		slog.Int("entries", len(entries)),
		slog.Int("edit_count", count),
	)
	return true, nil
}
