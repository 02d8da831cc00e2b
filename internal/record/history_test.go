package record

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// fakeRepository is an in-memory Repository for tracker and sync tests.
type fakeRepository struct {
	records map[string]*MessageRecord
	updates int
}

func newFakeRepository(records ...*MessageRecord) *fakeRepository {
	repo := &fakeRepository{records: map[string]*MessageRecord{}}
	for _, rec := range records {
		repo.records[rec.ID] = rec
	}
	return repo
}

func (f *fakeRepository) Insert(_ context.Context, rec MessageRecord) (MessageRecord, error) {
	if rec.ID == "" {
		rec.ID = fmt.Sprintf("rec-%d", len(f.records)+1)
	}
	rec.CreatedAt = time.Now().UTC()
	stored := rec
	f.records[rec.ID] = &stored
	return rec, nil
}

func (f *fakeRepository) Update(_ context.Context, id string, patch Patch) error {
	rec, ok := f.records[id]
	if !ok {
		return ErrNotFound
	}
	f.updates++
	applyPatch(rec, patch)
	return nil
}

func applyPatch(rec *MessageRecord, patch Patch) {
	if patch.FileHandle != nil {
		rec.FileHandle = *patch.FileHandle
	}
	if patch.StoragePath != nil {
		rec.StoragePath = *patch.StoragePath
	}
	if patch.PublicURL != nil {
		rec.PublicURL = *patch.PublicURL
	}
	if patch.MimeType != nil {
		rec.MimeType = *patch.MimeType
	}
	if patch.Caption != nil {
		rec.Caption = *patch.Caption
	}
	if patch.AnalyzedContent != nil {
		rec.AnalyzedContent = *patch.AnalyzedContent
	}
	if patch.CaptionAuthoritative != nil {
		rec.CaptionAuthoritative = *patch.CaptionAuthoritative
	}
	if patch.State != nil {
		rec.State = *patch.State
	}
	if patch.RetryCount != nil {
		rec.RetryCount = *patch.RetryCount
	}
	if patch.EditHistory != nil {
		rec.EditHistory = *patch.EditHistory
	}
	if patch.EditCount != nil {
		rec.EditCount = *patch.EditCount
	}
	if patch.NeedsRedownload != nil {
		rec.NeedsRedownload = *patch.NeedsRedownload
	}
	if patch.RedownloadReason != nil {
		rec.RedownloadReason = *patch.RedownloadReason
	}
	if patch.IsDuplicateOf != nil {
		rec.IsDuplicateOf = *patch.IsDuplicateOf
	}
	if patch.TextRecordID != nil {
		rec.TextRecordID = *patch.TextRecordID
	}
	if patch.EditedAt != nil {
		rec.EditedAt = *patch.EditedAt
	}
	rec.UpdatedAt = time.Now().UTC()
}

func (f *fakeRepository) FindByID(_ context.Context, id string) (*MessageRecord, error) {
	rec, ok := f.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (f *fakeRepository) FindByFileUniqueID(_ context.Context, fileUniqueID string) (*MessageRecord, error) {
	for _, rec := range f.records {
		if rec.FileUniqueID == fileUniqueID {
			clone := *rec
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeRepository) FindByPlatformMessage(_ context.Context, chatID, platformMessageID int64) (*MessageRecord, error) {
	for _, rec := range f.records {
		if rec.ChatID == chatID && rec.PlatformMessageID == platformMessageID {
			clone := *rec
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeRepository) ListByMediaGroup(_ context.Context, mediaGroupID string) ([]MessageRecord, error) {
	var out []MessageRecord
	for _, rec := range f.records {
		if rec.MediaGroupID == mediaGroupID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (f *fakeRepository) ListNeedingRedownload(_ context.Context, limit int) ([]MessageRecord, error) {
	var out []MessageRecord
	for _, rec := range f.records {
		if rec.NeedsRedownload {
			out = append(out, *rec)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func TestDiffEdits(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("caption change", func(t *testing.T) {
		t.Parallel()
		entries := DiffEdits(
			Snapshot{Caption: "PO#100", FileUniqueID: "abc"},
			Snapshot{Caption: "PO#101", FileUniqueID: "abc"},
			now,
		)
		if len(entries) != 1 || entries[0].Kind != EditCaption {
			t.Fatalf("unexpected entries: %+v", entries)
		}
		if entries[0].PreviousValue != "PO#100" || entries[0].NewValue != "PO#101" {
			t.Fatalf("unexpected values: %+v", entries[0])
		}
	})

	t.Run("media change", func(t *testing.T) {
		t.Parallel()
		entries := DiffEdits(
			Snapshot{FileUniqueID: "abc"},
			Snapshot{FileUniqueID: "def"},
			now,
		)
		if len(entries) != 1 || entries[0].Kind != EditMedia {
			t.Fatalf("unexpected entries: %+v", entries)
		}
	})

	t.Run("media to text", func(t *testing.T) {
		t.Parallel()
		entries := DiffEdits(
			Snapshot{FileUniqueID: "abc", Caption: "old"},
			Snapshot{Text: "now plain text"},
			now,
		)
		if entries[0].Kind != EditMediaToText {
			t.Fatalf("unexpected kind: %s", entries[0].Kind)
		}
	})

	t.Run("text to media", func(t *testing.T) {
		t.Parallel()
		entries := DiffEdits(
			Snapshot{Text: "plain"},
			Snapshot{FileUniqueID: "abc"},
			now,
		)
		if entries[0].Kind != EditTextToMedia {
			t.Fatalf("unexpected kind: %s", entries[0].Kind)
		}
	})

	t.Run("no change", func(t *testing.T) {
		t.Parallel()
		entries := DiffEdits(
			Snapshot{Caption: "same", FileUniqueID: "abc"},
			Snapshot{Caption: "same", FileUniqueID: "abc"},
			now,
		)
		if len(entries) != 0 {
			t.Fatalf("expected no entries, got %+v", entries)
		}
	})
}

func TestRecordEditsAppendOnly(t *testing.T) {
	t.Parallel()

	rec := &MessageRecord{
		ID:           "rec-1",
		FileUniqueID: "abc",
		Caption:      "v0",
		State:        StateCompleted,
	}
	repo := newFakeRepository(rec)
	tracker := NewHistoryTracker(nil, repo)

	const edits = 5
	for i := 1; i <= edits; i++ {
		live, err := repo.FindByID(context.Background(), "rec-1")
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		changed, err := tracker.RecordEdits(context.Background(), live, Snapshot{
			Caption:      fmt.Sprintf("v%d", i),
			FileUniqueID: "abc",
		})
		if err != nil {
			t.Fatalf("record edits: %v", err)
		}
		if !changed {
			t.Fatalf("edit %d not detected", i)
		}
	}

	final, err := repo.FindByID(context.Background(), "rec-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if final.EditCount != edits {
		t.Fatalf("expected edit count %d, got %d", edits, final.EditCount)
	}
	if len(final.EditHistory) != edits {
		t.Fatalf("expected %d history entries, got %d", edits, len(final.EditHistory))
	}
	for i, entry := range final.EditHistory {
		wantPrev := fmt.Sprintf("v%d", i)
		wantNew := fmt.Sprintf("v%d", i+1)
		if entry.PreviousValue != wantPrev || entry.NewValue != wantNew {
			t.Fatalf("entry %d out of order: %+v", i, entry)
		}
		if i > 0 && entry.Timestamp.Before(final.EditHistory[i-1].Timestamp) {
			t.Fatalf("entries not chronological at %d", i)
		}
	}
	if final.State != StateEdited {
		t.Fatalf("expected edited state, got %s", final.State)
	}
}

func TestRecordEditsNoChangeIsNoOp(t *testing.T) {
	t.Parallel()

	rec := &MessageRecord{ID: "rec-1", FileUniqueID: "abc", Caption: "same", State: StateCompleted}
	repo := newFakeRepository(rec)
	tracker := NewHistoryTracker(nil, repo)

	changed, err := tracker.RecordEdits(context.Background(), rec, Snapshot{Caption: "same", FileUniqueID: "abc"})
	if err != nil {
		t.Fatalf("record edits: %v", err)
	}
	if changed {
		t.Fatal("expected no change")
	}
	if repo.updates != 0 {
		t.Fatal("expected no repository writes")
	}
}
