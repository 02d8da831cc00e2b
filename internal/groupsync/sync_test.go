package groupsync

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/chatvault/chatvault/internal/record"
)

type fakeRepo struct {
	records map[string]*record.MessageRecord
	updates int
}

func newFakeRepo(records ...*record.MessageRecord) *fakeRepo {
	repo := &fakeRepo{records: map[string]*record.MessageRecord{}}
	for _, rec := range records {
		repo.records[rec.ID] = rec
	}
	return repo
}

func (f *fakeRepo) Insert(_ context.Context, rec record.MessageRecord) (record.MessageRecord, error) {
	if rec.ID == "" {
		rec.ID = fmt.Sprintf("rec-%d", len(f.records)+1)
	}
	stored := rec
	f.records[rec.ID] = &stored
	return rec, nil
}

func (f *fakeRepo) Update(_ context.Context, id string, patch record.Patch) error {
	rec, ok := f.records[id]
	if !ok {
		return record.ErrNotFound
	}
	f.updates++
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
	return nil
}

func (f *fakeRepo) FindByID(_ context.Context, id string) (*record.MessageRecord, error) {
	rec, ok := f.records[id]
	if !ok {
		return nil, record.ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (f *fakeRepo) FindByFileUniqueID(_ context.Context, fileUniqueID string) (*record.MessageRecord, error) {
	for _, rec := range f.records {
		if rec.FileUniqueID == fileUniqueID {
			clone := *rec
			return &clone, nil
		}
	}
	return nil, record.ErrNotFound
}

func (f *fakeRepo) FindByPlatformMessage(_ context.Context, chatID, platformMessageID int64) (*record.MessageRecord, error) {
	for _, rec := range f.records {
		if rec.ChatID == chatID && rec.PlatformMessageID == platformMessageID {
			clone := *rec
			return &clone, nil
		}
	}
	return nil, record.ErrNotFound
}

func (f *fakeRepo) ListByMediaGroup(_ context.Context, mediaGroupID string) ([]record.MessageRecord, error) {
	var out []record.MessageRecord
	for _, rec := range f.records {
		if rec.MediaGroupID == mediaGroupID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListNeedingRedownload(_ context.Context, _ int) ([]record.MessageRecord, error) {
	return nil, nil
}

func TestSyncPropagatesCaption(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo(
		&record.MessageRecord{ID: "a", MediaGroupID: "g1", PlatformMessageID: 1, Caption: "invoice batch"},
		&record.MessageRecord{ID: "b", MediaGroupID: "g1", PlatformMessageID: 2},
		&record.MessageRecord{ID: "c", MediaGroupID: "g1", PlatformMessageID: 3},
	)
	syncer := NewSynchronizer(nil, repo, nil)

	patched, err := syncer.Sync(context.Background(), "g1")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if patched != 3 {
		t.Fatalf("expected 3 patches, got %d", patched)
	}
	for _, id := range []string{"a", "b", "c"} {
		rec := repo.records[id]
		if rec.Caption != "invoice batch" {
			t.Fatalf("record %s caption %q", id, rec.Caption)
		}
		if rec.CaptionAuthoritative != (id == "a") {
			t.Fatalf("record %s authority flag %v", id, rec.CaptionAuthoritative)
		}
	}
}

func TestSyncPropagatesAnalyzedContent(t *testing.T) {
	t.Parallel()

	analyzed := map[string]any{"po": "100", "vendor": "acme"}
	repo := newFakeRepo(
		&record.MessageRecord{ID: "a", MediaGroupID: "g1", PlatformMessageID: 1, Caption: "PO#100", AnalyzedContent: analyzed},
		&record.MessageRecord{ID: "b", MediaGroupID: "g1", PlatformMessageID: 2},
		&record.MessageRecord{ID: "c", MediaGroupID: "g1", PlatformMessageID: 3},
	)
	syncer := NewSynchronizer(nil, repo, nil)

	if _, err := syncer.Sync(context.Background(), "g1"); err != nil {
		t.Fatalf("sync: %v", err)
	}
	for _, id := range []string{"b", "c"} {
		rec := repo.records[id]
		if !reflect.DeepEqual(rec.AnalyzedContent, analyzed) {
			t.Fatalf("record %s analyzed content %v", id, rec.AnalyzedContent)
		}
	}

	before := repo.updates
	if patched, err := syncer.Sync(context.Background(), "g1"); err != nil || patched != 0 || repo.updates != before {
		t.Fatalf("converged group re-patched: patched=%d err=%v", patched, err)
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo(
		&record.MessageRecord{ID: "a", MediaGroupID: "g1", PlatformMessageID: 1, Caption: "settled"},
		&record.MessageRecord{ID: "b", MediaGroupID: "g1", PlatformMessageID: 2},
	)
	syncer := NewSynchronizer(nil, repo, nil)

	if _, err := syncer.Sync(context.Background(), "g1"); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	before := repo.updates

	patched, err := syncer.Sync(context.Background(), "g1")
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if patched != 0 || repo.updates != before {
		t.Fatalf("expected settled group, got %d patches", patched)
	}
}

func TestSyncEditedCaptionWins(t *testing.T) {
	t.Parallel()

	edited := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	repo := newFakeRepo(
		&record.MessageRecord{ID: "a", MediaGroupID: "g1", PlatformMessageID: 1, Caption: "original", CaptionAuthoritative: true},
		&record.MessageRecord{ID: "b", MediaGroupID: "g1", PlatformMessageID: 2, Caption: "corrected", EditedAt: edited},
	)
	syncer := NewSynchronizer(nil, repo, nil)

	if _, err := syncer.Sync(context.Background(), "g1"); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if repo.records["a"].Caption != "corrected" || repo.records["a"].CaptionAuthoritative {
		t.Fatalf("authority did not move: %+v", repo.records["a"])
	}
	if !repo.records["b"].CaptionAuthoritative {
		t.Fatal("edited record should be authoritative")
	}
}

func TestSyncNoCaptionAnywhere(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo(
		&record.MessageRecord{ID: "a", MediaGroupID: "g1", PlatformMessageID: 1},
		&record.MessageRecord{ID: "b", MediaGroupID: "g1", PlatformMessageID: 2},
	)
	patched, err := NewSynchronizer(nil, repo, nil).Sync(context.Background(), "g1")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if patched != 0 {
		t.Fatalf("expected no patches, got %d", patched)
	}
}

func TestQueueDebounces(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo(
		&record.MessageRecord{ID: "a", MediaGroupID: "g1", PlatformMessageID: 1, Caption: "album"},
		&record.MessageRecord{ID: "b", MediaGroupID: "g1", PlatformMessageID: 2},
	)
	queue := NewQueue(nil, NewSynchronizer(nil, repo, nil), 20*time.Millisecond, 2)

	for range 5 {
		queue.Schedule("g1")
	}
	queue.Close()

	if repo.records["b"].Caption != "album" {
		t.Fatalf("caption not propagated: %+v", repo.records["b"])
	}
	// One converging run: caption for b plus authority flag for a.
	if repo.updates != 2 {
		t.Fatalf("expected a single debounced run, got %d updates", repo.updates)
	}
}

func TestQueueScheduleRacesTimerFire(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo(
		&record.MessageRecord{ID: "a", MediaGroupID: "g1", PlatformMessageID: 1, Caption: "album"},
		&record.MessageRecord{ID: "b", MediaGroupID: "g1", PlatformMessageID: 2},
	)
	// A single worker serializes the sync runs; the tight delay makes
	// Schedule land on timers that have already fired.
	queue := NewQueue(nil, NewSynchronizer(nil, repo, nil), time.Millisecond, 1)

	for range 200 {
		queue.Schedule("g1")
		time.Sleep(time.Millisecond)
	}
	queue.Close()

	if repo.records["b"].Caption != "album" {
		t.Fatalf("caption not propagated: %+v", repo.records["b"])
	}
}
