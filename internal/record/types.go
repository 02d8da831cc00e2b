// Package record owns the persistent message record model: its lifecycle
// state machine, edit history, and the Postgres repository.
package record

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// EditKind classifies one edit-history entry.
type EditKind string

const (
	EditCaption     EditKind = "caption"
	EditMedia       EditKind = "media"
	EditText        EditKind = "text"
	EditMediaToText EditKind = "media_to_text"
	EditTextToMedia EditKind = "text_to_media"
)

// EditHistoryEntry is one immutable entry in a record's edit history.
type EditHistoryEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	Kind          EditKind  `json:"kind"`
	PreviousValue string    `json:"previous_value"`
	NewValue      string    `json:"new_value"`
}

// MessageRecord is the persistent record of one media-bearing message.
type MessageRecord struct {
	ID                   string             `json:"id"`
	PlatformMessageID    int64              `json:"platform_message_id"`
	ChatID               int64              `json:"chat_id"`
	FileUniqueID         string             `json:"file_unique_id"`
	FileHandle           string             `json:"file_handle,omitempty"`
	MediaKind            string             `json:"media_kind"`
	StoragePath          string             `json:"storage_path,omitempty"`
	PublicURL            string             `json:"public_url,omitempty"`
	MimeType             string             `json:"mime_type,omitempty"`
	Caption              string             `json:"caption,omitempty"`
	AnalyzedContent      map[string]any     `json:"analyzed_content,omitempty"`
	CaptionAuthoritative bool               `json:"caption_authoritative"`
	MediaGroupID         string             `json:"media_group_id,omitempty"`
	State                ProcessingState    `json:"processing_state"`
	RetryCount           int                `json:"retry_count"`
	EditHistory          []EditHistoryEntry `json:"edit_history"`
	EditCount            int                `json:"edit_count"`
	NeedsRedownload      bool               `json:"needs_redownload"`
	RedownloadReason     string             `json:"redownload_reason,omitempty"`
	IsDuplicateOf        string             `json:"is_duplicate_of,omitempty"`
	TextRecordID         string             `json:"text_record_id,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
	EditedAt             time.Time          `json:"edited_at,omitzero"`
}

// TextRecord is the persistent record of a text-only message. Media and
// text records live in disjoint tables; cross-kind edits link them via
// back-references instead of merging.
type TextRecord struct {
	ID                string             `json:"id"`
	PlatformMessageID int64              `json:"platform_message_id"`
	ChatID            int64              `json:"chat_id"`
	Content           string             `json:"content"`
	AnalyzedContent   map[string]any     `json:"analyzed_content,omitempty"`
	EditHistory       []EditHistoryEntry `json:"edit_history"`
	EditCount         int                `json:"edit_count"`
	MediaRecordID     string             `json:"media_record_id,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// Patch carries partial updates to a MessageRecord; nil fields are left
// untouched.
type Patch struct {
	FileHandle           *string
	StoragePath          *string
	PublicURL            *string
	MimeType             *string
	Caption              *string
	AnalyzedContent      *map[string]any
	CaptionAuthoritative *bool
	State                *ProcessingState
	RetryCount           *int
	EditHistory          *[]EditHistoryEntry
	EditCount            *int
	NeedsRedownload      *bool
	RedownloadReason     *string
	IsDuplicateOf        *string
	TextRecordID         *string
	EditedAt             *time.Time
}

// TextPatch carries partial updates to a TextRecord.
type TextPatch struct {
	Content         *string
	AnalyzedContent *map[string]any
	EditHistory     *[]EditHistoryEntry
	EditCount       *int
	MediaRecordID   *string
}

// Repository is the media-record persistence contract used by the
// pipeline. Physical storage and transactional guarantees belong to the
// backing database; the pipeline is the sole writer of the fields above.
type Repository interface {
	Insert(ctx context.Context, rec MessageRecord) (MessageRecord, error)
	Update(ctx context.Context, id string, patch Patch) error
	FindByID(ctx context.Context, id string) (*MessageRecord, error)
	FindByFileUniqueID(ctx context.Context, fileUniqueID string) (*MessageRecord, error)
	FindByPlatformMessage(ctx context.Context, chatID, platformMessageID int64) (*MessageRecord, error)
	ListByMediaGroup(ctx context.Context, mediaGroupID string) ([]MessageRecord, error)
	ListNeedingRedownload(ctx context.Context, limit int) ([]MessageRecord, error)
}

// TextRepository is the text-record persistence contract.
type TextRepository interface {
	InsertText(ctx context.Context, rec TextRecord) (TextRecord, error)
	UpdateText(ctx context.Context, id string, patch TextPatch) error
	FindTextByPlatformMessage(ctx context.Context, chatID, platformMessageID int64) (*TextRecord, error)
}

// Ptr returns a pointer to v; shorthand for building patches.
func Ptr[T any](v T) *T { return &v }
