package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatvault/chatvault/internal/db"
)

const messageColumns = `id, platform_message_id, chat_id, file_unique_id, file_handle,
	media_kind, storage_path, public_url, mime_type, caption, analyzed_content,
	caption_authoritative, media_group_id, processing_state, retry_count,
	edit_history, edit_count, needs_redownload, redownload_reason,
	is_duplicate_of, text_record_id, created_at, updated_at, edited_at`

// PGRepository persists message and text records in Postgres.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository creates the Postgres-backed repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Insert(ctx context.Context, rec MessageRecord) (MessageRecord, error) {
	history, err := marshalHistory(rec.EditHistory)
	if err != nil {
		return MessageRecord{}, err
	}
	analyzed, err := marshalAnalyzed(rec.AnalyzedContent)
	if err != nil {
		return MessageRecord{}, err
	}

	var duplicateOf, textRecordID pgtype.UUID
	if rec.IsDuplicateOf != "" {
		if duplicateOf, err = db.ParseUUID(rec.IsDuplicateOf); err != nil {
			return MessageRecord{}, fmt.Errorf("parse is_duplicate_of: %w", err)
		}
	}
	if rec.TextRecordID != "" {
		if textRecordID, err = db.ParseUUID(rec.TextRecordID); err != nil {
			return MessageRecord{}, fmt.Errorf("parse text_record_id: %w", err)
		}
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO message_records (
			platform_message_id, chat_id, file_unique_id, file_handle,
			media_kind, storage_path, public_url, mime_type, caption,
			analyzed_content, caption_authoritative, media_group_id,
			processing_state, retry_count, edit_history, edit_count,
			needs_redownload, redownload_reason, is_duplicate_of,
			text_record_id, edited_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21)
		RETURNING `+messageColumns,
		rec.PlatformMessageID, rec.ChatID, rec.FileUniqueID,
		db.ToPgText(rec.FileHandle), rec.MediaKind,
		db.ToPgText(rec.StoragePath), db.ToPgText(rec.PublicURL),
		db.ToPgText(rec.MimeType), db.ToPgText(rec.Caption),
		analyzed, rec.CaptionAuthoritative, db.ToPgText(rec.MediaGroupID),
		string(rec.State), rec.RetryCount, history, rec.EditCount,
		rec.NeedsRedownload, db.ToPgText(rec.RedownloadReason),
		duplicateOf, textRecordID, db.ToPgTimestamptz(rec.EditedAt),
	)
	return scanMessage(row)
}

// Update applies a partial patch. Nil patch fields are left untouched;
// updated_at always advances.
func (r *PGRepository) Update(ctx context.Context, id string, patch Patch) error {
	recID, err := db.ParseUUID(id)
	if err != nil {
		return fmt.Errorf("parse record id: %w", err)
	}

	sets := []string{"updated_at = now()"}
	args := []any{recID}

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.FileHandle != nil {
		add("file_handle", db.ToPgText(*patch.FileHandle))
	}
	if patch.StoragePath != nil {
		add("storage_path", db.ToPgText(*patch.StoragePath))
	}
	if patch.PublicURL != nil {
		add("public_url", db.ToPgText(*patch.PublicURL))
	}
	if patch.MimeType != nil {
		add("mime_type", db.ToPgText(*patch.MimeType))
	}
	if patch.Caption != nil {
		add("caption", db.ToPgText(*patch.Caption))
	}
	if patch.AnalyzedContent != nil {
		analyzed, err := marshalAnalyzed(*patch.AnalyzedContent)
		if err != nil {
			return err
		}
		add("analyzed_content", analyzed)
	}
	if patch.CaptionAuthoritative != nil {
		add("caption_authoritative", *patch.CaptionAuthoritative)
	}
	if patch.State != nil {
		add("processing_state", string(*patch.State))
	}
	if patch.RetryCount != nil {
		add("retry_count", *patch.RetryCount)
	}
	if patch.EditHistory != nil {
		history, err := marshalHistory(*patch.EditHistory)
		if err != nil {
			return err
		}
		add("edit_history", history)
	}
	if patch.EditCount != nil {
		add("edit_count", *patch.EditCount)
	}
	if patch.NeedsRedownload != nil {
		add("needs_redownload", *patch.NeedsRedownload)
	}
	if patch.RedownloadReason != nil {
		add("redownload_reason", db.ToPgText(*patch.RedownloadReason))
	}
	if patch.IsDuplicateOf != nil {
		var duplicateOf pgtype.UUID
		if *patch.IsDuplicateOf != "" {
			if duplicateOf, err = db.ParseUUID(*patch.IsDuplicateOf); err != nil {
				return fmt.Errorf("parse is_duplicate_of: %w", err)
			}
		}
		add("is_duplicate_of", duplicateOf)
	}
	if patch.TextRecordID != nil {
		var textRecordID pgtype.UUID
		if *patch.TextRecordID != "" {
			if textRecordID, err = db.ParseUUID(*patch.TextRecordID); err != nil {
				return fmt.Errorf("parse text_record_id: %w", err)
			}
		}
		add("text_record_id", textRecordID)
	}
	if patch.EditedAt != nil {
		add("edited_at", db.ToPgTimestamptz(*patch.EditedAt))
	}

	tag, err := r.pool.Exec(ctx,
		"UPDATE message_records SET "+strings.Join(sets, ", ")+" WHERE id = $1",
		args...)
	if err != nil {
		return fmt.Errorf("update message record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) FindByID(ctx context.Context, id string) (*MessageRecord, error) {
	recID, err := db.ParseUUID(id)
	if err != nil {
		return nil, fmt.Errorf("parse record id: %w", err)
	}
	return r.findMessage(ctx, "id = $1", recID)
}

func (r *PGRepository) FindByFileUniqueID(ctx context.Context, fileUniqueID string) (*MessageRecord, error) {
	return r.findMessage(ctx, "file_unique_id = $1 AND is_duplicate_of IS NULL", fileUniqueID)
}

func (r *PGRepository) FindByPlatformMessage(ctx context.Context, chatID, platformMessageID int64) (*MessageRecord, error) {
	return r.findMessage(ctx, "chat_id = $1 AND platform_message_id = $2", chatID, platformMessageID)
}

func (r *PGRepository) findMessage(ctx context.Context, where string, args ...any) (*MessageRecord, error) {
	row := r.pool.QueryRow(ctx,
		"SELECT "+messageColumns+" FROM message_records WHERE "+where, args...)
	rec, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *PGRepository) ListByMediaGroup(ctx context.Context, mediaGroupID string) ([]MessageRecord, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT "+messageColumns+" FROM message_records WHERE media_group_id = $1 ORDER BY platform_message_id",
		mediaGroupID)
	if err != nil {
		return nil, fmt.Errorf("list media group: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (r *PGRepository) ListNeedingRedownload(ctx context.Context, limit int) ([]MessageRecord, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT "+messageColumns+" FROM message_records WHERE needs_redownload ORDER BY updated_at LIMIT $1",
		limit)
	if err != nil {
		return nil, fmt.Errorf("list needing redownload: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

const textColumns = `id, platform_message_id, chat_id, content, analyzed_content,
	edit_history, edit_count, media_record_id, created_at, updated_at`

func (r *PGRepository) InsertText(ctx context.Context, rec TextRecord) (TextRecord, error) {
	history, err := marshalHistory(rec.EditHistory)
	if err != nil {
		return TextRecord{}, err
	}
	analyzed, err := marshalAnalyzed(rec.AnalyzedContent)
	if err != nil {
		return TextRecord{}, err
	}
	var mediaRecordID pgtype.UUID
	if rec.MediaRecordID != "" {
		if mediaRecordID, err = db.ParseUUID(rec.MediaRecordID); err != nil {
			return TextRecord{}, fmt.Errorf("parse media_record_id: %w", err)
		}
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO text_records (
			platform_message_id, chat_id, content, analyzed_content,
			edit_history, edit_count, media_record_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+textColumns,
		rec.PlatformMessageID, rec.ChatID, rec.Content, analyzed,
		history, rec.EditCount, mediaRecordID,
	)
	return scanText(row)
}

func (r *PGRepository) UpdateText(ctx context.Context, id string, patch TextPatch) error {
	recID, err := db.ParseUUID(id)
	if err != nil {
		return fmt.Errorf("parse record id: %w", err)
	}

	sets := []string{"updated_at = now()"}
	args := []any{recID}

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Content != nil {
		add("content", *patch.Content)
	}
	if patch.AnalyzedContent != nil {
		analyzed, err := marshalAnalyzed(*patch.AnalyzedContent)
		if err != nil {
			return err
		}
		add("analyzed_content", analyzed)
	}
	if patch.EditHistory != nil {
		history, err := marshalHistory(*patch.EditHistory)
		if err != nil {
			return err
		}
		add("edit_history", history)
	}
	if patch.EditCount != nil {
		add("edit_count", *patch.EditCount)
	}
	if patch.MediaRecordID != nil {
		var mediaRecordID pgtype.UUID
		if *patch.MediaRecordID != "" {
			if mediaRecordID, err = db.ParseUUID(*patch.MediaRecordID); err != nil {
				return fmt.Errorf("parse media_record_id: %w", err)
			}
		}
		add("media_record_id", mediaRecordID)
	}

	tag, err := r.pool.Exec(ctx,
		"UPDATE text_records SET "+strings.Join(sets, ", ")+" WHERE id = $1",
		args...)
	if err != nil {
		return fmt.Errorf("update text record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) FindTextByPlatformMessage(ctx context.Context, chatID, platformMessageID int64) (*TextRecord, error) {
	row := r.pool.QueryRow(ctx,
		"SELECT "+textColumns+" FROM text_records WHERE chat_id = $1 AND platform_message_id = $2",
		chatID, platformMessageID)
	rec, err := scanText(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func marshalHistory(entries []EditHistoryEntry) ([]byte, error) {
	if entries == nil {
		entries = []EditHistoryEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("marshal edit history: %w", err)
	}
	return data, nil
}

func marshalAnalyzed(content map[string]any) ([]byte, error) {
	if content == nil {
		return nil, nil
	}
	data, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("marshal analyzed content: %w", err)
	}
	return data, nil
}

func scanMessage(row pgx.Row) (MessageRecord, error) {
	var (
		rec          MessageRecord
		id           pgtype.UUID
		fileHandle   pgtype.Text
		storagePath  pgtype.Text
		publicURL    pgtype.Text
		mimeType     pgtype.Text
		caption      pgtype.Text
		analyzed     []byte
		mediaGroupID pgtype.Text
		state        string
		history      []byte
		reason       pgtype.Text
		duplicateOf  pgtype.UUID
		textRecordID pgtype.UUID
		editedAt     pgtype.Timestamptz
	)
	err := row.Scan(
		&id, &rec.PlatformMessageID, &rec.ChatID, &rec.FileUniqueID,
		&fileHandle, &rec.MediaKind, &storagePath, &publicURL, &mimeType,
		&caption, &analyzed, &rec.CaptionAuthoritative, &mediaGroupID,
		&state, &rec.RetryCount, &history, &rec.EditCount,
		&rec.NeedsRedownload, &reason, &duplicateOf, &textRecordID,
		&rec.CreatedAt, &rec.UpdatedAt, &editedAt,
	)
	if err != nil {
		return MessageRecord{}, err
	}

	rec.ID = uuidString(id)
	rec.FileHandle = db.TextToString(fileHandle)
	rec.StoragePath = db.TextToString(storagePath)
	rec.PublicURL = db.TextToString(publicURL)
	rec.MimeType = db.TextToString(mimeType)
	rec.Caption = db.TextToString(caption)
	rec.MediaGroupID = db.TextToString(mediaGroupID)
	rec.State = ProcessingState(state)
	rec.RedownloadReason = db.TextToString(reason)
	rec.IsDuplicateOf = uuidString(duplicateOf)
	rec.TextRecordID = uuidString(textRecordID)
	if editedAt.Valid {
		rec.EditedAt = editedAt.Time
	}
	if err := unmarshalHistory(history, &rec.EditHistory); err != nil {
		return MessageRecord{}, err
	}
	if err := unmarshalAnalyzed(analyzed, &rec.AnalyzedContent); err != nil {
		return MessageRecord{}, err
	}
	return rec, nil
}

func scanText(row pgx.Row) (TextRecord, error) {
	var (
		rec           TextRecord
		id            pgtype.UUID
		analyzed      []byte
		history       []byte
		mediaRecordID pgtype.UUID
	)
	err := row.Scan(
		&id, &rec.PlatformMessageID, &rec.ChatID, &rec.Content, &analyzed,
		&history, &rec.EditCount, &mediaRecordID, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return TextRecord{}, err
	}

	rec.ID = uuidString(id)
	rec.MediaRecordID = uuidString(mediaRecordID)
	if err := unmarshalHistory(history, &rec.EditHistory); err != nil {
		return TextRecord{}, err
	}
	if err := unmarshalAnalyzed(analyzed, &rec.AnalyzedContent); err != nil {
		return TextRecord{}, err
	}
	return rec, nil
}

func collectMessages(rows pgx.Rows) ([]MessageRecord, error) {
	var out []MessageRecord
	for rows.Next() {
		rec, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message records: %w", err)
	}
	return out, nil
}

func uuidString(value pgtype.UUID) string {
	if !value.Valid {
		return ""
	}
	parsed, err := value.Value()
	if err != nil {
		return ""
	}
	s, _ := parsed.(string)
	return s
}

func unmarshalHistory(data []byte, target *[]EditHistoryEntry) error {
	if len(data) == 0 {
		*target = []EditHistoryEntry{}
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("unmarshal edit history: %w", err)
	}
	return nil
}

func unmarshalAnalyzed(data []byte, target *map[string]any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("unmarshal analyzed content: %w", err)
	}
	return nil
}
