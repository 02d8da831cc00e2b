package media

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func TestExtractContentPhotoPicksLargest(t *testing.T) {
	t.Parallel()

	msg := &tgbotapi.Message{
		Photo: []tgbotapi.PhotoSize{
			{FileID: "h_small", FileUniqueID: "u1", Width: 90, Height: 60},
			{FileID: "h_large", FileUniqueID: "u1", Width: 1280, Height: 960},
			{FileID: "h_mid", FileUniqueID: "u1", Width: 320, Height: 240},
		},
	}
	content, ok := ExtractContent(msg)
	if !ok {
		t.Fatal("expected media")
	}
	if content.Kind != KindPhoto {
		t.Fatalf("unexpected kind: %s", content.Kind)
	}
	if content.FileHandle != "h_large" {
		t.Fatalf("expected largest variant, got %s", content.FileHandle)
	}
	if content.DeclaredMime != PhotoMime {
		t.Fatalf("photo mime not normalized: %s", content.DeclaredMime)
	}
}

func TestExtractContentVideo(t *testing.T) {
	t.Parallel()

	msg := &tgbotapi.Message{
		Video: &tgbotapi.Video{
			FileID:       "vid_handle",
			FileUniqueID: "vid_uid",
			Width:        1920,
			Height:       1080,
			Duration:     12,
			MimeType:     "video/mp4",
			FileName:     "clip.mp4",
		},
	}
	content, ok := ExtractContent(msg)
	if !ok {
		t.Fatal("expected media")
	}
	if content.Kind != KindVideo || content.FileUniqueID != "vid_uid" {
		t.Fatalf("unexpected content: %+v", content)
	}
	if content.DurationSeconds != 12 {
		t.Fatalf("unexpected duration: %d", content.DurationSeconds)
	}
}

func TestExtractContentDocument(t *testing.T) {
	t.Parallel()

	msg := &tgbotapi.Message{
		Document: &tgbotapi.Document{
			FileID:       "doc_handle",
			FileUniqueID: "doc_uid",
			MimeType:     "application/pdf",
			FileName:     "invoice.pdf",
			FileSize:     4096,
		},
	}
	content, ok := ExtractContent(msg)
	if !ok {
		t.Fatal("expected media")
	}
	if content.Kind != KindDocument || content.DeclaredSize != 4096 {
		t.Fatalf("unexpected content: %+v", content)
	}
}

func TestExtractContentNoMedia(t *testing.T) {
	t.Parallel()

	if _, ok := ExtractContent(&tgbotapi.Message{Text: "hello"}); ok {
		t.Fatal("expected no media")
	}
	if _, ok := ExtractContent(nil); ok {
		t.Fatal("expected no media for nil message")
	}
}
