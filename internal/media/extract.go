package media

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ExtractContent reads an inbound message and produces the normalized
// media descriptor. Returns ok=false when the message carries no photo,
// video, or document. Pure; no network or storage access.
func ExtractContent(msg *tgbotapi.Message) (Content, bool) {
	if msg == nil {
		return Content{}, false
	}
	if len(msg.Photo) > 0 {
		photo := pickLargestPhoto(msg.Photo)
		return Content{
			FileUniqueID: photo.FileUniqueID,
			FileHandle:   photo.FileID,
			Kind:         KindPhoto,
			Width:        photo.Width,
			Height:       photo.Height,
			DeclaredMime: PhotoMime,
			DeclaredSize: int64(photo.FileSize),
		}, true
	}
	if msg.Video != nil {
		return Content{
			FileUniqueID:    msg.Video.FileUniqueID,
			FileHandle:      msg.Video.FileID,
			Kind:            KindVideo,
			Width:           msg.Video.Width,
			Height:          msg.Video.Height,
			DurationSeconds: msg.Video.Duration,
			DeclaredMime:    strings.TrimSpace(msg.Video.MimeType),
			DeclaredSize:    int64(msg.Video.FileSize),
			FileName:        strings.TrimSpace(msg.Video.FileName),
		}, true
	}
	if msg.Document != nil {
		return Content{
			FileUniqueID: msg.Document.FileUniqueID,
			FileHandle:   msg.Document.FileID,
			Kind:         KindDocument,
			DeclaredMime: strings.TrimSpace(msg.Document.MimeType),
			DeclaredSize: int64(msg.Document.FileSize),
			FileName:     strings.TrimSpace(msg.Document.FileName),
		}, true
	}
	return Content{}, false
}

// pickLargestPhoto selects the variant with the greatest pixel area.
// Telegram attaches several resolutions of the same photo.
func pickLargestPhoto(items []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := items[0]
	for _, item := range items[1:] {
		if item.Width*item.Height > best.Width*best.Height {
			best = item
		}
	}
	return best
}
