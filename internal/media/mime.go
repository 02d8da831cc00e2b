package media

import (
	"path"
	"strings"
)

// FallbackExtension is used when a MIME type has no table entry.
const FallbackExtension = "bin"

// PhotoMime is the normalized MIME type for source-platform photos;
// Telegram re-encodes every photo to JPEG.
const PhotoMime = "image/jpeg"

var mimeExtensions = map[string]string{
	"image/jpeg":         "jpeg",
	"image/jpg":          "jpeg",
	"image/png":          "png",
	"image/gif":          "gif",
	"image/webp":         "webp",
	"video/mp4":          "mp4",
	"video/quicktime":    "mov",
	"video/webm":         "webm",
	"audio/mpeg":         "mp3",
	"audio/ogg":          "ogg",
	"audio/wav":          "wav",
	"application/pdf":    "pdf",
	"application/zip":    "zip",
	"text/plain":         "txt",
	"text/csv":           "csv",
	"application/msword": "doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": "docx",
	"application/vnd.ms-excel": "xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": "xlsx",
}

var extensionMimes = func() map[string]string {
	m := make(map[string]string, len(mimeExtensions))
	for mime, ext := range mimeExtensions {
		if _, ok := m[ext]; !ok {
			m[ext] = mime
		}
	}
	// Both jpeg MIME spellings share the extension; pin the canonical one
	// so the reverse lookup does not depend on map iteration order.
	m["jpeg"] = "image/jpeg"
	m["jpg"] = "image/jpeg"
	return m
}()

// ExtensionForMime maps a MIME type to a file extension, falling back to
// FallbackExtension for unknown types. Pure and total.
func ExtensionForMime(mimeType string) string {
	normalized := normalizeMime(mimeType)
	if ext, ok := mimeExtensions[normalized]; ok {
		return ext
	}
	return FallbackExtension
}

// MimeForExtension infers a MIME type from a filename extension, returning
// "" when unknown.
func MimeForExtension(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	return extensionMimes[ext]
}

// IsInlineViewable reports whether stored objects of this MIME type should
// be served with an inline disposition rather than forcing a download.
func IsInlineViewable(mimeType string) bool {
	normalized := normalizeMime(mimeType)
	for _, prefix := range []string{"image/", "video/", "audio/", "text/"} {
		if strings.HasPrefix(normalized, prefix) {
			return true
		}
	}
	return normalized == "application/pdf"
}

// IsGenericMime reports whether a transport content type carries no real
// information about the payload.
func IsGenericMime(mimeType string) bool {
	normalized := normalizeMime(mimeType)
	return normalized == "" || normalized == "application/octet-stream" || normalized == "binary/octet-stream"
}

// ResolvePath derives the deterministic storage key for a file. The same
// (fileUniqueID, mimeType) pair always yields the same path, which is what
// makes deduplication-by-path possible.
func ResolvePath(fileUniqueID, mimeType string) string {
	return fileUniqueID + "." + ExtensionForMime(mimeType)
}

// MimeFromLocation infers a MIME type from the filename of a resolved
// retrieval location, returning "" when the extension is unknown.
func MimeFromLocation(location FileLocation) string {
	return MimeForExtension(path.Ext(location.Path))
}

func normalizeMime(mimeType string) string {
	normalized := strings.ToLower(strings.TrimSpace(mimeType))
	// Strip parameters such as "; charset=utf-8".
	if idx := strings.Index(normalized, ";"); idx >= 0 {
		normalized = strings.TrimSpace(normalized[:idx])
	}
	return normalized
}
