package media

import "testing"

func TestExtensionForMime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		mime string
		want string
	}{
		{name: "jpeg", mime: "image/jpeg", want: "jpeg"},
		{name: "jpg alias", mime: "image/jpg", want: "jpeg"},
		{name: "mp4", mime: "video/mp4", want: "mp4"},
		{name: "pdf", mime: "application/pdf", want: "pdf"},
		{name: "with charset", mime: "text/plain; charset=utf-8", want: "txt"},
		{name: "mixed case", mime: "Image/PNG", want: "png"},
		{name: "unknown", mime: "application/x-mystery", want: "bin"},
		{name: "empty", mime: "", want: "bin"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ExtensionForMime(tt.mime); got != tt.want {
				t.Fatalf("ExtensionForMime(%q) = %q, want %q", tt.mime, got, tt.want)
			}
		})
	}
}

func TestResolvePathDeterministic(t *testing.T) {
	t.Parallel()

	first := ResolvePath("abc123", "image/jpeg")
	second := ResolvePath("abc123", "image/jpeg")
	if first != second {
		t.Fatalf("path not deterministic: %q vs %q", first, second)
	}
	if first != "abc123.jpeg" {
		t.Fatalf("unexpected path: %q", first)
	}
	if got := ResolvePath("xyz", "application/x-mystery"); got != "xyz.bin" {
		t.Fatalf("unexpected fallback path: %q", got)
	}
}

func TestIsInlineViewable(t *testing.T) {
	t.Parallel()

	viewable := []string{"image/jpeg", "video/mp4", "audio/ogg", "text/plain", "application/pdf"}
	for _, mime := range viewable {
		if !IsInlineViewable(mime) {
			t.Fatalf("expected %q to be inline viewable", mime)
		}
	}
	forced := []string{"application/zip", "application/octet-stream", ""}
	for _, mime := range forced {
		if IsInlineViewable(mime) {
			t.Fatalf("expected %q to force download", mime)
		}
	}
}

func TestIsGenericMime(t *testing.T) {
	t.Parallel()

	if !IsGenericMime("application/octet-stream") || !IsGenericMime("") {
		t.Fatal("expected generic")
	}
	if IsGenericMime("video/mp4") {
		t.Fatal("expected specific")
	}
}

func TestMimeFromLocation(t *testing.T) {
	t.Parallel()

	if got := MimeFromLocation(FileLocation{Path: "videos/file_42.mp4"}); got != "video/mp4" {
		t.Fatalf("unexpected mime: %q", got)
	}
	if got := MimeFromLocation(FileLocation{Path: "documents/file_7"}); got != "" {
		t.Fatalf("expected empty mime, got %q", got)
	}
	if got := MimeFromLocation(FileLocation{Path: "photos/file_9.jpg"}); got != "image/jpeg" {
		t.Fatalf("unexpected mime: %q", got)
	}
}
