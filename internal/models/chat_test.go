package models_test

import (
	"testing"

	"github.com/kash-ai/kash-web-ui/internal/models"
)

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "short text",
			text: "Hello there",
			want: "Hello there",
		},
		{
			name: "trims whitespace",
			text: "   Hello   ",
			want: "Hello",
		},
		{
			name: "caps at prefix length",
			text: "Explain quantum computing in detail please",
			want: "Explain quantum computing in d",
		},
		{
			name: "counts runes not bytes",
			text: "héllo wörld with ünïcödé text here",
			want: "héllo wörld with ünïcödé text ",
		},
		{
			name: "empty falls back to default",
			text: "   ",
			want: models.DefaultTitle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := models.DeriveTitle(tt.text); got != tt.want {
				t.Errorf("DeriveTitle(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestAttachmentRawBase64(t *testing.T) {
	att := models.Attachment{Data: "data:image/png;base64,aGVsbG8="}
	if got := att.RawBase64(); got != "aGVsbG8=" {
		t.Errorf("RawBase64() = %q, want %q", got, "aGVsbG8=")
	}

	bare := models.Attachment{Data: "aGVsbG8="}
	if got := bare.RawBase64(); got != "aGVsbG8=" {
		t.Errorf("RawBase64() without prefix = %q, want passthrough", got)
	}
}

func TestAttachmentIsImage(t *testing.T) {
	if !(models.Attachment{MimeType: "image/png"}).IsImage() {
		t.Error("image/png should be an image")
	}
	if (models.Attachment{MimeType: "application/pdf"}).IsImage() {
		t.Error("application/pdf should not be an image")
	}
}
