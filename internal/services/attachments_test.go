package services_test

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/kash-ai/kash-web-ui/internal/services"
)

// pngHeader is the fixed PNG signature, enough for content-type sniffing.
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func TestEncodeAttachmentRoundTrip(t *testing.T) {
	previews := services.NewPreviewStore()
	raw := []byte("%PDF-1.4 fake document body")

	att, err := services.EncodeAttachment(bytes.NewReader(raw), "doc.pdf", "application/pdf", previews)
	if err != nil {
		t.Fatalf("EncodeAttachment() error = %v", err)
	}

	if att.Filename != "doc.pdf" {
		t.Errorf("filename = %q, want %q", att.Filename, "doc.pdf")
	}
	if att.Size != int64(len(raw)) {
		t.Errorf("size = %d, want %d", att.Size, len(raw))
	}
	if !strings.HasPrefix(att.Data, "data:application/pdf;base64,") {
		t.Errorf("data URL prefix missing, got %q", att.Data[:min(len(att.Data), 40)])
	}

	decoded, err := base64.StdEncoding.DecodeString(att.RawBase64())
	if err != nil {
		t.Fatalf("decoding RawBase64() error = %v", err)
	}
	if !bytes.Equal(decoded, raw) {
		t.Errorf("decoded bytes = %q, want %q", decoded, raw)
	}

	if att.PreviewID != "" {
		t.Errorf("non-image attachment got preview handle %q", att.PreviewID)
	}
}

func TestEncodeAttachmentImagePreview(t *testing.T) {
	previews := services.NewPreviewStore()
	raw := append(append([]byte{}, pngHeader...), "pixels"...)

	att, err := services.EncodeAttachment(bytes.NewReader(raw), "pic.png", "image/png", previews)
	if err != nil {
		t.Fatalf("EncodeAttachment() error = %v", err)
	}
	if att.PreviewID == "" {
		t.Fatal("image attachment got no preview handle")
	}

	mimeType, data, ok := previews.Get(att.PreviewID)
	if !ok {
		t.Fatal("preview handle not resolvable")
	}
	if mimeType != "image/png" {
		t.Errorf("preview mime type = %q, want %q", mimeType, "image/png")
	}
	if !bytes.Equal(data, raw) {
		t.Error("preview bytes differ from original")
	}

	previews.Release(att.PreviewID)
	if _, _, ok := previews.Get(att.PreviewID); ok {
		t.Error("preview still resolvable after release")
	}
}

func TestEncodeAttachmentSniffsMimeType(t *testing.T) {
	previews := services.NewPreviewStore()
	raw := append(append([]byte{}, pngHeader...), "pixels"...)

	att, err := services.EncodeAttachment(bytes.NewReader(raw), "pic", "", previews)
	if err != nil {
		t.Fatalf("EncodeAttachment() error = %v", err)
	}
	if att.MimeType != "image/png" {
		t.Errorf("sniffed mime type = %q, want %q", att.MimeType, "image/png")
	}
	if att.PreviewID == "" {
		t.Error("sniffed image got no preview handle")
	}
}

func TestPreviewStoreReleaseUnknown(t *testing.T) {
	previews := services.NewPreviewStore()

	// Must be a no-op, not a panic.
	previews.Release("")
	previews.Release("unknown")

	id := previews.Put("image/png", []byte("bytes"))
	if _, _, ok := previews.Get(id); !ok {
		t.Error("stored preview not resolvable")
	}
}
