package services

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/kash-ai/kash-web-ui/internal/models"
)

// PreviewStore holds the raw bytes of image attachments so the browser can
// fetch a displayable preview while the attachment is pending or part of a
// session. It is the server-side equivalent of a local object URL: every
// handle allocated by EncodeAttachment must be released when its attachment
// is removed from the composer or its owning session is deleted, otherwise
// the bytes stay resident for the lifetime of the process.
type PreviewStore struct {
	mu       sync.Mutex
	previews map[string]preview
}

type preview struct {
	mimeType string
	data     []byte
}

// NewPreviewStore creates an empty PreviewStore.
func NewPreviewStore() *PreviewStore {
	return &PreviewStore{previews: make(map[string]preview)}
}

// Put stores the raw bytes and returns the handle id to fetch them with.
func (p *PreviewStore) Put(mimeType string, data []byte) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := uuid.New().String()
	p.previews[id] = preview{mimeType: mimeType, data: data}
	return id
}

// Get returns the MIME type and bytes for a preview handle.
func (p *PreviewStore) Get(id string) (string, []byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pv, ok := p.previews[id]
	return pv.mimeType, pv.data, ok
}

// Release frees the bytes behind a preview handle. Releasing an empty or
// unknown id is a no-op, so callers can release unconditionally.
func (p *PreviewStore) Release(id string) {
	if id == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.previews, id)
}

// EncodeAttachment reads an uploaded file in full and produces the immutable
// attachment representation: the contents re-encoded as a base64 data URL,
// the MIME type as reported by the uploader (sniffed from the bytes when
// absent), and a preview handle for images. Non-image files get no preview.
// A read failure drops this attachment only; callers must not treat it as
// fatal for sibling attachments or the composer as a whole.
func EncodeAttachment(r io.Reader, filename, mimeType string, previews *PreviewStore) (models.Attachment, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("error reading attachment %q: %w", filename, err)
	}

	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	att := models.Attachment{
		Filename: filename,
		Size:     int64(len(data)),
		MimeType: mimeType,
		Data:     fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data)),
	}
	if att.IsImage() {
		att.PreviewID = previews.Put(mimeType, data)
	}
	return att, nil
}
