package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/kash-ai/kash-web-ui/internal/services"
)

const maxUploadBytes = 32 << 20

// HandleAttachmentUpload accepts a multipart POST with one or more files
// under the "files" field and appends each encoded attachment to the
// composer's pending list. Images get an inline preview; any other type is
// accepted and falls back to a generic file representation. A file that
// cannot be read or encoded is dropped without affecting its siblings.
// The response renders the refreshed pending list.
func (m Main) HandleAttachmentUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		m.logger.Error("Failed to parse upload", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	for _, fh := range r.MultipartForm.File["files"] {
		f, err := fh.Open()
		if err != nil {
			m.logger.Error("Failed to open attachment",
				slog.String("filename", fh.Filename),
				slog.String(errLoggerKey, err.Error()))
			continue
		}

		att, err := services.EncodeAttachment(f, fh.Filename, fh.Header.Get("Content-Type"), m.previews)
		f.Close()
		if err != nil {
			m.logger.Error("Failed to encode attachment",
				slog.String("filename", fh.Filename),
				slog.String(errLoggerKey, err.Error()))
			continue
		}

		m.store.AddAttachment(att)
	}

	m.renderAttachmentList(w)
}

// HandleAttachmentRemove drops the pending attachment at the index from the
// "index" form field and renders the refreshed pending list.
func (m Main) HandleAttachmentRemove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	index, err := strconv.Atoi(r.FormValue("index"))
	if err != nil || !m.store.RemoveAttachment(index) {
		http.Error(w, "Attachment not found", http.StatusNotFound)
		return
	}

	m.renderAttachmentList(w)
}

// HandleAttachmentPreview serves the raw preview bytes for an image
// attachment by its "id" query parameter.
func (m Main) HandleAttachmentPreview(w http.ResponseWriter, r *http.Request) {
	mimeType, data, ok := m.previews.Get(r.URL.Query().Get("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", mimeType)
	if _, err := w.Write(data); err != nil {
		m.logger.Error("Failed to write preview", slog.String(errLoggerKey, err.Error()))
	}
}

func (m Main) renderAttachmentList(w http.ResponseWriter) {
	err := m.templates.ExecuteTemplate(w, "attachment_list", m.store.PendingAttachments())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
