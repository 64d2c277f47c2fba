package models

import (
	"strings"
	"time"
)

// Role represents the author of a message.
type Role string

const (
	// RoleUser represents a message typed by the human user.
	RoleUser Role = "user"
	// RoleModel represents a message produced by the completion model.
	RoleModel Role = "model"
)

// Attachment is a user-selected file carried by a message or held in the
// composer while a turn is being prepared. Data holds the full file contents
// as a base64 data URL. PreviewID references the raw bytes in the preview
// store for image attachments and is empty otherwise; callers fall back to
// showing the filename for attachments without a preview. An Attachment is
// never mutated after creation.
type Attachment struct {
	Filename  string
	Size      int64
	MimeType  string
	Data      string
	PreviewID string
}

// IsImage reports whether the attachment can be rendered as an inline preview.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(a.MimeType, "image/")
}

// RawBase64 returns the attachment payload with the data URL prefix stripped,
// which is the form completion providers expect for inline data parts.
func (a Attachment) RawBase64() string {
	if _, after, found := strings.Cut(a.Data, ","); found {
		return after
	}
	return a.Data
}

// Message represents an individual communication entry within a chat session.
// Content is mutable only while Streaming is true, and then only grows by
// appending fragments; once Streaming is cleared the message is final.
// Attachments are empty for model-authored messages.
type Message struct {
	ID          string
	Role        Role
	Content     string
	Attachments []Attachment
	Timestamp   time.Time

	Streaming bool
}

// ChatSession is an in-memory conversation: an ordered list of finalized
// turns plus metadata. Messages only ever receives completed turns; the
// in-flight turn lives in the store's working copy until it is finalized.
type ChatSession struct {
	ID        string
	Title     string
	Messages  []Message
	UpdatedAt time.Time
}

// DefaultTitle is the title of a session with no persisted user turn.
const DefaultTitle = "New Chat"

const titleMaxLen = 30

// DeriveTitle builds a session title from the first user message: the
// trimmed text capped at a fixed prefix length, or DefaultTitle when the
// message carried no text.
func DeriveTitle(text string) string {
	t := strings.TrimSpace(text)
	if t == "" {
		return DefaultTitle
	}
	if r := []rune(t); len(r) > titleMaxLen {
		return string(r[:titleMaxLen])
	}
	return t
}
