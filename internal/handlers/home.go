package handlers

import (
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/kash-ai/kash-web-ui/internal/models"
)

type chat struct {
	ID    string
	Title string

	Active bool
}

type message struct {
	ID          string
	Role        string
	Content     template.HTML
	Attachments []models.Attachment
	Timestamp   time.Time

	StreamingState string
}

type homePageData struct {
	Chats         []chat
	CurrentChatID string
	Messages      []message
	Attachments   []models.Attachment
}

func messageView(msg models.Message) message {
	state := "ended"
	if msg.Streaming {
		state = "streaming"
		if msg.Content == "" {
			state = "loading"
		}
	}
	return message{
		ID:             msg.ID,
		Role:           string(msg.Role),
		Content:        models.RenderMarkdown(msg.Content),
		Attachments:    msg.Attachments,
		Timestamp:      msg.Timestamp,
		StreamingState: state,
	}
}

func (m Main) homePageData() homePageData {
	activeID := m.store.ActiveSessionID()

	sessions := m.store.Sessions()
	chats := make([]chat, len(sessions))
	for i, s := range sessions {
		chats[i] = chat{
			ID:     s.ID,
			Title:  s.Title,
			Active: s.ID == activeID,
		}
	}

	activeMessages := m.store.ActiveMessages()
	msgs := make([]message, len(activeMessages))
	for i, msg := range activeMessages {
		msgs[i] = messageView(msg)
	}

	return homePageData{
		Chats:         chats,
		CurrentChatID: activeID,
		Messages:      msgs,
		Attachments:   m.store.PendingAttachments(),
	}
}

// HandleHome renders the home page: the session list, the active session's
// messages, and the composer with its pending attachments.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if err := m.templates.ExecuteTemplate(w, "home.html", m.homePageData()); err != nil {
		m.logger.Error("Failed to render home page", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
