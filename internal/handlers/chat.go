package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kash-ai/kash-web-ui/internal/models"
	"github.com/kash-ai/kash-web-ui/internal/services"
	"github.com/tmaxmax/go-sse"
)

// HandleChats processes a send request through an HTTP POST, appending the
// user's turn and a streaming placeholder to the active session (creating
// one if none is active) and relaying the model's response fragments through
// Server-Sent Events as they arrive.
//
// The handler expects a "message" form field. A request with no text and no
// pending attachments is rejected with 400, and a request while another send
// is still streaming is rejected with 409; neither is queued.
//
// For successful requests it renders the new user message and the
// placeholder; the client subscribes to the placeholder's SSE topic for the
// streamed content.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	msg := r.FormValue("message")

	// We track whether this send will create the session to decide between
	// rendering the whole chatbox and appending individual messages.
	isNewChat := m.store.ActiveSessionID() == ""

	// The send outlives this request, so the streaming context must not be
	// the request's.
	userMsg, aiMsg, err := m.store.Send(context.Background(), msg, m.onChunk(), m.onDone())
	switch {
	case errors.Is(err, services.ErrEmptyMessage):
		m.logger.Error("Message is required")
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	case errors.Is(err, services.ErrSendInFlight):
		m.logger.Error("Send rejected, another response is still streaming")
		http.Error(w, "Another response is still streaming", http.StatusConflict)
		return
	case err != nil:
		m.logger.Error("Failed to send message", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if isNewChat {
		m.publishChatList()

		data := homePageData{
			CurrentChatID: m.store.ActiveSessionID(),
			Messages:      []message{messageView(userMsg), messageView(aiMsg)},
		}
		if err := m.templates.ExecuteTemplate(w, "chatbox", data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	if err := m.templates.ExecuteTemplate(w, "user_message", messageView(userMsg)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := m.templates.ExecuteTemplate(w, "ai_message", messageView(aiMsg)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// onChunk publishes the placeholder's accumulated content, re-rendered as
// HTML, to the message topic after every fragment. Chunk callbacks for one
// send arrive sequentially, so the builder needs no locking.
func (m Main) onChunk() func(messageID, fragment string) {
	var sb strings.Builder
	return func(messageID, fragment string) {
		sb.WriteString(fragment)

		e := &sse.Message{Type: messagesSSEType}
		e.AppendData(string(models.RenderMarkdown(sb.String())))
		if err := m.sseSrv.Publish(e, messageIDTopic(messageID)); err != nil {
			m.logger.Error("Failed to publish message",
				slog.String("messageID", messageID),
				slog.String(errLoggerKey, err.Error()))
		}
	}
}

// onDone closes out the streaming turn: on failure it pushes the fixed error
// content into the message topic, on success it refreshes the chat list
// (title and recency ordering may have changed), and in both cases it tells
// subscribers the message stream is over.
func (m Main) onDone() func(messageID string, err error) {
	return func(messageID string, err error) {
		if err != nil {
			e := &sse.Message{Type: messagesSSEType}
			e.AppendData(string(models.RenderMarkdown(services.StreamFailedMessage)))
			_ = m.sseSrv.Publish(e, messageIDTopic(messageID))
		} else {
			m.publishChatList()
		}

		e := &sse.Message{Type: sse.Type("closeMessage")}
		e.AppendData("bye")
		_ = m.sseSrv.Publish(e)
	}
}

// HandleNewChat creates a new empty session, makes it active, and renders
// the emptied chatbox.
func (m Main) HandleNewChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m.store.NewSession()
	m.publishChatList()
	m.renderChatbox(w)
}

// HandleSelectChat makes the session from the "chat_id" form field active
// and renders its messages.
func (m Main) HandleSelectChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	chatID := r.FormValue("chat_id")
	if !m.store.SelectSession(chatID) {
		http.Error(w, "Chat not found", http.StatusNotFound)
		return
	}

	m.publishChatList()
	m.renderChatbox(w)
}

// HandleDeleteChat removes the session from the "chat_id" form field. If it
// was active, the store selects the next most recent session; the response
// renders whatever became active, or an empty chatbox when no sessions
// remain.
func (m Main) HandleDeleteChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	chatID := r.FormValue("chat_id")
	if !m.store.DeleteSession(chatID) {
		http.Error(w, "Chat not found", http.StatusNotFound)
		return
	}

	m.publishChatList()
	m.renderChatbox(w)
}

func (m Main) renderChatbox(w http.ResponseWriter) {
	data := m.homePageData()
	if err := m.templates.ExecuteTemplate(w, "chatbox", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m Main) publishChatList() {
	divs, err := m.chatDivs()
	if err != nil {
		m.logger.Error("Failed to generate chat divs", slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := sse.Message{Type: chatsSSEType}
	msg.AppendData(divs)
	if err := m.sseSrv.Publish(&msg, chatsSSETopic); err != nil {
		m.logger.Error("Failed to publish chats", slog.String(errLoggerKey, err.Error()))
	}
}

func (m Main) chatDivs() (string, error) {
	activeID := m.store.ActiveSessionID()

	var sb strings.Builder
	for _, ch := range m.store.Sessions() {
		err := m.templates.ExecuteTemplate(&sb, "chat_title", chat{
			ID:     ch.ID,
			Title:  ch.Title,
			Active: ch.ID == activeID,
		})
		if err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}
