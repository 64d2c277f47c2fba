package handlers

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	kashwebui "github.com/kash-ai/kash-web-ui"
	"github.com/kash-ai/kash-web-ui/internal/models"
	"github.com/kash-ai/kash-web-ui/internal/services"
	"github.com/tmaxmax/go-sse"
)

// Store is the conversation state the handlers render and mutate: the
// session list, the active session's working message copy, the pending
// composer attachments, and the send operation. It is implemented by
// services.ConversationStore; the handlers perform no business logic of
// their own beyond translating HTTP gestures into these operations.
type Store interface {
	Sessions() []models.ChatSession
	ActiveSessionID() string
	ActiveMessages() []models.Message
	PendingAttachments() []models.Attachment

	NewSession() models.ChatSession
	SelectSession(id string) bool
	DeleteSession(id string) bool

	AddAttachment(att models.Attachment)
	RemoveAttachment(index int) bool

	Send(
		ctx context.Context,
		text string,
		onChunk func(messageID, fragment string),
		onDone func(messageID string, err error),
	) (models.Message, models.Message, error)
}

// Main handles the core functionality of the chat application, managing
// server-sent events, HTML templates, and interactions between the
// conversation store and the preview store.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	store    Store
	previews *services.PreviewStore

	logger *slog.Logger
}

const (
	chatsSSETopic = "chats"
	errLoggerKey  = "err"
)

// SSE event types for real-time updates.
var (
	chatsSSEType    = sse.Type("chats")
	messagesSSEType = sse.Type("messages")
)

// NewMain creates a new Main instance with the provided store and preview
// store. It parses the required HTML templates from the embedded filesystem
// and configures the SSE server to handle both default events and
// chat-specific topics.
func NewMain(store Store, previews *services.PreviewStore, logger *slog.Logger) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		kashwebui.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	return Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				// We start with default topics that all clients should subscribe to
				topics := []string{sse.DefaultTopic, chatsSSETopic}

				// We create a message-specific topic if the client requests updates for a particular message
				messageID := s.Req.URL.Query().Get("message_id")
				if messageID != "" {
					topics = append(topics, messageIDTopic(messageID))
				}

				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      topics,
				}, true
			},
		},
		templates: tmpl,
		store:     store,
		previews:  previews,
		logger:    logger.With(slog.String("module", "handlers")),
	}, nil
}

func messageIDTopic(messageID string) string {
	return fmt.Sprintf("message-%s", messageID)
}

// HandleSSE serves the Server-Sent Events subscriptions for both the chat
// list topic and per-message streaming topics.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

// Shutdown gracefully terminates the Main instance's SSE server. It
// broadcasts a close message to all connected clients and waits up to 5
// seconds for connections to terminate. After the timeout, any remaining
// connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: sse.Type("closeChat")}
	// We create a close event that complies with SSE spec requiring data
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
