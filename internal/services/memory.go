package services

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kash-ai/kash-web-ui/internal/models"
)

// LLM represents a streaming completion provider. It accepts the ordered
// conversation history, the final entry being the new user turn, and returns
// an iterator that yields response fragments in arrival order, never split,
// merged, or reordered. A transport or provider failure is yielded as a
// terminal error; fragments delivered before it are the only partial output.
type LLM interface {
	Chat(ctx context.Context, messages []models.Message) iter.Seq2[string, error]
}

// StreamFailedMessage replaces the placeholder content when the provider
// call fails. No error subkind is surfaced to the user beyond this text.
const StreamFailedMessage = "**Error:** Failed to generate response. Please check your API key."

var (
	// ErrEmptyMessage rejects a send with no text and no pending attachments.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrSendInFlight rejects a send while another has not yet finished.
	ErrSendInFlight = errors.New("another send is in flight")
)

// ConversationStore owns the in-memory chat state: the session list ordered
// by recency, the active session's working message copy, the pending
// composer attachments, and the single in-flight send. All state is volatile
// and vanishes with the process. Every mutation goes through its methods,
// which are safe for concurrent use.
//
// On provider failure the failed turn stays visible in the working copy but
// is never persisted into the session's stored messages, and the session's
// title and list position are left untouched. This keeps stored history free
// of failed turns; see DESIGN.md for the full policy.
type ConversationStore struct {
	llm      LLM
	previews *PreviewStore
	logger   *slog.Logger

	mu             sync.Mutex
	sessions       []models.ChatSession
	activeID       string
	activeMessages []models.Message
	pending        []models.Attachment

	inFlight        bool
	inFlightSession string
	cancelInFlight  context.CancelFunc
}

// NewConversationStore creates a store with no sessions and no active
// session. The LLM is invoked once per send; previews receives the release
// calls for attachments discarded by store operations.
func NewConversationStore(llm LLM, previews *PreviewStore, logger *slog.Logger) *ConversationStore {
	return &ConversationStore{
		llm:      llm,
		previews: previews,
		logger:   logger.With(slog.String("module", "store")),
	}
}

// Sessions returns the session list, most recently updated first.
func (s *ConversationStore) Sessions() []models.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.sessions)
}

// ActiveSessionID returns the id of the active session, or an empty string
// when no session is active.
func (s *ConversationStore) ActiveSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.activeID
}

// ActiveMessages returns the working copy of the active session's messages.
// During a send this includes the in-flight user turn and placeholder that
// are not yet part of the stored session.
func (s *ConversationStore) ActiveMessages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.activeMessages)
}

// PendingAttachments returns the composer's pending attachments in the
// order their encodes completed.
func (s *ConversationStore) PendingAttachments() []models.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.pending)
}

// NewSession inserts a new empty session at the front of the list, makes it
// active, and clears the working copy and the composer. Pending attachments
// are discarded and their previews released.
func (s *ConversationStore) NewSession() models.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := models.ChatSession{
		ID:        uuid.New().String(),
		Title:     models.DefaultTitle,
		UpdatedAt: time.Now(),
	}
	s.sessions = slices.Insert(s.sessions, 0, sess)
	s.activeID = sess.ID
	s.activeMessages = nil

	for _, att := range s.pending {
		s.previews.Release(att.PreviewID)
	}
	s.pending = nil

	return sess
}

// SelectSession makes the session with the given id active and replaces the
// working copy with its stored messages. It reports whether the id was found;
// an unknown id leaves the store unchanged.
func (s *ConversationStore) SelectSession(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.sessions, func(c models.ChatSession) bool { return c.ID == id })
	if idx == -1 {
		return false
	}

	s.activeID = id
	s.activeMessages = slices.Clone(s.sessions[idx].Messages)
	return true
}

// DeleteSession removes the session with the given id, releases the preview
// handles its messages own, and cancels the in-flight send if this session
// owns it. When the active session is deleted the first remaining session
// becomes active, or the store clears to the no-session state. It reports
// whether the id was found.
func (s *ConversationStore) DeleteSession(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.sessions, func(c models.ChatSession) bool { return c.ID == id })
	if idx == -1 {
		return false
	}

	sess := s.sessions[idx]
	s.sessions = slices.Delete(s.sessions, idx, idx+1)

	if s.inFlight && s.inFlightSession == id && s.cancelInFlight != nil {
		s.cancelInFlight()
	}

	for _, msg := range sess.Messages {
		for _, att := range msg.Attachments {
			s.previews.Release(att.PreviewID)
		}
	}

	if s.activeID == id {
		if len(s.sessions) > 0 {
			s.activeID = s.sessions[0].ID
			s.activeMessages = slices.Clone(s.sessions[0].Messages)
		} else {
			s.activeID = ""
			s.activeMessages = nil
		}
	}
	return true
}

// AddAttachment appends an encoded attachment to the composer's pending
// list. Encodes of multiple files may complete in any order, so the list
// order follows completion, not selection.
func (s *ConversationStore) AddAttachment(att models.Attachment) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, att)
}

// RemoveAttachment drops the pending attachment at the given index and
// releases its preview handle. It reports whether the index was valid.
func (s *ConversationStore) RemoveAttachment(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.pending) {
		return false
	}
	s.previews.Release(s.pending[index].PreviewID)
	s.pending = slices.Delete(s.pending, index, index+1)
	return true
}

// Send runs one conversational turn. It appends the user message (text plus
// the pending composer attachments) and an empty streaming placeholder to
// the working copy, clears the composer, and starts streaming the model
// reply. It returns both messages immediately; streaming continues on a
// separate goroutine.
//
// onChunk, if non-nil, is invoked once per fragment in arrival order, after
// the fragment has been appended to the placeholder. onDone, if non-nil, is
// invoked exactly once when the turn reaches its terminal state, with a nil
// error after Finalized and the provider error after Failed. Both callbacks
// are called sequentially, never concurrently with each other.
//
// A send with no text and no pending attachments returns ErrEmptyMessage.
// A send while another is in flight returns ErrSendInFlight; there is no
// queueing and the in-flight turn is not cancelled.
func (s *ConversationStore) Send(
	ctx context.Context,
	text string,
	onChunk func(messageID, fragment string),
	onDone func(messageID string, err error),
) (models.Message, models.Message, error) {
	s.mu.Lock()

	if s.inFlight {
		s.mu.Unlock()
		return models.Message{}, models.Message{}, ErrSendInFlight
	}
	if strings.TrimSpace(text) == "" && len(s.pending) == 0 {
		s.mu.Unlock()
		return models.Message{}, models.Message{}, ErrEmptyMessage
	}

	// Title derivation is deferred to finalization so a failed first turn
	// leaves the session with the default title.
	if s.activeID == "" {
		sess := models.ChatSession{
			ID:        uuid.New().String(),
			Title:     models.DefaultTitle,
			UpdatedAt: time.Now(),
		}
		s.sessions = slices.Insert(s.sessions, 0, sess)
		s.activeID = sess.ID
		s.activeMessages = nil
	}

	userMsg := models.Message{
		ID:          uuid.New().String(),
		Role:        models.RoleUser,
		Content:     text,
		Attachments: s.pending,
		Timestamp:   time.Now(),
	}
	// Ownership of the pending attachments moves to the message, so their
	// previews are not released here.
	s.pending = nil

	placeholder := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleModel,
		Timestamp: time.Now(),
		Streaming: true,
	}
	s.activeMessages = append(s.activeMessages, userMsg, placeholder)

	// Prior turns plus the new user turn; the placeholder is never sent.
	history := slices.Clone(s.activeMessages[:len(s.activeMessages)-1])

	ctx, cancel := context.WithCancel(ctx)
	s.inFlight = true
	s.inFlightSession = s.activeID
	s.cancelInFlight = cancel
	sessID := s.activeID

	s.mu.Unlock()

	go s.stream(ctx, cancel, sessID, userMsg, placeholder, history, onChunk, onDone)

	return userMsg, placeholder, nil
}

func (s *ConversationStore) stream(
	ctx context.Context,
	cancel context.CancelFunc,
	sessID string,
	userMsg models.Message,
	placeholder models.Message,
	history []models.Message,
	onChunk func(messageID, fragment string),
	onDone func(messageID string, err error),
) {
	defer cancel()

	var sb strings.Builder
	var streamErr error
	for fragment, err := range s.llm.Chat(ctx, history) {
		if err != nil {
			streamErr = err
			break
		}
		sb.WriteString(fragment)
		s.appendFragment(placeholder.ID, fragment)
		if onChunk != nil {
			onChunk(placeholder.ID, fragment)
		}
	}

	// Providers end their iterators silently on context cancellation; a
	// cancelled send still has to reach the Failed state to free the slot.
	if streamErr == nil && ctx.Err() != nil {
		streamErr = ctx.Err()
	}

	if streamErr != nil {
		s.failTurn(placeholder.ID, streamErr)
		if onDone != nil {
			onDone(placeholder.ID, streamErr)
		}
		return
	}

	s.finalizeTurn(sessID, userMsg, placeholder, history, sb.String())
	if onDone != nil {
		onDone(placeholder.ID, nil)
	}
}

func (s *ConversationStore) appendFragment(id, fragment string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.activeMessages {
		if s.activeMessages[i].ID == id {
			s.activeMessages[i].Content += fragment
			return
		}
	}
}

// failTurn overwrites the placeholder with the fixed error message and
// releases the send slot. The stored session is deliberately not touched:
// no message persistence, no title, no reordering.
func (s *ConversationStore) failTurn(id string, streamErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Error("Error from llm provider", slog.String("err", streamErr.Error()))

	for i := range s.activeMessages {
		if s.activeMessages[i].ID == id {
			s.activeMessages[i].Content = StreamFailedMessage
			s.activeMessages[i].Streaming = false
			break
		}
	}

	s.releaseSlotLocked()
}

// finalizeTurn persists the completed turn into its owning session, derives
// the title if this was the session's first stored turn, bumps its recency,
// and re-sorts the session list. Sessions untouched by the sort keep their
// relative order.
func (s *ConversationStore) finalizeTurn(
	sessID string,
	userMsg models.Message,
	placeholder models.Message,
	history []models.Message,
	fullText string,
) {
	s.mu.Lock()
	defer s.mu.Unlock()

	final := placeholder
	final.Content = fullText
	final.Streaming = false

	idx := slices.IndexFunc(s.sessions, func(c models.ChatSession) bool { return c.ID == sessID })
	if idx == -1 {
		// The owning session was deleted mid-stream; nothing to persist.
		s.releaseSlotLocked()
		return
	}

	sess := s.sessions[idx]
	if len(sess.Messages) == 0 {
		sess.Title = models.DeriveTitle(userMsg.Content)
	}
	sess.Messages = append(slices.Clone(history), final)
	sess.UpdatedAt = time.Now()
	s.sessions[idx] = sess

	slices.SortStableFunc(s.sessions, func(a, b models.ChatSession) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})

	if s.activeID == sessID {
		s.activeMessages = slices.Clone(sess.Messages)
	}

	s.releaseSlotLocked()
}

func (s *ConversationStore) releaseSlotLocked() {
	s.inFlight = false
	s.inFlightSession = ""
	s.cancelInFlight = nil
}
