package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/DaiAnhBui/PRJ-Buddy-App/internal/logger"
	"github.com/DaiAnhBui/PRJ-Buddy-App/internal/model"
)

var (
	// ErrEmptyMessage is returned by Send before any network call.
	ErrEmptyMessage = errors.New("chat: empty message")
	// ErrNoOpenChat is returned by Send when no conversation is open.
	ErrNoOpenChat = errors.New("chat: no open conversation")
)

// Backend is the REST collaborator surface the session consumes.
type Backend interface {
	Messages(ctx context.Context, chatID string) ([]model.Message, error)
	SendMessage(ctx context.Context, chatID, content string) (model.Message, error)
}

// RoomChannel is the connection-manager surface the session consumes.
type RoomChannel interface {
	JoinChat(chatID string)
	EmitNewMessage(msg model.Message)
}

// NoticeFunc surfaces a transient, non-fatal failure to the user.
type NoticeFunc func(text string)

// Session is the active-conversation view model: the ordered message log for
// the one open conversation, its loading state, and the binding between that
// conversation and the channel's room membership.
//
// Switching conversations discards the previous log and re-fetches. An
// in-flight history fetch for a previous conversation is not cancelled;
// instead every Open bumps a generation counter and a completed fetch is
// applied only if the counter is unchanged.
type Session struct {
	backend Backend
	channel RoomChannel
	notice  NoticeFunc

	mu       sync.Mutex
	open     *model.Chat
	messages []model.Message
	loading  bool
	fetchGen uint64
}

// NewSession creates a session. notice may be nil.
func NewSession(backend Backend, channel RoomChannel, notice NoticeFunc) *Session {
	return &Session{backend: backend, channel: channel, notice: notice}
}

// OpenChatID implements OpenChatRef for the stream router. It reflects the
// open conversation as of the call, not of any earlier registration.
func (s *Session) OpenChatID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open == nil {
		return "", false
	}
	return s.open.ID, true
}

// OpenChat returns the open conversation, or nil.
func (s *Session) OpenChat() *model.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open == nil {
		return nil
	}
	c := *s.open
	return &c
}

// Messages returns a copy of the open conversation's log, oldest first.
func (s *Session) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Loading reports whether a history fetch for the open conversation is
// outstanding.
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Open replaces the open conversation: the previous log is discarded, the
// channel joins the new room, and the history fetch starts asynchronously.
// The comparison reference used for routing flips synchronously with the log
// swap, so an event arriving mid-switch is classified against the new chat.
func (s *Session) Open(ctx context.Context, chat model.Chat) {
	defer logger.DeferLogDuration("session.Open", time.Now())()

	s.mu.Lock()
	s.fetchGen++
	gen := s.fetchGen
	c := chat
	s.open = &c
	s.messages = nil
	s.loading = true
	s.mu.Unlock()

	s.channel.JoinChat(chat.ID)
	go s.fetchHistory(ctx, chat.ID, gen)
}

func (s *Session) fetchHistory(ctx context.Context, chatID string, gen uint64) {
	msgs, err := s.backend.Messages(ctx, chatID)

	s.mu.Lock()
	if s.fetchGen != gen {
		// The user already switched away; this result belongs to a
		// conversation that is no longer open.
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.loading = false
		s.mu.Unlock()
		logger.Errorf("fetch history chat=%s: %v", chatID, err)
		s.post("Failed to load the messages")
		return
	}
	s.messages = msgs
	s.loading = false
	s.mu.Unlock()
}

// Append adds one message to the open log. Used for router-classified appends
// and for the sender's own stored message.
func (s *Session) Append(msg model.Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
}

// appendIfOpen appends only when chatID is still the open conversation, which
// keeps a slow send ack from landing in a different chat's log.
func (s *Session) appendIfOpen(chatID string, msg model.Message) {
	s.mu.Lock()
	if s.open != nil && s.open.ID == chatID {
		s.messages = append(s.messages, msg)
	}
	s.mu.Unlock()
}

// Send stores content in the open conversation. Empty content is rejected
// before any network call. On success the canonical stored message is
// appended and mirrored onto the channel for fan-out. On failure the log is
// left untouched and a transient notice is posted.
func (s *Session) Send(ctx context.Context, content string) (model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return model.Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	open := s.open
	s.mu.Unlock()
	if open == nil {
		return model.Message{}, ErrNoOpenChat
	}

	msg, err := s.backend.SendMessage(ctx, open.ID, content)
	if err != nil {
		logger.Errorf("send message chat=%s: %v", open.ID, err)
		s.post("Failed to send the message")
		return model.Message{}, err
	}

	s.appendIfOpen(open.ID, msg)
	s.channel.EmitNewMessage(msg)
	return msg, nil
}

func (s *Session) post(text string) {
	if s.notice != nil {
		s.notice(text)
	}
}
