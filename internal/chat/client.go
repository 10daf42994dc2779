// Package chat is the messaging core: the conversation session, the message
// stream router, the typing coordinator and the notification queue, assembled
// around a REST backend and a real-time channel.
package chat

import (
	"context"
	"strings"
	"time"

	"github.com/DaiAnhBui/PRJ-Buddy-App/internal/model"
)

// Channel is the full connection-manager surface the core binds to. The
// handler slots are single-subscriber (last writer wins); the core registers
// its handlers once in New and routes everything internally.
type Channel interface {
	RoomChannel
	TypingEmitter
	OnMessage(func(model.Message))
	OnTypingStart(func(chatID string))
	OnTypingStop(func(chatID string))
}

type Options struct {
	// TypingStopDelay is the quiet window before stop_typing; zero means
	// the default 3000ms.
	TypingStopDelay time.Duration
	// Notice receives transient failure texts (the toast equivalent).
	Notice NoticeFunc
	// OnRefresh is invoked when a message lands in a non-open conversation,
	// asking the consumer to re-fetch its chat list ordering.
	OnRefresh func()
}

// Client ties the core components together and owns the channel handler
// registrations.
type Client struct {
	session *Session
	typing  *TypingCoordinator
	queue   *Notifications
	router  *Router
}

// New assembles the messaging core. The routing decision reads the session's
// open-conversation cell on every inbound event, so a conversation switch
// between two channel events is always honored.
func New(backend Backend, ch Channel, opts Options) *Client {
	queue := NewNotifications()
	session := NewSession(backend, ch, opts.Notice)
	typing := NewTypingCoordinator(ch, opts.TypingStopDelay)
	router := NewRouter(session, queue, opts.OnRefresh)

	ch.OnMessage(func(msg model.Message) {
		if router.Route(msg) == Append {
			session.Append(msg)
		}
	})
	ch.OnTypingStart(func(chatID string) {
		if id, ok := session.OpenChatID(); ok && id == chatID {
			typing.SetRemote(true)
		}
	})
	ch.OnTypingStop(func(chatID string) {
		if id, ok := session.OpenChatID(); ok && id == chatID {
			typing.SetRemote(false)
		}
	})

	return &Client{session: session, typing: typing, queue: queue, router: router}
}

// Open switches the active conversation and rebinds the typing coordinator.
func (c *Client) Open(ctx context.Context, chat model.Chat) {
	c.session.Open(ctx, chat)
	c.typing.Bind(chat.ID)
}

// Send stores content in the open conversation. Sending implies the user
// stopped composing, so stop_typing goes out first.
func (c *Client) Send(ctx context.Context, content string) (model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return model.Message{}, ErrEmptyMessage
	}
	c.typing.StopNow()
	return c.session.Send(ctx, content)
}

// Keystroke records one keystroke in the open conversation's input.
func (c *Client) Keystroke() {
	c.typing.Keystroke()
}

// OpenNotification dismisses the clicked notification and opens its
// conversation. Returns false when the notification is no longer queued.
func (c *Client) OpenNotification(ctx context.Context, messageID string) bool {
	msg := c.queue.Dismiss(messageID)
	if msg == nil {
		return false
	}
	c.Open(ctx, msg.Chat)
	return true
}

// Messages is the open conversation's log, oldest first.
func (c *Client) Messages() []model.Message { return c.session.Messages() }

// Loading reports whether the history fetch is outstanding.
func (c *Client) Loading() bool { return c.session.Loading() }

// OpenChat is the open conversation, or nil.
func (c *Client) OpenChat() *model.Chat { return c.session.OpenChat() }

// RemoteTyping reports whether the peer in the open conversation is composing.
func (c *Client) RemoteTyping() bool { return c.typing.RemoteTyping() }

// Notifications is the queued cross-conversation messages, most recent first.
func (c *Client) Notifications() []model.Message { return c.queue.All() }

// NotificationCount is the badge count.
func (c *Client) NotificationCount() int { return c.queue.Len() }
