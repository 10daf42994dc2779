package chat

import (
	"github.com/DaiAnhBui/PRJ-Buddy-App/internal/model"
)

// Outcome classifies one inbound message event.
type Outcome int

const (
	// Append: the message belongs to the open conversation; the caller
	// appends it to the session log.
	Append Outcome = iota
	// Notify: the message belongs elsewhere and was enqueued.
	Notify
	// Ignore: duplicate of an already-queued message (reconnect replay).
	Ignore
)

// OpenChatRef reports the currently open conversation. The router consults it
// on every routing call so the decision always uses the pointer as of message
// arrival, never a value captured when a handler was registered.
type OpenChatRef interface {
	OpenChatID() (string, bool)
}

// Router classifies inbound messages as append-vs-notify and keeps the
// notification queue deduplicated.
type Router struct {
	open    OpenChatRef
	queue   *Notifications
	refresh func()
}

// NewRouter creates a router. refresh, when non-nil, is invoked once per
// Notify outcome to ask the consumer to re-fetch its chat list ordering; it
// is the decoupling between "a message arrived elsewhere" and "re-sort my
// chat list".
func NewRouter(open OpenChatRef, queue *Notifications, refresh func()) *Router {
	return &Router{open: open, queue: queue, refresh: refresh}
}

// Route decides the fate of one inbound message.
func (r *Router) Route(msg model.Message) Outcome {
	if id, ok := r.open.OpenChatID(); ok && id == msg.Chat.ID {
		return Append
	}
	if !r.queue.Add(msg) {
		return Ignore
	}
	if r.refresh != nil {
		r.refresh()
	}
	return Notify
}
