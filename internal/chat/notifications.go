package chat

import (
	"sync"

	"github.com/DaiAnhBui/PRJ-Buddy-App/internal/model"
)

// Notifications is the ordered queue of unread messages from conversations
// other than the open one. Most recent first. A message appears at most once;
// redelivery after a reconnect replay is absorbed by the id check.
//
// Dismissal is deliberately narrow: it removes the one clicked entry, not
// every entry for that conversation, so several distinct unread messages from
// the same chat each keep their own slot.
type Notifications struct {
	mu      sync.Mutex
	entries []model.Message
}

func NewNotifications() *Notifications {
	return &Notifications{}
}

// Add prepends a message. Returns false without modifying the queue when a
// message with the same id is already queued.
func (n *Notifications) Add(msg model.Message) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.entries {
		if e.ID == msg.ID {
			return false
		}
	}
	n.entries = append([]model.Message{msg}, n.entries...)
	return true
}

// Dismiss removes exactly the entry with the given message id and returns it,
// or nil when no such entry is queued.
func (n *Notifications) Dismiss(messageID string) *model.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, e := range n.entries {
		if e.ID == messageID {
			removed := e
			n.entries = append(n.entries[:i], n.entries[i+1:]...)
			return &removed
		}
	}
	return nil
}

// Len is the badge count.
func (n *Notifications) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.entries)
}

// All returns a copy of the queue, most recent first.
func (n *Notifications) All() []model.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]model.Message, len(n.entries))
	copy(out, n.entries)
	return out
}
