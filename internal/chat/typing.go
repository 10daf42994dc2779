package chat

import (
	"sync"
	"time"
)

// DefaultTypingStopDelay is the quiet window after the last keystroke before
// stop_typing goes out.
const DefaultTypingStopDelay = 3000 * time.Millisecond

// TypingEmitter is the slice of the connection manager the coordinator needs.
type TypingEmitter interface {
	Connected() bool
	Typing(chatID string)
	StopTyping(chatID string)
}

// TypingCoordinator tracks the local and remote composing state for the open
// conversation and debounces the outbound stop signal.
//
// The stop timer is never cancelled. Each firing re-validates the elapsed
// time against the latest keystroke: a firing inside the window is a no-op
// that re-arms for the remainder. At most one timer is pending at a time.
type TypingCoordinator struct {
	emitter TypingEmitter
	delay   time.Duration

	mu            sync.Mutex
	chatID        string
	typing        bool
	remote        bool
	lastKeystroke time.Time
	timerPending  bool
}

// NewTypingCoordinator creates a coordinator. delay <= 0 uses the default
// 3000ms window.
func NewTypingCoordinator(emitter TypingEmitter, delay time.Duration) *TypingCoordinator {
	if delay <= 0 {
		delay = DefaultTypingStopDelay
	}
	return &TypingCoordinator{emitter: emitter, delay: delay}
}

// Bind switches the coordinator to a new open conversation, clearing both
// composing flags. Any still-pending timer fires harmlessly: local typing is
// false by then, so the firing is a no-op.
func (t *TypingCoordinator) Bind(chatID string) {
	t.mu.Lock()
	t.chatID = chatID
	t.typing = false
	t.remote = false
	t.mu.Unlock()
}

// Keystroke records one local keystroke. The first keystroke of a burst emits
// typing once; further keystrokes only move the deadline. Keystrokes while
// disconnected touch nothing on the wire.
func (t *TypingCoordinator) Keystroke() {
	if !t.emitter.Connected() {
		return
	}

	t.mu.Lock()
	if t.chatID == "" {
		t.mu.Unlock()
		return
	}
	t.lastKeystroke = time.Now()
	emitStart := !t.typing
	t.typing = true
	armTimer := !t.timerPending
	if armTimer {
		t.timerPending = true
	}
	chatID := t.chatID
	t.mu.Unlock()

	if emitStart {
		t.emitter.Typing(chatID)
	}
	if armTimer {
		time.AfterFunc(t.delay, t.fire)
	}
}

// fire is the stop-timer callback.
func (t *TypingCoordinator) fire() {
	t.mu.Lock()
	if !t.typing {
		t.timerPending = false
		t.mu.Unlock()
		return
	}
	elapsed := time.Since(t.lastKeystroke)
	if elapsed < t.delay {
		// A keystroke landed inside the window: this firing is stale.
		// Re-arm for the remainder instead of emitting.
		remaining := t.delay - elapsed
		t.mu.Unlock()
		time.AfterFunc(remaining, t.fire)
		return
	}
	t.typing = false
	t.timerPending = false
	chatID := t.chatID
	t.mu.Unlock()

	t.emitter.StopTyping(chatID)
}

// StopNow emits stop_typing immediately and returns to idle. Sending a
// message implies the user stopped composing.
func (t *TypingCoordinator) StopNow() {
	t.mu.Lock()
	chatID := t.chatID
	t.typing = false
	t.mu.Unlock()
	if chatID == "" || !t.emitter.Connected() {
		return
	}
	t.emitter.StopTyping(chatID)
}

// SetRemote records the peer's composing state. No debounce: display follows
// the wire immediately.
func (t *TypingCoordinator) SetRemote(on bool) {
	t.mu.Lock()
	t.remote = on
	t.mu.Unlock()
}

// RemoteTyping reports whether the peer is composing (drives the indicator).
func (t *TypingCoordinator) RemoteTyping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remote
}

// IsTyping reports the local composing state.
func (t *TypingCoordinator) IsTyping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typing
}
