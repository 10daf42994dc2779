package chat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmitter struct {
	mu        sync.Mutex
	connected bool
	typing    []string
	stops     []string
}

func (f *fakeEmitter) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeEmitter) Typing(chatID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, chatID)
}

func (f *fakeEmitter) StopTyping(chatID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, chatID)
}

func (f *fakeEmitter) counts() (typing, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.typing), len(f.stops)
}

func TestTyping_OneStartPerBurstOneStopAfterQuiet(t *testing.T) {
	em := &fakeEmitter{connected: true}
	tc := NewTypingCoordinator(em, 150*time.Millisecond)
	tc.Bind("chatA")

	for i := 0; i < 5; i++ {
		tc.Keystroke()
		time.Sleep(10 * time.Millisecond)
	}

	starts, stops := em.counts()
	assert.Equal(t, 1, starts, "typing emitted once per contiguous burst")
	assert.Equal(t, 0, stops, "no stop while still inside the quiet window")
	assert.True(t, tc.IsTyping())

	require.Eventually(t, func() bool {
		_, stops := em.counts()
		return stops == 1
	}, time.Second, 10*time.Millisecond)

	starts, stops = em.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
	assert.False(t, tc.IsTyping())

	em.mu.Lock()
	assert.Equal(t, "chatA", em.typing[0])
	assert.Equal(t, "chatA", em.stops[0])
	em.mu.Unlock()
}

func TestTyping_KeystrokeInsideWindowDefersStop(t *testing.T) {
	em := &fakeEmitter{connected: true}
	tc := NewTypingCoordinator(em, 200*time.Millisecond)
	tc.Bind("chatA")

	tc.Keystroke()
	time.Sleep(100 * time.Millisecond)
	tc.Keystroke()

	// The first timer fires around t=200ms, sees the fresher keystroke and
	// re-arms instead of emitting.
	time.Sleep(120 * time.Millisecond)
	_, stops := em.counts()
	assert.Equal(t, 0, stops, "stale firing must be a no-op")

	require.Eventually(t, func() bool {
		_, stops := em.counts()
		return stops == 1
	}, time.Second, 10*time.Millisecond)

	starts, stops := em.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
}

func TestTyping_NewBurstAfterStop(t *testing.T) {
	em := &fakeEmitter{connected: true}
	tc := NewTypingCoordinator(em, 50*time.Millisecond)
	tc.Bind("chatA")

	tc.Keystroke()
	require.Eventually(t, func() bool {
		_, stops := em.counts()
		return stops == 1
	}, time.Second, 5*time.Millisecond)

	tc.Keystroke()
	starts, _ := em.counts()
	assert.Equal(t, 2, starts, "a fresh burst re-emits typing")
}

func TestTyping_DisconnectedKeystrokesEmitNothing(t *testing.T) {
	em := &fakeEmitter{connected: false}
	tc := NewTypingCoordinator(em, 50*time.Millisecond)
	tc.Bind("chatA")

	tc.Keystroke()
	tc.Keystroke()

	time.Sleep(120 * time.Millisecond)
	starts, stops := em.counts()
	assert.Equal(t, 0, starts)
	assert.Equal(t, 0, stops)
	assert.False(t, tc.IsTyping())
}

func TestTyping_StopNowEndsTheBurst(t *testing.T) {
	em := &fakeEmitter{connected: true}
	tc := NewTypingCoordinator(em, 100*time.Millisecond)
	tc.Bind("chatA")

	tc.Keystroke()
	tc.StopNow()

	_, stops := em.counts()
	assert.Equal(t, 1, stops)
	assert.False(t, tc.IsTyping())

	// The still-pending timer fires later and must not emit a second stop.
	time.Sleep(250 * time.Millisecond)
	_, stops = em.counts()
	assert.Equal(t, 1, stops)
}

func TestTyping_RemoteIsImmediate(t *testing.T) {
	em := &fakeEmitter{connected: true}
	tc := NewTypingCoordinator(em, 100*time.Millisecond)
	tc.Bind("chatA")

	assert.False(t, tc.RemoteTyping())
	tc.SetRemote(true)
	assert.True(t, tc.RemoteTyping())
	tc.SetRemote(false)
	assert.False(t, tc.RemoteTyping())

	// Switching conversations clears the indicator.
	tc.SetRemote(true)
	tc.Bind("chatB")
	assert.False(t, tc.RemoteTyping())
}
