package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DaiAnhBui/PRJ-Buddy-App/internal/model"
)

// wsHarness is a scripted server side of the channel: it hands out every
// accepted connection so a test can read frames, ack, and hang up at will.
type wsHarness struct {
	srv   *httptest.Server
	conns chan *serverConn
}

type serverConn struct {
	ws     *websocket.Conn
	frames chan Frame
}

func newHarness(t *testing.T) *wsHarness {
	t.Helper()
	h := &wsHarness{conns: make(chan *serverConn, 4)}
	up := websocket.Upgrader{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sc := &serverConn{ws: ws, frames: make(chan Frame, 64)}
		h.conns <- sc
		for {
			var f Frame
			if err := ws.ReadJSON(&f); err != nil {
				close(sc.frames)
				return
			}
			sc.frames <- f
		}
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *wsHarness) url() string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http")
}

func (h *wsHarness) accept(t *testing.T) *serverConn {
	t.Helper()
	select {
	case sc := <-h.conns:
		return sc
	case <-time.After(2 * time.Second):
		t.Fatal("no connection arrived")
		return nil
	}
}

// next reads frames until one with the wanted event arrives. The transport may
// legitimately interleave others (a second setup around a racy dial).
func (sc *serverConn) next(t *testing.T, event Event) Frame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case f, ok := <-sc.frames:
			if !ok {
				t.Fatalf("connection closed while waiting for %s", event)
			}
			if f.Event == event {
				return f
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", event)
		}
	}
}

// countWithin drains frames for the window and counts those matching event.
func (sc *serverConn) countWithin(window time.Duration, event Event) int {
	n := 0
	deadline := time.After(window)
	for {
		select {
		case f, ok := <-sc.frames:
			if !ok {
				return n
			}
			if f.Event == event {
				n++
			}
		case <-deadline:
			return n
		}
	}
}

func (sc *serverConn) ack(t *testing.T) {
	t.Helper()
	require.NoError(t, sc.ws.WriteJSON(Frame{Event: EventConnected}))
}

func (sc *serverConn) push(t *testing.T, event Event, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, sc.ws.WriteJSON(Frame{Event: event, Payload: data}))
}

func dialConn(t *testing.T, h *wsHarness) *Conn {
	t.Helper()
	c := New(h.url(), 10*time.Millisecond, 50*time.Millisecond)
	t.Cleanup(c.Close)
	c.Connect(context.Background())
	return c
}

func TestConn_SetupAndConnectedAck(t *testing.T) {
	h := newHarness(t)
	c := dialConn(t, h)
	sc := h.accept(t)

	connected := make(chan struct{}, 1)
	c.OnConnected(func() { connected <- struct{}{} })

	c.Setup("user-1")
	f := sc.next(t, EventSetup)
	var setup SetupPayload
	require.NoError(t, json.Unmarshal(f.Payload, &setup))
	assert.Equal(t, "user-1", setup.UserID)

	assert.False(t, c.Connected(), "not connected until the server acks")

	sc.ack(t)
	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("connected handler never fired")
	}
	assert.True(t, c.Connected())
}

func TestConn_JoinBeforeAckIsReplayedExactlyOnce(t *testing.T) {
	h := newHarness(t)
	c := dialConn(t, h)
	sc := h.accept(t)

	c.Setup("user-1")
	sc.next(t, EventSetup)

	// Not yet acked: the join is recorded but must not go out now.
	c.JoinChat("chatA")

	sc.ack(t)
	f := sc.next(t, EventJoinChat)
	var ref ChatRef
	require.NoError(t, json.Unmarshal(f.Payload, &ref))
	assert.Equal(t, "chatA", ref.ChatID)

	assert.Equal(t, 0, sc.countWithin(150*time.Millisecond, EventJoinChat),
		"the pre-ack join must not be sent twice")
}

func TestConn_JoinWhileLiveIsImmediate(t *testing.T) {
	h := newHarness(t)
	c := dialConn(t, h)
	sc := h.accept(t)

	c.Setup("user-1")
	sc.next(t, EventSetup)
	sc.ack(t)
	require.Eventually(t, c.Connected, 2*time.Second, 5*time.Millisecond)

	c.JoinChat("chatB")
	f := sc.next(t, EventJoinChat)
	var ref ChatRef
	require.NoError(t, json.Unmarshal(f.Payload, &ref))
	assert.Equal(t, "chatB", ref.ChatID)
}

func TestConn_TypingSuppressedUntilConnected(t *testing.T) {
	h := newHarness(t)
	c := dialConn(t, h)
	sc := h.accept(t)

	c.Typing("chatA")
	c.StopTyping("chatA")
	assert.Equal(t, 0, sc.countWithin(100*time.Millisecond, EventTyping))
	assert.Equal(t, 0, sc.countWithin(10*time.Millisecond, EventStopTyping))

	sc.ack(t)
	require.Eventually(t, c.Connected, 2*time.Second, 5*time.Millisecond)

	c.Typing("chatA")
	sc.next(t, EventTyping)
	c.StopTyping("chatA")
	sc.next(t, EventStopTyping)
}

func TestConn_InboundDispatch(t *testing.T) {
	h := newHarness(t)
	c := dialConn(t, h)
	sc := h.accept(t)

	typing := make(chan string, 1)
	stopped := make(chan string, 1)
	msgs := make(chan model.Message, 1)
	c.OnTypingStart(func(chatID string) { typing <- chatID })
	c.OnTypingStop(func(chatID string) { stopped <- chatID })
	c.OnMessage(func(m model.Message) { msgs <- m })

	sc.ack(t)
	sc.push(t, EventTyping, ChatRef{ChatID: "chatA"})
	sc.push(t, EventStopTyping, ChatRef{ChatID: "chatA"})
	sc.push(t, EventMessageReceived, model.Message{
		ID:      "m1",
		Content: "hi",
		Chat:    model.Chat{ID: "chatA"},
	})

	select {
	case id := <-typing:
		assert.Equal(t, "chatA", id)
	case <-time.After(2 * time.Second):
		t.Fatal("typing never dispatched")
	}
	select {
	case id := <-stopped:
		assert.Equal(t, "chatA", id)
	case <-time.After(2 * time.Second):
		t.Fatal("stop_typing never dispatched")
	}
	select {
	case m := <-msgs:
		assert.Equal(t, "m1", m.ID)
		assert.Equal(t, "chatA", m.Chat.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("message never dispatched")
	}
}

func TestConn_RedialReplaysSetupAndJoins(t *testing.T) {
	h := newHarness(t)
	c := dialConn(t, h)
	sc := h.accept(t)

	c.Setup("user-1")
	sc.next(t, EventSetup)
	c.JoinChat("chatA")
	sc.ack(t)
	sc.next(t, EventJoinChat)
	require.Eventually(t, c.Connected, 2*time.Second, 5*time.Millisecond)

	// Server drops the connection; the transport redials on its own.
	sc.ws.Close()
	require.Eventually(t, func() bool { return !c.Connected() }, 2*time.Second, 5*time.Millisecond)

	sc2 := h.accept(t)
	f := sc2.next(t, EventSetup)
	var setup SetupPayload
	require.NoError(t, json.Unmarshal(f.Payload, &setup))
	assert.Equal(t, "user-1", setup.UserID, "identity re-registered after redial")

	sc2.ack(t)
	f = sc2.next(t, EventJoinChat)
	var ref ChatRef
	require.NoError(t, json.Unmarshal(f.Payload, &ref))
	assert.Equal(t, "chatA", ref.ChatID, "outstanding join replayed on fresh ack")
	require.Eventually(t, c.Connected, 2*time.Second, 5*time.Millisecond)
}

func TestConn_DialFailureSurfacesOnErrors(t *testing.T) {
	c := New("ws://127.0.0.1:1", 10*time.Millisecond, 20*time.Millisecond)
	t.Cleanup(c.Close)
	c.Connect(context.Background())

	select {
	case err := <-c.Errors():
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dial failure never reported")
	}
}

func TestConn_SendBufferOverflowDropsAndReports(t *testing.T) {
	// Never connected: frames pile up in the send buffer until it is full,
	// after which emits are dropped and reported rather than blocking.
	c := New("ws://127.0.0.1:1", time.Hour, time.Hour)
	t.Cleanup(c.Close)

	for i := 0; i <= sendBufSize; i++ {
		c.EmitNewMessage(model.Message{ID: "m", Content: "x"})
	}

	select {
	case err := <-c.Errors():
		assert.Contains(t, err.Error(), "send buffer full")
	case <-time.After(time.Second):
		t.Fatal("overflow never reported")
	}
}
