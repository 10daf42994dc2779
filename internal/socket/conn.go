// Package socket owns the one live bidirectional channel per signed-in
// session. It dials, registers identity, scopes delivery with chat joins, and
// recovers after silent reconnects by replaying setup and the outstanding
// joins when the server acknowledges a fresh connection.
package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/DaiAnhBui/PRJ-Buddy-App/internal/logger"
	"github.com/DaiAnhBui/PRJ-Buddy-App/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 65536
	sendBufSize    = 256
	errBufSize     = 16
)

// Conn is the connection manager. Handler registration is single-subscriber:
// registering a handler for an event kind replaces the previous one. Only one
// conversation view is live at a time, so the last writer is always the
// active surface.
type Conn struct {
	url      string
	minDelay time.Duration
	maxDelay time.Duration

	mu        sync.Mutex
	userID    string
	joined    map[string]struct{}
	connected bool
	started   bool

	onConnected  func()
	onTyping     func(chatID string)
	onStopTyping func(chatID string)
	onMessage    func(model.Message)

	send chan Frame
	errs chan error
	done chan struct{}
	once sync.Once
}

// New creates a connection manager for the given ws:// endpoint. Delays bound
// the redial backoff; zero values get sane defaults.
func New(url string, minDelay, maxDelay time.Duration) *Conn {
	if minDelay <= 0 {
		minDelay = 500 * time.Millisecond
	}
	if maxDelay < minDelay {
		maxDelay = 15 * time.Second
	}
	return &Conn{
		url:      url,
		minDelay: minDelay,
		maxDelay: maxDelay,
		joined:   make(map[string]struct{}),
		send:     make(chan Frame, sendBufSize),
		errs:     make(chan error, errBufSize),
		done:     make(chan struct{}),
	}
}

// Connect establishes the channel. Idempotent: subsequent calls are no-ops.
// Redialing after a drop is the transport's own job; callers never retry.
func (c *Conn) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()
	go c.run(ctx)
}

// Close tears the channel down. Safe to call multiple times.
func (c *Conn) Close() {
	c.once.Do(func() { close(c.done) })
}

// Connected reports whether the server has acknowledged the current dial.
// Typing signals are suppressed while this is false.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Errors delivers connection-establishment and send failures. The consumer
// surfaces them as transient notices; nothing here is fatal.
func (c *Conn) Errors() <-chan error {
	return c.errs
}

// OnConnected registers the handler invoked on each server connection ack,
// including the ack after a silent reconnect. Last writer wins.
func (c *Conn) OnConnected(fn func()) {
	c.mu.Lock()
	c.onConnected = fn
	c.mu.Unlock()
}

// OnTypingStart registers the remote-typing handler. Last writer wins.
func (c *Conn) OnTypingStart(fn func(chatID string)) {
	c.mu.Lock()
	c.onTyping = fn
	c.mu.Unlock()
}

// OnTypingStop registers the remote-stopped-typing handler. Last writer wins.
func (c *Conn) OnTypingStop(fn func(chatID string)) {
	c.mu.Lock()
	c.onStopTyping = fn
	c.mu.Unlock()
}

// OnMessage registers the inbound message handler. Last writer wins.
func (c *Conn) OnMessage(fn func(model.Message)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// Setup associates the channel with a user id. Call once after the id becomes
// known and before any join. The id is kept for replay on reconnect.
func (c *Conn) Setup(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
	c.emit(EventSetup, SetupPayload{UserID: userID})
}

// JoinChat scopes delivery to a chat. Joins accumulate; none replaces a prior
// one. The set of outstanding joins is replayed on every fresh connection ack.
func (c *Conn) JoinChat(chatID string) {
	c.mu.Lock()
	c.joined[chatID] = struct{}{}
	live := c.connected
	c.mu.Unlock()
	// When not connected the join is only recorded: the connected ack will
	// replay it, and sending it now would just double up.
	if live {
		c.emit(EventJoinChat, ChatRef{ChatID: chatID})
	}
}

// Typing signals the peer that the local user is composing. Dropped silently
// while disconnected.
func (c *Conn) Typing(chatID string) {
	if !c.Connected() {
		return
	}
	c.emit(EventTyping, ChatRef{ChatID: chatID})
}

// StopTyping signals the end of a composing burst. Dropped silently while
// disconnected.
func (c *Conn) StopTyping(chatID string) {
	if !c.Connected() {
		return
	}
	c.emit(EventStopTyping, ChatRef{ChatID: chatID})
}

// EmitNewMessage mirrors a stored message onto the channel so the server can
// fan it out to the other participants.
func (c *Conn) EmitNewMessage(msg model.Message) {
	c.emit(EventNewMessage, msg)
}

func (c *Conn) emit(event Event, payload any) {
	f, err := newFrame(event, payload)
	if err != nil {
		c.reportErr(err)
		return
	}
	select {
	case c.send <- f:
	case <-c.done:
	default:
		// Backpressure: the buffer only fills when the link is down for a
		// while. Drop and report instead of blocking the caller.
		logger.Errorf("socket: send buffer full, dropping %s", event)
		c.reportErr(errSendBufferFull(event))
	}
}

func errSendBufferFull(event Event) error {
	return fmt.Errorf("socket: send buffer full, dropped %s", event)
}

func (c *Conn) reportErr(err error) {
	select {
	case c.errs <- err:
	default:
	}
}

// run owns the dial-serve-redial loop for the lifetime of the session.
func (c *Conn) run(ctx context.Context) {
	delay := c.minDelay
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			c.reportErr(err)
			logger.Errorf("socket: dial %s: %v", c.url, err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			case <-c.done:
				return
			}
			delay *= 2
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
			continue
		}
		delay = c.minDelay

		// The server forgot us across the redial: re-register identity
		// before anything else. The joins are replayed only once the server
		// acks with a connected event.
		c.mu.Lock()
		userID := c.userID
		c.mu.Unlock()
		if userID != "" {
			c.emit(EventSetup, SetupPayload{UserID: userID})
		}

		c.serve(ctx, ws)

		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
			logger.Info("socket: connection lost, redialing")
		}
	}
}

// serve runs the write pump in a goroutine and reads inbound frames until the
// connection fails or the session ends.
func (c *Conn) serve(ctx context.Context, ws *websocket.Conn) {
	defer ws.Close()

	writerDone := make(chan struct{})
	go c.writePump(ctx, ws, writerDone)
	defer func() { <-writerDone }()

	ws.SetReadLimit(maxMessageSize)
	if err := ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Errorf("socket: set read deadline: %v", err)
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("socket: read: %v", err)
			}
			return
		}
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			logger.Errorf("socket: unmarshal frame: %v", err)
			continue
		}
		c.dispatch(f)
	}
}

func (c *Conn) writePump(ctx context.Context, ws *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = ws.WriteMessage(websocket.CloseMessage, nil)
			return
		case <-c.done:
			_ = ws.WriteMessage(websocket.CloseMessage, nil)
			return
		case f := <-c.send:
			if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := ws.WriteJSON(f); err != nil {
				c.reportErr(err)
				return
			}
		case <-ticker.C:
			if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch routes one inbound frame to the registered handler. Handlers are
// invoked on the read goroutine, so per-connection ordering is preserved.
func (c *Conn) dispatch(f Frame) {
	switch f.Event {
	case EventConnected:
		c.mu.Lock()
		c.connected = true
		joins := make([]string, 0, len(c.joined))
		for id := range c.joined {
			joins = append(joins, id)
		}
		fn := c.onConnected
		c.mu.Unlock()
		// Idempotent recovery: a fresh ack means the server-side room state
		// is gone, so every outstanding join is replayed.
		for _, id := range joins {
			c.emit(EventJoinChat, ChatRef{ChatID: id})
		}
		if fn != nil {
			fn()
		}
	case EventTyping:
		var ref ChatRef
		if err := json.Unmarshal(f.Payload, &ref); err != nil {
			logger.Errorf("socket: typing payload: %v", err)
			return
		}
		c.mu.Lock()
		fn := c.onTyping
		c.mu.Unlock()
		if fn != nil {
			fn(ref.ChatID)
		}
	case EventStopTyping:
		var ref ChatRef
		if err := json.Unmarshal(f.Payload, &ref); err != nil {
			logger.Errorf("socket: stop_typing payload: %v", err)
			return
		}
		c.mu.Lock()
		fn := c.onStopTyping
		c.mu.Unlock()
		if fn != nil {
			fn(ref.ChatID)
		}
	case EventMessageReceived:
		var msg model.Message
		if err := json.Unmarshal(f.Payload, &msg); err != nil {
			logger.Errorf("socket: message payload: %v", err)
			return
		}
		c.mu.Lock()
		fn := c.onMessage
		c.mu.Unlock()
		if fn != nil {
			fn(msg)
		}
	default:
		logger.Infof("socket: ignoring unknown event %q", f.Event)
	}
}
