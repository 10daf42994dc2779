// Package buddytest is an in-process Buddy backend: the REST routes and the
// real-time channel endpoint the client consumes, backed by maps. Tests run
// the client against it, and cmd/buddy -dev starts it so the client works
// without a deployed backend.
package buddytest

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/DaiAnhBui/PRJ-Buddy-App/internal/auth"
	"github.com/DaiAnhBui/PRJ-Buddy-App/internal/logger"
	"github.com/DaiAnhBui/PRJ-Buddy-App/internal/model"
	"github.com/DaiAnhBui/PRJ-Buddy-App/internal/socket"
)

// Server holds the fake backend state. All methods are safe for concurrent
// use.
type Server struct {
	mu       sync.Mutex
	users    map[string]model.User // by id
	chats    map[string]model.Chat
	order    []string // chat ids, creation order
	messages map[string][]model.Message
	conns    map[*wsConn]struct{}
}

type wsConn struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	userID string
	joined map[string]struct{}
}

func (c *wsConn) writeFrame(f socket.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = c.conn.WriteJSON(f)
}

func New() *Server {
	return &Server{
		users:    make(map[string]model.User),
		chats:    make(map[string]model.Chat),
		messages: make(map[string][]model.Message),
		conns:    make(map[*wsConn]struct{}),
	}
}

// DevToken mints a locally-signed id token for username. The client never
// verifies signatures, it only reads the claims, so any key works here.
func DevToken(username, name string) string {
	claims := jwt.MapClaims{
		"sub":              uuid.NewString(),
		"cognito:username": username,
		"name":             name,
		"iat":              time.Now().Unix(),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("buddytest-dev"))
	if err != nil {
		panic(err)
	}
	return tok
}

// AddUser registers a user and returns it.
func (s *Server) AddUser(name, username string) model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := model.User{ID: uuid.NewString(), Name: name, CognitoUsername: username}
	s.users[u.ID] = u
	return u
}

// AddGroupChat creates a group chat with the given members; the first member
// is the admin.
func (s *Server) AddGroupChat(name string, members ...model.User) model.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat := model.Chat{ID: uuid.NewString(), ChatName: name, IsGroupChat: true, Users: members}
	if len(members) > 0 {
		admin := members[0]
		chat.GroupAdmin = &admin
	}
	s.chats[chat.ID] = chat
	s.order = append(s.order, chat.ID)
	return chat
}

// AddDirectChat creates a direct chat between two users.
func (s *Server) AddDirectChat(a, b model.User) model.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat := model.Chat{ID: uuid.NewString(), ChatName: "sender", Users: []model.User{a, b}}
	s.chats[chat.ID] = chat
	s.order = append(s.order, chat.ID)
	return chat
}

// SeedMessage stores a message without touching the channel.
func (s *Server) SeedMessage(chatID string, sender model.User, content string) model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := model.Message{ID: uuid.NewString(), Sender: sender, Content: content, Chat: s.chats[chatID]}
	s.messages[chatID] = append(s.messages[chatID], msg)
	return msg
}

// Handler builds the chi router with the REST routes and the channel
// endpoint.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Get("/api/userId", s.handleUserID)
	r.Get("/api/user", s.handleSearchUsers)
	r.Get("/api/chat", s.handleChats)
	r.Post("/api/chat", s.handleAccessChat)
	r.Post("/api/chat/group", s.handleCreateGroup)
	r.Put("/api/chat/rename", s.handleRenameGroup)
	r.Put("/api/chat/groupAdd", s.handleGroupAdd)
	r.Put("/api/chat/groupRemove", s.handleGroupRemove)
	r.Get("/api/message/{chatID}", s.handleMessages)
	r.Post("/api/message", s.handleSendMessage)
	r.Get("/ws", s.handleWS)
	return r
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("buddytest: encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// caller resolves the request's bearer token to a registered user.
func (s *Server) caller(r *http.Request) (model.User, bool) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if raw == "" {
		return model.User{}, false
	}
	id, err := auth.IdentityFromToken(raw)
	if err != nil {
		return model.User{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.CognitoUsername == id.Username {
			return u, true
		}
	}
	return model.User{}, false
}

func (s *Server) handleUserID(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("cognitoUsername")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.CognitoUsername == username {
			writeJSON(w, http.StatusOK, map[string]string{"_id": u.ID})
			return
		}
	}
	writeError(w, http.StatusNotFound, "user not found")
}

func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	name := strings.ToLower(r.URL.Query().Get("name"))
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]model.User, 0)
	for _, u := range s.users {
		if u.ID == caller.ID {
			continue
		}
		if strings.Contains(strings.ToLower(u.Name), name) ||
			strings.Contains(strings.ToLower(u.CognitoUsername), name) {
			users = append(users, u)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	chats := make([]model.Chat, 0)
	// Newest chats first, as the real backend sorts by activity.
	for i := len(s.order) - 1; i >= 0; i-- {
		chat := s.chats[s.order[i]]
		for _, u := range chat.Users {
			if u.ID == caller.ID {
				chats = append(chats, chat)
				break
			}
		}
	}
	writeJSON(w, http.StatusOK, chats)
}

func (s *Server) handleAccessChat(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var body struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	other, ok := s.users[body.UserID]
	if !ok {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	for _, id := range s.order {
		chat := s.chats[id]
		if chat.IsGroupChat || len(chat.Users) != 2 {
			continue
		}
		if (chat.Users[0].ID == caller.ID && chat.Users[1].ID == other.ID) ||
			(chat.Users[1].ID == caller.ID && chat.Users[0].ID == other.ID) {
			writeJSON(w, http.StatusOK, chat)
			return
		}
	}
	chat := model.Chat{ID: uuid.NewString(), ChatName: "sender", Users: []model.User{caller, other}}
	s.chats[chat.ID] = chat
	s.order = append(s.order, chat.ID)
	writeJSON(w, http.StatusOK, chat)
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var body struct {
		Name  string `json:"name"`
		Users string `json:"users"` // JSON-stringified id array, per the wire contract
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeError(w, http.StatusBadRequest, "name and users required")
		return
	}
	var ids []string
	if err := json.Unmarshal([]byte(body.Users), &ids); err != nil {
		writeError(w, http.StatusBadRequest, "users must be a JSON array")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	members := []model.User{caller}
	for _, id := range ids {
		u, ok := s.users[id]
		if !ok {
			writeError(w, http.StatusNotFound, "member not found")
			return
		}
		members = append(members, u)
	}
	admin := caller
	chat := model.Chat{ID: uuid.NewString(), ChatName: body.Name, IsGroupChat: true, Users: members, GroupAdmin: &admin}
	s.chats[chat.ID] = chat
	s.order = append(s.order, chat.ID)
	writeJSON(w, http.StatusOK, chat)
}

func (s *Server) handleRenameGroup(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.caller(r); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var body struct {
		ChatID   string `json:"chatId"`
		ChatName string `json:"chatName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ChatID == "" || body.ChatName == "" {
		writeError(w, http.StatusBadRequest, "chatId and chatName required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[body.ChatID]
	if !ok {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	chat.ChatName = body.ChatName
	s.chats[chat.ID] = chat
	writeJSON(w, http.StatusOK, chat)
}

func (s *Server) handleGroupAdd(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.caller(r); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var body struct {
		ChatID string `json:"chatId"`
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "chatId and userId required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[body.ChatID]
	if !ok {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	u, ok := s.users[body.UserID]
	if !ok {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	for _, m := range chat.Users {
		if m.ID == u.ID {
			writeJSON(w, http.StatusOK, chat)
			return
		}
	}
	chat.Users = append(chat.Users, u)
	s.chats[chat.ID] = chat
	writeJSON(w, http.StatusOK, chat)
}

func (s *Server) handleGroupRemove(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.caller(r); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var body struct {
		ChatID string `json:"chatId"`
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "chatId and userId required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[body.ChatID]
	if !ok {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	for i, m := range chat.Users {
		if m.ID == body.UserID {
			chat.Users = append(chat.Users[:i], chat.Users[i+1:]...)
			break
		}
	}
	s.chats[chat.ID] = chat
	writeJSON(w, http.StatusOK, chat)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.caller(r); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	chatID := chi.URLParam(r, "chatID")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chatID]; !ok {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	msgs := s.messages[chatID]
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var body struct {
		Content string `json:"content"`
		ChatID  string `json:"chatId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Content == "" || body.ChatID == "" {
		writeError(w, http.StatusBadRequest, "content and chatId required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[body.ChatID]
	if !ok {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	msg := model.Message{ID: uuid.NewString(), Sender: caller, Content: body.Content, Chat: chat}
	s.messages[chat.ID] = append(s.messages[chat.ID], msg)
	m := msg
	chat.LatestMessage = &m
	s.chats[chat.ID] = chat
	writeJSON(w, http.StatusOK, msg)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWS runs the channel endpoint: setup is acked with connected, joins
// are recorded per connection, typing frames relay to the joined room, and
// new_message fans out as message_recieved to the chat's other participants.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("buddytest: upgrade: %v", err)
		return
	}
	c := &wsConn{conn: conn, joined: make(map[string]struct{})}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		conn.Close()
	}()

	conn.SetPingHandler(func(appData string) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f socket.Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			continue
		}
		s.handleFrame(c, f)
	}
}

func (s *Server) handleFrame(c *wsConn, f socket.Frame) {
	switch f.Event {
	case socket.EventSetup:
		var p socket.SetupPayload
		if json.Unmarshal(f.Payload, &p) != nil {
			return
		}
		c.mu.Lock()
		c.userID = p.UserID
		c.mu.Unlock()
		c.writeFrame(socket.Frame{Event: socket.EventConnected})
	case socket.EventJoinChat:
		var ref socket.ChatRef
		if json.Unmarshal(f.Payload, &ref) != nil {
			return
		}
		c.mu.Lock()
		c.joined[ref.ChatID] = struct{}{}
		c.mu.Unlock()
	case socket.EventTyping, socket.EventStopTyping:
		var ref socket.ChatRef
		if json.Unmarshal(f.Payload, &ref) != nil {
			return
		}
		s.relayToRoom(c, ref.ChatID, f)
	case socket.EventNewMessage:
		var msg model.Message
		if json.Unmarshal(f.Payload, &msg) != nil {
			return
		}
		s.fanOutMessage(c, msg)
	}
}

// relayToRoom forwards a typing frame to every other connection joined to the
// chat.
func (s *Server) relayToRoom(from *wsConn, chatID string, f socket.Frame) {
	for _, c := range s.snapshot() {
		if c == from {
			continue
		}
		c.mu.Lock()
		_, in := c.joined[chatID]
		c.mu.Unlock()
		if in {
			c.writeFrame(f)
		}
	}
}

// fanOutMessage delivers message_recieved to every other connection whose
// user participates in the message's chat, joined or not. Deciding whether
// that lands inline or as a notification is the client's business.
func (s *Server) fanOutMessage(from *wsConn, msg model.Message) {
	members := make(map[string]struct{}, len(msg.Chat.Users))
	for _, u := range msg.Chat.Users {
		members[u.ID] = struct{}{}
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	out := socket.Frame{Event: socket.EventMessageReceived, Payload: payload}
	for _, c := range s.snapshot() {
		if c == from {
			continue
		}
		c.mu.Lock()
		userID := c.userID
		c.mu.Unlock()
		if _, ok := members[userID]; ok {
			c.writeFrame(out)
		}
	}
}

func (s *Server) snapshot() []*wsConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}
