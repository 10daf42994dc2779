// Package api is the REST collaborator client. Conversations, history and
// group membership live on the backend; this client only moves them over the
// wire, it holds no chat state of its own.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/DaiAnhBui/PRJ-Buddy-App/internal/auth"
	"github.com/DaiAnhBui/PRJ-Buddy-App/internal/model"
)

const defaultTimeout = 10 * time.Second

type Client struct {
	baseURL    string
	tokens     auth.TokenSource
	httpClient *http.Client
}

// NewClient creates a REST client for the given base URL. timeout <= 0 falls
// back to 10s.
func NewClient(baseURL string, tokens auth.TokenSource, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// do issues one authorized JSON request and decodes the response into out
// (skipped when out is nil). Non-2xx statuses become errors carrying the
// backend's error message when it sent one.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s %s: encode body: %w", method, path, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("%s %s: token: %w", method, path, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var er errorResponse
		if json.NewDecoder(resp.Body).Decode(&er) == nil {
			if msg := er.Error; msg != "" {
				return fmt.Errorf("%s %s: %d: %s", method, path, resp.StatusCode, msg)
			}
			if er.Message != "" {
				return fmt.Errorf("%s %s: %d: %s", method, path, resp.StatusCode, er.Message)
			}
		}
		return fmt.Errorf("%s %s: %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}

// ResolveUserID maps the identity provider's username to the backend user id.
func (c *Client) ResolveUserID(ctx context.Context, cognitoUsername string) (string, error) {
	var out struct {
		ID string `json:"_id"`
	}
	path := "/api/userId?cognitoUsername=" + url.QueryEscape(cognitoUsername)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("GET /api/userId: empty _id for %q", cognitoUsername)
	}
	return out.ID, nil
}

// Chats fetches the signed-in user's conversation list.
func (c *Client) Chats(ctx context.Context) ([]model.Chat, error) {
	var chats []model.Chat
	if err := c.do(ctx, http.MethodGet, "/api/chat", nil, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// AccessChat opens (or creates) the direct chat with the given user.
func (c *Client) AccessChat(ctx context.Context, userID string) (model.Chat, error) {
	var chat model.Chat
	body := map[string]string{"userId": userID}
	if err := c.do(ctx, http.MethodPost, "/api/chat", body, &chat); err != nil {
		return model.Chat{}, err
	}
	return chat, nil
}

// Messages fetches the full history for a chat, oldest first.
func (c *Client) Messages(ctx context.Context, chatID string) ([]model.Message, error) {
	var msgs []model.Message
	if err := c.do(ctx, http.MethodGet, "/api/message/"+url.PathEscape(chatID), nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

type sendMessageRequest struct {
	Content string `json:"content"`
	ChatID  string `json:"chatId"`
}

// SendMessage stores one message and returns the canonical stored form, with
// sender and chat populated by the backend.
func (c *Client) SendMessage(ctx context.Context, chatID, content string) (model.Message, error) {
	var msg model.Message
	if err := c.do(ctx, http.MethodPost, "/api/message", sendMessageRequest{Content: content, ChatID: chatID}, &msg); err != nil {
		return model.Message{}, err
	}
	return msg, nil
}

// SearchUsers finds users by full name or username.
func (c *Client) SearchUsers(ctx context.Context, name string) ([]model.User, error) {
	var out struct {
		Users []model.User `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/user?name="+url.QueryEscape(name), nil, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

type createGroupRequest struct {
	Name string `json:"name"`
	// The backend expects the member id array JSON-stringified inside the
	// JSON body. Odd, but it is the wire contract.
	Users string `json:"users"`
}

// CreateGroupChat creates a group chat with the given members.
func (c *Client) CreateGroupChat(ctx context.Context, name string, userIDs []string) (model.Chat, error) {
	ids, err := json.Marshal(userIDs)
	if err != nil {
		return model.Chat{}, fmt.Errorf("encode member ids: %w", err)
	}
	var chat model.Chat
	if err := c.do(ctx, http.MethodPost, "/api/chat/group", createGroupRequest{Name: name, Users: string(ids)}, &chat); err != nil {
		return model.Chat{}, err
	}
	return chat, nil
}

type renameGroupRequest struct {
	ChatID   string `json:"chatId"`
	ChatName string `json:"chatName"`
}

// RenameGroup renames a group chat.
func (c *Client) RenameGroup(ctx context.Context, chatID, name string) (model.Chat, error) {
	var chat model.Chat
	if err := c.do(ctx, http.MethodPut, "/api/chat/rename", renameGroupRequest{ChatID: chatID, ChatName: name}, &chat); err != nil {
		return model.Chat{}, err
	}
	return chat, nil
}

type groupMemberRequest struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// AddToGroup adds a user to a group chat.
func (c *Client) AddToGroup(ctx context.Context, chatID, userID string) (model.Chat, error) {
	var chat model.Chat
	if err := c.do(ctx, http.MethodPut, "/api/chat/groupAdd", groupMemberRequest{ChatID: chatID, UserID: userID}, &chat); err != nil {
		return model.Chat{}, err
	}
	return chat, nil
}

// RemoveFromGroup removes a user from a group chat (also used for leaving).
func (c *Client) RemoveFromGroup(ctx context.Context, chatID, userID string) (model.Chat, error) {
	var chat model.Chat
	if err := c.do(ctx, http.MethodPut, "/api/chat/groupRemove", groupMemberRequest{ChatID: chatID, UserID: userID}, &chat); err != nil {
		return model.Chat{}, err
	}
	return chat, nil
}
