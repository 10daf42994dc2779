// Package model holds the wire types shared with the Buddy backend. Field
// names follow the backend's Mongo-style JSON (hence "_id").
package model

type User struct {
	ID              string `json:"_id"`
	Name            string `json:"name"`
	CognitoUsername string `json:"cognitoUsername,omitempty"`
	Email           string `json:"email,omitempty"`
	Pic             string `json:"pic,omitempty"`
}

// Chat is a direct or group conversation. For direct chats ChatName is the
// backend's placeholder ("sender") and the display name is derived from Users.
type Chat struct {
	ID            string   `json:"_id"`
	ChatName      string   `json:"chatName"`
	IsGroupChat   bool     `json:"isGroupChat"`
	Users         []User   `json:"users"`
	GroupAdmin    *User    `json:"groupAdmin,omitempty"`
	LatestMessage *Message `json:"latestMessage,omitempty"`
}

// Message is one chat utterance. The backend populates Chat on every message,
// which is what lets the stream router classify arrivals without extra lookups.
type Message struct {
	ID      string `json:"_id"`
	Sender  User   `json:"sender"`
	Content string `json:"content"`
	Chat    Chat   `json:"chat"`
}

// DisplayName returns the conversation title: the group name for group chats,
// otherwise the other participant's name.
func (c Chat) DisplayName(selfUsername string) string {
	if c.IsGroupChat {
		return c.ChatName
	}
	for _, u := range c.Users {
		if u.CognitoUsername != selfUsername {
			return u.Name
		}
	}
	return "Unknown sender"
}
