package ws

import (
	"encoding/json"
	"time"

	"github.com/stridecampus/internal/platform"
)

type EventType string

const (
	// Client -> server
	EventSubscribe        EventType = "subscribe"
	EventUnsubscribe      EventType = "unsubscribe"
	EventTyping           EventType = "typing"
	EventTokenAvailable   EventType = "token-available"   // native bridge forwarded the push token
	EventPermissionStatus EventType = "permission-status" // client reports push permission state

	// Server -> client
	EventNotification EventType = "notification"
	EventVoteUpdate   EventType = "vote_update"
	EventChatMessage  EventType = "chat_message"
	EventUserOnline   EventType = "user_online"
	EventUserOffline  EventType = "user_offline"
	EventRequestToken EventType = "request-token" // ask the native bridge for a fresh token
	EventError        EventType = "error"
)

// IncomingMessage is the client frame; Type is the dispatch key and the
// remaining fields are populated per type.
type IncomingMessage struct {
	Type         EventType             `json:"type"`
	Topic        string                `json:"topic,omitempty"`
	ChatID       string                `json:"chat_id,omitempty"`
	IsTyping     bool                  `json:"is_typing,omitempty"`
	Token        string                `json:"token,omitempty"`
	Granted      bool                  `json:"granted,omitempty"`
	// Capabilities optionally accompanies permission-status to re-resolve
	// the channel after the permission prompt.
	Capabilities platform.Capabilities `json:"capabilities,omitempty"`
	Payload      json.RawMessage       `json:"payload,omitempty"`
}

type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Topic   string    `json:"topic,omitempty"`
	Payload any       `json:"payload,omitempty"`
}

type TypingPayload struct {
	ChatID    string    `json:"chat_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	IsTyping  bool      `json:"is_typing"`
	Timestamp time.Time `json:"timestamp"`
}

type UserStatusPayload struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}
