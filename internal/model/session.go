package model

import "time"

// ChatSession is one assistant conversation thread kept in the per-user
// session cache. MessageCount always equals len(Messages); the list is
// capacity-bounded with the oldest entries trimmed first.
type ChatSession struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Messages     []ChatMessage `json:"messages"`
	MessageCount int           `json:"message_count"`
	IsActive     bool          `json:"is_active"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// ChatMessage is a single turn inside a ChatSession. IsUser distinguishes
// the student's messages from assistant replies.
type ChatMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	IsUser    bool      `json:"is_user"`
	CreatedAt time.Time `json:"created_at"`
}
