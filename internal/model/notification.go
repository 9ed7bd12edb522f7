package model

import "time"

type NotificationKind string

const (
	KindMessage       NotificationKind = "message"
	KindFollow        NotificationKind = "follow"
	KindEvent         NotificationKind = "event"
	KindStudyReminder NotificationKind = "study_reminder"
	KindAnnouncement  NotificationKind = "announcement"
	KindTest          NotificationKind = "test"
	KindCustom        NotificationKind = "custom"
)

// Notification is the durable in-app notification row. It is written on
// every dispatch regardless of push delivery outcome, so the inbox is the
// source of truth.
type Notification struct {
	ID          string            `json:"id"`
	RecipientID string            `json:"recipient_id"`
	SenderID    string            `json:"sender_id"`
	Kind        NotificationKind  `json:"kind"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	IsRead      bool              `json:"is_read"`
	Data        map[string]string `json:"data,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
