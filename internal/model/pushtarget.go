package model

import "time"

// ChannelKind identifies the push-capable address type registered for a user.
type ChannelKind string

const (
	ChannelExpo    ChannelKind = "expo"    // native app via Expo push gateway
	ChannelWebPush ChannelKind = "webpush" // browser via Web Push (VAPID)
	ChannelNone    ChannelKind = "none"
)

// PushTarget is one user's push address and delivery preference.
// At most one active target per user: registration overwrites, never appends.
type PushTarget struct {
	UserID          string      `json:"user_id"`
	Kind            ChannelKind `json:"kind"`
	Token           string      `json:"token"`
	Enabled         bool        `json:"enabled"`
	LastValidatedAt time.Time   `json:"last_validated_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}
