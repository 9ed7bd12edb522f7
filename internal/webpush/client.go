// Package webpush sends browser push notifications over the Web Push
// protocol with VAPID authentication. It is the PWA fallback channel for
// users without the native app.
package webpush

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	webpushgo "github.com/SherClockHolmes/webpush-go"
)

// Subscription mirrors the browser's PushManager subscription object. The
// token registry stores it serialized as the target token.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// IsSubscription reports whether raw parses as a usable Web Push
// subscription (endpoint plus both encryption keys).
func IsSubscription(raw string) bool {
	var sub Subscription
	if err := json.Unmarshal([]byte(raw), &sub); err != nil {
		return false
	}
	return sub.Endpoint != "" && sub.Keys.P256dh != "" && sub.Keys.Auth != ""
}

// Client wraps VAPID options. A nil Client (no keys configured) makes Send a
// reported no-op so the dispatcher can fall back to in-app delivery.
type Client struct {
	opts *webpushgo.Options
}

func NewClient(subscriber, vapidPublic, vapidPrivate string) *Client {
	if vapidPublic == "" || vapidPrivate == "" {
		return nil
	}
	return &Client{opts: &webpushgo.Options{
		Subscriber:      subscriber,
		VAPIDPublicKey:  vapidPublic,
		VAPIDPrivateKey: vapidPrivate,
		TTL:             30,
	}}
}

// Gone is returned when the push service reports the subscription expired or
// revoked (HTTP 404/410). Callers feed it to the token-clear policy.
var Gone = errors.New("webpush: subscription gone")

// Send pushes the payload to the serialized subscription.
func (c *Client) Send(ctx context.Context, rawSubscription string, payload map[string]any) error {
	if c == nil {
		return fmt.Errorf("webpush: not configured")
	}
	var sub Subscription
	if err := json.Unmarshal([]byte(rawSubscription), &sub); err != nil {
		return fmt.Errorf("webpush: bad subscription: %w", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webpush: marshal payload: %w", err)
	}
	wpSub := &webpushgo.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpushgo.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
	}
	resp, err := webpushgo.SendNotificationWithContext(ctx, body, wpSub, c.opts)
	if err != nil {
		return fmt.Errorf("webpush: send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == 404 || resp.StatusCode == 410 {
		return Gone
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webpush: push service status %d", resp.StatusCode)
	}
	return nil
}
