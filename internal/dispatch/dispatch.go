// Package dispatch delivers a notification across three independent
// channels: the push gateway, the durable in-app inbox row, and a realtime
// broadcast. One channel's failure never blocks another; the aggregate
// result reports which channels succeeded.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stridecampus/internal/expo"
	"github.com/stridecampus/internal/logger"
	"github.com/stridecampus/internal/model"
	"github.com/stridecampus/internal/realtime"
	"github.com/stridecampus/internal/tokens"
	"github.com/stridecampus/internal/webpush"
)

// Result reports per-channel outcomes for one recipient. Success is true
// when at least one channel delivered; callers must not treat a single
// channel failure as a hard error.
type Result struct {
	RecipientID              string   `json:"recipient_id"`
	Success                  bool     `json:"success"`
	ExpoPushSent             bool     `json:"expo_push_sent"`
	InAppNotificationCreated bool     `json:"in_app_notification_created"`
	RealtimeEventTriggered   bool     `json:"realtime_event_triggered"`
	Errors                   []string `json:"errors"`
}

// ErrAllChannelsFailed is returned (wrapped) when push, inbox write and
// realtime broadcast all failed for a recipient.
var ErrAllChannelsFailed = errors.New("dispatch: all delivery channels failed")

// TokenSource resolves a usable push target and applies the clear policy on
// gateway errors. Implemented by tokens.Registry.
type TokenSource interface {
	Usable(ctx context.Context, userID string) (*model.PushTarget, error)
	HandleGatewayError(ctx context.Context, userID, code string)
}

// ExpoSender sends one message through the Expo gateway (retry included).
type ExpoSender interface {
	Send(ctx context.Context, msg expo.Message) (*expo.Ticket, error)
}

// WebPushSender pushes a payload to a serialized browser subscription.
type WebPushSender interface {
	Send(ctx context.Context, rawSubscription string, payload map[string]any) error
}

// RecordStore writes the durable in-app notification row.
// Implemented by repository.NotificationRepository.
type RecordStore interface {
	Create(ctx context.Context, n *model.Notification) error
}

// RecipientResolver resolves campus-wide recipient lists.
// Implemented by repository.UserRepository.
type RecipientResolver interface {
	ListIDsBySchoolDomain(ctx context.Context, domain string) ([]string, error)
}

type Dispatcher struct {
	registry  TokenSource
	expo      ExpoSender
	web       WebPushSender
	records   RecordStore
	publisher realtime.Publisher
	resolver  RecipientResolver

	// Web Push retry: delay = retryBase × attempt number. The Expo client
	// carries its own identical policy.
	maxAttempts int
	retryBase   time.Duration
}

func NewDispatcher(
	registry TokenSource,
	expoClient ExpoSender,
	webClient WebPushSender,
	records RecordStore,
	publisher realtime.Publisher,
	resolver RecipientResolver,
) *Dispatcher {
	return &Dispatcher{
		registry:    registry,
		expo:        expoClient,
		web:         webClient,
		records:     records,
		publisher:   publisher,
		resolver:    resolver,
		maxAttempts: 3,
		retryBase:   500 * time.Millisecond,
	}
}

// Send runs the three-step delivery for one recipient.
// A validation error is returned before any I/O. After that the only error
// condition is all three channels failing; partial failure resolves with
// Success=true and the failed channels listed in Errors.
func (d *Dispatcher) Send(ctx context.Context, recipientID string, p Payload) (*Result, error) {
	defer logger.DeferLogDuration("dispatch.Send", time.Now())()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	res := d.deliver(ctx, recipientID, p)
	if !res.Success {
		return res, fmt.Errorf("%w: recipient=%s: %v", ErrAllChannelsFailed, recipientID, res.Errors)
	}
	return res, nil
}

// SendBatch delivers to every recipient concurrently. Failures are captured
// per recipient; one recipient's total failure never affects the others.
// Results are returned in input order.
func (d *Dispatcher) SendBatch(ctx context.Context, recipientIDs []string, p Payload) ([]Result, error) {
	defer logger.DeferLogDuration("dispatch.SendBatch", time.Now())()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	results := make([]Result, len(recipientIDs))
	var wg sync.WaitGroup
	for i, id := range recipientIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("dispatch: panic for recipient %s: %v", id, r)
					results[i] = Result{RecipientID: id, Errors: []string{fmt.Sprintf("panic: %v", r)}}
				}
			}()
			results[i] = *d.deliver(ctx, id, p)
		}(i, id)
	}
	wg.Wait()
	return results, nil
}

// SendCampus resolves recipients by institution domain and delegates to
// SendBatch.
func (d *Dispatcher) SendCampus(ctx context.Context, domain string, p Payload) ([]Result, error) {
	defer logger.DeferLogDuration("dispatch.SendCampus", time.Now())()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	ids, err := d.resolver.ListIDsBySchoolDomain(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("dispatch: resolve campus %s: %w", domain, err)
	}
	return d.SendBatch(ctx, ids, p)
}

// deliver runs steps A (push), B (inbox row) and C (realtime broadcast)
// independently. The three race; clients must treat them as eventually
// consistent, not ordered.
func (d *Dispatcher) deliver(ctx context.Context, recipientID string, p Payload) *Result {
	res := &Result{RecipientID: recipientID, Errors: []string{}}

	// Step A: push gateway, only when a usable target exists.
	if err := d.sendPush(ctx, recipientID, p); err != nil {
		if !errors.Is(err, errNoTarget) {
			res.Errors = append(res.Errors, "push: "+err.Error())
		}
	} else {
		res.ExpoPushSent = true
	}

	// Step B: always write the inbox row, independent of step A.
	if err := d.createRecord(ctx, recipientID, p); err != nil {
		res.Errors = append(res.Errors, "in_app: "+err.Error())
	} else {
		res.InAppNotificationCreated = true
	}

	// Step C: always broadcast, fire-and-forget.
	if err := d.broadcast(ctx, recipientID, p); err != nil {
		res.Errors = append(res.Errors, "realtime: "+err.Error())
	} else {
		res.RealtimeEventTriggered = true
	}

	res.Success = res.ExpoPushSent || res.InAppNotificationCreated || res.RealtimeEventTriggered
	return res
}

// errNoTarget marks the expected "no push address registered" case, which
// is a silent degrade to in-app delivery rather than a channel failure.
var errNoTarget = errors.New("no usable push target")

func (d *Dispatcher) sendPush(ctx context.Context, recipientID string, p Payload) error {
	target, err := d.registry.Usable(ctx, recipientID)
	if err != nil {
		return err
	}
	if target == nil {
		return errNoTarget
	}

	switch target.Kind {
	case model.ChannelExpo:
		ticket, err := d.expo.Send(ctx, expo.Message{
			To:       target.Token,
			Title:    p.Title,
			Body:     p.Body,
			Data:     p.Data,
			Sound:    "default",
			Priority: "high",
		})
		if err != nil {
			return err
		}
		if !ticket.OK() {
			d.registry.HandleGatewayError(ctx, recipientID, ticket.ErrorCode())
			return fmt.Errorf("gateway: %s (%s)", ticket.Message, ticket.ErrorCode())
		}
		return nil
	case model.ChannelWebPush:
		payload := map[string]any{"title": p.Title, "body": p.Body, "data": p.Data}
		var lastErr error
		for attempt := 1; attempt <= d.maxAttempts; attempt++ {
			if attempt > 1 {
				select {
				case <-time.After(d.retryBase * time.Duration(attempt-1)):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			err := d.web.Send(ctx, target.Token, payload)
			if err == nil {
				return nil
			}
			if errors.Is(err, webpush.Gone) {
				d.registry.HandleGatewayError(ctx, recipientID, tokens.CodeSubscriptionGone)
				return err
			}
			lastErr = err
		}
		return lastErr
	default:
		return errNoTarget
	}
}

func (d *Dispatcher) createRecord(ctx context.Context, recipientID string, p Payload) error {
	senderID := p.SenderID
	if senderID == "" {
		senderID = recipientID // system notice
	}
	return d.records.Create(ctx, &model.Notification{
		ID:          uuid.New().String(),
		RecipientID: recipientID,
		SenderID:    senderID,
		Kind:        p.Kind,
		Title:       p.Title,
		Body:        p.Body,
		Data:        p.Data,
		CreatedAt:   time.Now().UTC(),
	})
}

func (d *Dispatcher) broadcast(ctx context.Context, recipientID string, p Payload) error {
	return d.publisher.Publish(ctx, realtime.TopicUserNotifications, "notification", realtime.NotificationEvent{
		UserID: recipientID,
		Kind:   string(p.Kind),
		Title:  p.Title,
		Body:   p.Body,
		Data:   p.Data,
	})
}
