// Package tokens maintains each user's push address: registration,
// lexical validation, freshness checks and clearing.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stridecampus/internal/expo"
	"github.com/stridecampus/internal/logger"
	"github.com/stridecampus/internal/model"
	"github.com/stridecampus/internal/repository"
	"github.com/stridecampus/internal/webpush"
)

// Tokens older than this are treated as stale regardless of lexical
// correctness; the client must re-register.
const FreshnessWindow = 24 * time.Hour

// ErrInvalidToken is returned when a token does not match the issuing
// gateway's format for its channel kind.
var ErrInvalidToken = errors.New("tokens: invalid token format")

// TargetStore is the persistence surface the registry needs. Implemented by
// repository.PushTargetRepository; tests use fakes.
type TargetStore interface {
	Upsert(ctx context.Context, t *model.PushTarget) error
	Get(ctx context.Context, userID string) (*model.PushTarget, error)
	Clear(ctx context.Context, userID string) error
	Touch(ctx context.Context, userID string, at time.Time) error
}

type Registry struct {
	store TargetStore
}

func NewRegistry(store TargetStore) *Registry {
	return &Registry{store: store}
}

// Register stores the user's push address, overwriting any previous one
// (at most one active target per user, last write wins). The token must
// match its channel's format or ErrInvalidToken is returned; callers treat
// that as a degrade-to-in-app signal, not a fatal error.
func (r *Registry) Register(ctx context.Context, userID string, kind model.ChannelKind, token string) error {
	if !formatValid(kind, token) {
		return ErrInvalidToken
	}
	now := time.Now().UTC()
	t := &model.PushTarget{
		UserID:          userID,
		Kind:            kind,
		Token:           token,
		Enabled:         true,
		LastValidatedAt: now,
		UpdatedAt:       now,
	}
	if err := r.store.Upsert(ctx, t); err != nil {
		return fmt.Errorf("tokens: register: %w", err)
	}
	return nil
}

// Usable returns the user's push target if it is enabled, well-formed and
// fresh. (nil, nil) means no push delivery is possible and the caller should
// fall back to in-app only; a stale target additionally signals the client
// to re-register.
func (r *Registry) Usable(ctx context.Context, userID string) (*model.PushTarget, error) {
	t, err := r.store.Get(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tokens: get: %w", err)
	}
	if !r.Validate(t) {
		return nil, nil
	}
	return t, nil
}

// Validate checks the stored target: enabled, lexically valid for its kind,
// and validated within the freshness window.
func (r *Registry) Validate(t *model.PushTarget) bool {
	if t == nil || !t.Enabled || t.Kind == model.ChannelNone {
		return false
	}
	if !formatValid(t.Kind, t.Token) {
		return false
	}
	return time.Since(t.LastValidatedAt) < FreshnessWindow
}

// Clear drops the stored token and disables push delivery for the user.
func (r *Registry) Clear(ctx context.Context, userID string) error {
	if err := r.store.Clear(ctx, userID); err != nil {
		return fmt.Errorf("tokens: clear: %w", err)
	}
	return nil
}

// Revalidate refreshes the freshness timestamp after the client confirmed
// the token is still the one the gateway issued.
func (r *Registry) Revalidate(ctx context.Context, userID string) error {
	if err := r.store.Touch(ctx, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("tokens: revalidate: %w", err)
	}
	return nil
}

// HandleGatewayError applies the clear policy for a gateway-reported error
// code and logs the decision. Safe to call with an empty code.
func (r *Registry) HandleGatewayError(ctx context.Context, userID, code string) {
	if !ShouldClearToken(code) {
		return
	}
	if err := r.Clear(ctx, userID); err != nil {
		logger.Errorf("tokens: clear after gateway error %s user=%s: %v", code, userID, err)
		return
	}
	logger.Infof("tokens: cleared push target user=%s after gateway error %s", userID, code)
}

func formatValid(kind model.ChannelKind, token string) bool {
	switch kind {
	case model.ChannelExpo:
		return expo.IsExpoToken(token)
	case model.ChannelWebPush:
		return webpush.IsSubscription(token)
	default:
		return false
	}
}
