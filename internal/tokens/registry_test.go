package tokens

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stridecampus/internal/model"
	"github.com/stridecampus/internal/repository"
)

type fakeTargetStore struct {
	targets map[string]*model.PushTarget
	upserts int
	clears  int
	touches int
}

func newFakeTargetStore() *fakeTargetStore {
	return &fakeTargetStore{targets: make(map[string]*model.PushTarget)}
}

func (f *fakeTargetStore) Upsert(_ context.Context, t *model.PushTarget) error {
	f.upserts++
	cp := *t
	f.targets[t.UserID] = &cp
	return nil
}

func (f *fakeTargetStore) Get(_ context.Context, userID string) (*model.PushTarget, error) {
	t, ok := f.targets[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTargetStore) Clear(_ context.Context, userID string) error {
	f.clears++
	if t, ok := f.targets[userID]; ok {
		t.Kind = model.ChannelNone
		t.Token = ""
		t.Enabled = false
	}
	return nil
}

func (f *fakeTargetStore) Touch(_ context.Context, userID string, at time.Time) error {
	f.touches++
	if t, ok := f.targets[userID]; ok {
		t.LastValidatedAt = at
	}
	return nil
}

const validExpoToken = "ExponentPushToken[xxxxxxxxxxxxxxxxxxxxxx]"

func TestRegisterLastWriteWins(t *testing.T) {
	store := newFakeTargetStore()
	reg := NewRegistry(store)
	ctx := context.Background()

	if err := reg.Register(ctx, "u1", model.ChannelExpo, validExpoToken); err != nil {
		t.Fatalf("first register: %v", err)
	}
	second := "ExpoPushToken[yyyyyyyyyyyyyyyyyyyyyy]"
	if err := reg.Register(ctx, "u1", model.ChannelExpo, second); err != nil {
		t.Fatalf("second register: %v", err)
	}

	got, err := reg.Usable(ctx, "u1")
	if err != nil {
		t.Fatalf("usable: %v", err)
	}
	if got == nil || got.Token != second {
		t.Errorf("expected latest token to win, got %+v", got)
	}
	if store.upserts != 2 {
		t.Errorf("expected 2 upserts, got %d", store.upserts)
	}
}

func TestRegisterRejectsBadFormat(t *testing.T) {
	reg := NewRegistry(newFakeTargetStore())
	ctx := context.Background()

	tests := []struct {
		name  string
		kind  model.ChannelKind
		token string
	}{
		{"random string as expo token", model.ChannelExpo, "not-a-token"},
		{"missing closing bracket", model.ChannelExpo, "ExponentPushToken[abc"},
		{"empty payload", model.ChannelExpo, "ExponentPushToken[]"},
		{"plain text as subscription", model.ChannelWebPush, "hello"},
		{"subscription without keys", model.ChannelWebPush, `{"endpoint":"https://push.example"}`},
		{"none kind", model.ChannelNone, validExpoToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Register(ctx, "u1", tt.kind, tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestUsableNoTarget(t *testing.T) {
	reg := NewRegistry(newFakeTargetStore())
	got, err := reg.Usable(context.Background(), "missing")
	if err != nil {
		t.Fatalf("usable: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil target for unknown user, got %+v", got)
	}
}

func TestUsableStaleToken(t *testing.T) {
	store := newFakeTargetStore()
	store.targets["u1"] = &model.PushTarget{
		UserID:          "u1",
		Kind:            model.ChannelExpo,
		Token:           validExpoToken,
		Enabled:         true,
		LastValidatedAt: time.Now().Add(-FreshnessWindow - time.Minute),
	}
	reg := NewRegistry(store)

	got, err := reg.Usable(context.Background(), "u1")
	if err != nil {
		t.Fatalf("usable: %v", err)
	}
	if got != nil {
		t.Errorf("stale token must not be usable, got %+v", got)
	}
}

func TestValidate(t *testing.T) {
	reg := NewRegistry(newFakeTargetStore())
	fresh := time.Now().Add(-time.Hour)

	tests := []struct {
		name   string
		target *model.PushTarget
		want   bool
	}{
		{"nil target", nil, false},
		{"fresh valid expo", &model.PushTarget{Kind: model.ChannelExpo, Token: validExpoToken, Enabled: true, LastValidatedAt: fresh}, true},
		{"disabled", &model.PushTarget{Kind: model.ChannelExpo, Token: validExpoToken, Enabled: false, LastValidatedAt: fresh}, false},
		{"none kind", &model.PushTarget{Kind: model.ChannelNone, Token: validExpoToken, Enabled: true, LastValidatedAt: fresh}, false},
		{"bad format", &model.PushTarget{Kind: model.ChannelExpo, Token: "junk", Enabled: true, LastValidatedAt: fresh}, false},
		{"past freshness window", &model.PushTarget{Kind: model.ChannelExpo, Token: validExpoToken, Enabled: true, LastValidatedAt: time.Now().Add(-25 * time.Hour)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reg.Validate(tt.target); got != tt.want {
				t.Errorf("Validate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRevalidateRefreshesWindow(t *testing.T) {
	store := newFakeTargetStore()
	store.targets["u1"] = &model.PushTarget{
		UserID:          "u1",
		Kind:            model.ChannelExpo,
		Token:           validExpoToken,
		Enabled:         true,
		LastValidatedAt: time.Now().Add(-FreshnessWindow - time.Minute),
	}
	reg := NewRegistry(store)
	ctx := context.Background()

	if err := reg.Revalidate(ctx, "u1"); err != nil {
		t.Fatalf("revalidate: %v", err)
	}
	got, err := reg.Usable(ctx, "u1")
	if err != nil {
		t.Fatalf("usable: %v", err)
	}
	if got == nil {
		t.Error("expected target to be usable after revalidation")
	}
}

func TestShouldClearToken(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{CodeDeviceNotRegistered, true},
		{CodeInvalidCredentials, true},
		{CodeSubscriptionGone, true},
		{"MessageRateExceeded", false},
		{"MessageTooBig", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := ShouldClearToken(tt.code); got != tt.want {
				t.Errorf("ShouldClearToken(%q) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestHandleGatewayError(t *testing.T) {
	store := newFakeTargetStore()
	store.targets["u1"] = &model.PushTarget{
		UserID: "u1", Kind: model.ChannelExpo, Token: validExpoToken,
		Enabled: true, LastValidatedAt: time.Now(),
	}
	reg := NewRegistry(store)
	ctx := context.Background()

	reg.HandleGatewayError(ctx, "u1", "MessageRateExceeded")
	if store.clears != 0 {
		t.Fatalf("transient code must not clear the token")
	}

	reg.HandleGatewayError(ctx, "u1", CodeDeviceNotRegistered)
	if store.clears != 1 {
		t.Fatalf("expected clear after %s, got %d clears", CodeDeviceNotRegistered, store.clears)
	}
	got, err := reg.Usable(ctx, "u1")
	if err != nil {
		t.Fatalf("usable: %v", err)
	}
	if got != nil {
		t.Errorf("cleared target must not be usable, got %+v", got)
	}
}
