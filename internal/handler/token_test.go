package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stridecampus/internal/middleware"
	"github.com/stridecampus/internal/model"
	"github.com/stridecampus/internal/repository"
	"github.com/stridecampus/internal/tokens"
)

type memTargetStore struct {
	targets map[string]*model.PushTarget
}

func (s *memTargetStore) Upsert(_ context.Context, t *model.PushTarget) error {
	cp := *t
	s.targets[t.UserID] = &cp
	return nil
}

func (s *memTargetStore) Get(_ context.Context, userID string) (*model.PushTarget, error) {
	t, ok := s.targets[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memTargetStore) Clear(_ context.Context, userID string) error {
	delete(s.targets, userID)
	return nil
}

func (s *memTargetStore) Touch(_ context.Context, userID string, at time.Time) error {
	if t, ok := s.targets[userID]; ok {
		t.LastValidatedAt = at
	}
	return nil
}

func authedRequest(method, target, body string) *http.Request {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	return r.WithContext(context.WithValue(r.Context(), middleware.UserIDKey, "u1"))
}

func TestTokenRegisterNative(t *testing.T) {
	store := &memTargetStore{targets: make(map[string]*model.PushTarget)}
	h := NewTokenHandler(tokens.NewRegistry(store))

	body := `{"token":"ExponentPushToken[abc123]","capabilities":{"user_agent":"Mozilla/5.0 StrideCampusApp/1.0"}}`
	rec := httptest.NewRecorder()
	h.Register(rec, authedRequest(http.MethodPost, "/api/push/register", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Kind      string `json:"kind"`
		Supported bool   `json:"supported"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Kind != "expo" || !resp.Supported {
		t.Errorf("unexpected response %+v", resp)
	}
	if got := store.targets["u1"]; got == nil || got.Kind != model.ChannelExpo {
		t.Errorf("target not stored: %+v", got)
	}
}

func TestTokenRegisterUnsupportedPlatform(t *testing.T) {
	store := &memTargetStore{targets: make(map[string]*model.PushTarget)}
	h := NewTokenHandler(tokens.NewRegistry(store))

	// Plain browser without the Web Push surface: reported explicitly, not an error.
	body := `{"token":"whatever","capabilities":{"user_agent":"Mozilla/5.0"}}`
	rec := httptest.NewRecorder()
	h.Register(rec, authedRequest(http.MethodPost, "/api/push/register", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Kind      string `json:"kind"`
		Supported bool   `json:"supported"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Supported || resp.Kind != "none" {
		t.Errorf("expected explicit unsupported, got %+v", resp)
	}
	if len(store.targets) != 0 {
		t.Error("unsupported platform must not store a target")
	}
}

func TestTokenRegisterBadFormat(t *testing.T) {
	store := &memTargetStore{targets: make(map[string]*model.PushTarget)}
	h := NewTokenHandler(tokens.NewRegistry(store))

	body := `{"token":"not-a-token","capabilities":{"user_agent":"StrideCampusApp/1.0"}}`
	rec := httptest.NewRecorder()
	h.Register(rec, authedRequest(http.MethodPost, "/api/push/register", body))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestTokenRegisterUnauthorized(t *testing.T) {
	h := NewTokenHandler(tokens.NewRegistry(&memTargetStore{targets: make(map[string]*model.PushTarget)}))
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/push/register", strings.NewReader(`{}`))
	h.Register(rec, r)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestTokenUnregister(t *testing.T) {
	store := &memTargetStore{targets: map[string]*model.PushTarget{
		"u1": {UserID: "u1", Kind: model.ChannelExpo, Token: "ExponentPushToken[abc]", Enabled: true},
	}}
	h := NewTokenHandler(tokens.NewRegistry(store))

	rec := httptest.NewRecorder()
	h.Unregister(rec, authedRequest(http.MethodDelete, "/api/push/register", ""))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if _, ok := store.targets["u1"]; ok {
		t.Error("target not cleared")
	}
}
