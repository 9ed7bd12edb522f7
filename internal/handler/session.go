package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stridecampus/internal/middleware"
	"github.com/stridecampus/internal/sessioncache"
)

// SessionHandler exposes the assistant chat session cache.
type SessionHandler struct {
	caches *sessioncache.Manager
}

func NewSessionHandler(caches *sessioncache.Manager) *SessionHandler {
	return &SessionHandler{caches: caches}
}

func (h *SessionHandler) cache(w http.ResponseWriter, r *http.Request) (*sessioncache.Cache, bool) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	c, err := h.caches.Get(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load sessions")
		return nil, false
	}
	return c, true
}

// List returns the user's sessions, most recently updated first.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	c, ok := h.cache(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.Sessions())
}

func (h *SessionHandler) Active(w http.ResponseWriter, r *http.Request) {
	c, ok := h.cache(w, r)
	if !ok {
		return
	}
	s := c.ActiveSession()
	if s == nil {
		writeError(w, http.StatusNotFound, "no active session")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type createSessionRequest struct {
	Title string `json:"title"`
}

func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	c, ok := h.cache(w, r)
	if !ok {
		return
	}
	var req createSessionRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req) // empty body means untitled
	}
	writeJSON(w, http.StatusCreated, c.CreateSession(req.Title))
}

// AddMessage appends a message to the active session. The fields stay
// loosely typed on purpose: malformed shapes (non-string content, non-bool
// is_user) are rejected with 400 without touching the session.
type addMessageRequest struct {
	Content any `json:"content"`
	IsUser  any `json:"is_user"`
}

func (h *SessionHandler) AddMessage(w http.ResponseWriter, r *http.Request) {
	c, ok := h.cache(w, r)
	if !ok {
		return
	}
	var req addMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	id, ok := c.AddMessage(req.Content, req.IsUser)
	if !ok {
		writeError(w, http.StatusBadRequest, "content must be a non-empty string and is_user a boolean")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message_id": id})
}

func (h *SessionHandler) Switch(w http.ResponseWriter, r *http.Request) {
	c, ok := h.cache(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if !c.SwitchToSession(id) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	c, ok := h.cache(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if !c.DeleteSession(id) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Clear drops every session; invoked on sign-out so nothing leaks to the
// next account on a shared device.
func (h *SessionHandler) Clear(w http.ResponseWriter, r *http.Request) {
	c, ok := h.cache(w, r)
	if !ok {
		return
	}
	if err := c.ClearAllSessions(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear sessions")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
