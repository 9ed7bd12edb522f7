package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/stridecampus/internal/logger"
	"github.com/stridecampus/internal/middleware"
	"github.com/stridecampus/internal/model"
	"github.com/stridecampus/internal/platform"
	"github.com/stridecampus/internal/tokens"
)

// TokenHandler manages push target registration for the signed-in user.
type TokenHandler struct {
	registry *tokens.Registry
}

func NewTokenHandler(registry *tokens.Registry) *TokenHandler {
	return &TokenHandler{registry: registry}
}

// RegisterRequest carries the token plus the client's reported runtime
// capabilities; the channel is selected server-side, once.
type RegisterRequest struct {
	Token        string                `json:"token"`
	Capabilities platform.Capabilities `json:"capabilities"`
}

type registerResponse struct {
	Kind      model.ChannelKind `json:"kind"`
	Supported bool              `json:"supported"`
}

// Register resolves the platform and stores the push target. An unsupported
// platform is reported explicitly, never silently ignored.
func (h *TokenHandler) Register(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Capabilities.UserAgent == "" {
		req.Capabilities.UserAgent = r.UserAgent()
	}
	sel := platform.Detect(req.Capabilities)
	if !sel.Supported {
		writeJSON(w, http.StatusOK, registerResponse{Kind: model.ChannelNone, Supported: false})
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token required")
		return
	}
	if err := h.registry.Register(r.Context(), userID, sel.Kind, req.Token); err != nil {
		if errors.Is(err, tokens.ErrInvalidToken) {
			writeError(w, http.StatusBadRequest, "token format not accepted")
			return
		}
		// Registration failure is non-fatal for the product: the user falls
		// back to in-app delivery. Still a 500 for the caller to retry.
		logger.Errorf("token register user=%s token=%s: %v", userID, middleware.MaskToken(req.Token), err)
		writeError(w, http.StatusInternalServerError, "failed to register")
		return
	}
	writeJSON(w, http.StatusOK, registerResponse{Kind: sel.Kind, Supported: true})
}

// Unregister clears the push target (user disabled notifications).
func (h *TokenHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.registry.Clear(r.Context(), userID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to unregister")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Revalidate refreshes the freshness window after the client confirmed its
// token with the issuing gateway.
func (h *TokenHandler) Revalidate(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.registry.Revalidate(r.Context(), userID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to revalidate")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
