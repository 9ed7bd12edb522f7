package handler

import (
	"net/http"

	"github.com/stridecampus/internal/config"
)

// ConfigHandler exposes the client-facing configuration values.
type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// GetPushConfig returns the VAPID public key for browser subscription.
func (h *ConfigHandler) GetPushConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":          h.cfg.VAPIDPublicKey != "",
		"vapid_public_key": h.cfg.VAPIDPublicKey,
	})
}
