package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/stridecampus/internal/logger"
	"github.com/stridecampus/internal/middleware"
	"github.com/stridecampus/internal/platform"
	"github.com/stridecampus/internal/ws"
)

type WSHandler struct {
	hub            *ws.Hub
	allowedOrigins string
}

// NewWSHandler creates the WebSocket upgrade handler. allowedOrigins is the
// CORS-style list (comma-separated or "*").
func NewWSHandler(hub *ws.Hub, allowedOrigins string) *WSHandler {
	return &WSHandler{hub: hub, allowedOrigins: strings.TrimSpace(allowedOrigins)}
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

// capsFromRequest builds the platform capabilities from the upgrade
// request: identification string from the User-Agent header, the Web Push
// surface from query flags the client sets.
func capsFromRequest(r *http.Request) platform.Capabilities {
	q := r.URL.Query()
	return platform.Capabilities{
		UserAgent:     r.UserAgent(),
		ServiceWorker: q.Get("sw") == "1",
		Notifications: q.Get("notifications") == "1",
		PushManager:   q.Get("push") == "1",
	}
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	// Platform detection happens once here, not per message.
	sel := platform.Detect(capsFromRequest(r))

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return h.checkOrigin(r) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := ws.NewClient(h.hub, conn, userID, sel)
	client.Start(ctx, cancel)
	h.hub.Register(client)
}
