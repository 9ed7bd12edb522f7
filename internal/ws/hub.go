package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/stridecampus/internal/logger"
	"github.com/stridecampus/internal/model"
	"github.com/stridecampus/internal/platform"
	"github.com/stridecampus/internal/realtime"
)

// UserDirectory is the slice of the user store the hub needs.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	SetOnline(ctx context.Context, userID string, online bool) error
}

// TokenRegistrar receives push tokens forwarded over the socket by the
// native bridge. Implemented by tokens.Registry.
type TokenRegistrar interface {
	Register(ctx context.Context, userID string, kind model.ChannelKind, token string) error
	Clear(ctx context.Context, userID string) error
}

// Hub routes realtime events to connected clients: notifications to their
// recipient, vote and chat events to topic subscribers, presence to
// everyone else.
type Hub struct {
	mu           sync.RWMutex
	clients      map[string]map[*Client]struct{}
	topics       map[string]map[*Client]struct{}
	clientTopics map[*Client]map[string]struct{}
	total        int
	maxConns     int

	users    UserDirectory
	registry TokenRegistrar
	typing   *typingTracker

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(users UserDirectory, registry TokenRegistrar, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:      make(map[string]map[*Client]struct{}),
		topics:       make(map[string]map[*Client]struct{}),
		clientTopics: make(map[*Client]map[string]struct{}),
		maxConns:     maxConns,
		users:        users,
		registry:     registry,
		typing:       newTypingTracker(),
		register:     make(chan *Client, 64),
		unregister:   make(chan *Client, 64),
		done:         make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	sweep := time.NewTicker(typingTTL)
	defer sweep.Stop()
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case <-sweep.C:
			h.typing.Sweep()
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.topics = make(map[string]map[*Client]struct{})
	h.clientTopics = make(map[*Client]map[string]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.clientTopics[c] = make(map[string]struct{})
	h.total++
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.users.SetOnline(ctx, c.userID, true); err != nil {
		logger.Errorf("ws set online user=%s: %v", c.userID, err)
	}
	h.broadcastUserStatus(c.userID, true)
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	for topic := range h.clientTopics[c] {
		h.dropTopicLocked(c, topic)
	}
	delete(h.clientTopics, c)
	h.total--
	lastClient := len(clients) == 0
	if lastClient {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()

	if lastClient {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.users.SetOnline(ctx, c.userID, false); err != nil {
			logger.Errorf("ws set offline user=%s: %v", c.userID, err)
		}
		h.broadcastUserStatus(c.userID, false)
	}
}

// HandleMessage dispatches an incoming client frame by its type field.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	switch msg.Type {
	case EventSubscribe:
		h.handleSubscribe(c, msg)
	case EventUnsubscribe:
		h.handleUnsubscribe(c, msg)
	case EventTyping:
		h.handleTyping(ctx, c, msg)
	case EventTokenAvailable:
		h.handleTokenAvailable(ctx, c, msg)
	case EventPermissionStatus:
		h.handlePermissionStatus(ctx, c, msg)
	default:
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "unknown event type"})
	}
}

func (h *Hub) handleSubscribe(c *Client, msg IncomingMessage) {
	if msg.Topic == "" {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "topic required"})
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.topics[msg.Topic]; !ok {
		h.topics[msg.Topic] = make(map[*Client]struct{})
	}
	h.topics[msg.Topic][c] = struct{}{}
	if h.clientTopics[c] == nil {
		h.clientTopics[c] = make(map[string]struct{})
	}
	h.clientTopics[c][msg.Topic] = struct{}{}
}

func (h *Hub) handleUnsubscribe(c *Client, msg IncomingMessage) {
	if msg.Topic == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropTopicLocked(c, msg.Topic)
	delete(h.clientTopics[c], msg.Topic)
}

func (h *Hub) dropTopicLocked(c *Client, topic string) {
	subs, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
}

func (h *Hub) handleTyping(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.ChatID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	username := c.userID
	if u, err := h.users.GetByID(ctx, c.userID); err == nil {
		username = u.Username
	}
	h.typing.Update(msg.ChatID, c.userID, username, msg.IsTyping)

	out := OutgoingMessage{
		Type:  EventTyping,
		Topic: realtime.ChatTopic(msg.ChatID),
		Payload: TypingPayload{
			ChatID:    msg.ChatID,
			UserID:    c.userID,
			Username:  username,
			IsTyping:  msg.IsTyping,
			Timestamp: time.Now().UTC(),
		},
	}
	h.broadcastTopic(realtime.ChatTopic(msg.ChatID), out, c.userID)
}

// handleTokenAvailable registers the push token the native bridge (or the
// browser) forwarded after a request-token round trip. Registration failure
// degrades to in-app-only delivery; the client just gets an error frame.
func (h *Hub) handleTokenAvailable(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.Token == "" {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "token required"})
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.registry.Register(ctx, c.userID, c.platform.Kind, msg.Token); err != nil {
		logger.Errorf("ws register token user=%s: %v", c.userID, err)
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "token rejected"})
	}
}

// handlePermissionStatus reacts to the client reporting push permission.
// A revoked permission clears the stored target.
func (h *Hub) handlePermissionStatus(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.Granted {
		// The permission prompt can change the capability surface (service
		// worker registered after connect); re-resolve when the client
		// reports it.
		sel := c.platform
		if msg.Capabilities != (platform.Capabilities{}) {
			sel = platform.Detect(msg.Capabilities)
		}
		if !sel.Supported {
			h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "push unsupported"})
			return
		}
		// Permission granted but no token yet: ask the bridge for one.
		h.sendToClient(c, OutgoingMessage{Type: EventRequestToken})
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.registry.Clear(ctx, c.userID); err != nil {
		logger.Errorf("ws clear token user=%s: %v", c.userID, err)
	}
}

// HandleRealtimeEvent routes an event arriving from the Redis bridge.
// Notifications go to their recipient's sockets; everything else to the
// topic's subscribers.
func (h *Hub) HandleRealtimeEvent(topic string, ev realtime.Event) {
	if topic == realtime.TopicUserNotifications {
		var n realtime.NotificationEvent
		if err := json.Unmarshal(ev.Payload, &n); err != nil {
			logger.Errorf("ws notification event: %v", err)
			return
		}
		h.sendToUser(n.UserID, OutgoingMessage{Type: EventNotification, Payload: n})
		return
	}

	evType := EventChatMessage
	if ev.Name == "vote_update" {
		evType = EventVoteUpdate
	}
	h.broadcastTopic(topic, OutgoingMessage{Type: evType, Topic: topic, Payload: ev.Payload}, "")
}

// TypingUsers returns who is currently typing in a chat, excluding the
// asking user.
func (h *Hub) TypingUsers(chatID, excludeUserID string) []string {
	return h.typing.Typing(chatID, excludeUserID)
}

// OnlineUsers returns the ids of connected users other than excludeUserID.
func (h *Hub) OnlineUsers(excludeUserID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.clients))
	for id := range h.clients {
		if id == excludeUserID {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (h *Hub) broadcastUserStatus(userID string, online bool) {
	evType := EventUserOffline
	if online {
		evType = EventUserOnline
	}
	out := OutgoingMessage{Type: evType, Payload: UserStatusPayload{UserID: userID, Online: online}}

	h.mu.RLock()
	targets := make([]*Client, 0, h.total)
	for id, clients := range h.clients {
		if id == userID {
			continue // presence is scoped to other users
		}
		for c := range clients {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, out)
	}
}

func (h *Hub) broadcastTopic(topic string, msg OutgoingMessage, excludeUserID string) {
	h.mu.RLock()
	subs := h.topics[topic]
	targets := make([]*Client, 0, len(subs))
	for c := range subs {
		if excludeUserID != "" && c.userID == excludeUserID {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToUser(userID string, msg OutgoingMessage) {
	h.mu.RLock()
	clients, ok := h.clients[userID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
