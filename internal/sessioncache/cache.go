// Package sessioncache keeps assistant chat sessions in a durable key-value
// store with defensive loading: corrupt entries are skipped, a corrupt blob
// resets the cache to an empty initialized state, and sessions never leak
// across accounts on a shared device.
package sessioncache

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/stridecampus/internal/logger"
	"github.com/stridecampus/internal/model"
)

const (
	DefaultMaxSessions           = 50
	DefaultMaxMessagesPerSession = 200
	DefaultDebounce              = 100 * time.Millisecond

	maxDerivedTitleLen = 50
	persistTimeout     = 5 * time.Second
)

// Key layout in the store, namespaced per cache instance.
const (
	keySessions = ":sessions"
	keyActive   = ":active"
	keyOwner    = ":owner"
	keySynced   = ":synced_at"
)

// Options tune the cache. Zero values take the defaults above.
type Options struct {
	MaxSessions           int
	MaxMessagesPerSession int
	Debounce              time.Duration
}

// Cache holds one owner's chat sessions. All mutation goes through methods
// holding the mutex; persistence is debounced, with Flush for teardown so a
// pending write is not lost when the process exits.
type Cache struct {
	mu       sync.Mutex
	store    Store
	ns       string // key namespace, e.g. "assistant:u42"
	owner    string
	sessions map[string]*model.ChatSession
	activeID string

	maxSessions int
	maxMessages int
	debounce    time.Duration
	timer       *time.Timer
	dirty       bool
	closed      bool
}

// New creates a cache for owner backed by store. ns namespaces the store
// keys; distinct owners must use distinct namespaces or rely on the
// owner-switch purge in Load.
func New(store Store, ns, owner string, opts Options) *Cache {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.MaxMessagesPerSession <= 0 {
		opts.MaxMessagesPerSession = DefaultMaxMessagesPerSession
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	return &Cache{
		store:       store,
		ns:          ns,
		owner:       owner,
		sessions:    make(map[string]*model.ChatSession),
		maxSessions: opts.MaxSessions,
		maxMessages: opts.MaxMessagesPerSession,
		debounce:    opts.Debounce,
	}
}

// Load reads persisted state. If the store was last populated for a
// different owner, everything is purged first. Corrupt individual sessions
// are skipped with a log line; a completely unreadable blob resets the
// cache to empty rather than leaving it stuck.
func (c *Cache) Load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	storedOwner, err := c.store.Get(ctx, c.ns+keyOwner)
	if err != nil {
		return err
	}
	if storedOwner != "" && storedOwner != c.owner {
		// Account switch on a shared device: purge before loading.
		logger.Infof("sessioncache: owner changed (%s -> %s), purging", storedOwner, c.owner)
		if err := c.purgeLocked(ctx); err != nil {
			return err
		}
		return c.persistLocked(ctx)
	}

	raw, err := c.store.Get(ctx, c.ns+keySessions)
	if err != nil {
		return err
	}
	c.sessions = make(map[string]*model.ChatSession)
	if raw != "" {
		var entries map[string]json.RawMessage
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			logger.Errorf("sessioncache: corrupt session blob, resetting: %v", err)
			return c.persistLocked(ctx)
		}
		for id, entry := range entries {
			s, ok := decodeSession(entry)
			if !ok {
				logger.Errorf("sessioncache: skipping corrupt session %s", id)
				continue
			}
			c.sessions[s.ID] = s
		}
	}

	active, err := c.store.Get(ctx, c.ns+keyActive)
	if err != nil {
		return err
	}
	if _, ok := c.sessions[active]; ok {
		c.activeID = active
	} else {
		c.activeID = c.mostRecentLocked()
	}
	for id, s := range c.sessions {
		s.IsActive = id == c.activeID
	}
	return nil
}

// CreateSession deactivates the current session, creates and activates a
// new one and evicts the least-recently-updated sessions beyond the cap.
// The new session is always retained.
func (c *Cache) CreateSession(title string) *model.ChatSession {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.sessions[c.activeID]; ok {
		prev.IsActive = false
	}
	now := time.Now().UTC()
	s := &model.ChatSession{
		ID:        uuid.New().String(),
		Title:     title,
		Messages:  []model.ChatMessage{},
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.sessions[s.ID] = s
	c.activeID = s.ID
	c.evictLocked()
	c.scheduleSaveLocked()
	return cloneSession(s)
}

// AddMessage validates a loosely typed message (as decoded from client
// JSON) and appends it to the active session. It returns the message id,
// or ok=false when content is not a string, isUser is not a bool, or no
// session is active; the session list is left untouched in that case.
func (c *Cache) AddMessage(content, isUser any) (string, bool) {
	text, okContent := content.(string)
	flag, okFlag := isUser.(bool)
	if !okContent || !okFlag || text == "" {
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[c.activeID]
	if !ok {
		return "", false
	}

	now := time.Now().UTC()
	msg := model.ChatMessage{
		ID:        uuid.New().String(),
		Content:   text,
		IsUser:    flag,
		CreatedAt: now,
	}
	// The first user message names an untitled session.
	if len(s.Messages) == 0 && flag && s.Title == "" {
		s.Title = deriveTitle(text)
	}
	s.Messages = append(s.Messages, msg)
	if len(s.Messages) > c.maxMessages {
		s.Messages = s.Messages[len(s.Messages)-c.maxMessages:]
	}
	s.MessageCount = len(s.Messages)
	s.UpdatedAt = now
	c.scheduleSaveLocked()
	return msg.ID, true
}

// SwitchToSession activates the given session. Returns false when it does
// not exist.
func (c *Cache) SwitchToSession(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	if !ok {
		return false
	}
	if prev, ok := c.sessions[c.activeID]; ok {
		prev.IsActive = false
	}
	s.IsActive = true
	c.activeID = id
	c.scheduleSaveLocked()
	return true
}

// DeleteSession removes a session. When the active session is deleted the
// most recently updated remaining one becomes active.
func (c *Cache) DeleteSession(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sessions[id]; !ok {
		return false
	}
	delete(c.sessions, id)
	if c.activeID == id {
		c.activeID = c.mostRecentLocked()
		if s, ok := c.sessions[c.activeID]; ok {
			s.IsActive = true
		}
	}
	c.scheduleSaveLocked()
	return true
}

// ClearAllSessions drops every session and persists the empty state
// immediately (not debounced): callers invoke this on sign-out.
func (c *Cache) ClearAllSessions(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.purgeLocked(ctx); err != nil {
		return err
	}
	return c.persistLocked(ctx)
}

// Sessions returns a snapshot of all sessions, most recently updated first.
func (c *Cache) Sessions() []model.ChatSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.ChatSession, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, *cloneSession(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// ActiveSession returns a snapshot of the active session, or nil.
func (c *Cache) ActiveSession() *model.ChatSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[c.activeID]
	if !ok {
		return nil
	}
	return cloneSession(s)
}

// Flush persists any pending state immediately. Called on teardown so a
// debounced write in flight is not lost when the process exits.
func (c *Cache) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if !c.dirty {
		return nil
	}
	return c.persistLocked(ctx)
}

// Close flushes and stops the debounce timer.
func (c *Cache) Close(ctx context.Context) error {
	err := c.Flush(ctx)
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return err
}

func (c *Cache) purgeLocked(ctx context.Context) error {
	c.sessions = make(map[string]*model.ChatSession)
	c.activeID = ""
	return c.store.Delete(ctx, c.ns+keySessions, c.ns+keyActive, c.ns+keyOwner, c.ns+keySynced)
}

// scheduleSaveLocked coalesces rapid successive mutations into one persisted
// write after a short quiet period.
func (c *Cache) scheduleSaveLocked() {
	c.dirty = true
	if c.closed {
		return
	}
	if c.timer != nil {
		c.timer.Reset(c.debounce)
		return
	}
	c.timer = time.AfterFunc(c.debounce, func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		c.mu.Lock()
		defer c.mu.Unlock()
		c.timer = nil
		if !c.dirty {
			return
		}
		if err := c.persistLocked(ctx); err != nil {
			logger.Errorf("sessioncache: debounced save: %v", err)
			c.dirty = true // retry on the next mutation
		}
	})
}

func (c *Cache) persistLocked(ctx context.Context) error {
	blob, err := json.Marshal(c.sessions)
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, c.ns+keySessions, string(blob)); err != nil {
		return err
	}
	if err := c.store.Set(ctx, c.ns+keyActive, c.activeID); err != nil {
		return err
	}
	if err := c.store.Set(ctx, c.ns+keyOwner, c.owner); err != nil {
		return err
	}
	if err := c.store.Set(ctx, c.ns+keySynced, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	c.dirty = false
	return nil
}

// evictLocked drops the least-recently-updated sessions beyond the cap.
// The active session survives eviction.
func (c *Cache) evictLocked() {
	excess := len(c.sessions) - c.maxSessions
	if excess <= 0 {
		return
	}
	type entry struct {
		id string
		at time.Time
	}
	order := make([]entry, 0, len(c.sessions))
	for id, s := range c.sessions {
		if id == c.activeID {
			continue
		}
		order = append(order, entry{id: id, at: s.UpdatedAt})
	}
	sort.Slice(order, func(i, j int) bool { return order[i].at.Before(order[j].at) })
	for i := 0; i < excess && i < len(order); i++ {
		delete(c.sessions, order[i].id)
	}
}

func (c *Cache) mostRecentLocked() string {
	var bestID string
	var bestAt time.Time
	for id, s := range c.sessions {
		if bestID == "" || s.UpdatedAt.After(bestAt) {
			bestID, bestAt = id, s.UpdatedAt
		}
	}
	return bestID
}

func deriveTitle(content string) string {
	title := strings.TrimSpace(content)
	if len(title) > maxDerivedTitleLen {
		// Back off to a rune boundary so the cut never splits a multi-byte
		// character.
		cut := maxDerivedTitleLen
		for cut > 0 && !utf8.RuneStart(title[cut]) {
			cut--
		}
		title = strings.TrimSpace(title[:cut]) + "..."
	}
	return title
}

func cloneSession(s *model.ChatSession) *model.ChatSession {
	cp := *s
	cp.Messages = make([]model.ChatMessage, len(s.Messages))
	copy(cp.Messages, s.Messages)
	return &cp
}

// decodeSession validates a persisted entry: required fields present,
// message shapes correct (content string, is_user bool), dates parseable.
// Malformed entries are rejected rather than silently accepted.
func decodeSession(raw json.RawMessage) (*model.ChatSession, bool) {
	var loose struct {
		ID        any               `json:"id"`
		Title     any               `json:"title"`
		Messages  []json.RawMessage `json:"messages"`
		CreatedAt any               `json:"created_at"`
		UpdatedAt any               `json:"updated_at"`
	}
	if err := json.Unmarshal(raw, &loose); err != nil {
		return nil, false
	}
	id, ok := loose.ID.(string)
	if !ok || id == "" {
		return nil, false
	}
	title, _ := loose.Title.(string)
	createdAt, ok := parseTime(loose.CreatedAt)
	if !ok {
		return nil, false
	}
	updatedAt, ok := parseTime(loose.UpdatedAt)
	if !ok {
		return nil, false
	}

	s := &model.ChatSession{
		ID:        id,
		Title:     title,
		Messages:  make([]model.ChatMessage, 0, len(loose.Messages)),
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
	for _, rawMsg := range loose.Messages {
		var m struct {
			ID        any `json:"id"`
			Content   any `json:"content"`
			IsUser    any `json:"is_user"`
			CreatedAt any `json:"created_at"`
		}
		if err := json.Unmarshal(rawMsg, &m); err != nil {
			return nil, false
		}
		msgID, ok := m.ID.(string)
		if !ok || msgID == "" {
			return nil, false
		}
		content, ok := m.Content.(string)
		if !ok {
			return nil, false
		}
		isUser, ok := m.IsUser.(bool)
		if !ok {
			return nil, false
		}
		at, ok := parseTime(m.CreatedAt)
		if !ok {
			return nil, false
		}
		s.Messages = append(s.Messages, model.ChatMessage{
			ID:        msgID,
			Content:   content,
			IsUser:    isUser,
			CreatedAt: at,
		})
	}
	s.MessageCount = len(s.Messages)
	return s, true
}

func parseTime(v any) (time.Time, bool) {
	str, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, str)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
