package ws

import (
	"sync"
	"time"
)

// Typing entries expire after this window unless refreshed by another event.
const typingTTL = 3 * time.Second

type typingEntry struct {
	username string
	at       time.Time
}

// typingTracker keeps the short-lived set of currently-typing users per
// chat. Entries expire after typingTTL; Sweep runs from the hub loop.
type typingTracker struct {
	mu    sync.Mutex
	chats map[string]map[string]typingEntry // chat id -> user id -> entry
	now   func() time.Time
}

func newTypingTracker() *typingTracker {
	return &typingTracker{
		chats: make(map[string]map[string]typingEntry),
		now:   time.Now,
	}
}

// Update records a typing event; isTyping=false removes the entry.
func (t *typingTracker) Update(chatID, userID, username string, isTyping bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.chats[chatID]
	if !ok {
		if !isTyping {
			return
		}
		users = make(map[string]typingEntry)
		t.chats[chatID] = users
	}
	if !isTyping {
		delete(users, userID)
		if len(users) == 0 {
			delete(t.chats, chatID)
		}
		return
	}
	users[userID] = typingEntry{username: username, at: t.now()}
}

// Typing returns usernames currently typing in a chat, excluding the
// viewer (self-exclusion).
func (t *typingTracker) Typing(chatID, excludeUserID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-typingTTL)
	var names []string
	for userID, e := range t.chats[chatID] {
		if userID == excludeUserID || e.at.Before(cutoff) {
			continue
		}
		names = append(names, e.username)
	}
	return names
}

// Sweep drops entries older than typingTTL.
func (t *typingTracker) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-typingTTL)
	for chatID, users := range t.chats {
		for userID, e := range users {
			if e.at.Before(cutoff) {
				delete(users, userID)
			}
		}
		if len(users) == 0 {
			delete(t.chats, chatID)
		}
	}
}
