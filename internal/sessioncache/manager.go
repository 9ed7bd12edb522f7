package sessioncache

import (
	"context"
	"sync"

	"github.com/stridecampus/internal/logger"
)

// Manager hands out one Cache per signed-in user and flushes them all on
// shutdown so debounced writes are not lost.
type Manager struct {
	mu     sync.Mutex
	store  Store
	opts   Options
	prefix string
	caches map[string]*Cache
}

func NewManager(store Store, prefix string, opts Options) *Manager {
	if prefix == "" {
		prefix = "assistant"
	}
	return &Manager{
		store:  store,
		opts:   opts,
		prefix: prefix,
		caches: make(map[string]*Cache),
	}
}

// Get returns the user's cache, creating and loading it on first use.
func (m *Manager) Get(ctx context.Context, userID string) (*Cache, error) {
	m.mu.Lock()
	if c, ok := m.caches[userID]; ok {
		m.mu.Unlock()
		return c, nil
	}
	c := New(m.store, m.prefix+":"+userID, userID, m.opts)
	m.caches[userID] = c
	m.mu.Unlock()

	if err := c.Load(ctx); err != nil {
		m.mu.Lock()
		delete(m.caches, userID)
		m.mu.Unlock()
		return nil, err
	}
	return c, nil
}

// FlushAll persists every cache's pending state. Called during shutdown.
func (m *Manager) FlushAll(ctx context.Context) {
	m.mu.Lock()
	caches := make([]*Cache, 0, len(m.caches))
	for _, c := range m.caches {
		caches = append(caches, c)
	}
	m.mu.Unlock()

	for _, c := range caches {
		if err := c.Close(ctx); err != nil {
			logger.Errorf("sessioncache: flush on shutdown: %v", err)
		}
	}
}
