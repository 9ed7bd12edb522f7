// Package votes reconciles locally held vote counters from realtime events.
package votes

import (
	"sync"

	"github.com/stridecampus/internal/model"
)

// Counter applies signed vote deltas for one viewing user. INSERT and DELETE
// carry enough information for exact reconciliation; UPDATE does not (the
// event lacks the previous value), so Apply reports that the caller must
// refetch the authoritative count instead of guessing a delta.
type Counter struct {
	mu     sync.Mutex
	selfID string
	counts map[string]int // target id -> net vote count
	mine   map[string]int // target id -> this user's own vote (+1/-1/0)
}

func NewCounter(selfID string) *Counter {
	return &Counter{
		selfID: selfID,
		counts: make(map[string]int),
		mine:   make(map[string]int),
	}
}

// Seed sets the authoritative count for a target, e.g. from the initial
// page load or an UPDATE-triggered refetch.
func (c *Counter) Seed(targetID string, count, myVote int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[targetID] = count
	c.mine[targetID] = myVote
}

// Apply reconciles one event. refetch=true means the event cannot be
// delta-applied (vote-type change on UPDATE) and the caller should reload
// the authoritative count for the target.
func (c *Counter) Apply(ev model.VoteEvent) (refetch bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ev.Action {
	case model.VoteInsert:
		c.counts[ev.TargetID] += ev.VoteType
		if ev.UserID == c.selfID {
			c.mine[ev.TargetID] = ev.VoteType
		}
	case model.VoteDelete:
		c.counts[ev.TargetID] -= ev.VoteType
		if ev.UserID == c.selfID {
			c.mine[ev.TargetID] = 0
		}
	case model.VoteUpdate:
		// Only the new value is broadcast; without the previous one an
		// up->down change cannot be delta-applied.
		if ev.UserID == c.selfID {
			c.mine[ev.TargetID] = ev.VoteType
		}
		return true
	}
	return false
}

// Count returns the locally reconciled count for a target.
func (c *Counter) Count(targetID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[targetID]
}

// MyVote returns this user's own vote for a target (+1, -1 or 0).
func (c *Counter) MyVote(targetID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mine[targetID]
}
