package ws

import (
	"sort"
	"testing"
	"time"
)

func TestTypingSelfExclusion(t *testing.T) {
	tr := newTypingTracker()
	tr.Update("chat1", "u1", "alice", true)
	tr.Update("chat1", "u2", "bob", true)

	got := tr.Typing("chat1", "u1")
	if len(got) != 1 || got[0] != "bob" {
		t.Errorf("expected only bob for viewer u1, got %v", got)
	}
}

func TestTypingStopRemovesEntry(t *testing.T) {
	tr := newTypingTracker()
	tr.Update("chat1", "u1", "alice", true)
	tr.Update("chat1", "u1", "alice", false)

	if got := tr.Typing("chat1", ""); len(got) != 0 {
		t.Errorf("expected empty after stop-typing, got %v", got)
	}
}

func TestTypingExpiresAfterTTL(t *testing.T) {
	now := time.Now()
	tr := newTypingTracker()
	tr.now = func() time.Time { return now }

	tr.Update("chat1", "u1", "alice", true)
	tr.Update("chat1", "u2", "bob", true)

	// Alice refreshes; bob goes quiet and ages past the TTL.
	now = now.Add(2 * time.Second)
	tr.Update("chat1", "u1", "alice", true)
	now = now.Add(2 * time.Second)

	got := tr.Typing("chat1", "")
	sort.Strings(got)
	if len(got) != 1 || got[0] != "alice" {
		t.Errorf("expected bob expired and alice live, got %v", got)
	}
}

func TestTypingRefreshKeepsEntryAlive(t *testing.T) {
	now := time.Now()
	tr := newTypingTracker()
	tr.now = func() time.Time { return now }

	tr.Update("chat1", "u1", "alice", true)
	now = now.Add(2 * time.Second)
	tr.Update("chat1", "u1", "alice", true)
	now = now.Add(2 * time.Second)

	got := tr.Typing("chat1", "")
	if len(got) != 1 || got[0] != "alice" {
		t.Errorf("refreshed entry must still be live, got %v", got)
	}
}

func TestSweepDropsExpiredEntries(t *testing.T) {
	now := time.Now()
	tr := newTypingTracker()
	tr.now = func() time.Time { return now }

	tr.Update("chat1", "u1", "alice", true)
	tr.Update("chat2", "u2", "bob", true)
	now = now.Add(typingTTL + time.Second)
	tr.Update("chat2", "u3", "carol", true)

	tr.Sweep()

	if got := tr.Typing("chat1", ""); len(got) != 0 {
		t.Errorf("chat1 should be empty after sweep, got %v", got)
	}
	if got := tr.Typing("chat2", ""); len(got) != 1 || got[0] != "carol" {
		t.Errorf("only carol should survive in chat2, got %v", got)
	}
}
