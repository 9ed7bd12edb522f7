package votes

import (
	"testing"

	"github.com/stridecampus/internal/model"
)

func ev(action model.VoteAction, voteType int, userID string) model.VoteEvent {
	return model.VoteEvent{
		TargetID:   "post1",
		TargetType: model.VoteTargetPost,
		Action:     action,
		VoteType:   voteType,
		UserID:     userID,
	}
}

func TestInsertDeleteRoundTrip(t *testing.T) {
	c := NewCounter("me")
	c.Seed("post1", 5, 0)

	if refetch := c.Apply(ev(model.VoteInsert, 1, "other")); refetch {
		t.Error("insert must be delta-applied, not refetched")
	}
	if got := c.Count("post1"); got != 6 {
		t.Errorf("after upvote insert: got %d, want 6", got)
	}

	if refetch := c.Apply(ev(model.VoteDelete, 1, "other")); refetch {
		t.Error("delete must be delta-applied, not refetched")
	}
	if got := c.Count("post1"); got != 5 {
		t.Errorf("insert+delete must round-trip to the seed: got %d, want 5", got)
	}
}

func TestDownvoteDelta(t *testing.T) {
	c := NewCounter("me")
	c.Seed("post1", 3, 0)

	c.Apply(ev(model.VoteInsert, -1, "other"))
	if got := c.Count("post1"); got != 2 {
		t.Errorf("downvote insert: got %d, want 2", got)
	}
	c.Apply(ev(model.VoteDelete, -1, "other"))
	if got := c.Count("post1"); got != 3 {
		t.Errorf("downvote removed: got %d, want 3", got)
	}
}

func TestUpdateRequiresRefetch(t *testing.T) {
	c := NewCounter("me")
	c.Seed("post1", 5, 0)

	if refetch := c.Apply(ev(model.VoteUpdate, -1, "other")); !refetch {
		t.Error("update lacks the previous value and must request a refetch")
	}
	if got := c.Count("post1"); got != 5 {
		t.Errorf("update must not guess a delta: got %d, want 5", got)
	}
}

func TestOwnVoteTracking(t *testing.T) {
	c := NewCounter("me")
	c.Seed("post1", 0, 0)

	c.Apply(ev(model.VoteInsert, 1, "me"))
	if got := c.MyVote("post1"); got != 1 {
		t.Errorf("own upvote: MyVote = %d, want 1", got)
	}

	// Switching vote direction is an UPDATE: own vote is tracked even though
	// the count needs a refetch.
	if refetch := c.Apply(ev(model.VoteUpdate, -1, "me")); !refetch {
		t.Error("expected refetch on own vote update")
	}
	if got := c.MyVote("post1"); got != -1 {
		t.Errorf("own vote after update: MyVote = %d, want -1", got)
	}

	c.Apply(ev(model.VoteDelete, -1, "me"))
	if got := c.MyVote("post1"); got != 0 {
		t.Errorf("own vote after delete: MyVote = %d, want 0", got)
	}
}

func TestOtherUsersVoteDoesNotTouchMine(t *testing.T) {
	c := NewCounter("me")
	c.Seed("post1", 0, 1)

	c.Apply(ev(model.VoteInsert, 1, "other"))
	if got := c.MyVote("post1"); got != 1 {
		t.Errorf("another user's vote changed MyVote: got %d, want 1", got)
	}
}

func TestUnknownTargetDefaultsToZero(t *testing.T) {
	c := NewCounter("me")
	if got := c.Count("never-seen"); got != 0 {
		t.Errorf("unknown target: got %d, want 0", got)
	}
	if got := c.MyVote("never-seen"); got != 0 {
		t.Errorf("unknown target: MyVote = %d, want 0", got)
	}
}
