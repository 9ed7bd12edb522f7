package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stridecampus/internal/model"
)

type fakeVoteStore struct {
	action  model.VoteAction
	castErr error
	myVote  int
}

func (f *fakeVoteStore) Cast(_ context.Context, _, _ string, _ model.VoteTargetType, _ int) (model.VoteAction, error) {
	return f.action, f.castErr
}

func (f *fakeVoteStore) GetUserVote(_ context.Context, _, _ string) (int, error) {
	return f.myVote, nil
}

type fakeVoteCounts struct {
	count int
}

func (f *fakeVoteCounts) Count(_ context.Context, _ string) (int, error) {
	return f.count, nil
}

type fakeVotePublisher struct {
	err    error
	topics []string
}

func (f *fakeVotePublisher) Publish(_ context.Context, topic, _ string, _ any) error {
	f.topics = append(f.topics, topic)
	return f.err
}

func TestCastVote(t *testing.T) {
	pub := &fakeVotePublisher{}
	h := NewVoteHandler(&fakeVoteStore{action: model.VoteInsert}, &fakeVoteCounts{count: 5}, pub)

	rec := httptest.NewRecorder()
	h.Cast(rec, authedRequest(http.MethodPost, "/api/votes",
		`{"target_id":"post1","target_type":"post","vote_type":1}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Action string `json:"action"`
		Count  int    `json:"count"`
		MyVote int    `json:"my_vote"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Action != "insert" || resp.Count != 5 || resp.MyVote != 1 {
		t.Errorf("unexpected response %+v", resp)
	}
	if len(pub.topics) != 1 || pub.topics[0] != "votes:post1" {
		t.Errorf("published topics = %v", pub.topics)
	}
}

func TestCastVoteBroadcastFailureStillSucceeds(t *testing.T) {
	// The vote row is committed before the broadcast; a pub/sub outage must
	// not turn a stored vote into a client-visible error.
	pub := &fakeVotePublisher{err: errors.New("redis down")}
	h := NewVoteHandler(&fakeVoteStore{action: model.VoteDelete}, &fakeVoteCounts{count: 2}, pub)

	rec := httptest.NewRecorder()
	h.Cast(rec, authedRequest(http.MethodPost, "/api/votes",
		`{"target_id":"post1","target_type":"post","vote_type":1}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 despite broadcast failure", rec.Code)
	}
	var resp struct {
		MyVote int `json:"my_vote"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.MyVote != 0 {
		t.Errorf("my_vote = %d, want 0 after un-vote", resp.MyVote)
	}
}

func TestCastVoteRejectsBadInput(t *testing.T) {
	h := NewVoteHandler(&fakeVoteStore{}, &fakeVoteCounts{}, &fakeVotePublisher{})
	cases := []struct {
		name string
		body string
	}{
		{"missing target", `{"target_type":"post","vote_type":1}`},
		{"bad target type", `{"target_id":"p1","target_type":"event","vote_type":1}`},
		{"bad vote type", `{"target_id":"p1","target_type":"post","vote_type":2}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Cast(rec, authedRequest(http.MethodPost, "/api/votes", tc.body))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}
