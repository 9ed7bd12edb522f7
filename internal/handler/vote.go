package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stridecampus/internal/logger"
	"github.com/stridecampus/internal/middleware"
	"github.com/stridecampus/internal/model"
	"github.com/stridecampus/internal/realtime"
)

// VoteStore is the vote row surface the handler needs.
// Implemented by repository.VoteRepository.
type VoteStore interface {
	Cast(ctx context.Context, userID, targetID string, targetType model.VoteTargetType, voteType int) (model.VoteAction, error)
	GetUserVote(ctx context.Context, userID, targetID string) (int, error)
}

// VoteCounts serves reconciled counts. Implemented by votes.View.
type VoteCounts interface {
	Count(ctx context.Context, targetID string) (int, error)
}

// VoteHandler writes votes and broadcasts the change so every subscribed
// client (and this instance's materialized view) reconciles its local count.
type VoteHandler struct {
	repo      VoteStore
	view      VoteCounts
	publisher realtime.Publisher
}

func NewVoteHandler(repo VoteStore, view VoteCounts, publisher realtime.Publisher) *VoteHandler {
	return &VoteHandler{repo: repo, view: view, publisher: publisher}
}

type castVoteRequest struct {
	TargetID   string               `json:"target_id"`
	TargetType model.VoteTargetType `json:"target_type"`
	VoteType   int                  `json:"vote_type"`
}

type voteResponse struct {
	Action model.VoteAction `json:"action,omitempty"`
	Count  int              `json:"count"`
	MyVote int              `json:"my_vote"`
}

// Cast applies a vote with toggle semantics: voting the same way again
// removes the vote, voting the other way flips it.
func (h *VoteHandler) Cast(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req castVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.TargetID == "" {
		writeError(w, http.StatusBadRequest, "target_id required")
		return
	}
	if req.TargetType != model.VoteTargetPost && req.TargetType != model.VoteTargetComment {
		writeError(w, http.StatusBadRequest, "target_type must be post or comment")
		return
	}
	if req.VoteType != 1 && req.VoteType != -1 {
		writeError(w, http.StatusBadRequest, "vote_type must be 1 or -1")
		return
	}

	action, err := h.repo.Cast(r.Context(), userID, req.TargetID, req.TargetType, req.VoteType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to cast vote")
		return
	}

	ev := model.VoteEvent{
		TargetID:   req.TargetID,
		TargetType: req.TargetType,
		Action:     action,
		VoteType:   req.VoteType,
		UserID:     userID,
	}
	// Fire-and-forget: the vote row is committed either way, and clients
	// refetch on the next load.
	if err := h.publisher.Publish(r.Context(), realtime.VotesTopic(req.TargetID), "vote_update", ev); err != nil {
		logger.Errorf("vote broadcast target=%s: %v", req.TargetID, err)
	}

	myVote := req.VoteType
	if action == model.VoteDelete {
		myVote = 0
	}
	count, err := h.view.Count(r.Context(), req.TargetID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load count")
		return
	}
	writeJSON(w, http.StatusOK, voteResponse{Action: action, Count: count, MyVote: myVote})
}

// Get returns the reconciled count and the caller's own vote for a target.
func (h *VoteHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	targetID := chi.URLParam(r, "targetId")
	count, err := h.view.Count(r.Context(), targetID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load count")
		return
	}
	myVote, err := h.repo.GetUserVote(r.Context(), userID, targetID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load vote")
		return
	}
	writeJSON(w, http.StatusOK, voteResponse{Count: count, MyVote: myVote})
}
