package model

type VoteTargetType string

const (
	VoteTargetPost    VoteTargetType = "post"
	VoteTargetComment VoteTargetType = "comment"
)

type VoteAction string

const (
	VoteInsert VoteAction = "insert"
	VoteUpdate VoteAction = "update"
	VoteDelete VoteAction = "delete"
)

// VoteEvent is a transient wire message broadcast over the realtime channel
// when a vote row changes. It is never persisted; consumers reconcile a
// locally held counter from the delta.
type VoteEvent struct {
	TargetID   string         `json:"target_id"`
	TargetType VoteTargetType `json:"target_type"`
	Action     VoteAction     `json:"action"`
	VoteType   int            `json:"vote_type"` // +1 or -1
	UserID     string         `json:"user_id"`
}
