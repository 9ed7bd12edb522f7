package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stridecampus/internal/logger"
	"github.com/stridecampus/internal/model"
)

type VoteRepository struct {
	pool *pgxpool.Pool
}

func NewVoteRepository(pool *pgxpool.Pool) *VoteRepository {
	return &VoteRepository{pool: pool}
}

// Cast applies a vote with toggle semantics and reports the resulting row
// action: no existing vote inserts, the same vote again deletes (un-vote),
// a different vote updates. Runs in a transaction so concurrent casts by the
// same user serialize on the row.
func (r *VoteRepository) Cast(ctx context.Context, userID, targetID string, targetType model.VoteTargetType, voteType int) (model.VoteAction, error) {
	defer logger.DeferLogDuration("vote.Cast", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("voteRepo.Cast begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var current int
	err = tx.QueryRow(ctx,
		`SELECT vote_type FROM votes WHERE user_id = $1 AND target_id = $2 FOR UPDATE`,
		userID, targetID,
	).Scan(&current)

	var action model.VoteAction
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		action = model.VoteInsert
		_, err = tx.Exec(ctx,
			`INSERT INTO votes (user_id, target_id, target_type, vote_type) VALUES ($1, $2, $3, $4)`,
			userID, targetID, targetType, voteType,
		)
	case err != nil:
		return "", fmt.Errorf("voteRepo.Cast select: %w", err)
	case current == voteType:
		action = model.VoteDelete
		_, err = tx.Exec(ctx,
			`DELETE FROM votes WHERE user_id = $1 AND target_id = $2`, userID, targetID,
		)
	default:
		action = model.VoteUpdate
		_, err = tx.Exec(ctx,
			`UPDATE votes SET vote_type = $3, updated_at = now() WHERE user_id = $1 AND target_id = $2`,
			userID, targetID, voteType,
		)
	}
	if err != nil {
		return "", fmt.Errorf("voteRepo.Cast %s: %w", action, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("voteRepo.Cast commit: %w", err)
	}
	return action, nil
}

// Count returns the authoritative net vote count for a target.
func (r *VoteRepository) Count(ctx context.Context, targetID string) (int, error) {
	defer logger.DeferLogDuration("vote.Count", time.Now())()
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(vote_type), 0) FROM votes WHERE target_id = $1`, targetID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("voteRepo.Count: %w", err)
	}
	return count, nil
}

// GetUserVote returns the user's vote for a target (+1, -1 or 0 when absent).
func (r *VoteRepository) GetUserVote(ctx context.Context, userID, targetID string) (int, error) {
	defer logger.DeferLogDuration("vote.GetUserVote", time.Now())()
	var voteType int
	err := r.pool.QueryRow(ctx,
		`SELECT vote_type FROM votes WHERE user_id = $1 AND target_id = $2`, userID, targetID,
	).Scan(&voteType)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("voteRepo.GetUserVote: %w", err)
	}
	return voteType, nil
}
