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

type PushTargetRepository struct {
	pool *pgxpool.Pool
}

func NewPushTargetRepository(pool *pgxpool.Pool) *PushTargetRepository {
	return &PushTargetRepository{pool: pool}
}

// Upsert stores the user's push target. One row per user: a repeated
// registration overwrites token, kind and timestamps (last write wins).
func (r *PushTargetRepository) Upsert(ctx context.Context, t *model.PushTarget) error {
	defer logger.DeferLogDuration("pushTarget.Upsert", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO push_targets (user_id, kind, token, enabled, last_validated_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id) DO UPDATE
		 SET kind = EXCLUDED.kind, token = EXCLUDED.token, enabled = EXCLUDED.enabled,
		     last_validated_at = EXCLUDED.last_validated_at, updated_at = EXCLUDED.updated_at`,
		t.UserID, t.Kind, t.Token, t.Enabled, t.LastValidatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("pushTargetRepo.Upsert: %w", err)
	}
	return nil
}

func (r *PushTargetRepository) Get(ctx context.Context, userID string) (*model.PushTarget, error) {
	defer logger.DeferLogDuration("pushTarget.Get", time.Now())()
	t := &model.PushTarget{}
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, kind, token, enabled, last_validated_at, updated_at
		 FROM push_targets WHERE user_id = $1`, userID,
	).Scan(&t.UserID, &t.Kind, &t.Token, &t.Enabled, &t.LastValidatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pushTargetRepo.Get: %w", err)
	}
	return t, nil
}

// Clear removes the stored token and disables delivery. Used when the
// gateway reports the token permanently dead or the user opts out.
func (r *PushTargetRepository) Clear(ctx context.Context, userID string) error {
	defer logger.DeferLogDuration("pushTarget.Clear", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE push_targets
		 SET kind = 'none', token = '', enabled = false, updated_at = $2
		 WHERE user_id = $1`, userID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("pushTargetRepo.Clear: %w", err)
	}
	return nil
}

// Touch refreshes last_validated_at after a successful revalidation.
func (r *PushTargetRepository) Touch(ctx context.Context, userID string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE push_targets SET last_validated_at = $2 WHERE user_id = $1`, userID, at,
	)
	if err != nil {
		return fmt.Errorf("pushTargetRepo.Touch: %w", err)
	}
	return nil
}

// ListStale returns enabled targets whose last validation is older than
// cutoff, for the periodic revalidation sweep.
func (r *PushTargetRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]model.PushTarget, error) {
	defer logger.DeferLogDuration("pushTarget.ListStale", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, kind, token, enabled, last_validated_at, updated_at
		 FROM push_targets
		 WHERE enabled = true AND kind <> 'none' AND last_validated_at < $1
		 ORDER BY last_validated_at ASC
		 LIMIT $2`, cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("pushTargetRepo.ListStale query: %w", err)
	}
	defer rows.Close()

	targets := make([]model.PushTarget, 0, limit)
	for rows.Next() {
		var t model.PushTarget
		if err := rows.Scan(&t.UserID, &t.Kind, &t.Token, &t.Enabled, &t.LastValidatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("pushTargetRepo.ListStale scan: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pushTargetRepo.ListStale rows: %w", err)
	}
	return targets, nil
}
