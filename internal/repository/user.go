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

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	u := &model.User{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, username, email, avatar_url, is_online, created_at
		 FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.Email, &u.AvatarURL, &u.IsOnline, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	return u, nil
}

// ListIDsBySchoolDomain resolves recipients for campus-wide announcements by
// the institution part of the verified email.
func (r *UserRepository) ListIDsBySchoolDomain(ctx context.Context, domain string) ([]string, error) {
	defer logger.DeferLogDuration("user.ListIDsBySchoolDomain", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM users WHERE lower(split_part(email, '@', 2)) = lower($1)`, domain,
	)
	if err != nil {
		return nil, fmt.Errorf("userRepo.ListIDsBySchoolDomain query: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("userRepo.ListIDsBySchoolDomain scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userRepo.ListIDsBySchoolDomain rows: %w", err)
	}
	return ids, nil
}

func (r *UserRepository) SetOnline(ctx context.Context, userID string, online bool) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET is_online = $2, last_seen_at = $3 WHERE id = $1`,
		userID, online, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("userRepo.SetOnline: %w", err)
	}
	return nil
}
