package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stridecampus/internal/logger"
	"github.com/stridecampus/internal/model"
)

type NotificationRepository struct {
	pool *pgxpool.Pool
}

func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

func (r *NotificationRepository) Create(ctx context.Context, n *model.Notification) error {
	defer logger.DeferLogDuration("notif.Create", time.Now())()
	data, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("notifRepo.Create marshal data: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO notifications (id, recipient_id, sender_id, kind, title, body, is_read, data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		n.ID, n.RecipientID, n.SenderID, n.Kind, n.Title, n.Body, n.IsRead, data, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("notifRepo.Create: %w", err)
	}
	return nil
}

func (r *NotificationRepository) GetByID(ctx context.Context, id string) (*model.Notification, error) {
	defer logger.DeferLogDuration("notif.GetByID", time.Now())()
	n := &model.Notification{}
	var data []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, recipient_id, sender_id, kind, title, body, is_read, data, created_at
		 FROM notifications WHERE id = $1`, id,
	).Scan(&n.ID, &n.RecipientID, &n.SenderID, &n.Kind, &n.Title, &n.Body, &n.IsRead, &data, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("notifRepo.GetByID: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &n.Data); err != nil {
			return nil, fmt.Errorf("notifRepo.GetByID unmarshal data: %w", err)
		}
	}
	return n, nil
}

// ListByRecipient returns the recipient's notifications, newest first.
func (r *NotificationRepository) ListByRecipient(ctx context.Context, recipientID string, limit, offset int) ([]model.Notification, error) {
	defer logger.DeferLogDuration("notif.ListByRecipient", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, recipient_id, sender_id, kind, title, body, is_read, data, created_at
		 FROM notifications
		 WHERE recipient_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`, recipientID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("notifRepo.ListByRecipient query: %w", err)
	}
	defer rows.Close()

	list := make([]model.Notification, 0, limit)
	for rows.Next() {
		var n model.Notification
		var data []byte
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.SenderID, &n.Kind, &n.Title, &n.Body, &n.IsRead, &data, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("notifRepo.ListByRecipient scan: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &n.Data); err != nil {
				logger.Errorf("notifRepo.ListByRecipient: bad data payload id=%s: %v", n.ID, err)
			}
		}
		list = append(list, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notifRepo.ListByRecipient rows: %w", err)
	}
	return list, nil
}

func (r *NotificationRepository) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	defer logger.DeferLogDuration("notif.UnreadCount", time.Now())()
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND is_read = false`, recipientID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("notifRepo.UnreadCount: %w", err)
	}
	return count, nil
}

// MarkRead sets is_read for a single notification owned by the recipient.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, recipientID string) error {
	defer logger.DeferLogDuration("notif.MarkRead", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET is_read = true WHERE id = $1 AND recipient_id = $2`, id, recipientID,
	)
	if err != nil {
		return fmt.Errorf("notifRepo.MarkRead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *NotificationRepository) MarkAllRead(ctx context.Context, recipientID string) error {
	defer logger.DeferLogDuration("notif.MarkAllRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE notifications SET is_read = true WHERE recipient_id = $1 AND is_read = false`, recipientID,
	)
	if err != nil {
		return fmt.Errorf("notifRepo.MarkAllRead: %w", err)
	}
	return nil
}
