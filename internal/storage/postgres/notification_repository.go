package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
)

const defaultStalePendingLimit = 100

type notificationRepository struct {
	db *sql.DB
}

// NewNotificationRepository создаёт PostgreSQL-реализацию NotificationRepository.
// Уникальность (event_id, purpose) обеспечивает ограничение таблицы.
func NewNotificationRepository(store *Store) domain.NotificationRepository {
	return &notificationRepository{db: store.DB()}
}

const notificationColumns = `id, event_id, purpose, recipient, address, subject, body, status, error, created_at, updated_at`

func (r *notificationRepository) Get(ctx context.Context, eventID string, purpose domain.NotificationPurpose) (domain.Notification, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	n, err := scanNotification(r.db.QueryRowContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE event_id = $1 AND purpose = $2
	`, eventID, string(purpose)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Notification{}, domain.ErrNotificationNotFound
		}
		return domain.Notification{}, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

func (r *notificationRepository) Claim(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.Status = domain.NotificationStatusPending
	n.Error = ""
	n.CreatedAt = now
	n.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		n.ID,
		n.EventID,
		string(n.Purpose),
		n.Recipient,
		n.Address,
		n.Subject,
		n.Body,
		string(n.Status),
		n.Error,
		n.CreatedAt,
		n.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Notification{}, domain.ErrNotificationExists
		}
		return domain.Notification{}, fmt.Errorf("claim notification: %w", err)
	}
	return n, nil
}

func (r *notificationRepository) Finalize(ctx context.Context, id string, status domain.NotificationStatus, errMsg string) error {
	if !status.Valid() {
		return fmt.Errorf("%w: notification status %q", domain.ErrValidation, status)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = $2,
		    error = $3,
		    updated_at = $4
		WHERE id = $1
	`, id, string(status), errMsg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("finalize notification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("notification rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

func (r *notificationRepository) ListByEvent(ctx context.Context, eventID string) ([]domain.Notification, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE event_id = $1
		ORDER BY purpose ASC
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return result, nil
}

func (r *notificationRepository) ListStalePending(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = defaultStalePendingLimit
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE status = $1 AND updated_at <= $2
		ORDER BY updated_at ASC, id ASC
		LIMIT $3
	`, string(domain.NotificationStatusPending), updatedBefore.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale notifications: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale notifications: %w", err)
	}
	return result, nil
}

// Reclaim продлевает запись условным UPDATE: из нескольких реплик запись получит одна.
func (r *notificationRepository) Reclaim(ctx context.Context, id string, updatedBefore time.Time) (domain.Notification, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	n, err := scanNotification(r.db.QueryRowContext(ctx, `
		UPDATE notifications
		SET updated_at = $3
		WHERE id = $1 AND status = $2 AND updated_at <= $4
		RETURNING `+notificationColumns,
		id, string(domain.NotificationStatusPending), time.Now().UTC(), updatedBefore.UTC()))
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Notification{}, fmt.Errorf("reclaim notification: %w", err)
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM notifications WHERE id = $1)`, id).Scan(&exists); err != nil {
		return domain.Notification{}, fmt.Errorf("reclaim notification: %w", err)
	}
	if !exists {
		return domain.Notification{}, domain.ErrNotificationNotFound
	}
	return domain.Notification{}, domain.ErrNotificationExists
}

func scanNotification(row rowScanner) (domain.Notification, error) {
	var (
		n       domain.Notification
		purpose string
		status  string
	)
	if err := row.Scan(
		&n.ID,
		&n.EventID,
		&purpose,
		&n.Recipient,
		&n.Address,
		&n.Subject,
		&n.Body,
		&status,
		&n.Error,
		&n.CreatedAt,
		&n.UpdatedAt,
	); err != nil {
		return domain.Notification{}, err
	}
	n.Purpose = domain.NotificationPurpose(purpose)
	n.Status = domain.NotificationStatus(status)
	n.CreatedAt = n.CreatedAt.UTC()
	n.UpdatedAt = n.UpdatedAt.UTC()
	return n, nil
}

var _ domain.NotificationRepository = (*notificationRepository)(nil)
