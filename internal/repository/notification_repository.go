package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/lacolombe/portal-notify/internal/models"
)

type NotificationRepository interface {
	Create(ctx context.Context, rec models.NotificationRecord) (string, error)
	Stats(ctx context.Context, parentID string, since time.Time) (models.Stats, error)
	ListRecent(ctx context.Context, parentID string, limit int) ([]models.NotificationRecord, error)
}

type notificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

// Create appends one delivery record. The audit log is append-only; failed
// sends are recorded the same way as successes, with status and error set.
func (r *notificationRepository) Create(ctx context.Context, rec models.NotificationRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.SentAt.IsZero() {
		rec.SentAt = time.Now().UTC()
	}
	const query = `
		INSERT INTO portal.notifications
			(id, parent_id, title, body, data, delivery_token, message_id, status, error, priority, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.ParentID, rec.Title, rec.Body, rec.Data,
		rec.DeliveryToken, rec.MessageID, rec.Status, rec.Error, rec.Priority, rec.SentAt)
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

// Stats aggregates delivery records since the given instant, grouped by
// notification type, status, and calendar day.
func (r *notificationRepository) Stats(ctx context.Context, parentID string, since time.Time) (models.Stats, error) {
	const query = `
		SELECT COALESCE(data->>'type', 'unknown'), status, to_char(sent_at, 'YYYY-MM-DD'), COUNT(*)
		FROM portal.notifications
		WHERE parent_id = $1 AND sent_at >= $2
		GROUP BY 1, 2, 3
	`
	rows, err := r.db.QueryContext(ctx, query, parentID, since)
	if err != nil {
		return models.Stats{}, err
	}
	defer rows.Close()

	stats := models.Stats{
		ByType:   make(map[string]int),
		ByStatus: make(map[string]int),
		ByDay:    make(map[string]int),
	}
	for rows.Next() {
		var (
			typ, status, day string
			count            int
		)
		if err := rows.Scan(&typ, &status, &day, &count); err != nil {
			return models.Stats{}, err
		}
		stats.Total += count
		stats.ByType[typ] += count
		stats.ByStatus[status] += count
		stats.ByDay[day] += count
	}
	return stats, rows.Err()
}

func (r *notificationRepository) ListRecent(ctx context.Context, parentID string, limit int) ([]models.NotificationRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `
		SELECT id, parent_id, title, body, data, delivery_token, message_id, status, error, priority, sent_at
		FROM portal.notifications
		WHERE parent_id = $1
		ORDER BY sent_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, parentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.NotificationRecord
	for rows.Next() {
		rec, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanNotification(rows *sql.Rows) (models.NotificationRecord, error) {
	var (
		rec       models.NotificationRecord
		messageID sql.NullString
		sendErr   sql.NullString
	)
	err := rows.Scan(&rec.ID, &rec.ParentID, &rec.Title, &rec.Body, &rec.Data,
		&rec.DeliveryToken, &messageID, &rec.Status, &sendErr, &rec.Priority, &rec.SentAt)
	if err != nil {
		return models.NotificationRecord{}, err
	}
	if messageID.Valid {
		rec.MessageID = &messageID.String
	}
	if sendErr.Valid {
		rec.Error = &sendErr.String
	}
	return rec, nil
}
