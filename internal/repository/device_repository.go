package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/lacolombe/portal-notify/internal/models"
)

type DeviceRepository interface {
	Upsert(ctx context.Context, reg models.DeviceRegistration) error
	Touch(ctx context.Context, token string) error
	DeactivateStale(ctx context.Context, cutoff time.Time) (int64, error)
	ListActiveByParent(ctx context.Context, parentID string) ([]models.DeviceRegistration, error)
}

type deviceRepository struct {
	db *sql.DB
}

func NewDeviceRepository(db *sql.DB) DeviceRepository {
	return &deviceRepository{db: db}
}

// Upsert registers a device token, reviving it if a stale row exists for
// the same token.
func (r *deviceRepository) Upsert(ctx context.Context, reg models.DeviceRegistration) error {
	const query = `
		INSERT INTO portal.devices (token, parent_id, platform, user_agent, created_at, last_used, active)
		VALUES ($1, $2, $3, $4, NOW(), NOW(), TRUE)
		ON CONFLICT (token) DO UPDATE
		SET parent_id = EXCLUDED.parent_id,
		    platform = EXCLUDED.platform,
		    user_agent = EXCLUDED.user_agent,
		    last_used = NOW(),
		    active = TRUE
	`
	_, err := r.db.ExecContext(ctx, query, reg.Token, reg.ParentID, reg.Platform, reg.UserAgent)
	return err
}

func (r *deviceRepository) Touch(ctx context.Context, token string) error {
	const query = `UPDATE portal.devices SET last_used = NOW() WHERE token = $1`
	_, err := r.db.ExecContext(ctx, query, token)
	return err
}

// DeactivateStale marks tokens unused since the cutoff as inactive and
// returns how many rows changed. Rows are kept for audit, not deleted.
func (r *deviceRepository) DeactivateStale(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `
		UPDATE portal.devices
		SET active = FALSE
		WHERE active = TRUE AND last_used < $1
	`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *deviceRepository) ListActiveByParent(ctx context.Context, parentID string) ([]models.DeviceRegistration, error) {
	const query = `
		SELECT token, parent_id, platform, user_agent, created_at, last_used, active
		FROM portal.devices
		WHERE parent_id = $1 AND active = TRUE
		ORDER BY last_used DESC
	`
	rows, err := r.db.QueryContext(ctx, query, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regs []models.DeviceRegistration
	for rows.Next() {
		var d models.DeviceRegistration
		if err := rows.Scan(&d.Token, &d.ParentID, &d.Platform, &d.UserAgent, &d.CreatedAt, &d.LastUsed, &d.Active); err != nil {
			return nil, err
		}
		regs = append(regs, d)
	}
	return regs, rows.Err()
}
