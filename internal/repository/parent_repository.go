package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/lacolombe/portal-notify/internal/models"
)

// ErrNotFound is returned when a parent, child, or token row is absent.
// Callers treat it as a non-fatal skip, not a crash.
var ErrNotFound = errors.New("not found")

type ParentRepository interface {
	GetByID(ctx context.Context, parentID string) (models.Parent, error)
	Authenticate(ctx context.Context, parentID, accessCode string) (models.Parent, error)
	SetFCMToken(ctx context.Context, parentID, token string) error
	ListChildren(ctx context.Context, parentID string) ([]models.Child, error)
}

type parentRepository struct {
	db *sql.DB
}

func NewParentRepository(db *sql.DB) ParentRepository {
	return &parentRepository{db: db}
}

func (r *parentRepository) GetByID(ctx context.Context, parentID string) (models.Parent, error) {
	const query = `
		SELECT id, full_name, access_code_hash, COALESCE(fcm_token, ''), notification_enabled, last_token_update, created_at
		FROM portal.parents
		WHERE id = $1
	`
	row := r.db.QueryRowContext(ctx, query, strings.TrimSpace(parentID))
	return scanParent(row)
}

func (r *parentRepository) Authenticate(ctx context.Context, parentID, accessCode string) (models.Parent, error) {
	parent, err := r.GetByID(ctx, parentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return models.Parent{}, errors.New("invalid credentials")
		}
		return models.Parent{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(parent.AccessCodeHash), []byte(accessCode)); err != nil {
		return models.Parent{}, errors.New("invalid credentials")
	}
	return parent, nil
}

func (r *parentRepository) SetFCMToken(ctx context.Context, parentID, token string) error {
	const query = `
		UPDATE portal.parents
		SET fcm_token = $2, notification_enabled = TRUE, last_token_update = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, strings.TrimSpace(parentID), token)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *parentRepository) ListChildren(ctx context.Context, parentID string) ([]models.Child, error) {
	const query = `
		SELECT id, parent_id, full_name, class_name, kind
		FROM portal.children
		WHERE parent_id = $1
		ORDER BY full_name
	`
	rows, err := r.db.QueryContext(ctx, query, strings.TrimSpace(parentID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var children []models.Child
	for rows.Next() {
		var c models.Child
		if err := rows.Scan(&c.ID, &c.ParentID, &c.FullName, &c.ClassName, &c.Kind); err != nil {
			return nil, err
		}
		children = append(children, c)
	}
	return children, rows.Err()
}

func scanParent(row *sql.Row) (models.Parent, error) {
	var (
		p           models.Parent
		tokenUpdate sql.NullTime
	)
	err := row.Scan(&p.ID, &p.FullName, &p.AccessCodeHash, &p.FCMToken, &p.NotificationEnabled, &tokenUpdate, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Parent{}, ErrNotFound
		}
		return models.Parent{}, err
	}
	if tokenUpdate.Valid {
		t := tokenUpdate.Time
		p.LastTokenUpdate = &t
	}
	return p, nil
}
