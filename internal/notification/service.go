package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/lacolombe/portal-notify/internal/models"
	"github.com/lacolombe/portal-notify/internal/push"
	"github.com/lacolombe/portal-notify/internal/repository"
)

// ErrNotFound is returned when the target parent does not exist or has no
// registered device token.
var ErrNotFound = errors.New("notification target not found")

// Service dispatches notifications to parents and serves the audit trail.
type Service interface {
	Dispatch(ctx context.Context, req models.NotificationRequest) (Outcome, error)
	SendTest(ctx context.Context, token, title, body string) (Outcome, error)
	Stats(ctx context.Context, parentID string, days int) (models.Stats, error)
	ListRecent(ctx context.Context, parentID string, limit int) ([]models.NotificationRecord, error)
}

type service struct {
	parents       repository.ParentRepository
	devices       repository.DeviceRepository
	notifications repository.NotificationRepository
	transport     push.Transport
	logger        zerolog.Logger
}

func NewService(
	parents repository.ParentRepository,
	devices repository.DeviceRepository,
	notifications repository.NotificationRepository,
	transport push.Transport,
	logger zerolog.Logger,
) Service {
	return &service{
		parents:       parents,
		devices:       devices,
		notifications: notifications,
		transport:     transport,
		logger:        logger.With().Str("component", "notification").Logger(),
	}
}

// Dispatch resolves the parent, checks the suppression flag, and sends
// through the transport. Every send attempt, success or failure, lands in
// the audit trail. Suppression is an outcome, not an error.
func (s *service) Dispatch(ctx context.Context, req models.NotificationRequest) (Outcome, error) {
	parent, err := s.parents.GetByID(ctx, req.ParentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Outcome{Tier: TierNone, Reason: "parent not found"}, ErrNotFound
		}
		return Outcome{Tier: TierNone}, errors.Wrap(err, "resolve parent")
	}

	if !parent.NotificationEnabled {
		s.logger.Debug().Str("parent_id", req.ParentID).Msg("notifications disabled, suppressing")
		return Outcome{Delivered: false, Tier: TierNone, Reason: "suppressed"}, nil
	}

	if parent.FCMToken == "" {
		return Outcome{Tier: TierNone, Reason: "no device token"}, ErrNotFound
	}

	req.Priority = models.NormalizePriority(string(req.Priority))
	msg := push.Message{
		Title:              req.Title,
		Body:               req.Body,
		Data:               req.Data.Flatten(),
		Priority:           req.Priority,
		Link:               "/" + req.Data.Page,
		Tag:                req.Tag(),
		RequireInteraction: req.Priority == models.PriorityHigh,
	}

	messageID, sendErr := s.transport.Send(ctx, parent.FCMToken, msg)
	s.record(ctx, req, parent.FCMToken, messageID, sendErr)

	if sendErr != nil {
		s.logger.Warn().Err(sendErr).
			Str("parent_id", req.ParentID).
			Str("type", string(req.Data.Type)).
			Msg("push send failed")
		return Outcome{Tier: TierNone, Reason: sendErr.Error()}, errors.Wrap(sendErr, "send notification")
	}

	if err := s.devices.Touch(ctx, parent.FCMToken); err != nil {
		s.logger.Warn().Err(err).Msg("touch device registration")
	}

	s.logger.Info().
		Str("parent_id", req.ParentID).
		Str("type", string(req.Data.Type)).
		Str("message_id", messageID).
		Msg("notification sent")
	return Outcome{Delivered: true, Tier: TierTransport, MessageID: messageID}, nil
}

// record writes the audit row. Audit failures are logged, never propagated;
// a delivered notification must not be reported as failed because the log
// write broke.
func (s *service) record(ctx context.Context, req models.NotificationRequest, token, messageID string, sendErr error) {
	rec := models.NotificationRecord{
		ParentID:      req.ParentID,
		Title:         req.Title,
		Body:          req.Body,
		DeliveryToken: token,
		Status:        models.NotificationStatusSent,
		Priority:      req.Priority,
		SentAt:        time.Now().UTC(),
	}
	if data, err := json.Marshal(req.Data); err == nil {
		rec.Data = data
	}
	if sendErr != nil {
		rec.Status = models.NotificationStatusFailed
		msg := sendErr.Error()
		rec.Error = &msg
	} else {
		rec.MessageID = &messageID
	}
	if _, err := s.notifications.Create(ctx, rec); err != nil {
		s.logger.Error().Err(err).Str("parent_id", req.ParentID).Msg("write notification record")
	}
}

// SendTest pushes a canned message straight to a device token. No parent
// resolution and no audit row; it only proves the transport path works.
func (s *service) SendTest(ctx context.Context, token, title, body string) (Outcome, error) {
	if title == "" {
		title = "🧪 Notification de test"
	}
	if body == "" {
		body = "Le système de notifications fonctionne correctement."
	}

	msg := push.Message{
		Title:    title,
		Body:     body,
		Data:     map[string]string{"type": "test", "timestamp": time.Now().UTC().Format(time.RFC3339)},
		Priority: models.PriorityNormal,
		Link:     "/dashboard",
	}
	messageID, err := s.transport.Send(ctx, token, msg)
	if err != nil {
		return Outcome{Tier: TierNone, Reason: err.Error()}, errors.Wrap(err, "send test notification")
	}
	return Outcome{Delivered: true, Tier: TierTransport, MessageID: messageID}, nil
}

func (s *service) Stats(ctx context.Context, parentID string, days int) (models.Stats, error) {
	if days <= 0 {
		days = 7
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	return s.notifications.Stats(ctx, parentID, since)
}

func (s *service) ListRecent(ctx context.Context, parentID string, limit int) ([]models.NotificationRecord, error) {
	return s.notifications.ListRecent(ctx, parentID, limit)
}
