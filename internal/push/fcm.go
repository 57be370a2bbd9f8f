package push

import (
	"context"
	"os"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/lacolombe/portal-notify/internal/models"
)

// Config holds FCM credentials and the resource references embedded in
// webpush notifications.
type Config struct {
	Enabled         bool   `mapstructure:"enabled"`
	ProjectID       string `mapstructure:"project_id"`
	CredentialsPath string `mapstructure:"credentials_path"`
	CredentialsJSON string `mapstructure:"credentials_json"`
	IconURL         string `mapstructure:"icon_url"`
	BadgeURL        string `mapstructure:"badge_url"`
}

// FCM sends notifications through Firebase Cloud Messaging.
type FCM struct {
	client *messaging.Client
	cfg    Config
	logger zerolog.Logger
}

// NewFCM initializes the messaging client.
func NewFCM(ctx context.Context, cfg Config, logger zerolog.Logger) (*FCM, error) {
	opts, err := credentialOptions(cfg)
	if err != nil {
		return nil, err
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "initialize Firebase app")
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "create FCM messaging client")
	}
	logger.Info().Str("project_id", cfg.ProjectID).Msg("FCM transport initialized")
	return &FCM{client: client, cfg: cfg, logger: logger.With().Str("component", "fcm").Logger()}, nil
}

func credentialOptions(cfg Config) ([]option.ClientOption, error) {
	switch {
	case cfg.CredentialsPath != "":
		return []option.ClientOption{option.WithCredentialsFile(cfg.CredentialsPath)}, nil
	case cfg.CredentialsJSON != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(cfg.CredentialsJSON))}, nil
	case os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") != "":
		return nil, nil // application default credentials
	default:
		return nil, errors.New("firebase credentials not provided")
	}
}

func (f *FCM) Send(ctx context.Context, token string, msg Message) (string, error) {
	id, err := f.client.Send(ctx, f.buildMessage(token, msg))
	if err != nil {
		f.logger.Warn().Err(err).Str("token", preview(token)).Msg("send failed")
		return "", classify(err)
	}
	return id, nil
}

// buildMessage maps the transport message onto FCM's platform sections:
// urgency header and android/apns priority from the request priority, icon
// and badge references, and the deep link derived from data.page.
func (f *FCM) buildMessage(token string, msg Message) *messaging.Message {
	urgency := "normal"
	if msg.Priority == models.PriorityHigh {
		urgency = "high"
	}

	out := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: msg.Data,
		Webpush: &messaging.WebpushConfig{
			Headers: map[string]string{"Urgency": urgency},
			Notification: &messaging.WebpushNotification{
				Icon:               f.cfg.IconURL,
				Badge:              f.cfg.BadgeURL,
				Tag:                msg.Tag,
				Renotify:           msg.Tag != "",
				RequireInteraction: msg.RequireInteraction,
				Actions: []*messaging.WebpushNotificationAction{
					{Action: "view", Title: "👁️ Voir"},
					{Action: "close", Title: "❌ Ignorer"},
				},
			},
		},
		Android: &messaging.AndroidConfig{
			Priority: urgency,
			Notification: &messaging.AndroidNotification{
				Sound:     "default",
				ChannelID: "default",
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: "default", Badge: intPtr(1)},
			},
		},
	}
	if msg.Priority == models.PriorityHigh {
		out.APNS.Headers = map[string]string{"apns-priority": "10"}
	}
	if msg.Link != "" {
		out.Webpush.FCMOptions = &messaging.WebpushFCMOptions{Link: msg.Link}
	}
	return out
}

func classify(err error) error {
	switch {
	case messaging.IsRegistrationTokenNotRegistered(err) || messaging.IsInvalidArgument(err):
		return errors.Wrap(ErrInvalidToken, err.Error())
	case messaging.IsQuotaExceeded(err):
		return errors.Wrap(ErrRateLimited, err.Error())
	case messaging.IsUnavailable(err) || messaging.IsInternal(err):
		return errors.Wrap(ErrUnavailable, err.Error())
	}
	return err
}

func preview(token string) string {
	if len(token) > 20 {
		return token[:20] + "..."
	}
	return token
}

func intPtr(v int) *int { return &v }
