package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/lacolombe/portal-notify/internal/models"
)

// Client dispatches notifications through the API server's HTTP endpoint.
// The background daemon uses it so that suppression, auditing, and token
// resolution stay server-side.
type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

func NewClient(baseURL string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  logger.With().Str("component", "dispatch-client").Logger(),
	}
}

// Dispatch posts the request to /sendParentNotification. A 2xx reply with
// success=false means the notification was suppressed and is not an error;
// any other failure is, so the caller can fall back to local presentation.
func (c *Client) Dispatch(ctx context.Context, req models.NotificationRequest) (Outcome, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Outcome{Tier: TierNone}, errors.Wrap(err, "encode notification request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sendParentNotification", bytes.NewReader(body))
	if err != nil {
		return Outcome{Tier: TierNone}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Outcome{Tier: TierNone}, errors.Wrap(err, "post notification")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Outcome{Tier: TierNone}, errors.Errorf("dispatch endpoint returned %d", resp.StatusCode)
	}

	var out Outcome
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Outcome{Tier: TierNone}, errors.Wrap(err, "decode dispatch response")
	}
	if out.Delivered {
		out.Tier = TierTransport
	}
	return out, nil
}
