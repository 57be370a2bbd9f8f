package activities

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/lacolombe/portal-notify/internal/models"
	"github.com/lacolombe/portal-notify/internal/repository"
)

type Activities struct {
	devices repository.DeviceRepository
	logger  zerolog.Logger
}

func New(devices repository.DeviceRepository, logger zerolog.Logger) *Activities {
	return &Activities{
		devices: devices,
		logger:  logger.With().Str("component", "maintenance").Logger(),
	}
}

// DeactivateStaleTokensActivity batch-marks tokens unused beyond the
// retention window as inactive and returns the affected row count.
func (a *Activities) DeactivateStaleTokensActivity(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = models.DeviceRetentionDays
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	n, err := a.devices.DeactivateStale(ctx, cutoff)
	if err != nil {
		a.logger.Error().Err(err).Msg("deactivate stale tokens")
		return 0, err
	}
	a.logger.Info().Int64("deactivated", n).Time("cutoff", cutoff).Msg("stale tokens swept")
	return n, nil
}
