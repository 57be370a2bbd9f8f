package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// TokenCleanupParams configures one sweep of the device-token table.
type TokenCleanupParams struct {
	RetentionDays int
}

// TokenCleanupWorkflow deactivates device tokens unused beyond the
// retention window. It runs on a cron schedule and is idempotent: a second
// run over the same rows changes nothing.
func TokenCleanupWorkflow(ctx workflow.Context, params TokenCleanupParams) error {
	logger := workflow.GetLogger(ctx)

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: 10 * time.Second,
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var deactivated int64
	err := workflow.ExecuteActivity(ctx, "DeactivateStaleTokensActivity", params.RetentionDays).Get(ctx, &deactivated)
	if err != nil {
		logger.Error("token cleanup failed", "error", err)
		return err
	}

	logger.Info("token cleanup completed", "deactivated", deactivated)
	return nil
}
