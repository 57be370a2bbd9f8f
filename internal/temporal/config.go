package temporal

import "time"

const (
	// TaskQueueName is the queue the maintenance worker polls.
	TaskQueueName = "PORTAL_NOTIFY_MAINTENANCE"

	// TokenCleanupWorkflowID keeps the cron workflow singleton per cluster.
	TokenCleanupWorkflowID = "device-token-cleanup"

	// DefaultCleanupCron runs the sweep once a day.
	DefaultCleanupCron = "0 3 * * *"

	DefaultActivityTimeout = 5 * time.Minute
)

// Config locates the Temporal cluster.
type Config struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	Cron      string `mapstructure:"cron"`
}
