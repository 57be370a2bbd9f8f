package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/lacolombe/portal-notify/internal/assetcache"
	"github.com/lacolombe/portal-notify/internal/detector"
	"github.com/lacolombe/portal-notify/internal/push"
	"github.com/lacolombe/portal-notify/internal/temporal"
)

type Config struct {
	DatabaseURL string `mapstructure:"database_url"`
	ServerPort  int    `mapstructure:"server_port"`
	JWTSecret   string `mapstructure:"jwt_secret"`

	Firebase    push.Config       `mapstructure:"firebase"`
	Temporal    temporal.Config   `mapstructure:"temporal"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Detector    detector.Config   `mapstructure:"detector"`
	Worker      WorkerConfig      `mapstructure:"worker"`
}

type MaintenanceConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
}

// WorkerConfig configures the background daemon binary.
type WorkerConfig struct {
	Port        int               `mapstructure:"port"`
	DataDir     string            `mapstructure:"data_dir"`
	Version     string            `mapstructure:"version"`
	EntryURL    string            `mapstructure:"entry_url"`
	DispatchURL string            `mapstructure:"dispatch_url"`
	OpenCommand string            `mapstructure:"open_command"`
	Assets      assetcache.Config `mapstructure:"assets"`
}

// Load reads config.yaml plus PORTAL_* environment overrides.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/portal-notify")

	v.SetEnvPrefix("PORTAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server_port", 8080)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.cron", temporal.DefaultCleanupCron)
	v.SetDefault("maintenance.retention_days", 30)
	v.SetDefault("detector.interval", "5m")
	v.SetDefault("detector.online_delay", "5s")
	v.SetDefault("detector.foreground_delay", "3s")
	v.SetDefault("worker.port", 8090)
	v.SetDefault("worker.data_dir", "./data")
	v.SetDefault("worker.version", "dev")
	v.SetDefault("worker.dispatch_url", "http://localhost:8080")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database_url is required")
	}
	return &cfg, nil
}
