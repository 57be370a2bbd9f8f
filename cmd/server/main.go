package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gorillahandlers "github.com/gorilla/handlers"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"
	temporalworker "go.temporal.io/sdk/worker"

	"github.com/lacolombe/portal-notify/internal/config"
	"github.com/lacolombe/portal-notify/internal/handlers"
	"github.com/lacolombe/portal-notify/internal/middleware"
	"github.com/lacolombe/portal-notify/internal/migration"
	"github.com/lacolombe/portal-notify/internal/notification"
	"github.com/lacolombe/portal-notify/internal/push"
	"github.com/lacolombe/portal-notify/internal/repository"
	"github.com/lacolombe/portal-notify/internal/routes"
	apptemporal "github.com/lacolombe/portal-notify/internal/temporal"
	"github.com/lacolombe/portal-notify/internal/temporal/activities"
	"github.com/lacolombe/portal-notify/internal/temporal/workflows"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("database unreachable")
	}

	if err := migration.RunMigrations(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}
	logger.Info().Msg("migrations applied")

	parents := repository.NewParentRepository(db)
	devices := repository.NewDeviceRepository(db)
	notifications := repository.NewNotificationRepository(db)

	var transport push.Transport
	if cfg.Firebase.Enabled {
		fcm, err := push.NewFCM(context.Background(), cfg.Firebase, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize FCM")
		}
		transport = fcm
	} else {
		logger.Warn().Msg("FCM disabled, using log transport")
		transport = push.NewLogTransport(logger)
	}

	service := notification.NewService(parents, devices, notifications, transport, logger)

	tc, err := temporalclient.Dial(temporalclient.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    apptemporal.NewLogAdapter(logger),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to Temporal")
	}
	defer tc.Close()

	tw := temporalworker.New(tc, apptemporal.TaskQueueName, temporalworker.Options{})
	tw.RegisterWorkflow(workflows.TokenCleanupWorkflow)
	tw.RegisterActivity(activities.New(devices, logger).DeactivateStaleTokensActivity)
	if err := tw.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start maintenance worker")
	}
	defer tw.Stop()

	startTokenCleanup(tc, cfg, logger)

	healthHandler := handlers.NewHealthHandler(db)
	notificationHandler := handlers.NewNotificationHandler(service, parents, devices, logger)
	authHandler := handlers.NewAuthHandler(parents, cfg.JWTSecret, logger)

	router := routes.NewRouter(healthHandler, notificationHandler, authHandler)

	cors := gorillahandlers.CORS(
		gorillahandlers.AllowedOrigins([]string{"*"}),
		gorillahandlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		gorillahandlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      middleware.LoggingMiddleware(logger)(cors(router)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info().Int("port", cfg.ServerPort).Msg("dispatch API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown incomplete")
	}
}

// startTokenCleanup schedules the daily device-token sweep. A workflow that
// is already running under the same id is left alone.
func startTokenCleanup(tc temporalclient.Client, cfg *config.Config, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:           apptemporal.TokenCleanupWorkflowID,
		TaskQueue:    apptemporal.TaskQueueName,
		CronSchedule: cfg.Temporal.Cron,
	}, workflows.TokenCleanupWorkflow, workflows.TokenCleanupParams{
		RetentionDays: cfg.Maintenance.RetentionDays,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("token cleanup schedule not started (may already be running)")
		return
	}
	logger.Info().Str("cron", cfg.Temporal.Cron).Msg("token cleanup scheduled")
}
