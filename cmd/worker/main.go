package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/lacolombe/portal-notify/internal/assetcache"
	"github.com/lacolombe/portal-notify/internal/bridge"
	"github.com/lacolombe/portal-notify/internal/config"
	"github.com/lacolombe/portal-notify/internal/detector"
	"github.com/lacolombe/portal-notify/internal/docstore"
	"github.com/lacolombe/portal-notify/internal/notification"
	"github.com/lacolombe/portal-notify/internal/worker"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("service", "portal-worker").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	if err := os.MkdirAll(cfg.Worker.DataDir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("failed to create data directory")
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("database unreachable")
	}

	store := docstore.NewPostgresStore(db, cfg.DatabaseURL, logger)
	defer store.Close()

	marks, err := detector.OpenWatermarkStore(filepath.Join(cfg.Worker.DataDir, "watermarks.db"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open watermark store")
	}
	defer marks.Close()

	assetCfg := cfg.Worker.Assets
	if assetCfg.Version == "" {
		assetCfg.Version = cfg.Worker.Version
	}
	cache, err := assetcache.Open(filepath.Join(cfg.Worker.DataDir, "assets.db"), assetCfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open asset cache")
	}
	defer cache.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := bridge.NewHub(logger)
	opener := worker.NewExecOpener(cfg.Worker.OpenCommand)
	wrk := worker.New(store, hub, cache, opener, cfg.Worker.Version, cfg.Worker.EntryURL, logger)

	dispatchClient := notification.NewClient(cfg.Worker.DispatchURL, logger)
	det := detector.New(store, marks, dispatchClient, wrk, cfg.Detector, logger)
	wrk.SetChecker(det)
	wrk.SetSessioner(det)

	if err := wrk.Install(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker install failed")
	}
	if err := wrk.Activate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker activation failed")
	}
	det.Start(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", bridge.HandleWebSocket(hub, wrk))
	mux.HandleFunc("/clicked", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var click struct {
			Tag    string `json:"tag"`
			Action string `json:"action"`
		}
		if err := json.NewDecoder(r.Body).Decode(&click); err != nil || click.Tag == "" {
			http.Error(w, "invalid click payload", http.StatusBadRequest)
			return
		}
		wrk.HandleClick(click.Tag, click.Action)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","state":%q,"clients":%d}`, wrk.State(), hub.Count())
	})
	mux.Handle("/", cache)

	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Worker.Port),
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info().Int("port", cfg.Worker.Port).Str("version", cfg.Worker.Version).Msg("worker daemon listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown incomplete")
	}
}
