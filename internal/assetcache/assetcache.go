// Package assetcache keeps a small versioned copy of the application's
// static assets so the portal shell stays reachable offline. Navigations go
// network-first with a cached fallback; static assets are served
// cache-first. API traffic is never intercepted.
package assetcache

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

const bucketPrefix = "assets_"

// Config describes what to cache and where from.
type Config struct {
	Version string   `mapstructure:"version"`
	Origin  string   `mapstructure:"origin"`
	Assets  []string `mapstructure:"assets"`
}

type entry struct {
	ContentType string `json:"contentType"`
	Body        []byte `json:"body"`
}

type Cache struct {
	db     *bolt.DB
	cfg    Config
	client *http.Client
	logger zerolog.Logger
}

func Open(path string, cfg Config, logger zerolog.Logger) (*Cache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open asset cache")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName(cfg.Version))
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create asset bucket")
	}
	return &Cache{
		db:     db,
		cfg:    cfg,
		client: &http.Client{Timeout: 20 * time.Second},
		logger: logger.With().Str("component", "assetcache").Logger(),
	}, nil
}

func (c *Cache) Close() error { return c.db.Close() }

// Precache fetches every configured asset into the current version's
// bucket. A single failed asset does not abort the rest.
func (c *Cache) Precache(ctx context.Context) error {
	var firstErr error
	for _, path := range c.cfg.Assets {
		if err := c.fetchAndStore(ctx, path); err != nil {
			c.logger.Warn().Err(err).Str("path", path).Msg("precache asset")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	c.logger.Info().Str("version", c.cfg.Version).Int("assets", len(c.cfg.Assets)).Msg("precache complete")
	return firstErr
}

// SweepOldVersions deletes every asset bucket except the current version's.
func (c *Cache) SweepOldVersions() error {
	current := string(bucketName(c.cfg.Version))
	return c.db.Update(func(tx *bolt.Tx) error {
		var stale [][]byte
		err := tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			if strings.HasPrefix(string(name), bucketPrefix) && string(name) != current {
				stale = append(stale, append([]byte(nil), name...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, name := range stale {
			c.logger.Info().Str("bucket", string(name)).Msg("sweeping stale cache")
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Cache) fetchAndStore(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Origin+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("fetch %s: status %d", path, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return c.put(path, entry{ContentType: resp.Header.Get("Content-Type"), Body: body})
}

func (c *Cache) put(path string, e entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName(c.cfg.Version)).Put([]byte(path), raw)
	})
}

func (c *Cache) get(path string) (entry, bool) {
	var e entry
	found := false
	c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketName(c.cfg.Version)).Get([]byte(path))
		if raw != nil && json.Unmarshal(raw, &e) == nil {
			found = true
		}
		return nil
	})
	return e, found
}

// ServeHTTP serves cached assets. Navigation requests try the network
// first and fall back to the cached shell; other requests are cache-first
// with a network fill on miss. API paths pass through untouched.
func (c *Cache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if strings.HasPrefix(path, "/api/") || isDispatchPath(path) {
		http.NotFound(w, r)
		return
	}

	if isNavigation(r) {
		if c.serveNetwork(w, r, path) {
			return
		}
		if c.serveCached(w, path) || c.serveCached(w, "/") {
			return
		}
		http.Error(w, "hors ligne", http.StatusServiceUnavailable)
		return
	}

	if c.serveCached(w, path) {
		return
	}
	if c.serveNetwork(w, r, path) {
		return
	}
	http.NotFound(w, r)
}

func (c *Cache) serveNetwork(w http.ResponseWriter, r *http.Request, path string) bool {
	if err := c.fetchAndStore(r.Context(), path); err != nil {
		c.logger.Debug().Err(err).Str("path", path).Msg("network fetch failed")
		return false
	}
	return c.serveCached(w, path)
}

func (c *Cache) serveCached(w http.ResponseWriter, path string) bool {
	e, ok := c.get(path)
	if !ok {
		return false
	}
	if e.ContentType != "" {
		w.Header().Set("Content-Type", e.ContentType)
	}
	w.WriteHeader(http.StatusOK)
	io.Copy(w, bytes.NewReader(e.Body))
	return true
}

func isNavigation(r *http.Request) bool {
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}

func isDispatchPath(path string) bool {
	switch path {
	case "/sendParentNotification", "/saveFCMToken", "/getNotificationStats", "/sendTestNotification", "/ws", "/healthz":
		return true
	}
	return false
}

func bucketName(version string) []byte {
	return []byte(bucketPrefix + version)
}
