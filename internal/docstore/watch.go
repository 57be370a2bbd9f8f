package docstore

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

const (
	notifyChannel  = "portal_doc_events"
	watchBufferLen = 32
)

// docEvent is the trigger's NOTIFY payload. The document body is re-fetched
// by id, keeping the payload well under the NOTIFY size limit.
type docEvent struct {
	Op         string `json:"op"`
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

type watcher struct {
	collection string
	filters    []Filter
	ch         chan Change
}

// watchHub owns the single LISTEN connection and fans changes out to
// registered subscriptions.
type watchHub struct {
	store    *PostgresStore
	listener *pq.Listener
	logger   zerolog.Logger

	mu       sync.Mutex
	watchers map[int64]*watcher
	nextID   int64
	done     chan struct{}
}

func newWatchHub(store *PostgresStore, connStr string, logger zerolog.Logger) *watchHub {
	h := &watchHub{
		store:    store,
		logger:   logger,
		watchers: make(map[int64]*watcher),
		done:     make(chan struct{}),
	}
	h.listener = pq.NewListener(connStr, 5*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn().Err(err).Int("event", int(ev)).Msg("listener event")
		}
	})
	if err := h.listener.Listen(notifyChannel); err != nil {
		logger.Error().Err(err).Msg("failed to LISTEN; live subscriptions degraded")
	}
	go h.run()
	return h
}

func (h *watchHub) close() error {
	close(h.done)
	return h.listener.Close()
}

func (h *watchHub) run() {
	for {
		select {
		case <-h.done:
			return
		case n := <-h.listener.Notify:
			if n == nil {
				// reconnect; the next notification resumes delivery
				continue
			}
			h.dispatch(n.Extra)
		case <-time.After(90 * time.Second):
			// keep the connection honest across idle periods
			go h.listener.Ping()
		}
	}
}

func (h *watchHub) dispatch(payload string) {
	var ev docEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		h.logger.Warn().Err(err).Msg("malformed change payload")
		return
	}

	h.mu.Lock()
	interested := false
	for _, w := range h.watchers {
		if w.collection == ev.Collection {
			interested = true
			break
		}
	}
	h.mu.Unlock()
	if !interested {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	doc, err := h.store.GetDoc(ctx, ev.Collection, ev.ID)
	if err != nil {
		h.logger.Warn().Err(err).Str("collection", ev.Collection).Str("id", ev.ID).Msg("fetch changed document")
		return
	}

	kind := ChangeAdded
	if strings.EqualFold(ev.Op, "UPDATE") {
		kind = ChangeModified
	}
	change := Change{Kind: kind, Collection: ev.Collection, Doc: doc}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, w := range h.watchers {
		if w.collection != ev.Collection || !MatchFilters(doc, w.filters) {
			continue
		}
		select {
		case w.ch <- change:
		default:
			// slow consumer; drop rather than block the listener
		}
	}
}

func (h *watchHub) subscribe(ctx context.Context, collection string, filters []Filter) (<-chan Change, CancelFunc, error) {
	w := &watcher{
		collection: collection,
		filters:    filters,
		ch:         make(chan Change, watchBufferLen),
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.watchers[id] = w
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.watchers, id)
			h.mu.Unlock()
			close(w.ch)
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-h.done:
			cancel()
		}
	}()

	return w.ch, cancel, nil
}

// MatchFilters evaluates filters against a document in Go, mirroring the SQL
// predicates used for one-shot queries. Used for live-change routing and
// exported for fake stores in tests.
func MatchFilters(doc Document, filters []Filter) bool {
	for _, f := range filters {
		if !matchFilter(doc, f) {
			return false
		}
	}
	return true
}

func matchFilter(doc Document, f Filter) bool {
	var actual any
	if f.Field == "createdAt" {
		actual = doc.CreatedAt
	} else {
		actual = doc.Fields[f.Field]
	}

	switch want := f.Value.(type) {
	case time.Time:
		got, ok := coerceTime(actual)
		if !ok {
			return false
		}
		return compareOrdered(f.Op, got.UnixNano(), want.UnixNano())
	case string:
		got, ok := actual.(string)
		if !ok {
			return false
		}
		switch f.Op {
		case OpEq:
			return got == want
		case OpGt:
			return got > want
		case OpLt:
			return got < want
		}
		return false
	case bool:
		got, ok := actual.(bool)
		return ok && f.Op == OpEq && got == want
	case int:
		return matchNumeric(f.Op, actual, float64(want))
	case int64:
		return matchNumeric(f.Op, actual, float64(want))
	case float64:
		return matchNumeric(f.Op, actual, want)
	}
	return false
}

func matchNumeric(op Op, actual any, want float64) bool {
	var got float64
	switch v := actual.(type) {
	case float64:
		got = v
	case int:
		got = float64(v)
	case int64:
		got = float64(v)
	default:
		return false
	}
	return compareOrdered(op, got, want)
}

func compareOrdered[T int64 | float64](op Op, got, want T) bool {
	switch op {
	case OpEq:
		return got == want
	case OpGt:
		return got > want
	case OpLt:
		return got < want
	}
	return false
}

func coerceTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	case float64:
		return time.UnixMilli(int64(t)).UTC(), true
	}
	return time.Time{}, false
}
