package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/lacolombe/portal-notify/internal/bridge"
	"github.com/lacolombe/portal-notify/internal/docstore"
	"github.com/lacolombe/portal-notify/internal/events"
	"github.com/lacolombe/portal-notify/internal/models"
)

type fakeClients struct {
	mu         sync.Mutex
	broadcasts []bridge.Envelope
	sent       []bridge.Envelope
	routed     []bridge.Envelope
	hasClient  bool
}

func (f *fakeClients) Broadcast(env bridge.Envelope) {
	f.mu.Lock()
	f.broadcasts = append(f.broadcasts, env)
	f.mu.Unlock()
}

func (f *fakeClients) Send(_ *bridge.Client, env bridge.Envelope) {
	f.mu.Lock()
	f.sent = append(f.sent, env)
	f.mu.Unlock()
}

func (f *fakeClients) SendToAny(env bridge.Envelope) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasClient {
		return false
	}
	f.routed = append(f.routed, env)
	return true
}

func (f *fakeClients) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hasClient {
		return 1
	}
	return 0
}

func (f *fakeClients) broadcastTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var types []string
	for _, env := range f.broadcasts {
		types = append(types, env.Type)
	}
	return types
}

type fakeOpener struct {
	opened []string
}

func (f *fakeOpener) Open(url string) error {
	f.opened = append(f.opened, url)
	return nil
}

type fakeCache struct {
	precached int
	swept     int
}

func (f *fakeCache) Precache(context.Context) error { f.precached++; return nil }
func (f *fakeCache) SweepOldVersions() error        { f.swept++; return nil }

type fakeWatchStore struct {
	mu       sync.Mutex
	watches  int
	cancels  int
	watchErr error
}

func (f *fakeWatchStore) QueryDocs(context.Context, string, docstore.Query) ([]docstore.Document, error) {
	return nil, nil
}

func (f *fakeWatchStore) GetDoc(context.Context, string, string) (docstore.Document, error) {
	return docstore.Document{}, errors.New("not found")
}

func (f *fakeWatchStore) Add(context.Context, string, map[string]any) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeWatchStore) Watch(context.Context, string, ...docstore.Filter) (<-chan docstore.Change, docstore.CancelFunc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watchErr != nil {
		return nil, nil, f.watchErr
	}
	f.watches++
	ch := make(chan docstore.Change)
	return ch, func() {
		f.mu.Lock()
		f.cancels++
		f.mu.Unlock()
		close(ch)
	}, nil
}

type fakeChecker struct {
	triggers int
}

func (f *fakeChecker) TriggerCheck() { f.triggers++ }

func newTestWorker(clients *fakeClients) (*Worker, *fakeWatchStore, *fakeCache, *fakeOpener) {
	store := &fakeWatchStore{}
	cache := &fakeCache{}
	opener := &fakeOpener{}
	w := New(store, clients, cache, opener, "v1.2.3", "http://localhost:8090/", zerolog.Nop())
	return w, store, cache, opener
}

func child() models.Child {
	return models.Child{ID: "M100", FullName: "Awa Diallo", ClassName: "5A", Kind: models.ChildKindSecondary}
}

func TestLifecycle(t *testing.T) {
	w, _, cache, _ := newTestWorker(&fakeClients{})
	ctx := context.Background()

	if w.State() != StateInstalling {
		t.Fatalf("initial state = %q", w.State())
	}
	if err := w.Install(ctx); err != nil {
		t.Fatalf("install: %v", err)
	}
	if w.State() != StateInstalled {
		t.Errorf("state after install = %q", w.State())
	}
	if cache.precached != 1 {
		t.Errorf("precache calls = %d, want 1", cache.precached)
	}

	if err := w.Activate(ctx); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if w.State() != StateActivated {
		t.Errorf("state after activate = %q", w.State())
	}
	if cache.swept != 1 {
		t.Errorf("sweep calls = %d, want 1", cache.swept)
	}
}

func TestShowReplacesByTag(t *testing.T) {
	clients := &fakeClients{}
	w, _, _, _ := newTestWorker(clients)

	first := Notification{Title: "📅 Mise à jour présence", Body: "Awa est absent aujourd'hui", Tag: "presence:a1"}
	second := Notification{Title: "📅 Mise à jour présence", Body: "Awa est en retard aujourd'hui", Tag: "presence:a1"}

	w.Show(first)
	w.Show(second)

	if got := w.Badge(); got != 1 {
		t.Errorf("badge = %d, want 1 (same tag replaces)", got)
	}
	shown, ok := w.Shown("presence:a1")
	if !ok {
		t.Fatal("notification not shown")
	}
	if shown.Body != second.Body {
		t.Errorf("shown body = %q, want the replacement", shown.Body)
	}

	w.Show(Notification{Title: "⚠️ Nouvel incident signalé", Tag: "incidents:i1"})
	if got := w.Badge(); got != 2 {
		t.Errorf("badge = %d, want 2 (distinct tags stack)", got)
	}
}

func TestClickDismissStops(t *testing.T) {
	clients := &fakeClients{hasClient: true}
	w, _, _, opener := newTestWorker(clients)

	w.Show(Notification{Tag: "grades:g1", Data: models.NotificationData{Type: models.CategoryGrades, Page: "grades"}})
	w.HandleClick("grades:g1", "close")

	if len(clients.routed) != 0 {
		t.Error("dismiss must not navigate")
	}
	if len(opener.opened) != 0 {
		t.Error("dismiss must not open a window")
	}
	if _, ok := w.Shown("grades:g1"); ok {
		t.Error("clicked notification must be closed")
	}
	if w.Badge() != 0 {
		t.Errorf("badge = %d, want 0", w.Badge())
	}
}

func TestClickFocusesExistingClient(t *testing.T) {
	clients := &fakeClients{hasClient: true}
	w, _, _, opener := newTestWorker(clients)

	w.Show(Notification{Tag: "grades:g1", Data: models.NotificationData{Type: models.CategoryGrades, Page: "grades", EntityID: "g1"}})
	w.HandleClick("grades:g1", "view")

	if len(clients.routed) != 1 || clients.routed[0].Type != bridge.TypeNavigateFromNotification {
		t.Fatalf("expected one navigation message, got %+v", clients.routed)
	}
	if len(opener.opened) != 0 {
		t.Error("an open client must be reused, not a new window")
	}
}

func TestClickOpensWindowWhenNoClient(t *testing.T) {
	clients := &fakeClients{hasClient: false}
	w, _, _, opener := newTestWorker(clients)

	w.Show(Notification{Tag: "grades:g1", Data: models.NotificationData{Type: models.CategoryGrades}})
	w.HandleClick("grades:g1", "")

	if len(opener.opened) != 1 || opener.opened[0] != "http://localhost:8090/" {
		t.Fatalf("expected entry point to open, got %v", opener.opened)
	}
}

func TestClickUnknownTagIsNoop(t *testing.T) {
	clients := &fakeClients{hasClient: true}
	w, _, _, opener := newTestWorker(clients)

	w.HandleClick("grades:never-shown", "")

	if len(clients.routed) != 0 || len(opener.opened) != 0 {
		t.Error("clicking an unknown tag must do nothing")
	}
}

func TestInitializeSessionSupersedesSubscriptions(t *testing.T) {
	w, store, _, _ := newTestWorker(&fakeClients{})
	ctx := context.Background()

	w.InitializeSession(ctx, "P1", []models.Child{child()})
	store.mu.Lock()
	firstWatches := store.watches
	store.mu.Unlock()
	// incidents + attendance + grades + homework for a secondary child,
	// plus the communique relation watch
	if firstWatches != 5 {
		t.Fatalf("watches = %d, want 5", firstWatches)
	}

	w.InitializeSession(ctx, "P1", []models.Child{child()})
	store.mu.Lock()
	cancels := store.cancels
	store.mu.Unlock()
	if cancels != firstWatches {
		t.Errorf("cancels = %d, want %d (prior subscriptions torn down)", cancels, firstWatches)
	}
}

func TestConcurrentInitializeSessionLeavesOneSession(t *testing.T) {
	w, store, _, _ := newTestWorker(&fakeClients{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.InitializeSession(ctx, "P1", []models.Child{child()})
		}()
	}
	wg.Wait()

	store.mu.Lock()
	live := store.watches - store.cancels
	store.mu.Unlock()
	if live != 5 {
		t.Fatalf("live subscriptions = %d, want 5 (superseded sessions must tear down)", live)
	}
}

func TestHandleChangeRendersIncident(t *testing.T) {
	clients := &fakeClients{}
	w, _, _, _ := newTestWorker(clients)
	w.InitializeSession(context.Background(), "P1", []models.Child{child()})

	w.HandleChange(docstore.Change{
		Kind:       docstore.ChangeAdded,
		Collection: events.CollectionIncidents,
		Doc: docstore.Document{
			ID: "i1",
			Fields: map[string]any{
				"studentMatricule": "M100",
				"type":             "Bagarre",
				"severity":         "grave",
			},
		},
	})

	n, ok := w.Shown("incidents:i1")
	if !ok {
		t.Fatal("incident change must present a notification")
	}
	if n.Title != "⚠️ Nouvel incident signalé" {
		t.Errorf("title = %q", n.Title)
	}
	if n.Body != "Incident pour Awa Diallo: Bagarre" {
		t.Errorf("body = %q", n.Body)
	}

	types := clients.broadcastTypes()
	foundNotification := false
	for _, typ := range types {
		if typ == bridge.TypeNewNotification {
			foundNotification = true
		}
	}
	if !foundNotification {
		t.Errorf("broadcast types = %v, want NEW_NOTIFICATION", types)
	}
}

func TestHandleChangeIgnoresUnwatchedStudent(t *testing.T) {
	w, _, _, _ := newTestWorker(&fakeClients{})
	w.InitializeSession(context.Background(), "P1", []models.Child{child()})

	w.HandleChange(docstore.Change{
		Kind:       docstore.ChangeAdded,
		Collection: events.CollectionIncidents,
		Doc:        docstore.Document{ID: "i2", Fields: map[string]any{"studentMatricule": "M999"}},
	})

	if _, ok := w.Shown("incidents:i2"); ok {
		t.Error("incident for an unwatched student must not present")
	}
}

func TestHandleMessagePingAndClearBadge(t *testing.T) {
	clients := &fakeClients{}
	w, _, _, _ := newTestWorker(clients)
	ctx := context.Background()

	w.HandleMessage(ctx, nil, bridge.Envelope{Type: bridge.TypePing})
	clients.mu.Lock()
	if len(clients.sent) != 1 || clients.sent[0].Type != bridge.TypePong {
		t.Fatalf("expected PONG reply, got %+v", clients.sent)
	}
	clients.mu.Unlock()

	w.Show(Notification{Tag: "grades:g1"})
	w.HandleMessage(ctx, nil, bridge.Envelope{Type: bridge.TypeClearBadge})
	if w.Badge() != 0 {
		t.Errorf("badge = %d after CLEAR_BADGE, want 0", w.Badge())
	}
}

func TestHandleMessageCheckNow(t *testing.T) {
	w, _, _, _ := newTestWorker(&fakeClients{})
	checker := &fakeChecker{}
	w.SetChecker(checker)

	w.HandleMessage(context.Background(), nil, bridge.Envelope{Type: bridge.TypeCheckNow})
	if checker.triggers != 1 {
		t.Errorf("triggers = %d, want 1", checker.triggers)
	}
}

func TestShowLocalUsesRequestTag(t *testing.T) {
	w, _, _, _ := newTestWorker(&fakeClients{})

	req := models.NotificationRequest{
		Title: "📚 Nouveau devoir assigné",
		Body:  "Awa: Histoire - Chapitre 3",
		Data: models.NotificationData{
			Type:     models.CategoryHomework,
			Page:     "homework",
			EntityID: "h1",
		},
	}
	w.ShowLocal(req)

	n, ok := w.Shown("homework:h1")
	if !ok {
		t.Fatal("local notification not shown")
	}
	if n.ShownAt.After(time.Now().Add(time.Second)) {
		t.Error("shownAt in the future")
	}
}
