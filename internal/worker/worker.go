// Package worker is the background notification daemon core: it holds the
// parent session, keeps live document-store subscriptions, presents
// notifications with tag-replace dedup, and routes notification clicks back
// into the application.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lacolombe/portal-notify/internal/bridge"
	"github.com/lacolombe/portal-notify/internal/docstore"
	"github.com/lacolombe/portal-notify/internal/events"
	"github.com/lacolombe/portal-notify/internal/models"
)

// State is the worker lifecycle phase.
type State string

const (
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
)

// Notification is one presented notification. The worker owns these; the
// application only sees bridge messages about them.
type Notification struct {
	Title    string                  `json:"title"`
	Body     string                  `json:"body"`
	Tag      string                  `json:"tag"`
	Data     models.NotificationData `json:"data"`
	Priority models.Priority         `json:"priority"`
	ShownAt  time.Time               `json:"shownAt"`
}

// Clients is the fan-out surface the worker needs from the bridge hub.
type Clients interface {
	Broadcast(env bridge.Envelope)
	Send(c *bridge.Client, env bridge.Envelope)
	SendToAny(env bridge.Envelope) bool
	Count() int
}

// Checker triggers a manual detection pass.
type Checker interface {
	TriggerCheck()
}

// Sessioner receives session changes so detection follows the same parent.
type Sessioner interface {
	SetSession(parentID string, children []models.Child)
}

// Cache is the static-asset cache the worker manages across versions.
type Cache interface {
	Precache(ctx context.Context) error
	SweepOldVersions() error
}

type session struct {
	parentID string
	children []models.Child
	cancels  []docstore.CancelFunc
}

type Worker struct {
	store   docstore.Store
	clients Clients
	cache   Cache
	opener  Opener
	version string
	entry   string
	logger  zerolog.Logger
	now     func() time.Time

	checker   Checker
	sessioner Sessioner

	mu      sync.Mutex
	state   State
	sess    *session
	shown   map[string]Notification
	badge   int
	degrade bool
}

func New(store docstore.Store, clients Clients, cache Cache, opener Opener, version, entryURL string, logger zerolog.Logger) *Worker {
	return &Worker{
		store:   store,
		clients: clients,
		cache:   cache,
		opener:  opener,
		version: version,
		entry:   entryURL,
		logger:  logger.With().Str("component", "worker").Logger(),
		now:     time.Now,
		state:   StateInstalling,
		shown:   make(map[string]Notification),
	}
}

// SetChecker wires the manual-refresh trigger. Optional; without it
// CHECK_NOW messages are ignored.
func (w *Worker) SetChecker(c Checker) { w.checker = c }

// SetSessioner propagates session changes to the detection loop.
func (w *Worker) SetSessioner(s Sessioner) { w.sessioner = s }

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Install precaches assets for the current version. A cache failure leaves
// the worker installed but degraded; notifications still work.
func (w *Worker) Install(ctx context.Context) error {
	w.setState(StateInstalling)
	if w.cache != nil {
		if err := w.cache.Precache(ctx); err != nil {
			w.logger.Warn().Err(err).Msg("asset precache failed")
		}
	}
	w.setState(StateInstalled)
	w.logger.Info().Str("version", w.version).Msg("installed")
	return nil
}

// Activate sweeps caches from older versions and re-establishes live
// subscriptions if a session was previously established.
func (w *Worker) Activate(ctx context.Context) error {
	w.setState(StateActivating)
	if w.cache != nil {
		if err := w.cache.SweepOldVersions(); err != nil {
			w.logger.Warn().Err(err).Msg("cache sweep failed")
		}
	}
	w.setState(StateActivated)
	w.logger.Info().Str("version", w.version).Msg("activated")

	w.mu.Lock()
	sess := w.sess
	w.mu.Unlock()
	if sess != nil {
		w.InitializeSession(ctx, sess.parentID, sess.children)
	}
	return nil
}

// InitializeSession replaces the watched session. Prior subscriptions for
// any parent are torn down first, so repeated initialization never
// duplicates them.
func (w *Worker) InitializeSession(ctx context.Context, parentID string, children []models.Child) {
	w.mu.Lock()
	if w.sess != nil {
		for _, cancel := range w.sess.cancels {
			cancel()
		}
	}
	sess := &session{parentID: parentID, children: append([]models.Child(nil), children...)}
	w.sess = sess
	w.mu.Unlock()

	if w.sessioner != nil {
		w.sessioner.SetSession(parentID, children)
	}

	failed := 0
	subscribe := func(collection string, filters ...docstore.Filter) {
		ch, cancel, err := w.store.Watch(ctx, collection, filters...)
		if err != nil {
			w.logger.Warn().Err(err).Str("collection", collection).Msg("subscribe failed")
			failed++
			return
		}
		w.mu.Lock()
		if w.sess != sess {
			// a newer InitializeSession superseded this one mid-flight
			w.mu.Unlock()
			cancel()
			return
		}
		sess.cancels = append(sess.cancels, cancel)
		w.mu.Unlock()
		go w.consume(ch)
	}

	for _, child := range children {
		subscribe(events.CollectionIncidents, docstore.Where("studentMatricule", docstore.OpEq, child.ID))
		subscribe(events.CollectionAttendance, docstore.Where("studentId", docstore.OpEq, child.ID))
		if child.Kind == models.ChildKindSecondary {
			subscribe(events.CollectionGrades, docstore.Where("className", docstore.OpEq, child.ClassName))
			subscribe(events.CollectionHomework, docstore.Where("className", docstore.OpEq, child.ClassName))
		}
	}
	subscribe(events.CollectionCommuniqueRels, docstore.Where("parentId", docstore.OpEq, parentID))

	w.mu.Lock()
	subscriptions := len(sess.cancels)
	degraded := failed > 0 && subscriptions == 0
	if w.sess == sess {
		w.degrade = degraded
	}
	w.mu.Unlock()
	if degraded {
		w.logger.Error().Msg("all subscriptions failed, continuing in cache-only mode")
	}

	w.logger.Info().
		Str("parent_id", parentID).
		Int("children", len(children)).
		Int("subscriptions", subscriptions).
		Msg("session initialized")
}

func (w *Worker) consume(ch <-chan docstore.Change) {
	for change := range ch {
		w.HandleChange(change)
	}
}

// HandleChange turns one live store change into a presented notification.
func (w *Worker) HandleChange(change docstore.Change) {
	if change.Kind != docstore.ChangeAdded && change.Kind != docstore.ChangeModified {
		return
	}

	w.mu.Lock()
	sess := w.sess
	w.mu.Unlock()
	if sess == nil {
		return
	}

	n, ok := w.render(sess, change)
	if !ok {
		return
	}
	w.Show(n)
}

// render maps a store change onto the category templates. Changes that do
// not concern a watched child produce nothing.
func (w *Worker) render(sess *session, change docstore.Change) (Notification, bool) {
	doc := change.Doc
	switch change.Collection {
	case events.CollectionGrades:
		grade, err := events.DecodeGrade(doc.ID, doc.Fields)
		if err != nil {
			return Notification{}, false
		}
		for _, child := range sess.children {
			if child.ClassName != grade.ClassName || !grade.Contains(child.ID) {
				continue
			}
			return w.build(
				"📊 Nouvelle note publiée",
				fmt.Sprintf("%s a une nouvelle note en %s", child.FullName, grade.Subject),
				models.CategoryGrades, grade.ID, child,
				map[string]string{"subject": grade.Subject},
				models.PriorityHigh,
			), true
		}
	case events.CollectionIncidents:
		incident, err := events.DecodeIncident(doc.ID, doc.Fields)
		if err != nil {
			return Notification{}, false
		}
		for _, child := range sess.children {
			if child.ID != incident.StudentID {
				continue
			}
			return w.build(
				"⚠️ Nouvel incident signalé",
				fmt.Sprintf("Incident pour %s: %s", child.FullName, incident.Kind),
				models.CategoryIncidents, incident.ID, child,
				map[string]string{"severity": incident.Severity},
				models.PriorityHigh,
			), true
		}
	case events.CollectionHomework:
		hw, err := events.DecodeHomework(doc.ID, doc.Fields)
		if err != nil {
			return Notification{}, false
		}
		for _, child := range sess.children {
			if child.ClassName != hw.ClassName {
				continue
			}
			return w.build(
				"📚 Nouveau devoir assigné",
				fmt.Sprintf("%s: %s - %s", child.FullName, hw.Subject, hw.Title),
				models.CategoryHomework, hw.ID, child,
				map[string]string{"subject": hw.Subject},
				models.PriorityNormal,
			), true
		}
	case events.CollectionAttendance:
		presence, err := events.DecodePresence(doc.ID, doc.Fields)
		if err != nil || !presence.Published {
			return Notification{}, false
		}
		statusText := presenceText(presence.Status)
		if statusText == "" {
			return Notification{}, false
		}
		for _, child := range sess.children {
			if child.ID != presence.StudentID {
				continue
			}
			return w.build(
				"📅 Mise à jour présence",
				fmt.Sprintf("%s %s aujourd'hui", child.FullName, statusText),
				models.CategoryPresence, presence.ID, child,
				map[string]string{"status": presence.Status},
				models.PriorityNormal,
			), true
		}
	case events.CollectionCommuniqueRels:
		communiqueID, _ := doc.Fields["communiqueId"].(string)
		if communiqueID == "" {
			return Notification{}, false
		}
		data := models.NotificationData{
			Type:     models.CategoryCommuniques,
			Page:     models.CategoryCommuniques.Page(),
			EntityID: communiqueID,
		}
		return Notification{
			Title:    "📄 Nouveau communiqué de paiement",
			Body:     "Un nouveau communiqué est disponible",
			Tag:      string(models.CategoryCommuniques) + ":" + communiqueID,
			Data:     data,
			Priority: models.PriorityHigh,
			ShownAt:  w.now().UTC(),
		}, true
	}
	return Notification{}, false
}

func (w *Worker) build(title, body string, cat models.Category, entityID string, child models.Child, extra map[string]string, priority models.Priority) Notification {
	extra["childId"] = child.ID
	return Notification{
		Title: title,
		Body:  body,
		Tag:   string(cat) + ":" + entityID,
		Data: models.NotificationData{
			Type:       cat,
			Page:       cat.Page(),
			EntityID:   entityID,
			EntityName: child.FullName,
			Extra:      extra,
		},
		Priority: priority,
		ShownAt:  w.now().UTC(),
	}
}

// ShowLocal presents a dispatch-built request on this device. Used as the
// degraded delivery path when the dispatch endpoint is unreachable.
func (w *Worker) ShowLocal(req models.NotificationRequest) {
	w.Show(Notification{
		Title:    req.Title,
		Body:     req.Body,
		Tag:      req.Tag(),
		Data:     req.Data,
		Priority: req.Priority,
		ShownAt:  w.now().UTC(),
	})
}

// Show presents a notification. A notification with an already-shown tag
// replaces the previous one instead of stacking, and the badge counts
// distinct visible tags. All open clients are told regardless of whether a
// visual banner appears.
func (w *Worker) Show(n Notification) {
	w.mu.Lock()
	_, replacing := w.shown[n.Tag]
	w.shown[n.Tag] = n
	if !replacing {
		w.badge++
	}
	badge := w.badge
	w.mu.Unlock()

	w.logger.Info().
		Str("tag", n.Tag).
		Str("type", string(n.Data.Type)).
		Bool("replaced", replacing).
		Msg("notification shown")

	w.clients.Broadcast(bridge.NewEnvelope(bridge.TypeNewNotification, NewNotificationPayload(n)))
	w.clients.Broadcast(bridge.NewEnvelope(bridge.TypeUpdateBadge, bridge.UpdateBadgePayload{Count: badge}))
}

// NewNotificationPayload adapts a presented notification for the bridge.
func NewNotificationPayload(n Notification) bridge.NewNotificationPayload {
	return bridge.NewNotificationPayload{
		Notification: models.NotificationRequest{
			Title:    n.Title,
			Body:     n.Body,
			Data:     n.Data,
			Priority: n.Priority,
		},
	}
}

// Shown returns the notification currently visible under a tag.
func (w *Worker) Shown(tag string) (Notification, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.shown[tag]
	return n, ok
}

// Badge returns the current unread count.
func (w *Worker) Badge() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.badge
}

// HandleClick closes the notification and routes the user. An explicit
// dismiss stops there. Otherwise exactly one application window ends up
// showing the target page: an open client is reused, a new one is opened
// only when none exists.
func (w *Worker) HandleClick(tag, action string) {
	w.mu.Lock()
	n, ok := w.shown[tag]
	if ok {
		delete(w.shown, tag)
		if w.badge > 0 {
			w.badge--
		}
	}
	badge := w.badge
	w.mu.Unlock()
	if !ok {
		return
	}

	w.clients.Broadcast(bridge.NewEnvelope(bridge.TypeUpdateBadge, bridge.UpdateBadgePayload{Count: badge}))
	if action == "close" {
		return
	}

	if w.clients.SendToAny(bridge.NewEnvelope(bridge.TypeNavigateFromNotification, bridge.NavigatePayload{Data: n.Data})) {
		return
	}
	if w.opener != nil {
		if err := w.opener.Open(w.entry); err != nil {
			w.logger.Warn().Err(err).Msg("open application window")
		}
	}
}

// HandleMessage implements bridge.Handler.
func (w *Worker) HandleMessage(ctx context.Context, c *bridge.Client, env bridge.Envelope) {
	switch env.Type {
	case bridge.TypeInitializeSession:
		var payload bridge.InitializeSessionPayload
		if err := unmarshalData(env, &payload); err != nil || payload.ParentID == "" {
			w.logger.Warn().Msg("invalid session payload")
			return
		}
		w.InitializeSession(ctx, payload.ParentID, payload.Children)
		w.sendStatus(c)
	case bridge.TypeClearBadge:
		w.mu.Lock()
		w.badge = 0
		w.mu.Unlock()
		w.clients.Broadcast(bridge.NewEnvelope(bridge.TypeUpdateBadge, bridge.UpdateBadgePayload{Count: 0}))
	case bridge.TypeCheckNow:
		if w.checker != nil {
			w.checker.TriggerCheck()
		}
	case bridge.TypePing:
		w.clients.Send(c, bridge.NewEnvelope(bridge.TypePong, bridge.PongPayload{Version: w.version}))
	default:
		w.logger.Debug().Str("type", env.Type).Msg("unknown bridge message")
	}
}

func (w *Worker) sendStatus(c *bridge.Client) {
	w.mu.Lock()
	initialized := w.sess != nil
	user := ""
	if w.sess != nil {
		user = w.sess.parentID
	}
	w.mu.Unlock()
	w.clients.Send(c, bridge.NewEnvelope(bridge.TypeStatus, bridge.StatusPayload{
		Version:     w.version,
		Initialized: initialized,
		User:        user,
	}))
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func unmarshalData(env bridge.Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("empty payload")
	}
	return json.Unmarshal(env.Data, v)
}

func presenceText(status string) string {
	switch status {
	case events.PresencePresent:
		return "est présent"
	case events.PresenceAbsent:
		return "est absent"
	case events.PresenceLate:
		return "est en retard"
	}
	return ""
}
