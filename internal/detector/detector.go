// Package detector implements incremental change detection: per-category
// cursors bound each query to records the parent has not been notified
// about yet, and qualifying records become notification requests.
package detector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lacolombe/portal-notify/internal/docstore"
	"github.com/lacolombe/portal-notify/internal/events"
	"github.com/lacolombe/portal-notify/internal/models"
	"github.com/lacolombe/portal-notify/internal/notification"
)

// queryLimit bounds work per pass; records beyond it are picked up on the
// next tick because the watermark only advances past records actually seen.
const queryLimit = 10

// Dispatcher delivers one notification request. The daemon wires the HTTP
// dispatch client here.
type Dispatcher interface {
	Dispatch(ctx context.Context, req models.NotificationRequest) (notification.Outcome, error)
}

// Presenter shows a notification on this device when dispatch is
// unreachable. Degraded but visible.
type Presenter interface {
	ShowLocal(req models.NotificationRequest)
}

type Config struct {
	Interval        time.Duration `mapstructure:"interval"`
	OnlineDelay     time.Duration `mapstructure:"online_delay"`
	ForegroundDelay time.Duration `mapstructure:"foreground_delay"`
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.OnlineDelay <= 0 {
		c.OnlineDelay = 5 * time.Second
	}
	if c.ForegroundDelay <= 0 {
		c.ForegroundDelay = 3 * time.Second
	}
}

type Detector struct {
	store      docstore.Store
	marks      *WatermarkStore
	dispatcher Dispatcher
	presenter  Presenter
	cfg        Config
	logger     zerolog.Logger
	now        func() time.Time

	checking atomic.Bool
	kick     chan time.Duration

	mu       sync.Mutex
	parentID string
	children []models.Child
}

func New(store docstore.Store, marks *WatermarkStore, dispatcher Dispatcher, presenter Presenter, cfg Config, logger zerolog.Logger) *Detector {
	cfg.applyDefaults()
	return &Detector{
		store:      store,
		marks:      marks,
		dispatcher: dispatcher,
		presenter:  presenter,
		cfg:        cfg,
		logger:     logger.With().Str("component", "detector").Logger(),
		now:        time.Now,
		kick:       make(chan time.Duration, 1),
	}
}

// SetSession replaces the watched parent and children. The next pass uses
// the new session; an in-flight pass finishes against the old one.
func (d *Detector) SetSession(parentID string, children []models.Child) {
	d.mu.Lock()
	d.parentID = parentID
	d.children = append([]models.Child(nil), children...)
	d.mu.Unlock()
}

// Start runs the detection loop: an immediate pass, then the periodic
// ticker, interleaved with debounced event triggers.
func (d *Detector) Start(ctx context.Context) {
	go d.run(ctx)
}

func (d *Detector) run(ctx context.Context) {
	d.Check(ctx)
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Check(ctx)
		case delay := <-d.kick:
			timer := time.NewTimer(delay)
			for waiting := true; waiting; {
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case delay = <-d.kick:
					// coalesce bursts into one pass
					if !timer.Stop() {
						<-timer.C
					}
					timer.Reset(delay)
				case <-timer.C:
					waiting = false
				}
			}
			d.Check(ctx)
		}
	}
}

// NotifyOnline schedules a pass after the network-regained debounce.
func (d *Detector) NotifyOnline() { d.schedule(d.cfg.OnlineDelay) }

// NotifyForeground schedules a pass after the foreground debounce.
func (d *Detector) NotifyForeground() { d.schedule(d.cfg.ForegroundDelay) }

// TriggerCheck schedules an immediate pass.
func (d *Detector) TriggerCheck() { d.schedule(0) }

func (d *Detector) schedule(delay time.Duration) {
	select {
	case d.kick <- delay:
	default:
	}
}

// Check runs one detection pass. Re-entrant-safe: a call arriving while a
// pass is in flight is dropped, the next tick covers the missed interval.
// Categories run sequentially to bound concurrent store queries.
func (d *Detector) Check(ctx context.Context) {
	if !d.checking.CompareAndSwap(false, true) {
		d.logger.Debug().Msg("pass already in flight, trigger dropped")
		return
	}
	defer d.checking.Store(false)

	d.mu.Lock()
	parentID := d.parentID
	children := append([]models.Child(nil), d.children...)
	d.mu.Unlock()
	if parentID == "" {
		return
	}

	d.checkGrades(ctx, parentID, children)
	d.checkIncidents(ctx, parentID, children)
	d.checkHomework(ctx, parentID, children)
	d.checkAttendance(ctx, parentID, children)
	d.checkCommuniques(ctx, parentID)
}

func (d *Detector) checkGrades(ctx context.Context, parentID string, children []models.Child) {
	since, err := d.marks.Get(parentID, string(models.CategoryGrades))
	if err != nil {
		d.logger.Error().Err(err).Msg("read grades watermark")
		return
	}

	ok := true
	for _, child := range children {
		if child.Kind != models.ChildKindSecondary {
			continue
		}
		q := docstore.NewQuery().
			Where("className", docstore.OpEq, child.ClassName).
			Where("publishedAt", docstore.OpGt, since).
			WithLimit(queryLimit)
		docs, err := d.store.QueryDocs(ctx, events.CollectionGrades, q)
		if err != nil {
			d.logger.Warn().Err(err).Str("child", child.ID).Msg("query published grades")
			ok = false
			continue
		}
		for _, doc := range docs {
			grade, err := events.DecodeGrade(doc.ID, doc.Fields)
			if err != nil {
				d.logger.Warn().Err(err).Msg("decode grade batch")
				continue
			}
			if !grade.Contains(child.ID) {
				continue
			}
			d.submit(ctx, models.NotificationRequest{
				ParentID: parentID,
				Title:    "📊 Nouvelle note publiée",
				Body:     fmt.Sprintf("%s a une nouvelle note en %s", child.FullName, grade.Subject),
				Data: models.NotificationData{
					Type:       models.CategoryGrades,
					Page:       models.CategoryGrades.Page(),
					EntityID:   grade.ID,
					EntityName: child.FullName,
					Extra:      map[string]string{"childId": child.ID, "subject": grade.Subject},
				},
				Priority: models.PriorityHigh,
			})
		}
	}
	if ok {
		d.advance(parentID, models.CategoryGrades)
	}
}

func (d *Detector) checkIncidents(ctx context.Context, parentID string, children []models.Child) {
	since, err := d.marks.Get(parentID, string(models.CategoryIncidents))
	if err != nil {
		d.logger.Error().Err(err).Msg("read incidents watermark")
		return
	}

	ok := true
	for _, child := range children {
		q := docstore.NewQuery().
			Where("studentMatricule", docstore.OpEq, child.ID).
			Where("createdAt", docstore.OpGt, since).
			WithLimit(queryLimit)
		docs, err := d.store.QueryDocs(ctx, events.CollectionIncidents, q)
		if err != nil {
			d.logger.Warn().Err(err).Str("child", child.ID).Msg("query incidents")
			ok = false
			continue
		}
		for _, doc := range docs {
			incident, err := events.DecodeIncident(doc.ID, doc.Fields)
			if err != nil {
				d.logger.Warn().Err(err).Msg("decode incident")
				continue
			}
			d.submit(ctx, models.NotificationRequest{
				ParentID: parentID,
				Title:    "⚠️ Nouvel incident signalé",
				Body:     fmt.Sprintf("Incident pour %s: %s", child.FullName, incident.Kind),
				Data: models.NotificationData{
					Type:       models.CategoryIncidents,
					Page:       models.CategoryIncidents.Page(),
					EntityID:   incident.ID,
					EntityName: child.FullName,
					Extra:      map[string]string{"childId": child.ID, "severity": incident.Severity},
				},
				Priority: models.PriorityHigh,
			})
		}
	}
	if ok {
		d.advance(parentID, models.CategoryIncidents)
	}
}

func (d *Detector) checkHomework(ctx context.Context, parentID string, children []models.Child) {
	since, err := d.marks.Get(parentID, string(models.CategoryHomework))
	if err != nil {
		d.logger.Error().Err(err).Msg("read homework watermark")
		return
	}

	ok := true
	for _, child := range children {
		if child.Kind != models.ChildKindSecondary {
			continue
		}
		q := docstore.NewQuery().
			Where("className", docstore.OpEq, child.ClassName).
			Where("createdAt", docstore.OpGt, since).
			WithLimit(queryLimit)
		docs, err := d.store.QueryDocs(ctx, events.CollectionHomework, q)
		if err != nil {
			d.logger.Warn().Err(err).Str("child", child.ID).Msg("query homework")
			ok = false
			continue
		}
		for _, doc := range docs {
			hw, err := events.DecodeHomework(doc.ID, doc.Fields)
			if err != nil {
				d.logger.Warn().Err(err).Msg("decode homework")
				continue
			}
			extra := map[string]string{"childId": child.ID, "subject": hw.Subject}
			if !hw.DueDate.IsZero() {
				extra["dueDate"] = hw.DueDate.Format(time.RFC3339)
			}
			d.submit(ctx, models.NotificationRequest{
				ParentID: parentID,
				Title:    "📚 Nouveau devoir assigné",
				Body:     fmt.Sprintf("%s: %s - %s", child.FullName, hw.Subject, hw.Title),
				Data: models.NotificationData{
					Type:       models.CategoryHomework,
					Page:       models.CategoryHomework.Page(),
					EntityID:   hw.ID,
					EntityName: child.FullName,
					Extra:      extra,
				},
				Priority: models.PriorityNormal,
			})
		}
	}
	if ok {
		d.advance(parentID, models.CategoryHomework)
	}
}

// checkAttendance announces each child's status at most once per day. The
// day mark is written only after that child's query succeeded, so a failed
// query retries on the next tick.
func (d *Detector) checkAttendance(ctx context.Context, parentID string, children []models.Child) {
	today := d.now().UTC().Format("2006-01-02")
	for _, child := range children {
		checked, err := d.marks.DayChecked(parentID, child.ID, today)
		if err != nil {
			d.logger.Error().Err(err).Msg("read attendance day mark")
			continue
		}
		if checked {
			continue
		}

		q := docstore.NewQuery().
			Where("studentId", docstore.OpEq, child.ID).
			Where("date", docstore.OpEq, today).
			WithLimit(1)
		docs, err := d.store.QueryDocs(ctx, events.CollectionAttendance, q)
		if err != nil {
			d.logger.Warn().Err(err).Str("child", child.ID).Msg("query attendance")
			continue
		}

		for _, doc := range docs {
			presence, err := events.DecodePresence(doc.ID, doc.Fields)
			if err != nil {
				d.logger.Warn().Err(err).Msg("decode attendance")
				continue
			}
			statusText := presenceText(presence.Status)
			if !presence.Published || statusText == "" {
				continue
			}
			d.submit(ctx, models.NotificationRequest{
				ParentID: parentID,
				Title:    "📅 Mise à jour présence",
				Body:     fmt.Sprintf("%s %s aujourd'hui", child.FullName, statusText),
				Data: models.NotificationData{
					Type:       models.CategoryPresence,
					Page:       models.CategoryPresence.Page(),
					EntityID:   presence.ID,
					EntityName: child.FullName,
					Extra:      map[string]string{"childId": child.ID, "status": presence.Status},
				},
				Priority: models.PriorityNormal,
			})
		}

		if err := d.marks.MarkDayChecked(parentID, child.ID, today); err != nil {
			d.logger.Error().Err(err).Msg("mark attendance day")
		}
	}
}

func (d *Detector) checkCommuniques(ctx context.Context, parentID string) {
	since, err := d.marks.Get(parentID, string(models.CategoryCommuniques))
	if err != nil {
		d.logger.Error().Err(err).Msg("read communiques watermark")
		return
	}

	q := docstore.NewQuery().
		Where("parentId", docstore.OpEq, parentID).
		Where("createdAt", docstore.OpGt, since).
		WithLimit(queryLimit)
	relations, err := d.store.QueryDocs(ctx, events.CollectionCommuniqueRels, q)
	if err != nil {
		d.logger.Warn().Err(err).Msg("query communique relations")
		return
	}

	ok := true
	for _, rel := range relations {
		communiqueID, _ := rel.Fields["communiqueId"].(string)
		if communiqueID == "" {
			continue
		}
		doc, err := d.store.GetDoc(ctx, events.CollectionCommuniques, communiqueID)
		if err != nil {
			d.logger.Warn().Err(err).Str("communique", communiqueID).Msg("fetch communique")
			ok = false
			continue
		}
		communique, err := events.DecodeCommunique(doc.ID, doc.Fields)
		if err != nil {
			d.logger.Warn().Err(err).Msg("decode communique")
			continue
		}
		d.submit(ctx, models.NotificationRequest{
			ParentID: parentID,
			Title:    "📄 Nouveau communiqué de paiement",
			Body:     fmt.Sprintf("Nouveau communiqué: %s - %s", communique.FeeType, communique.Month),
			Data: models.NotificationData{
				Type:     models.CategoryCommuniques,
				Page:     models.CategoryCommuniques.Page(),
				EntityID: communique.ID,
				Extra: map[string]string{
					"feeType":  communique.FeeType,
					"amount":   communique.Amount,
					"month":    communique.Month,
					"deadline": communique.Deadline,
				},
			},
			Priority: models.PriorityHigh,
		})
	}

	if ok {
		d.advance(parentID, models.CategoryCommuniques)
	}
}

// submit hands one request to the dispatcher. Dispatch failures never stall
// the pass; when dispatch is unreachable the presenter shows the
// notification locally instead.
func (d *Detector) submit(ctx context.Context, req models.NotificationRequest) {
	outcome, err := d.dispatcher.Dispatch(ctx, req)
	if err != nil {
		d.logger.Warn().Err(err).
			Str("type", string(req.Data.Type)).
			Str("parent_id", req.ParentID).
			Msg("dispatch failed, falling back to local presentation")
		if d.presenter != nil {
			d.presenter.ShowLocal(req)
		}
		return
	}
	if !outcome.Delivered {
		d.logger.Debug().Str("reason", outcome.Reason).Msg("notification not delivered")
	}
}

func (d *Detector) advance(parentID string, category models.Category) {
	if err := d.marks.Advance(parentID, string(category), d.now().UTC()); err != nil {
		d.logger.Error().Err(err).Str("category", string(category)).Msg("advance watermark")
	}
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
