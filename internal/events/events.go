// Package events defines the closed set of domain events the portal notifies
// parents about, one variant per category, decoded from document-store
// records. Both the detector (request building) and the worker (template
// selection) switch over the concrete types exhaustively.
package events

import (
	"time"

	"github.com/pkg/errors"

	"github.com/lacolombe/portal-notify/internal/models"
)

// Collection names in the document store.
const (
	CollectionGrades             = "published_grades"
	CollectionIncidents          = "incidents"
	CollectionHomework           = "homework"
	CollectionAttendance         = "student_attendance"
	CollectionCommuniqueRels     = "parent_communique_relations"
	CollectionCommuniques        = "parent_communiques"
	CollectionNotificationAudits = "notifications"
)

// Event is one published domain record that may notify a parent.
type Event interface {
	Category() models.Category
	// EntityID is the stable id used for presentation dedup tags.
	EntityID() string
}

// GradeEntry is one student's grade inside a published batch.
type GradeEntry struct {
	StudentID string
	Value     string
}

// Grade is a class-scoped batch of published grades.
type Grade struct {
	ID          string
	ClassName   string
	Subject     string
	GradeType   string
	PublishedAt time.Time
	Entries     []GradeEntry
}

func (g Grade) Category() models.Category { return models.CategoryGrades }
func (g Grade) EntityID() string          { return g.ID }

// Contains reports whether the batch holds an entry for the given student.
func (g Grade) Contains(studentID string) bool {
	for _, e := range g.Entries {
		if e.StudentID == studentID {
			return true
		}
	}
	return false
}

// Incident is a student-scoped disciplinary or safety report.
type Incident struct {
	ID        string
	StudentID string
	Kind      string
	Severity  string
	CreatedAt time.Time
}

func (i Incident) Category() models.Category { return models.CategoryIncidents }
func (i Incident) EntityID() string          { return i.ID }

// Homework is a class-scoped assignment.
type Homework struct {
	ID        string
	ClassName string
	Subject   string
	Title     string
	DueDate   time.Time
	CreatedAt time.Time
}

func (h Homework) Category() models.Category { return models.CategoryHomework }
func (h Homework) EntityID() string          { return h.ID }

// Presence statuses as published by the school.
const (
	PresencePresent = "present"
	PresenceAbsent  = "absent"
	PresenceLate    = "late"
)

// Presence is a student's attendance status for one day. Only published
// records with a known status are announced.
type Presence struct {
	ID        string
	StudentID string
	Date      string // YYYY-MM-DD
	Status    string
	Published bool
}

func (p Presence) Category() models.Category { return models.CategoryPresence }
func (p Presence) EntityID() string          { return p.ID }

// Communique is a fee communiqué addressed to a parent, reached through a
// parent-communiqué relation record.
type Communique struct {
	ID        string
	ParentID  string
	FeeType   string
	Month     string
	Amount    string
	Deadline  string
	CreatedAt time.Time
}

func (c Communique) Category() models.Category { return models.CategoryCommuniques }
func (c Communique) EntityID() string          { return c.ID }

// Decoders. Document fields arrive as generic JSON maps; missing required
// fields fail the decode so a malformed record never half-notifies.

func DecodeGrade(id string, fields map[string]any) (Grade, error) {
	g := Grade{
		ID:          id,
		ClassName:   str(fields, "className"),
		Subject:     str(fields, "subject"),
		GradeType:   str(fields, "gradeType"),
		PublishedAt: tstamp(fields, "publishedAt"),
	}
	if g.ClassName == "" {
		return Grade{}, errors.Errorf("grade %s: missing className", id)
	}
	raw, _ := fields["grades"].([]any)
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		g.Entries = append(g.Entries, GradeEntry{
			StudentID: str(entry, "studentMatricule"),
			Value:     str(entry, "value"),
		})
	}
	return g, nil
}

func DecodeIncident(id string, fields map[string]any) (Incident, error) {
	in := Incident{
		ID:        id,
		StudentID: str(fields, "studentMatricule"),
		Kind:      str(fields, "type"),
		Severity:  str(fields, "severity"),
		CreatedAt: tstamp(fields, "createdAt"),
	}
	if in.StudentID == "" {
		return Incident{}, errors.Errorf("incident %s: missing studentMatricule", id)
	}
	if in.Kind == "" {
		in.Kind = "Incident scolaire"
	}
	if in.Severity == "" {
		in.Severity = "moyen"
	}
	return in, nil
}

func DecodeHomework(id string, fields map[string]any) (Homework, error) {
	h := Homework{
		ID:        id,
		ClassName: str(fields, "className"),
		Subject:   str(fields, "subject"),
		Title:     str(fields, "title"),
		DueDate:   tstamp(fields, "dueDate"),
		CreatedAt: tstamp(fields, "createdAt"),
	}
	if h.ClassName == "" {
		return Homework{}, errors.Errorf("homework %s: missing className", id)
	}
	return h, nil
}

func DecodePresence(id string, fields map[string]any) (Presence, error) {
	p := Presence{
		ID:        id,
		StudentID: str(fields, "studentId"),
		Date:      str(fields, "date"),
		Status:    str(fields, "status"),
		Published: boolean(fields, "published"),
	}
	if p.StudentID == "" {
		return Presence{}, errors.Errorf("attendance %s: missing studentId", id)
	}
	return p, nil
}

func DecodeCommunique(id string, fields map[string]any) (Communique, error) {
	c := Communique{
		ID:        id,
		ParentID:  str(fields, "parentId"),
		FeeType:   str(fields, "feeType"),
		Month:     str(fields, "month"),
		Amount:    str(fields, "amount"),
		Deadline:  str(fields, "deadline"),
		CreatedAt: tstamp(fields, "createdAt"),
	}
	if c.FeeType == "" {
		return Communique{}, errors.Errorf("communique %s: missing feeType", id)
	}
	return c, nil
}

func str(fields map[string]any, key string) string {
	v, _ := fields[key].(string)
	return v
}

func boolean(fields map[string]any, key string) bool {
	v, _ := fields[key].(bool)
	return v
}

func tstamp(fields map[string]any, key string) time.Time {
	switch v := fields[key].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	case float64:
		// epoch milliseconds, the legacy client format
		return time.UnixMilli(int64(v)).UTC()
	}
	return time.Time{}
}
