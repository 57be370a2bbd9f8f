package models

// Category identifies one of the portal's notification sources. The set is
// closed: detector passes and worker templates switch over it exhaustively,
// so adding a category is a compile-time change, not a string comparison.
type Category string

const (
	CategoryGrades      Category = "grades"
	CategoryIncidents   Category = "incidents"
	CategoryHomework    Category = "homework"
	CategoryPresence    Category = "presence"
	CategoryCommuniques Category = "communiques"
)

// Categories returns all categories in detection order.
func Categories() []Category {
	return []Category{
		CategoryGrades,
		CategoryIncidents,
		CategoryHomework,
		CategoryPresence,
		CategoryCommuniques,
	}
}

func (c Category) Valid() bool {
	switch c {
	case CategoryGrades, CategoryIncidents, CategoryHomework, CategoryPresence, CategoryCommuniques:
		return true
	}
	return false
}

// Page returns the application page a notification of this category
// navigates to when clicked.
func (c Category) Page() string {
	switch c {
	case CategoryGrades:
		return "grades"
	case CategoryIncidents, CategoryPresence:
		return "presence-incidents"
	case CategoryHomework:
		return "homework"
	case CategoryCommuniques:
		return "communiques"
	}
	return "dashboard"
}
