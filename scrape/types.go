package scrape

import "time"

// Status is the canonical assignment status inferred from site signals.
type Status string

const (
	StatusNotStarted  Status = "not_started"
	StatusInProgress  Status = "in_progress"
	StatusSubmitted   Status = "submitted"
	StatusUnavailable Status = "unavailable"
)

// AssignmentType tags an assignment by the kind of work it is.
type AssignmentType string

const (
	TypeExam       AssignmentType = "exam"
	TypeQuiz       AssignmentType = "quiz"
	TypeReading    AssignmentType = "reading"
	TypeDiscussion AssignmentType = "discussion"
	TypeAssignment AssignmentType = "assignment"
)

// Course is an enrolled course discovered on the student home page.
type Course struct {
	// ID is the site's course identifier (the cid link segment).
	ID string
	// Name is the course display name, e.g. "C S 142 (Section 1) - Intro".
	Name string
}

// ObservedAssignment is one assignment as seen during a scrape pass. It is
// ephemeral input to reconciliation, never persisted directly.
type ObservedAssignment struct {
	Title       string
	CourseName  string
	CourseID    string
	DueDate     *time.Time
	Description string
	Status      Status
	Type        AssignmentType
	// ActionSignal is the raw button/label text that produced the
	// status, retained for auditability.
	ActionSignal string
	// SiteID is the site's raw identifier for the item, when present.
	SiteID string
	// Link is the durable deep link, never containing a session segment.
	Link string
}
