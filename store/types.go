package store

import "time"

// Assignment statuses as persisted. The scraper never produces
// newly_assigned; reconciliation assigns it to untriaged inserts.
const (
	StatusNotStarted    = "not_started"
	StatusInProgress    = "in_progress"
	StatusSubmitted     = "submitted"
	StatusUnavailable   = "unavailable"
	StatusNewlyAssigned = "newly_assigned"
)

// Assignment is one persisted, user-editable assignment record.
type Assignment struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	CourseName  string     `json:"course_name"`
	DueDate     *time.Time `json:"due_date"`
	Description string     `json:"description,omitempty"`
	Link        string     `json:"link,omitempty"`
	Status      string     `json:"status"`
	Type        string     `json:"assignment_type,omitempty"`
	// ActionSignal is the raw site label that produced the status.
	ActionSignal string `json:"action_signal,omitempty"`
	CourseID     string `json:"course_id,omitempty"`

	// User-owned planning fields, fenced by IsModified.
	EstimatedMinutes *int       `json:"estimated_minutes"`
	PlannedStart     *time.Time `json:"planned_start"`
	PlannedEnd       *time.Time `json:"planned_end"`
	Notes            string     `json:"notes,omitempty"`
	// IsModified marks the record as user-edited; reconciliation then
	// never overwrites status or planning fields.
	IsModified bool `json:"is_modified"`

	LastScrapedAt *time.Time `json:"last_scraped_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// UpdateOptions selects assignment fields to change. Nil pointer fields
// are left untouched; Clear flags set nullable fields to null.
type UpdateOptions struct {
	Title        *string
	CourseName   *string
	DueDate      *time.Time
	ClearDueDate bool
	Description  *string
	Link         *string
	Status       *string
	Type         *string
	ActionSignal *string

	EstimatedMinutes  *int
	ClearEstimate     bool
	PlannedStart      *time.Time
	ClearPlannedStart bool
	PlannedEnd        *time.Time
	ClearPlannedEnd   bool
	Notes             *string
	IsModified        *bool

	LastScrapedAt *time.Time
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Status     string
	CourseName string
	DueBefore  *time.Time
}

// Stats summarizes the assignment table for the dashboard.
type Stats struct {
	Total          int     `json:"total"`
	Submitted      int     `json:"submitted"`
	DueThisWeek    int     `json:"due_this_week"`
	CompletionRate float64 `json:"completion_rate"`
}

// RunRecord is one durable sync-run metadata record.
type RunRecord struct {
	ID                  int64     `json:"id"`
	RanAt               time.Time `json:"ran_at"`
	Status              string    `json:"status"`
	Error               string    `json:"error,omitempty"`
	CoursesScraped      int       `json:"courses_scraped"`
	AssignmentsAdded    int       `json:"assignments_added"`
	AssignmentsModified int       `json:"assignments_modified"`
}

// Run statuses.
const (
	RunSuccess = "success"
	RunFailed  = "failed"
)
