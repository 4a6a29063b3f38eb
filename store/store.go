// Package store persists assignments and sync-run metadata in sqlite.
// Each write is a single independent statement; reconciliation relies on
// that so partial completion after a mid-run failure stays visible.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS assignments (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	course_name TEXT NOT NULL,
	due_date TIMESTAMP,
	description TEXT NOT NULL DEFAULT '',
	link TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	assignment_type TEXT NOT NULL DEFAULT '',
	action_signal TEXT NOT NULL DEFAULT '',
	course_id TEXT NOT NULL DEFAULT '',
	estimated_minutes INTEGER,
	planned_start TIMESTAMP,
	planned_end TIMESTAMP,
	notes TEXT NOT NULL DEFAULT '',
	is_modified INTEGER NOT NULL DEFAULT 0,
	last_scraped_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	UNIQUE(title, course_name)
);

CREATE TABLE IF NOT EXISTS sync_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ran_at TIMESTAMP NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	courses_scraped INTEGER NOT NULL DEFAULT 0,
	assignments_added INTEGER NOT NULL DEFAULT 0,
	assignments_modified INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_assignments_identity ON assignments(title, course_name);
CREATE INDEX IF NOT EXISTS idx_assignments_due ON assignments(due_date);
`

// Store is the sqlite-backed assignment store. Methods are safe for
// concurrent use; sqlite serializes writers.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the store at path. ":memory:" opens an
// ephemeral store for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" stores coherent and is plenty
	// for one writer plus pollers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

const assignmentColumns = `id, title, course_name, due_date, description, link,
	status, assignment_type, action_signal, course_id, estimated_minutes,
	planned_start, planned_end, notes, is_modified, last_scraped_at,
	created_at, updated_at`

func scanAssignment(row interface{ Scan(...interface{}) error }) (*Assignment, error) {
	var a Assignment
	var due, plannedStart, plannedEnd, lastScraped sql.NullTime
	var estimate sql.NullInt64
	err := row.Scan(
		&a.ID, &a.Title, &a.CourseName, &due, &a.Description, &a.Link,
		&a.Status, &a.Type, &a.ActionSignal, &a.CourseID, &estimate,
		&plannedStart, &plannedEnd, &a.Notes, &a.IsModified, &lastScraped,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if due.Valid {
		a.DueDate = &due.Time
	}
	if plannedStart.Valid {
		a.PlannedStart = &plannedStart.Time
	}
	if plannedEnd.Valid {
		a.PlannedEnd = &plannedEnd.Time
	}
	if lastScraped.Valid {
		a.LastScrapedAt = &lastScraped.Time
	}
	if estimate.Valid {
		minutes := int(estimate.Int64)
		a.EstimatedMinutes = &minutes
	}
	return &a, nil
}

// Insert persists a new assignment, assigning an id and timestamps.
func (s *Store) Insert(a *Assignment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := s.now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO assignments (`+assignmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Title, a.CourseName, nullTime(a.DueDate), a.Description, a.Link,
		a.Status, a.Type, a.ActionSignal, a.CourseID, nullInt(a.EstimatedMinutes),
		nullTime(a.PlannedStart), nullTime(a.PlannedEnd), a.Notes, a.IsModified,
		nullTime(a.LastScrapedAt), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert assignment %q: %w", a.Title, err)
	}
	return nil
}

// Get fetches one assignment by id.
func (s *Store) Get(id string) (*Assignment, error) {
	row := s.db.QueryRow(`SELECT `+assignmentColumns+` FROM assignments WHERE id = ?`, id)
	a, err := scanAssignment(row)
	if err == sql.ErrNoRows {
		return nil, ErrAssignmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get assignment %s: %w", id, err)
	}
	return a, nil
}

// FindByIdentity fetches an assignment by its identity key. The site has
// no stable surrogate id, so (title, course name) is the identity.
func (s *Store) FindByIdentity(title, courseName string) (*Assignment, error) {
	row := s.db.QueryRow(
		`SELECT `+assignmentColumns+` FROM assignments WHERE title = ? AND course_name = ?`,
		title, courseName,
	)
	a, err := scanAssignment(row)
	if err == sql.ErrNoRows {
		return nil, ErrAssignmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find assignment %q in %q: %w", title, courseName, err)
	}
	return a, nil
}

// Update applies the selected fields to one assignment.
func (s *Store) Update(id string, opts UpdateOptions) error {
	var sets []string
	var args []interface{}

	set := func(column string, value interface{}) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if opts.Title != nil {
		set("title", *opts.Title)
	}
	if opts.CourseName != nil {
		set("course_name", *opts.CourseName)
	}
	if opts.ClearDueDate {
		set("due_date", nil)
	} else if opts.DueDate != nil {
		set("due_date", *opts.DueDate)
	}
	if opts.Description != nil {
		set("description", *opts.Description)
	}
	if opts.Link != nil {
		set("link", *opts.Link)
	}
	if opts.Status != nil {
		set("status", *opts.Status)
	}
	if opts.Type != nil {
		set("assignment_type", *opts.Type)
	}
	if opts.ActionSignal != nil {
		set("action_signal", *opts.ActionSignal)
	}
	if opts.ClearEstimate {
		set("estimated_minutes", nil)
	} else if opts.EstimatedMinutes != nil {
		set("estimated_minutes", *opts.EstimatedMinutes)
	}
	if opts.ClearPlannedStart {
		set("planned_start", nil)
	} else if opts.PlannedStart != nil {
		set("planned_start", *opts.PlannedStart)
	}
	if opts.ClearPlannedEnd {
		set("planned_end", nil)
	} else if opts.PlannedEnd != nil {
		set("planned_end", *opts.PlannedEnd)
	}
	if opts.Notes != nil {
		set("notes", *opts.Notes)
	}
	if opts.IsModified != nil {
		set("is_modified", *opts.IsModified)
	}
	if opts.LastScrapedAt != nil {
		set("last_scraped_at", *opts.LastScrapedAt)
	}

	if len(sets) == 0 {
		return nil
	}
	set("updated_at", s.now().UTC())

	query := "UPDATE assignments SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, id)
	result, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("update assignment %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update assignment %s: %w", id, err)
	}
	if affected == 0 {
		return ErrAssignmentNotFound
	}
	return nil
}

// List returns assignments matching the filter, soonest due first with
// undated items last.
func (s *Store) List(filter ListFilter) ([]*Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments`
	var wheres []string
	var args []interface{}
	if filter.Status != "" {
		wheres = append(wheres, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.CourseName != "" {
		wheres = append(wheres, "course_name = ?")
		args = append(args, filter.CourseName)
	}
	if filter.DueBefore != nil {
		wheres = append(wheres, "due_date IS NOT NULL AND due_date < ?")
		args = append(args, *filter.DueBefore)
	}
	if len(wheres) > 0 {
		query += " WHERE " + strings.Join(wheres, " AND ")
	}
	query += " ORDER BY due_date IS NULL, due_date ASC, title ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var assignments []*Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("list assignments: %w", err)
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// Stats summarizes the table for the dashboard.
func (s *Store) Stats(now time.Time) (Stats, error) {
	var stats Stats
	row := s.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(status = 'submitted'), 0),
			COALESCE(SUM(
				status != 'submitted'
				AND due_date IS NOT NULL
				AND due_date >= ?
				AND due_date < ?
			), 0)
		FROM assignments`,
		now.UTC(), now.UTC().Add(7*24*time.Hour),
	)
	if err := row.Scan(&stats.Total, &stats.Submitted, &stats.DueThisWeek); err != nil {
		return Stats{}, fmt.Errorf("compute stats: %w", err)
	}
	if stats.Total > 0 {
		stats.CompletionRate = float64(stats.Submitted) / float64(stats.Total)
	}
	return stats, nil
}

// AppendRunMetadata records one sync run.
func (s *Store) AppendRunMetadata(record RunRecord) error {
	ranAt := record.RanAt
	if ranAt.IsZero() {
		ranAt = s.now()
	}
	_, err := s.db.Exec(`
		INSERT INTO sync_runs (ran_at, status, error, courses_scraped, assignments_added, assignments_modified)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ranAt.UTC(), record.Status, record.Error,
		record.CoursesScraped, record.AssignmentsAdded, record.AssignmentsModified,
	)
	if err != nil {
		return fmt.Errorf("record sync run: %w", err)
	}
	return nil
}

// LastRun returns the most recent run record. It survives process
// restarts, unlike in-memory task state.
func (s *Store) LastRun() (*RunRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, ran_at, status, error, courses_scraped, assignments_added, assignments_modified
		FROM sync_runs ORDER BY id DESC LIMIT 1`)
	var r RunRecord
	err := row.Scan(&r.ID, &r.RanAt, &r.Status, &r.Error,
		&r.CoursesScraped, &r.AssignmentsAdded, &r.AssignmentsModified)
	if err == sql.ErrNoRows {
		return nil, ErrNoRuns
	}
	if err != nil {
		return nil, fmt.Errorf("read last run: %w", err)
	}
	return &r, nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func nullInt(i *int) interface{} {
	if i == nil {
		return nil
	}
	return *i
}
