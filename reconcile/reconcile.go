// Package reconcile merges freshly scraped assignments into the store
// without trampling the student's own edits.
package reconcile

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/campushq/coursetrack/scrape"
	"github.com/campushq/coursetrack/store"
)

// Summary counts the outcome of one reconciliation pass.
type Summary struct {
	New       int `json:"new"`
	Modified  int `json:"modified"`
	Unchanged int `json:"unchanged"`
	Errors    int `json:"errors"`
}

// Add folds another pass's counts in. The orchestrator reconciles
// course by course and reports a running total.
func (s *Summary) Add(other Summary) {
	s.New += other.New
	s.Modified += other.Modified
	s.Unchanged += other.Unchanged
	s.Errors += other.Errors
}

// Options configures a Reconciler.
type Options struct {
	// Store is required.
	Store *store.Store
	// Logger defaults to the standard logger.
	Logger logrus.FieldLogger
}

// Reconciler applies observed assignments to the persistent store.
type Reconciler struct {
	store *store.Store
	log   logrus.FieldLogger
	now   func() time.Time
}

// New creates a Reconciler.
func New(opts Options) (*Reconciler, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("reconcile: Store is required")
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Reconciler{store: opts.Store, log: log, now: time.Now}, nil
}

// definitive statuses carry real information on first sight. Anything
// else inserts as newly_assigned so the student can triage it.
func definitive(status scrape.Status) bool {
	switch status {
	case scrape.StatusSubmitted, scrape.StatusInProgress, scrape.StatusUnavailable:
		return true
	}
	return false
}

// nextStatus decides whether an observed status may overwrite the
// persisted one. The table is conservative on purpose: a transient
// site glitch must never regress the student's progress signal.
func nextStatus(current string, observed scrape.Status) (string, bool) {
	switch {
	case observed == scrape.StatusSubmitted && current != store.StatusSubmitted:
		return store.StatusSubmitted, true
	case observed == scrape.StatusNotStarted && current == store.StatusUnavailable:
		return store.StatusNotStarted, true
	case observed == scrape.StatusInProgress &&
		(current == store.StatusNotStarted || current == store.StatusNewlyAssigned):
		return store.StatusInProgress, true
	case observed == scrape.StatusUnavailable && current == store.StatusNewlyAssigned:
		return store.StatusUnavailable, true
	}
	return current, false
}

// Reconcile merges one scrape pass into the store. Identity is
// (title, course name); the site has no id stable across scrapes for
// every item type. Per-record failures are counted, never fatal.
func (r *Reconciler) Reconcile(observed []scrape.ObservedAssignment) Summary {
	var summary Summary
	for _, item := range observed {
		outcome, err := r.reconcileOne(item)
		if err != nil {
			r.log.WithError(err).WithField("title", item.Title).
				Warn("failed to reconcile assignment")
			summary.Errors++
			continue
		}
		switch outcome {
		case outcomeNew:
			summary.New++
		case outcomeModified:
			summary.Modified++
		default:
			summary.Unchanged++
		}
	}
	return summary
}

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeNew
	outcomeModified
)

func (r *Reconciler) reconcileOne(item scrape.ObservedAssignment) (outcome, error) {
	title := scrape.CleanTitle(item.Title)
	if title == "" || item.CourseName == "" {
		return 0, fmt.Errorf("missing identity: title=%q course=%q", item.Title, item.CourseName)
	}

	existing, err := r.store.FindByIdentity(title, item.CourseName)
	if errors.Is(err, store.ErrAssignmentNotFound) {
		return outcomeNew, r.insert(title, item)
	}
	if err != nil {
		return 0, err
	}
	return r.update(existing, item)
}

func (r *Reconciler) insert(title string, item scrape.ObservedAssignment) error {
	status := store.StatusNewlyAssigned
	if definitive(item.Status) {
		status = string(item.Status)
	}
	scraped := r.now().UTC()
	return r.store.Insert(&store.Assignment{
		Title:         title,
		CourseName:    item.CourseName,
		CourseID:      item.CourseID,
		DueDate:       item.DueDate,
		Description:   item.Description,
		Link:          item.Link,
		Status:        status,
		Type:          string(item.Type),
		ActionSignal:  item.ActionSignal,
		LastScrapedAt: &scraped,
	})
}

func (r *Reconciler) update(existing *store.Assignment, item scrape.ObservedAssignment) (outcome, error) {
	scraped := r.now().UTC()
	opts := store.UpdateOptions{LastScrapedAt: &scraped}

	// Due date, description, link, and type refresh regardless of the
	// student's edits; those fields belong to the site.
	dueChanged := !sameTime(existing.DueDate, item.DueDate)
	if dueChanged {
		if item.DueDate == nil {
			opts.ClearDueDate = true
		} else {
			opts.DueDate = item.DueDate
		}
	}
	descChanged := existing.Description != item.Description
	if descChanged {
		opts.Description = &item.Description
	}
	if item.Link != "" && existing.Link != item.Link {
		opts.Link = &item.Link
	}
	if typ := string(item.Type); typ != "" && existing.Type != typ {
		opts.Type = &typ
	}
	if item.ActionSignal != existing.ActionSignal {
		opts.ActionSignal = &item.ActionSignal
	}

	// Status only moves through the transition table, and never once
	// the student has taken ownership of the record.
	if !existing.IsModified {
		if next, changed := nextStatus(existing.Status, item.Status); changed {
			opts.Status = &next
		}
	}

	if err := r.store.Update(existing.ID, opts); err != nil {
		return 0, err
	}
	if dueChanged || descChanged {
		return outcomeModified, nil
	}
	return outcomeUnchanged, nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
