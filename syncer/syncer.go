// Package syncer orchestrates sync runs: one at a time, observable by
// polling, with session recovery and incremental reconciliation.
package syncer

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/campushq/coursetrack/auth"
	"github.com/campushq/coursetrack/reconcile"
	"github.com/campushq/coursetrack/scrape"
	"github.com/campushq/coursetrack/session"
	"github.com/campushq/coursetrack/store"
)

// State is the lifecycle state of a sync task.
type State string

const (
	StatePending         State = "pending"
	StateCheckingSession State = "checking_session"
	StateWaitingForMFA   State = "waiting_for_mfa"
	StateScraping        State = "scraping"
	StateUpdatingDB      State = "updating_db"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
)

func (s State) terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Status is a point-in-time view of a sync task. Reads never block on
// the running task.
type Status struct {
	ID           string `json:"id"`
	State        State  `json:"state"`
	Message      string `json:"message,omitempty"`
	CoursesTotal int    `json:"courses_total"`
	CoursesDone  int    `json:"courses_done"`
	// CoursesScraped counts courses that actually yielded data, unlike
	// CoursesDone which also advances past failures.
	CoursesScraped int               `json:"courses_scraped"`
	CurrentCourse  string            `json:"current_course,omitempty"`
	Summary        reconcile.Summary `json:"summary"`
	FailedCourses  []string          `json:"failed_courses,omitempty"`
	Error          string            `json:"error,omitempty"`
	StartedAt      time.Time         `json:"started_at"`
	FinishedAt     *time.Time        `json:"finished_at,omitempty"`
}

// SyncSession is the slice of the session manager a sync run drives.
type SyncSession interface {
	scrape.Session
	Restore(session.Snapshot) bool
	CheckAlreadyLoggedIn() bool
	Authenticate(netID, password string) error
	Export() (session.Snapshot, error)
	StaticBaseURL() string
	Close() error
}

// Credentials enable the headless login fallback when the saved
// session cannot be restored.
type Credentials struct {
	NetID    string
	Password string
}

// Options configures a Service.
type Options struct {
	// Auth supplies and receives session snapshots. Required.
	Auth *auth.Store
	// Store receives the durable run record. Required.
	Store *store.Store
	// Reconciler merges scraped courses into the store. Required.
	Reconciler *reconcile.Reconciler
	// OpenSession opens a fresh headless browser session. Required.
	OpenSession func() (SyncSession, error)
	// Credentials, when set, let a run log in itself (waiting on MFA)
	// after a failed restore instead of failing.
	Credentials *Credentials
	// Timezone is the institution's local zone for due dates.
	Timezone *time.Location
	// Logger defaults to the standard logger.
	Logger logrus.FieldLogger
}

// Service runs syncs. One instance owns the whole process's sync state;
// the single-flight rule is a guard on this instance, not a global.
type Service struct {
	authStore   *auth.Store
	store       *store.Store
	reconciler  *reconcile.Reconciler
	openSession func() (SyncSession, error)
	creds       *Credentials
	tz          *time.Location
	log         logrus.FieldLogger

	// extract is swappable so tests can script extraction outcomes.
	extract func(sess SyncSession, progress scrape.Progress, onCourse func(scrape.CourseResult)) (scrape.Report, error)

	mu      sync.Mutex
	tasks   map[string]*Status
	current string
}

// New creates a Service.
func New(opts Options) (*Service, error) {
	if opts.Auth == nil {
		return nil, fmt.Errorf("syncer: Auth is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("syncer: Store is required")
	}
	if opts.Reconciler == nil {
		return nil, fmt.Errorf("syncer: Reconciler is required")
	}
	if opts.OpenSession == nil {
		return nil, fmt.Errorf("syncer: OpenSession is required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	s := &Service{
		authStore:   opts.Auth,
		store:       opts.Store,
		reconciler:  opts.Reconciler,
		openSession: opts.OpenSession,
		creds:       opts.Credentials,
		tz:          opts.Timezone,
		log:         opts.Logger,
		tasks:       map[string]*Status{},
	}
	s.extract = s.runExtractor
	return s, nil
}

// StartSync begins a sync run in the background. At most one sync runs
// at a time; a second call while one is live returns ErrAlreadyInProgress.
func (s *Service) StartSync() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != "" && !s.tasks[s.current].State.terminal() {
		return "", ErrAlreadyInProgress
	}
	task := &Status{
		ID:        uuid.NewString(),
		State:     StatePending,
		StartedAt: time.Now(),
	}
	s.tasks[task.ID] = task
	s.current = task.ID
	go s.run(task.ID)
	return task.ID, nil
}

// GetStatus returns a copy of one task's state.
func (s *Service) GetStatus(taskID string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return Status{}, ErrTaskNotFound
	}
	return *task, nil
}

// GetLastRun returns the most recent durable run record. Unlike task
// state it survives restarts.
func (s *Service) GetLastRun() (*store.RunRecord, error) {
	return s.store.LastRun()
}

func (s *Service) update(id string, fn func(task *Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.tasks[id])
}

func (s *Service) setState(id string, state State, message string) {
	s.update(id, func(task *Status) {
		task.State = state
		task.Message = message
	})
}

// finish moves the task to a terminal state and writes the durable run
// record. Reaching a terminal state is what releases the single-flight
// slot.
func (s *Service) finish(id string, runErr error) {
	now := time.Now()
	var record store.RunRecord

	s.update(id, func(task *Status) {
		task.FinishedAt = &now
		if runErr != nil {
			task.State = StateFailed
			task.Error = runErr.Error()
			task.Message = "sync failed"
		} else {
			task.State = StateCompleted
			if len(task.FailedCourses) > 0 {
				task.Message = fmt.Sprintf("completed; %d course(s) could not be scraped: %s",
					len(task.FailedCourses), strings.Join(task.FailedCourses, ", "))
			} else {
				task.Message = "sync completed"
			}
		}
		record = store.RunRecord{
			RanAt:               task.StartedAt,
			Status:              store.RunSuccess,
			CoursesScraped:      task.CoursesScraped,
			AssignmentsAdded:    task.Summary.New,
			AssignmentsModified: task.Summary.Modified,
		}
		if runErr != nil {
			record.Status = store.RunFailed
			record.Error = runErr.Error()
			record.CoursesScraped = 0
		} else if len(task.FailedCourses) > 0 {
			record.Error = "partial: " + strings.Join(task.FailedCourses, ", ")
		}
	})

	if err := s.store.AppendRunMetadata(record); err != nil {
		s.log.WithError(err).Error("could not record sync run")
	}
}

func (s *Service) run(id string) {
	// Nothing to authenticate with means the run fails here, before any
	// browser opens or any page is touched.
	if !s.authStore.Authenticated() && s.creds == nil {
		s.finish(id, auth.ErrNotAuthenticated)
		return
	}

	s.setState(id, StateCheckingSession, "restoring saved session")

	sess, err := s.openSession()
	if err != nil {
		s.finish(id, fmt.Errorf("open browser session: %w", err))
		return
	}
	defer func() { sess.Close() }()

	active, err := s.establish(id, sess)
	if err != nil {
		s.finish(id, err)
		return
	}
	if active != sess {
		// A parked interactive session replaces the fresh browser.
		sess.Close()
		sess = active
	}

	s.setState(id, StateScraping, "scraping courses")
	report, err := s.scrapeWithRecovery(id, sess)
	if err != nil {
		s.finish(id, err)
		return
	}
	if report.CoursesScraped == 0 {
		s.finish(id, fmt.Errorf("no course could be scraped"))
		return
	}

	s.setState(id, StateUpdatingDB, "finishing up")
	s.update(id, func(task *Status) {
		task.CoursesScraped = report.CoursesScraped
		task.FailedCourses = report.FailedCourses
	})

	// The session base rotates during long runs; save the freshest copy
	// so the next run restores cleanly.
	if snapshot, err := sess.Export(); err == nil && !snapshot.Empty() {
		if err := s.authStore.SetSnapshot(snapshot); err != nil {
			s.log.WithError(err).Warn("could not persist refreshed session")
		}
	}

	s.finish(id, nil)
}

// establish returns a logged-in session to scrape with: snapshot
// restore first, then a parked interactive session, then the silent
// probe, then (when credentials are configured) a headless login with
// its MFA wait.
func (s *Service) establish(id string, sess SyncSession) (SyncSession, error) {
	snapshot, err := s.authStore.Snapshot()
	if err == nil && sess.Restore(snapshot) {
		return sess, nil
	}
	if live := s.takeLiveSession(); live != nil {
		return live, nil
	}
	if sess.CheckAlreadyLoggedIn() {
		return sess, nil
	}
	if s.creds != nil {
		s.setState(id, StateWaitingForMFA, "waiting for multi-factor approval")
		if err := sess.Authenticate(s.creds.NetID, s.creds.Password); err != nil {
			return nil, fmt.Errorf("login: %w", err)
		}
		return sess, nil
	}
	if errors.Is(err, auth.ErrNotAuthenticated) {
		return nil, auth.ErrNotAuthenticated
	}
	return nil, fmt.Errorf("saved session is no longer valid; log in again")
}

// takeLiveSession claims the interactive session a browser login may
// have parked, discarding it when it has gone stale.
func (s *Service) takeLiveSession() SyncSession {
	live := s.authStore.TakeLiveSession()
	if live == nil {
		return nil
	}
	sess, ok := live.(SyncSession)
	if !ok || !sess.IsValid() {
		live.Close()
		return nil
	}
	return sess
}

// scrapeWithRecovery runs extraction, allowing one full recovery pass
// when the run dies in a session-expired way mid-flight.
func (s *Service) scrapeWithRecovery(id string, sess SyncSession) (scrape.Report, error) {
	// The recovery pass re-visits every course, so the set of courses
	// already reconciled is shared across both passes.
	reconciled := map[string]bool{}
	report, err := s.extract(sess, s.progressFunc(id), s.onCourseFunc(id, reconciled))
	if err == nil || !sessionExpiryShaped(err) {
		return report, err
	}

	s.log.WithError(err).Warn("extraction lost the session, attempting snapshot recovery")
	snapshot, snapErr := s.authStore.Snapshot()
	if snapErr != nil || !sess.Restore(snapshot) {
		return report, err
	}
	s.setState(id, StateScraping, "scraping courses (recovered session)")
	return s.extract(sess, s.progressFunc(id), s.onCourseFunc(id, reconciled))
}

func (s *Service) progressFunc(id string) scrape.Progress {
	return func(done, total int, courseName string) {
		s.update(id, func(task *Status) {
			task.CoursesTotal = total
			task.CoursesDone = done
			task.CurrentCourse = courseName
		})
	}
}

// onCourseFunc reconciles each course as it lands, once per course
// even across a recovery pass. Reconciliation does its own I/O, so it
// runs outside the task lock.
func (s *Service) onCourseFunc(id string, reconciled map[string]bool) func(scrape.CourseResult) {
	return func(result scrape.CourseResult) {
		if result.Err != nil || reconciled[result.Course.ID] {
			return
		}
		reconciled[result.Course.ID] = true
		summary := s.reconciler.Reconcile(result.Assignments)
		s.update(id, func(task *Status) {
			task.Summary.Add(summary)
		})
	}
}

func (s *Service) runExtractor(sess SyncSession, progress scrape.Progress, onCourse func(scrape.CourseResult)) (scrape.Report, error) {
	extractor, err := scrape.NewExtractor(scrape.Options{
		Session:       sess,
		StaticBaseURL: sess.StaticBaseURL(),
		Timezone:      s.tz,
		Logger:        s.log,
	})
	if err != nil {
		return scrape.Report{}, err
	}
	return extractor.ScrapeAllCourses(progress, onCourse)
}

func sessionExpiryShaped(err error) bool {
	return errors.Is(err, session.ErrSessionExpired) || errors.Is(err, session.ErrRefreshLimit)
}
